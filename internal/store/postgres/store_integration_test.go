package postgres

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	hotel := seedHotel(t, ctx, st)
	agents := []models.AgentProfile{seedAgent(t, ctx, st, "Colaba"), seedAgent(t, ctx, st, "Colaba")}
	report := createReport(t, ctx, st, hotel.HotelID, 8)

	var wg sync.WaitGroup
	results := make([]callResult, len(agents))
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			_, applied, err := st.ConditionalUpdate(ctx, report.ReportID, models.StatusNew, store.ReportChange{
				ToStatus:    models.StatusAssigned,
				AssignAgent: agentID,
				ActorID:     agentID,
				ActorRole:   models.RoleAgent,
			})
			results[i] = callResult{agentID: agentID, applied: applied, err: err}
		}(i, agent.AgentID)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res.err != nil {
			t.Fatalf("claim error for %s: %v", res.agentID, res.err)
		}
		if res.applied {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = 'report.updated'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 report.updated event, got %d", count)
	}
}

func TestDeliveryCreditsHotelInSameWrite(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	hotel := seedHotel(t, ctx, st)
	agent := seedAgent(t, ctx, st, "Colaba")
	report := createReport(t, ctx, st, hotel.HotelID, 15)

	steps := []struct {
		from   string
		change store.ReportChange
	}{
		{models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: agent.AgentID}},
		{models.StatusAssigned, store.ReportChange{ToStatus: models.StatusPicked}},
		{models.StatusPicked, store.ReportChange{ToStatus: models.StatusDelivered, CreditHotel: true}},
	}
	for _, step := range steps {
		if _, applied, err := st.ConditionalUpdate(ctx, report.ReportID, step.from, step.change); err != nil || !applied {
			t.Fatalf("%s->%s applied=%v err=%v", step.from, step.change.ToStatus, applied, err)
		}
	}

	saved, err := st.GetHotel(ctx, hotel.HotelID)
	if err != nil {
		t.Fatalf("get hotel: %v", err)
	}
	if saved.TotalFoodSaved != 15 {
		t.Fatalf("expected total_food_saved=15, got %d", saved.TotalFoodSaved)
	}

	events, err := st.ListChangeEvents(ctx, store.FeedOffset{}, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[3].TransitionKey() != "picked->delivered" || events[3].Report.AgentID() != agent.AgentID {
		t.Fatalf("unexpected last event %+v", events[3])
	}

	if err := st.UpdateOffset(ctx, "router", store.OffsetOf(events[1])); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	offset, err := st.GetOffset(ctx, "router")
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	rest, err := st.ListChangeEvents(ctx, offset, 10)
	if err != nil {
		t.Fatalf("list after offset: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 events after offset, got %d", len(rest))
	}
}

func TestConditionalUpdateMissingReport(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	_, _, err := st.ConditionalUpdate(ctx, uuid.NewString(), models.StatusNew, store.ReportChange{ToStatus: models.StatusCancelled, ClearAgent: true})
	if !errors.Is(err, store.ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestOutboxVisibleInStampOrder(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	hotel := seedHotel(t, ctx, st)
	first := createReport(t, ctx, st, hotel.HotelID, 1)
	second := createReport(t, ctx, st, hotel.HotelID, 2)
	seeded, err := st.ListChangeEvents(ctx, store.FeedOffset{}, 10)
	if err != nil || len(seeded) != 2 {
		t.Fatalf("seed events: %d err=%v", len(seeded), err)
	}
	offset := store.FeedOffset{LastEventTime: seeded[1].CreatedAt, LastEventID: seeded[1].EventID}

	// The early event carries the earlier application time but commits last.
	t0 := time.Now().UTC()
	early := store.NewChangeEvent(uuid.NewString(), store.EventReportUpdated, &first, first, "actor", models.RoleHotel, t0.Add(time.Millisecond))
	late := store.NewChangeEvent(uuid.NewString(), store.EventReportUpdated, &second, second, "actor", models.RoleHotel, t0.Add(2*time.Millisecond))

	txEarly, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer txEarly.Rollback(ctx)
	txLate, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer txLate.Rollback(ctx)

	if err := insertOutboxEvent(ctx, txLate, late); err != nil {
		t.Fatalf("insert late: %v", err)
	}
	inserted := make(chan error, 1)
	go func() { inserted <- insertOutboxEvent(ctx, txEarly, early) }()
	select {
	case err := <-inserted:
		t.Fatalf("second writer must wait for the first commit, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := txLate.Commit(ctx); err != nil {
		t.Fatalf("commit late: %v", err)
	}
	seen, err := st.ListChangeEvents(ctx, offset, 10)
	if err != nil || len(seen) != 1 || seen[0].EventID != late.EventID {
		t.Fatalf("expected only the committed event, got %+v err=%v", seen, err)
	}
	offset = store.FeedOffset{LastEventTime: seen[0].CreatedAt, LastEventID: seen[0].EventID}

	if err := <-inserted; err != nil {
		t.Fatalf("insert early: %v", err)
	}
	if err := txEarly.Commit(ctx); err != nil {
		t.Fatalf("commit early: %v", err)
	}
	rest, err := st.ListChangeEvents(ctx, offset, 10)
	if err != nil || len(rest) != 1 || rest[0].EventID != early.EventID {
		t.Fatalf("event committed after the offset moved must still be delivered, got %+v err=%v", rest, err)
	}
}

type callResult struct {
	agentID string
	applied bool
	err     error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	scoped, err := withSearchPath(dsn, schema)
	if err != nil {
		t.Fatalf("scope dsn: %v", err)
	}
	if err := Migrate(scoped); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	pool, err := pgxpool.New(ctx, scoped)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func seedHotel(t *testing.T, ctx context.Context, st *Store) models.HotelProfile {
	t.Helper()
	identityID := uuid.NewString()
	if err := st.SetRole(ctx, identityID, models.RoleHotel); err != nil {
		t.Fatalf("set role: %v", err)
	}
	hotel, err := st.SaveHotel(ctx, models.HotelProfile{IdentityID: identityID, Name: "Hotel", Phone: "9000000000", Area: "Colaba", City: "Mumbai"})
	if err != nil {
		t.Fatalf("save hotel: %v", err)
	}
	return hotel
}

func seedAgent(t *testing.T, ctx context.Context, st *Store, area string) models.AgentProfile {
	t.Helper()
	identityID := uuid.NewString()
	if err := st.SetRole(ctx, identityID, models.RoleAgent); err != nil {
		t.Fatalf("set role: %v", err)
	}
	agent, err := st.SaveAgent(ctx, models.AgentProfile{IdentityID: identityID, Name: "Agent", Phone: "9000000001", Area: area})
	if err != nil {
		t.Fatalf("save agent: %v", err)
	}
	return agent
}

func createReport(t *testing.T, ctx context.Context, st *Store, hotelID string, quantity int) models.FoodReport {
	t.Helper()
	report, err := st.CreateReport(ctx, store.CreateReportInput{
		HotelID:    hotelID,
		FoodType:   models.FoodVeg,
		FoodName:   "Dal",
		Quantity:   quantity,
		PickupTime: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return report
}
