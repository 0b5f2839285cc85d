package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

func seedHotel(t *testing.T, st *Store) models.HotelProfile {
	t.Helper()
	ctx := context.Background()
	if err := st.SetRole(ctx, "hotel-identity", models.RoleHotel); err != nil {
		t.Fatalf("set role: %v", err)
	}
	hotel, err := st.SaveHotel(ctx, models.HotelProfile{IdentityID: "hotel-identity", Name: "Taj", Area: "Colaba"})
	if err != nil {
		t.Fatalf("save hotel: %v", err)
	}
	return hotel
}

func createReport(t *testing.T, st *Store, hotelID string, quantity int) models.FoodReport {
	t.Helper()
	report, err := st.CreateReport(context.Background(), store.CreateReportInput{
		HotelID:    hotelID,
		FoodType:   models.FoodVeg,
		FoodName:   "Rice",
		Quantity:   quantity,
		PickupTime: time.Now().Add(time.Hour),
		ActorID:    "hotel-identity",
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return report
}

func TestConditionalUpdateAppliesOnlyOnExpectedStatus(t *testing.T) {
	st := New(Options{})
	hotel := seedHotel(t, st)
	report := createReport(t, st, hotel.HotelID, 10)
	ctx := context.Background()

	updated, applied, err := st.ConditionalUpdate(ctx, report.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-1"})
	if err != nil || !applied {
		t.Fatalf("expected applied update, applied=%v err=%v", applied, err)
	}
	if updated.AgentID() != "agent-1" || updated.HotelArea != "Colaba" {
		t.Fatalf("unexpected report %+v", updated)
	}

	current, applied, err := st.ConditionalUpdate(ctx, report.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatalf("expected not applied")
	}
	if current.AgentID() != "agent-1" {
		t.Fatalf("losing update must not mutate, got agent %s", current.AgentID())
	}

	if _, _, err := st.ConditionalUpdate(ctx, "missing", models.StatusNew, store.ReportChange{}); !errors.Is(err, store.ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	st := New(Options{})
	hotel := seedHotel(t, st)
	report := createReport(t, st, hotel.HotelID, 5)

	agents := []string{"agent-a", "agent-b", "agent-c", "agent-d"}
	results := make(chan bool, len(agents))
	var wg sync.WaitGroup
	for _, agentID := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			_, applied, err := st.ConditionalUpdate(context.Background(), report.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: agentID})
			if err != nil {
				t.Errorf("claim error: %v", err)
			}
			results <- applied
		}(agentID)
	}
	wg.Wait()
	close(results)

	winners := 0
	for applied := range results {
		if applied {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestDeliverCreditsHotelAndCancelClearsAgent(t *testing.T) {
	st := New(Options{})
	hotel := seedHotel(t, st)
	ctx := context.Background()

	delivered := createReport(t, st, hotel.HotelID, 12)
	steps := []struct {
		from   string
		change store.ReportChange
	}{
		{models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-1"}},
		{models.StatusAssigned, store.ReportChange{ToStatus: models.StatusPicked}},
		{models.StatusPicked, store.ReportChange{ToStatus: models.StatusDelivered, CreditHotel: true}},
	}
	for _, step := range steps {
		if _, applied, err := st.ConditionalUpdate(ctx, delivered.ReportID, step.from, step.change); err != nil || !applied {
			t.Fatalf("step %s->%s failed applied=%v err=%v", step.from, step.change.ToStatus, applied, err)
		}
	}
	saved, err := st.GetHotel(ctx, hotel.HotelID)
	if err != nil {
		t.Fatalf("get hotel: %v", err)
	}
	if saved.TotalFoodSaved != 12 {
		t.Fatalf("expected total_food_saved=12, got %d", saved.TotalFoodSaved)
	}

	cancelled := createReport(t, st, hotel.HotelID, 3)
	if _, _, err := st.ConditionalUpdate(ctx, cancelled.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-2"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	after, applied, err := st.ConditionalUpdate(ctx, cancelled.ReportID, models.StatusAssigned, store.ReportChange{ToStatus: models.StatusCancelled, ClearAgent: true})
	if err != nil || !applied {
		t.Fatalf("cancel failed applied=%v err=%v", applied, err)
	}
	if after.AssignedAgentID != nil {
		t.Fatalf("expected cleared agent")
	}
}

func TestChangeEventsFollowOffsets(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := New(Options{Now: func() time.Time { return fixed }})
	hotel := seedHotel(t, st)
	ctx := context.Background()

	report := createReport(t, st, hotel.HotelID, 4)
	if _, _, err := st.ConditionalUpdate(ctx, report.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, _, err := st.ConditionalUpdate(ctx, report.ReportID, models.StatusAssigned, store.ReportChange{ToStatus: models.StatusCancelled, ClearAgent: true}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	events, err := st.ListChangeEvents(ctx, store.FeedOffset{}, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Type != store.EventReportCreated {
		t.Fatalf("unexpected first page %+v", events)
	}
	rest, err := st.ListChangeEvents(ctx, store.OffsetOf(events[1]), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected one remaining event, got %d", len(rest))
	}
	last := rest[0]
	if last.TransitionKey() != "assigned->cancelled" || last.PrevAgentID != "agent-1" || last.AgentID != "" {
		t.Fatalf("unexpected cancel event %+v", last)
	}
}

func TestListReportsScopesAgents(t *testing.T) {
	st := New(Options{})
	hotel := seedHotel(t, st)
	ctx := context.Background()

	open := createReport(t, st, hotel.HotelID, 1)
	mine := createReport(t, st, hotel.HotelID, 2)
	theirs := createReport(t, st, hotel.HotelID, 3)
	st.ConditionalUpdate(ctx, mine.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-1"})
	st.ConditionalUpdate(ctx, theirs.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusAssigned, AssignAgent: "agent-2"})

	reports, err := st.ListReports(ctx, store.ReportFilter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range reports {
		seen[r.ReportID] = true
	}
	if !seen[open.ReportID] || !seen[mine.ReportID] || seen[theirs.ReportID] {
		t.Fatalf("unexpected agent scope %v", seen)
	}
}

func TestSetRoleIsImmutable(t *testing.T) {
	st := New(Options{})
	ctx := context.Background()
	if err := st.SetRole(ctx, "id-1", models.RoleAgent); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := st.SetRole(ctx, "id-1", models.RoleAgent); err != nil {
		t.Fatalf("same role should be accepted: %v", err)
	}
	if err := st.SetRole(ctx, "id-1", models.RoleHotel); !errors.Is(err, store.ErrRoleAlreadySet) {
		t.Fatalf("expected ErrRoleAlreadySet, got %v", err)
	}
}

func TestClearReportsRemovesOnlyOldTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := New(Options{Now: func() time.Time { return now }})
	hotel := seedHotel(t, st)
	ctx := context.Background()

	done := createReport(t, st, hotel.HotelID, 1)
	st.ConditionalUpdate(ctx, done.ReportID, models.StatusNew, store.ReportChange{ToStatus: models.StatusCancelled, ClearAgent: true})
	createReport(t, st, hotel.HotelID, 1)

	removed, err := st.ClearReports(ctx, []string{models.StatusDelivered, models.StatusCancelled}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := st.GetReport(ctx, done.ReportID); !errors.Is(err, store.ErrReportNotFound) {
		t.Fatalf("expected cleared report to be gone, got %v", err)
	}
}
