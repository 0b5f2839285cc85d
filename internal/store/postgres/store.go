package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const zeroUUID = "00000000-0000-0000-0000-000000000000"

const reportColumns = `
	r.report_id, r.hotel_id, h.area, r.assigned_agent_id, r.food_type, r.food_name, r.quantity,
	r.description, r.pickup_time, r.expiry_time, r.status, r.created_at, r.updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateReport(ctx context.Context, input store.CreateReportInput) (models.FoodReport, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.FoodReport{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	reportID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO food_reports (
			report_id, hotel_id, food_type, food_name, quantity, description,
			pickup_time, expiry_time, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, reportID, input.HotelID, input.FoodType, input.FoodName, input.Quantity, input.Description,
		input.PickupTime, input.ExpiryTime, models.StatusNew, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			err = store.ErrProfileNotFound
		}
		return models.FoodReport{}, err
	}

	var report models.FoodReport
	report, err = getReport(ctx, tx, reportID)
	if err != nil {
		return models.FoodReport{}, err
	}
	event := store.NewChangeEvent(uuid.NewString(), store.EventReportCreated, nil, report, input.ActorID, models.RoleHotel, createdAt)
	if err = insertOutboxEvent(ctx, tx, event); err != nil {
		return models.FoodReport{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.FoodReport{}, err
	}
	return report, nil
}

func (s *Store) GetReport(ctx context.Context, reportID string) (models.FoodReport, error) {
	if _, err := uuid.Parse(reportID); err != nil {
		return models.FoodReport{}, store.ErrReportNotFound
	}
	return getReport(ctx, s.pool, reportID)
}

func (s *Store) ListReports(ctx context.Context, filter store.ReportFilter) ([]models.FoodReport, error) {
	query := `SELECT ` + reportColumns + `
		FROM food_reports r
		JOIN hotels h ON h.hotel_id = r.hotel_id
		WHERE 1=1`
	var args []any
	if filter.HotelID != "" {
		args = append(args, filter.HotelID)
		query += fmt.Sprintf(" AND r.hotel_id = $%d", len(args))
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += fmt.Sprintf(" AND (r.status = 'new' OR r.assigned_agent_id = $%d)", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	query += " ORDER BY r.created_at DESC, r.report_id"
	return s.queryReports(ctx, query, args...)
}

// ConditionalUpdate locks the row, compares the status and applies the change
// together with its outbox event. A status mismatch is reported as not
// applied with the current row.
func (s *Store) ConditionalUpdate(ctx context.Context, reportID, expectedStatus string, change store.ReportChange) (models.FoodReport, bool, error) {
	if _, err := uuid.Parse(reportID); err != nil {
		return models.FoodReport{}, false, store.ErrReportNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.FoodReport{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx, `SELECT status FROM food_reports WHERE report_id = $1 FOR UPDATE`, reportID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrReportNotFound
		}
		return models.FoodReport{}, false, err
	}

	var before models.FoodReport
	before, err = getReport(ctx, tx, reportID)
	if err != nil {
		return models.FoodReport{}, false, err
	}
	if locked != expectedStatus {
		if err = tx.Commit(ctx); err != nil {
			return models.FoodReport{}, false, err
		}
		return before, false, nil
	}

	occurredAt := change.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	query := `UPDATE food_reports SET status = $1, updated_at = $2`
	args := []any{change.ToStatus, occurredAt}
	switch {
	case change.AssignAgent != "":
		args = append(args, change.AssignAgent)
		query += fmt.Sprintf(", assigned_agent_id = $%d", len(args))
	case change.ClearAgent:
		query += ", assigned_agent_id = NULL"
	}
	args = append(args, reportID, expectedStatus)
	query += fmt.Sprintf(" WHERE report_id = $%d AND status = $%d", len(args)-1, len(args))

	var tag pgconn.CommandTag
	tag, err = tx.Exec(ctx, query, args...)
	if err != nil {
		return models.FoodReport{}, false, err
	}
	if tag.RowsAffected() == 0 {
		if err = tx.Commit(ctx); err != nil {
			return models.FoodReport{}, false, err
		}
		return before, false, nil
	}

	if change.CreditHotel {
		_, err = tx.Exec(ctx, `
			UPDATE hotels SET total_food_saved = total_food_saved + $1, updated_at = $2
			WHERE hotel_id = $3
		`, before.Quantity, occurredAt, before.HotelID)
		if err != nil {
			return models.FoodReport{}, false, err
		}
	}

	var after models.FoodReport
	after, err = getReport(ctx, tx, reportID)
	if err != nil {
		return models.FoodReport{}, false, err
	}
	event := store.NewChangeEvent(uuid.NewString(), store.EventReportUpdated, &before, after, change.ActorID, change.ActorRole, occurredAt)
	if err = insertOutboxEvent(ctx, tx, event); err != nil {
		return models.FoodReport{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.FoodReport{}, false, err
	}
	return after, true, nil
}

func (s *Store) ListOpenWithExpiry(ctx context.Context) ([]models.FoodReport, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+`
		FROM food_reports r
		JOIN hotels h ON h.hotel_id = r.hotel_id
		WHERE r.status IN ('new', 'assigned') AND r.expiry_time IS NOT NULL
		ORDER BY r.expiry_time ASC`)
}

func (s *Store) ClearReports(ctx context.Context, statuses []string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM food_reports WHERE status = ANY($1) AND updated_at < $2
	`, statuses, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]models.FoodReport, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.FoodReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func getReport(ctx context.Context, q queryer, reportID string) (models.FoodReport, error) {
	row := q.QueryRow(ctx, `SELECT `+reportColumns+`
		FROM food_reports r
		JOIN hotels h ON h.hotel_id = r.hotel_id
		WHERE r.report_id = $1`, reportID)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FoodReport{}, store.ErrReportNotFound
		}
		return models.FoodReport{}, err
	}
	return report, nil
}

func scanReport(row scanner) (models.FoodReport, error) {
	var report models.FoodReport
	var agentID sql.NullString
	var expiry sql.NullTime
	if err := row.Scan(&report.ReportID, &report.HotelID, &report.HotelArea, &agentID, &report.FoodType, &report.FoodName,
		&report.Quantity, &report.Description, &report.PickupTime, &expiry, &report.Status, &report.CreatedAt, &report.UpdatedAt); err != nil {
		return models.FoodReport{}, err
	}
	report.AssignedAgentID = nullStringPtr(agentID)
	report.ExpiryTime = nullTimePtr(expiry)
	return report, nil
}

// outboxLockKey serializes outbox writers until commit.
const outboxLockKey int64 = 0x666f6f64 // "food"

// insertOutboxEvent must be the last statement before commit. The stamp is
// taken under a transaction-scoped lock, so outbox rows become visible in
// created_at order and the feed offset never skips a late commit.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event store.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLockKey); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, report_id, hotel_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
	`, event.EventID, event.Type, event.ReportID, event.HotelID, payload)
	return err
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
