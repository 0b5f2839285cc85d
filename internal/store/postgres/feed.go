package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO push_subscriptions (subscription_id, identity_id, role, endpoint, p256dh, auth)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (identity_id, endpoint) DO UPDATE SET
			role = EXCLUDED.role,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth
		RETURNING subscription_id, created_at
	`, uuid.NewString(), sub.IdentityID, string(sub.Role), sub.Endpoint, sub.P256dh, sub.Auth).Scan(&sub.SubscriptionID, &sub.CreatedAt)
	if err != nil {
		return models.PushSubscription{}, err
	}
	return sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, identityID, endpoint string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM push_subscriptions WHERE identity_id = $1 AND endpoint = $2
	`, identityID, endpoint)
	return err
}

func (s *Store) ListSubscriptions(ctx context.Context, identityIDs []string) ([]models.PushSubscription, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT subscription_id, identity_id, role, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE identity_id = ANY($1)
		ORDER BY subscription_id
	`, identityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		var role string
		if err := rows.Scan(&sub.SubscriptionID, &sub.IdentityID, &role, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Role = models.Role(role)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) ListChangeEvents(ctx context.Context, after store.FeedOffset, limit int) ([]store.ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if after.LastEventTime.IsZero() {
		after.LastEventTime = time.Unix(0, 0).UTC()
	}
	if after.LastEventID == "" {
		after.LastEventID = zeroUUID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ChangeEvent
	for rows.Next() {
		var eventID string
		var payload []byte
		var createdAt time.Time
		if err := rows.Scan(&eventID, &payload, &createdAt); err != nil {
			return nil, err
		}
		var event store.ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		event.EventID = eventID
		event.CreatedAt = createdAt
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.FeedOffset, error) {
	var offset store.FeedOffset
	err := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id FROM feed_offsets WHERE consumer = $1
	`, consumer).Scan(&offset.LastEventTime, &offset.LastEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.FeedOffset{}, nil
		}
		return store.FeedOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.FeedOffset) error {
	if offset.LastEventID == "" {
		offset.LastEventID = zeroUUID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_offsets (consumer, last_event_time, last_event_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (consumer) DO UPDATE SET
			last_event_time = EXCLUDED.last_event_time,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = EXCLUDED.updated_at
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return err
}
