package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"foodbridge/internal/models"
)

// WithReadRetry wraps a store so idempotent reads are retried once on
// transient failures. Writes pass through untouched.
func WithReadRetry(inner Store, wait time.Duration) Store {
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	return &retryingStore{Store: inner, wait: wait}
}

type retryingStore struct {
	Store
	wait time.Duration
}

func retryRead[T any](ctx context.Context, s *retryingStore, op func() (T, error)) (T, error) {
	result, err := backoff.Retry(ctx, func() (T, error) {
		value, err := op()
		if err != nil && !transient(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(s.wait)), backoff.WithMaxTries(2))
	if err != nil && transient(err) {
		return result, fmt.Errorf("%w: %v", ErrRemoteService, err)
	}
	return result, err
}

func transient(err error) bool {
	switch {
	case errors.Is(err, ErrReportNotFound),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrRemoteService),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func (s *retryingStore) GetReport(ctx context.Context, reportID string) (models.FoodReport, error) {
	return retryRead(ctx, s, func() (models.FoodReport, error) { return s.Store.GetReport(ctx, reportID) })
}

func (s *retryingStore) ListReports(ctx context.Context, filter ReportFilter) ([]models.FoodReport, error) {
	return retryRead(ctx, s, func() ([]models.FoodReport, error) { return s.Store.ListReports(ctx, filter) })
}

func (s *retryingStore) ListOpenWithExpiry(ctx context.Context) ([]models.FoodReport, error) {
	return retryRead(ctx, s, func() ([]models.FoodReport, error) { return s.Store.ListOpenWithExpiry(ctx) })
}

func (s *retryingStore) GetRole(ctx context.Context, identityID string) (models.Role, error) {
	return retryRead(ctx, s, func() (models.Role, error) { return s.Store.GetRole(ctx, identityID) })
}

func (s *retryingStore) GetHotel(ctx context.Context, hotelID string) (models.HotelProfile, error) {
	return retryRead(ctx, s, func() (models.HotelProfile, error) { return s.Store.GetHotel(ctx, hotelID) })
}

func (s *retryingStore) GetHotelByIdentity(ctx context.Context, identityID string) (models.HotelProfile, error) {
	return retryRead(ctx, s, func() (models.HotelProfile, error) { return s.Store.GetHotelByIdentity(ctx, identityID) })
}

func (s *retryingStore) GetAgent(ctx context.Context, agentID string) (models.AgentProfile, error) {
	return retryRead(ctx, s, func() (models.AgentProfile, error) { return s.Store.GetAgent(ctx, agentID) })
}

func (s *retryingStore) GetAgentByIdentity(ctx context.Context, identityID string) (models.AgentProfile, error) {
	return retryRead(ctx, s, func() (models.AgentProfile, error) { return s.Store.GetAgentByIdentity(ctx, identityID) })
}

func (s *retryingStore) ListActiveAgents(ctx context.Context, area string) ([]models.AgentProfile, error) {
	return retryRead(ctx, s, func() ([]models.AgentProfile, error) { return s.Store.ListActiveAgents(ctx, area) })
}

func (s *retryingStore) ListBeneficiaries(ctx context.Context) ([]models.Beneficiary, error) {
	return retryRead(ctx, s, func() ([]models.Beneficiary, error) { return s.Store.ListBeneficiaries(ctx) })
}

func (s *retryingStore) ListSubscriptions(ctx context.Context, identityIDs []string) ([]models.PushSubscription, error) {
	return retryRead(ctx, s, func() ([]models.PushSubscription, error) { return s.Store.ListSubscriptions(ctx, identityIDs) })
}

func (s *retryingStore) ListChangeEvents(ctx context.Context, after FeedOffset, limit int) ([]ChangeEvent, error) {
	return retryRead(ctx, s, func() ([]ChangeEvent, error) { return s.Store.ListChangeEvents(ctx, after, limit) })
}

func (s *retryingStore) GetOffset(ctx context.Context, consumer string) (FeedOffset, error) {
	return retryRead(ctx, s, func() (FeedOffset, error) { return s.Store.GetOffset(ctx, consumer) })
}
