package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"foodbridge/internal/models"
)

type flakyStore struct {
	Store
	calls  int
	errs   []error
	report models.FoodReport
}

func (s *flakyStore) GetReport(ctx context.Context, reportID string) (models.FoodReport, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return models.FoodReport{}, err
	}
	return s.report, nil
}

func (s *flakyStore) ConditionalUpdate(ctx context.Context, reportID, expectedStatus string, change ReportChange) (models.FoodReport, bool, error) {
	s.calls++
	return models.FoodReport{}, false, errors.New("connection reset")
}

func TestReadRetryRecoversFromOneTransientFailure(t *testing.T) {
	inner := &flakyStore{errs: []error{errors.New("connection reset")}, report: models.FoodReport{ReportID: "r1"}}
	st := WithReadRetry(inner, time.Millisecond)

	report, err := st.GetReport(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetReport error: %v", err)
	}
	if report.ReportID != "r1" || inner.calls != 2 {
		t.Fatalf("unexpected result report=%s calls=%d", report.ReportID, inner.calls)
	}
}

func TestReadRetryGivesUpAfterSecondFailure(t *testing.T) {
	inner := &flakyStore{errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	st := WithReadRetry(inner, time.Millisecond)

	_, err := st.GetReport(context.Background(), "r1")
	if !errors.Is(err, ErrRemoteService) {
		t.Fatalf("expected ErrRemoteService, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", inner.calls)
	}
}

func TestReadRetrySkipsDomainErrors(t *testing.T) {
	inner := &flakyStore{errs: []error{ErrReportNotFound}}
	st := WithReadRetry(inner, time.Millisecond)

	_, err := st.GetReport(context.Background(), "missing")
	if !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected no retry, got %d calls", inner.calls)
	}
}

func TestMutationsAreNotRetried(t *testing.T) {
	inner := &flakyStore{}
	st := WithReadRetry(inner, time.Millisecond)

	if _, _, err := st.ConditionalUpdate(context.Background(), "r1", models.StatusNew, ReportChange{}); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", inner.calls)
	}
}
