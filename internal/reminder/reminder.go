package reminder

import (
	"context"
	"expvar"
	"log"
	"sync"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/notify"
)

var firedTotal = expvar.NewInt("reminders_fired_total")

type Reports interface {
	GetReport(ctx context.Context, reportID string) (models.FoodReport, error)
}

type OpenReports interface {
	ListOpenWithExpiry(ctx context.Context) ([]models.FoodReport, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, intents []notify.Intent)
}

type Timer interface {
	Stop() bool
}

type Options struct {
	Lead      time.Duration
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

type entry struct {
	timer  Timer
	expiry time.Time
	gen    uint64
}

// Scheduler keeps one expiry timer per open report. A timer re-reads the
// report when it fires and stays silent unless the report is still new or
// assigned.
type Scheduler struct {
	reports   Reports
	notifier  Notifier
	lead      time.Duration
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Timer

	mu      sync.Mutex
	gen     uint64
	pending map[string]entry
	fired   map[string]time.Time
	stopped bool
}

func New(reports Reports, notifier Notifier, opts Options) *Scheduler {
	lead := opts.Lead
	if lead <= 0 {
		lead = notify.ExpiryLead
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Scheduler{
		reports:   reports,
		notifier:  notifier,
		lead:      lead,
		now:       now,
		afterFunc: afterFunc,
		pending:   make(map[string]entry),
		fired:     make(map[string]time.Time),
	}
}

// Load schedules every open report that carries an expiry time.
func (s *Scheduler) Load(ctx context.Context, src OpenReports) error {
	reports, err := src.ListOpenWithExpiry(ctx)
	if err != nil {
		return err
	}
	for _, report := range reports {
		s.Track(report)
	}
	log.Printf("reminders loaded count=%d pending=%d", len(reports), s.Pending())
	return nil
}

// Track schedules or reschedules the reminder for a report. Reports that
// left new/assigned, have no expiry or already expired are forgotten.
func (s *Scheduler) Track(report models.FoodReport) {
	if report.ExpiryTime == nil || (report.Status != models.StatusNew && report.Status != models.StatusAssigned) {
		s.Forget(report.ReportID)
		return
	}
	expiry := *report.ExpiryTime
	now := s.now()
	if !expiry.After(now) {
		s.Forget(report.ReportID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if at, ok := s.fired[report.ReportID]; ok && at.Equal(expiry) {
		return
	}
	if current, ok := s.pending[report.ReportID]; ok {
		if current.expiry.Equal(expiry) {
			return
		}
		current.timer.Stop()
	}
	delay := expiry.Add(-s.lead).Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	id := report.ReportID
	s.pending[id] = entry{
		timer:  s.afterFunc(delay, func() { s.fire(id, gen) }),
		expiry: expiry,
		gen:    gen,
	}
}

func (s *Scheduler) Forget(reportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.pending[reportID]; ok {
		current.timer.Stop()
		delete(s.pending, reportID)
	}
	delete(s.fired, reportID)
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, current := range s.pending {
		current.timer.Stop()
		delete(s.pending, id)
	}
	s.stopped = true
}

func (s *Scheduler) fire(reportID string, gen uint64) {
	s.mu.Lock()
	current, ok := s.pending[reportID]
	if !ok || current.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, reportID)
	s.fired[reportID] = current.expiry
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		log.Printf("reminder reload report_id=%s error=%v", reportID, err)
		return
	}
	if !notify.ExpiryDue(report, s.now(), s.lead) {
		log.Printf("reminder suppressed report_id=%s status=%s", reportID, report.Status)
		return
	}
	intents := notify.Dispatch(notify.Event{Kind: notify.ExpiryApproaching, Report: report})
	if len(intents) == 0 {
		return
	}
	firedTotal.Add(1)
	log.Printf("reminder fired report_id=%s status=%s", reportID, report.Status)
	s.notifier.Dispatch(ctx, intents)
}
