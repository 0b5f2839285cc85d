package router

import (
	"context"
	"slices"
	"testing"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/notify"
	"foodbridge/internal/store"
)

type recordingNotifier struct {
	intents []notify.Intent
}

func (n *recordingNotifier) Dispatch(ctx context.Context, intents []notify.Intent) {
	n.intents = append(n.intents, intents...)
}

type recordingReminders struct {
	tracked   []string
	forgotten []string
}

func (r *recordingReminders) Track(report models.FoodReport) {
	r.tracked = append(r.tracked, report.ReportID)
}

func (r *recordingReminders) Forget(reportID string) {
	r.forgotten = append(r.forgotten, reportID)
}

type recordingBroadcaster struct {
	events []store.ChangeEvent
}

func (b *recordingBroadcaster) Broadcast(event store.ChangeEvent) {
	b.events = append(b.events, event)
}

func claimEvent(id string) store.ChangeEvent {
	agent := "a1"
	expiry := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	return store.ChangeEvent{
		EventID:    id,
		Type:       store.EventReportUpdated,
		ReportID:   "r1",
		HotelID:    "h1",
		AgentID:    agent,
		FromStatus: models.StatusNew,
		ToStatus:   models.StatusAssigned,
		ActorRole:  models.RoleAgent,
		Report: models.FoodReport{
			ReportID:        "r1",
			HotelID:         "h1",
			AssignedAgentID: &agent,
			FoodName:        "Dal",
			Quantity:        10,
			Status:          models.StatusAssigned,
			ExpiryTime:      &expiry,
		},
	}
}

func TestDuplicateTransitionYieldsIntentsOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	r := New(Options{Notifier: notifier, Broadcaster: broadcaster})

	events := []store.ChangeEvent{claimEvent("e1"), claimEvent("e2")}
	if err := r.Run(context.Background(), slices.Values(events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(notifier.intents) != 2 {
		t.Fatalf("expected hotel and agent intents once, got %d", len(notifier.intents))
	}
	if notifier.intents[0].Recipient != notify.HotelRecipient("h1") || notifier.intents[1].Recipient != notify.AgentRecipient("a1") {
		t.Fatalf("unexpected recipients %+v", notifier.intents)
	}
	if len(broadcaster.events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(broadcaster.events))
	}
}

func TestRouterUpdatesReminders(t *testing.T) {
	reminders := &recordingReminders{}
	r := New(Options{Reminders: reminders})

	claimed := claimEvent("e1")
	picked := claimEvent("e2")
	picked.FromStatus = models.StatusAssigned
	picked.ToStatus = models.StatusPicked
	picked.Report.Status = models.StatusPicked

	r.Handle(context.Background(), claimed)
	r.Handle(context.Background(), picked)

	if !slices.Equal(reminders.tracked, []string{"r1"}) {
		t.Fatalf("expected r1 tracked once, got %v", reminders.tracked)
	}
	if !slices.Equal(reminders.forgotten, []string{"r1"}) {
		t.Fatalf("expected r1 forgotten after pickup, got %v", reminders.forgotten)
	}
}

func TestEventFor(t *testing.T) {
	created := store.ChangeEvent{Type: store.EventReportCreated, ReportID: "r1", ToStatus: models.StatusNew}
	ev, ok := EventFor(created)
	if !ok || ev.Kind != notify.ReportCreated {
		t.Fatalf("expected created event, got %+v", ev)
	}

	cancelled := store.ChangeEvent{
		Type:        store.EventReportUpdated,
		FromStatus:  models.StatusAssigned,
		ToStatus:    models.StatusCancelled,
		PrevAgentID: "a1",
		ActorRole:   models.RoleHotel,
	}
	ev, ok = EventFor(cancelled)
	if !ok || ev.Kind != notify.TransitionOccurred || ev.Initiator != models.RoleHotel || ev.PrevAgentID != "a1" {
		t.Fatalf("unexpected transition event %+v", ev)
	}

	if _, ok := EventFor(store.ChangeEvent{Type: store.EventReportUpdated, FromStatus: "new", ToStatus: "new"}); ok {
		t.Fatalf("status-preserving update must not produce an event")
	}
}

func TestMemoryDeduperWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if seen, _ := d.Seen(ctx, "r1:new->assigned"); seen {
		t.Fatalf("first sighting must not be a duplicate")
	}
	now = now.Add(30 * time.Second)
	if seen, _ := d.Seen(ctx, "r1:new->assigned"); !seen {
		t.Fatalf("second sighting inside window must be a duplicate")
	}
	now = now.Add(2 * time.Minute)
	if seen, _ := d.Seen(ctx, "r1:new->assigned"); seen {
		t.Fatalf("sighting after window must not be a duplicate")
	}
	if d.Len() != 1 {
		t.Fatalf("expected stale keys pruned, got %d", d.Len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(Options{})
	if err := r.Run(ctx, slices.Values([]store.ChangeEvent{claimEvent("e1")})); err == nil {
		t.Fatalf("expected context error")
	}
}
