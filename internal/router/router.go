package router

import (
	"context"
	"expvar"
	"iter"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"foodbridge/internal/feed"
	"foodbridge/internal/models"
	"foodbridge/internal/notify"
	"foodbridge/internal/store"
	"foodbridge/internal/telemetry"
)

var (
	eventsTotal     = expvar.NewInt("router_events_total")
	duplicatesTotal = expvar.NewInt("router_duplicates_total")
)

const DefaultDedupWindow = 10 * time.Minute

type Notifier interface {
	Dispatch(ctx context.Context, intents []notify.Intent)
}

type Reminders interface {
	Track(report models.FoodReport)
	Forget(reportID string)
}

type Broadcaster interface {
	Broadcast(event store.ChangeEvent)
}

type Options struct {
	Dedup       Deduper
	Notifier    Notifier
	Reminders   Reminders
	Broadcaster Broadcaster
}

// Router turns change events into client broadcasts, notification intents
// and reminder updates. Each (report, transition) pair is handled once per
// dedup window.
type Router struct {
	dedup       Deduper
	notifier    Notifier
	reminders   Reminders
	broadcaster Broadcaster
	tracer      trace.Tracer
}

func New(opts Options) *Router {
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewMemoryDeduper(DefaultDedupWindow)
	}
	return &Router{
		dedup:       dedup,
		notifier:    opts.Notifier,
		reminders:   opts.Reminders,
		broadcaster: opts.Broadcaster,
		tracer:      telemetry.Tracer("router"),
	}
}

// Run handles events until the sequence ends or ctx is done.
func (r *Router) Run(ctx context.Context, events iter.Seq[feed.ChangeEvent]) error {
	for event := range events {
		r.Handle(ctx, event)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// Handle routes one event. It reports whether the event was acted on, false
// for duplicates.
func (r *Router) Handle(ctx context.Context, event store.ChangeEvent) bool {
	ctx, span := r.tracer.Start(ctx, "router.handle", trace.WithAttributes(
		attribute.String("report.id", event.ReportID),
		attribute.String("report.transition", event.TransitionKey()),
	))
	defer span.End()
	eventsTotal.Add(1)

	key := DedupKey(event)
	seen, err := r.dedup.Seen(ctx, key)
	if err != nil {
		log.Printf("router dedup error key=%s error=%v", key, err)
	}
	if seen {
		duplicatesTotal.Add(1)
		span.SetAttributes(attribute.Bool("router.duplicate", true))
		log.Printf("router duplicate event_id=%s key=%s", event.EventID, key)
		return false
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(event)
	}
	if nev, ok := EventFor(event); ok && r.notifier != nil {
		if intents := notify.Dispatch(nev); len(intents) > 0 {
			r.notifier.Dispatch(ctx, intents)
		}
	}
	if r.reminders != nil {
		if event.Report.ExpiryTime != nil && (event.ToStatus == models.StatusNew || event.ToStatus == models.StatusAssigned) {
			r.reminders.Track(event.Report)
		} else {
			r.reminders.Forget(event.ReportID)
		}
	}
	return true
}

func DedupKey(event store.ChangeEvent) string {
	return event.ReportID + ":" + event.TransitionKey()
}

// EventFor derives the domain event a change event represents.
func EventFor(event store.ChangeEvent) (notify.Event, bool) {
	if event.Type == store.EventReportCreated {
		return notify.Event{Kind: notify.ReportCreated, Report: event.Report}, true
	}
	if event.FromStatus == "" || event.FromStatus == event.ToStatus {
		return notify.Event{}, false
	}
	return notify.Event{
		Kind:        notify.TransitionOccurred,
		Report:      event.Report,
		From:        event.FromStatus,
		To:          event.ToStatus,
		PrevAgentID: event.PrevAgentID,
		Initiator:   event.ActorRole,
	}, true
}
