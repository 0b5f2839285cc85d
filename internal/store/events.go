package store

import (
	"time"

	"foodbridge/internal/models"
)

const (
	EventReportCreated = "report.created"
	EventReportUpdated = "report.updated"
)

// ChangeEvent is one row of the outbox. Report holds the row as it was right
// after the change.
type ChangeEvent struct {
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"`
	ReportID    string            `json:"report_id"`
	HotelID     string            `json:"hotel_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	PrevAgentID string            `json:"prev_agent_id,omitempty"`
	FromStatus  string            `json:"from_status,omitempty"`
	ToStatus    string            `json:"to_status"`
	ActorID     string            `json:"actor_id,omitempty"`
	ActorRole   models.Role       `json:"actor_role,omitempty"`
	Report      models.FoodReport `json:"report"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TransitionKey names the logical change: "created" or "from->to".
func (e ChangeEvent) TransitionKey() string {
	if e.Type == EventReportCreated {
		return "created"
	}
	return e.FromStatus + "->" + e.ToStatus
}

type FeedOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

// After reports whether the event sorts strictly after the offset.
func (o FeedOffset) After(event ChangeEvent) bool {
	if event.CreatedAt.After(o.LastEventTime) {
		return true
	}
	return event.CreatedAt.Equal(o.LastEventTime) && event.EventID > o.LastEventID
}

func OffsetOf(event ChangeEvent) FeedOffset {
	return FeedOffset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
}

// NewChangeEvent builds the outbox row for a report mutation.
func NewChangeEvent(eventID, eventType string, before *models.FoodReport, after models.FoodReport, actorID string, actorRole models.Role, at time.Time) ChangeEvent {
	event := ChangeEvent{
		EventID:   eventID,
		Type:      eventType,
		ReportID:  after.ReportID,
		HotelID:   after.HotelID,
		AgentID:   after.AgentID(),
		ToStatus:  after.Status,
		ActorID:   actorID,
		ActorRole: actorRole,
		Report:    after,
		CreatedAt: at,
	}
	if before != nil {
		event.FromStatus = before.Status
		event.PrevAgentID = before.AgentID()
	}
	return event
}
