package notify

import (
	"fmt"
	"time"

	"foodbridge/internal/models"
)

type EventKind string

const (
	ReportCreated      EventKind = "report_created"
	TransitionOccurred EventKind = "transition"
	ExpiryApproaching  EventKind = "expiry_approaching"
)

// ExpiryLead is how long before expiry an open report triggers a reminder.
const ExpiryLead = 2 * time.Hour

type Event struct {
	Kind        EventKind
	Report      models.FoodReport
	From        string
	To          string
	PrevAgentID string
	Initiator   models.Role
}

const (
	KindNewFood    = "new_food"
	KindAccepted   = "accepted"
	KindAssignment = "assignment"
	KindPicked     = "picked"
	KindDelivered  = "delivered"
	KindCancelled  = "cancelled"
	KindExpiry     = "expiry"
)

// Dispatch maps a domain event to the notifications it causes. It has no
// side effects; the same event always yields the same intents.
func Dispatch(ev Event) []Intent {
	report := ev.Report
	switch ev.Kind {
	case ReportCreated:
		return []Intent{newFood(report)}
	case ExpiryApproaching:
		if report.Status != models.StatusNew && report.Status != models.StatusAssigned {
			return nil
		}
		return []Intent{expiry(report)}
	case TransitionOccurred:
	default:
		return nil
	}

	switch {
	case ev.From == models.StatusNew && ev.To == models.StatusAssigned:
		intents := []Intent{hotelIntent(report, KindAccepted, "Agent accepted your donation",
			fmt.Sprintf("An agent is on the way to collect %s.", report.FoodName))}
		if agentID := report.AgentID(); agentID != "" {
			intents = append(intents, Intent{
				Kind:      KindAssignment,
				ReportID:  report.ReportID,
				Recipient: AgentRecipient(agentID),
				Payload: Payload{
					Title: "Assignment confirmed",
					Body:  fmt.Sprintf("Pick up %s (%d) before %s.", report.FoodName, report.Quantity, clock(report.PickupTime)),
					Tag:   Tag(report.ReportID, KindAssignment),
					Data:  Data{TaskID: report.ReportID, URL: taskURL(report.ReportID)},
					Actions: []Action{
						{Action: ActionUpdateStatus, Title: "Update status"},
						{Action: ActionView, Title: "View"},
					},
				},
			})
		}
		return intents
	case ev.From == models.StatusAssigned && ev.To == models.StatusPicked:
		return []Intent{hotelIntent(report, KindPicked, "Food picked up",
			fmt.Sprintf("%s has been picked up.", report.FoodName))}
	case ev.From == models.StatusPicked && ev.To == models.StatusDelivered:
		return []Intent{hotelIntent(report, KindDelivered, "Donation delivered",
			fmt.Sprintf("%s was delivered. You saved %d servings of food.", report.FoodName, report.Quantity))}
	case ev.To == models.StatusCancelled:
		return cancelled(ev)
	default:
		return nil
	}
}

// ExpiryDue reports whether an expiry reminder applies to the report at now.
func ExpiryDue(report models.FoodReport, now time.Time, lead time.Duration) bool {
	if report.ExpiryTime == nil {
		return false
	}
	if report.Status != models.StatusNew && report.Status != models.StatusAssigned {
		return false
	}
	return !now.Before(report.ExpiryTime.Add(-lead))
}

func Tag(reportID, kind string) string {
	return "report-" + reportID + "-" + kind
}

func newFood(report models.FoodReport) Intent {
	body := fmt.Sprintf("%s (%d) is ready for pickup", report.FoodName, report.Quantity)
	if report.HotelArea != "" {
		body += " in " + report.HotelArea
	}
	return Intent{
		Kind:      KindNewFood,
		ReportID:  report.ReportID,
		Recipient: AgentsInArea(report.HotelArea),
		Payload: Payload{
			Title: "New food available",
			Body:  body + ".",
			Tag:   Tag(report.ReportID, KindNewFood),
			Data:  Data{TaskID: report.ReportID, URL: taskURL(report.ReportID)},
			Actions: []Action{
				{Action: ActionAccept, Title: "Accept"},
				{Action: ActionView, Title: "View"},
			},
		},
	}
}

func expiry(report models.FoodReport) Intent {
	recipient := AgentsInArea(report.HotelArea)
	actions := []Action{{Action: ActionAccept, Title: "Accept"}, {Action: ActionView, Title: "View"}}
	if agentID := report.AgentID(); agentID != "" {
		recipient = AgentRecipient(agentID)
		actions = []Action{{Action: ActionUpdateStatus, Title: "Update status"}, {Action: ActionView, Title: "View"}}
	}
	body := fmt.Sprintf("%s expires soon.", report.FoodName)
	if report.ExpiryTime != nil {
		body = fmt.Sprintf("%s expires at %s.", report.FoodName, clock(*report.ExpiryTime))
	}
	return Intent{
		Kind:      KindExpiry,
		ReportID:  report.ReportID,
		Recipient: recipient,
		Urgent:    true,
		Payload: Payload{
			Title:              "Food expiring soon",
			Body:               body,
			Tag:                Tag(report.ReportID, KindExpiry),
			Data:               Data{TaskID: report.ReportID, URL: taskURL(report.ReportID)},
			RequireInteraction: true,
			Actions:            actions,
		},
	}
}

func cancelled(ev Event) []Intent {
	report := ev.Report
	notifyHotel := false
	notifyAgent := ev.PrevAgentID != ""
	switch ev.Initiator {
	case models.RoleHotel:
	case models.RoleAgent:
		notifyHotel = true
		notifyAgent = false
	default:
		notifyHotel = true
	}

	var intents []Intent
	if notifyHotel {
		intents = append(intents, hotelIntent(report, KindCancelled, "Donation cancelled",
			fmt.Sprintf("%s was cancelled.", report.FoodName)))
	}
	if notifyAgent {
		intents = append(intents, Intent{
			Kind:      KindCancelled,
			ReportID:  report.ReportID,
			Recipient: AgentRecipient(ev.PrevAgentID),
			Payload: Payload{
				Title: "Pickup cancelled",
				Body:  fmt.Sprintf("%s is no longer available for pickup.", report.FoodName),
				Tag:   Tag(report.ReportID, KindCancelled),
				Data:  Data{TaskID: report.ReportID, URL: "/agent/dashboard"},
			},
		})
	}
	return intents
}

func hotelIntent(report models.FoodReport, kind, title, body string) Intent {
	return Intent{
		Kind:      kind,
		ReportID:  report.ReportID,
		Recipient: HotelRecipient(report.HotelID),
		Payload: Payload{
			Title:   title,
			Body:    body,
			Tag:     Tag(report.ReportID, kind),
			Data:    Data{TaskID: report.ReportID, URL: reportURL(report.ReportID)},
			Actions: []Action{{Action: ActionView, Title: "View"}},
		},
	}
}

func taskURL(reportID string) string {
	return "/agent/tasks/" + reportID
}

func reportURL(reportID string) string {
	return "/food-reports/" + reportID
}

func clock(t time.Time) string {
	return t.Format("15:04")
}
