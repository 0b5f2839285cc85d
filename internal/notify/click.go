package notify

import (
	"fmt"
	"strings"
)

const (
	ActionAccept       = "accept"
	ActionView         = "view"
	ActionUpdateStatus = "update_status"
	ActionCallContact  = "call_contact"
	ActionNavigate     = "navigate"
	ActionDismiss      = "dismiss"
	ActionDefault      = "default"
)

// ClickTarget resolves where a notification click should take the user.
// The second result is false when the click opens nothing.
func ClickTarget(action string, data Data) (string, bool) {
	switch action {
	case ActionAccept:
		if data.TaskID == "" {
			return fallbackURL(data), true
		}
		return taskURL(data.TaskID) + "?action=accept", true
	case ActionView:
		if data.URL != "" {
			return data.URL, true
		}
		if data.TaskID != "" {
			return reportURL(data.TaskID), true
		}
		return "/", true
	case ActionUpdateStatus:
		if data.TaskID == "" {
			return fallbackURL(data), true
		}
		return taskURL(data.TaskID) + "/status", true
	case ActionCallContact:
		phone := strings.TrimSpace(data.Phone)
		if phone == "" {
			return "", false
		}
		return "tel:" + phone, true
	case ActionNavigate:
		if data.Coordinates == nil {
			return "", false
		}
		return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%g,%g",
			data.Coordinates.Latitude, data.Coordinates.Longitude), true
	case ActionDismiss:
		return "", false
	default:
		return fallbackURL(data), true
	}
}

func fallbackURL(data Data) string {
	if data.URL != "" {
		return data.URL
	}
	return "/"
}
