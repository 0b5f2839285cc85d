package feed

import (
	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

// Scope filters change events for one viewer.
type Scope struct {
	Role      models.Role
	ProfileID string
}

// Allows reports whether the viewer may see the event. Agents see reports
// that are open or that are or were assigned to them, hotels see their own
// reports and admins see everything.
func (s Scope) Allows(event store.ChangeEvent) bool {
	switch s.Role {
	case models.RoleAdmin:
		return true
	case models.RoleHotel:
		return s.ProfileID != "" && event.HotelID == s.ProfileID
	case models.RoleAgent:
		if event.ToStatus == models.StatusNew {
			return true
		}
		if s.ProfileID == "" {
			return false
		}
		return event.AgentID == s.ProfileID || event.PrevAgentID == s.ProfileID
	default:
		return false
	}
}
