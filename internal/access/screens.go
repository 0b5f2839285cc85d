package access

import "foodbridge/internal/models"

var screens = map[string][]models.Role{
	"hotel-dashboard": {models.RoleHotel},
	"hotel-profile":   {models.RoleHotel},
	"report-food":     {models.RoleHotel},
	"agent-dashboard": {models.RoleAgent},
	"agent-profile":   {models.RoleAgent},
	"admin-dashboard": {models.RoleAdmin},
	"beneficiaries":   {models.RoleAdmin},
	"food-reports":    {models.RoleHotel, models.RoleAgent, models.RoleAdmin},
}

// ScreenRoles returns the roles allowed on a named screen.
func ScreenRoles(screen string) ([]models.Role, bool) {
	roles, ok := screens[screen]
	if !ok {
		return nil, false
	}
	out := make([]models.Role, len(roles))
	copy(out, roles)
	return out, true
}

// HomeFor is the landing screen path for a role.
func HomeFor(role models.Role) string {
	switch role {
	case models.RoleHotel:
		return "/hotel/dashboard"
	case models.RoleAgent:
		return "/agent/dashboard"
	case models.RoleAdmin:
		return "/admin/dashboard"
	default:
		return "/"
	}
}
