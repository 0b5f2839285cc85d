package notify

import "foodbridge/internal/models"

// Recipient is either one profile (hotel or agent) or every active agent in
// an area.
type Recipient struct {
	Role      models.Role `json:"role"`
	ProfileID string      `json:"profile_id,omitempty"`
	Area      string      `json:"area,omitempty"`
}

func HotelRecipient(hotelID string) Recipient {
	return Recipient{Role: models.RoleHotel, ProfileID: hotelID}
}

func AgentRecipient(agentID string) Recipient {
	return Recipient{Role: models.RoleAgent, ProfileID: agentID}
}

func AgentsInArea(area string) Recipient {
	return Recipient{Role: models.RoleAgent, Area: area}
}

// Broadcast reports whether the recipient is an area fan-out.
func (r Recipient) Broadcast() bool {
	return r.ProfileID == ""
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

type Data struct {
	TaskID      string       `json:"taskId,omitempty"`
	URL         string       `json:"url,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Payload is the browser push message body.
type Payload struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	Tag                string   `json:"tag"`
	Data               Data     `json:"data"`
	RequireInteraction bool     `json:"requireInteraction,omitempty"`
	Actions            []Action `json:"actions,omitempty"`
}

type Intent struct {
	Kind      string    `json:"kind"`
	ReportID  string    `json:"report_id"`
	Recipient Recipient `json:"recipient"`
	Payload   Payload   `json:"payload"`
	Urgent    bool      `json:"urgent,omitempty"`
}
