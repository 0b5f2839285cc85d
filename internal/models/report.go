package models

import "time"

type FoodReport struct {
	ReportID        string     `json:"report_id"`
	HotelID         string     `json:"hotel_id"`
	HotelArea       string     `json:"hotel_area,omitempty"`
	AssignedAgentID *string    `json:"assigned_agent_id"`
	FoodType        string     `json:"food_type"`
	FoodName        string     `json:"food_name"`
	Quantity        int        `json:"quantity"`
	Description     string     `json:"description,omitempty"`
	PickupTime      time.Time  `json:"pickup_time"`
	ExpiryTime      *time.Time `json:"expiry_time,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

const (
	StatusNew       = "new"
	StatusAssigned  = "assigned"
	StatusPicked    = "picked"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

const (
	FoodVeg       = "veg"
	FoodNonVeg    = "non_veg"
	FoodSnacks    = "snacks"
	FoodBeverages = "beverages"
	FoodDairy     = "dairy"
	FoodBakery    = "bakery"
)

// AgentID returns the assigned agent or an empty string.
func (r FoodReport) AgentID() string {
	if r.AssignedAgentID == nil {
		return ""
	}
	return *r.AssignedAgentID
}

func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// HoldsAgent reports whether a report in the given status must carry an
// assigned agent.
func HoldsAgent(status string) bool {
	switch status {
	case StatusAssigned, StatusPicked, StatusDelivered:
		return true
	default:
		return false
	}
}
