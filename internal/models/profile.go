package models

import "time"

type Role string

const (
	RoleHotel Role = "hotel"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHotel, RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}

type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

type HotelProfile struct {
	HotelID        string    `json:"hotel_id"`
	IdentityID     string    `json:"identity_id"`
	Name           string    `json:"name" validate:"required,max=200"`
	Phone          string    `json:"phone" validate:"required,max=20"`
	AddressLine    string    `json:"address_line" validate:"max=300"`
	Area           string    `json:"area" validate:"required,max=120"`
	City           string    `json:"city" validate:"required,max=120"`
	State          string    `json:"state" validate:"max=120"`
	Pincode        string    `json:"pincode" validate:"omitempty,numeric,len=6"`
	Latitude       *float64  `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude      *float64  `json:"longitude,omitempty" validate:"omitempty,longitude"`
	TotalFoodSaved int       `json:"total_food_saved"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AgentProfile struct {
	AgentID    string    `json:"agent_id"`
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name" validate:"required,max=200"`
	Phone      string    `json:"phone" validate:"required,max=20"`
	Area       string    `json:"area" validate:"required,max=120"`
	Zone       string    `json:"zone" validate:"max=120"`
	UniqueID   string    `json:"unique_id" validate:"max=64"`
	IsActive   bool      `json:"is_active"`
	Latitude   *float64  `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude  *float64  `json:"longitude,omitempty" validate:"omitempty,longitude"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Beneficiary struct {
	BeneficiaryID string    `json:"beneficiary_id"`
	Name          string    `json:"name" validate:"required,max=200"`
	Area          string    `json:"area" validate:"required,max=120"`
	City          string    `json:"city" validate:"max=120"`
	Latitude      *float64  `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64  `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Preference    string    `json:"preference,omitempty" validate:"omitempty,oneof=veg non_veg any"`
	PeopleCount   int       `json:"people_count" validate:"gte=0"`
	Notes         string    `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt     time.Time `json:"created_at"`
}

type PushSubscription struct {
	SubscriptionID string    `json:"subscription_id"`
	IdentityID     string    `json:"identity_id"`
	Role           Role      `json:"role"`
	Endpoint       string    `json:"endpoint" validate:"required,url"`
	P256dh         string    `json:"p256dh" validate:"required"`
	Auth           string    `json:"auth" validate:"required"`
	CreatedAt      time.Time `json:"created_at"`
}
