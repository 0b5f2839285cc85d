package store

import (
	"context"
	"time"

	"foodbridge/internal/models"
)

type CreateReportInput struct {
	HotelID     string
	FoodType    string
	FoodName    string
	Quantity    int
	Description string
	PickupTime  time.Time
	ExpiryTime  *time.Time
	ActorID     string
	CreatedAt   time.Time
}

// ReportChange is applied only when the stored status still equals the
// expected status passed to ConditionalUpdate.
type ReportChange struct {
	ToStatus    string
	AssignAgent string
	ClearAgent  bool
	CreditHotel bool
	ActorID     string
	ActorRole   models.Role
	OccurredAt  time.Time
}

type ReportFilter struct {
	HotelID string
	// AgentID limits results to the agent's assignments plus open reports.
	AgentID string
	Status  string
}

type ReportStore interface {
	CreateReport(ctx context.Context, input CreateReportInput) (models.FoodReport, error)
	GetReport(ctx context.Context, reportID string) (models.FoodReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]models.FoodReport, error)
	ConditionalUpdate(ctx context.Context, reportID, expectedStatus string, change ReportChange) (models.FoodReport, bool, error)
	ListOpenWithExpiry(ctx context.Context) ([]models.FoodReport, error)
	ClearReports(ctx context.Context, statuses []string, before time.Time) (int64, error)
}

type ProfileStore interface {
	GetRole(ctx context.Context, identityID string) (models.Role, error)
	SetRole(ctx context.Context, identityID string, role models.Role) error
	GetHotel(ctx context.Context, hotelID string) (models.HotelProfile, error)
	GetHotelByIdentity(ctx context.Context, identityID string) (models.HotelProfile, error)
	SaveHotel(ctx context.Context, hotel models.HotelProfile) (models.HotelProfile, error)
	GetAgent(ctx context.Context, agentID string) (models.AgentProfile, error)
	GetAgentByIdentity(ctx context.Context, identityID string) (models.AgentProfile, error)
	SaveAgent(ctx context.Context, agent models.AgentProfile) (models.AgentProfile, error)
	SetAgentActive(ctx context.Context, agentID string, active bool) (models.AgentProfile, error)
	ListActiveAgents(ctx context.Context, area string) ([]models.AgentProfile, error)
	ListBeneficiaries(ctx context.Context) ([]models.Beneficiary, error)
	CreateBeneficiary(ctx context.Context, beneficiary models.Beneficiary) (models.Beneficiary, error)
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, identityID, endpoint string) error
	ListSubscriptions(ctx context.Context, identityIDs []string) ([]models.PushSubscription, error)
}

type FeedStore interface {
	ListChangeEvents(ctx context.Context, after FeedOffset, limit int) ([]ChangeEvent, error)
	GetOffset(ctx context.Context, consumer string) (FeedOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset FeedOffset) error
}

type Store interface {
	ReportStore
	ProfileStore
	SubscriptionStore
	FeedStore
}
