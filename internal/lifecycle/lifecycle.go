package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"foodbridge/internal/access"
	"foodbridge/internal/models"
	"foodbridge/internal/store"
	"foodbridge/internal/telemetry"
	"foodbridge/internal/validation"
)

// CreateInput is what a hotel submits to report surplus food.
type CreateInput struct {
	FoodType    string     `json:"food_type" validate:"required,oneof=veg non_veg snacks beverages dairy bakery"`
	FoodName    string     `json:"food_name" validate:"required,max=200"`
	Quantity    int        `json:"quantity" validate:"gt=0,max=100000"`
	Description string     `json:"description" validate:"max=2000"`
	PickupTime  time.Time  `json:"pickup_time"`
	ExpiryTime  *time.Time `json:"expiry_time"`
}

type Options struct {
	Now func() time.Time
}

type Service struct {
	reports  store.ReportStore
	profiles store.ProfileStore
	now      func() time.Time
	tracer   trace.Tracer
}

func NewService(reports store.ReportStore, profiles store.ProfileStore, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		reports:  reports,
		profiles: profiles,
		now:      now,
		tracer:   telemetry.Tracer("lifecycle"),
	}
}

func Validate(input CreateInput) error {
	verr := &store.ValidationError{}
	validation.Collect(input, verr)
	if input.PickupTime.IsZero() {
		verr.Add("pickup_time", "required")
	}
	if input.ExpiryTime != nil && !input.PickupTime.IsZero() && input.ExpiryTime.Before(input.PickupTime) {
		verr.Add("expiry_time", "before_pickup_time")
	}
	return verr.Err()
}

func (s *Service) Create(ctx context.Context, identity models.Identity, input CreateInput) (models.FoodReport, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.create")
	defer span.End()

	if identity.Role != models.RoleHotel {
		return models.FoodReport{}, s.fail(span, access.ErrRoleMismatch)
	}
	if err := Validate(input); err != nil {
		return models.FoodReport{}, s.fail(span, err)
	}
	hotel, err := s.profiles.GetHotelByIdentity(ctx, identity.ID)
	if err != nil {
		return models.FoodReport{}, s.fail(span, fmt.Errorf("hotel profile: %w", err))
	}
	report, err := s.reports.CreateReport(ctx, store.CreateReportInput{
		HotelID:     hotel.HotelID,
		FoodType:    input.FoodType,
		FoodName:    input.FoodName,
		Quantity:    input.Quantity,
		Description: input.Description,
		PickupTime:  input.PickupTime.UTC(),
		ExpiryTime:  utcPtr(input.ExpiryTime),
		ActorID:     identity.ID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return models.FoodReport{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("report.id", report.ReportID))
	log.Printf("report created report_id=%s hotel_id=%s quantity=%d", report.ReportID, report.HotelID, report.Quantity)
	return report, nil
}

func (s *Service) Claim(ctx context.Context, identity models.Identity, reportID string) (models.FoodReport, error) {
	return s.Apply(ctx, identity, reportID, store.ActionClaim)
}

func (s *Service) MarkPicked(ctx context.Context, identity models.Identity, reportID string) (models.FoodReport, error) {
	return s.Apply(ctx, identity, reportID, store.ActionPick)
}

func (s *Service) MarkDelivered(ctx context.Context, identity models.Identity, reportID string) (models.FoodReport, error) {
	return s.Apply(ctx, identity, reportID, store.ActionDeliver)
}

func (s *Service) Cancel(ctx context.Context, identity models.Identity, reportID string) (models.FoodReport, error) {
	return s.Apply(ctx, identity, reportID, store.ActionCancel)
}

// Apply runs one lifecycle action. The transition is validated against the
// current row, then written with a conditional update so a concurrent change
// is detected instead of overwritten.
func (s *Service) Apply(ctx context.Context, identity models.Identity, reportID, action string) (models.FoodReport, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle."+action, trace.WithAttributes(
		attribute.String("report.id", reportID),
		attribute.String("actor.role", string(identity.Role)),
	))
	defer span.End()

	to, ok := store.TargetStatus(action)
	if !ok {
		return models.FoodReport{}, s.fail(span, fmt.Errorf("%w: unknown action %q", store.ErrInvalidTransition, action))
	}
	if !roleMayApply(identity.Role, action) {
		return models.FoodReport{}, s.fail(span, access.ErrRoleMismatch)
	}

	current, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		return models.FoodReport{}, s.fail(span, err)
	}
	if !store.ValidTransition(action, current.Status) {
		return models.FoodReport{}, s.fail(span, rejectFrom(action, current.Status))
	}

	change := store.ReportChange{
		ToStatus:   to,
		ActorID:    identity.ID,
		ActorRole:  identity.Role,
		OccurredAt: s.now(),
	}
	switch action {
	case store.ActionClaim:
		agent, err := s.profiles.GetAgentByIdentity(ctx, identity.ID)
		if err != nil {
			return models.FoodReport{}, s.fail(span, fmt.Errorf("agent profile: %w", err))
		}
		if !agent.IsActive {
			return models.FoodReport{}, s.fail(span, store.ErrAgentInactive)
		}
		change.AssignAgent = agent.AgentID
	case store.ActionPick, store.ActionDeliver:
		agent, err := s.profiles.GetAgentByIdentity(ctx, identity.ID)
		if err != nil {
			return models.FoodReport{}, s.fail(span, fmt.Errorf("agent profile: %w", err))
		}
		if current.AgentID() != agent.AgentID {
			return models.FoodReport{}, s.fail(span, store.ErrNotOwner)
		}
		change.CreditHotel = action == store.ActionDeliver
	case store.ActionCancel:
		if identity.Role == models.RoleHotel {
			hotel, err := s.profiles.GetHotelByIdentity(ctx, identity.ID)
			if err != nil {
				return models.FoodReport{}, s.fail(span, fmt.Errorf("hotel profile: %w", err))
			}
			if hotel.HotelID != current.HotelID {
				return models.FoodReport{}, s.fail(span, store.ErrNotOwner)
			}
		}
		change.ClearAgent = true
	}

	updated, applied, err := s.reports.ConditionalUpdate(ctx, reportID, current.Status, change)
	if err != nil {
		return models.FoodReport{}, s.fail(span, err)
	}
	if !applied {
		err := lostRace(action, updated.Status)
		log.Printf("report transition not applied report_id=%s action=%s expected=%s actual=%s", reportID, action, current.Status, updated.Status)
		return models.FoodReport{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("report.from", current.Status), attribute.String("report.to", updated.Status))
	log.Printf("report transition report_id=%s action=%s from=%s to=%s actor=%s role=%s", reportID, action, current.Status, updated.Status, identity.ID, identity.Role)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, identity models.Identity, reportID string) (models.FoodReport, error) {
	report, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		return models.FoodReport{}, err
	}
	filter, err := s.scope(ctx, identity)
	if err != nil {
		return models.FoodReport{}, err
	}
	if !visible(filter, report) {
		return models.FoodReport{}, store.ErrReportNotFound
	}
	return report, nil
}

// List returns the reports the identity may see, newest first. Hotels see
// their own, agents see open reports and their assignments, admins see all.
func (s *Service) List(ctx context.Context, identity models.Identity, status string) ([]models.FoodReport, error) {
	filter, err := s.scope(ctx, identity)
	if err != nil {
		return nil, err
	}
	filter.Status = status
	return s.reports.ListReports(ctx, filter)
}

type HotelStats struct {
	HotelID        string         `json:"hotel_id"`
	TotalFoodSaved int            `json:"total_food_saved"`
	Reports        int            `json:"reports"`
	ByStatus       map[string]int `json:"by_status"`
}

// Stats summarises the calling hotel's reports. TotalFoodSaved is credited
// on delivery and never recomputed from reports.
func (s *Service) Stats(ctx context.Context, identity models.Identity) (HotelStats, error) {
	if identity.Role != models.RoleHotel {
		return HotelStats{}, access.ErrRoleMismatch
	}
	hotel, err := s.profiles.GetHotelByIdentity(ctx, identity.ID)
	if err != nil {
		return HotelStats{}, fmt.Errorf("hotel profile: %w", err)
	}
	reports, err := s.reports.ListReports(ctx, store.ReportFilter{HotelID: hotel.HotelID})
	if err != nil {
		return HotelStats{}, err
	}
	stats := HotelStats{
		HotelID:        hotel.HotelID,
		TotalFoodSaved: hotel.TotalFoodSaved,
		Reports:        len(reports),
		ByStatus:       map[string]int{},
	}
	for _, report := range reports {
		stats.ByStatus[report.Status]++
	}
	return stats, nil
}

// ClearTerminal deletes delivered and cancelled reports last touched before
// the cutoff.
func (s *Service) ClearTerminal(ctx context.Context, identity models.Identity, statuses []string, before time.Time) (int64, error) {
	if identity.Role != models.RoleAdmin {
		return 0, access.ErrRoleMismatch
	}
	if len(statuses) == 0 {
		statuses = []string{models.StatusDelivered, models.StatusCancelled}
	}
	for _, status := range statuses {
		if !models.IsTerminal(status) {
			verr := &store.ValidationError{}
			verr.Add("status", "not_terminal")
			return 0, verr
		}
	}
	if before.IsZero() {
		before = s.now()
	}
	removed, err := s.reports.ClearReports(ctx, statuses, before)
	if err != nil {
		return 0, err
	}
	log.Printf("reports cleared count=%d before=%s actor=%s", removed, before.Format(time.RFC3339), identity.ID)
	return removed, nil
}

func (s *Service) scope(ctx context.Context, identity models.Identity) (store.ReportFilter, error) {
	switch identity.Role {
	case models.RoleAdmin:
		return store.ReportFilter{}, nil
	case models.RoleHotel:
		hotel, err := s.profiles.GetHotelByIdentity(ctx, identity.ID)
		if err != nil {
			return store.ReportFilter{}, fmt.Errorf("hotel profile: %w", err)
		}
		return store.ReportFilter{HotelID: hotel.HotelID}, nil
	case models.RoleAgent:
		agent, err := s.profiles.GetAgentByIdentity(ctx, identity.ID)
		if err != nil {
			return store.ReportFilter{}, fmt.Errorf("agent profile: %w", err)
		}
		return store.ReportFilter{AgentID: agent.AgentID}, nil
	default:
		return store.ReportFilter{}, access.ErrRoleMismatch
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func visible(filter store.ReportFilter, report models.FoodReport) bool {
	if filter.HotelID != "" && report.HotelID != filter.HotelID {
		return false
	}
	if filter.AgentID != "" && report.Status != models.StatusNew && report.AgentID() != filter.AgentID {
		return false
	}
	return true
}

func roleMayApply(role models.Role, action string) bool {
	switch action {
	case store.ActionClaim, store.ActionPick, store.ActionDeliver:
		return role == models.RoleAgent
	case store.ActionCancel:
		return role == models.RoleHotel || role == models.RoleAdmin
	default:
		return false
	}
}

// rejectFrom explains why an action is not possible from a status. A claim
// on a report another agent still holds is the same outcome as losing the
// race for it. Terminal reports accept nothing.
func rejectFrom(action, status string) error {
	if models.IsTerminal(status) {
		return fmt.Errorf("%w: cannot %s a %s report", store.ErrInvalidTransition, action, status)
	}
	if action == store.ActionClaim && models.HoldsAgent(status) {
		return store.ErrClaimConflict
	}
	return fmt.Errorf("%w: cannot %s a %s report", store.ErrInvalidTransition, action, status)
}

func lostRace(action, status string) error {
	if action == store.ActionClaim || models.IsTerminal(status) {
		return rejectFrom(action, status)
	}
	if store.ValidTransition(action, status) {
		return store.ErrStaleReport
	}
	return rejectFrom(action, status)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// IsConflict reports whether err means the caller lost a race and may retry
// after refreshing.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrClaimConflict) || errors.Is(err, store.ErrStaleReport)
}
