package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

// Store keeps everything in process memory behind one mutex. Every report
// mutation and its change event are recorded in the same critical section.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	roles         map[string]models.Role
	reports       map[string]models.FoodReport
	hotels        map[string]models.HotelProfile
	agents        map[string]models.AgentProfile
	beneficiaries []models.Beneficiary
	subs          map[string]models.PushSubscription
	events        []store.ChangeEvent
	offsets       map[string]store.FeedOffset
}

type Options struct {
	Now func() time.Time
}

func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		now:     now,
		roles:   make(map[string]models.Role),
		reports: make(map[string]models.FoodReport),
		hotels:  make(map[string]models.HotelProfile),
		agents:  make(map[string]models.AgentProfile),
		subs:    make(map[string]models.PushSubscription),
		offsets: make(map[string]store.FeedOffset),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateReport(ctx context.Context, input store.CreateReportInput) (models.FoodReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hotel, ok := s.hotels[input.HotelID]
	if !ok {
		return models.FoodReport{}, store.ErrProfileNotFound
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	report := models.FoodReport{
		ReportID:    uuid.NewString(),
		HotelID:     input.HotelID,
		HotelArea:   hotel.Area,
		FoodType:    input.FoodType,
		FoodName:    input.FoodName,
		Quantity:    input.Quantity,
		Description: input.Description,
		PickupTime:  input.PickupTime,
		ExpiryTime:  input.ExpiryTime,
		Status:      models.StatusNew,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	s.reports[report.ReportID] = report
	s.appendEvent(store.NewChangeEvent(uuid.NewString(), store.EventReportCreated, nil, report, input.ActorID, models.RoleHotel, createdAt))
	return report, nil
}

func (s *Store) GetReport(ctx context.Context, reportID string) (models.FoodReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[reportID]
	if !ok {
		return models.FoodReport{}, store.ErrReportNotFound
	}
	return s.withArea(report), nil
}

func (s *Store) ListReports(ctx context.Context, filter store.ReportFilter) ([]models.FoodReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FoodReport
	for _, report := range s.reports {
		if filter.HotelID != "" && report.HotelID != filter.HotelID {
			continue
		}
		if filter.AgentID != "" && report.Status != models.StatusNew && report.AgentID() != filter.AgentID {
			continue
		}
		if filter.Status != "" && report.Status != filter.Status {
			continue
		}
		out = append(out, s.withArea(report))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ReportID < out[j].ReportID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, reportID, expectedStatus string, change store.ReportChange) (models.FoodReport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reports[reportID]
	if !ok {
		return models.FoodReport{}, false, store.ErrReportNotFound
	}
	if current.Status != expectedStatus {
		return s.withArea(current), false, nil
	}
	at := change.OccurredAt
	if at.IsZero() {
		at = s.now()
	}

	updated := current
	updated.Status = change.ToStatus
	updated.UpdatedAt = at
	switch {
	case change.AssignAgent != "":
		agentID := change.AssignAgent
		updated.AssignedAgentID = &agentID
	case change.ClearAgent:
		updated.AssignedAgentID = nil
	}
	if change.CreditHotel {
		hotel, ok := s.hotels[updated.HotelID]
		if ok {
			hotel.TotalFoodSaved += updated.Quantity
			hotel.UpdatedAt = at
			s.hotels[hotel.HotelID] = hotel
		}
	}
	s.reports[reportID] = updated
	updated = s.withArea(updated)
	before := s.withArea(current)
	s.appendEvent(store.NewChangeEvent(uuid.NewString(), store.EventReportUpdated, &before, updated, change.ActorID, change.ActorRole, at))
	return updated, true, nil
}

func (s *Store) ListOpenWithExpiry(ctx context.Context) ([]models.FoodReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FoodReport
	for _, report := range s.reports {
		if report.ExpiryTime == nil {
			continue
		}
		if report.Status == models.StatusNew || report.Status == models.StatusAssigned {
			out = append(out, s.withArea(report))
		}
	}
	return out, nil
}

func (s *Store) ClearReports(ctx context.Context, statuses []string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, report := range s.reports {
		if !contains(statuses, report.Status) || !report.UpdatedAt.Before(before) {
			continue
		}
		delete(s.reports, id)
		removed++
	}
	return removed, nil
}

func (s *Store) GetRole(ctx context.Context, identityID string) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[identityID]
	if !ok {
		return "", store.ErrProfileNotFound
	}
	return role, nil
}

func (s *Store) SetRole(ctx context.Context, identityID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.roles[identityID]; ok {
		if existing != role {
			return store.ErrRoleAlreadySet
		}
		return nil
	}
	s.roles[identityID] = role
	return nil
}

func (s *Store) GetHotel(ctx context.Context, hotelID string) (models.HotelProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hotel, ok := s.hotels[hotelID]
	if !ok {
		return models.HotelProfile{}, store.ErrProfileNotFound
	}
	return hotel, nil
}

func (s *Store) GetHotelByIdentity(ctx context.Context, identityID string) (models.HotelProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hotel, ok := s.hotelByIdentity(identityID)
	if !ok {
		return models.HotelProfile{}, store.ErrProfileNotFound
	}
	return hotel, nil
}

func (s *Store) SaveHotel(ctx context.Context, hotel models.HotelProfile) (models.HotelProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.hotelByIdentity(hotel.IdentityID); ok {
		hotel.HotelID = existing.HotelID
		hotel.TotalFoodSaved = existing.TotalFoodSaved
		hotel.CreatedAt = existing.CreatedAt
	} else {
		hotel.HotelID = uuid.NewString()
		hotel.TotalFoodSaved = 0
		hotel.CreatedAt = now
	}
	hotel.UpdatedAt = now
	s.hotels[hotel.HotelID] = hotel
	return hotel, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return models.AgentProfile{}, store.ErrProfileNotFound
	}
	return agent, nil
}

func (s *Store) GetAgentByIdentity(ctx context.Context, identityID string) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agentByIdentity(identityID)
	if !ok {
		return models.AgentProfile{}, store.ErrProfileNotFound
	}
	return agent, nil
}

func (s *Store) SaveAgent(ctx context.Context, agent models.AgentProfile) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.agentByIdentity(agent.IdentityID); ok {
		agent.AgentID = existing.AgentID
		agent.IsActive = existing.IsActive
		agent.CreatedAt = existing.CreatedAt
	} else {
		agent.AgentID = uuid.NewString()
		agent.IsActive = true
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	s.agents[agent.AgentID] = agent
	return agent, nil
}

func (s *Store) SetAgentActive(ctx context.Context, agentID string, active bool) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return models.AgentProfile{}, store.ErrProfileNotFound
	}
	agent.IsActive = active
	agent.UpdatedAt = s.now()
	s.agents[agentID] = agent
	return agent, nil
}

func (s *Store) ListActiveAgents(ctx context.Context, area string) ([]models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AgentProfile
	for _, agent := range s.agents {
		if !agent.IsActive {
			continue
		}
		if area != "" && !strings.EqualFold(agent.Area, area) {
			continue
		}
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *Store) ListBeneficiaries(ctx context.Context) ([]models.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Beneficiary, len(s.beneficiaries))
	copy(out, s.beneficiaries)
	return out, nil
}

func (s *Store) CreateBeneficiary(ctx context.Context, beneficiary models.Beneficiary) (models.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	beneficiary.BeneficiaryID = uuid.NewString()
	beneficiary.CreatedAt = s.now()
	s.beneficiaries = append(s.beneficiaries, beneficiary)
	return beneficiary, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sub.IdentityID + "|" + sub.Endpoint
	if existing, ok := s.subs[key]; ok {
		sub.SubscriptionID = existing.SubscriptionID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.SubscriptionID = uuid.NewString()
		sub.CreatedAt = s.now()
	}
	s.subs[key] = sub
	return sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, identityID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, identityID+"|"+endpoint)
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, identityIDs []string) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PushSubscription
	for _, sub := range s.subs {
		if contains(identityIDs, sub.IdentityID) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out, nil
}

func (s *Store) ListChangeEvents(ctx context.Context, after store.FeedOffset, limit int) ([]store.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ChangeEvent
	for _, event := range s.events {
		if !after.After(event) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.FeedOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.offsets[consumer], nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.FeedOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offsets[consumer] = offset
	return nil
}

// appendEvent keeps event times strictly increasing so offsets stay
// unambiguous even when the clock does not move between mutations.
func (s *Store) appendEvent(event store.ChangeEvent) {
	if n := len(s.events); n > 0 {
		last := s.events[n-1].CreatedAt
		if !event.CreatedAt.After(last) {
			event.CreatedAt = last.Add(time.Microsecond)
		}
	}
	s.events = append(s.events, event)
}

func (s *Store) withArea(report models.FoodReport) models.FoodReport {
	if hotel, ok := s.hotels[report.HotelID]; ok {
		report.HotelArea = hotel.Area
	}
	return report
}

func (s *Store) hotelByIdentity(identityID string) (models.HotelProfile, bool) {
	for _, hotel := range s.hotels {
		if hotel.IdentityID == identityID {
			return hotel, true
		}
	}
	return models.HotelProfile{}, false
}

func (s *Store) agentByIdentity(identityID string) (models.AgentProfile, bool) {
	for _, agent := range s.agents {
		if agent.IdentityID == identityID {
			return agent, true
		}
	}
	return models.AgentProfile{}, false
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
