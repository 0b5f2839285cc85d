package notifier

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log"
	"sync"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/notify"
	"foodbridge/internal/store"
	"foodbridge/internal/validation"
)

var (
	ErrDeliveryFailure = errors.New("notification delivery failed")
	ErrNotInitialized  = errors.New("notifier not initialized")
)

var (
	sentTotal   = expvar.NewInt("notifications_sent_total")
	failedTotal = expvar.NewInt("notifications_failed_total")
)

type Directory interface {
	GetHotel(ctx context.Context, hotelID string) (models.HotelProfile, error)
	GetAgent(ctx context.Context, agentID string) (models.AgentProfile, error)
	ListActiveAgents(ctx context.Context, area string) ([]models.AgentProfile, error)
}

type Subscriptions interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, identityID, endpoint string) error
	ListSubscriptions(ctx context.Context, identityIDs []string) ([]models.PushSubscription, error)
}

// Target is a recipient resolved to the identities and devices behind it.
type Target struct {
	Recipient     notify.Recipient
	IdentityIDs   []string
	Phones        []string
	Subscriptions []models.PushSubscription
}

type Provider interface {
	Name() string
	Send(ctx context.Context, target Target, intent notify.Intent) error
}

// Opener and Closer are optional provider hooks run by Initialize and
// Teardown.
type Opener interface {
	Open(ctx context.Context) error
}

type Closer interface {
	Close(ctx context.Context) error
}

type Options struct {
	Timeout   time.Duration
	Providers []Provider
}

// Service delivers notification intents. It is built once at startup and
// passed to the components that need it.
type Service struct {
	directory Directory
	subs      Subscriptions
	timeout   time.Duration

	mu        sync.RWMutex
	providers []Provider
	ready     bool
}

func New(directory Directory, subs Subscriptions, opts Options) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	providers := opts.Providers
	if len(providers) == 0 {
		providers = []Provider{logProvider{}}
	}
	return &Service{
		directory: directory,
		subs:      subs,
		timeout:   timeout,
		providers: providers,
	}
}

// Initialize opens every provider. Providers that fail to open are dropped
// so one broken channel does not silence the rest.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	var opened []Provider
	for _, provider := range s.providers {
		if opener, ok := provider.(Opener); ok {
			if err := opener.Open(ctx); err != nil {
				log.Printf("notifier provider=%s open error=%v", provider.Name(), err)
				continue
			}
		}
		opened = append(opened, provider)
	}
	s.providers = opened
	s.ready = true
	log.Printf("notifier initialized providers=%s", providerNames(opened))
	return nil
}

// RequestPermission stores the browser push subscription the client obtained
// after the user granted permission.
func (s *Service) RequestPermission(ctx context.Context, identity models.Identity, sub models.PushSubscription) (models.PushSubscription, error) {
	sub.IdentityID = identity.ID
	sub.Role = identity.Role
	if err := validation.Struct(sub); err != nil {
		return models.PushSubscription{}, err
	}
	return s.subs.SaveSubscription(ctx, sub)
}

func (s *Service) Revoke(ctx context.Context, identity models.Identity, endpoint string) error {
	if endpoint == "" {
		verr := &store.ValidationError{}
		verr.Add("endpoint", "required")
		return verr
	}
	return s.subs.DeleteSubscription(ctx, identity.ID, endpoint)
}

// Dispatch delivers intents on every provider. Delivery is best effort:
// failures are logged and counted, never returned or retried.
func (s *Service) Dispatch(ctx context.Context, intents []notify.Intent) {
	s.mu.RLock()
	ready := s.ready
	providers := s.providers
	s.mu.RUnlock()
	if !ready {
		log.Printf("notifier dropped intents count=%d error=%v", len(intents), ErrNotInitialized)
		return
	}

	for _, intent := range intents {
		target, err := s.resolve(ctx, intent.Recipient)
		if err != nil {
			failedTotal.Add(1)
			log.Printf("notifier resolve kind=%s report_id=%s error=%v", intent.Kind, intent.ReportID, err)
			continue
		}
		for _, provider := range providers {
			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			err := provider.Send(sendCtx, target, intent)
			cancel()
			if err != nil {
				failedTotal.Add(1)
				log.Printf("notifier provider=%s kind=%s report_id=%s error=%v", provider.Name(), intent.Kind, intent.ReportID, fmt.Errorf("%w: %v", ErrDeliveryFailure, err))
				continue
			}
			sentTotal.Add(1)
		}
	}
}

// Teardown closes providers. Dispatch drops intents afterwards until the
// service is initialized again.
func (s *Service) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, provider := range s.providers {
		if closer, ok := provider.(Closer); ok {
			if err := closer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			}
		}
	}
	s.ready = false
	return errors.Join(errs...)
}

func (s *Service) resolve(ctx context.Context, recipient notify.Recipient) (Target, error) {
	target := Target{Recipient: recipient}
	switch {
	case recipient.Role == models.RoleHotel && recipient.ProfileID != "":
		hotel, err := s.directory.GetHotel(ctx, recipient.ProfileID)
		if err != nil {
			return Target{}, err
		}
		target.IdentityIDs = []string{hotel.IdentityID}
		target.Phones = nonEmpty(hotel.Phone)
	case recipient.Role == models.RoleAgent && recipient.ProfileID != "":
		agent, err := s.directory.GetAgent(ctx, recipient.ProfileID)
		if err != nil {
			return Target{}, err
		}
		target.IdentityIDs = []string{agent.IdentityID}
		target.Phones = nonEmpty(agent.Phone)
	case recipient.Role == models.RoleAgent:
		agents, err := s.directory.ListActiveAgents(ctx, recipient.Area)
		if err != nil {
			return Target{}, err
		}
		for _, agent := range agents {
			target.IdentityIDs = append(target.IdentityIDs, agent.IdentityID)
			target.Phones = append(target.Phones, nonEmpty(agent.Phone)...)
		}
	default:
		return Target{}, fmt.Errorf("unsupported recipient role=%s", recipient.Role)
	}
	if len(target.IdentityIDs) == 0 {
		return target, nil
	}
	subs, err := s.subs.ListSubscriptions(ctx, target.IdentityIDs)
	if err != nil {
		return Target{}, err
	}
	target.Subscriptions = subs
	return target, nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, value := range values {
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func providerNames(providers []Provider) string {
	names := ""
	for i, provider := range providers {
		if i > 0 {
			names += ","
		}
		names += provider.Name()
	}
	return names
}
