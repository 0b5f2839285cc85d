package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

var ErrRolePending = errors.New("role resolution pending")

type RoleLookup interface {
	GetRole(ctx context.Context, identityID string) (models.Role, error)
}

// Resolver looks up identity roles with a TTL cache and a per-lookup timeout.
type Resolver struct {
	inner   RoleLookup
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	role      models.Role
	expiresAt time.Time
}

func NewResolver(inner RoleLookup, ttl, timeout time.Duration) *Resolver {
	return &Resolver{
		inner:   inner,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Resolve returns the identity's role. An identity without a profile
// resolves to the empty role. A lookup that does not finish within the
// timeout returns ErrRolePending.
func (r *Resolver) Resolve(ctx context.Context, identityID string) (models.Role, error) {
	r.mu.RLock()
	entry, ok := r.cache[identityID]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.role, nil
	}

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	role, err := r.inner.GetRole(lookupCtx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return "", nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return "", ErrRolePending
		}
		return "", err
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[identityID] = cacheEntry{role: role, expiresAt: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return role, nil
}

func (r *Resolver) Invalidate(identityID string) {
	r.mu.Lock()
	delete(r.cache, identityID)
	r.mu.Unlock()
}
