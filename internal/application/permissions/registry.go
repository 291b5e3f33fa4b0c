package permissions

import (
	"context"
	"sync"
	"time"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

// session is the identity source of one subject's cache. Clearing identity
// makes the next load yield the signed-out state.
type session struct {
	mu          sync.Mutex
	identity    *domain.Identity
	lastSeen    time.Time
	cache       *Cache
	unsubscribe func()
}

func (s *session) Current(context.Context) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, nil
	}
	id := *s.identity
	return &id, nil
}

// Registry keeps one permission cache per signed-in subject and translates
// session activity into auth events.
type Registry struct {
	reader  ports.PermissionReader
	bus     ports.AuthEventBus
	logger  ports.Logger
	clock   ports.Clock
	idleTTL time.Duration
	opts    []Option

	mu          sync.Mutex
	sessions    map[string]*session
	unsubscribe func()
}

// RegistryConfig tunes a Registry. CacheOptions apply to every cache it
// creates.
type RegistryConfig struct {
	IdleTTL      time.Duration
	Clock        ports.Clock
	CacheOptions []Option
}

func NewRegistry(reader ports.PermissionReader, bus ports.AuthEventBus, logger ports.Logger, cfg RegistryConfig) *Registry {
	r := &Registry{
		reader:   reader,
		bus:      bus,
		logger:   logger,
		clock:    cfg.Clock,
		idleTTL:  cfg.IdleTTL,
		opts:     cfg.CacheOptions,
		sessions: map[string]*session{},
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	r.unsubscribe = bus.Subscribe(r.onEvent)
	return r
}

func subjectOf(id domain.Identity) string {
	if id.Subject != "" {
		return id.Subject
	}
	return id.Email
}

// Acquire returns the cache for id's subject, creating it on first sight.
// A new subject is announced as signed in; a token issued after the one on
// record is announced as refreshed.
func (r *Registry) Acquire(ctx context.Context, id domain.Identity) *Cache {
	key := subjectOf(id)
	now := r.clock.Now()

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		s = &session{identity: &id, lastSeen: now}
		opts := append(append([]Option{}, r.opts...), ForSubject(key))
		s.cache = NewCache(r.reader, s, r.logger, opts...)
		s.unsubscribe = s.cache.Subscribe(r.bus)
		r.sessions[key] = s
	}
	r.mu.Unlock()

	if !ok {
		r.publish(ctx, ports.AuthEvent{Kind: ports.AuthSignedIn, Subject: key})
		return s.cache
	}

	s.mu.Lock()
	s.lastSeen = now
	refreshed := s.identity == nil || id.IssuedAt.After(s.identity.IssuedAt)
	if refreshed {
		s.identity = &id
	}
	s.mu.Unlock()
	if refreshed {
		r.publish(ctx, ports.AuthEvent{Kind: ports.AuthTokenRefreshed, Subject: key})
	}
	return s.cache
}

// Lookup returns the cache of a subject without touching the session.
func (r *Registry) Lookup(subject string) (*Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[subject]
	if !ok {
		return nil, false
	}
	return s.cache, true
}

// Release signs the subject out: its cache drops to the empty state and the
// session is forgotten.
func (r *Registry) Release(ctx context.Context, subject string) {
	if s := r.forget(subject); s != nil {
		s.cache.Load(ctx, nil)
	}
	r.publish(ctx, ports.AuthEvent{Kind: ports.AuthSignedOut, Subject: subject})
}

func (r *Registry) forget(subject string) *session {
	r.mu.Lock()
	s, ok := r.sessions[subject]
	delete(r.sessions, subject)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
	s.unsubscribe()
	return s
}

// onEvent handles sign-outs announced elsewhere, e.g. by another instance.
func (r *Registry) onEvent(event ports.AuthEvent) {
	if event.Kind != ports.AuthSignedOut {
		return
	}
	if s := r.forget(event.Subject); s != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cache.refreshTimeout)
		defer cancel()
		s.cache.Load(ctx, nil)
	}
}

// Sweep evicts sessions idle for longer than the configured TTL and returns
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	var idle []*session
	r.mu.Lock()
	for key, s := range r.sessions {
		s.mu.Lock()
		expired := now.Sub(s.lastSeen) > r.idleTTL
		s.mu.Unlock()
		if expired {
			idle = append(idle, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()
	for _, s := range idle {
		s.unsubscribe()
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.clock.Now()); n > 0 {
				r.logger.Debug(ctx, "evicted idle sessions", "count", n)
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Close() {
	r.unsubscribe()
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*session{}
	r.mu.Unlock()
	for _, s := range sessions {
		s.unsubscribe()
	}
}

func (r *Registry) publish(ctx context.Context, event ports.AuthEvent) {
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Warn(ctx, "failed to publish auth event", "kind", event.Kind, "subject", event.Subject, "error", err)
	}
}
