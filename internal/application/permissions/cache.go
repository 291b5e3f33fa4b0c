// Package permissions derives the active permission set of a signed-in
// identity and gates protected content on it.
package permissions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

// Load outcomes reported to ports.Metrics.
const (
	OutcomeOK         = "ok"
	OutcomeNoIdentity = "no_identity"
	OutcomeNoUser     = "no_user"
	OutcomeError      = "error"
	OutcomeStale      = "stale"
)

// State is what a cache exposes to gates and handlers. Errors never appear
// here: a failed load is indistinguishable from holding no permissions.
type State struct {
	Loading     bool                 `json:"loading"`
	Permissions domain.PermissionSet `json:"permissions"`
	User        *domain.Person       `json:"user"`
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type noopMetrics struct{}

func (noopMetrics) CacheLoad(string)            {}
func (noopMetrics) GateDecision(string, string) {}

type Option func(*Cache)

func WithClock(clock ports.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithMetrics(metrics ports.Metrics) Option {
	return func(c *Cache) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithRefreshTimeout bounds loads started in response to auth events.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// ForSubject scopes session events to one subject. Without it the cache
// reacts to every session event on the bus.
func ForSubject(subject string) Option {
	return func(c *Cache) { c.subject = subject }
}

// Cache holds the permission set of one identity. Loads may overlap; only
// the result of the most recently issued load is applied.
type Cache struct {
	reader         ports.PermissionReader
	identity       ports.IdentitySource
	logger         ports.Logger
	clock          ports.Clock
	metrics        ports.Metrics
	subject        string
	refreshTimeout time.Duration

	mu      sync.Mutex
	state   State
	issued  uint64
	settled chan struct{}

	// resolving is the person found by the newest in-flight load, 0 until
	// one has been resolved.
	resolving int64
}

func NewCache(reader ports.PermissionReader, identity ports.IdentitySource, logger ports.Logger, opts ...Option) *Cache {
	c := &Cache{
		reader:         reader,
		identity:       identity,
		logger:         logger,
		clock:          systemClock{},
		metrics:        noopMetrics{},
		refreshTimeout: 10 * time.Second,
		state:          State{Loading: true, Permissions: domain.NewPermissionSet()},
		settled:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Has tests membership against the last applied permission set.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Permissions.Has(key)
}

// Load derives the permission set of id and applies it unless a newer load
// was issued in the meantime.
func (c *Cache) Load(ctx context.Context, id *domain.Identity) State {
	seq := c.begin()
	return c.settle(ctx, seq, c.derive(ctx, id))
}

// Refresh re-runs Load with the identity currently reported by the source.
func (c *Cache) Refresh(ctx context.Context) State {
	seq := c.begin()
	return c.settle(ctx, seq, c.deriveCurrent(ctx))
}

// Wait blocks until no load is outstanding or ctx is done. On ctx expiry the
// returned state still has Loading set.
func (c *Cache) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		st, settled := c.state, c.settled
		c.mu.Unlock()
		if !st.Loading {
			return st, nil
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Subscribe refreshes the cache whenever bus announces an event concerning
// its subject or its resolved person. The returned func unsubscribes.
func (c *Cache) Subscribe(bus ports.AuthEventBus) (unsubscribe func()) {
	return bus.Subscribe(func(event ports.AuthEvent) {
		if c.concerns(event) {
			c.refreshAsync()
		}
	})
}

func (c *Cache) concerns(event ports.AuthEvent) bool {
	switch event.Kind {
	case ports.AuthSignedIn, ports.AuthSignedOut, ports.AuthTokenRefreshed:
		return c.subject == "" || event.Subject == c.subject
	case ports.AuthGrantsChanged:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state.User != nil && c.state.User.ID == event.PersonID {
			return true
		}
		// A load in flight may have read grants before the change landed.
		if !c.state.Loading {
			return false
		}
		return c.resolving == 0 || c.resolving == event.PersonID
	default:
		return false
	}
}

// refreshAsync marks the cache loading before returning so that a Wait
// issued after the triggering event observes the new load.
func (c *Cache) refreshAsync() {
	seq := c.begin()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		c.settle(ctx, seq, c.deriveCurrent(ctx))
	}()
}

func (c *Cache) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	c.resolving = 0
	if !c.state.Loading {
		c.state.Loading = true
		c.settled = make(chan struct{})
	}
	return c.issued
}

func (c *Cache) settle(ctx context.Context, seq uint64, next State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.issued {
		c.metrics.CacheLoad(OutcomeStale)
		c.logger.Debug(ctx, "discarding superseded permission load", "seq", seq, "latest", c.issued)
		return c.state
	}
	next.Loading = false
	c.state = next
	close(c.settled)
	return next
}

func (c *Cache) deriveCurrent(ctx context.Context) State {
	id, err := c.identity.Current(ctx)
	if err != nil {
		c.logger.Error(ctx, "failed to read session identity", "error", err)
		c.metrics.CacheLoad(OutcomeError)
		return emptyState()
	}
	return c.derive(ctx, id)
}

func (c *Cache) derive(ctx context.Context, id *domain.Identity) State {
	if id == nil || strings.TrimSpace(id.Email) == "" {
		c.metrics.CacheLoad(OutcomeNoIdentity)
		return emptyState()
	}
	person, err := c.reader.FindPersonByEmail(ctx, id.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn(ctx, "identity has no matching person", "email", id.Email)
			c.metrics.CacheLoad(OutcomeNoUser)
			return emptyState()
		}
		c.logger.Error(ctx, "failed to resolve person", "email", id.Email, "error", err)
		c.metrics.CacheLoad(OutcomeError)
		return emptyState()
	}
	c.mu.Lock()
	c.resolving = person.ID
	c.mu.Unlock()
	grants, err := c.reader.ListGrantsForPerson(ctx, person.ID)
	if err != nil {
		c.logger.Error(ctx, "failed to load permission grants", "person_id", person.ID, "error", err)
		c.metrics.CacheLoad(OutcomeError)
		return State{Permissions: domain.NewPermissionSet(), User: &person}
	}
	set := domain.ActivePermissions(grants, c.clock.Now())
	c.metrics.CacheLoad(OutcomeOK)
	c.logger.Debug(ctx, "loaded permissions", "person_id", person.ID, "grants", len(grants), "active", set.Len())
	return State{Permissions: set, User: &person}
}

func emptyState() State {
	return State{Permissions: domain.NewPermissionSet()}
}
