package permissions

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"admin-console/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Debug(context.Context, string, ...any) {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type readerMock struct{ mock.Mock }

func (m *readerMock) FindPersonByEmail(ctx context.Context, email string) (domain.Person, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Person), args.Error(1)
}

func (m *readerMock) ListGrantsForPerson(ctx context.Context, personID int64) ([]domain.Grant, error) {
	args := m.Called(ctx, personID)
	return args.Get(0).([]domain.Grant), args.Error(1)
}

type staticIdentity struct {
	id  *domain.Identity
	err error
}

func (s staticIdentity) Current(context.Context) (*domain.Identity, error) { return s.id, s.err }

type countingMetrics struct {
	mu    sync.Mutex
	loads map[string]int
}

func (m *countingMetrics) CacheLoad(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loads == nil {
		m.loads = map[string]int{}
	}
	m.loads[outcome]++
}

func (m *countingMetrics) GateDecision(string, string) {}

func (m *countingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[outcome]
}

// memoryReader is a mutable in-memory permission store.
type memoryReader struct {
	mu     sync.Mutex
	people map[string]domain.Person
	grants map[int64][]domain.Grant
	calls  int
}

func newMemoryReader() *memoryReader {
	return &memoryReader{people: map[string]domain.Person{}, grants: map[int64][]domain.Grant{}}
}

func (r *memoryReader) addPerson(p domain.Person, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.people[p.Email] = p
	r.grants[p.ID] = nil
	for _, k := range keys {
		r.grants[p.ID] = append(r.grants[p.ID], grantOf(k, nil))
	}
}

func (r *memoryReader) setGrants(personID int64, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[personID] = nil
	for _, k := range keys {
		r.grants[personID] = append(r.grants[personID], grantOf(k, nil))
	}
}

func (r *memoryReader) grantCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *memoryReader) FindPersonByEmail(_ context.Context, email string) (domain.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.people[email]
	if !ok {
		return domain.Person{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *memoryReader) ListGrantsForPerson(_ context.Context, personID int64) ([]domain.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return append([]domain.Grant(nil), r.grants[personID]...), nil
}

func grantOf(key string, expiresAt *time.Time) domain.Grant {
	return domain.Grant{
		PersonID:     1,
		PermissionID: "perm-" + key,
		Permission:   &domain.Permission{ID: "perm-" + key, Key: key},
		ExpiresAt:    expiresAt,
	}
}
