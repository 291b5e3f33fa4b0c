package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"admin-console/internal/application/ordering"
	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

var (
	now     = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	catalog = []domain.Permission{
		{ID: "p-team", Key: domain.PermissionTeam},
		{ID: "p-events", Key: domain.PermissionEvents},
	}
	alice = domain.Person{ID: 7, Email: "alice@example.org", FullName: "Alice", CanLogin: true}
	admin = &domain.Person{ID: 1, FullName: "Admin", CanLogin: true}
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Debug(context.Context, string, ...any) {}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type storeMock struct{ mock.Mock }

func (m *storeMock) FindPersonByEmail(ctx context.Context, email string) (domain.Person, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Person), args.Error(1)
}

func (m *storeMock) ListGrantsForPerson(ctx context.Context, personID int64) ([]domain.Grant, error) {
	args := m.Called(ctx, personID)
	return args.Get(0).([]domain.Grant), args.Error(1)
}

func (m *storeMock) GetPerson(ctx context.Context, personID int64) (domain.Person, error) {
	args := m.Called(ctx, personID)
	return args.Get(0).(domain.Person), args.Error(1)
}

func (m *storeMock) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Permission), args.Error(1)
}

func (m *storeMock) ListPeopleWithGrants(ctx context.Context) ([]domain.Person, map[int64][]domain.Grant, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Person), args.Get(1).(map[int64][]domain.Grant), args.Error(2)
}

func (m *storeMock) ReplaceGrants(ctx context.Context, personID int64, grants []domain.Grant) error {
	return m.Called(ctx, personID, grants).Error(0)
}

func (m *storeMock) InsertGrant(ctx context.Context, grant domain.Grant) error {
	return m.Called(ctx, grant).Error(0)
}

func (m *storeMock) DeleteGrant(ctx context.Context, personID int64, permissionID string) error {
	return m.Called(ctx, personID, permissionID).Error(0)
}

type busMock struct{ mock.Mock }

func (m *busMock) Publish(ctx context.Context, event ports.AuthEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *busMock) Subscribe(func(ports.AuthEvent)) func() { return func() {} }

func newAdmin(store *storeMock, bus *busMock) *PermissionAdminService {
	svc := NewPermissionAdminService(store, bus, nopLogger{}, fixedClock{})
	n := 0
	svc.newID = func() string {
		n++
		return "grant-" + string(rune('0'+n))
	}
	return svc
}

func grantsChanged(personID int64) ports.AuthEvent {
	return ports.AuthEvent{Kind: ports.AuthGrantsChanged, PersonID: personID}
}

func TestAccessService_CheckLogin(t *testing.T) {
	store := new(storeMock)
	store.On("FindPersonByEmail", mock.Anything, "alice@example.org").Return(alice, nil)
	store.On("FindPersonByEmail", mock.Anything, "bob@example.org").Return(domain.Person{ID: 8, CanLogin: false}, nil)
	store.On("FindPersonByEmail", mock.Anything, "ghost@example.org").Return(domain.Person{}, domain.ErrNotFound)
	store.On("FindPersonByEmail", mock.Anything, "down@example.org").Return(domain.Person{}, errors.New("db down"))
	svc := NewAccessService(store, nopLogger{})

	got, err := svc.CheckLogin(context.Background(), domain.Identity{Email: "alice@example.org"})
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = svc.CheckLogin(context.Background(), domain.Identity{Email: "bob@example.org"})
	assert.ErrorIs(t, err, domain.ErrLoginRestricted)

	_, err = svc.CheckLogin(context.Background(), domain.Identity{Email: "ghost@example.org"})
	assert.ErrorIs(t, err, domain.ErrLoginRestricted)

	_, err = svc.CheckLogin(context.Background(), domain.Identity{Email: "down@example.org"})
	assert.EqualError(t, err, "db down")

	_, err = svc.CheckLogin(context.Background(), domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLoginAllowed(t *testing.T) {
	assert.ErrorIs(t, LoginAllowed(nil), domain.ErrLoginRestricted)
	assert.ErrorIs(t, LoginAllowed(&domain.Person{}), domain.ErrLoginRestricted)
	assert.NoError(t, LoginAllowed(&alice))
}

func TestPermissionAdminService_Catalog_SortedByKey(t *testing.T) {
	store := new(storeMock)
	store.On("ListPermissions", mock.Anything).Return(append([]domain.Permission(nil), catalog...), nil)
	svc := newAdmin(store, new(busMock))

	got, err := svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "team"}, []string{got[0].Key, got[1].Key})
}

func TestPermissionAdminService_ReplaceGrants(t *testing.T) {
	store := new(storeMock)
	bus := new(busMock)
	later := now.Add(48 * time.Hour)
	store.On("GetPerson", mock.Anything, int64(7)).Return(alice, nil)
	store.On("ListPermissions", mock.Anything).Return(catalog, nil)
	store.On("ReplaceGrants", mock.Anything, int64(7), mock.MatchedBy(func(gs []domain.Grant) bool {
		return len(gs) == 2 &&
			gs[0].PermissionID == "p-team" && gs[0].ExpiresAt == nil &&
			gs[1].PermissionID == "p-events" && gs[1].ExpiresAt.Equal(later) &&
			gs[0].GrantedAt.Equal(now) && *gs[0].GrantedBy == int64(1) &&
			gs[0].ID != gs[1].ID
	})).Return(nil)
	bus.On("Publish", mock.Anything, grantsChanged(7)).Return(nil)
	svc := newAdmin(store, bus)

	grants, err := svc.ReplaceGrants(context.Background(), admin, 7, []domain.GrantRequest{
		{PermissionID: "p-team"},
		{PermissionID: "p-events", ExpiresAt: &later},
	})
	require.NoError(t, err)
	assert.Len(t, grants, 2)
	assert.Equal(t, domain.PermissionEvents, grants[1].Permission.Key)
	store.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestPermissionAdminService_ReplaceGrants_EmptyClearsAll(t *testing.T) {
	store := new(storeMock)
	bus := new(busMock)
	store.On("GetPerson", mock.Anything, int64(7)).Return(alice, nil)
	store.On("ListPermissions", mock.Anything).Return(catalog, nil)
	store.On("ReplaceGrants", mock.Anything, int64(7), []domain.Grant{}).Return(nil)
	bus.On("Publish", mock.Anything, grantsChanged(7)).Return(nil)

	_, err := newAdmin(store, bus).ReplaceGrants(context.Background(), admin, 7, nil)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestPermissionAdminService_ReplaceGrants_Validation(t *testing.T) {
	past := now.Add(-time.Hour)
	tests := []struct {
		name     string
		requests []domain.GrantRequest
	}{
		{"unknown permission", []domain.GrantRequest{{PermissionID: "p-nope"}}},
		{"duplicate permission", []domain.GrantRequest{{PermissionID: "p-team"}, {PermissionID: "p-team"}}},
		{"expiry in the past", []domain.GrantRequest{{PermissionID: "p-team", ExpiresAt: &past}}},
		{"expiry equal to now", []domain.GrantRequest{{PermissionID: "p-team", ExpiresAt: &now}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(storeMock)
			store.On("GetPerson", mock.Anything, int64(7)).Return(alice, nil)
			store.On("ListPermissions", mock.Anything).Return(catalog, nil)
			bus := new(busMock)

			_, err := newAdmin(store, bus).ReplaceGrants(context.Background(), admin, 7, tt.requests)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			store.AssertNotCalled(t, "ReplaceGrants", mock.Anything, mock.Anything, mock.Anything)
			bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func TestPermissionAdminService_ReplaceGrants_UnknownPerson(t *testing.T) {
	store := new(storeMock)
	store.On("GetPerson", mock.Anything, int64(99)).Return(domain.Person{}, domain.ErrNotFound)

	_, err := newAdmin(store, new(busMock)).ReplaceGrants(context.Background(), admin, 99, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPermissionAdminService_Grant(t *testing.T) {
	store := new(storeMock)
	bus := new(busMock)
	store.On("GetPerson", mock.Anything, int64(7)).Return(alice, nil)
	store.On("ListPermissions", mock.Anything).Return(catalog, nil)
	store.On("ListGrantsForPerson", mock.Anything, int64(7)).Return([]domain.Grant{}, nil)
	store.On("InsertGrant", mock.Anything, mock.MatchedBy(func(g domain.Grant) bool {
		return g.PersonID == 7 && g.PermissionID == "p-events" && g.ID == "grant-1"
	})).Return(nil)
	bus.On("Publish", mock.Anything, grantsChanged(7)).Return(nil)

	grant, err := newAdmin(store, bus).Grant(context.Background(), admin, 7, "p-events", nil)
	require.NoError(t, err)
	assert.Equal(t, "grant-1", grant.ID)
	bus.AssertExpectations(t)
}

func TestPermissionAdminService_Grant_DuplicateConflicts(t *testing.T) {
	store := new(storeMock)
	store.On("GetPerson", mock.Anything, int64(7)).Return(alice, nil)
	store.On("ListPermissions", mock.Anything).Return(catalog, nil)
	store.On("ListGrantsForPerson", mock.Anything, int64(7)).Return([]domain.Grant{{PermissionID: "p-events"}}, nil)

	_, err := newAdmin(store, new(busMock)).Grant(context.Background(), admin, 7, "p-events", nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	store.AssertNotCalled(t, "InsertGrant", mock.Anything, mock.Anything)
}

func TestPermissionAdminService_Revoke_PublishFailureIsNotFatal(t *testing.T) {
	store := new(storeMock)
	bus := new(busMock)
	store.On("DeleteGrant", mock.Anything, int64(7), "p-team").Return(nil)
	bus.On("Publish", mock.Anything, grantsChanged(7)).Return(errors.New("redis unavailable"))

	require.NoError(t, newAdmin(store, bus).Revoke(context.Background(), 7, "p-team"))
	bus.AssertExpectations(t)
}

func TestPermissionAdminService_Revoke_InvalidInput(t *testing.T) {
	svc := newAdmin(new(storeMock), new(busMock))
	assert.ErrorIs(t, svc.Revoke(context.Background(), 0, "p-team"), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Revoke(context.Background(), 7, ""), domain.ErrInvalidInput)
}

func TestPermissionAdminService_HasPermission_IgnoresExpired(t *testing.T) {
	past := now.Add(-time.Minute)
	store := new(storeMock)
	store.On("ListGrantsForPerson", mock.Anything, int64(7)).Return([]domain.Grant{
		{PermissionID: "p-team", Permission: &catalog[0], ExpiresAt: &past},
		{PermissionID: "p-events", Permission: &catalog[1]},
	}, nil)
	svc := newAdmin(store, new(busMock))

	ok, err := svc.HasPermission(context.Background(), 7, domain.PermissionTeam)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasPermission(context.Background(), 7, domain.PermissionEvents)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionAdminService_PeopleWithCounts(t *testing.T) {
	past := now.Add(-time.Minute)
	store := new(storeMock)
	people := []domain.Person{{ID: 2, FullName: "Zed"}, {ID: 3, FullName: "Ann"}}
	grants := map[int64][]domain.Grant{
		2: {{Permission: &catalog[0]}, {Permission: &catalog[1], ExpiresAt: &past}},
	}
	store.On("ListPeopleWithGrants", mock.Anything).Return(people, grants, nil)

	got, err := newAdmin(store, new(busMock)).PeopleWithCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ann", got[0].FullName)
	assert.Equal(t, 0, got[0].ActivePermissions)
	assert.Equal(t, 1, got[1].ActivePermissions)
}

type rosterMock struct{ mock.Mock }

func (m *rosterMock) ListTeams(ctx context.Context) ([]domain.Team, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Team), args.Error(1)
}

func (m *rosterMock) UpdateTeamOrder(ctx context.Context, changes []domain.OrderChange) error {
	return m.Called(ctx, changes).Error(0)
}

func (m *rosterMock) ListMembers(ctx context.Context, teamID int64) ([]domain.Person, error) {
	args := m.Called(ctx, teamID)
	return args.Get(0).([]domain.Person), args.Error(1)
}

func (m *rosterMock) UpdateMemberOrder(ctx context.Context, changes []domain.OrderChange) error {
	return m.Called(ctx, changes).Error(0)
}

var rosterTeams = []domain.Team{
	{ID: 1, Name: "Board", DisplayOrder: 1},
	{ID: 2, Name: "Events", DisplayOrder: 2},
	{ID: 3, Name: "Photo", DisplayOrder: 3},
}

func TestRosterService_MoveTeam(t *testing.T) {
	repo := new(rosterMock)
	repo.On("ListTeams", mock.Anything).Return(append([]domain.Team(nil), rosterTeams...), nil)
	repo.On("UpdateTeamOrder", mock.Anything, mock.MatchedBy(func(cs []domain.OrderChange) bool {
		return len(cs) == 2
	})).Return(nil)
	svc := NewRosterService(repo, nopLogger{})

	got, err := svc.MoveTeam(context.Background(), 3, ordering.Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"Board", "Photo", "Events"}, []string{got[0].Name, got[1].Name, got[2].Name})
	assert.Equal(t, 2, got[1].DisplayOrder)
	repo.AssertExpectations(t)
}

func TestRosterService_MoveTeam_RollsBackOnFailure(t *testing.T) {
	repo := new(rosterMock)
	repo.On("ListTeams", mock.Anything).Return(append([]domain.Team(nil), rosterTeams...), nil)
	repo.On("UpdateTeamOrder", mock.Anything, mock.Anything).Return(errors.New("write failed"))
	svc := NewRosterService(repo, nopLogger{})

	_, err := svc.MoveTeam(context.Background(), 2, ordering.Down)
	require.Error(t, err)
	current := svc.teams.Current()
	assert.Equal(t, []int64{1, 2, 3}, []int64{current[0].ID, current[1].ID, current[2].ID})
}

func TestRosterService_MoveTeam_EdgeDoesNotWrite(t *testing.T) {
	repo := new(rosterMock)
	repo.On("ListTeams", mock.Anything).Return(append([]domain.Team(nil), rosterTeams...), nil)
	svc := NewRosterService(repo, nopLogger{})

	got, err := svc.MoveTeam(context.Background(), 1, ordering.Up)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	repo.AssertNotCalled(t, "UpdateTeamOrder", mock.Anything, mock.Anything)
}

func TestRosterService_ReorderMembers(t *testing.T) {
	repo := new(rosterMock)
	repo.On("ListMembers", mock.Anything, int64(2)).Return([]domain.Person{
		{ID: 10, FullName: "A", DisplayOrder: 1},
		{ID: 11, FullName: "B", DisplayOrder: 2},
	}, nil)
	repo.On("UpdateMemberOrder", mock.Anything, []domain.OrderChange{
		{ID: 11, DisplayOrder: 1},
		{ID: 10, DisplayOrder: 2},
	}).Return(nil)
	svc := NewRosterService(repo, nopLogger{})

	got, err := svc.ReorderMembers(context.Background(), 2, []int64{11, 10})
	require.NoError(t, err)
	assert.Equal(t, "B", got[0].FullName)
	repo.AssertExpectations(t)

	_, err = svc.ReorderMembers(context.Background(), 2, []int64{11})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRosterService_ListTeams_Sorted(t *testing.T) {
	repo := new(rosterMock)
	repo.On("ListTeams", mock.Anything).Return([]domain.Team{rosterTeams[2], rosterTeams[0], rosterTeams[1]}, nil)

	got, err := NewRosterService(repo, nopLogger{}).ListTeams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[2].ID)
}
