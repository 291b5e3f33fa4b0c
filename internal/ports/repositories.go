package ports

import (
	"context"

	"admin-console/internal/domain"
)

// PermissionReader is the read side of the permission store used by the
// permission cache.
type PermissionReader interface {
	FindPersonByEmail(ctx context.Context, email string) (domain.Person, error)
	ListGrantsForPerson(ctx context.Context, personID int64) ([]domain.Grant, error)
}

type PermissionStore interface {
	PermissionReader
	GetPerson(ctx context.Context, personID int64) (domain.Person, error)
	ListPermissions(ctx context.Context) ([]domain.Permission, error)
	ListPeopleWithGrants(ctx context.Context) ([]domain.Person, map[int64][]domain.Grant, error)
	ReplaceGrants(ctx context.Context, personID int64, grants []domain.Grant) error
	InsertGrant(ctx context.Context, grant domain.Grant) error
	DeleteGrant(ctx context.Context, personID int64, permissionID string) error
}

// Seeder writes catalog, people and teams out of band.
type Seeder interface {
	UpsertPermission(ctx context.Context, permission domain.Permission) error
	UpsertPerson(ctx context.Context, person domain.Person) error
	UpsertTeam(ctx context.Context, team domain.Team) error
}

type RosterRepository interface {
	ListTeams(ctx context.Context) ([]domain.Team, error)
	UpdateTeamOrder(ctx context.Context, changes []domain.OrderChange) error
	ListMembers(ctx context.Context, teamID int64) ([]domain.Person, error)
	UpdateMemberOrder(ctx context.Context, changes []domain.OrderChange) error
}
