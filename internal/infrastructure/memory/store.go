// Package memory is a process-local store for development and tests. It
// implements the same ports as the DynamoDB and Postgres stores.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

var (
	_ ports.PermissionStore  = (*Store)(nil)
	_ ports.Seeder           = (*Store)(nil)
	_ ports.RosterRepository = (*Store)(nil)
)

type Store struct {
	mu          sync.RWMutex
	people      map[int64]domain.Person
	emails      map[string]int64
	permissions map[string]domain.Permission
	grants      map[int64]map[string]domain.Grant
	teams       map[int64]domain.Team
}

func NewStore() *Store {
	return &Store{
		people:      make(map[int64]domain.Person),
		emails:      make(map[string]int64),
		permissions: make(map[string]domain.Permission),
		grants:      make(map[int64]map[string]domain.Grant),
		teams:       make(map[int64]domain.Team),
	}
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *Store) FindPersonByEmail(_ context.Context, email string) (domain.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[normalize(email)]
	if !ok {
		return domain.Person{}, domain.ErrNotFound
	}
	return s.people[id], nil
}

func (s *Store) GetPerson(_ context.Context, personID int64) (domain.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.people[personID]
	if !ok {
		return domain.Person{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPermissions(context.Context) ([]domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// joined copies the grants of personID with their catalog entry attached.
// Callers hold s.mu.
func (s *Store) joined(personID int64) []domain.Grant {
	out := make([]domain.Grant, 0, len(s.grants[personID]))
	for _, g := range s.grants[personID] {
		g.Permission = nil
		if p, ok := s.permissions[g.PermissionID]; ok {
			g.Permission = &p
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out
}

func (s *Store) ListGrantsForPerson(_ context.Context, personID int64) ([]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined(personID), nil
}

func (s *Store) ListPeopleWithGrants(context.Context) ([]domain.Person, map[int64][]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	people := make([]domain.Person, 0, len(s.people))
	grants := make(map[int64][]domain.Grant, len(s.grants))
	for id, p := range s.people {
		people = append(people, p)
		if g := s.joined(id); len(g) > 0 {
			grants[id] = g
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people, grants, nil
}

func (s *Store) ReplaceGrants(_ context.Context, personID int64, grants []domain.Grant) error {
	next := make(map[string]domain.Grant, len(grants))
	for _, g := range grants {
		g.Permission = nil
		next[g.PermissionID] = g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[personID] = next
	return nil
}

func (s *Store) InsertGrant(_ context.Context, grant domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.grants[grant.PersonID]
	if held == nil {
		held = make(map[string]domain.Grant)
		s.grants[grant.PersonID] = held
	}
	if _, ok := held[grant.PermissionID]; ok {
		return domain.ErrConflict
	}
	grant.Permission = nil
	held[grant.PermissionID] = grant
	return nil
}

func (s *Store) DeleteGrant(_ context.Context, personID int64, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[personID], permissionID)
	return nil
}

func (s *Store) UpsertPermission(_ context.Context, p domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[p.ID] = p
	return nil
}

func (s *Store) UpsertPerson(_ context.Context, p domain.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.emails[normalize(p.Email)]; ok && owner != p.ID {
		return domain.ErrConflict
	}
	if prev, ok := s.people[p.ID]; ok {
		delete(s.emails, normalize(prev.Email))
	}
	s.people[p.ID] = p
	s.emails[normalize(p.Email)] = p.ID
	return nil
}

func (s *Store) UpsertTeam(_ context.Context, t domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = t
	return nil
}

func (s *Store) ListTeams(context.Context) ([]domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListMembers(_ context.Context, teamID int64) ([]domain.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Person
	for _, p := range s.people {
		if p.TeamID != nil && *p.TeamID == teamID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateTeamOrder applies every change or none.
func (s *Store) UpdateTeamOrder(_ context.Context, changes []domain.OrderChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if _, ok := s.teams[c.ID]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, c := range changes {
		t := s.teams[c.ID]
		t.DisplayOrder = c.DisplayOrder
		s.teams[c.ID] = t
	}
	return nil
}

// UpdateMemberOrder applies every change or none.
func (s *Store) UpdateMemberOrder(_ context.Context, changes []domain.OrderChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if _, ok := s.people[c.ID]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, c := range changes {
		p := s.people[c.ID]
		p.DisplayOrder = c.DisplayOrder
		s.people[c.ID] = p
	}
	return nil
}
