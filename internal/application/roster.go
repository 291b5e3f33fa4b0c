package application

import (
	"context"
	"sort"
	"sync"

	"admin-console/internal/application/ordering"
	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

// RosterService orders teams and team members. Reorders are applied
// optimistically and rolled back when the repository rejects them.
type RosterService struct {
	repo   ports.RosterRepository
	logger ports.Logger

	teams   ordering.Board
	mu      sync.Mutex
	members map[int64]*ordering.Board
}

func NewRosterService(repo ports.RosterRepository, logger ports.Logger) *RosterService {
	return &RosterService{repo: repo, logger: logger, members: make(map[int64]*ordering.Board)}
}

func (s *RosterService) ListTeams(ctx context.Context) ([]domain.Team, error) {
	teams, err := s.repo.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	sortTeams(teams)
	return teams, nil
}

// MoveTeam swaps teamID with the team above or below it.
func (s *RosterService) MoveTeam(ctx context.Context, teamID int64, dir ordering.Direction) ([]domain.Team, error) {
	var listed map[int64]domain.Team
	snap, err := s.teams.Execute(ctx, ordering.Command{
		Load: func(ctx context.Context) (ordering.Snapshot, error) {
			teams, err := s.repo.ListTeams(ctx)
			if err != nil {
				return nil, err
			}
			listed = make(map[int64]domain.Team, len(teams))
			items := make([]ordering.Item, 0, len(teams))
			for _, t := range teams {
				listed[t.ID] = t
				items = append(items, ordering.Item{ID: t.ID, Order: t.DisplayOrder})
			}
			return ordering.NewSnapshot(items), nil
		},
		Apply: func(current ordering.Snapshot) (ordering.Snapshot, []domain.OrderChange, error) {
			return current.Move(teamID, dir)
		},
		Commit: s.repo.UpdateTeamOrder,
	})
	if err != nil {
		s.logger.Warn(ctx, "team move rolled back", "team_id", teamID, "direction", string(dir), "error", err)
		return nil, err
	}

	out := make([]domain.Team, 0, len(snap))
	for _, item := range snap {
		t := listed[item.ID]
		t.DisplayOrder = item.Order
		out = append(out, t)
	}
	return out, nil
}

// ReorderMembers renumbers the members of teamID in the order given.
func (s *RosterService) ReorderMembers(ctx context.Context, teamID int64, personIDs []int64) ([]domain.Person, error) {
	if teamID <= 0 {
		return nil, domain.ErrInvalidInput
	}
	var listed map[int64]domain.Person
	snap, err := s.memberBoard(teamID).Execute(ctx, ordering.Command{
		Load: func(ctx context.Context) (ordering.Snapshot, error) {
			people, err := s.repo.ListMembers(ctx, teamID)
			if err != nil {
				return nil, err
			}
			listed = make(map[int64]domain.Person, len(people))
			items := make([]ordering.Item, 0, len(people))
			for _, p := range people {
				listed[p.ID] = p
				items = append(items, ordering.Item{ID: p.ID, Order: p.DisplayOrder})
			}
			return ordering.NewSnapshot(items), nil
		},
		Apply: func(current ordering.Snapshot) (ordering.Snapshot, []domain.OrderChange, error) {
			return current.Renumber(personIDs)
		},
		Commit: s.repo.UpdateMemberOrder,
	})
	if err != nil {
		s.logger.Warn(ctx, "member reorder rolled back", "team_id", teamID, "error", err)
		return nil, err
	}

	out := make([]domain.Person, 0, len(snap))
	for _, item := range snap {
		p := listed[item.ID]
		p.DisplayOrder = item.Order
		out = append(out, p)
	}
	return out, nil
}

func (s *RosterService) memberBoard(teamID int64) *ordering.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.members[teamID]
	if !ok {
		b = &ordering.Board{}
		s.members[teamID] = b
	}
	return b
}

func sortTeams(teams []domain.Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].DisplayOrder != teams[j].DisplayOrder {
			return teams[i].DisplayOrder < teams[j].DisplayOrder
		}
		return teams[i].ID < teams[j].ID
	})
}
