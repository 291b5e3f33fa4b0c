package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"admin-console/internal/domain"
)

// Seed is the YAML document used to bootstrap a store: the permission
// catalog and, for development, teams and people.
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Teams       []SeedTeam       `yaml:"teams"`
	People      []SeedPerson     `yaml:"people"`
}

type SeedPermission struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

type SeedTeam struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Order int    `yaml:"display_order"`
}

type SeedPerson struct {
	ID       int64  `yaml:"id"`
	Email    string `yaml:"email"`
	FullName string `yaml:"full_name"`
	CanLogin bool   `yaml:"can_login"`
	TeamID   *int64 `yaml:"team_id"`
	Order    int    `yaml:"display_order"`
	// Grants lists permission keys granted without expiry.
	Grants []string `yaml:"grants"`
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return seed, seed.validate()
}

func (s Seed) validate() error {
	ids := map[string]bool{}
	keys := map[string]bool{}
	for _, p := range s.Permissions {
		if p.ID == "" || p.Key == "" {
			return fmt.Errorf("permission %q: id and key are required: %w", p.Key, domain.ErrInvalidInput)
		}
		if ids[p.ID] || keys[p.Key] {
			return fmt.Errorf("permission %q declared twice: %w", p.Key, domain.ErrInvalidInput)
		}
		ids[p.ID], keys[p.Key] = true, true
	}
	for _, person := range s.People {
		for _, key := range person.Grants {
			if !keys[key] {
				return fmt.Errorf("person %s: unknown permission %q: %w", person.Email, key, domain.ErrInvalidInput)
			}
		}
	}
	return nil
}

func (s Seed) Catalog() []domain.Permission {
	out := make([]domain.Permission, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		out = append(out, domain.Permission{ID: p.ID, Key: p.Key, Description: p.Description})
	}
	return out
}

func (s Seed) TeamList() []domain.Team {
	out := make([]domain.Team, 0, len(s.Teams))
	for _, t := range s.Teams {
		out = append(out, domain.Team{ID: t.ID, Name: t.Name, DisplayOrder: t.Order})
	}
	return out
}

func (s Seed) PeopleList() []domain.Person {
	out := make([]domain.Person, 0, len(s.People))
	for _, p := range s.People {
		out = append(out, domain.Person{
			ID:           p.ID,
			Email:        p.Email,
			FullName:     p.FullName,
			CanLogin:     p.CanLogin,
			IsActive:     true,
			TeamID:       p.TeamID,
			DisplayOrder: p.Order,
		})
	}
	return out
}

// PermissionID returns the catalog id declared for key.
func (s Seed) PermissionID(key string) (string, bool) {
	for _, p := range s.Permissions {
		if p.Key == key {
			return p.ID, true
		}
	}
	return "", false
}
