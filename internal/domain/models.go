package domain

import "time"

// Module permission keys. Every protected area of the console requires one.
const (
	PermissionEvents  = "events"
	PermissionPhotos  = "photos"
	PermissionTeam    = "team"
	PermissionQueries = "queries"
)

// Identity is the principal carried by a verified session token.
type Identity struct {
	Subject  string    `json:"subject"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	IssuedAt time.Time `json:"issued_at"`
}

// Person is the internal user row an Identity resolves to.
type Person struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	CanLogin     bool   `json:"can_login"`
	IsActive     bool   `json:"is_active"`
	TeamID       *int64 `json:"team_id,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

type Permission struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

type Grant struct {
	ID           string      `json:"id"`
	PersonID     int64       `json:"person_id"`
	PermissionID string      `json:"permission_id"`
	Permission   *Permission `json:"permission,omitempty"`
	GrantedAt    time.Time   `json:"granted_at"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	GrantedBy    *int64      `json:"granted_by,omitempty"`
}

// ActiveAt reports whether the grant is in force at now. A grant without an
// expiry never lapses.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// GrantRequest is one entry of a wholesale grant replacement.
type GrantRequest struct {
	PermissionID string     `json:"permission_id"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// PersonSummary is a person listed together with the number of grants in force.
type PersonSummary struct {
	Person
	ActivePermissions int `json:"active_permissions_count"`
}

type Team struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

// OrderChange assigns a new display order to a team or a member.
type OrderChange struct {
	ID           int64 `json:"id"`
	DisplayOrder int   `json:"display_order"`
}
