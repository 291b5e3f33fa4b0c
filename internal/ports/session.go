package ports

import (
	"context"

	"admin-console/internal/domain"
)

// IdentitySource yields the identity a permission cache is scoped to. A nil
// identity means nobody is signed in.
type IdentitySource interface {
	Current(ctx context.Context) (*domain.Identity, error)
}

type AuthEventKind string

const (
	AuthSignedIn       AuthEventKind = "signed_in"
	AuthSignedOut      AuthEventKind = "signed_out"
	AuthTokenRefreshed AuthEventKind = "token_refreshed"
	AuthGrantsChanged  AuthEventKind = "grants_changed"
)

// AuthEvent announces a change that may invalidate derived permission sets.
// Session events carry Subject; grant events carry PersonID.
type AuthEvent struct {
	Kind     AuthEventKind `json:"kind"`
	Subject  string        `json:"subject,omitempty"`
	PersonID int64         `json:"person_id,omitempty"`
}

type AuthEventBus interface {
	Publish(ctx context.Context, event AuthEvent) error
	Subscribe(fn func(AuthEvent)) (unsubscribe func())
}
