package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// LoginAllowed reports whether a resolved person may use the console.
func LoginAllowed(person *domain.Person) error {
	if person == nil || !person.CanLogin {
		return domain.ErrLoginRestricted
	}
	return nil
}

type AccessService struct {
	reader ports.PermissionReader
	logger ports.Logger
}

func NewAccessService(reader ports.PermissionReader, logger ports.Logger) *AccessService {
	return &AccessService{reader: reader, logger: logger}
}

// CheckLogin resolves id to a person and rejects identities without a
// matching person or without login access.
func (s *AccessService) CheckLogin(ctx context.Context, id domain.Identity) (domain.Person, error) {
	if id.Email == "" {
		return domain.Person{}, domain.ErrUnauthenticated
	}
	person, err := s.reader.FindPersonByEmail(ctx, id.Email)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn(ctx, "login rejected: unknown email", "subject", id.Subject)
		return domain.Person{}, domain.ErrLoginRestricted
	}
	if err != nil {
		return domain.Person{}, err
	}
	if err := LoginAllowed(&person); err != nil {
		s.logger.Warn(ctx, "login rejected: access disabled", "person_id", person.ID)
		return domain.Person{}, err
	}
	return person, nil
}

type PermissionAdminService struct {
	store  ports.PermissionStore
	bus    ports.AuthEventBus
	logger ports.Logger
	clock  ports.Clock
	newID  func() string
}

// NewPermissionAdminService wires the grant administration use cases. bus
// may be nil when no cache needs to hear about grant changes.
func NewPermissionAdminService(store ports.PermissionStore, bus ports.AuthEventBus, logger ports.Logger, clock ports.Clock) *PermissionAdminService {
	if clock == nil {
		clock = systemClock{}
	}
	return &PermissionAdminService{store: store, bus: bus, logger: logger, clock: clock, newID: uuid.NewString}
}

func (s *PermissionAdminService) Catalog(ctx context.Context) ([]domain.Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })
	return perms, nil
}

func (s *PermissionAdminService) PersonGrants(ctx context.Context, personID int64) ([]domain.Grant, error) {
	if personID <= 0 {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return nil, err
	}
	return s.store.ListGrantsForPerson(ctx, personID)
}

// ReplaceGrants swaps every grant of personID for requests.
func (s *PermissionAdminService) ReplaceGrants(ctx context.Context, actor *domain.Person, personID int64, requests []domain.GrantRequest) ([]domain.Grant, error) {
	if personID <= 0 {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return nil, err
	}
	catalog, err := s.catalogIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	seen := make(map[string]bool, len(requests))
	grants := make([]domain.Grant, 0, len(requests))
	for _, req := range requests {
		perm, ok := catalog[req.PermissionID]
		if !ok {
			return nil, fmt.Errorf("unknown permission %q: %w", req.PermissionID, domain.ErrInvalidInput)
		}
		if seen[req.PermissionID] {
			return nil, fmt.Errorf("permission %q listed twice: %w", req.PermissionID, domain.ErrInvalidInput)
		}
		if err := validateExpiry(req.ExpiresAt, now); err != nil {
			return nil, err
		}
		seen[req.PermissionID] = true
		grants = append(grants, s.newGrant(actor, personID, perm, req.ExpiresAt, now))
	}

	if err := s.store.ReplaceGrants(ctx, personID, grants); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "grants replaced", "person_id", personID, "count", len(grants))
	s.grantsChanged(ctx, personID)
	return grants, nil
}

func (s *PermissionAdminService) Grant(ctx context.Context, actor *domain.Person, personID int64, permissionID string, expiresAt *time.Time) (domain.Grant, error) {
	if personID <= 0 || permissionID == "" {
		return domain.Grant{}, domain.ErrInvalidInput
	}
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return domain.Grant{}, err
	}
	catalog, err := s.catalogIndex(ctx)
	if err != nil {
		return domain.Grant{}, err
	}
	perm, ok := catalog[permissionID]
	if !ok {
		return domain.Grant{}, fmt.Errorf("unknown permission %q: %w", permissionID, domain.ErrInvalidInput)
	}
	now := s.clock.Now()
	if err := validateExpiry(expiresAt, now); err != nil {
		return domain.Grant{}, err
	}

	existing, err := s.store.ListGrantsForPerson(ctx, personID)
	if err != nil {
		return domain.Grant{}, err
	}
	for _, g := range existing {
		if g.PermissionID == permissionID {
			return domain.Grant{}, domain.ErrConflict
		}
	}

	grant := s.newGrant(actor, personID, perm, expiresAt, now)
	if err := s.store.InsertGrant(ctx, grant); err != nil {
		return domain.Grant{}, err
	}
	s.logger.Info(ctx, "permission granted", "person_id", personID, "permission", perm.Key)
	s.grantsChanged(ctx, personID)
	return grant, nil
}

// Revoke removes a grant. Revoking a grant that does not exist succeeds.
func (s *PermissionAdminService) Revoke(ctx context.Context, personID int64, permissionID string) error {
	if personID <= 0 || permissionID == "" {
		return domain.ErrInvalidInput
	}
	if err := s.store.DeleteGrant(ctx, personID, permissionID); err != nil {
		return err
	}
	s.logger.Info(ctx, "permission revoked", "person_id", personID, "permission_id", permissionID)
	s.grantsChanged(ctx, personID)
	return nil
}

// HasPermission reports whether personID holds an unexpired grant for key.
func (s *PermissionAdminService) HasPermission(ctx context.Context, personID int64, key string) (bool, error) {
	if personID <= 0 || key == "" {
		return false, domain.ErrInvalidInput
	}
	grants, err := s.store.ListGrantsForPerson(ctx, personID)
	if err != nil {
		return false, err
	}
	return domain.ActivePermissions(grants, s.clock.Now()).Has(key), nil
}

// PeopleWithCounts lists people by name with their number of active grants.
func (s *PermissionAdminService) PeopleWithCounts(ctx context.Context) ([]domain.PersonSummary, error) {
	people, grants, err := s.store.ListPeopleWithGrants(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]domain.PersonSummary, 0, len(people))
	for _, p := range people {
		out = append(out, domain.PersonSummary{
			Person:            p,
			ActivePermissions: domain.ActivePermissions(grants[p.ID], now).Len(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *PermissionAdminService) catalogIndex(ctx context.Context) (map[string]domain.Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.Permission, len(perms))
	for _, p := range perms {
		index[p.ID] = p
	}
	return index, nil
}

func (s *PermissionAdminService) newGrant(actor *domain.Person, personID int64, perm domain.Permission, expiresAt *time.Time, now time.Time) domain.Grant {
	grant := domain.Grant{
		ID:           s.newID(),
		PersonID:     personID,
		PermissionID: perm.ID,
		Permission:   &perm,
		GrantedAt:    now,
		ExpiresAt:    expiresAt,
	}
	if actor != nil {
		by := actor.ID
		grant.GrantedBy = &by
	}
	return grant
}

func (s *PermissionAdminService) grantsChanged(ctx context.Context, personID int64) {
	if s.bus == nil {
		return
	}
	event := ports.AuthEvent{Kind: ports.AuthGrantsChanged, PersonID: personID}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "grants changed event not delivered", "person_id", personID, "error", err)
	}
}

func validateExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && !expiresAt.After(now) {
		return fmt.Errorf("expiry %s is not in the future: %w", expiresAt.Format(time.RFC3339), domain.ErrInvalidInput)
	}
	return nil
}
