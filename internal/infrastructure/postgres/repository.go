package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

type PermissionStore struct {
	db     *gorm.DB
	logger ports.Logger
}

func NewPermissionStore(db *gorm.DB, logger ports.Logger) *PermissionStore {
	return &PermissionStore{db: db, logger: logger}
}

var (
	_ ports.PermissionStore  = (*PermissionStore)(nil)
	_ ports.Seeder           = (*PermissionStore)(nil)
	_ ports.RosterRepository = (*PermissionStore)(nil)
)

func (r *PermissionStore) FindPersonByEmail(ctx context.Context, email string) (domain.Person, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Person{}, domain.ErrInvalidInput
	}
	var row personModel
	err := r.db.WithContext(ctx).Where("lower(email) = lower(?)", email).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Person{}, domain.ErrNotFound
		}
		return domain.Person{}, r.logError(ctx, "find_person_by_email", err)
	}
	return row.toDomain(), nil
}

func (r *PermissionStore) GetPerson(ctx context.Context, personID int64) (domain.Person, error) {
	var row personModel
	err := r.db.WithContext(ctx).Where("id = ?", personID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Person{}, domain.ErrNotFound
		}
		return domain.Person{}, r.logError(ctx, "get_person", err, "person_id", personID)
	}
	return row.toDomain(), nil
}

func (r *PermissionStore) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	var rows []permissionModel
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&rows).Error; err != nil {
		return nil, r.logError(ctx, "list_permissions", err)
	}
	out := make([]domain.Permission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListGrantsForPerson returns grants with their catalog entry joined. Rows
// whose permission no longer exists come back with a nil Permission.
func (r *PermissionStore) ListGrantsForPerson(ctx context.Context, personID int64) ([]domain.Grant, error) {
	var rows []grantModel
	err := r.db.WithContext(ctx).
		Preload("Permission").
		Where("person_id = ?", personID).
		Order("granted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError(ctx, "list_grants_for_person", err, "person_id", personID)
	}
	return toGrants(rows), nil
}

func (r *PermissionStore) ListPeopleWithGrants(ctx context.Context) ([]domain.Person, map[int64][]domain.Grant, error) {
	var people []personModel
	if err := r.db.WithContext(ctx).Order("full_name ASC").Find(&people).Error; err != nil {
		return nil, nil, r.logError(ctx, "list_people", err)
	}
	var rows []grantModel
	if err := r.db.WithContext(ctx).Preload("Permission").Find(&rows).Error; err != nil {
		return nil, nil, r.logError(ctx, "list_all_grants", err)
	}

	outPeople := make([]domain.Person, 0, len(people))
	for _, p := range people {
		outPeople = append(outPeople, p.toDomain())
	}
	grants := make(map[int64][]domain.Grant)
	for _, row := range rows {
		grants[row.PersonID] = append(grants[row.PersonID], row.toDomain())
	}
	return outPeople, grants, nil
}

// ReplaceGrants deletes and re-inserts the person's grants in one transaction.
func (r *PermissionStore) ReplaceGrants(ctx context.Context, personID int64, grants []domain.Grant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("person_id = ?", personID).Delete(&grantModel{}).Error; err != nil {
			return err
		}
		if len(grants) == 0 {
			return nil
		}
		rows := make([]grantModel, 0, len(grants))
		for _, g := range grants {
			g.PersonID = personID
			rows = append(rows, grantModelFromDomain(g))
		}
		return tx.Omit("Permission").Create(&rows).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return r.logError(ctx, "replace_grants", err, "person_id", personID, "count", len(grants))
	}
	return nil
}

func (r *PermissionStore) InsertGrant(ctx context.Context, grant domain.Grant) error {
	row := grantModelFromDomain(grant)
	if err := r.db.WithContext(ctx).Omit("Permission").Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return r.logError(ctx, "insert_grant", err, "person_id", grant.PersonID, "permission_id", grant.PermissionID)
	}
	return nil
}

func (r *PermissionStore) DeleteGrant(ctx context.Context, personID int64, permissionID string) error {
	err := r.db.WithContext(ctx).
		Where("person_id = ? AND permission_id = ?", personID, permissionID).
		Delete(&grantModel{}).Error
	if err != nil {
		return r.logError(ctx, "delete_grant", err, "person_id", personID, "permission_id", permissionID)
	}
	return nil
}

func (r *PermissionStore) UpsertPermission(ctx context.Context, p domain.Permission) error {
	if p.ID == "" || p.Key == "" {
		return domain.ErrInvalidInput
	}
	row := permissionModel{ID: p.ID, Key: p.Key, Description: p.Description}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key", "description"}),
	}).Create(&row).Error
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return r.logError(ctx, "upsert_permission", err, "permission_id", p.ID)
	}
	return nil
}

func (r *PermissionStore) UpsertPerson(ctx context.Context, p domain.Person) error {
	if p.ID <= 0 || p.Email == "" {
		return domain.ErrInvalidInput
	}
	row := personModelFromDomain(p)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "can_login", "is_active", "team_id", "display_order"}),
	}).Create(&row).Error
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return r.logError(ctx, "upsert_person", err, "person_id", p.ID)
	}
	return nil
}

func (r *PermissionStore) UpsertTeam(ctx context.Context, t domain.Team) error {
	if t.ID <= 0 || t.Name == "" {
		return domain.ErrInvalidInput
	}
	row := teamModel{ID: t.ID, Name: t.Name, DisplayOrder: t.DisplayOrder}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "display_order"}),
	}).Create(&row).Error
	if err != nil {
		return r.logError(ctx, "upsert_team", err, "team_id", t.ID)
	}
	return nil
}

func (r *PermissionStore) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var rows []teamModel
	if err := r.db.WithContext(ctx).Order("display_order ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError(ctx, "list_teams", err)
	}
	out := make([]domain.Team, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PermissionStore) ListMembers(ctx context.Context, teamID int64) ([]domain.Person, error) {
	var rows []personModel
	err := r.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("display_order ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError(ctx, "list_members", err, "team_id", teamID)
	}
	out := make([]domain.Person, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PermissionStore) UpdateTeamOrder(ctx context.Context, changes []domain.OrderChange) error {
	return r.updateOrder(ctx, "update_team_order", &teamModel{}, changes)
}

func (r *PermissionStore) UpdateMemberOrder(ctx context.Context, changes []domain.OrderChange) error {
	return r.updateOrder(ctx, "update_member_order", &personModel{}, changes)
}

func (r *PermissionStore) updateOrder(ctx context.Context, event string, model any, changes []domain.OrderChange) error {
	if len(changes) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range changes {
			res := tx.Model(model).Where("id = ?", c.ID).Update("display_order", c.DisplayOrder)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.ErrNotFound
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return r.logError(ctx, event, err, "count", len(changes))
	}
	return nil
}

func (r *PermissionStore) logError(ctx context.Context, event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"layer", "postgres",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error(ctx, "permission store operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
