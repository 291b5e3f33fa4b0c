package postgres

import (
	"time"

	"admin-console/internal/domain"
)

type teamModel struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name"`
	DisplayOrder int       `gorm:"column:display_order"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (teamModel) TableName() string { return "teams" }

func (m teamModel) toDomain() domain.Team {
	return domain.Team{ID: m.ID, Name: m.Name, DisplayOrder: m.DisplayOrder}
}

type personModel struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex"`
	FullName     string    `gorm:"column:full_name"`
	CanLogin     bool      `gorm:"column:can_login"`
	IsActive     bool      `gorm:"column:is_active"`
	TeamID       *int64    `gorm:"column:team_id"`
	DisplayOrder int       `gorm:"column:display_order"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (personModel) TableName() string { return "people" }

func personModelFromDomain(p domain.Person) personModel {
	return personModel{
		ID:           p.ID,
		Email:        p.Email,
		FullName:     p.FullName,
		CanLogin:     p.CanLogin,
		IsActive:     p.IsActive,
		TeamID:       p.TeamID,
		DisplayOrder: p.DisplayOrder,
	}
}

func (m personModel) toDomain() domain.Person {
	return domain.Person{
		ID:           m.ID,
		Email:        m.Email,
		FullName:     m.FullName,
		CanLogin:     m.CanLogin,
		IsActive:     m.IsActive,
		TeamID:       m.TeamID,
		DisplayOrder: m.DisplayOrder,
	}
}

type permissionModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	Key         string `gorm:"column:key;uniqueIndex"`
	Description string `gorm:"column:description"`
}

func (permissionModel) TableName() string { return "permissions" }

func (m permissionModel) toDomain() domain.Permission {
	return domain.Permission{ID: m.ID, Key: m.Key, Description: m.Description}
}

type grantModel struct {
	ID           string           `gorm:"column:id;primaryKey"`
	PersonID     int64            `gorm:"column:person_id;uniqueIndex:people_permissions_person_permission"`
	PermissionID string           `gorm:"column:permission_id;uniqueIndex:people_permissions_person_permission"`
	Permission   *permissionModel `gorm:"foreignKey:PermissionID;references:ID"`
	GrantedAt    time.Time        `gorm:"column:granted_at"`
	ExpiresAt    *time.Time       `gorm:"column:expires_at"`
	GrantedBy    *int64           `gorm:"column:granted_by"`
}

func (grantModel) TableName() string { return "people_permissions" }

func grantModelFromDomain(g domain.Grant) grantModel {
	return grantModel{
		ID:           g.ID,
		PersonID:     g.PersonID,
		PermissionID: g.PermissionID,
		GrantedAt:    g.GrantedAt,
		ExpiresAt:    g.ExpiresAt,
		GrantedBy:    g.GrantedBy,
	}
}

func (m grantModel) toDomain() domain.Grant {
	g := domain.Grant{
		ID:           m.ID,
		PersonID:     m.PersonID,
		PermissionID: m.PermissionID,
		GrantedAt:    m.GrantedAt,
		ExpiresAt:    m.ExpiresAt,
		GrantedBy:    m.GrantedBy,
	}
	if m.Permission != nil {
		p := m.Permission.toDomain()
		g.Permission = &p
	}
	return g
}

func toGrants(rows []grantModel) []domain.Grant {
	out := make([]domain.Grant, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
