// Package directory resolves organizations, members and permission grants.
// The billing engine consumes it as a collaborator contract; the gorm
// implementation lives alongside because this repository is also the org
// directory's system of record.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOrgOwner  = "org-owner"
	RoleOrgMember = "org-member"
)

var ErrOrgNotFound = errors.New("org_not_found")

type Organization struct {
	OrgID     string    `gorm:"primaryKey;type:text"`
	Name      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Organization) TableName() string { return "organizations" }

type User struct {
	Wallet    string    `gorm:"primaryKey;type:text"`
	Email     string    `gorm:"type:text"`
	Name      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

type OrgMember struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     string       `gorm:"not null;index;type:text"`
	Wallet    string       `gorm:"not null;index;type:text"`
	Role      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrgMember) TableName() string { return "org_members" }

type UserPermission struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Wallet    string       `gorm:"not null;index;type:text"`
	Role      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UserPermission) TableName() string { return "user_permissions" }

// OwnerProfile is the resolved owner of an organization.
type OwnerProfile struct {
	Wallet string
	Email  string
	Name   string
}

type Service interface {
	IsOrgMember(ctx context.Context, wallet, orgID string) (bool, error)
	IsOrgOwner(ctx context.Context, wallet, orgID string) (bool, error)
	FindOrgOwner(ctx context.Context, orgID string) (*OwnerProfile, error)
	Members(ctx context.Context, orgID string) ([]OrgMember, error)
	// SyncUserPermissions replaces the wallet's permission grants with the
	// given role set.
	SyncUserPermissions(ctx context.Context, wallet string, roles []string) error
}
