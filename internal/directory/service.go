package directory

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("directory.service"),
		genID: p.GenID,
	}
}

func (s *service) IsOrgMember(ctx context.Context, wallet, orgID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM org_members WHERE org_id = ? AND wallet = ?`,
		orgID,
		wallet,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *service) IsOrgOwner(ctx context.Context, wallet, orgID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM org_members WHERE org_id = ? AND wallet = ? AND role = ?`,
		orgID,
		wallet,
		RoleOrgOwner,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *service) FindOrgOwner(ctx context.Context, orgID string) (*OwnerProfile, error) {
	var profile OwnerProfile
	err := s.db.WithContext(ctx).Raw(
		`SELECT m.wallet, u.email, u.name
		 FROM org_members m
		 LEFT JOIN users u ON u.wallet = m.wallet
		 WHERE m.org_id = ? AND m.role = ?
		 ORDER BY m.created_at ASC
		 LIMIT 1`,
		orgID,
		RoleOrgOwner,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.Wallet == "" {
		return nil, nil
	}
	profile.Email = strings.TrimSpace(profile.Email)
	return &profile, nil
}

func (s *service) Members(ctx context.Context, orgID string) ([]OrgMember, error) {
	var members []OrgMember
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, wallet, role, created_at
		 FROM org_members
		 WHERE org_id = ?
		 ORDER BY created_at ASC`,
		orgID,
	).Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *service) SyncUserPermissions(ctx context.Context, wallet string, roles []string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`DELETE FROM user_permissions WHERE wallet = ?`,
			wallet,
		).Error; err != nil {
			return err
		}
		for _, role := range roles {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if err := tx.Exec(
				`INSERT INTO user_permissions (id, wallet, role, created_at) VALUES (?, ?, ?, ?)`,
				s.genID.Generate(),
				wallet,
				role,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

var Module = fx.Module("directory",
	fx.Provide(NewService),
)
