// Package migration creates the billing schema on startup so a fresh
// deployment is usable out of the box.
package migration

import (
	"github.com/stashworks/jobhub/internal/directory"
	"github.com/stashworks/jobhub/internal/notification"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&directory.Organization{},
		&directory.User{},
		&directory.OrgMember{},
		&directory.UserPermission{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.TierRecord{},
		&subscriptiondomain.Quota{},
		&subscriptiondomain.QuotaUsage{},
		&subscriptiondomain.Payment{},
		&subscriptiondomain.PendingPayment{},
		&notification.ScheduledEmail{},
	)
}

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)
