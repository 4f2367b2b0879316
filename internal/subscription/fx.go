package subscription

import (
	"context"

	"github.com/stashworks/jobhub/internal/notification"
	"github.com/stashworks/jobhub/internal/subscription/domain"
	"github.com/stashworks/jobhub/internal/subscription/repository"
	"github.com/stashworks/jobhub/internal/subscription/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerPredicates),
)

// registerPredicates wires the billing-owned email predicates into the
// notification dispatcher. Checkout reminders stay wanted only while the
// pending payment they nag about still exists.
func registerPredicates(registry *notification.Registry, repo domain.Repository, db *gorm.DB) {
	registry.Register(domain.PendingPaymentExistsPredicate, func(ctx context.Context, data map[string]any) (bool, error) {
		orgID, _ := data["org_id"].(string)
		wallet, _ := data["wallet"].(string)
		if orgID == "" || wallet == "" {
			return false, nil
		}
		return repo.HasPendingPayment(ctx, db, orgID, wallet)
	})
}
