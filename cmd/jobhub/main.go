package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/config"
	"github.com/stashworks/jobhub/internal/directory"
	"github.com/stashworks/jobhub/internal/logger"
	"github.com/stashworks/jobhub/internal/migration"
	"github.com/stashworks/jobhub/internal/notification"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"github.com/stashworks/jobhub/internal/orglock"
	"github.com/stashworks/jobhub/internal/payment/gateway"
	"github.com/stashworks/jobhub/internal/pricing"
	"github.com/stashworks/jobhub/internal/quota"
	"github.com/stashworks/jobhub/internal/reporter"
	"github.com/stashworks/jobhub/internal/scheduler"
	"github.com/stashworks/jobhub/internal/server"
	"github.com/stashworks/jobhub/internal/subscription"
	"github.com/stashworks/jobhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		obsmetrics.Module,
		db.Module,
		clock.Module,
		migration.Module,
		reporter.Module,
		orglock.Module,

		// Functional domains
		pricing.Module,
		directory.Module,
		gateway.Module,
		notification.Module,
		subscription.Module,
		quota.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
