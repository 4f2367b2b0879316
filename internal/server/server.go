// Package server exposes the billing engine over HTTP. The transport layer
// stays thin: handlers bind, call a service, and translate the uniform
// result into a status code.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stashworks/jobhub/internal/config"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"github.com/stashworks/jobhub/internal/quota"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmetrics.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	db     *gorm.DB

	subscriptionSvc subscriptiondomain.Service
	quotaSvc        quota.Service
	repo            subscriptiondomain.Repository
}

type ServerParams struct {
	fx.In

	Engine *gin.Engine
	Log    *zap.Logger
	DB     *gorm.DB

	SubscriptionSvc subscriptiondomain.Service
	QuotaSvc        quota.Service
	Repo            subscriptiondomain.Repository
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Engine,
		log:             p.Log.Named("server"),
		db:              p.DB,
		subscriptionSvc: p.SubscriptionSvc,
		quotaSvc:        p.QuotaSvc,
		repo:            p.Repo,
	}
}

func registerRoutes(s *Server) {
	s.RegisterBillingRoutes()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
