// Package reporter is the error-tracking side channel for integrity
// anomalies: confirmations with no matching pending payment, reminders with
// no resolvable owner. Anomalies are captured with full context and never
// thrown, since their triggers are external and untrusted.
package reporter

import (
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Reporter interface {
	Capture(event string, fields ...zap.Field)
}

type zapReporter struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func New(p Params) Reporter {
	return &zapReporter{
		log:     p.Log.Named("reporter"),
		metrics: p.Metrics,
	}
}

func (r *zapReporter) Capture(event string, fields ...zap.Field) {
	r.metrics.IncAnomaly(event)
	r.log.Error(event, fields...)
}

var Module = fx.Module("reporter",
	fx.Provide(New),
)
