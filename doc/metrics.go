package doc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("egdoc.doc")

var (
	commitTotal    metric.Int64Counter
	rollbackTotal  metric.Int64Counter
	opsPerCommit   metric.Int64Histogram
	changesApplied metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		commitTotal, err = meter.Int64Counter(
			"doc_commit_total",
			metric.WithDescription("Total number of committed transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"doc_rollback_total",
			metric.WithDescription("Total number of rolled back transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opsPerCommit, err = meter.Int64Histogram(
			"doc_commit_ops",
			metric.WithDescription("Number of ops per committed change"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		changesApplied, err = meter.Int64Counter(
			"doc_changes_applied_total",
			metric.WithDescription("Total number of remote changes applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCommit(ops int) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	ctx := context.Background()
	commitTotal.Add(ctx, 1)
	opsPerCommit.Record(ctx, int64(ops))
}

// recordRollback counts a rollback. explicit is false when the transaction
// was closed without being resolved.
func recordRollback(explicit bool) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	rollbackTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("explicit", explicit),
	))
}

func recordApplied(n int) {
	if !metricsEnabled.Load() || initMetrics() != nil || n == 0 {
		return
	}
	changesApplied.Add(context.Background(), int64(n))
}
