package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/vpnpay/core/pkg/metrics"
)

// runJob wraps a single scheduler tick with the same job_execution_*
// metrics every periodic job in this codebase reports.
func runJob(ctx context.Context, jobName string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	metrics.JobExecutionDuration.WithLabelValues(jobName).Observe(duration.Seconds())

	if err != nil {
		log.Printf("[RECONCILER] %s failed after %v: %v", jobName, duration, err)
		metrics.JobExecutionTotal.WithLabelValues(jobName, "failed").Inc()
		return
	}
	metrics.JobExecutionTotal.WithLabelValues(jobName, "success").Inc()
	metrics.JobLastSuccessTimestamp.WithLabelValues(jobName).Set(float64(time.Now().Unix()))
}
