package main

import (
	"context"

	"github.com/vpnpay/core/internal/scheduler"
)

// SchedulerGroup holds all background scheduler instances for graceful shutdown.
type SchedulerGroup struct {
	PendingSweep *scheduler.PendingSweepScheduler
	KeySweep     *scheduler.KeySweepScheduler
	ExpirySweep  *scheduler.ExpirySweepScheduler
	WebhookRetry *scheduler.WebhookRetryScheduler
}

func startSchedulers(svcs *Services, infra *Infrastructure) *SchedulerGroup {
	cfg := infra.Config.Reconciler
	sg := &SchedulerGroup{}

	if !cfg.Enabled {
		return sg
	}

	sg.PendingSweep = scheduler.NewPendingSweepScheduler(svcs.Reconciler, cfg.PendingSweepIntervalSec)
	go sg.PendingSweep.Start(context.Background())

	sg.KeySweep = scheduler.NewKeySweepScheduler(svcs.Reconciler, cfg.KeySweepIntervalSec)
	go sg.KeySweep.Start(context.Background())

	sg.ExpirySweep = scheduler.NewExpirySweepScheduler(svcs.Reconciler, cfg.ExpirySweepIntervalSec)
	go sg.ExpirySweep.Start(context.Background())

	sg.WebhookRetry = scheduler.NewWebhookRetryScheduler(svcs.Webhook, cfg.PendingSweepIntervalSec, 100)
	go sg.WebhookRetry.Start(context.Background())

	return sg
}

func (sg *SchedulerGroup) stop() {
	if sg.PendingSweep != nil {
		sg.PendingSweep.Stop()
	}
	if sg.KeySweep != nil {
		sg.KeySweep.Stop()
	}
	if sg.ExpirySweep != nil {
		sg.ExpirySweep.Stop()
	}
	if sg.WebhookRetry != nil {
		sg.WebhookRetry.Stop()
	}
}
