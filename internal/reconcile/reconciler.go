// Package reconcile implements the three periodic sweeps of §4.5: the
// pending sweep (re-poll providers for stuck payments), the
// paid-without-key sweep (drive the paid pipeline for anything that
// hasn't been fully provisioned), and the expiration sweep (age out
// abandoned pending payments).
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/ratelimit"
	"github.com/vpnpay/core/internal/renewal"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/pkg/logging"
)

// Config mirrors config.ReconcilerConfig's pacing/aging knobs.
type Config struct {
	CleanupExpiredAfter time.Duration
	V2RayPace           time.Duration
	OtherPace           time.Duration
	Grace               time.Duration
}

type Reconciler struct {
	payments     repository.PaymentRepo
	paymentSvc   *payment.Service
	detector     *renewal.Detector
	v2rayLimiter *ratelimit.Local
	otherLimiter *ratelimit.Local
	logger       *logging.StructuredLogger
	cfg          Config
}

func NewReconciler(payments repository.PaymentRepo, subs repository.SubscriptionRepo, paymentSvc *payment.Service, cfg Config) *Reconciler {
	if cfg.CleanupExpiredAfter == 0 {
		cfg.CleanupExpiredAfter = 24 * time.Hour
	}
	if cfg.V2RayPace == 0 {
		cfg.V2RayPace = 15 * time.Second
	}
	if cfg.OtherPace == 0 {
		cfg.OtherPace = 2 * time.Second
	}
	if cfg.Grace == 0 {
		cfg.Grace = 24 * time.Hour
	}
	return &Reconciler{
		payments:     payments,
		paymentSvc:   paymentSvc,
		detector:     renewal.NewDetector(subs),
		v2rayLimiter: ratelimit.NewLocal(1.0/cfg.V2RayPace.Seconds(), 1),
		otherLimiter: ratelimit.NewLocal(1.0/cfg.OtherPace.Seconds(), 1),
		logger:       logging.GetLogger(),
		cfg:          cfg,
	}
}

// SweepPending re-polls the provider for every payment still pending,
// driving the paid pipeline for anything that has since settled.
func (rc *Reconciler) SweepPending(ctx context.Context) error {
	pendings, err := rc.payments.GetPendingPayments(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: load pending payments: %w", err)
	}
	for _, p := range pendings {
		if _, err := rc.paymentSvc.Recheck(ctx, p.PaymentID); err != nil {
			rc.logger.Warn("reconcile: pending recheck failed", map[string]interface{}{"payment_id": p.PaymentID, "error": err.Error()})
		}
	}
	return nil
}

// SweepPaidWithoutKeys drives the paid pipeline for every payment the
// store reports as paid but not yet fully provisioned, pacing calls
// per protocol to respect provider/VPN-server rate limits. Subscription
// payments always delegate to SubscriptionPurchaseService via OnPaid.
// Non-subscription payments first consult RenewalDetector: the feed
// should only surface a non-subscription payment when the user has no
// active credential, so a positive renewal result here means the feed
// was stale (a race against a key issued moments ago) and provisioning
// a second credential would be wrong — finalize the payment instead of
// re-provisioning.
func (rc *Reconciler) SweepPaidWithoutKeys(ctx context.Context) error {
	items, err := rc.payments.GetPaidPaymentsWithoutKeys(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: load paid-without-key payments: %w", err)
	}
	now := time.Now().UTC()
	for _, p := range items {
		limiter := rc.otherLimiter
		if p.Protocol == models.ProtocolV2Ray {
			limiter = rc.v2rayLimiter
		}
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("reconcile: pacing wait: %w", err)
		}

		isSubscriptionPayment := p.Metadata.IsSubscription() && p.Protocol == models.ProtocolV2Ray
		if !isSubscriptionPayment {
			renewing, err := rc.detector.IsRenewal(ctx, p.UserID, p.Protocol, now, rc.cfg.Grace)
			if err != nil {
				rc.logger.Warn("reconcile: renewal detection failed, treating as new", map[string]interface{}{"payment_id": p.PaymentID, "error": err.Error()})
			} else if renewing {
				rc.logger.Info("reconcile: paid-without-key feed was stale, user already has an active credential", map[string]interface{}{"payment_id": p.PaymentID, "user_id": p.UserID})
				if _, err := rc.payments.TryUpdateStatus(ctx, p.PaymentID, models.PaymentStatusCompleted, models.PaymentStatusPaid); err != nil {
					rc.logger.Warn("reconcile: finalize renewal-skip payment failed", map[string]interface{}{"payment_id": p.PaymentID, "error": err.Error()})
				}
				continue
			}
		}

		if _, err := rc.paymentSvc.OnPaid(ctx, p.PaymentID); err != nil {
			rc.logger.Warn("reconcile: paid-without-key dispatch failed", map[string]interface{}{"payment_id": p.PaymentID, "error": err.Error()})
		}
	}
	return nil
}

// SweepExpiration ages out pendings older than CleanupExpiredAfter.
func (rc *Reconciler) SweepExpiration(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-rc.cfg.CleanupExpiredAfter)
	n, err := rc.payments.ExpireStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconcile: expire stale pending: %w", err)
	}
	return n, nil
}
