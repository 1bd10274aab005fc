// Package webhook implements WebhookService (§4.4): provider
// authentication, idempotent status dispatch, and the retry
// queue/dead-letter queue for deliveries that could not be applied
// immediately.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/pkg/logging"
	"github.com/vpnpay/core/pkg/metrics"
)

type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type Service struct {
	providers *providers.Registry
	payments  repository.PaymentRepo
	events    repository.WebhookEventRepo
	paymentSvc *payment.Service
	notifier  notify.Notifier
	logger    *logging.StructuredLogger
	cfg       Config
}

func NewService(
	providerRegistry *providers.Registry,
	payments repository.PaymentRepo,
	events repository.WebhookEventRepo,
	paymentSvc *payment.Service,
	notifier notify.Notifier,
	cfg Config,
) *Service {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 30 * time.Second
	}
	return &Service{
		providers:  providerRegistry,
		payments:   payments,
		events:     events,
		paymentSvc: paymentSvc,
		notifier:   notifier,
		logger:     logging.GetLogger(),
		cfg:        cfg,
	}
}

// HandleInbound authenticates, parses and applies one webhook
// delivery. A transient application failure is queued for retry and
// acknowledged anyway, so the provider does not hammer us with
// redeliveries while our own retry loop works the backlog.
func (s *Service) HandleInbound(ctx context.Context, providerName string, headers map[string]string, body []byte, sourceIP string) error {
	adapter, ok := s.providers.Get(providerName)
	if !ok {
		metrics.WebhookDispatchTotal.WithLabelValues(providerName, "unknown_provider").Inc()
		return fmt.Errorf("webhook: unknown provider %q", providerName)
	}

	verified, err := adapter.VerifyWebhook(headers, body, sourceIP)
	if err != nil || !verified {
		metrics.WebhookDispatchTotal.WithLabelValues(providerName, "auth_failed").Inc()
		if err != nil {
			return err
		}
		return providers.ErrWebhookAuth
	}

	providerPaymentID, status, err := adapter.ParseWebhook(body)
	if err != nil {
		metrics.WebhookDispatchTotal.WithLabelValues(providerName, "malformed").Inc()
		return err
	}

	if err := s.dispatch(ctx, providerPaymentID, status); err != nil {
		if addErr := s.events.AddToRetryQueue(ctx, providerName, providerPaymentID, string(status), body, s.cfg.MaxRetries); addErr != nil {
			s.logger.Error("webhook: queue retry failed", addErr, map[string]interface{}{"provider": providerName, "payment_id": providerPaymentID})
		}
		metrics.WebhookDispatchTotal.WithLabelValues(providerName, "queued_retry").Inc()
		s.logger.Warn("webhook: dispatch failed, queued for retry", map[string]interface{}{"provider": providerName, "payment_id": providerPaymentID, "error": err.Error()})
		return nil
	}

	metrics.WebhookDispatchTotal.WithLabelValues(providerName, "applied").Inc()
	return nil
}

func (s *Service) dispatch(ctx context.Context, providerPaymentID string, status providers.NormalizedStatus) error {
	switch status {
	case providers.StatusPaid:
		return s.handlePaid(ctx, providerPaymentID)
	case providers.StatusFailed:
		return s.handleFailed(ctx, providerPaymentID)
	default:
		return nil
	}
}

func (s *Service) handlePaid(ctx context.Context, paymentID string) error {
	ok, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusPaid, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("webhook: CAS pending->paid: %w", err)
	}
	if !ok {
		// Already applied by an earlier delivery, the polling path, or
		// the reconciler: idempotent no-op.
		return nil
	}
	_, err = s.paymentSvc.OnPaid(ctx, paymentID)
	return err
}

func (s *Service) handleFailed(ctx context.Context, paymentID string) error {
	ok, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusFailed, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("webhook: CAS pending->failed: %w", err)
	}
	if !ok {
		return nil
	}
	p, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("webhook: load failed payment %s: %w", paymentID, err)
	}
	s.notifier.NotifyPaymentFailed(ctx, p.UserID, p.Email, p.Amount, string(p.Currency))
	return nil
}

// ProcessRetryQueue replays due retry-queue items, advancing each with
// exponential backoff or moving it to the dead-letter queue once it
// exhausts its retry budget. Intended to be called periodically by a
// scheduler alongside the reconciler sweeps.
func (s *Service) ProcessRetryQueue(ctx context.Context, limit int) error {
	items, err := s.events.GetPendingRetries(ctx, limit)
	if err != nil {
		return fmt.Errorf("webhook: load pending retries: %w", err)
	}

	for _, item := range items {
		err := s.dispatch(ctx, item.EventID, providers.NormalizedStatus(item.EventType))
		if err == nil {
			if rmErr := s.events.RemoveFromRetryQueue(ctx, item.Provider, item.EventID); rmErr != nil {
				s.logger.Warn("webhook: remove from retry queue failed", map[string]interface{}{"provider": item.Provider, "payment_id": item.EventID, "error": rmErr.Error()})
			}
			metrics.WebhookDispatchTotal.WithLabelValues(item.Provider, "retry_applied").Inc()
			continue
		}

		item.RetryCount++
		if item.RetryCount >= item.MaxRetries {
			if dlqErr := s.events.MoveToDeadLetterQueue(ctx, item, err.Error()); dlqErr != nil {
				s.logger.Error("webhook: move to dead-letter queue failed", dlqErr, map[string]interface{}{"provider": item.Provider, "payment_id": item.EventID})
			}
			metrics.WebhookDispatchTotal.WithLabelValues(item.Provider, "dead_lettered").Inc()
			continue
		}

		next := time.Now().Add(s.cfg.RetryBaseDelay * time.Duration(int64(1)<<uint(item.RetryCount)))
		if updErr := s.events.UpdateRetryQueueItem(ctx, item.ID, item.RetryCount, &next, err.Error()); updErr != nil {
			s.logger.Error("webhook: update retry queue item failed", updErr, map[string]interface{}{"provider": item.Provider, "payment_id": item.EventID})
		}
		metrics.WebhookDispatchTotal.WithLabelValues(item.Provider, "retry_rescheduled").Inc()
	}
	return nil
}
