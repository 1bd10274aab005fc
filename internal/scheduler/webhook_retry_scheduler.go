package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// WebhookRetryServiceInterface is the subset of webhook.Service the
// retry scheduler drives.
type WebhookRetryServiceInterface interface {
	ProcessRetryQueue(ctx context.Context, limit int) error
}

// WebhookRetryScheduler periodically replays the webhook retry queue.
type WebhookRetryScheduler struct {
	service   WebhookRetryServiceInterface
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewWebhookRetryScheduler(service WebhookRetryServiceInterface, intervalSeconds, batchSize int) *WebhookRetryScheduler {
	return &WebhookRetryScheduler{
		service:   service,
		interval:  time.Duration(intervalSeconds) * time.Second,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

func (s *WebhookRetryScheduler) Start(ctx context.Context) {
	log.Printf("[WEBHOOK_SCHEDULER] Starting webhook retry scheduler (interval: %v, batch size: %d)", s.interval, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.processRetries(ctx)
	for {
		select {
		case <-ticker.C:
			s.processRetries(ctx)
		case <-s.stopChan:
			log.Println("[WEBHOOK_SCHEDULER] Webhook retry scheduler stopped")
			return
		case <-ctx.Done():
			log.Println("[WEBHOOK_SCHEDULER] Webhook retry scheduler stopped due to context cancellation")
			return
		}
	}
}

func (s *WebhookRetryScheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Println("[WEBHOOK_SCHEDULER] Stopping webhook retry scheduler...")
		close(s.stopChan)
	})
}

func (s *WebhookRetryScheduler) processRetries(ctx context.Context) {
	runJob(ctx, "webhook_retry_queue", func(ctx context.Context) error {
		return s.service.ProcessRetryQueue(ctx, s.batchSize)
	})
}
