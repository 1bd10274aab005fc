package fake

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// WebhookEventStore is an in-memory WebhookEventRepo keyed on
// (provider, event_id) for the retry queue and a separate slice for
// the dead-letter queue.
type WebhookEventStore struct {
	mu       sync.Mutex
	queue    map[string]*models.WebhookRetryItem
	deadLetter []*models.WebhookRetryItem
}

func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{queue: make(map[string]*models.WebhookRetryItem)}
}

func queueKey(provider, eventID string) string {
	return provider + ":" + eventID
}

func (s *WebhookEventStore) AddToRetryQueue(ctx context.Context, provider, eventID, eventType string, payload interface{}, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := queueKey(provider, eventID)
	if _, exists := s.queue[key]; exists {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.queue[key] = &models.WebhookRetryItem{
		ID:          uuid.New(),
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		Payload:     body,
		MaxRetries:  maxRetries,
		NextRetryAt: time.Now().Add(30 * time.Second),
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// AllQueueItems returns every queued item regardless of due time, for
// tests that need to manipulate an item's schedule before exercising
// GetPendingRetries.
func (s *WebhookEventStore) AllQueueItems() []*models.WebhookRetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WebhookRetryItem
	for _, item := range s.queue {
		cp := *item
		out = append(out, &cp)
	}
	return out
}

func (s *WebhookEventStore) GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookRetryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*models.WebhookRetryItem
	for _, item := range s.queue {
		if item.RetryCount < item.MaxRetries && !item.NextRetryAt.After(now) {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *WebhookEventStore) UpdateRetryQueueItem(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt *time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.queue {
		if item.ID == id {
			item.RetryCount = retryCount
			if nextRetryAt != nil {
				item.NextRetryAt = *nextRetryAt
			}
			item.LastError = lastError
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *WebhookEventStore) RemoveFromRetryQueue(ctx context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, queueKey(provider, eventID))
	return nil
}

func (s *WebhookEventStore) MoveToDeadLetterQueue(ctx context.Context, item *models.WebhookRetryItem, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	cp.LastError = reason
	s.deadLetter = append(s.deadLetter, &cp)
	delete(s.queue, queueKey(item.Provider, item.EventID))
	return nil
}

func (s *WebhookEventStore) CountDeadLetterQueueItems(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.deadLetter)), nil
}

func (s *WebhookEventStore) CountPendingRetries(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.queue {
		if item.RetryCount < item.MaxRetries {
			n++
		}
	}
	return n, nil
}

var _ repository.WebhookEventRepo = (*WebhookEventStore)(nil)
