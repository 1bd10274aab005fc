package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// SubscriptionStore is an in-memory SubscriptionRepo. GetOrCreateActive
// holds the store lock for its full duration, matching the real
// repository's serializable-transaction guarantee: two concurrent
// callers for the same user never both create a row.
type SubscriptionStore struct {
	mu     sync.Mutex
	byID   map[int64]*models.Subscription
	nextID int64
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{byID: make(map[int64]*models.Subscription), nextID: 1}
}

func cloneSubscription(s *models.Subscription) *models.Subscription {
	cp := *s
	return &cp
}

// Add seeds a subscription row directly, for tests that need a
// pre-existing subscription without driving it through GetOrCreateActive.
func (s *SubscriptionStore) Add(row *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == 0 {
		row.ID = s.nextID
		s.nextID++
	}
	s.byID[row.ID] = row
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	return cloneSubscription(row), nil
}

func (s *SubscriptionStore) GetActiveByUserID(ctx context.Context, userID int64, now time.Time, grace time.Duration) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.UserID == userID && row.IsActiveNow(now, grace) {
			return cloneSubscription(row), nil
		}
	}
	return nil, repository.ErrSubscriptionNotFound
}

func (s *SubscriptionStore) GetOrCreateActive(ctx context.Context, userID int64, tariff *models.Tariff, now time.Time, grace time.Duration, vip bool) (*models.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.UserID == userID && row.IsActiveNow(now, grace) {
			return cloneSubscription(row), false, nil
		}
	}
	expiresAt := now.Add(time.Duration(tariff.DurationSec) * time.Second)
	if vip {
		expiresAt = models.VIPExpiresAt
	}
	row := &models.Subscription{
		ID:                s.nextID,
		UserID:            userID,
		SubscriptionToken: uuid.New(),
		TariffID:          tariff.ID,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
		LastUpdatedAt:     now,
		IsActive:          true,
		TrafficLimitMB:    tariff.TrafficLimitMB,
	}
	s.nextID++
	s.byID[row.ID] = row
	return cloneSubscription(row), true, nil
}

func (s *SubscriptionStore) UpdateExpiryAndLimit(ctx context.Context, id int64, expiresAt time.Time, tariffID int64, trafficLimitMB int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	row.ExpiresAt = expiresAt
	row.TariffID = tariffID
	row.TrafficLimitMB = trafficLimitMB
	row.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (s *SubscriptionStore) RefreshTariffAndLimit(ctx context.Context, id int64, tariffID int64, trafficLimitMB int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	row.TariffID = tariffID
	row.TrafficLimitMB = trafficLimitMB
	row.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (s *SubscriptionStore) TryFlipPurchaseNotificationSent(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return false, repository.ErrSubscriptionNotFound
	}
	if row.PurchaseNotificationSent {
		return false, nil
	}
	row.PurchaseNotificationSent = true
	return true, nil
}

func (s *SubscriptionStore) CountKeys(ctx context.Context, subscriptionID int64) (int64, error) {
	return 0, nil
}

// HasActiveCredential approximates the real join-against-keys query by
// checking for any active subscription for the user: the fake has no
// protocol-tagged key rows to join against, so it can't distinguish
// protocols the way the Postgres-backed repository does.
func (s *SubscriptionStore) HasActiveCredential(ctx context.Context, userID int64, protocol models.Protocol, now time.Time, grace time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.UserID == userID && row.IsActiveNow(now, grace) {
			return true, nil
		}
	}
	return false, nil
}

func (s *SubscriptionStore) HasActivePaidSubscription(ctx context.Context, userID int64, now time.Time, grace time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.UserID == userID && row.IsActiveNow(now, grace) {
			return true, nil
		}
	}
	return false, nil
}

var _ repository.SubscriptionRepo = (*SubscriptionStore)(nil)
