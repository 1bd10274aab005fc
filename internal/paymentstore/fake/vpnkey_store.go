package fake

import (
	"context"
	"sync"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// VpnKeyStore is an in-memory VpnKeyRepo. InsertIfAbsent holds the
// store lock for its full read-then-write, the same guarantee the real
// repository gives inside its transaction.
type VpnKeyStore struct {
	mu     sync.Mutex
	keys   []*models.VpnKey
	nextID int64
}

func NewVpnKeyStore() *VpnKeyStore {
	return &VpnKeyStore{nextID: 1}
}

func (s *VpnKeyStore) InsertIfAbsent(ctx context.Context, k *models.VpnKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.ServerID == k.ServerID && existing.SubscriptionID != nil && k.SubscriptionID != nil &&
			*existing.SubscriptionID == *k.SubscriptionID && existing.Protocol == k.Protocol {
			return false, nil
		}
	}
	cp := *k
	cp.ID = s.nextID
	s.nextID++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.keys = append(s.keys, &cp)
	return true, nil
}

func (s *VpnKeyStore) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*models.VpnKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VpnKey
	for _, k := range s.keys {
		if k.SubscriptionID != nil && *k.SubscriptionID == subscriptionID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *VpnKeyStore) ExistsForServer(ctx context.Context, serverID, subscriptionID int64, protocol models.Protocol) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ServerID == serverID && k.SubscriptionID != nil && *k.SubscriptionID == subscriptionID && k.Protocol == protocol {
			return true, nil
		}
	}
	return false, nil
}

func (s *VpnKeyStore) ResetTrafficCounters(ctx context.Context, subscriptionID int64) error {
	return nil
}

var _ repository.VpnKeyRepo = (*VpnKeyStore)(nil)
