package fake

import (
	"context"
	"sync"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// CatalogStore is an in-memory CatalogRepo: read-mostly tariff/server/
// referral fixtures seeded directly by the test. Every method, the read
// paths included, takes c.mu.
type CatalogStore struct {
	mu         sync.Mutex
	tariffs    map[int64]*models.Tariff
	servers    map[int64]*models.Server
	referrals  map[int64][]*models.Referral
	vips       map[int64]bool
	completedReferrals map[int64]bool
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		tariffs:   make(map[int64]*models.Tariff),
		servers:   make(map[int64]*models.Server),
		referrals: make(map[int64][]*models.Referral),
		vips:      make(map[int64]bool),
		completedReferrals: make(map[int64]bool),
	}
}

func (c *CatalogStore) AddTariff(t *models.Tariff) { c.mu.Lock(); defer c.mu.Unlock(); c.tariffs[t.ID] = t }
func (c *CatalogStore) AddServer(s *models.Server) { c.mu.Lock(); defer c.mu.Unlock(); c.servers[s.ID] = s }
func (c *CatalogStore) SetVIP(userID int64, vip bool) { c.mu.Lock(); defer c.mu.Unlock(); c.vips[userID] = vip }
func (c *CatalogStore) AddReferral(r *models.Referral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referrals[r.ReferrerID] = append(c.referrals[r.ReferrerID], r)
}
func (c *CatalogStore) SetReferralHasCompletedPayment(referredUserID int64, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedReferrals[referredUserID] = v
}

func (c *CatalogStore) GetTariff(ctx context.Context, id int64) (*models.Tariff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tariffs[id]
	if !ok {
		return nil, repository.ErrTariffNotFound
	}
	cp := *t
	return &cp, nil
}

func (c *CatalogStore) ActiveV2RayServers(ctx context.Context, accessLevels []models.AccessLevel) ([]*models.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	allowed := make(map[models.AccessLevel]bool, len(accessLevels))
	for _, a := range accessLevels {
		allowed[a] = true
	}
	var out []*models.Server
	for _, s := range c.servers {
		if s.Protocol == models.ProtocolV2Ray && s.Active && allowed[s.AccessLevel] {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *CatalogStore) PrimaryOutlineServer(ctx context.Context) (*models.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.servers {
		if s.Protocol == models.ProtocolOutline && s.IsPrimary {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (c *CatalogStore) ReferralsOf(ctx context.Context, referrerID int64) ([]*models.Referral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.referrals[referrerID], nil
}

func (c *CatalogStore) IsVIP(ctx context.Context, userID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vips[userID], nil
}

func (c *CatalogStore) ReferralHasCompletedPayment(ctx context.Context, referredUserID int64, cutoff int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedReferrals[referredUserID], nil
}

// SumCompletedTariffDurations always reports zero history (0, 0): it
// replays no payment ledger, ignores fallbackTariffID, and offers no way
// for a test to seed completed durations.
func (c *CatalogStore) SumCompletedTariffDurations(ctx context.Context, subscriptionID int64, fallbackTariffID int64) (int64, int64, error) {
	return 0, 0, nil
}

var _ repository.CatalogRepo = (*CatalogStore)(nil)
