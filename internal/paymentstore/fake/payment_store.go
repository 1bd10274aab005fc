// Package fake provides in-memory stand-ins for the repository
// interfaces, used by property and concurrency tests that exercise the
// CAS and locking primitives without a live Postgres instance.
package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// PaymentStore is an in-memory PaymentRepo backed by a mutex-guarded
// map, keyed by payment_id. Every mutating method takes the lock for
// its full duration so TryUpdateStatus and TryAcquireProcessingLock
// behave as true compare-and-swap primitives under concurrent callers.
type PaymentStore struct {
	mu       sync.Mutex
	byID     map[int64]*models.Payment
	byPayID  map[string]int64
	nextID   int64
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		byID:    make(map[int64]*models.Payment),
		byPayID: make(map[string]int64),
		nextID:  1,
	}
}

func clonePayment(p *models.Payment) *models.Payment {
	cp := *p
	if p.SubscriptionID != nil {
		id := *p.SubscriptionID
		cp.SubscriptionID = &id
	}
	if p.PaidAt != nil {
		t := *p.PaidAt
		cp.PaidAt = &t
	}
	meta := make(models.Metadata, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	cp.Metadata = meta
	return &cp
}

func (s *PaymentStore) Create(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPayID[p.PaymentID]; ok {
		return clonePayment(s.byID[id]), nil
	}

	row := clonePayment(p)
	row.ID = s.nextID
	s.nextID++
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.UpdatedAt = row.CreatedAt
	s.byID[row.ID] = row
	s.byPayID[row.PaymentID] = row.ID
	return clonePayment(row), nil
}

func (s *PaymentStore) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[paymentID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return clonePayment(s.byID[id]), nil
}

func (s *PaymentStore) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) Update(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[p.PaymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	row := clonePayment(p)
	row.ID = id
	row.UpdatedAt = time.Now().UTC()
	s.byID[id] = row
	return nil
}

// TryUpdateStatus is the fake's CAS primitive: it holds the store lock
// for the read-compare-write, so concurrent callers racing the same
// payment_id never both observe success.
func (s *PaymentStore) TryUpdateStatus(ctx context.Context, paymentID string, to, expectedFrom models.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[paymentID]
	if !ok {
		return false, repository.ErrPaymentNotFound
	}
	row := s.byID[id]
	if row.Status != expectedFrom {
		return false, nil
	}
	row.Status = to
	row.UpdatedAt = time.Now().UTC()
	if to == models.PaymentStatusPaid {
		now := time.Now().UTC()
		row.PaidAt = &now
	}
	return true, nil
}

func (s *PaymentStore) TryAcquireProcessingLock(ctx context.Context, paymentID, lockKey string, staleness time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[paymentID]
	if !ok {
		return false, repository.ErrPaymentNotFound
	}
	row := s.byID[id]
	if row.Status == models.PaymentStatusCompleted {
		return false, nil
	}
	if row.Metadata == nil {
		row.Metadata = models.Metadata{}
	}
	if row.Metadata[lockKey] == "true" {
		startedAt := row.Metadata[lockKey+"_started_at"]
		if started, err := time.Parse(time.RFC3339, startedAt); err == nil {
			if time.Since(started) < staleness {
				return false, nil
			}
		}
	}
	row.Metadata[lockKey] = "true"
	row.Metadata[lockKey+"_started_at"] = time.Now().UTC().Format(time.RFC3339)
	return true, nil
}

func (s *PaymentStore) ReleaseProcessingLock(ctx context.Context, paymentID, lockKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[paymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	row := s.byID[id]
	delete(row.Metadata, lockKey)
	delete(row.Metadata, lockKey+"_started_at")
	return nil
}

func (s *PaymentStore) UpdateSubscriptionID(ctx context.Context, paymentID string, subscriptionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayID[paymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	s.byID[id].SubscriptionID = &subscriptionID
	return nil
}

func matchesFilter(p *models.Payment, f models.PaymentFilter) bool {
	if f.UserID != nil && p.UserID != *f.UserID {
		return false
	}
	if f.TariffID != nil && p.TariffID != *f.TariffID {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Provider != nil && p.Provider != *f.Provider {
		return false
	}
	if f.Protocol != nil && p.Protocol != *f.Protocol {
		return false
	}
	if f.Country != nil && p.Country != *f.Country {
		return false
	}
	if f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && p.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.PaidOnly && p.PaidAt == nil {
		return false
	}
	if f.PendingOnly && p.Status != models.PaymentStatusPending {
		return false
	}
	if f.Query != "" && p.Email != f.Query && p.PaymentID != f.Query {
		return false
	}
	return true
}

func (s *PaymentStore) filtered(f models.PaymentFilter) []*models.Payment {
	var out []*models.Payment
	for _, p := range s.byID {
		if matchesFilter(p, f) {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

func (s *PaymentStore) Filter(ctx context.Context, f models.PaymentFilter, sortBy models.SortColumn, order models.SortOrder, limit, offset int) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filtered(f)

	less := func(i, j int) bool {
		var a, b interface{}
		switch sortBy {
		case models.SortByAmount:
			a, b = out[i].Amount, out[j].Amount
		case models.SortByStatus:
			a, b = string(out[i].Status), string(out[j].Status)
		case models.SortByUpdatedAt:
			a, b = out[i].UpdatedAt.UnixNano(), out[j].UpdatedAt.UnixNano()
		case models.SortByPaidAt:
			ai, bi := int64(0), int64(0)
			if out[i].PaidAt != nil {
				ai = out[i].PaidAt.UnixNano()
			}
			if out[j].PaidAt != nil {
				bi = out[j].PaidAt.UnixNano()
			}
			a, b = ai, bi
		default:
			a, b = out[i].CreatedAt.UnixNano(), out[j].CreatedAt.UnixNano()
		}
		switch av := a.(type) {
		case int64:
			bv := b.(int64)
			if order == models.SortAsc {
				return av < bv
			}
			return av > bv
		case string:
			bv := b.(string)
			if order == models.SortAsc {
				return av < bv
			}
			return av > bv
		}
		return false
	}
	sort.Slice(out, less)

	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) || limit <= 0 {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *PaymentStore) CountFiltered(ctx context.Context, f models.PaymentFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filtered(f))), nil
}

func (s *PaymentStore) GetPaidPaymentsWithoutKeys(ctx context.Context) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.byID {
		if p.Status == models.PaymentStatusPaid {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PaymentStore) GetPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.byID {
		if p.Status == models.PaymentStatusPending {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PaymentStore) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.Statistics
	for _, p := range s.byID {
		st.TotalPayments++
		switch p.Status {
		case models.PaymentStatusCompleted:
			st.CompletedPayments++
			st.TotalRevenue += p.Amount
		case models.PaymentStatusPending:
			st.PendingPayments++
		case models.PaymentStatusFailed:
			st.FailedPayments++
		}
	}
	return &st, nil
}

func (s *PaymentStore) ExpireStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.byID {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			p.Status = models.PaymentStatusExpired
			p.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

var _ repository.PaymentRepo = (*PaymentStore)(nil)
