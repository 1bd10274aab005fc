package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryLimits bounds pagination (MaxResultSize, MaxOffset) and the
// ExecuteWithTimeout deadline (MaxQueryTime). PaymentRepository.Filter
// clamps its limit/offset with it; CountFiltered is not bounded by it.
type QueryLimits struct {
	MaxResultSize int
	MaxOffset     int
	MaxQueryTime  time.Duration
}

func DefaultQueryLimits() QueryLimits {
	return QueryLimits{
		MaxResultSize: 200,
		MaxOffset:     100_000,
		MaxQueryTime:  5 * time.Second,
	}
}

// RepositoryHelper provides pagination/timeout enforcement shared by the
// query-heavy repositories.
type RepositoryHelper struct {
	pool   *pgxpool.Pool
	limits QueryLimits
}

func NewRepositoryHelper(pool *pgxpool.Pool) *RepositoryHelper {
	return &RepositoryHelper{pool: pool, limits: DefaultQueryLimits()}
}

func NewRepositoryHelperWithLimits(pool *pgxpool.Pool, limits QueryLimits) *RepositoryHelper {
	return &RepositoryHelper{pool: pool, limits: limits}
}

func (h *RepositoryHelper) ValidatePagination(limit, offset int) error {
	if limit < 0 || limit > h.limits.MaxResultSize {
		return fmt.Errorf("limit %d exceeds allowed range [0,%d]", limit, h.limits.MaxResultSize)
	}
	if offset < 0 || offset > h.limits.MaxOffset {
		return fmt.Errorf("offset %d exceeds allowed range [0,%d]", offset, h.limits.MaxOffset)
	}
	return nil
}

// EnforcePaginationLimits clamps limit/offset into range instead of
// rejecting the call outright (a non-positive limit becomes 50). Its
// caller is PaymentRepository.Filter, which serves the admin payment list.
func (h *RepositoryHelper) EnforcePaginationLimits(limit, offset *int) {
	if *limit > h.limits.MaxResultSize {
		*limit = h.limits.MaxResultSize
	}
	if *limit <= 0 {
		*limit = 50
	}
	if *offset > h.limits.MaxOffset {
		*offset = h.limits.MaxOffset
	}
	if *offset < 0 {
		*offset = 0
	}
}

func (h *RepositoryHelper) GetQueryTimeout() time.Duration {
	return h.limits.MaxQueryTime
}

// ExecuteWithTimeout executes a write query bounded by the configured
// query timeout.
func (h *RepositoryHelper) ExecuteWithTimeout(ctx context.Context, query string, args ...interface{}) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, h.GetQueryTimeout())
	defer cancel()
	_, err := h.pool.Exec(ctxWithTimeout, query, args...)
	return err
}

func (h *RepositoryHelper) GetLimits() QueryLimits {
	return h.limits
}
