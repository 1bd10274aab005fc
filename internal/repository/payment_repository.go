package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnpay/core/internal/models"
)

// PaymentRepository is the pgx-backed PaymentRepo: the atomic
// compare-and-set primitives that defeat webhook races and the
// processing-lock primitive that bounds concurrent provisioning of one
// payment.
type PaymentRepository struct {
	pool   *pgxpool.Pool
	helper *RepositoryHelper
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool, helper: NewRepositoryHelper(pool)}
}

const paymentColumns = `id, payment_id, user_id, tariff_id, subscription_id, amount, currency,
	provider, method, protocol, country, email, description, status,
	created_at, updated_at, paid_at, metadata`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var subscriptionID *int64
	var method, country, email, description, metadataRaw *string
	var paidAt *time.Time
	if err := row.Scan(
		&p.ID, &p.PaymentID, &p.UserID, &p.TariffID, &subscriptionID, &p.Amount, &p.Currency,
		&p.Provider, &method, &p.Protocol, &country, &email, &description, &p.Status,
		&p.CreatedAt, &p.UpdatedAt, &paidAt, &metadataRaw,
	); err != nil {
		return nil, err
	}
	p.SubscriptionID = subscriptionID
	if method != nil {
		p.Method = *method
	}
	if country != nil {
		p.Country = *country
	}
	if email != nil {
		p.Email = *email
	}
	if description != nil {
		p.Description = *description
	}
	p.PaidAt = paidAt
	raw := ""
	if metadataRaw != nil {
		raw = *metadataRaw
	}
	meta, ok := models.LoadMetadata(raw)
	if !ok {
		meta = models.Metadata{}
	}
	p.Metadata = meta
	return &p, nil
}

// Create inserts a new payment, honoring the uniqueness of payment_id.
// On a duplicate insert it returns the pre-existing row instead of an
// error, because several provider flows retry intent creation with the
// same external id.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	query := `
		INSERT INTO payments (payment_id, user_id, tariff_id, subscription_id, amount, currency,
			provider, method, protocol, country, email, description, status, created_at, updated_at, paid_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING ` + paymentColumns

	row := r.pool.QueryRow(ctx, query,
		p.PaymentID, p.UserID, p.TariffID, p.SubscriptionID, p.Amount, p.Currency,
		p.Provider, nullableStr(p.Method), p.Protocol, nullableStr(p.Country), nullableStr(p.Email), nullableStr(p.Description),
		p.Status, p.CreatedAt, p.UpdatedAt, p.PaidAt, p.Metadata.Encode(),
	)
	created, err := scanPayment(row)
	if err == nil {
		return created, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetByPaymentID(ctx, p.PaymentID)
	}
	return nil, fmt.Errorf("%w: create payment: %v", ErrStorage, err)
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// Update performs a full-row update keyed on payment_id.
func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments SET user_id=$2, tariff_id=$3, subscription_id=$4, amount=$5, currency=$6,
			provider=$7, method=$8, protocol=$9, country=$10, email=$11, description=$12, status=$13,
			updated_at=$14, paid_at=$15, metadata=$16
		WHERE payment_id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		p.PaymentID, p.UserID, p.TariffID, p.SubscriptionID, p.Amount, p.Currency,
		p.Provider, nullableStr(p.Method), p.Protocol, nullableStr(p.Country), nullableStr(p.Email), nullableStr(p.Description),
		p.Status, time.Now().UTC(), p.PaidAt, p.Metadata.Encode(),
	)
	if err != nil {
		return fmt.Errorf("%w: update payment: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// TryUpdateStatus is the CAS that defeats webhook races: it sets status
// to `to` only if the current status is exactly `expectedFrom`, retrying
// up to 3 times with exponential backoff (starting ~100ms) on transient
// storage errors.
func (r *PaymentRepository) TryUpdateStatus(ctx context.Context, paymentID string, to, expectedFrom models.PaymentStatus) (bool, error) {
	var ok bool
	err := withRetry(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		ok, err = r.tryUpdateStatusOnce(ctx, paymentID, to, expectedFrom)
		return err
	})
	return ok, err
}

func (r *PaymentRepository) tryUpdateStatusOnce(ctx context.Context, paymentID string, to, expectedFrom models.PaymentStatus) (bool, error) {
	now := time.Now().UTC()
	var paidAtClause string
	args := []interface{}{paymentID, to, expectedFrom, now}
	if to == models.PaymentStatusPaid {
		paidAtClause = `, paid_at = $5`
		args = append(args, now)
	}
	query := fmt.Sprintf(`
		UPDATE payments SET status = $2, updated_at = $4%s
		WHERE payment_id = $1 AND status = $3
	`, paidAtClause)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TryAcquireProcessingLock is a single atomic UPDATE: the staleness/
// holder check runs in the same WHERE clause that performs the write,
// so two concurrent callers can never both observe an acquirable lock
// and both flip it. Reading the row first and writing second (as an
// earlier version of this did) is a read-then-write race — both racers
// can pass the read check before either commits the write.
func (r *PaymentRepository) TryAcquireProcessingLock(ctx context.Context, paymentID, lockKey string, staleness time.Duration) (bool, error) {
	startedAtKey := lockKey + "_started_at"
	cutoff := time.Now().UTC().Add(-staleness)
	now := time.Now().UTC()

	query := `
		UPDATE payments
		SET metadata = metadata || jsonb_build_object($4::text, 'true', $5::text, $6::text),
		    updated_at = $3
		WHERE payment_id = $1
		  AND status != $2
		  AND (
		    metadata->>$4 IS NULL
		    OR metadata->>$4 != 'true'
		    OR (metadata->>$5)::timestamptz < $7
		  )
	`
	tag, err := r.pool.Exec(ctx, query,
		paymentID, models.PaymentStatusCompleted, now,
		lockKey, startedAtKey, now.Format(time.RFC3339), cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("%w: acquire lock: %v", ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PaymentRepository) ReleaseProcessingLock(ctx context.Context, paymentID, lockKey string) error {
	p, err := r.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Metadata == nil {
		return nil
	}
	delete(p.Metadata, lockKey)
	delete(p.Metadata, lockKey+"_started_at")
	_, err = r.pool.Exec(ctx, `UPDATE payments SET metadata = $2, updated_at = $3 WHERE payment_id = $1`,
		paymentID, p.Metadata.Encode(), time.Now().UTC())
	return err
}

func (r *PaymentRepository) UpdateSubscriptionID(ctx context.Context, paymentID string, subscriptionID int64) error {
	return withRetry(ctx, 3, 100*time.Millisecond, func() error {
		_, err := r.pool.Exec(ctx, `UPDATE payments SET subscription_id = $2, updated_at = $3 WHERE payment_id = $1`,
			paymentID, subscriptionID, time.Now().UTC())
		return err
	})
}

// Filter executes a bounded, whitelisted-sort-column query over the
// typed filter structure.
func (r *PaymentRepository) Filter(ctx context.Context, f models.PaymentFilter, sortBy models.SortColumn, order models.SortOrder, limit, offset int) ([]*models.Payment, error) {
	r.helper.EnforcePaginationLimits(&limit, &offset)
	where, args := buildPaymentFilterClause(f)
	if order != models.SortAsc {
		order = models.SortDesc
	}
	sortBy = models.AllowedSortColumn(string(sortBy))

	query := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		paymentColumns, where, sortBy, order, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: filter payments: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) CountFiltered(ctx context.Context, f models.PaymentFilter) (int64, error) {
	where, args := buildPaymentFilterClause(f)
	var count int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM payments %s`, where), args...).Scan(&count)
	return count, err
}

func buildPaymentFilterClause(f models.PaymentFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.TariffID != nil {
		add("tariff_id = $%d", *f.TariffID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Provider != nil {
		add("provider = $%d", *f.Provider)
	}
	if f.Protocol != nil {
		add("protocol = $%d", *f.Protocol)
	}
	if f.Country != nil {
		add("country = $%d", *f.Country)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}
	if f.PaidOnly {
		clauses = append(clauses, "paid_at IS NOT NULL")
	}
	if f.PendingOnly {
		args = append(args, models.PaymentStatusPending)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		idx := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(payment_id ILIKE $%d OR email ILIKE $%d OR description ILIKE $%d)", idx, idx, idx))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// GetPaidPaymentsWithoutKeys is the reconciliation feed (§4.1): paid
// subscription payments on v2ray (always re-examined, since the
// subscription may need renewal) plus paid payments belonging to a user
// with no subscription whose expires_at is later than 24 hours before
// now. The vpn_keys table is not consulted, so a key held outside such a
// subscription does not exclude a payment from the feed.
func (r *PaymentRepository) GetPaidPaymentsWithoutKeys(ctx context.Context) ([]*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payments p
		WHERE p.status = $1
		  AND (
			(p.metadata->>'key_type' = 'subscription' AND p.protocol = 'v2ray')
			OR NOT EXISTS (
				SELECT 1 FROM subscriptions s
				WHERE s.user_id = p.user_id AND s.expires_at > now() - interval '24 hours'
			)
		  )
		ORDER BY p.created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, models.PaymentStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("%w: get paid payments without keys: %v", ErrStorage, err)
	}
	defer rows.Close()
	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) GetPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at ASC`, models.PaymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("%w: get pending payments: %v", ErrStorage, err)
	}
	defer rows.Close()
	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExpireStalePending transitions every pending payment created before
// olderThan straight to expired; it is a plain update, not CAS-gated,
// because the reconciler is the only writer that ever touches pending
// payments this old (§4.3 state table: pending→expired).
func (r *PaymentRepository) ExpireStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = $2 WHERE status = $3 AND created_at < $4`,
		models.PaymentStatusExpired, time.Now().UTC(), models.PaymentStatusPending, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: expire stale pending: %v", ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PaymentRepository) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	var s models.Statistics
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0)
		FROM payments
	`
	err := r.pool.QueryRow(ctx, query).Scan(&s.TotalPayments, &s.CompletedPayments, &s.PendingPayments, &s.FailedPayments, &s.TotalRevenue)
	return &s, err
}

// withRetry retries fn on transient Postgres errors (serialization
// failure 40001, deadlock detected 40P01) with exponential backoff,
// mirroring the atomic-primitive retry policy in §4.1/§7.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(math.Pow(2, float64(i))) * baseDelay):
		}
	}
	return fmt.Errorf("%w: exhausted retries: %v", ErrStorage, err)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
