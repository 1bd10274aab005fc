// Package storemigrate carries forward payments/migration/migrate_payments.py:
// a one-shot backfill that reads rows out of the legacy payments table
// shape and re-inserts them through PaymentRepo in the canonical shape
// this module expects. The legacy table predates several columns
// (protocol, subscription_id), and two of its providers (stripe,
// paypal) have no adapter in this module, so rows are
// read through a column set discovered via information_schema rather
// than assumed fixed — the same column, row by row, may or may not be
// present depending on how far a given environment's schema drifted
// before this migration runs against it.
package storemigrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// Stats mirrors PaymentMigration.migrate_payments's return shape.
type Stats struct {
	Total      int
	Success    int
	Failed     int
	Duplicates int
}

// Migrator reads legacy rows from legacyTable (via database/sql, since
// the column set varies) and writes them forward through a PaymentRepo.
type Migrator struct {
	legacy  *sql.DB
	payments repository.PaymentRepo
}

func NewMigrator(legacy *sql.DB, payments repository.PaymentRepo) *Migrator {
	return &Migrator{legacy: legacy, payments: payments}
}

type legacyRow struct {
	PaymentID   string
	UserID      int64
	TariffID    int64
	Amount      int64
	Currency    sql.NullString
	Email       sql.NullString
	Status      sql.NullString
	Country     sql.NullString
	Protocol    sql.NullString
	Provider    sql.NullString
	Method      sql.NullString
	Description sql.NullString
	CreatedAt   sql.NullTime
	UpdatedAt   sql.NullTime
	PaidAt      sql.NullTime
	Metadata    sql.NullString
}

// legacyColumns discovers which of the canonical column names actually
// exist on the legacy payments table, via information_schema rather
// than a fixed SELECT list, so the migrator runs unmodified against
// whichever intermediate schema version an environment is still on.
func (m *Migrator) legacyColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.legacy.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns WHERE table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("storemigrate: introspect %s columns: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("storemigrate: scan column name: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// optionalSelect returns expr if col is present in cols, or a literal
// NULL cast to keep the SELECT list's column count fixed regardless of
// which optional columns the legacy table carries.
func optionalSelect(cols map[string]bool, col, expr string) string {
	if cols[col] {
		return expr
	}
	return "NULL"
}

// FetchLegacyPayments reads every row from the legacy payments table,
// tolerating a schema that predates the protocol/subscription_id/method
// columns this module's canonical schema requires.
func (m *Migrator) FetchLegacyPayments(ctx context.Context, legacyTable string) ([]legacyRow, error) {
	cols, err := m.legacyColumns(ctx, legacyTable)
	if err != nil {
		return nil, err
	}
	if !cols["payment_id"] || !cols["user_id"] {
		return nil, fmt.Errorf("storemigrate: %s is missing required columns payment_id/user_id", legacyTable)
	}

	query := fmt.Sprintf(`
		SELECT payment_id, user_id, tariff_id, amount,
			%s, %s, %s, %s, %s, %s, %s, %s,
			%s, %s, %s, %s
		FROM %s
		ORDER BY %s ASC
	`,
		optionalSelect(cols, "currency", "currency"),
		optionalSelect(cols, "email", "email"),
		optionalSelect(cols, "status", "status"),
		optionalSelect(cols, "country", "country"),
		optionalSelect(cols, "protocol", "protocol"),
		optionalSelect(cols, "provider", "provider"),
		optionalSelect(cols, "method", "method"),
		optionalSelect(cols, "description", "description"),
		optionalSelect(cols, "created_at", "created_at"),
		optionalSelect(cols, "updated_at", "updated_at"),
		optionalSelect(cols, "paid_at", "paid_at"),
		optionalSelect(cols, "metadata", "metadata"),
		legacyTable,
		optionalSelect(cols, "created_at", "created_at"),
	)

	rows, err := m.legacy.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storemigrate: query %s: %w", legacyTable, err)
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(
			&r.PaymentID, &r.UserID, &r.TariffID, &r.Amount,
			&r.Currency, &r.Email, &r.Status, &r.Country, &r.Protocol, &r.Provider, &r.Method, &r.Description,
			&r.CreatedAt, &r.UpdatedAt, &r.PaidAt, &r.Metadata,
		); err != nil {
			return nil, fmt.Errorf("storemigrate: scan legacy row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func convertStatus(s string) models.PaymentStatus {
	switch s {
	case "paid":
		return models.PaymentStatusPaid
	case "failed":
		return models.PaymentStatusFailed
	case "cancelled", "canceled":
		return models.PaymentStatusCancelled
	case "refunded":
		return models.PaymentStatusRefunded
	case "expired":
		return models.PaymentStatusExpired
	case "completed":
		return models.PaymentStatusCompleted
	default:
		return models.PaymentStatusPending
	}
}

func convertCurrency(s string) models.Currency {
	c := models.Currency(s)
	if c.Valid() {
		return c
	}
	return models.CurrencyRUB
}

// convertProvider maps the legacy provider value onto one of this
// module's three live adapters. Two of the legacy providers (stripe,
// paypal) never had a corresponding adapter in this codebase, so rows
// written under either fall back to yookassa, the same fallback the
// original migration used for any unrecognized provider string.
func convertProvider(s string) models.Provider {
	p := models.Provider(s)
	if p.Valid() {
		return p
	}
	return models.ProviderYooKassa
}

func convertProtocol(s string) models.Protocol {
	p := models.Protocol(s)
	if p.Valid() {
		return p
	}
	return models.ProtocolOutline
}

// parseLegacyMetadata decodes the legacy metadata column, which may
// already be valid Metadata JSON (string-valued object), a JSON object
// with non-string values, or not JSON at all. Values that survive JSON
// decoding but aren't strings are stringified rather than dropped, and
// anything that isn't decodable at all is kept verbatim under a
// raw_metadata key instead of being discarded.
func parseLegacyMetadata(raw string) models.Metadata {
	if raw == "" {
		return models.Metadata{}
	}
	if meta, ok := models.LoadMetadata(raw); ok {
		return meta
	}
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err == nil {
		meta := make(models.Metadata, len(generic))
		for k, v := range generic {
			meta[k] = stringifyMetadataValue(v)
		}
		return meta
	}
	return models.Metadata{"raw_metadata": raw}
}

func stringifyMetadataValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func (r legacyRow) toPayment() *models.Payment {
	now := time.Now().UTC()
	createdAt, updatedAt := now, now
	if r.CreatedAt.Valid {
		createdAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		updatedAt = r.UpdatedAt.Time
	} else {
		updatedAt = createdAt
	}
	var paidAt *time.Time
	if r.PaidAt.Valid {
		t := r.PaidAt.Time
		paidAt = &t
	}

	currency := "RUB"
	if r.Currency.Valid {
		currency = r.Currency.String
	}
	status := "pending"
	if r.Status.Valid {
		status = r.Status.String
	}
	protocol := "outline"
	if r.Protocol.Valid {
		protocol = r.Protocol.String
	}
	provider := "yookassa"
	if r.Provider.Valid {
		provider = r.Provider.String
	}

	return &models.Payment{
		PaymentID:   r.PaymentID,
		UserID:      r.UserID,
		TariffID:    r.TariffID,
		Amount:      r.Amount,
		Currency:    convertCurrency(currency),
		Email:       r.Email.String,
		Status:      convertStatus(status),
		Country:     r.Country.String,
		Protocol:    convertProtocol(protocol),
		Provider:    convertProvider(provider),
		Method:      r.Method.String,
		Description: r.Description.String,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		PaidAt:      paidAt,
		Metadata:    parseLegacyMetadata(r.Metadata.String),
	}
}

// Migrate converts and writes every row FetchLegacyPayments returns.
// In dryRun mode no write happens at all; Stats still reports what
// would have been attempted. A row whose payment_id already exists in
// the destination store is counted as a duplicate rather than a
// success or a failure: Create's ON CONFLICT DO NOTHING would silently
// return the pre-existing row for it, which would otherwise hide a
// rerun-against-partially-migrated-data duplicate behind a "success".
func (m *Migrator) Migrate(ctx context.Context, legacyTable string, dryRun bool) (Stats, error) {
	rows, err := m.FetchLegacyPayments(ctx, legacyTable)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(rows)}
	for _, row := range rows {
		p := row.toPayment()
		if _, err := m.payments.GetByPaymentID(ctx, p.PaymentID); err == nil {
			stats.Duplicates++
			continue
		} else if !errors.Is(err, repository.ErrPaymentNotFound) {
			stats.Failed++
			continue
		}
		if dryRun {
			stats.Success++
			continue
		}
		if _, err := m.payments.Create(ctx, p); err != nil {
			stats.Failed++
			continue
		}
		stats.Success++
	}
	return stats, nil
}

// Validation is validate_migration's equivalent: a post-migration
// sanity check rather than a guarantee, since Create's ON CONFLICT DO
// NOTHING means a rerun against partially-migrated data is expected to
// report duplicates without that being an error.
type Validation struct {
	LegacyCount int
	NewCount    int64
	Duplicates  int
	Valid       bool
}

// Validate runs no query of its own: it records the counts the caller
// passes in and marks the migration valid when legacyCount equals
// newCount and duplicates is zero, the same two checks the original
// migration ran.
func Validate(ctx context.Context, legacyCount int, newCount int64, duplicates int) Validation {
	return Validation{
		LegacyCount: legacyCount,
		NewCount:    newCount,
		Duplicates:  duplicates,
		Valid:       int64(legacyCount) == newCount && duplicates == 0,
	}
}
