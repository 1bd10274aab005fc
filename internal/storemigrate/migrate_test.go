package storemigrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/storemigrate"
)

func TestMigrateConvertsLegacyRowsIntoCanonicalPayments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs("payments_legacy").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("payment_id").AddRow("user_id").AddRow("tariff_id").AddRow("amount").
			AddRow("currency").AddRow("email").AddRow("status").AddRow("country").
			AddRow("provider").AddRow("method").AddRow("description").
			AddRow("created_at").AddRow("updated_at").AddRow("paid_at").AddRow("metadata"))

	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(`SELECT payment_id, user_id, tariff_id, amount`).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "user_id", "tariff_id", "amount",
			"currency", "email", "status", "country", "protocol", "provider", "method", "description",
			"created_at", "updated_at", "paid_at", "metadata",
		}).AddRow(
			"legacy-1", int64(7), int64(1), int64(500),
			"RUB", "a@example.com", "paid", nil, nil, "stripe", nil, nil,
			now, now, now, `{"note":"migrated"}`,
		))

	payments := fake.NewPaymentStore()
	m := storemigrate.NewMigrator(db, payments)

	stats, err := m.Migrate(context.Background(), "payments_legacy", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 0, stats.Failed)

	p, err := payments.GetByPaymentID(context.Background(), "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.Equal(t, models.ProviderYooKassa, p.Provider, "unrecognized legacy provider stripe falls back to yookassa")
	assert.Equal(t, models.ProtocolOutline, p.Protocol, "missing protocol column falls back to outline")
	assert.Equal(t, "migrated", p.Metadata["note"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs("payments_legacy").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("payment_id").AddRow("user_id").AddRow("tariff_id").AddRow("amount"))

	mock.ExpectQuery(`SELECT payment_id, user_id, tariff_id, amount`).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "user_id", "tariff_id", "amount",
			"currency", "email", "status", "country", "protocol", "provider", "method", "description",
			"created_at", "updated_at", "paid_at", "metadata",
		}).AddRow(
			"legacy-2", int64(3), int64(1), int64(100),
			nil, nil, nil, nil, nil, nil, nil, nil,
			nil, nil, nil, nil,
		))

	payments := fake.NewPaymentStore()
	m := storemigrate.NewMigrator(db, payments)

	stats, err := m.Migrate(context.Background(), "payments_legacy", true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Success)

	_, err = payments.GetByPaymentID(context.Background(), "legacy-2")
	assert.Error(t, err, "dry run must not write anything to the destination store")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCountsPreexistingPaymentIDAsDuplicateNotSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs("payments_legacy").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("payment_id").AddRow("user_id").AddRow("tariff_id").AddRow("amount"))

	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(`SELECT payment_id, user_id, tariff_id, amount`).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "user_id", "tariff_id", "amount",
			"currency", "email", "status", "country", "protocol", "provider", "method", "description",
			"created_at", "updated_at", "paid_at", "metadata",
		}).AddRow(
			"already-there", int64(1), int64(1), int64(500),
			"RUB", nil, "paid", nil, nil, nil, nil, nil,
			now, now, now, nil,
		))

	payments := fake.NewPaymentStore()
	_, err = payments.Create(context.Background(), &models.Payment{
		PaymentID: "already-there", UserID: 1, TariffID: 1, Amount: 500,
		Currency: models.CurrencyRUB, Status: models.PaymentStatusPending,
		Protocol: models.ProtocolOutline, Provider: models.ProviderYooKassa,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	m := storemigrate.NewMigrator(db, payments)
	stats, err := m.Migrate(context.Background(), "payments_legacy", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Success)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Duplicates, "a payment_id already present in the destination must count as a duplicate, not a success")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateFlagsCountMismatchAndDuplicates(t *testing.T) {
	ctx := context.Background()

	clean := storemigrate.Validate(ctx, 10, 10, 0)
	assert.True(t, clean.Valid)

	mismatch := storemigrate.Validate(ctx, 10, 8, 0)
	assert.False(t, mismatch.Valid)

	dup := storemigrate.Validate(ctx, 10, 10, 2)
	assert.False(t, dup.Valid)
	assert.Equal(t, 2, dup.Duplicates)
}
