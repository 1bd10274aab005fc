package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminMFARecord is the single admin account's encrypted TOTP secret and
// enrollment state. There is exactly one admin user per §9 design note,
// so this is a single-row table keyed by admin_user_id.
type AdminMFARecord struct {
	AdminUserID     int64
	EncryptedSecret string
	Enabled         bool
	EnrolledAt      *time.Time
}

type AdminMFARepository struct {
	pool *pgxpool.Pool
}

func NewAdminMFARepository(pool *pgxpool.Pool) *AdminMFARepository {
	return &AdminMFARepository{pool: pool}
}

func (r *AdminMFARepository) Get(ctx context.Context, adminUserID int64) (*AdminMFARecord, error) {
	var rec AdminMFARecord
	err := r.pool.QueryRow(ctx, `
		SELECT admin_user_id, encrypted_secret, enabled, enrolled_at
		FROM admin_mfa WHERE admin_user_id = $1
	`, adminUserID).Scan(&rec.AdminUserID, &rec.EncryptedSecret, &rec.Enabled, &rec.EnrolledAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *AdminMFARepository) Upsert(ctx context.Context, rec *AdminMFARecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admin_mfa (admin_user_id, encrypted_secret, enabled, enrolled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (admin_user_id) DO UPDATE SET
			encrypted_secret = EXCLUDED.encrypted_secret,
			enabled = EXCLUDED.enabled,
			enrolled_at = EXCLUDED.enrolled_at
	`, rec.AdminUserID, rec.EncryptedSecret, rec.Enabled, rec.EnrolledAt)
	return err
}
