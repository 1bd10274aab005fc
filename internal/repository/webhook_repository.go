package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnpay/core/internal/models"
)

// WebhookRepository backs the provider-agnostic retry queue and
// dead-letter queue for inbound webhook notifications. One (provider,
// event_id) pair identifies a delivery across YooKassa, Platega and
// CryptoBot alike.
type WebhookRepository struct {
	db *pgxpool.Pool
}

func NewWebhookRepository(db *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) AddToRetryQueue(ctx context.Context, provider, eventID, eventType string, payload interface{}, maxRetries int) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO webhook_retry_queue (provider, event_id, event_type, payload, retry_count, max_retries, next_retry_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`

	nextRetry := time.Now().Add(30 * time.Second)
	_, err = r.db.Exec(ctx, query, provider, eventID, eventType, string(payloadJSON), maxRetries, nextRetry)
	return err
}

// GetPendingRetries retrieves webhook events ready for retry, using FOR
// UPDATE SKIP LOCKED so multiple scheduler replicas never double-process
// the same item.
func (r *WebhookRepository) GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookRetryItem, error) {
	query := `
		SELECT id, provider, event_id, event_type, payload, retry_count, max_retries,
		       next_retry_at, last_error, created_at
		FROM webhook_retry_queue
		WHERE next_retry_at <= $1 AND retry_count < max_retries
		ORDER BY next_retry_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.Query(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.WebhookRetryItem
	for rows.Next() {
		var item models.WebhookRetryItem
		var payload string
		if err := rows.Scan(
			&item.ID, &item.Provider, &item.EventID, &item.EventType, &payload, &item.RetryCount,
			&item.MaxRetries, &item.NextRetryAt, &item.LastError, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.Payload = []byte(payload)
		items = append(items, &item)
	}

	return items, rows.Err()
}

func (r *WebhookRepository) UpdateRetryQueueItem(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt *time.Time, lastError string) error {
	query := `
		UPDATE webhook_retry_queue
		SET retry_count = $2, next_retry_at = $3, last_error = $4
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, retryCount, nextRetryAt, lastError)
	return err
}

func (r *WebhookRepository) RemoveFromRetryQueue(ctx context.Context, provider, eventID string) error {
	query := `DELETE FROM webhook_retry_queue WHERE provider = $1 AND event_id = $2`
	_, err := r.db.Exec(ctx, query, provider, eventID)
	return err
}

// MoveToDeadLetterQueue moves a permanently-failing event to the
// dead-letter queue inside a transaction.
func (r *WebhookRepository) MoveToDeadLetterQueue(ctx context.Context, item *models.WebhookRetryItem, finalError string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dlqQuery := `
		INSERT INTO webhook_dead_letter_queue (provider, event_id, event_type, payload, retry_count, error, original_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, event_id) DO UPDATE
		SET error = EXCLUDED.error, retry_count = EXCLUDED.retry_count
	`
	if _, err = tx.Exec(ctx, dlqQuery,
		item.Provider, item.EventID, item.EventType, string(item.Payload), item.RetryCount, finalError, item.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert into dead-letter queue: %w", err)
	}

	removeQuery := `DELETE FROM webhook_retry_queue WHERE provider = $1 AND event_id = $2`
	if _, err = tx.Exec(ctx, removeQuery, item.Provider, item.EventID); err != nil {
		return fmt.Errorf("failed to remove from retry queue: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *WebhookRepository) CountDeadLetterQueueItems(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_dead_letter_queue`).Scan(&count)
	return count, err
}

func (r *WebhookRepository) CountPendingRetries(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM webhook_retry_queue WHERE next_retry_at <= $1 AND retry_count < max_retries`
	err := r.db.QueryRow(ctx, query, time.Now()).Scan(&count)
	return count, err
}
