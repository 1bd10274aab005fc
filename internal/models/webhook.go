package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookRetryItem is a queued inbound provider notification that could
// not be applied on first delivery (provider error, transient storage
// error) and is retried with exponential backoff before falling through
// to the dead-letter queue.
type WebhookRetryItem struct {
	ID           uuid.UUID
	Provider     string
	EventID      string
	EventType    string
	Payload      []byte
	RetryCount   int
	MaxRetries   int
	NextRetryAt  time.Time
	LastError    string
	CreatedAt    time.Time
}
