// Package models holds the persistent entities of the payment and
// subscription lifecycle engine: Payment, Subscription, VpnKey, plus the
// read-only catalogs (Server, Tariff, Referral) the core joins against.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyRUB, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

type Provider string

const (
	ProviderYooKassa Provider = "yookassa"
	ProviderPlatega  Provider = "platega"
	ProviderCryptoBot Provider = "cryptobot"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderYooKassa, ProviderPlatega, ProviderCryptoBot:
		return true
	}
	return false
}

type Protocol string

const (
	ProtocolOutline Protocol = "outline"
	ProtocolV2Ray   Protocol = "v2ray"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolOutline, ProtocolV2Ray:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// VIPExpiresAt is the fixed far-future sentinel for VIP subscriptions
// (Unix 4102434000 = 2099-12-31T21:00:00Z, i.e. 2100-01-01 00:00 at
// UTC+3), matching the legacy VIP_EXPIRES_AT constant.
var VIPExpiresAt = time.Unix(4102434000, 0).UTC()

// Metadata is the free-form JSON bag carried on a Payment row. Only the
// keys the core reads are exposed as typed accessors; everything else
// round-trips opaquely. Malformed JSON decodes to an empty Metadata with
// no error raised to the caller — see LoadMetadata.
type Metadata map[string]string

const (
	MetaKeyType                       = "key_type"
	MetaPlategaPaymentMethod          = "platega_payment_method"
	MetaProcessingSubscription        = "_processing_subscription"
	MetaProcessingSubscriptionStarted = "_processing_subscription_started_at"
	MetaInvoiceID                     = "invoice_id"
	MetaInvoiceHash                   = "invoice_hash"
	MetaAsset                         = "asset"
	MetaNetwork                       = "network"
	MetaAmountUSD                     = "amount_usd"
)

const (
	KeyTypeSubscription = "subscription"
	KeyTypeKey          = "key"
)

// LoadMetadata parses raw JSON metadata text. On malformed payload it
// returns an empty map and ok=false so callers can log a warning instead
// of failing the request; the core never executes or evaluates the
// payload, only decodes it as JSON.
func LoadMetadata(raw string) (Metadata, bool) {
	if raw == "" {
		return Metadata{}, true
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, false
	}
	if m == nil {
		m = Metadata{}
	}
	return m, true
}

func (m Metadata) Encode() string {
	if m == nil {
		m = Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (m Metadata) IsSubscription() bool {
	return m[MetaKeyType] == KeyTypeSubscription
}

// Payment is the ledger entry driving the state machine.
type Payment struct {
	ID             int64
	PaymentID      string
	UserID         int64
	TariffID       int64
	SubscriptionID *int64
	Amount         int64
	Currency       Currency
	Provider       Provider
	Method         string
	Protocol       Protocol
	Country        string
	Email          string
	Description    string
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	Metadata       Metadata
}

func (p *Payment) MetaStr(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}

// Subscription is the timeline of paid VPN access for one user.
type Subscription struct {
	ID                       int64
	UserID                   int64
	SubscriptionToken        uuid.UUID
	TariffID                 int64
	CreatedAt                time.Time
	ExpiresAt                time.Time
	LastUpdatedAt            time.Time
	IsActive                 bool
	TrafficLimitMB           int64
	PurchaseNotificationSent bool
}

// IsActiveNow reports whether the subscription is currently usable,
// honoring the renewal grace period.
func (s *Subscription) IsActiveNow(now time.Time, grace time.Duration) bool {
	return s.IsActive && s.ExpiresAt.After(now.Add(-grace))
}

func (s *Subscription) IsVIP(now time.Time) bool {
	return s.ExpiresAt.After(VIPExpiresAt.Add(-24 * time.Hour))
}

// VpnKey is one remote credential issued on one VPN server.
type VpnKey struct {
	ID             int64
	ServerID       int64
	UserID         int64
	SubscriptionID *int64
	TariffID       int64
	Email          string
	Protocol       Protocol
	CreatedAt      time.Time
	TrafficLimitMB int64

	// v2ray
	V2RayUUID    string
	ClientConfig string

	// outline
	KeyID     string
	AccessURL string
}

type AccessLevel string

const (
	AccessLevelAll  AccessLevel = "all"
	AccessLevelPaid AccessLevel = "paid"
	AccessLevelVIP  AccessLevel = "vip"
)

// Server is a read-only catalog entry describing a remote VPN endpoint.
type Server struct {
	ID          int64
	Protocol    Protocol
	APIURL      string
	APIKey      string
	Country     string
	Active      bool
	AccessLevel AccessLevel
	IsPrimary   bool
}

// Tariff is a read-only catalog row.
type Tariff struct {
	ID             int64
	Name           string
	DurationSec    int64
	Price          int64
	TrafficLimitMB int64
}

// Referral is read-only.
type Referral struct {
	ReferrerID  int64
	ReferredID  int64
	BonusIssued bool
}

// PaymentFilter is the typed filter for PaymentRepo.Filter/CountFiltered.
type PaymentFilter struct {
	UserID        *int64
	TariffID      *int64
	Status        *PaymentStatus
	Provider      *Provider
	Protocol      *Protocol
	Country       *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	PaidOnly      bool
	PendingOnly   bool
	Query         string
}

type SortColumn string

const (
	SortByCreatedAt SortColumn = "created_at"
	SortByStatus    SortColumn = "status"
	SortByAmount    SortColumn = "amount"
	SortByPaidAt    SortColumn = "paid_at"
	SortByUpdatedAt SortColumn = "updated_at"
)

// AllowedSortColumn whitelists sort columns per the filter contract;
// anything else falls back to created_at.
func AllowedSortColumn(s string) SortColumn {
	switch SortColumn(s) {
	case SortByCreatedAt, SortByStatus, SortByAmount, SortByPaidAt, SortByUpdatedAt:
		return SortColumn(s)
	default:
		return SortByCreatedAt
	}
}

type SortOrder string

const (
	SortDesc SortOrder = "DESC"
	SortAsc  SortOrder = "ASC"
)

// Statistics is the aggregate surface for get_statistics.
type Statistics struct {
	TotalPayments     int64
	CompletedPayments int64
	PendingPayments   int64
	FailedPayments    int64
	TotalRevenue      int64 // sum(amount) where status=completed
}
