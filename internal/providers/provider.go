// Package providers implements the ProviderAdapter contract (§4.6)
// against three concrete payment processors: YooKassa, Platega and
// CryptoBot.
package providers

import (
	"context"
	"errors"
)

// NormalizedStatus is the provider-agnostic outcome of a webhook parse
// or a status poll.
type NormalizedStatus string

const (
	StatusPaid    NormalizedStatus = "paid"
	StatusFailed  NormalizedStatus = "failed"
	StatusPending NormalizedStatus = "pending"
	StatusUnknown NormalizedStatus = "unknown"
)

var (
	ErrProvider        = errors.New("providers: provider error")
	ErrWebhookAuth     = errors.New("providers: webhook authentication failed")
	ErrMalformedWebhook = errors.New("providers: malformed webhook payload")

	// ErrPaymentNotFound is CheckPayment's distinguished error for "the
	// provider has no record of this payment id", as opposed to a
	// transport failure or an unexpected response shape. Callers branch
	// on this with errors.Is to treat it as paid (§4.5, §7) rather than
	// folding it into the generic not-yet-paid retry path.
	ErrPaymentNotFound = errors.New("providers: payment not found at provider")
)

// CreatePaymentRequest carries everything an adapter needs to open a
// provider-side payment intent. Amount is in minor currency units; the
// adapter is responsible for converting to whatever unit the provider
// API expects.
type CreatePaymentRequest struct {
	Amount      int64
	Currency    string
	Description string
	Email       string
	ExternalID  string
	Metadata    map[string]string
}

type CreatePaymentResult struct {
	ProviderPaymentID string
	ConfirmationURL   string
}

// Adapter is the ProviderAdapter contract. Implementations never raise:
// every failure path returns a typed error the caller can branch on.
type Adapter interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	CheckPayment(ctx context.Context, providerPaymentID string) (paid bool, err error)
	RefundPayment(ctx context.Context, providerPaymentID string, amount int64, reason string) error
	ParseWebhook(body []byte) (providerPaymentID string, status NormalizedStatus, err error)
	VerifyWebhook(headers map[string]string, body []byte, sourceIP string) (bool, error)
}

// Registry resolves a provider name to its adapter, used by
// PaymentService and WebhookService without either depending on the
// concrete provider packages directly.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
