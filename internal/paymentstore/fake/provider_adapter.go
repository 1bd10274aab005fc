package fake

import (
	"context"
	"sync"

	"github.com/vpnpay/core/internal/providers"
)

// ProviderAdapter is a scriptable providers.Adapter: tests set the
// fields before wiring it into a providers.Registry and it plays back
// exactly what they configured.
type ProviderAdapter struct {
	mu sync.Mutex

	NameValue string

	CreatePaymentResult *providers.CreatePaymentResult
	CreatePaymentErr    error

	CheckPaymentPaid bool
	CheckPaymentErr  error

	RefundErr error

	ParseWebhookPaymentID string
	ParseWebhookStatus    providers.NormalizedStatus
	ParseWebhookErr       error

	VerifyWebhookOK  bool
	VerifyWebhookErr error

	CreatePaymentCalls int
	CheckPaymentCalls  int
	RefundCalls        int
}

func NewProviderAdapter(name string) *ProviderAdapter {
	return &ProviderAdapter{NameValue: name, VerifyWebhookOK: true}
}

func (a *ProviderAdapter) Name() string { return a.NameValue }

func (a *ProviderAdapter) CreatePayment(ctx context.Context, req providers.CreatePaymentRequest) (*providers.CreatePaymentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CreatePaymentCalls++
	if a.CreatePaymentErr != nil {
		return nil, a.CreatePaymentErr
	}
	if a.CreatePaymentResult != nil {
		return a.CreatePaymentResult, nil
	}
	return &providers.CreatePaymentResult{ProviderPaymentID: req.ExternalID, ConfirmationURL: "https://pay.example/" + req.ExternalID}, nil
}

func (a *ProviderAdapter) CheckPayment(ctx context.Context, providerPaymentID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CheckPaymentCalls++
	return a.CheckPaymentPaid, a.CheckPaymentErr
}

func (a *ProviderAdapter) RefundPayment(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RefundCalls++
	return a.RefundErr
}

func (a *ProviderAdapter) ParseWebhook(body []byte) (string, providers.NormalizedStatus, error) {
	return a.ParseWebhookPaymentID, a.ParseWebhookStatus, a.ParseWebhookErr
}

func (a *ProviderAdapter) VerifyWebhook(headers map[string]string, body []byte, sourceIP string) (bool, error) {
	return a.VerifyWebhookOK, a.VerifyWebhookErr
}

var _ providers.Adapter = (*ProviderAdapter)(nil)
