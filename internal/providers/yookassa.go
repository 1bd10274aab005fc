package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// YooKassa talks to YooKassa's REST API: basic auth with shop_id:api_key,
// an Idempotence-Key header on creation, confirmation_url-based redirect
// checkout, and webhooks whose object.status the caller must normalize.
type YooKassa struct {
	shopID       string
	apiKey       string
	secretHeader string
	returnURL    string
	fakeMode     bool
	httpClient   *http.Client
	baseURL      string
}

func NewYooKassa(shopID, apiKey, secretHeader, returnURL string, fakeMode bool) *YooKassa {
	return &YooKassa{
		shopID:       shopID,
		apiKey:       apiKey,
		secretHeader: secretHeader,
		returnURL:    returnURL,
		fakeMode:     fakeMode,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		baseURL:      "https://api.yookassa.ru/v3",
	}
}

func (y *YooKassa) Name() string { return "yookassa" }

type yookassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yookassaCreateRequest struct {
	Amount       yookassaAmount    `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation map[string]string `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type yookassaPaymentObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func minorToMajor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

func (y *YooKassa) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if y.fakeMode {
		id := uuid.New().String()
		return &CreatePaymentResult{
			ProviderPaymentID: id,
			ConfirmationURL:   y.returnURL + "?fake_payment_id=" + id,
		}, nil
	}

	body := yookassaCreateRequest{
		Amount:      yookassaAmount{Value: minorToMajor(req.Amount), Currency: req.Currency},
		Capture:     true,
		Description: req.Description,
		Confirmation: map[string]string{
			"type":       "redirect",
			"return_url": y.returnURL,
		},
		Metadata: req.Metadata,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal create request: %v", ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.SetBasicAuth(y.shopID, y.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.ExternalID)

	resp, err := y.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create payment status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	var obj yookassaPaymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode create response: %v", ErrProvider, err)
	}

	return &CreatePaymentResult{
		ProviderPaymentID: obj.ID,
		ConfirmationURL:   obj.Confirmation.ConfirmationURL,
	}, nil
}

func (y *YooKassa) CheckPayment(ctx context.Context, providerPaymentID string) (bool, error) {
	if y.fakeMode {
		return true, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/payments/"+providerPaymentID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.SetBasicAuth(y.shopID, y.apiKey)

	resp, err := y.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("%w: check payment: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return false, fmt.Errorf("%w: %s", ErrPaymentNotFound, providerPaymentID)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: check payment status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}
	var obj yookassaPaymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return false, fmt.Errorf("%w: decode check response: %v", ErrProvider, err)
	}
	return obj.Status == "succeeded", nil
}

func (y *YooKassa) RefundPayment(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	if y.fakeMode {
		return nil
	}
	body := map[string]interface{}{
		"payment_id": providerPaymentID,
		"amount":     yookassaAmount{Value: minorToMajor(amount), Currency: "RUB"},
	}
	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/refunds", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build refund request: %v", ErrProvider, err)
	}
	httpReq.SetBasicAuth(y.shopID, y.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", providerPaymentID+"-refund")

	resp, err := y.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: refund payment: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: refund status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}
	return nil
}

func (y *YooKassa) ParseWebhook(body []byte) (string, NormalizedStatus, error) {
	var evt struct {
		Event  string                 `json:"event"`
		Object yookassaPaymentObject `json:"object"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", StatusUnknown, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	status := StatusUnknown
	switch evt.Object.Status {
	case "succeeded":
		status = StatusPaid
	case "canceled":
		status = StatusFailed
	case "pending", "waiting_for_capture":
		status = StatusPending
	}
	return evt.Object.ID, status, nil
}

// VerifyWebhook checks the shared-secret header against the configured
// value. YooKassa itself authenticates notifications by source IP
// allowlist rather than a header, but without a secret configured at
// all there is nothing for this adapter to check, so an unconfigured
// secret rejects every delivery rather than accepting everything.
func (y *YooKassa) VerifyWebhook(headers map[string]string, body []byte, sourceIP string) (bool, error) {
	_ = body
	_ = sourceIP
	if y.secretHeader == "" {
		return false, ErrWebhookAuth
	}
	if headers["X-YooKassa-Webhook-Secret"] != y.secretHeader {
		return false, ErrWebhookAuth
	}
	return true, nil
}
