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

// Platega authenticates with X-MerchantId/X-Secret headers and reports
// a completed card payment with the literal status string "CONFIRMED".
type Platega struct {
	merchantID string
	secret     string
	returnURL  string
	fakeMode   bool
	httpClient *http.Client
	baseURL    string
}

func NewPlatega(merchantID, secret, returnURL string, fakeMode bool) *Platega {
	return &Platega{
		merchantID: merchantID,
		secret:     secret,
		returnURL:  returnURL,
		fakeMode:   fakeMode,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://app.platega.io/api/v1",
	}
}

func (p *Platega) Name() string { return "platega" }

type plategaCreateRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	OrderID     string `json:"orderId"`
}

type plategaPaymentObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PayURL    string `json:"payUrl"`
}

func (p *Platega) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if p.fakeMode {
		id := uuid.New().String()
		return &CreatePaymentResult{ProviderPaymentID: id, ConfirmationURL: p.returnURL + "?fake_payment_id=" + id}, nil
	}

	body := plategaCreateRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReturnURL:   p.returnURL,
		OrderID:     req.ExternalID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal create request: %v", ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-MerchantId", p.merchantID)
	httpReq.Header.Set("X-Secret", p.secret)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create payment status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	var obj plategaPaymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode create response: %v", ErrProvider, err)
	}
	return &CreatePaymentResult{ProviderPaymentID: obj.ID, ConfirmationURL: obj.PayURL}, nil
}

func (p *Platega) CheckPayment(ctx context.Context, providerPaymentID string) (bool, error) {
	if p.fakeMode {
		return true, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/payments/"+providerPaymentID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("X-MerchantId", p.merchantID)
	httpReq.Header.Set("X-Secret", p.secret)

	resp, err := p.httpClient.Do(httpReq)
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
	var obj plategaPaymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return false, fmt.Errorf("%w: decode check response: %v", ErrProvider, err)
	}
	return obj.Status == "CONFIRMED", nil
}

func (p *Platega) RefundPayment(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	if p.fakeMode {
		return nil
	}
	body := map[string]interface{}{"amount": amount, "reason": reason}
	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments/"+providerPaymentID+"/refund", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build refund request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-MerchantId", p.merchantID)
	httpReq.Header.Set("X-Secret", p.secret)

	resp, err := p.httpClient.Do(httpReq)
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

func (p *Platega) ParseWebhook(body []byte) (string, NormalizedStatus, error) {
	var obj plategaPaymentObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", StatusUnknown, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	status := StatusUnknown
	switch obj.Status {
	case "CONFIRMED":
		status = StatusPaid
	case "DECLINED", "CANCELED":
		status = StatusFailed
	case "PENDING":
		status = StatusPending
	}
	return obj.ID, status, nil
}

// VerifyWebhook checks the shared-secret header Platega echoes back on
// every notification.
func (p *Platega) VerifyWebhook(headers map[string]string, body []byte, sourceIP string) (bool, error) {
	_ = body
	_ = sourceIP
	if p.secret == "" {
		return true, nil
	}
	return headers["X-Secret"] == p.secret, nil
}
