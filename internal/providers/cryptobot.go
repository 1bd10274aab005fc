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

// CryptoBot is Telegram's @CryptoBot crypto-invoice API: a single
// Crypto-Pay-API-Token header, invoices rather than payments, and a
// literal "paid" status string.
type CryptoBot struct {
	apiToken   string
	returnURL  string
	fakeMode   bool
	httpClient *http.Client
	baseURL    string
}

func NewCryptoBot(apiToken, returnURL string, fakeMode bool) *CryptoBot {
	return &CryptoBot{
		apiToken:   apiToken,
		returnURL:  returnURL,
		fakeMode:   fakeMode,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://pay.crypt.bot/api",
	}
}

func (c *CryptoBot) Name() string { return "cryptobot" }

type cryptoBotInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	PayURL    string `json:"pay_url"`
}

type cryptoBotEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
}

func (c *CryptoBot) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if c.fakeMode {
		id := uuid.New().String()
		return &CreatePaymentResult{ProviderPaymentID: id, ConfirmationURL: c.returnURL + "?fake_payment_id=" + id}, nil
	}

	body := map[string]interface{}{
		"amount":      minorToMajor(req.Amount),
		"currency_type": "fiat",
		"fiat":        req.Currency,
		"description": req.Description,
		"payload":     req.ExternalID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal invoice request: %v", ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createInvoice", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Crypto-Pay-API-Token", c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create invoice: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create invoice status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	var env cryptoBotEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil || !env.OK {
		return nil, fmt.Errorf("%w: decode invoice response: %v", ErrProvider, err)
	}
	var inv cryptoBotInvoice
	if err := json.Unmarshal(env.Result, &inv); err != nil {
		return nil, fmt.Errorf("%w: decode invoice object: %v", ErrProvider, err)
	}
	return &CreatePaymentResult{
		ProviderPaymentID: fmt.Sprintf("%d", inv.InvoiceID),
		ConfirmationURL:   inv.PayURL,
	}, nil
}

func (c *CryptoBot) CheckPayment(ctx context.Context, providerPaymentID string) (bool, error) {
	if c.fakeMode {
		return true, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getInvoices?invoice_ids="+providerPaymentID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Crypto-Pay-API-Token", c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("%w: check invoice: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: check invoice status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	var env cryptoBotEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil || !env.OK {
		return false, fmt.Errorf("%w: decode invoice response: %v", ErrProvider, err)
	}
	var listing struct {
		Items []cryptoBotInvoice `json:"items"`
	}
	if err := json.Unmarshal(env.Result, &listing); err != nil {
		return false, fmt.Errorf("%w: decode invoice list: %v", ErrProvider, err)
	}
	if len(listing.Items) == 0 {
		return false, fmt.Errorf("%w: %s", ErrPaymentNotFound, providerPaymentID)
	}
	for _, inv := range listing.Items {
		if inv.Status == "paid" {
			return true, nil
		}
	}
	return false, nil
}

// RefundPayment: CryptoBot invoices are not refundable once paid through
// the public API; the operator issues crypto refunds manually.
func (c *CryptoBot) RefundPayment(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	return fmt.Errorf("%w: cryptobot does not support automated refunds", ErrProvider)
}

func (c *CryptoBot) ParseWebhook(body []byte) (string, NormalizedStatus, error) {
	var evt struct {
		UpdateType string            `json:"update_type"`
		Payload    cryptoBotInvoice `json:"payload"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", StatusUnknown, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	status := StatusUnknown
	if evt.Payload.Status == "paid" {
		status = StatusPaid
	} else if evt.UpdateType == "invoice_paid" {
		status = StatusPaid
	}
	return fmt.Sprintf("%d", evt.Payload.InvoiceID), status, nil
}

// VerifyWebhook checks the crypto-pay-api-signature HMAC header CryptoBot
// attaches, using sha256(apiToken) as the key per their webhook spec.
func (c *CryptoBot) VerifyWebhook(headers map[string]string, body []byte, sourceIP string) (bool, error) {
	_ = sourceIP
	sig := headers["Crypto-Pay-Api-Signature"]
	if sig == "" {
		return false, ErrWebhookAuth
	}
	return verifyHexHMACSHA256(c.apiToken, body, sig), nil
}
