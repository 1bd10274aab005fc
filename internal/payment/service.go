// Package payment implements PaymentService (§2): intent creation
// against a provider adapter, payment-wait polling, and the dispatch
// into either SubscriptionPurchaseService or the simple-key issuance
// path once a payment is observed paid.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/internal/vpnadapter"
	"github.com/vpnpay/core/pkg/logging"
	redispkg "github.com/vpnpay/core/pkg/redis"
)

// Config holds the payment-wait polling parameters (§7 cancellation
// model): bounded wait, fixed interval, no state mutation on timeout.
// CacheTTL bounds how often the pending-payment path re-hits a
// provider's check_payment endpoint for the same payment, shared
// between WaitForPayment and the reconciler's pending sweep.
type Config struct {
	DefaultCurrency      string
	TimeoutMinutes       int
	CheckIntervalSeconds int
	CacheTTL             time.Duration
}

type Service struct {
	payments  repository.PaymentRepo
	catalog   repository.CatalogRepo
	keys      repository.VpnKeyRepo
	providers *providers.Registry
	vpn       *vpnadapter.Registry
	purchase  *purchase.Service
	notifier  notify.Notifier
	cache     *redispkg.Client
	logger    *logging.StructuredLogger
	cfg       Config
}

// NewService wires PaymentService. cache may be nil, in which case
// every poll hits the provider directly.
func NewService(
	payments repository.PaymentRepo,
	catalog repository.CatalogRepo,
	keys repository.VpnKeyRepo,
	providerRegistry *providers.Registry,
	vpnRegistry *vpnadapter.Registry,
	purchaseService *purchase.Service,
	notifier notify.Notifier,
	cache *redispkg.Client,
	cfg Config,
) *Service {
	if cfg.TimeoutMinutes == 0 {
		cfg.TimeoutMinutes = 5
	}
	if cfg.CheckIntervalSeconds == 0 {
		cfg.CheckIntervalSeconds = 5
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	return &Service{
		payments:  payments,
		catalog:   catalog,
		keys:      keys,
		providers: providerRegistry,
		vpn:       vpnRegistry,
		purchase:  purchaseService,
		notifier:  notifier,
		cache:     cache,
		logger:    logging.GetLogger(),
		cfg:       cfg,
	}
}

// IntentRequest is everything needed to open a new pending payment.
type IntentRequest struct {
	UserID   int64
	TariffID int64
	Provider models.Provider
	Protocol models.Protocol
	KeyType  string
	Email    string
	Country  string
}

// CreateIntent opens a provider-side payment and records the pending
// row. A provider error surfaces to the caller rather than silently
// creating an unusable pending payment.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (*models.Payment, string, error) {
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return nil, "", fmt.Errorf("payment: invalid email %q: %w", req.Email, err)
		}
	}
	if !req.Provider.Valid() {
		return nil, "", fmt.Errorf("payment: unknown provider %q", req.Provider)
	}
	if !req.Protocol.Valid() {
		return nil, "", fmt.Errorf("payment: unknown protocol %q", req.Protocol)
	}

	tariff, err := s.catalog.GetTariff(ctx, req.TariffID)
	if err != nil {
		return nil, "", fmt.Errorf("payment: load tariff %d: %w", req.TariffID, err)
	}
	if tariff.Price <= 0 {
		return nil, "", fmt.Errorf("payment: tariff %d has non-positive price", req.TariffID)
	}

	adapter, ok := s.providers.Get(string(req.Provider))
	if !ok {
		return nil, "", fmt.Errorf("payment: no adapter registered for provider %q", req.Provider)
	}

	externalID := uuid.New().String()
	result, err := adapter.CreatePayment(ctx, providers.CreatePaymentRequest{
		Amount:      tariff.Price,
		Currency:    s.cfg.DefaultCurrency,
		Description: fmt.Sprintf("%s subscription", tariff.Name),
		Email:       req.Email,
		ExternalID:  externalID,
		Metadata:    map[string]string{models.MetaKeyType: req.KeyType},
	})
	if err != nil {
		return nil, "", fmt.Errorf("payment: create provider payment: %w", err)
	}

	now := time.Now().UTC()
	meta := models.Metadata{models.MetaKeyType: req.KeyType}
	payment := &models.Payment{
		PaymentID:   result.ProviderPaymentID,
		UserID:      req.UserID,
		TariffID:    req.TariffID,
		Amount:      tariff.Price,
		Currency:    models.Currency(s.cfg.DefaultCurrency),
		Provider:    req.Provider,
		Protocol:    req.Protocol,
		Country:     req.Country,
		Email:       req.Email,
		Description: fmt.Sprintf("%s subscription", tariff.Name),
		Status:      models.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    meta,
	}
	created, err := s.payments.Create(ctx, payment)
	if err != nil {
		return nil, "", fmt.Errorf("payment: persist pending payment: %w", err)
	}
	return created, result.ConfirmationURL, nil
}

// WaitForPayment polls the provider at the configured interval until
// paid or timeout. It returns false on timeout without mutating state
// (§7): the bot/admin caller owns the timeout UX.
func (s *Service) WaitForPayment(ctx context.Context, paymentID string) (bool, error) {
	deadline := time.Now().Add(time.Duration(s.cfg.TimeoutMinutes) * time.Minute)
	interval := time.Duration(s.cfg.CheckIntervalSeconds) * time.Second

	for {
		paid, err := s.pollOnce(ctx, paymentID)
		if err != nil {
			return false, err
		}
		if paid {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Recheck is the admin/reconciler-facing entry point for re-polling a
// single pending payment against its provider.
func (s *Service) Recheck(ctx context.Context, paymentID string) (bool, error) {
	return s.pollOnce(ctx, paymentID)
}

func (s *Service) cacheKey(p *models.Payment) string {
	return fmt.Sprintf("payment_check:%s:%s", p.Provider, p.PaymentID)
}

// cachedCheckPayment short-circuits repeated provider polls for the
// same payment within cfg.CacheTTL — the reconciler's pending sweep
// and a user's own WaitForPayment loop may both be polling the same
// payment at once.
func (s *Service) cachedCheckPayment(ctx context.Context, p *models.Payment, adapter providers.Adapter) (bool, error) {
	key := s.cacheKey(p)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			return cached == "paid", nil
		}
	}

	paid, err := adapter.CheckPayment(ctx, p.PaymentID)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		val := "pending"
		if paid {
			val = "paid"
		}
		if cacheErr := s.cache.Set(ctx, key, val, s.cfg.CacheTTL); cacheErr != nil {
			s.logger.Warn("payment: cache check_payment result failed", map[string]interface{}{"payment_id": p.PaymentID, "error": cacheErr.Error()})
		}
	}
	return paid, nil
}

func (s *Service) pollOnce(ctx context.Context, paymentID string) (bool, error) {
	p, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("payment: load payment %s: %w", paymentID, err)
	}
	if p.Status == models.PaymentStatusCompleted || p.Status == models.PaymentStatusPaid {
		return true, nil
	}
	if p.Status != models.PaymentStatusPending {
		return false, nil
	}

	adapter, ok := s.providers.Get(string(p.Provider))
	if !ok {
		return false, fmt.Errorf("payment: no adapter registered for provider %q", p.Provider)
	}
	paid, err := s.cachedCheckPayment(ctx, p, adapter)
	if err != nil {
		if errors.Is(err, providers.ErrPaymentNotFound) {
			// The provider has no record of this payment at all, as
			// opposed to a transport failure or malformed response —
			// §4.5/§7 say to assume paid and let the pipeline handle
			// downstream decisions, rather than retry forever against
			// an id the provider will never recognize.
			s.logger.Warn("payment: provider has no record of payment, assuming paid", map[string]interface{}{"payment_id": paymentID})
			paid = true
		} else {
			// Any other provider error on the polling path is tolerated
			// as "not yet paid" (§7 ProviderError policy).
			s.logger.Warn("payment: check_payment failed, treating as not yet paid", map[string]interface{}{"payment_id": paymentID, "error": err.Error()})
			return false, nil
		}
	}
	if !paid {
		return false, nil
	}

	if err := s.markPaidAndDispatch(ctx, p.PaymentID); err != nil {
		return false, err
	}
	return true, nil
}

// markPaidAndDispatch runs the pending→paid CAS and, on success,
// synchronously drives the paid pipeline so notification latency
// equals provider latency plus local processing (§7).
func (s *Service) markPaidAndDispatch(ctx context.Context, paymentID string) error {
	ok, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusPaid, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("payment: CAS pending->paid: %w", err)
	}
	if !ok {
		// Lost the race, or status already moved past pending. Either
		// way the concurrent winner (or an earlier call) drives onPaid.
		return nil
	}
	_, err = s.OnPaid(ctx, paymentID)
	return err
}

// OnPaid dispatches a paid payment to the subscription purchase
// algorithm or the simple-key issuance path depending on its metadata.
func (s *Service) OnPaid(ctx context.Context, paymentID string) (bool, error) {
	p, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("payment: load payment %s: %w", paymentID, err)
	}
	if p.Metadata.IsSubscription() && p.Protocol == models.ProtocolV2Ray {
		return s.purchase.Process(ctx, paymentID)
	}
	return s.issueSimpleKey(ctx, p)
}

// issueSimpleKey provisions a single standalone credential for
// non-subscription payments (key_type=key). The credential has no
// subscription back-reference and no derived expiry.
func (s *Service) issueSimpleKey(ctx context.Context, p *models.Payment) (bool, error) {
	if p.Status == models.PaymentStatusCompleted {
		return true, nil
	}
	if p.Status != models.PaymentStatusPaid {
		return false, fmt.Errorf("payment: %s is %s, not paid", p.PaymentID, p.Status)
	}

	tariff, err := s.catalog.GetTariff(ctx, p.TariffID)
	if err != nil {
		return false, fmt.Errorf("payment: load tariff %d: %w", p.TariffID, err)
	}

	var server *models.Server
	if p.Protocol == models.ProtocolOutline {
		server, err = s.catalog.PrimaryOutlineServer(ctx)
		if err != nil {
			return false, fmt.Errorf("payment: get outline server: %w", err)
		}
	} else {
		servers, err := s.catalog.ActiveV2RayServers(ctx, []models.AccessLevel{models.AccessLevelAll})
		if err != nil {
			return false, fmt.Errorf("payment: list v2ray servers: %w", err)
		}
		if len(servers) > 0 {
			server = servers[0]
		}
	}
	if server == nil {
		return false, fmt.Errorf("payment: no active %s server available", p.Protocol)
	}

	adapter, ok := s.vpn.Get(string(p.Protocol))
	if !ok {
		return false, fmt.Errorf("payment: no vpn adapter registered for protocol %q", p.Protocol)
	}

	email := fmt.Sprintf("key-%s@vpnpay.local", p.PaymentID)
	cred, err := adapter.CreateCredential(ctx, server.APIURL, server.APIKey, email, tariff.TrafficLimitMB)
	if err != nil {
		return false, fmt.Errorf("payment: create credential: %w", err)
	}

	key := &models.VpnKey{
		ServerID: server.ID, UserID: p.UserID, TariffID: p.TariffID, Email: email,
		Protocol: p.Protocol, CreatedAt: time.Now().UTC(), TrafficLimitMB: tariff.TrafficLimitMB,
		V2RayUUID: cred.V2RayUUID, ClientConfig: cred.ClientConfig, KeyID: cred.KeyID, AccessURL: cred.AccessURL,
	}
	if _, err := s.keys.InsertIfAbsent(ctx, key); err != nil {
		_ = adapter.DeleteCredential(ctx, server.APIURL, server.APIKey, firstNonEmpty(cred.KeyID, cred.V2RayUUID))
		return false, fmt.Errorf("payment: save credential: %w", err)
	}

	if _, err := s.payments.TryUpdateStatus(ctx, p.PaymentID, models.PaymentStatusCompleted, models.PaymentStatusPaid); err != nil {
		s.logger.Warn("payment: finalize simple key payment failed", map[string]interface{}{"payment_id": p.PaymentID, "error": err.Error()})
	}

	s.notifier.NotifyPurchaseSuccess(ctx, p.UserID, p.Email, tariff.Name, "", 0, nil)
	return true, nil
}

// Refund drives the admin refund action. It requires the payment to
// already be paid or completed (§9 open-question resolution: a strict
// implementation should not allow refunding from any other state).
func (s *Service) Refund(ctx context.Context, paymentID string, amount int64, reason string) error {
	p, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("payment: load payment %s: %w", paymentID, err)
	}
	if p.Status != models.PaymentStatusPaid && p.Status != models.PaymentStatusCompleted {
		return fmt.Errorf("payment: refund requires status paid or completed, got %s", p.Status)
	}

	adapter, ok := s.providers.Get(string(p.Provider))
	if !ok {
		return fmt.Errorf("payment: no adapter registered for provider %q", p.Provider)
	}
	if err := adapter.RefundPayment(ctx, p.PaymentID, amount, reason); err != nil {
		return fmt.Errorf("payment: provider refund failed: %w", err)
	}

	ok2, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusRefunded, p.Status)
	if err != nil {
		return fmt.Errorf("payment: CAS to refunded: %w", err)
	}
	if !ok2 {
		return fmt.Errorf("payment: refund CAS failed, payment state changed concurrently")
	}

	s.notifier.NotifyRefundIssued(ctx, p.UserID, p.Email, amount, string(p.Currency))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
