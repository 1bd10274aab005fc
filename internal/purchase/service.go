// Package purchase implements the subscription purchase/renewal engine
// (§4.2): turning a paid subscription payment into a provisioned
// subscription, a fan-out of remote VPN credentials, and exactly one
// user notification, then finalizing the payment.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/internal/vpnadapter"
	"github.com/vpnpay/core/pkg/logging"
	"github.com/vpnpay/core/pkg/metrics"
)

const (
	lockKey            = models.MetaProcessingSubscription
	expiryStableWindow = 60 * time.Second
	referralBonus      = 30 * 24 * time.Hour
	maxExpiryHorizon   = 10 * 365 * 24 * time.Hour
	manualOverrideSpan = 5 * 365 * 24 * time.Hour
	v2rayRetryAttempts = 3
	v2rayRetryDelay    = 2 * time.Second
)

// Config holds the tunables §4.2 leaves to deployment: renewal grace
// period, processing-lock staleness, and the base URL used to render
// the public subscription link.
type Config struct {
	Grace         time.Duration
	LockStaleness time.Duration
	BaseURL       string
	AdminUserID   int64
}

// Service is SubscriptionPurchaseService: process(payment_id) is its
// single public entry point, invoked synchronously from the webhook
// path and repeatedly from the reconciler until it converges.
type Service struct {
	payments repository.PaymentRepo
	subs     repository.SubscriptionRepo
	keys     repository.VpnKeyRepo
	catalog  repository.CatalogRepo
	vpn      *vpnadapter.Registry
	notifier notify.Notifier
	logger   *logging.StructuredLogger
	cfg      Config
}

func NewService(
	payments repository.PaymentRepo,
	subs repository.SubscriptionRepo,
	keys repository.VpnKeyRepo,
	catalog repository.CatalogRepo,
	vpn *vpnadapter.Registry,
	notifier notify.Notifier,
	cfg Config,
) *Service {
	if cfg.Grace == 0 {
		cfg.Grace = 24 * time.Hour
	}
	if cfg.LockStaleness == 0 {
		cfg.LockStaleness = 600 * time.Second
	}
	return &Service{
		payments: payments,
		subs:     subs,
		keys:     keys,
		catalog:  catalog,
		vpn:      vpn,
		notifier: notifier,
		logger:   logging.GetLogger(),
		cfg:      cfg,
	}
}

// Process runs the full algorithm in §4.2.2. A (false, err) result is
// not a rollback: writes made before the failing step (such as the
// subscription row and the payment's subscription link) stay in place,
// and a later call resumes from them, so the reconciler can always make
// another attempt.
func (s *Service) Process(ctx context.Context, paymentID string) (bool, error) {
	payment, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("purchase: load payment %s: %w", paymentID, err)
	}

	// Step 1.
	if payment.Status == models.PaymentStatusCompleted {
		s.emitAdminPurchase(ctx, payment)
		return true, nil
	}
	if payment.Status != models.PaymentStatusPaid {
		return false, fmt.Errorf("purchase: payment %s is %s, not paid", paymentID, payment.Status)
	}
	if !payment.Metadata.IsSubscription() || payment.Protocol != models.ProtocolV2Ray {
		return false, fmt.Errorf("purchase: payment %s is not a v2ray subscription payment", paymentID)
	}

	acquired, err := s.payments.TryAcquireProcessingLock(ctx, paymentID, lockKey, s.cfg.LockStaleness)
	if err != nil {
		return false, fmt.Errorf("purchase: acquire lock: %w", err)
	}
	if !acquired {
		return false, fmt.Errorf("purchase: payment %s is already being processed", paymentID)
	}
	defer func() {
		if err := s.payments.ReleaseProcessingLock(ctx, paymentID, lockKey); err != nil {
			s.logger.Warn("purchase: release lock failed", map[string]interface{}{"payment_id": paymentID, "error": err.Error()})
		}
	}()

	// Step 2.
	tariff, err := s.catalog.GetTariff(ctx, payment.TariffID)
	if err != nil {
		return false, fmt.Errorf("purchase: load tariff %d: %w", payment.TariffID, err)
	}

	// Step 3: re-read; a concurrent worker may have finished first while
	// we were loading the tariff.
	payment, err = s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("purchase: reload payment: %w", err)
	}
	if payment.Status == models.PaymentStatusCompleted {
		s.emitAdminPurchase(ctx, payment)
		return true, nil
	}

	now := time.Now().UTC()

	// Step 4: retry-detection short-circuit.
	var subscription *models.Subscription
	wasCreated := false
	if payment.SubscriptionID != nil {
		count, err := s.subs.CountKeys(ctx, *payment.SubscriptionID)
		if err != nil {
			return false, fmt.Errorf("purchase: count keys: %w", err)
		}
		if count > 0 {
			if _, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusCompleted, models.PaymentStatusPaid); err != nil {
				return false, fmt.Errorf("purchase: finalize duplicate: %w", err)
			}
			s.emitAdminPurchase(ctx, payment)
			return true, nil
		}
		subscription, err = s.subs.GetByID(ctx, *payment.SubscriptionID)
		if err != nil {
			return false, fmt.Errorf("purchase: load pre-linked subscription: %w", err)
		}
	}

	vip, err := s.catalog.IsVIP(ctx, payment.UserID)
	if err != nil {
		return false, fmt.Errorf("purchase: check vip flag: %w", err)
	}

	if subscription == nil {
		// Step 5.
		subscription, wasCreated, err = s.subs.GetOrCreateActive(ctx, payment.UserID, tariff, now, s.cfg.Grace, vip)
		if err != nil {
			return false, fmt.Errorf("purchase: get or create subscription: %w", err)
		}
		// Step 6. Must land before expiry recomputation so a concurrent
		// pass can discover this payment's contribution.
		if err := s.payments.UpdateSubscriptionID(ctx, paymentID, subscription.ID); err != nil {
			return false, fmt.Errorf("purchase: link subscription: %w", err)
		}
	}

	// Step 7: pre-finalize so a crash past this point cannot lose the
	// completed status.
	if _, err := s.payments.TryUpdateStatus(ctx, paymentID, models.PaymentStatusCompleted, models.PaymentStatusPaid); err != nil {
		s.logger.Warn("purchase: early finalize CAS did not apply", map[string]interface{}{"payment_id": paymentID, "error": err.Error()})
	}

	// Step 8.
	isVIP := vip || subscription.IsVIP(now)

	// Step 9.
	oldExpiry := subscription.ExpiresAt
	var newExpiry time.Time
	switch {
	case isVIP:
		newExpiry = models.VIPExpiresAt
	case wasCreated:
		newExpiry, err = s.computeFreshExpiry(ctx, subscription, tariff, payment.UserID, now)
		if err != nil {
			return false, fmt.Errorf("purchase: compute fresh expiry: %w", err)
		}
	default:
		newExpiry = computeRenewalExpiry(subscription, tariff, now)
	}

	// Step 10.
	if absDuration(newExpiry.Sub(oldExpiry)) > expiryStableWindow {
		if err := s.subs.UpdateExpiryAndLimit(ctx, subscription.ID, newExpiry, tariff.ID, tariff.TrafficLimitMB); err != nil {
			return false, fmt.Errorf("purchase: update expiry: %w", err)
		}
	} else {
		if err := s.subs.RefreshTariffAndLimit(ctx, subscription.ID, tariff.ID, tariff.TrafficLimitMB); err != nil {
			return false, fmt.Errorf("purchase: refresh tariff: %w", err)
		}
		newExpiry = oldExpiry
	}
	subscription.ExpiresAt = newExpiry

	// Step 11: only reset counters on a genuine extension of a
	// pre-existing subscription.
	if !wasCreated && newExpiry.After(oldExpiry) {
		if err := s.keys.ResetTrafficCounters(ctx, subscription.ID); err != nil {
			s.logger.Warn("purchase: reset traffic counters failed", map[string]interface{}{"subscription_id": subscription.ID, "error": err.Error()})
		}
	}

	// Step 12.
	existingKeys, err := s.subs.CountKeys(ctx, subscription.ID)
	if err != nil {
		return false, fmt.Errorf("purchase: count existing keys: %w", err)
	}
	var backupKeys []string
	if existingKeys == 0 {
		issued, keys, ferr := s.fanOutCredentials(ctx, subscription, payment, isVIP)
		if ferr != nil {
			s.logger.Error("purchase: credential fan-out failed", ferr, map[string]interface{}{"subscription_id": subscription.ID})
		}
		if !issued {
			s.logger.Error("purchase: zero credentials issued for a completed payment", errors.New("fan-out produced no keys"),
				map[string]interface{}{"payment_id": paymentID, "subscription_id": subscription.ID})
		}
		backupKeys = keys
	}

	// Steps 13-14: the purchase-success message always fires; the
	// backup-key attachment is sent only when this call wins the
	// notification-sent flip and the subscription was freshly created, so
	// a retried webhook or a renewal gets the message without backup keys.
	firstFlip, err := s.subs.TryFlipPurchaseNotificationSent(ctx, subscription.ID)
	if err != nil {
		return false, fmt.Errorf("purchase: flip notification flag: %w", err)
	}
	subscriptionURL := fmt.Sprintf("%s/api/subscription/%s", s.cfg.BaseURL, subscription.SubscriptionToken.String())
	sentBackup := backupKeys
	if !(firstFlip && wasCreated) {
		sentBackup = nil
	}
	s.notifier.NotifyPurchaseSuccess(ctx, payment.UserID, payment.Email, tariff.Name, subscriptionURL, newExpiry.Unix(), sentBackup)

	// Step 15.
	s.emitAdminPurchase(ctx, payment)

	// Step 16: consistency audit, logged only — the reconciler is the
	// backstop for anything this finds.
	s.auditConsistency(ctx, payment, subscription)

	return true, nil
}

func (s *Service) emitAdminPurchase(ctx context.Context, payment *models.Payment) {
	tariff, err := s.catalog.GetTariff(ctx, payment.TariffID)
	name := "unknown tariff"
	if err == nil {
		name = tariff.Name
	}
	s.notifier.NotifyAdminPurchase(ctx, s.cfg.AdminUserID, payment.UserID, name, payment.Amount, string(payment.Currency))
}

func (s *Service) auditConsistency(ctx context.Context, payment *models.Payment, subscription *models.Subscription) {
	count, err := s.subs.CountKeys(ctx, subscription.ID)
	if err == nil && count == 0 {
		s.logger.Warn("purchase: consistency audit: subscription has zero keys", map[string]interface{}{"subscription_id": subscription.ID})
	}
	fresh, err := s.payments.GetByPaymentID(ctx, payment.PaymentID)
	if err == nil && fresh.Status != models.PaymentStatusCompleted {
		s.logger.Warn("purchase: consistency audit: payment not completed", map[string]interface{}{"payment_id": payment.PaymentID, "status": fresh.Status})
	}
	sub, err := s.subs.GetByID(ctx, subscription.ID)
	if err == nil && !sub.PurchaseNotificationSent {
		s.logger.Warn("purchase: consistency audit: notification flag not set", map[string]interface{}{"subscription_id": subscription.ID})
	}
}

// computeFreshExpiry implements §4.2.2 step 9's first branch: expiry is
// recomputed from scratch across every completed payment this
// subscription has ever had, plus a referral bonus.
func (s *Service) computeFreshExpiry(ctx context.Context, subscription *models.Subscription, tariff *models.Tariff, userID int64, now time.Time) (time.Time, error) {
	total, firstCreated, err := s.catalog.SumCompletedTariffDurations(ctx, subscription.ID, tariff.ID)
	if err != nil {
		return time.Time{}, err
	}
	base := subscription.CreatedAt
	if firstCreated > 0 {
		if first := time.Unix(firstCreated, 0).UTC(); first.After(base) {
			base = first
		}
	}
	preliminary := base.Add(time.Duration(total) * time.Second)

	referrals, err := s.catalog.ReferralsOf(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	var bonusCount int
	for _, rf := range referrals {
		if !rf.BonusIssued {
			continue
		}
		ok, err := s.catalog.ReferralHasCompletedPayment(ctx, rf.ReferredID, preliminary.Unix())
		if err != nil {
			s.logger.Warn("purchase: referral bonus check failed", map[string]interface{}{"referred_id": rf.ReferredID, "error": err.Error()})
			continue
		}
		if ok {
			bonusCount++
		}
	}

	expiry := preliminary.Add(time.Duration(bonusCount) * referralBonus)
	if horizon := now.Add(maxExpiryHorizon); expiry.After(horizon) {
		expiry = horizon
	}
	return expiry, nil
}

// computeRenewalExpiry implements §4.2.2 step 9's second branch: extend
// a pre-existing subscription by one tariff duration, unless it is
// already VIP-pinned or an admin has manually pushed it more than five
// years out (the manual-override guard).
func computeRenewalExpiry(subscription *models.Subscription, tariff *models.Tariff, now time.Time) time.Time {
	if !subscription.ExpiresAt.Before(models.VIPExpiresAt) {
		return subscription.ExpiresAt
	}
	if subscription.ExpiresAt.Sub(now) > manualOverrideSpan {
		return subscription.ExpiresAt
	}
	return subscription.ExpiresAt.Add(time.Duration(tariff.DurationSec) * time.Second)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// fanOutCredentials implements §4.2.4: v2ray servers are provisioned
// concurrently, the single outline server sequentially.
func (s *Service) fanOutCredentials(ctx context.Context, subscription *models.Subscription, payment *models.Payment, isVIP bool) (bool, []string, error) {
	now := time.Now().UTC()
	hasActivePaid, err := s.subs.HasActivePaidSubscription(ctx, payment.UserID, now, s.cfg.Grace)
	if err != nil {
		return false, nil, fmt.Errorf("check paid access tier: %w", err)
	}

	accessLevels := []models.AccessLevel{models.AccessLevelAll}
	switch {
	case isVIP:
		accessLevels = append(accessLevels, models.AccessLevelVIP, models.AccessLevelPaid)
	case hasActivePaid:
		accessLevels = append(accessLevels, models.AccessLevelPaid)
	}

	v2rayServers, err := s.catalog.ActiveV2RayServers(ctx, accessLevels)
	if err != nil {
		return false, nil, fmt.Errorf("list v2ray servers: %w", err)
	}
	outlineServer, err := s.catalog.PrimaryOutlineServer(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("get outline server: %w", err)
	}

	email := fmt.Sprintf("sub-%s@vpnpay.local", subscription.SubscriptionToken.String())

	var mu sync.Mutex
	var wg sync.WaitGroup
	issued := false

	for _, server := range v2rayServers {
		wg.Add(1)
		go func(srv *models.Server) {
			defer wg.Done()
			key, perr := s.provisionV2Ray(ctx, srv, subscription, payment.TariffID, payment.UserID, email)
			if perr != nil {
				s.logger.Warn("purchase: v2ray provisioning failed", map[string]interface{}{"server_id": srv.ID, "error": perr.Error()})
				return
			}
			if key != nil {
				mu.Lock()
				issued = true
				mu.Unlock()
			}
		}(server)
	}
	wg.Wait()

	var backupKeys []string
	if outlineServer != nil {
		key, perr := s.provisionOutline(ctx, outlineServer, subscription, payment.TariffID, payment.UserID, email)
		if perr != nil {
			s.logger.Warn("purchase: outline provisioning failed", map[string]interface{}{"server_id": outlineServer.ID, "error": perr.Error()})
		} else if key != nil {
			issued = true
			backupKeys = append(backupKeys, key.AccessURL)
		}
	}

	return issued, backupKeys, nil
}

// provisionV2Ray implements one branch of §4.2.4 step 6: up to three
// attempts, 2s apart, retried only for upstream/timeout-class errors —
// anything else is terminal for this server.
func (s *Service) provisionV2Ray(ctx context.Context, server *models.Server, subscription *models.Subscription, tariffID, userID int64, email string) (*models.VpnKey, error) {
	adapter, ok := s.vpn.Get(string(models.ProtocolV2Ray))
	if !ok {
		return nil, fmt.Errorf("no v2ray adapter registered")
	}

	var cred *vpnadapter.Credential
	var err error
	for attempt := 0; attempt < v2rayRetryAttempts; attempt++ {
		cred, err = adapter.CreateCredential(ctx, server.APIURL, server.APIKey, email, subscription.TrafficLimitMB)
		if err == nil {
			break
		}
		if !errors.Is(err, vpnadapter.ErrUpstream) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v2rayRetryDelay):
		}
	}
	if err != nil {
		metrics.CredentialFanoutTotal.WithLabelValues("v2ray", "failed").Inc()
		return nil, err
	}

	key := &models.VpnKey{
		ServerID: server.ID, UserID: userID, SubscriptionID: &subscription.ID, TariffID: tariffID,
		Email: email, Protocol: models.ProtocolV2Ray, CreatedAt: time.Now().UTC(),
		TrafficLimitMB: subscription.TrafficLimitMB, V2RayUUID: cred.V2RayUUID, ClientConfig: cred.ClientConfig,
	}
	inserted, err := s.keys.InsertIfAbsent(ctx, key)
	if err != nil {
		_ = adapter.DeleteCredential(ctx, server.APIURL, server.APIKey, cred.V2RayUUID)
		metrics.CredentialFanoutTotal.WithLabelValues("v2ray", "failed").Inc()
		return nil, err
	}
	if !inserted {
		// A racing fan-out already holds this (server, subscription) row.
		_ = adapter.DeleteCredential(ctx, server.APIURL, server.APIKey, cred.V2RayUUID)
		metrics.CredentialFanoutTotal.WithLabelValues("v2ray", "already_exists").Inc()
		return nil, nil
	}
	metrics.CredentialFanoutTotal.WithLabelValues("v2ray", "issued").Inc()
	return key, nil
}

func (s *Service) provisionOutline(ctx context.Context, server *models.Server, subscription *models.Subscription, tariffID, userID int64, email string) (*models.VpnKey, error) {
	adapter, ok := s.vpn.Get(string(models.ProtocolOutline))
	if !ok {
		return nil, fmt.Errorf("no outline adapter registered")
	}
	cred, err := adapter.CreateCredential(ctx, server.APIURL, server.APIKey, email, subscription.TrafficLimitMB)
	if err != nil {
		metrics.CredentialFanoutTotal.WithLabelValues("outline", "failed").Inc()
		return nil, err
	}

	key := &models.VpnKey{
		ServerID: server.ID, UserID: userID, SubscriptionID: &subscription.ID, TariffID: tariffID,
		Email: email, Protocol: models.ProtocolOutline, CreatedAt: time.Now().UTC(),
		TrafficLimitMB: subscription.TrafficLimitMB, KeyID: cred.KeyID, AccessURL: cred.AccessURL,
	}
	inserted, err := s.keys.InsertIfAbsent(ctx, key)
	if err != nil {
		_ = adapter.DeleteCredential(ctx, server.APIURL, server.APIKey, cred.KeyID)
		metrics.CredentialFanoutTotal.WithLabelValues("outline", "failed").Inc()
		return nil, err
	}
	if !inserted {
		_ = adapter.DeleteCredential(ctx, server.APIURL, server.APIKey, cred.KeyID)
		metrics.CredentialFanoutTotal.WithLabelValues("outline", "already_exists").Inc()
		return nil, nil
	}
	metrics.CredentialFanoutTotal.WithLabelValues("outline", "issued").Inc()
	return key, nil
}
