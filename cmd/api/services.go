package main

import (
	"time"

	"github.com/vpnpay/core/config"
	"github.com/vpnpay/core/internal/adminauth"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/reconcile"
	"github.com/vpnpay/core/internal/vpnadapter"
	"github.com/vpnpay/core/internal/webhook"
)

// Services holds all application service instances.
type Services struct {
	Providers  *providers.Registry
	VPN        *vpnadapter.Registry
	Notifier   notify.Notifier
	Purchase   *purchase.Service
	Payment    *payment.Service
	Webhook    *webhook.Service
	Reconciler *reconcile.Reconciler
	MFA        *adminauth.MFA
}

func initServices(cfg *config.Config, infra *Infrastructure, repos *Repositories) *Services {
	providerRegistry := providers.NewRegistry(
		providers.NewYooKassa(cfg.Providers.YooKassa.ShopID, cfg.Providers.YooKassa.APIKey, cfg.Providers.YooKassa.SecretHeader, cfg.Providers.YooKassa.ReturnURL, cfg.Providers.YooKassa.FakeMode),
		providers.NewPlatega(cfg.Providers.Platega.ShopID, cfg.Providers.Platega.APIKey, cfg.Providers.Platega.ReturnURL, cfg.Providers.Platega.FakeMode),
		providers.NewCryptoBot(cfg.Providers.CryptoBot.APIKey, cfg.Providers.CryptoBot.ReturnURL, cfg.Providers.CryptoBot.FakeMode),
	)

	vpnTimeout := time.Duration(cfg.VPN.RequestTimeoutSec) * time.Second
	vpnRegistry := vpnadapter.NewRegistry(
		vpnadapter.NewOutline(vpnTimeout),
		vpnadapter.NewV2Ray(vpnTimeout),
	)

	notifier := notify.NewMulti(
		notify.NewEmailNotifier(cfg.Email.SendGridAPIKey, cfg.Email.FromEmail, cfg.Email.FromName, cfg.Server.BaseURL, cfg.Admin.AlertEmail, cfg.Email.Enabled, cfg.Email.SandboxMode),
		notify.NewBotNotifier(cfg.Notifier.BotAPIURL, cfg.Notifier.BotToken, time.Duration(cfg.Notifier.Timeout)*time.Second),
	)

	purchaseService := purchase.NewService(
		repos.Payment,
		repos.Subscription,
		repos.VpnKey,
		repos.Catalog,
		vpnRegistry,
		notifier,
		purchase.Config{
			BaseURL:     cfg.Server.BaseURL,
			AdminUserID: cfg.Admin.AdminUserID,
		},
	)

	paymentService := payment.NewService(
		repos.Payment,
		repos.Catalog,
		repos.VpnKey,
		providerRegistry,
		vpnRegistry,
		purchaseService,
		notifier,
		infra.Redis,
		payment.Config{
			DefaultCurrency:      cfg.Providers.DefaultCurrency,
			TimeoutMinutes:       cfg.Providers.PaymentTimeoutMinutes,
			CheckIntervalSeconds: cfg.Providers.CheckIntervalSeconds,
		},
	)

	webhookService := webhook.NewService(
		providerRegistry,
		repos.Payment,
		repos.Webhook,
		paymentService,
		notifier,
		webhook.Config{},
	)

	reconciler := reconcile.NewReconciler(repos.Payment, repos.Subscription, paymentService, reconcile.Config{
		CleanupExpiredAfter: time.Duration(cfg.Reconciler.CleanupExpiredHours) * time.Hour,
		V2RayPace:           time.Duration(cfg.Reconciler.V2RayPaceSeconds) * time.Second,
		OtherPace:           time.Duration(cfg.Reconciler.OtherPaceSeconds) * time.Second,
	})

	mfa, err := adminauth.NewMFA(repos.AdminMFA, cfg.Security.MFAEncryptionKey)
	if err != nil {
		// An operator who hasn't configured MFA_ENCRYPTION_KEY yet can
		// still run everything except the refund action; that route
		// fails loudly at call time instead of at startup.
		mfa = nil
	}

	return &Services{
		Providers:  providerRegistry,
		VPN:        vpnRegistry,
		Notifier:   notifier,
		Purchase:   purchaseService,
		Payment:    paymentService,
		Webhook:    webhookService,
		Reconciler: reconciler,
		MFA:        mfa,
	}
}
