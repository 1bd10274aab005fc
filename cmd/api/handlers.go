package main

import (
	"github.com/vpnpay/core/internal/handlers"
)

// Handlers holds all HTTP handler instances.
type Handlers struct {
	Payment *handlers.PaymentHandler
	Webhook *handlers.WebhookHandler
	Admin   *handlers.AdminHandler
}

func initHandlers(svcs *Services, repos *Repositories) *Handlers {
	return &Handlers{
		Payment: handlers.NewPaymentHandler(svcs.Payment, repos.Payment),
		Webhook: handlers.NewWebhookHandler(svcs.Webhook),
		Admin:   handlers.NewAdminHandler(svcs.Payment, svcs.Webhook, svcs.Reconciler, repos.Payment, svcs.MFA),
	}
}
