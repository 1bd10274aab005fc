package main

import (
	"github.com/vpnpay/core/internal/repository"
)

// Repositories holds all database repository instances.
type Repositories struct {
	Payment      *repository.PaymentRepository
	Subscription *repository.SubscriptionRepository
	Catalog      *repository.CatalogRepository
	VpnKey       *repository.VpnKeyRepository
	Webhook      *repository.WebhookRepository
	AdminMFA     *repository.AdminMFARepository
}

func initRepositories(infra *Infrastructure) *Repositories {
	pool := infra.DB.Pool
	return &Repositories{
		Payment:      repository.NewPaymentRepository(pool),
		Subscription: repository.NewSubscriptionRepository(pool),
		Catalog:      repository.NewCatalogRepository(pool),
		VpnKey:       repository.NewVpnKeyRepository(pool),
		Webhook:      repository.NewWebhookRepository(pool),
		AdminMFA:     repository.NewAdminMFARepository(pool),
	}
}
