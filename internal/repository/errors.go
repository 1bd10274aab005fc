package repository

import "errors"

var (
	ErrNotFound             = errors.New("repository: row not found")
	ErrPaymentNotFound      = errors.New("repository: payment not found")
	ErrSubscriptionNotFound = errors.New("repository: subscription not found")
	ErrTariffNotFound       = errors.New("repository: tariff not found")
	ErrDuplicateKey         = errors.New("repository: duplicate key row for server/subscription/protocol")
	ErrStorage              = errors.New("repository: storage error")
)
