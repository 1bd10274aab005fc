// Package notify sends user-facing notifications about payment and
// subscription lifecycle events over email and a bot-handle transport.
// Delivery failures are logged, never propagated: a notification is a
// side effect of a state transition, not a precondition for it.
package notify

import (
	"context"
	"fmt"
)

// Notifier is the contract the purchase, payment and reconcile services
// depend on. Implementations must not block their caller on network
// I/O for longer than their own configured timeout.
type Notifier interface {
	// NotifyPurchaseSuccess is the universal post-provisioning message:
	// subscription URL and new expiry, plus (when backupKeys is
	// non-empty) the list of Outline backup credentials sent only on a
	// subscription's first completed payment.
	NotifyPurchaseSuccess(ctx context.Context, userID int64, email, tariffName, subscriptionURL string, expiresAtUnix int64, backupKeys []string)
	NotifyPaymentFailed(ctx context.Context, userID int64, email string, amount int64, currency string)
	NotifyGracePeriodWarning(ctx context.Context, userID int64, email string, daysRemaining int, expiresAtUnix int64)
	NotifySubscriptionExpired(ctx context.Context, userID int64, email string)
	NotifyRefundIssued(ctx context.Context, userID int64, email string, amount int64, currency string)
	// NotifyAdminPurchase is the best-effort admin-facing echo of a
	// completed purchase; independent of and never blocking on the
	// user-facing send.
	NotifyAdminPurchase(ctx context.Context, adminUserID int64, userID int64, tariffName string, amount int64, currency string)
}

// FormatAmount renders a minor-unit integer amount as a currency-aware
// major-unit string: two decimal places for fiat, eight for the crypto
// assets CryptoBot settles in.
func FormatAmount(amount int64, currency string) string {
	switch currency {
	case "BTC", "ETH", "TON":
		whole := amount / 100000000
		frac := amount % 100000000
		return fmt.Sprintf("%d.%08d %s", whole, frac, currency)
	default:
		whole := amount / 100
		frac := amount % 100
		if frac < 0 {
			frac = -frac
		}
		return fmt.Sprintf("%d.%02d %s", whole, frac, currency)
	}
}

// multi fans a single Notifier call out to every configured transport,
// each run independently so one transport's failure never blocks another.
type multi struct {
	transports []Notifier
}

// NewMulti composes several Notifier transports (e.g. email + bot) into
// one, the way the purchase service expects to be wired.
func NewMulti(transports ...Notifier) Notifier {
	return &multi{transports: transports}
}

func (m *multi) NotifyPurchaseSuccess(ctx context.Context, userID int64, email, tariffName, subscriptionURL string, expiresAtUnix int64, backupKeys []string) {
	for _, t := range m.transports {
		t.NotifyPurchaseSuccess(ctx, userID, email, tariffName, subscriptionURL, expiresAtUnix, backupKeys)
	}
}

func (m *multi) NotifyPaymentFailed(ctx context.Context, userID int64, email string, amount int64, currency string) {
	for _, t := range m.transports {
		t.NotifyPaymentFailed(ctx, userID, email, amount, currency)
	}
}

func (m *multi) NotifyGracePeriodWarning(ctx context.Context, userID int64, email string, daysRemaining int, expiresAtUnix int64) {
	for _, t := range m.transports {
		t.NotifyGracePeriodWarning(ctx, userID, email, daysRemaining, expiresAtUnix)
	}
}

func (m *multi) NotifySubscriptionExpired(ctx context.Context, userID int64, email string) {
	for _, t := range m.transports {
		t.NotifySubscriptionExpired(ctx, userID, email)
	}
}

func (m *multi) NotifyRefundIssued(ctx context.Context, userID int64, email string, amount int64, currency string) {
	for _, t := range m.transports {
		t.NotifyRefundIssued(ctx, userID, email, amount, currency)
	}
}

func (m *multi) NotifyAdminPurchase(ctx context.Context, adminUserID int64, userID int64, tariffName string, amount int64, currency string) {
	for _, t := range m.transports {
		t.NotifyAdminPurchase(ctx, adminUserID, userID, tariffName, amount, currency)
	}
}
