package fake

import (
	"context"
	"sync"
)

// Notifier is a recording notify.Notifier: every call is appended to
// its matching slice so a test can assert on what was sent without
// standing up real email/bot transports.
type Notifier struct {
	mu sync.Mutex

	PurchaseSuccessCalls []PurchaseSuccessCall
	PaymentFailedCalls   []PaymentFailedCall
	RefundIssuedCalls    []RefundIssuedCall
	AdminPurchaseCalls   []AdminPurchaseCall
	GracePeriodCalls     int
	ExpiredCalls         int
}

type PurchaseSuccessCall struct {
	UserID          int64
	Email           string
	TariffName      string
	SubscriptionURL string
	ExpiresAtUnix   int64
	BackupKeys      []string
}

type PaymentFailedCall struct {
	UserID   int64
	Email    string
	Amount   int64
	Currency string
}

type RefundIssuedCall struct {
	UserID   int64
	Email    string
	Amount   int64
	Currency string
}

type AdminPurchaseCall struct {
	AdminUserID int64
	UserID      int64
	TariffName  string
	Amount      int64
	Currency    string
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) NotifyPurchaseSuccess(ctx context.Context, userID int64, email, tariffName, subscriptionURL string, expiresAtUnix int64, backupKeys []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PurchaseSuccessCalls = append(n.PurchaseSuccessCalls, PurchaseSuccessCall{userID, email, tariffName, subscriptionURL, expiresAtUnix, backupKeys})
}

func (n *Notifier) NotifyPaymentFailed(ctx context.Context, userID int64, email string, amount int64, currency string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PaymentFailedCalls = append(n.PaymentFailedCalls, PaymentFailedCall{userID, email, amount, currency})
}

func (n *Notifier) NotifyGracePeriodWarning(ctx context.Context, userID int64, email string, daysRemaining int, expiresAtUnix int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.GracePeriodCalls++
}

func (n *Notifier) NotifySubscriptionExpired(ctx context.Context, userID int64, email string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ExpiredCalls++
}

func (n *Notifier) NotifyRefundIssued(ctx context.Context, userID int64, email string, amount int64, currency string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.RefundIssuedCalls = append(n.RefundIssuedCalls, RefundIssuedCall{userID, email, amount, currency})
}

func (n *Notifier) NotifyAdminPurchase(ctx context.Context, adminUserID int64, userID int64, tariffName string, amount int64, currency string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.AdminPurchaseCalls = append(n.AdminPurchaseCalls, AdminPurchaseCall{adminUserID, userID, tariffName, amount, currency})
}
