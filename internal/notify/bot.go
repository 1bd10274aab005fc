package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vpnpay/core/pkg/logging"
)

// BotNotifier pushes the same lifecycle events to a chat-bot backend
// (e.g. a Telegram bot webhook) keyed by user ID, for users who prefer
// in-app/bot notifications over email.
type BotNotifier struct {
	apiURL     string
	token      string
	httpClient *http.Client
	logger     *logging.StructuredLogger
}

func NewBotNotifier(apiURL, token string, timeout time.Duration) *BotNotifier {
	return &BotNotifier{
		apiURL:     apiURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.GetLogger(),
	}
}

func (b *BotNotifier) post(ctx context.Context, userID int64, message string) {
	if b.apiURL == "" {
		return
	}
	body, _ := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"text":    message,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(body))
	if err != nil {
		b.logger.Warn("bot notify: build request failed", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn("bot notify: request failed", map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b.logger.Warn("bot notify: non-2xx response", map[string]interface{}{"user_id": userID, "status": resp.StatusCode})
	}
}

func (b *BotNotifier) NotifyPurchaseSuccess(ctx context.Context, userID int64, email, tariffName, subscriptionURL string, expiresAtUnix int64, backupKeys []string) {
	expires := time.Unix(expiresAtUnix, 0).UTC().Format("2006-01-02")
	msg := fmt.Sprintf("Your %s plan is active until %s.\n%s", tariffName, expires, subscriptionURL)
	if len(backupKeys) > 0 {
		msg += "\nBackup keys:\n" + fmt.Sprintf("%v", backupKeys)
	}
	b.post(ctx, userID, msg)
}

func (b *BotNotifier) NotifyAdminPurchase(ctx context.Context, adminUserID int64, userID int64, tariffName string, amount int64, currency string) {
	b.post(ctx, adminUserID, fmt.Sprintf("User %d purchased %s for %s.", userID, tariffName, FormatAmount(amount, currency)))
}

func (b *BotNotifier) NotifyPaymentFailed(ctx context.Context, userID int64, email string, amount int64, currency string) {
	b.post(ctx, userID, fmt.Sprintf("Payment of %s failed. Please try again.", FormatAmount(amount, currency)))
}

func (b *BotNotifier) NotifyGracePeriodWarning(ctx context.Context, userID int64, email string, daysRemaining int, expiresAtUnix int64) {
	b.post(ctx, userID, fmt.Sprintf("Your subscription ends in %d day(s).", daysRemaining))
}

func (b *BotNotifier) NotifySubscriptionExpired(ctx context.Context, userID int64, email string) {
	b.post(ctx, userID, "Your VPN subscription has expired. Renew to restore access.")
}

func (b *BotNotifier) NotifyRefundIssued(ctx context.Context, userID int64, email string, amount int64, currency string) {
	b.post(ctx, userID, fmt.Sprintf("A refund of %s has been issued.", FormatAmount(amount, currency)))
}
