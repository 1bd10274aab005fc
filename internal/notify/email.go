package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	sendgridmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/vpnpay/core/pkg/logging"
)

// EmailNotifier sends payment/subscription lifecycle emails through
// SendGrid. In sandbox mode it logs the would-be email instead of
// calling out, the way the rest of the stack gates external I/O in
// non-production environments.
type EmailNotifier struct {
	apiKey      string
	fromEmail   string
	fromName    string
	baseURL     string
	alertEmail  string
	enabled     bool
	sandboxMode bool
	logger      *logging.StructuredLogger
}

func NewEmailNotifier(apiKey, fromEmail, fromName, baseURL, alertEmail string, enabled, sandboxMode bool) *EmailNotifier {
	return &EmailNotifier{
		apiKey:      apiKey,
		fromEmail:   fromEmail,
		fromName:    fromName,
		baseURL:     baseURL,
		alertEmail:  alertEmail,
		enabled:     enabled,
		sandboxMode: sandboxMode,
		logger:      logging.GetLogger(),
	}
}

func (e *EmailNotifier) send(to, subject, htmlBody, textBody string) {
	if !e.enabled || to == "" {
		return
	}

	if e.sandboxMode {
		e.logger.Info("SANDBOX MODE: email would be sent", map[string]interface{}{
			"to": to, "subject": subject,
		})
		return
	}

	from := sendgridmail.NewEmail(e.fromName, e.fromEmail)
	toEmail := sendgridmail.NewEmail("", to)
	message := sendgridmail.NewSingleEmail(from, subject, toEmail, textBody, htmlBody)
	client := sendgrid.NewSendClient(e.apiKey)

	response, err := client.Send(message)
	if err != nil {
		e.logger.Error("sendgrid send failed", err, map[string]interface{}{"to": to, "subject": subject})
		return
	}
	if response.StatusCode >= 400 {
		e.logger.Error("sendgrid returned error status", fmt.Errorf("status %d: %s", response.StatusCode, response.Body), map[string]interface{}{
			"to": to, "subject": subject,
		})
		return
	}
	e.logger.Info("email sent", map[string]interface{}{"to": to, "subject": subject, "id": uuid.New().String()})
}

func (e *EmailNotifier) NotifyPurchaseSuccess(ctx context.Context, userID int64, email, tariffName, subscriptionURL string, expiresAtUnix int64, backupKeys []string) {
	expires := time.Unix(expiresAtUnix, 0).UTC().Format(time.RFC1123)
	subject := "Your VPN subscription is active"
	html := fmt.Sprintf(`<p>Your <strong>%s</strong> plan is now active.</p><p>Valid until <strong>%s</strong>.</p><p>Subscription: <a href="%s">%s</a></p>`,
		tariffName, expires, subscriptionURL, subscriptionURL)
	text := fmt.Sprintf("Your %s plan is now active.\nValid until %s.\nSubscription: %s\n", tariffName, expires, subscriptionURL)
	if len(backupKeys) > 0 {
		html += "<p>Backup Outline keys:</p><ul>"
		text += "\nBackup Outline keys:\n"
		for _, k := range backupKeys {
			html += fmt.Sprintf("<li>%s</li>", k)
			text += fmt.Sprintf("- %s\n", k)
		}
		html += "</ul>"
	}
	e.send(email, subject, html, text)
}

func (e *EmailNotifier) NotifyAdminPurchase(ctx context.Context, adminUserID int64, userID int64, tariffName string, amount int64, currency string) {
	if e.alertEmail == "" {
		return
	}
	subject := "New subscription purchase"
	amountStr := FormatAmount(amount, currency)
	html := fmt.Sprintf(`<p>User %d purchased <strong>%s</strong> for <strong>%s</strong>.</p>`, userID, tariffName, amountStr)
	text := fmt.Sprintf("User %d purchased %s for %s.\n", userID, tariffName, amountStr)
	e.send(e.alertEmail, subject, html, text)
}

func (e *EmailNotifier) NotifyPaymentFailed(ctx context.Context, userID int64, email string, amount int64, currency string) {
	subject := "Payment failed"
	amountStr := FormatAmount(amount, currency)
	html := fmt.Sprintf(`<p>We could not process your payment of <strong>%s</strong>.</p><p><a href="%s">Try again</a></p>`, amountStr, e.baseURL)
	text := fmt.Sprintf("We could not process your payment of %s.\nTry again: %s\n", amountStr, e.baseURL)
	e.send(email, subject, html, text)
}

func (e *EmailNotifier) NotifyGracePeriodWarning(ctx context.Context, userID int64, email string, daysRemaining int, expiresAtUnix int64) {
	expires := time.Unix(expiresAtUnix, 0).UTC().Format(time.RFC1123)
	subject := "Your VPN access ends soon"
	html := fmt.Sprintf(`<p>Your subscription ends in <strong>%d day(s)</strong>, on <strong>%s</strong>.</p><p><a href="%s">Renew now</a></p>`, daysRemaining, expires, e.baseURL)
	text := fmt.Sprintf("Your subscription ends in %d day(s), on %s.\nRenew now: %s\n", daysRemaining, expires, e.baseURL)
	e.send(email, subject, html, text)
}

func (e *EmailNotifier) NotifySubscriptionExpired(ctx context.Context, userID int64, email string) {
	subject := "Your VPN subscription has expired"
	html := fmt.Sprintf(`<p>Your subscription has expired. <a href="%s">Renew</a> to restore access.</p>`, e.baseURL)
	text := fmt.Sprintf("Your subscription has expired. Renew at %s to restore access.\n", e.baseURL)
	e.send(email, subject, html, text)
}

func (e *EmailNotifier) NotifyRefundIssued(ctx context.Context, userID int64, email string, amount int64, currency string) {
	subject := "Refund issued"
	amountStr := FormatAmount(amount, currency)
	html := fmt.Sprintf(`<p>A refund of <strong>%s</strong> has been issued to your payment method.</p>`, amountStr)
	text := fmt.Sprintf("A refund of %s has been issued to your payment method.\n", amountStr)
	e.send(email, subject, html, text)
}
