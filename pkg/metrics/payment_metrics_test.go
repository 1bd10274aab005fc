package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPaymentMetricsRegistration(t *testing.T) {
	tests := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"PaymentStatusTransitions", PaymentStatusTransitions},
		{"WebhookDispatchTotal", WebhookDispatchTotal},
		{"CredentialFanoutTotal", CredentialFanoutTotal},
		{"ProcessingLockStaleRecoveries", ProcessingLockStaleRecoveries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.metric, "metric should not be nil")
		})
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	PaymentStatusTransitions.Reset()

	PaymentStatusTransitions.WithLabelValues("pending", "paid").Inc()
	PaymentStatusTransitions.WithLabelValues("pending", "paid").Inc()
	PaymentStatusTransitions.WithLabelValues("pending", "failed").Inc()

	paid := testutil.ToFloat64(PaymentStatusTransitions.WithLabelValues("pending", "paid"))
	assert.Equal(t, float64(2), paid)

	failed := testutil.ToFloat64(PaymentStatusTransitions.WithLabelValues("pending", "failed"))
	assert.Equal(t, float64(1), failed)
}

func TestWebhookDispatchTotal(t *testing.T) {
	WebhookDispatchTotal.Reset()

	WebhookDispatchTotal.WithLabelValues("yookassa", "accepted").Inc()
	WebhookDispatchTotal.WithLabelValues("yookassa", "auth_failed").Inc()

	accepted := testutil.ToFloat64(WebhookDispatchTotal.WithLabelValues("yookassa", "accepted"))
	assert.Equal(t, float64(1), accepted)

	authFailed := testutil.ToFloat64(WebhookDispatchTotal.WithLabelValues("yookassa", "auth_failed"))
	assert.Equal(t, float64(1), authFailed)
}

func TestCredentialFanoutTotal(t *testing.T) {
	CredentialFanoutTotal.Reset()

	CredentialFanoutTotal.WithLabelValues("outline", "issued").Add(3)
	CredentialFanoutTotal.WithLabelValues("v2ray", "failed").Inc()

	issued := testutil.ToFloat64(CredentialFanoutTotal.WithLabelValues("outline", "issued"))
	assert.Equal(t, float64(3), issued)

	failed := testutil.ToFloat64(CredentialFanoutTotal.WithLabelValues("v2ray", "failed"))
	assert.Equal(t, float64(1), failed)
}

func TestProcessingLockStaleRecoveries(t *testing.T) {
	ProcessingLockStaleRecoveries.Reset()

	ProcessingLockStaleRecoveries.WithLabelValues("ttl_expired").Inc()

	count := testutil.ToFloat64(ProcessingLockStaleRecoveries.WithLabelValues("ttl_expired"))
	assert.Equal(t, float64(1), count)
}
