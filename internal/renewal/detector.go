// Package renewal answers one question for the purchase pipeline: does
// this user already hold a usable credential of a given protocol, or is
// this their first one.
package renewal

import (
	"context"
	"time"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
)

// Detector is a pure function over the subscription store. It never
// mutates anything; the reconciler's paid-without-key sweep calls it to
// decide whether a paid-without-key payment is a renewal of existing
// access or the grant of new access.
type Detector struct {
	subs repository.SubscriptionRepo
}

func NewDetector(subs repository.SubscriptionRepo) *Detector {
	return &Detector{subs: subs}
}

// IsRenewal reports whether userID already has an active credential of
// protocol, sourcing expiry from the parent subscription row rather than
// any per-key expiry column.
func (d *Detector) IsRenewal(ctx context.Context, userID int64, protocol models.Protocol, now time.Time, grace time.Duration) (bool, error) {
	return d.subs.HasActiveCredential(ctx, userID, protocol, now, grace)
}
