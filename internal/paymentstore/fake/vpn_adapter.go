package fake

import (
	"context"
	"sync"

	"github.com/vpnpay/core/internal/vpnadapter"
)

// VPNAdapter is a scriptable vpnadapter.Adapter, playing back fixed
// credentials so purchase/payment tests never reach a real VPN server.
type VPNAdapter struct {
	mu sync.Mutex

	ProtocolValue string
	Credential    *vpnadapter.Credential
	CreateErr     error
	SetLimitErr   error
	DeleteErr     error

	CreateCalls int
	DeleteCalls int
}

func NewVPNAdapter(protocol string) *VPNAdapter {
	return &VPNAdapter{ProtocolValue: protocol}
}

func (a *VPNAdapter) Protocol() string { return a.ProtocolValue }

func (a *VPNAdapter) CreateCredential(ctx context.Context, serverAPIURL, serverAPIKey, email string, trafficLimitMB int64) (*vpnadapter.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CreateCalls++
	if a.CreateErr != nil {
		return nil, a.CreateErr
	}
	if a.Credential != nil {
		return a.Credential, nil
	}
	return &vpnadapter.Credential{KeyID: "key-" + email, AccessURL: "ss://" + email, V2RayUUID: "uuid-" + email}, nil
}

func (a *VPNAdapter) SetTrafficLimit(ctx context.Context, serverAPIURL, serverAPIKey, keyID string, trafficLimitMB int64) error {
	return a.SetLimitErr
}

func (a *VPNAdapter) DeleteCredential(ctx context.Context, serverAPIURL, serverAPIKey, keyID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DeleteCalls++
	return a.DeleteErr
}

var _ vpnadapter.Adapter = (*VPNAdapter)(nil)
