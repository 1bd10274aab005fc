// Package vpnadapter implements the VPNAdapter contract (§4.7): issuing
// and reading back credentials from the two supported VPN server
// protocols, Outline (Shadowsocks) and V2Ray.
package vpnadapter

import (
	"context"
	"errors"
)

var (
	ErrUpstream   = errors.New("vpnadapter: upstream server error")
	ErrNotFound   = errors.New("vpnadapter: credential not found on server")
)

// Credential is what an adapter returns after provisioning a user on a
// VPN server: the identifying info a VpnKey row persists plus whatever
// client-facing config string the protocol needs.
type Credential struct {
	KeyID        string
	AccessURL    string
	V2RayUUID    string
	ClientConfig string
}

// Adapter is the VPNAdapter contract. CreateCredential is not
// idempotent: every call creates a new remote user, and the outline/v2ray
// implementations do not probe for an existing credential. Callers
// de-duplicate through VpnKeyRepo.InsertIfAbsent and delete the remote
// credential they just created when that insert loses.
type Adapter interface {
	Protocol() string
	CreateCredential(ctx context.Context, serverAPIURL, serverAPIKey string, email string, trafficLimitMB int64) (*Credential, error)
	SetTrafficLimit(ctx context.Context, serverAPIURL, serverAPIKey, keyID string, trafficLimitMB int64) error
	DeleteCredential(ctx context.Context, serverAPIURL, serverAPIKey, keyID string) error
}
