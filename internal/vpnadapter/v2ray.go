package vpnadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// V2Ray drives a lightweight xray/v2ray management sidecar that exposes
// a REST surface for user add/limit/remove, authenticated with a bearer
// API key. The sidecar is expected to hand back a ready-to-import VLESS
// client config string.
type V2Ray struct {
	httpClient *http.Client
}

func NewV2Ray(requestTimeout time.Duration) *V2Ray {
	return &V2Ray{httpClient: &http.Client{Timeout: requestTimeout}}
}

func (v *V2Ray) Protocol() string { return "v2ray" }

type v2rayUserResponse struct {
	UUID         string `json:"uuid"`
	ClientConfig string `json:"client_config"`
}

func (v *V2Ray) CreateCredential(ctx context.Context, apiURL, apiKey, email string, trafficLimitMB int64) (*Credential, error) {
	clientUUID := uuid.New().String()
	body, _ := json.Marshal(map[string]interface{}{
		"uuid":             clientUUID,
		"email":            email,
		"traffic_limit_mb": trafficLimitMB,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/users", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create user: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create user status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}

	var out v2rayUserResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: decode user response: %v", ErrUpstream, err)
	}
	if out.UUID == "" {
		out.UUID = clientUUID
	}

	return &Credential{V2RayUUID: out.UUID, ClientConfig: out.ClientConfig}, nil
}

func (v *V2Ray) SetTrafficLimit(ctx context.Context, apiURL, apiKey, keyID string, trafficLimitMB int64) error {
	body, _ := json.Marshal(map[string]int64{"traffic_limit_mb": trafficLimitMB})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiURL+"/users/"+keyID+"/limit", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build limit request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: set traffic limit: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: set traffic limit status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}
	return nil
}

func (v *V2Ray) DeleteCredential(ctx context.Context, apiURL, apiKey, keyID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL+"/users/"+keyID, nil)
	if err != nil {
		return fmt.Errorf("%w: build delete request: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: delete user: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: delete user status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}
	return nil
}
