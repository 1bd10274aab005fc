package vpnadapter

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Outline drives the Outline Server management API: POST /access-keys to
// provision, PUT /access-keys/{id}/data-limit to cap traffic, DELETE to
// revoke. The management API is self-signed by convention, so the
// client skips certificate verification the way the Outline manager
// itself documents doing.
type Outline struct {
	httpClient *http.Client
}

func NewOutline(requestTimeout time.Duration) *Outline {
	return &Outline{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
	}
}

func (o *Outline) Protocol() string { return "outline" }

type outlineAccessKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
	AccessURL string `json:"accessUrl"`
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (o *Outline) CreateCredential(ctx context.Context, apiURL, apiKey, email string, trafficLimitMB int64) (*Credential, error) {
	name, err := randomHex(8)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key name: %v", ErrUpstream, err)
	}
	body, _ := json.Marshal(map[string]string{"name": email + "-" + name})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/access-keys", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create access key: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create access key status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}

	var key outlineAccessKey
	if err := json.Unmarshal(respBody, &key); err != nil {
		return nil, fmt.Errorf("%w: decode access key: %v", ErrUpstream, err)
	}

	if trafficLimitMB > 0 {
		if err := o.SetTrafficLimit(ctx, apiURL, apiKey, key.ID, trafficLimitMB); err != nil {
			return nil, err
		}
	}

	return &Credential{KeyID: key.ID, AccessURL: key.AccessURL}, nil
}

func (o *Outline) SetTrafficLimit(ctx context.Context, apiURL, apiKey, keyID string, trafficLimitMB int64) error {
	body, _ := json.Marshal(map[string]interface{}{
		"limit": map[string]int64{"bytes": trafficLimitMB * 1024 * 1024},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiURL+"/access-keys/"+keyID+"/data-limit", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build data-limit request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: set data limit: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: set data limit status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}
	return nil
}

func (o *Outline) DeleteCredential(ctx context.Context, apiURL, apiKey, keyID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL+"/access-keys/"+keyID, nil)
	if err != nil {
		return fmt.Errorf("%w: build delete request: %v", ErrUpstream, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: delete access key: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: delete access key status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}
	return nil
}
