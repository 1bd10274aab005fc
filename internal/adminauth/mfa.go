// Package adminauth gates the admin refund operation behind TOTP. The
// admin bearer JWT is issued and verified by pkg/jwt, not here.
package adminauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/vpnpay/core/internal/repository"
)

var (
	ErrMFANotEnabled     = errors.New("adminauth: MFA is not enabled for the admin account")
	ErrInvalidMFACode    = errors.New("adminauth: invalid MFA code")
	ErrMFAAlreadyEnabled = errors.New("adminauth: MFA is already enabled")
)

const (
	totpPeriod    = 30
	totpSkew      = 1
	totpDigits    = 6
	totpAlgorithm = otp.AlgorithmSHA1
)

// MFA gates the single admin account's refund action behind a TOTP
// code. There is one admin user, so there is no per-device trust or
// backup-code recovery flow: losing the authenticator means a manual
// database reset of the admin_mfa row.
type MFA struct {
	repo          *repository.AdminMFARepository
	encryptionKey []byte
}

// NewMFA builds the admin MFA gate. encryptionKey must be exactly 32
// bytes (AES-256).
func NewMFA(repo *repository.AdminMFARepository, encryptionKey string) (*MFA, error) {
	key := []byte(encryptionKey)
	if len(key) != 32 {
		return nil, fmt.Errorf("adminauth: MFA encryption key must be 32 bytes, got %d", len(key))
	}
	return &MFA{repo: repo, encryptionKey: key}, nil
}

type EnrollResponse struct {
	Secret    string
	QRCodeURL string
}

func (m *MFA) StartEnrollment(ctx context.Context, adminUserID int64, accountLabel string) (*EnrollResponse, error) {
	existing, err := m.repo.Get(ctx, adminUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "vpnpay-admin",
		AccountName: accountLabel,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   totpAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("adminauth: generate TOTP secret: %w", err)
	}

	encrypted, err := m.encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("adminauth: encrypt secret: %w", err)
	}

	if err := m.repo.Upsert(ctx, &repository.AdminMFARecord{
		AdminUserID:     adminUserID,
		EncryptedSecret: encrypted,
		Enabled:         false,
	}); err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("adminauth: generate QR code: %w", err)
	}

	return &EnrollResponse{
		Secret:    key.Secret(),
		QRCodeURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (m *MFA) VerifyEnrollment(ctx context.Context, adminUserID int64, code string) error {
	rec, err := m.repo.Get(ctx, adminUserID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("adminauth: MFA enrollment not started")
	}
	if rec.Enabled {
		return ErrMFAAlreadyEnabled
	}

	secret, err := m.decrypt(rec.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("adminauth: decrypt secret: %w", err)
	}
	if !totp.Validate(code, secret) {
		return ErrInvalidMFACode
	}

	now := time.Now()
	rec.Enabled = true
	rec.EnrolledAt = &now
	return m.repo.Upsert(ctx, rec)
}

// Verify checks a TOTP code for a sensitive action (e.g. a refund).
func (m *MFA) Verify(ctx context.Context, adminUserID int64, code string) error {
	rec, err := m.repo.Get(ctx, adminUserID)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Enabled {
		return ErrMFANotEnabled
	}

	secret, err := m.decrypt(rec.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("adminauth: decrypt secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: totpAlgorithm,
	})
	if err != nil || !valid {
		return ErrInvalidMFACode
	}
	return nil
}

func (m *MFA) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *MFA) decrypt(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("adminauth: ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
