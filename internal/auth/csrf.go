package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

const csrfTokenBytes = 32 // 256 bits of entropy per token

// CSRFRequestContext carries the request attributes a bound token is
// checked against.
type CSRFRequestContext struct {
	SubjectID string
	SessionID string
	IPAddress string
	UserAgent string
}

// CSRFGuard implements the double-submit token protocol with server-side
// records in the shared store, so issuance and validation may land on
// different instances. Validation never renews or rebinds a token.
type CSRFGuard struct {
	store  store.SecurityStore
	config config.CSRFConfig
}

// NewCSRFGuard creates a guard backed by the shared security store
func NewCSRFGuard(securityStore store.SecurityStore, cfg config.CSRFConfig) *CSRFGuard {
	return &CSRFGuard{
		store:  securityStore,
		config: cfg,
	}
}

// Issue generates a fresh token and stores its server-side record. The
// binding is optional; empty fields are not enforced at validation time.
func (g *CSRFGuard) Issue(ctx context.Context, binding models.CSRFBinding) (string, *models.CSRFTokenRecord, error) {
	randomBytes := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}
	token := hex.EncodeToString(randomBytes)

	now := time.Now().UTC()
	record := &models.CSRFTokenRecord{
		IssuedAt:  now,
		ExpiresAt: now.Add(g.config.TokenTTL),
		Binding:   binding,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode csrf record: %w", err)
	}

	if err := g.store.SetEx(ctx, store.CSRFKey(token), string(payload), g.config.TokenTTL); err != nil {
		return "", nil, err
	}

	return token, record, nil
}

// Validate applies the double-submit check: header and cookie values must
// be byte-equal (constant time), a live server-side record must exist, and
// any binding recorded at issuance must match the request context. A store
// fault is returned as an error; the caller fails closed.
func (g *CSRFGuard) Validate(ctx context.Context, headerToken, cookieToken string, reqCtx CSRFRequestContext) (models.CSRFValidationResult, error) {
	if headerToken == "" || cookieToken == "" {
		return models.CSRFValidationResult{FailureCode: models.CSRFFailureMissingTokens}, nil
	}

	// ConstantTimeCompare reports zero for unequal lengths as well.
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return models.CSRFValidationResult{FailureCode: models.CSRFFailureTokenMismatch}, nil
	}

	payload, err := g.store.Get(ctx, store.CSRFKey(headerToken))
	if errors.Is(err, models.ErrNotFound) {
		return models.CSRFValidationResult{FailureCode: models.CSRFFailureTokenNotFound}, nil
	}
	if err != nil {
		return models.CSRFValidationResult{}, err
	}

	var record models.CSRFTokenRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return models.CSRFValidationResult{}, fmt.Errorf("failed to decode csrf record: %w", err)
	}

	now := time.Now().UTC()
	if now.After(record.ExpiresAt) {
		// TTL expiry should have removed the key already.
		_ = g.store.Del(ctx, store.CSRFKey(headerToken))
		return models.CSRFValidationResult{FailureCode: models.CSRFFailureTokenNotFound}, nil
	}

	if g.config.BindContext && !bindingMatches(record.Binding, reqCtx) {
		return models.CSRFValidationResult{
			FailureCode: models.CSRFFailureContextMismatch,
			TokenAge:    now.Sub(record.IssuedAt).Seconds(),
		}, nil
	}

	if g.config.SingleUse {
		if err := g.store.Del(ctx, store.CSRFKey(headerToken)); err != nil {
			return models.CSRFValidationResult{}, err
		}
	}

	return models.CSRFValidationResult{
		Valid:    true,
		TokenAge: now.Sub(record.IssuedAt).Seconds(),
	}, nil
}

// Revoke invalidates a token regardless of its remaining lifetime
func (g *CSRFGuard) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return g.store.Del(ctx, store.CSRFKey(token))
}

// bindingMatches enforces only the fields recorded at issuance
func bindingMatches(binding models.CSRFBinding, reqCtx CSRFRequestContext) bool {
	if binding.SubjectID != "" && binding.SubjectID != reqCtx.SubjectID {
		return false
	}
	if binding.SessionID != "" && binding.SessionID != reqCtx.SessionID {
		return false
	}
	if binding.IPAddress != "" && binding.IPAddress != reqCtx.IPAddress {
		return false
	}
	if binding.UserAgentHash != "" && binding.UserAgentHash != HashUserAgent(reqCtx.UserAgent) {
		return false
	}
	return true
}

// HashUserAgent fingerprints a user agent for binding and logging. The raw
// string is never stored.
func HashUserAgent(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:16]
}
