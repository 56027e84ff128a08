package gatewarden

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/internal/stores"
	"github.com/gatewarden/gatewarden/permission"
)

// CreateAPIKey generates a high-entropy key, stores its hash and display
// prefix, and returns the plaintext secret exactly once.
func (e *Engine) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (*CreatedAPIKey, error) {
	secret, err := internal.NewAPIKeySecret(e.config.APIKey.SecretPrefix)
	if err != nil {
		return nil, err
	}

	displayLen := e.config.APIKey.DisplayPrefixLen
	if displayLen <= 0 || displayLen > len(secret) {
		displayLen = len(secret)
	}

	now := time.Now()
	record := &stores.APIKeyRecord{
		ID:          uuid.NewString(),
		Name:        params.Name,
		Hash:        internal.HashSecret(secret),
		Prefix:      secret[:displayLen],
		Permissions: params.Permissions.Encode(),
		CreatedBy:   params.CreatedBy,
		CreatedAt:   now.Unix(),
		Active:      true,
	}
	if !params.ExpiresAt.IsZero() {
		record.ExpiresAt = params.ExpiresAt.Unix()
	}

	if err := e.apikeys.Save(ctx, record); err != nil {
		return nil, e.failClosed()
	}

	e.emitAudit(ctx, EventAPIKeyCreated, true, params.CreatedBy, "", nil, map[string]string{
		"key_id": record.ID,
		"name":   record.Name,
	})

	return &CreatedAPIKey{
		Secret: secret,
		Info:   apiKeyInfo(record),
	}, nil
}

// VerifyAPIKey authenticates a presented key. A valid key must be
// active and unexpired; its grant is exactly the permission set attached
// at creation. Usage statistics update best-effort on success.
func (e *Engine) VerifyAPIKey(ctx context.Context, key string) (*AuthResult, error) {
	if key == "" {
		return nil, ErrAPIKeyInvalid
	}

	record, err := e.apikeys.GetByHash(ctx, internal.HashSecret(key))
	if err != nil {
		if errors.Is(err, stores.ErrAPIKeyNotFound) {
			e.metricInc(MetricAPIKeyFailure)
			return nil, ErrAPIKeyInvalid
		}
		return nil, e.failClosed()
	}

	now := time.Now()
	if !record.Active || (record.ExpiresAt != 0 && now.Unix() >= record.ExpiresAt) {
		e.metricInc(MetricAPIKeyFailure)
		e.emitAudit(ctx, EventAPIKeyUsed, false, "", "", ErrAPIKeyInvalid, map[string]string{"key_id": record.ID})
		return nil, ErrAPIKeyInvalid
	}

	if err := e.apikeys.RecordUsage(ctx, record.ID, now); err != nil {
		log.Print("gatewarden: api key usage update failed")
	}

	e.metricInc(MetricAPIKeySuccess)
	e.emitAudit(ctx, EventAPIKeyUsed, true, "", "", nil, map[string]string{"key_id": record.ID})

	return &AuthResult{
		APIKeyID:    record.ID,
		Permissions: permission.Decode(record.Permissions),
	}, nil
}

// RevokeAPIKey flips the key inactive. Records are never deleted, so
// usage history survives revocation.
func (e *Engine) RevokeAPIKey(ctx context.Context, id string) error {
	if err := e.apikeys.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, stores.ErrAPIKeyNotFound) {
			return ErrAPIKeyInvalid
		}
		return e.failClosed()
	}

	e.emitAudit(ctx, EventAPIKeyRevoked, true, "", "", nil, map[string]string{"key_id": id})

	return nil
}

// APIKeys lists every key record, secrets omitted.
func (e *Engine) APIKeys(ctx context.Context) ([]APIKeyInfo, error) {
	records, err := e.apikeys.List(ctx)
	if err != nil {
		return nil, e.failClosed()
	}

	infos := make([]APIKeyInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, apiKeyInfo(record))
	}
	return infos, nil
}

func apiKeyInfo(r *stores.APIKeyRecord) APIKeyInfo {
	info := APIKeyInfo{
		ID:          r.ID,
		Name:        r.Name,
		Prefix:      r.Prefix,
		Permissions: permission.Decode(r.Permissions),
		CreatedBy:   r.CreatedBy,
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		Active:      r.Active,
		UseCount:    r.UseCount,
	}
	if r.ExpiresAt != 0 {
		info.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	}
	if r.LastUsedAt != 0 {
		info.LastUsedAt = time.Unix(r.LastUsedAt, 0)
	}
	return info
}
