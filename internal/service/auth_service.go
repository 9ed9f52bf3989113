package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

type AuthService struct {
	apiKeyRepo core.ApiKeyRepository
	log        zerolog.Logger
}

func NewAuthService(apiKeyRepo core.ApiKeyRepository, log zerolog.Logger) *AuthService {
	return &AuthService{
		apiKeyRepo: apiKeyRepo,
		log:        log.With().Str("component", "auth").Logger(),
	}
}

// GenerateAPIKey returns the plaintext key once; only its hash is stored.
func (s *AuthService) GenerateAPIKey(ctx context.Context, userID string) (string, *core.ApiKey, error) {
	if userID == "" {
		return "", nil, core.ValidationError("user id is required")
	}

	// Generate random 32-byte key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", nil, err
	}
	key := hex.EncodeToString(bytes)

	apiKey := &core.ApiKey{
		UserID:    userID,
		KeyPrefix: key[:8],
		KeyHash:   hashKey(key),
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.apiKeyRepo.Create(ctx, apiKey); err != nil {
		return "", nil, errors.Wrap(err, "store api key")
	}
	return key, apiKey, nil
}

// VerifyAPIKey resolves a presented key to its active record.
func (s *AuthService) VerifyAPIKey(ctx context.Context, plainKey string) (*core.ApiKey, error) {
	if plainKey == "" {
		return nil, core.ErrInvalidAPIKey
	}

	apiKey, err := s.apiKeyRepo.GetByHash(ctx, hashKey(plainKey))
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, core.ErrInvalidAPIKey
	}

	// Ignore error to not block auth
	if err := s.apiKeyRepo.UpdateLastUsed(ctx, apiKey.ID); err != nil {
		s.log.Warn().Err(err).Str("key_prefix", apiKey.KeyPrefix).Msg("failed to record api key use")
	}
	return apiKey, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, id string) error {
	return s.apiKeyRepo.Revoke(ctx, id)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
