package core

import (
	"context"
	"time"
)

// ConnectionRepository defines storage operations for connection records.
// Every lookup is scoped to the owning user.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *DatabaseConnection) error
	ListByUser(ctx context.Context, userID string) ([]DatabaseConnection, error)
	GetByID(ctx context.Context, userID, id string) (*DatabaseConnection, error)
	Update(ctx context.Context, conn *DatabaseConnection) error
	UpdateStatus(ctx context.Context, userID, id string, status ConnectionStatus, lastError string, lastConnectedAt *time.Time) error
	Delete(ctx context.Context, userID, id string) error
}

// SchemaRepository stores one snapshot blob per connection.
type SchemaRepository interface {
	Save(ctx context.Context, userID string, snapshot *SchemaSnapshot) error
	Get(ctx context.Context, userID, connectionID string) (*SchemaSnapshot, error)
	Delete(ctx context.Context, userID, connectionID string) error
}

// HistoryRepository is append-only apart from ClearForConnection.
type HistoryRepository interface {
	Append(ctx context.Context, entry *QueryHistoryEntry) error
	ListByConnection(ctx context.Context, userID, connectionID string, limit int) ([]QueryHistoryEntry, error)
	ClearForConnection(ctx context.Context, userID, connectionID string) error
}

type ApiKeyRepository interface {
	Create(ctx context.Context, key *ApiKey) error
	GetByHash(ctx context.Context, hash string) (*ApiKey, error)
	UpdateLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}

// Encryptor is the encryption boundary for credential bundles.
type Encryptor interface {
	EncryptCredentials(creds Credentials) (string, error)
	DecryptCredentials(bundle string) (Credentials, error)
}

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

type ChatOptions struct {
	Temperature float64
	MaxTokens   int64
}

type ChatResponse struct {
	Content string
}

// ChatClient is the language model capability.
type ChatClient interface {
	Chat(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions) (*ChatResponse, error)
}
