package service

import (
	"context"
	"time"

	"askdb/internal/core"
	"askdb/internal/driver"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type BridgeDeps struct {
	Connections core.ConnectionRepository
	Schemas     core.SchemaRepository
	History     core.HistoryRepository
	Encryptor   core.Encryptor
	// Chat may be nil; generation and explanation then fail and summaries
	// fall back to the placeholder.
	Chat core.ChatClient

	Opener         driver.Opener
	PoolOptions    driver.PoolOptions
	Model          string
	SchemaMaxAge   time.Duration
	DefaultTimeout time.Duration
	DefaultMaxRows int
	Clock          clockwork.Clock
	Logger         zerolog.Logger
}

// Bridge is the subsystem's public surface: connection management, schema
// discovery, query generation and execution, scoped by user id.
type Bridge struct {
	Connections *ConnectionManager
	Schema      *SchemaDiscovery
	Generator   *QueryGenerator
	Executor    *QueryExecutor
}

func NewBridge(deps BridgeDeps) *Bridge {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	conns := NewConnectionManager(deps.Connections, deps.Encryptor, NewPoolRegistry(), ConnectionManagerOptions{
		Opener:   deps.Opener,
		PoolOpts: deps.PoolOptions,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
	schema := NewSchemaDiscovery(conns, deps.Schemas, deps.Chat, SchemaDiscoveryOptions{
		Model:  deps.Model,
		MaxAge: deps.SchemaMaxAge,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	})
	conns.OnInvalidate(schema.Forget)

	generator := NewQueryGenerator(conns, schema, deps.Chat, QueryGeneratorOptions{
		Model:  deps.Model,
		Logger: deps.Logger,
	})
	executor := NewQueryExecutor(conns, generator, deps.History, QueryExecutorOptions{
		DefaultTimeout: deps.DefaultTimeout,
		DefaultMaxRows: deps.DefaultMaxRows,
		Clock:          deps.Clock,
		Logger:         deps.Logger,
	})

	return &Bridge{
		Connections: conns,
		Schema:      schema,
		Generator:   generator,
		Executor:    executor,
	}
}

// Close releases every pool and stops background work.
func (b *Bridge) Close() {
	b.Connections.CloseAll()
	b.Schema.Close()
}

func (b *Bridge) CreateConnection(ctx context.Context, userID string, input core.CreateConnectionInput) (*core.ConnectionInfo, error) {
	conn, err := b.Connections.Create(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	info := conn.Info()
	return &info, nil
}

func (b *Bridge) ListConnections(ctx context.Context, userID string) ([]core.ConnectionInfo, error) {
	return b.Connections.List(ctx, userID)
}

// GetConnection returns nil, nil when the connection does not exist.
func (b *Bridge) GetConnection(ctx context.Context, userID, id string) (*core.ConnectionInfo, error) {
	return b.Connections.Get(ctx, userID, id)
}

func (b *Bridge) UpdateConnection(ctx context.Context, userID, id string, patch core.ConnectionPatch) (*core.ConnectionInfo, error) {
	conn, err := b.Connections.Update(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}
	info := conn.Info()
	return &info, nil
}

func (b *Bridge) DeleteConnection(ctx context.Context, userID, id string) error {
	return b.Connections.Delete(ctx, userID, id)
}

func (b *Bridge) TestConnection(ctx context.Context, dialect core.Dialect, creds core.Credentials) (*core.ConnectionTestResult, error) {
	return b.Connections.TestConnection(ctx, dialect, creds)
}

func (b *Bridge) DiscoverSchema(ctx context.Context, userID, id string) (*core.SchemaSnapshot, error) {
	return b.Schema.Discover(ctx, userID, id)
}

// DefaultMaxAgeHours asks GetCachedSchema for the configured window.
const DefaultMaxAgeHours = -1

// GetCachedSchema returns nil, nil when the snapshot is missing or older
// than maxAgeHours. Pass DefaultMaxAgeHours for the configured window.
func (b *Bridge) GetCachedSchema(ctx context.Context, userID, id string, maxAgeHours int) (*core.SchemaSnapshot, error) {
	if maxAgeHours < 0 {
		return b.Schema.GetCached(ctx, userID, id, -1)
	}
	return b.Schema.GetCached(ctx, userID, id, time.Duration(maxAgeHours)*time.Hour)
}

func (b *Bridge) GenerateQuery(ctx context.Context, userID, id, question string, opts GenerateOptions) (*core.GeneratedQuery, error) {
	return b.Generator.Generate(ctx, userID, id, question, opts)
}

func (b *Bridge) ExecuteSQLQuery(ctx context.Context, userID, id, sqlText string, opts core.ExecuteOptions) (*core.ExecutionResult, error) {
	return b.Executor.ExecuteSQL(ctx, userID, id, sqlText, opts)
}

func (b *Bridge) ExecuteNaturalLanguageQuery(ctx context.Context, userID, id, question string, opts core.ExecuteOptions) (*core.ExecutionResult, error) {
	return b.Executor.ExecuteNaturalLanguage(ctx, userID, id, question, opts)
}

func (b *Bridge) ExplainQuery(ctx context.Context, sqlText string, dialect core.Dialect) (string, error) {
	return b.Generator.Explain(ctx, sqlText, dialect)
}

func (b *Bridge) ValidateQuery(sqlText string, dialect core.Dialect) core.ValidationResult {
	return b.Generator.Validate(sqlText, dialect)
}

func (b *Bridge) GetQueryHistory(ctx context.Context, userID, id string, limit int) ([]core.QueryHistoryEntry, error) {
	return b.Executor.GetHistory(ctx, userID, id, limit)
}

func (b *Bridge) ClearQueryHistory(ctx context.Context, userID, id string) error {
	return b.Executor.ClearHistory(ctx, userID, id)
}
