package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"askdb/internal/core"
	"askdb/internal/data"
	"askdb/internal/driver"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakePool struct {
	dialect  core.Dialect
	intro    *driver.Introspection
	introErr error
	out      *core.QueryOutput
	execErr  error
	probeErr error
	// When set, the connectivity check closes openStarted and waits for openRelease.
	openStarted chan struct{}
	openRelease chan struct{}

	mu          sync.Mutex
	executed    []string
	limits      []driver.Limits
	introspects int
	closed      bool
}

func (p *fakePool) Dialect() core.Dialect { return p.dialect }

func (p *fakePool) Introspect(ctx context.Context) (*driver.Introspection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.introspects++
	if p.introErr != nil {
		return nil, p.introErr
	}
	return p.intro, nil
}

func (p *fakePool) Execute(ctx context.Context, sqlText string, limits driver.Limits) (*core.QueryOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, sqlText)
	p.limits = append(p.limits, limits)
	if p.execErr != nil {
		return nil, p.execErr
	}
	return p.out, nil
}

func (p *fakePool) Probe(ctx context.Context) error {
	if p.openStarted != nil {
		close(p.openStarted)
		<-p.openRelease
	}
	return p.probeErr
}

func (p *fakePool) MapType(nativeType string) string { return "unknown" }

func (p *fakePool) EnsureLimit(sqlText string, maxRows int) string {
	return core.EnsureLimit(sqlText, maxRows)
}

func (p *fakePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePool) executions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.executed)
}

func (p *fakePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener hands out pools built by newPool and remembers them.
type fakeOpener struct {
	mu      sync.Mutex
	newPool func(dialect core.Dialect, creds core.Credentials) *fakePool
	opened  []*fakePool
	creds   []core.Credentials
}

func (o *fakeOpener) open(dialect core.Dialect, creds core.Credentials, _ driver.PoolOptions) (driver.Pool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.newPool(dialect, creds)
	o.opened = append(o.opened, p)
	o.creds = append(o.creds, creds)
	return p, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) passwords() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.creds))
	for i, c := range o.creds {
		out[i] = c.Password
	}
	return out
}

// gateFirstOpen blocks the first pool's connectivity check until release is closed.
func (o *fakeOpener) gateFirstOpen() (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	base := o.newPool
	first := true
	o.newPool = func(dialect core.Dialect, creds core.Credentials) *fakePool {
		p := base(dialect, creds)
		if first {
			first = false
			p.openStarted, p.openRelease = started, release
		}
		return p
	}
	return started, release
}

func (o *fakeOpener) last() *fakePool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

// fakeChat answers by prompt kind.
type fakeChat struct {
	mu         sync.Mutex
	generate   func(question string) (string, error)
	summary    string
	summaryErr error
	explain    string
	prompts    []string
}

func (c *fakeChat) Chat(ctx context.Context, messages []core.ChatMessage, model string, opts core.ChatOptions) (*core.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	system, user := "", ""
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
		} else {
			user = m.Content
		}
	}
	c.prompts = append(c.prompts, system)

	switch {
	case strings.Contains(system, "summarize database schemas"):
		if c.summaryErr != nil {
			return nil, c.summaryErr
		}
		return &core.ChatResponse{Content: c.summary}, nil
	case strings.Contains(system, "You explain"):
		return &core.ChatResponse{Content: c.explain}, nil
	default:
		reply, err := c.generate(user)
		if err != nil {
			return nil, err
		}
		return &core.ChatResponse{Content: reply}, nil
	}
}

func (c *fakeChat) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[len(c.prompts)-1]
}

type testEnv struct {
	bridge  *Bridge
	db      *sql.DB
	chat    *fakeChat
	opener  *fakeOpener
	clock   *clockwork.FakeClock
	schemas *data.SchemaRepo
	history core.HistoryRepository
}

func ordersSchema() *driver.Introspection {
	count := int64(42)
	return &driver.Introspection{
		Tables: []core.TableInfo{
			{
				Name:   "customers",
				Schema: "public",
				Columns: []core.Column{
					{Name: "id", Type: "integer", PrimaryKey: true},
					{Name: "name", Type: "text", Nullable: true},
				},
			},
			{
				Name:     "orders",
				Schema:   "public",
				RowCount: &count,
				Columns: []core.Column{
					{Name: "id", Type: "integer", PrimaryKey: true},
					{Name: "total", Type: "numeric"},
					{Name: "customer_id", Type: "integer", Nullable: true, ForeignKey: true, RefTable: "customers", RefColumn: "id"},
				},
			},
		},
		Relationships: []core.Relationship{
			{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
		},
	}
}

func newTestEnv(t *testing.T, tweak ...func(*BridgeDeps)) *testEnv {
	t.Helper()

	db, err := data.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enc, err := NewEncryptionService(testSecret)
	require.NoError(t, err)

	env := &testEnv{
		db:    db,
		clock: clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		chat: &fakeChat{
			summary: "Customers and their orders.",
			explain: "Counts every order.",
			generate: func(string) (string, error) {
				return `{"sql": "SELECT COUNT(*) AS order_count FROM orders", "explanation": "Counts all orders.", "confidence": "high"}`, nil
			},
		},
		opener: &fakeOpener{newPool: func(dialect core.Dialect, _ core.Credentials) *fakePool {
			return &fakePool{
				dialect: dialect,
				intro:   ordersSchema(),
				out: &core.QueryOutput{
					Columns: []core.ColumnMeta{{Name: "order_count", Type: "bigint"}},
					Rows:    []map[string]interface{}{{"order_count": int64(42)}},
				},
			}
		}},
		schemas: data.NewSchemaRepo(db),
		history: data.NewHistoryRepo(db),
	}

	deps := BridgeDeps{
		Connections: data.NewConnectionRepo(db),
		Schemas:     env.schemas,
		History:     env.history,
		Encryptor:   enc,
		Chat:        env.chat,
		Opener:      env.opener.open,
		Model:       "test-model",
		Clock:       env.clock,
		Logger:      zerolog.Nop(),
	}
	for _, fn := range tweak {
		fn(&deps)
	}
	env.history = deps.History

	env.bridge = NewBridge(deps)
	t.Cleanup(env.bridge.Close)
	return env
}

func (e *testEnv) createConnection(t *testing.T, userID string) *core.ConnectionInfo {
	t.Helper()
	info, err := e.bridge.CreateConnection(context.Background(), userID, core.CreateConnectionInput{
		Name:    "shop",
		Dialect: core.DialectPostgres,
		Credentials: core.Credentials{
			Host: "db.internal", Port: 5432, Database: "shop", User: "reader", Password: "hunter2",
		},
	})
	require.NoError(t, err)
	return info
}
