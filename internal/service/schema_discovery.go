package service

import (
	"context"
	"strings"
	"time"

	"askdb/internal/core"
	"askdb/internal/llm"
	"askdb/internal/metrics"

	"github.com/go-faster/errors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultSchemaMaxAge is the freshness window for cached snapshots.
const DefaultSchemaMaxAge = 24 * time.Hour

type SchemaDiscoveryOptions struct {
	Model  string
	MaxAge time.Duration
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// SchemaDiscovery introspects connections and keeps their snapshots in the
// store, fronted by an in-process TTL cache.
type SchemaDiscovery struct {
	conns  *ConnectionManager
	repo   core.SchemaRepository
	chat   core.ChatClient
	model  string
	maxAge time.Duration
	clock  clockwork.Clock
	cache  *ttlcache.Cache[string, *core.SchemaSnapshot]
	log    zerolog.Logger
}

// NewSchemaDiscovery builds the service. chat may be nil, in which case
// every snapshot gets the placeholder summary.
func NewSchemaDiscovery(conns *ConnectionManager, repo core.SchemaRepository, chat core.ChatClient, opts SchemaDiscoveryOptions) *SchemaDiscovery {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultSchemaMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	cache := ttlcache.New[string, *core.SchemaSnapshot](
		ttlcache.WithTTL[string, *core.SchemaSnapshot](opts.MaxAge),
		ttlcache.WithDisableTouchOnHit[string, *core.SchemaSnapshot](),
	)
	go cache.Start()

	return &SchemaDiscovery{
		conns:  conns,
		repo:   repo,
		chat:   chat,
		model:  opts.Model,
		maxAge: opts.MaxAge,
		clock:  opts.Clock,
		cache:  cache,
		log:    opts.Logger.With().Str("component", "schema").Logger(),
	}
}

// Close stops the cache's expiry loop.
func (d *SchemaDiscovery) Close() {
	d.cache.Stop()
}

// Discover introspects the connection and replaces its stored snapshot.
// Only a failure to enumerate the schema is fatal; row counts and the
// summary degrade on their own.
func (d *SchemaDiscovery) Discover(ctx context.Context, userID, connectionID string) (*core.SchemaSnapshot, error) {
	conn, err := d.conns.Resolve(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	pool, err := d.conns.GetOrCreatePool(ctx, userID, connectionID)
	if err != nil {
		metrics.SchemaDiscoveries.WithLabelValues(metrics.StatusError).Inc()
		return nil, err
	}

	start := d.clock.Now()
	intro, err := pool.Introspect(ctx)
	if err != nil {
		metrics.SchemaDiscoveries.WithLabelValues(metrics.StatusError).Inc()
		return nil, errors.Wrap(err, "introspect schema")
	}

	snapshot := &core.SchemaSnapshot{
		ConnectionID:  connectionID,
		Dialect:       conn.Dialect,
		Tables:        intro.Tables,
		Relationships: intro.Relationships,
	}

	summary, err := d.summarize(ctx, snapshot)
	if err != nil {
		d.log.Warn().Err(err).Str("connection_id", connectionID).Msg("schema summary unavailable")
		summary = SummaryPlaceholder
	}
	snapshot.Summary = summary
	snapshot.CachedAt = d.clock.Now().UTC()

	if err := d.repo.Save(ctx, userID, snapshot); err != nil {
		metrics.SchemaDiscoveries.WithLabelValues(metrics.StatusError).Inc()
		return nil, errors.Wrap(err, "store snapshot")
	}
	d.cache.Set(cacheKey(userID, connectionID), snapshot, ttlcache.DefaultTTL)

	metrics.SchemaDiscoveries.WithLabelValues(metrics.StatusSuccess).Inc()
	d.log.Info().
		Str("connection_id", connectionID).
		Int("tables", len(snapshot.Tables)).
		Int("relationships", len(snapshot.Relationships)).
		Dur("duration", d.clock.Since(start)).
		Msg("schema discovered")
	return snapshot, nil
}

// GetCached returns the snapshot only if it is no older than maxAge. A
// negative maxAge selects the configured window; zero accepts only a
// snapshot taken at this instant. A stale or missing snapshot yields nil, nil
// and storage is left untouched.
func (d *SchemaDiscovery) GetCached(ctx context.Context, userID, connectionID string, maxAge time.Duration) (*core.SchemaSnapshot, error) {
	if maxAge < 0 {
		maxAge = d.maxAge
	}
	now := d.clock.Now()

	if item := d.cache.Get(cacheKey(userID, connectionID)); item != nil {
		if snap := item.Value(); snap.FreshAt(now, maxAge) {
			return snap, nil
		}
		return nil, nil
	}

	snap, err := d.repo.Get(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if snap == nil || !snap.FreshAt(now, maxAge) {
		return nil, nil
	}
	if snap.FreshAt(now, d.maxAge) {
		d.cache.Set(cacheKey(userID, connectionID), snap, ttlcache.DefaultTTL)
	}
	return snap, nil
}

// Snapshot returns a fresh cached snapshot or runs discovery.
func (d *SchemaDiscovery) Snapshot(ctx context.Context, userID, connectionID string) (*core.SchemaSnapshot, error) {
	snap, err := d.GetCached(ctx, userID, connectionID, d.maxAge)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}
	return d.Discover(ctx, userID, connectionID)
}

// Forget drops the snapshot from the cache and the store.
func (d *SchemaDiscovery) Forget(ctx context.Context, userID, connectionID string) {
	d.cache.Delete(cacheKey(userID, connectionID))
	if err := d.repo.Delete(ctx, userID, connectionID); err != nil {
		d.log.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to drop cached schema")
	}
}

func (d *SchemaDiscovery) summarize(ctx context.Context, snapshot *core.SchemaSnapshot) (string, error) {
	if d.chat == nil {
		return "", errors.New("no language model configured")
	}
	if len(snapshot.Tables) == 0 {
		return "", errors.New("schema has no tables")
	}

	resp, err := d.chat.Chat(llm.WithPurpose(ctx, "summary"), []core.ChatMessage{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: FormatSchema(snapshot)},
	}, d.model, core.ChatOptions{Temperature: 0.3, MaxTokens: 300})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}

func cacheKey(userID, connectionID string) string {
	return userID + "/" + connectionID
}
