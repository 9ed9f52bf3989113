package service

import (
	"context"
	"strings"

	"askdb/internal/core"
	"askdb/internal/driver"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// InvalidateFunc is called after a connection's pool has been dropped because
// its credentials changed or it was deleted.
type InvalidateFunc func(ctx context.Context, userID, connectionID string)

// ConnectionManager owns connection records and their pools. Plaintext
// credentials exist only between decryption and driver.Opener.
type ConnectionManager struct {
	repo     core.ConnectionRepository
	enc      core.Encryptor
	registry *PoolRegistry
	open     driver.Opener
	poolOpts driver.PoolOptions
	validate *validator.Validate
	clock    clockwork.Clock
	log      zerolog.Logger

	onInvalidate []InvalidateFunc
}

type ConnectionManagerOptions struct {
	Opener   driver.Opener
	PoolOpts driver.PoolOptions
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

func NewConnectionManager(repo core.ConnectionRepository, enc core.Encryptor, registry *PoolRegistry, opts ConnectionManagerOptions) *ConnectionManager {
	if opts.Opener == nil {
		opts.Opener = driver.Open
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		repo:     repo,
		enc:      enc,
		registry: registry,
		open:     opts.Opener,
		poolOpts: opts.PoolOpts,
		validate: validator.New(),
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "connections").Logger(),
	}
}

// OnInvalidate registers fn to run whenever a pool is invalidated.
func (m *ConnectionManager) OnInvalidate(fn InvalidateFunc) {
	m.onInvalidate = append(m.onInvalidate, fn)
}

func (m *ConnectionManager) Create(ctx context.Context, userID string, input core.CreateConnectionInput) (*core.DatabaseConnection, error) {
	if userID == "" {
		return nil, core.ValidationError("user id is required")
	}
	if err := m.validateInput(input); err != nil {
		return nil, err
	}

	bundle, err := m.enc.EncryptCredentials(input.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt credentials")
	}

	conn := &core.DatabaseConnection{
		UserID:         userID,
		Name:           strings.TrimSpace(input.Name),
		Dialect:        input.Dialect,
		CredentialsEnc: bundle,
		Status:         core.StatusActive,
	}
	if err := m.repo.Create(ctx, conn); err != nil {
		return nil, err
	}
	m.log.Info().Str("connection_id", conn.ID).Str("dialect", string(conn.Dialect)).Msg("connection created")
	return conn, nil
}

func (m *ConnectionManager) List(ctx context.Context, userID string) ([]core.ConnectionInfo, error) {
	conns, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	infos := make([]core.ConnectionInfo, 0, len(conns))
	for i := range conns {
		infos = append(infos, conns[i].Info())
	}
	return infos, nil
}

// Get returns nil, nil when the connection does not exist for userID.
func (m *ConnectionManager) Get(ctx context.Context, userID, id string) (*core.ConnectionInfo, error) {
	conn, err := m.repo.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, core.ErrConnectionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	info := conn.Info()
	return &info, nil
}

// Resolve loads the full record, failing with core.ErrConnectionNotFound.
func (m *ConnectionManager) Resolve(ctx context.Context, userID, id string) (*core.DatabaseConnection, error) {
	return m.repo.GetByID(ctx, userID, id)
}

func (m *ConnectionManager) Update(ctx context.Context, userID, id string, patch core.ConnectionPatch) (*core.DatabaseConnection, error) {
	if err := m.validate.Struct(patch); err != nil {
		return nil, validationFailure(err)
	}

	conn, err := m.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	invalidate := false
	if patch.Name != nil {
		conn.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Dialect != nil && *patch.Dialect != conn.Dialect {
		if !patch.Dialect.Valid() {
			return nil, errors.Wrapf(core.ErrUnsupportedDialect, "%q", *patch.Dialect)
		}
		conn.Dialect = *patch.Dialect
		invalidate = true
	}
	if patch.Credentials != nil {
		if err := m.validate.Struct(patch.Credentials); err != nil {
			return nil, validationFailure(err)
		}
		bundle, err := m.enc.EncryptCredentials(*patch.Credentials)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt credentials")
		}
		conn.CredentialsEnc = bundle
		invalidate = true
	}
	if patch.Status != nil {
		conn.Status = *patch.Status
	}
	if patch.LastError != nil {
		conn.LastError = *patch.LastError
	}

	if err := m.repo.Update(ctx, conn); err != nil {
		return nil, err
	}

	if invalidate {
		m.invalidate(ctx, userID, id)
	}
	return conn, nil
}

// Delete drops the pool first, then the record. The registry is bumped once
// more after the row is gone so a creation that reloaded the record in
// between is discarded.
func (m *ConnectionManager) Delete(ctx context.Context, userID, id string) error {
	if _, err := m.repo.GetByID(ctx, userID, id); err != nil {
		return err
	}
	m.invalidate(ctx, userID, id)
	if err := m.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	if err := m.registry.Invalidate(id); err != nil {
		m.log.Warn().Err(err).Str("connection_id", id).Msg("error closing invalidated pool")
	}
	m.log.Info().Str("connection_id", id).Msg("connection deleted")
	return nil
}

// TestConnection probes credentials on an ephemeral pool that is always
// closed and never cached.
func (m *ConnectionManager) TestConnection(ctx context.Context, dialect core.Dialect, creds core.Credentials) (*core.ConnectionTestResult, error) {
	if !dialect.Valid() {
		return nil, errors.Wrapf(core.ErrUnsupportedDialect, "%q", dialect)
	}
	if err := m.validate.Struct(creds); err != nil {
		return nil, validationFailure(err)
	}

	pool, err := m.open(dialect, creds, m.poolOptions(1))
	if err != nil {
		return &core.ConnectionTestResult{Success: false, Error: err.Error()}, nil
	}
	defer pool.Close()

	if err := pool.Probe(ctx); err != nil {
		return &core.ConnectionTestResult{Success: false, Error: err.Error()}, nil
	}
	return &core.ConnectionTestResult{Success: true}, nil
}

// GetOrCreatePool returns the shared pool for the connection, opening and
// probing it on first use. Every creation attempt reloads the record, so a
// retry after an invalidation sees the current credentials or the deletion.
func (m *ConnectionManager) GetOrCreatePool(ctx context.Context, userID, id string) (driver.Pool, error) {
	if _, err := m.repo.GetByID(ctx, userID, id); err != nil {
		return nil, err
	}

	pool, created, err := m.registry.GetOrCreate(id, func() (driver.Pool, error) {
		conn, err := m.repo.GetByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		return m.openPool(ctx, conn)
	})
	if err != nil {
		m.recordFailure(ctx, userID, id, err)
		return nil, err
	}
	if created {
		m.recordSuccess(ctx, userID, id)
	}
	return pool, nil
}

// CloseAll tears down every cached pool at shutdown.
func (m *ConnectionManager) CloseAll() {
	n := m.registry.CloseAll()
	m.log.Info().Int("pools", n).Msg("closed connection pools")
}

func (m *ConnectionManager) openPool(ctx context.Context, conn *core.DatabaseConnection) (driver.Pool, error) {
	if !conn.Dialect.Valid() {
		return nil, errors.Wrapf(core.ErrUnsupportedDialect, "%q", conn.Dialect)
	}

	creds, err := m.enc.DecryptCredentials(conn.CredentialsEnc)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt credentials")
	}

	pool, err := m.open(conn.Dialect, creds, m.poolOptions(0))
	if err != nil {
		return nil, err
	}
	if err := pool.Probe(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

func (m *ConnectionManager) poolOptions(maxConns int) driver.PoolOptions {
	opts := m.poolOpts
	if maxConns > 0 {
		opts.MaxConns = maxConns
	}
	opts.Logger = m.log
	return opts
}

func (m *ConnectionManager) recordSuccess(ctx context.Context, userID, id string) {
	now := m.clock.Now().UTC()
	if err := m.repo.UpdateStatus(ctx, userID, id, core.StatusActive, "", &now); err != nil {
		m.log.Warn().Err(err).Str("connection_id", id).Msg("failed to record connection success")
	}
}

func (m *ConnectionManager) recordFailure(ctx context.Context, userID, id string, cause error) {
	if errors.Is(cause, core.ErrUnsupportedDialect) || errors.Is(cause, core.ErrConnectionNotFound) {
		return
	}
	lastError := core.Truncate(cause.Error(), 500)
	if err := m.repo.UpdateStatus(ctx, userID, id, core.StatusError, lastError, nil); err != nil {
		m.log.Warn().Err(err).Str("connection_id", id).Msg("failed to record connection error")
	}
	m.log.Warn().Err(cause).Str("connection_id", id).Msg("pool creation failed")
}

func (m *ConnectionManager) invalidate(ctx context.Context, userID, id string) {
	if err := m.registry.Invalidate(id); err != nil {
		m.log.Warn().Err(err).Str("connection_id", id).Msg("error closing invalidated pool")
	}
	for _, fn := range m.onInvalidate {
		fn(ctx, userID, id)
	}
}

func (m *ConnectionManager) validateInput(input core.CreateConnectionInput) error {
	if err := m.validate.Struct(input); err != nil {
		return validationFailure(err)
	}
	if !input.Dialect.Valid() {
		return errors.Wrapf(core.ErrUnsupportedDialect, "%q", input.Dialect)
	}
	return nil
}

// validationFailure turns validator output into a single ErrValidationFailed.
func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.ValidationError("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return core.ValidationError("invalid fields: %s", strings.Join(fields, ", "))
}
