package main

import (
	"database/sql"

	"askdb/internal/config"
	"askdb/internal/core"
	"askdb/internal/data"
	"askdb/internal/driver"
	"askdb/internal/llm"
	"askdb/internal/logger"
	"askdb/internal/service"

	"github.com/go-faster/errors"
)

// app holds everything a command needs once config, logging and the
// store are up.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	bridge *service.Bridge
	auth   *service.AuthService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config (check .env or ASKDB_KEY)")
	}
	if err := logger.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return nil, errors.Wrap(err, "init logger")
	}

	db, err := data.InitDB(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "init database")
	}

	enc, err := service.NewEncryptionService(cfg.Key)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init crypto service")
	}

	var chat core.ChatClient
	if cfg.AnthropicAPIKey != "" {
		chat = llm.NewAnthropicClient(llm.Options{
			APIKey: cfg.AnthropicAPIKey,
			Logger: logger.Component("llm"),
		})
	} else {
		logger.Log.Warn().Msg("ANTHROPIC_API_KEY is not set; query generation is disabled")
	}

	poolOpts := driver.DefaultPoolOptions()
	poolOpts.MaxConns = cfg.PoolMaxConns
	poolOpts.IdleTimeout = cfg.PoolIdleTimeout
	poolOpts.ConnectTimeout = cfg.PoolConnectTimeout
	poolOpts.Logger = logger.Component("driver")

	bridge := service.NewBridge(service.BridgeDeps{
		Connections:    data.NewConnectionRepo(db),
		Schemas:        data.NewSchemaRepo(db),
		History:        data.NewHistoryRepo(db),
		Encryptor:      enc,
		Chat:           chat,
		Opener:         driver.Open,
		PoolOptions:    poolOpts,
		Model:          cfg.LLMModel,
		SchemaMaxAge:   cfg.SchemaMaxAge,
		DefaultTimeout: cfg.QueryDefaultTimeout,
		DefaultMaxRows: cfg.QueryMaxRows,
		Logger:         logger.Log,
	})

	return &app{
		cfg:    cfg,
		db:     db,
		bridge: bridge,
		auth:   service.NewAuthService(data.NewApiKeyRepo(db), logger.Log),
	}, nil
}

func (a *app) Close() {
	a.bridge.Close()
	a.db.Close()
}
