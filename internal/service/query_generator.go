package service

import (
	"context"
	"strings"

	"askdb/internal/core"
	"askdb/internal/llm"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const lowConfidenceWarning = "The model has low confidence in this query. Double-check the results before relying on them."

// GenerateOptions shapes the prompt. Dry runs are decided by the executor;
// generation never runs the query.
type GenerateOptions struct {
	MaxRows int
}

type QueryGeneratorOptions struct {
	Model  string
	Logger zerolog.Logger
}

type QueryGenerator struct {
	conns  *ConnectionManager
	schema *SchemaDiscovery
	chat   core.ChatClient
	guard  *core.SQLGuard
	model  string
	log    zerolog.Logger
}

func NewQueryGenerator(conns *ConnectionManager, schema *SchemaDiscovery, chat core.ChatClient, opts QueryGeneratorOptions) *QueryGenerator {
	return &QueryGenerator{
		conns:  conns,
		schema: schema,
		chat:   chat,
		guard:  core.NewSQLGuard(),
		model:  opts.Model,
		log:    opts.Logger.With().Str("component", "generator").Logger(),
	}
}

// Generate turns question into validated SQL for the connection. A reply
// that fails the safety check yields *core.UnsafeQueryError carrying the
// rejected SQL.
func (g *QueryGenerator) Generate(ctx context.Context, userID, connectionID, question string, opts GenerateOptions) (*core.GeneratedQuery, error) {
	if strings.TrimSpace(question) == "" {
		return nil, core.ValidationError("question is required")
	}
	if g.chat == nil {
		return nil, errors.Wrap(core.ErrGenerationFailed, "no language model configured")
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}

	conn, err := g.conns.Resolve(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := g.schema.Snapshot(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	resp, err := g.chat.Chat(llm.WithPurpose(ctx, "generate"), []core.ChatMessage{
		{Role: "system", Content: buildGenerationPrompt(conn.Dialect, snapshot, opts.MaxRows)},
		{Role: "user", Content: question},
	}, g.model, core.ChatOptions{Temperature: 0.1, MaxTokens: 1024})
	if err != nil {
		return nil, errors.Wrapf(core.ErrGenerationFailed, "model call failed: %v", err)
	}

	query, err := parseGeneration(resp.Content)
	if err != nil {
		g.log.Warn().Err(err).Str("connection_id", connectionID).Str("reply", core.Truncate(resp.Content, 200)).Msg("unparseable generation")
		return nil, err
	}

	if err := g.guard.Validate(query.SQL); err != nil {
		var unsafe *core.UnsafeQueryError
		if errors.As(err, &unsafe) {
			unsafe.SQL = query.SQL
		}
		g.log.Warn().Str("connection_id", connectionID).Str("sql", core.Truncate(query.SQL, 200)).Err(err).Msg("generated sql rejected")
		return nil, err
	}

	if query.Confidence == core.ConfidenceLow {
		query.Warnings = append(query.Warnings, lowConfidenceWarning)
	}
	return query, nil
}

// Explain describes sql in plain language. It does not validate safety.
func (g *QueryGenerator) Explain(ctx context.Context, sqlText string, dialect core.Dialect) (string, error) {
	if !dialect.Valid() {
		return "", errors.Wrapf(core.ErrUnsupportedDialect, "%q", dialect)
	}
	if strings.TrimSpace(sqlText) == "" {
		return "", core.ValidationError("sql is required")
	}
	if g.chat == nil {
		return "", errors.Wrap(core.ErrGenerationFailed, "no language model configured")
	}

	resp, err := g.chat.Chat(llm.WithPurpose(ctx, "explain"), []core.ChatMessage{
		{Role: "system", Content: buildExplainPrompt(dialect)},
		{Role: "user", Content: sqlText},
	}, g.model, core.ChatOptions{Temperature: 0.3, MaxTokens: 500})
	if err != nil {
		return "", errors.Wrapf(core.ErrGenerationFailed, "model call failed: %v", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Validate is the pure safety check.
func (g *QueryGenerator) Validate(sqlText string, dialect core.Dialect) core.ValidationResult {
	if dialect != "" && !dialect.Valid() {
		return core.ValidationResult{Valid: false, Error: core.ErrUnsupportedDialect.Error()}
	}
	if err := g.guard.Validate(sqlText); err != nil {
		return core.ValidationResult{Valid: false, Error: err.Error()}
	}
	return core.ValidationResult{Valid: true}
}

// parseGeneration reads {"sql","explanation","confidence"} from a reply.
// Warnings and confidence are advisory; an unknown confidence becomes low.
func parseGeneration(reply string) (*core.GeneratedQuery, error) {
	raw := extractJSON(reply)
	if raw == "" || !gjson.Valid(raw) {
		return nil, errors.Wrap(core.ErrGenerationFailed, "no JSON object in model reply")
	}

	fields := gjson.GetMany(raw, "sql", "explanation", "confidence")
	for i, name := range []string{"sql", "explanation", "confidence"} {
		if !fields[i].Exists() || fields[i].Type != gjson.String {
			return nil, errors.Wrapf(core.ErrGenerationFailed, "model reply is missing %q", name)
		}
	}

	sqlText := core.CleanSQL(fields[0].String())
	if sqlText == "" {
		return nil, errors.Wrap(core.ErrGenerationFailed, "model returned empty sql")
	}

	confidence := core.Confidence(strings.ToLower(strings.TrimSpace(fields[2].String())))
	switch confidence {
	case core.ConfidenceHigh, core.ConfidenceMedium, core.ConfidenceLow:
	default:
		confidence = core.ConfidenceLow
	}

	query := &core.GeneratedQuery{
		SQL:         sqlText,
		Explanation: strings.TrimSpace(fields[1].String()),
		Confidence:  confidence,
	}
	gjson.Get(raw, "warnings").ForEach(func(_, w gjson.Result) bool {
		if s := strings.TrimSpace(w.String()); s != "" {
			query.Warnings = append(query.Warnings, s)
		}
		return true
	})
	return query, nil
}
