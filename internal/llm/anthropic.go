package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"askdb/internal/core"
	"askdb/internal/metrics"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

const defaultMaxTokens = 1024

// Purpose labels a call in metrics and logs.
type purposeKey struct{}

// WithPurpose tags ctx so the call is counted under purpose ("generate",
// "explain", "summary").
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func purposeOf(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok {
		return p
	}
	return "chat"
}

type Options struct {
	APIKey      string
	BaseURL     string
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
	Logger      zerolog.Logger
}

// AnthropicClient implements core.ChatClient on the Messages API. Transient
// failures (rate limits, overload, 5xx, transport errors) are retried with
// exponential backoff; everything else fails immediately.
type AnthropicClient struct {
	client anthropic.Client
	opts   Options
	log    zerolog.Logger
}

func NewAnthropicClient(opts Options) *AnthropicClient {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialWait == 0 {
		opts.InitialWait = 500 * time.Millisecond
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 8 * time.Second
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
		log:    opts.Logger.With().Str("component", "llm").Logger(),
	}
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []core.ChatMessage, model string, opts core.ChatOptions) (*core.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: opts.MaxTokens,
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = defaultMaxTokens
	}
	params.Temperature = anthropic.Float(opts.Temperature)

	for _, m := range messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return nil, errors.New("chat requires at least one user message")
	}

	purpose := purposeOf(ctx)
	start := time.Now()

	var msg *anthropic.Message
	operation := func() error {
		var err error
		msg, err = c.client.Messages.New(ctx, params)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialWait
	bo.MaxInterval = c.opts.MaxWait
	bo.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, c.opts.MaxRetries), ctx),
		func(err error, wait time.Duration) {
			c.log.Warn().Err(err).Str("purpose", purpose).Dur("retry_in", wait).Msg("anthropic call failed, retrying")
		})
	if err != nil {
		metrics.LLMCalls.WithLabelValues(purpose, metrics.StatusError).Inc()
		c.log.Error().Err(err).Str("purpose", purpose).Dur("duration", time.Since(start)).Msg("anthropic call failed")
		return nil, errors.Wrap(err, "anthropic API error")
	}
	metrics.LLMCalls.WithLabelValues(purpose, metrics.StatusSuccess).Inc()
	c.log.Debug().Str("purpose", purpose).Dur("duration", time.Since(start)).Str("stop_reason", string(msg.StopReason)).Msg("anthropic call completed")

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("no text content in response")
	}
	return &core.ChatResponse{Content: text.String()}, nil
}

func retryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return true
		}
		return false
	}
	// Context errors end the loop through backoff.WithContext
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
