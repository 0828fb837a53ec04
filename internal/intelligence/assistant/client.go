// Package assistant connects the batch-edit parser and committer to the
// external chat endpoints configured as API1 and API2.
package assistant

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/plankton-batchedit/internal/config"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Operations reported to the CallObserver.
const (
	OperationBulkParse   = "bulk_parse"
	OperationSpeciesInfo = "species_info"
	OperationCheck       = "check"
)

const (
	bulkSystemPrompt = "你是浮游动物计数表的批量编辑助手。请严格按照提示输出结构化结果。"
	infoSystemPrompt = "你是生态学与浮游动物学助手。请基于可核对来源回答，不得编造引用；若不确定必须直说。"
	checkPrompt      = "请只回复 OK"
)

// Backend generates one reply.
type Backend interface {
	Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, system, prompt string, maxTokens int) (string, error)

// Generate implements Backend.
func (f BackendFunc) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return f(ctx, system, prompt, maxTokens)
}

// CallObserver receives one observation per call.
type CallObserver interface {
	RecordAssistantCall(endpoint, operation string, err error, d time.Duration)
}

// Options tune a Client.
type Options struct {
	RatePerSecond float64
	Burst         int
	MaxTokens     int
	InfoMaxTokens int
	Timeout       time.Duration
}

// OptionsFrom copies the call limits out of cfg.
func OptionsFrom(cfg config.AssistantConfig) Options {
	return Options{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		MaxTokens:     cfg.MaxTokens,
		InfoMaxTokens: cfg.InfoMaxTokens,
		Timeout:       cfg.Timeout,
	}
}

// Client is a rate-limited, observed endpoint. It implements
// domainbatch.Completer.
type Client struct {
	name     string
	backend  Backend
	limiter  *rate.Limiter
	opts     Options
	observer CallObserver
	logger   logging.Logger
}

var _ domainbatch.Completer = (*Client)(nil)

// NewClient wraps backend. A RatePerSecond of zero disables limiting.
func NewClient(name string, backend Backend, opts Options, observer CallObserver, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &Client{
		name:     name,
		backend:  backend,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		observer: observer,
		logger:   log.Named("assistant").With(logging.String("endpoint", name)),
	}
}

// Name returns the endpoint label.
func (c *Client) Name() string { return c.name }

// Complete implements domainbatch.Completer. Requests sized for a bulk parse
// use the bulk system prompt and token budget, smaller ones the species-info
// prompt and budget.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	op, system, budget := OperationBulkParse, bulkSystemPrompt, c.opts.MaxTokens
	if maxTokens > 0 && maxTokens < domainbatch.BulkParseMaxTokens {
		op, system, budget = OperationSpeciesInfo, infoSystemPrompt, c.opts.InfoMaxTokens
	}
	if budget <= 0 || (maxTokens > 0 && maxTokens < budget) {
		budget = maxTokens
	}
	return c.call(ctx, op, system, prompt, budget)
}

// Check sends a trivial prompt to verify the endpoint answers.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.call(ctx, OperationCheck, "", checkPrompt, 16)
	return err
}

func (c *Client) call(ctx context.Context, op, system, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeTooManyRequests, "assistant rate limit wait aborted")
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.backend.Generate(ctx, system, prompt, maxTokens)
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.RecordAssistantCall(c.name, op, err, elapsed)
	}
	if err != nil {
		c.logger.Warn("Assistant call failed",
			logging.String("operation", op), logging.Duration("elapsed", elapsed), logging.Err(err))
		return "", err
	}
	c.logger.Debug("Assistant call completed",
		logging.String("operation", op), logging.Duration("elapsed", elapsed), logging.Int("reply_len", len(reply)))
	return reply, nil
}

// NewEndpoints builds the API1 and API2 clients. An endpoint that is not
// configured comes back as a nil *Client.
func NewEndpoints(ctx context.Context, cfg config.AssistantConfig, observer CallObserver, log logging.Logger) (api1, api2 *Client, err error) {
	opts := OptionsFrom(cfg)
	httpClient := &http.Client{Timeout: cfg.Timeout}
	build := func(ep config.EndpointConfig) (*Client, error) {
		if !ep.Configured() {
			return nil, nil
		}
		var backend Backend
		switch ep.Provider {
		case config.ProviderGemini:
			backend, err = NewGeminiBackend(ctx, ep.BaseURL, ep.APIKey, ep.Model, httpClient)
		default:
			backend, err = NewChatBackend(ep.BaseURL, ep.APIKey, ep.Model, httpClient, cfg.Timeout)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAssistantNotConfigured, "invalid assistant endpoint").WithDetail(ep.Name)
		}
		return NewClient(ep.Name, backend, opts, observer, log), nil
	}
	if api1, err = build(cfg.API1); err != nil {
		return nil, nil, err
	}
	if api2, err = build(cfg.API2); err != nil {
		return nil, nil, err
	}
	return api1, api2, nil
}

// Parser returns a domain parser over the clients. Nil clients stay nil
// interfaces so the parser sees them as unconfigured.
func Parser(api1, api2 *Client) *domainbatch.Parser {
	p := &domainbatch.Parser{}
	if api1 != nil {
		p.API1 = api1
	}
	if api2 != nil {
		p.API2 = api2
	}
	return p
}
