// Package runtime assembles the quote engine: storage, discovery, email,
// clarification, negotiation, and the HTTP API, with config hot-reload for
// negotiation tunables.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quotepilot/quotepilot/internal/adapters/discovery/serp"
	"github.com/quotepilot/quotepilot/internal/adapters/email/mailhog"
	"github.com/quotepilot/quotepilot/internal/adapters/questions/heuristic"
	openaiq "github.com/quotepilot/quotepilot/internal/adapters/questions/openai"
	"github.com/quotepilot/quotepilot/internal/api/rfq"
	"github.com/quotepilot/quotepilot/internal/clarify"
	"github.com/quotepilot/quotepilot/internal/config"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/dispatch"
	"github.com/quotepilot/quotepilot/internal/extract"
	"github.com/quotepilot/quotepilot/internal/negotiation"
	"github.com/quotepilot/quotepilot/internal/orchestrator"
	"github.com/quotepilot/quotepilot/internal/server"
	"github.com/quotepilot/quotepilot/internal/storage/memory"
	"github.com/quotepilot/quotepilot/internal/storage/sqldb"
)

// Store is the combined persistence surface the engine needs.
type Store interface {
	ports.OfferStore
	ports.SessionStore
}

// Engine owns the lifecycle of every component. It can be embedded in a
// larger program or run standalone from cmd/quotepilot.
type Engine struct {
	watcher   *config.Watcher
	store     Store
	directory ports.SupplierDirectory
	gen       ports.QuestionGenerator
	sender    ports.EmailSender
	inbox     ports.InboxReader
	clock     ports.Clock
	logger    *slog.Logger

	machine      *negotiation.Machine
	clarifier    *clarify.Clarifier
	orchestrator *orchestrator.Orchestrator
	srv          *server.Server

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithFileConfig uses file-based configuration with hot-reload. The file is
// watched so negotiation-policy changes apply to live campaigns.
func WithFileConfig(path string) Option {
	return func(e *Engine) error {
		w, err := config.NewWatcher(path, e.logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		e.watcher = w
		return nil
	}
}

// WithStore injects a pre-built store instead of the config-driven one.
func WithStore(store Store) Option {
	return func(e *Engine) error {
		e.store = store
		return nil
	}
}

// WithSupplierDirectory overrides supplier discovery, e.g. with a fixture
// directory in tests.
func WithSupplierDirectory(d ports.SupplierDirectory) Option {
	return func(e *Engine) error {
		e.directory = d
		return nil
	}
}

// WithQuestionGenerator overrides the clarification question generator.
func WithQuestionGenerator(g ports.QuestionGenerator) Option {
	return func(e *Engine) error {
		e.gen = g
		return nil
	}
}

// WithEmail overrides the mail transport.
func WithEmail(sender ports.EmailSender, inbox ports.InboxReader) Option {
	return func(e *Engine) error {
		e.sender = sender
		e.inbox = inbox
		return nil
	}
}

// WithClock overrides the clock, used by tests to drive poll loops.
func WithClock(clock ports.Clock) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// New creates an engine with the given options. A config source is required.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: slog.Default(),
		clock:  ports.SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if e.watcher == nil {
		return nil, fmt.Errorf("config source required (use WithFileConfig)")
	}
	return e, nil
}

// Init loads the config and builds every component without starting the HTTP
// listener. Start calls it; tests call it directly and drive Router.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)

	cfg, err := e.watcher.Load(e.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if e.store == nil {
		store, err := buildStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		e.store = store
	}

	if e.gen == nil {
		e.gen = buildGenerator(cfg.OpenAI, e.logger)
	}
	if e.directory == nil {
		e.directory = serp.New(cfg.Discovery.SerpAPIKey, e.logger)
	}
	if e.sender == nil {
		e.sender = mailhog.NewSender(cfg.Email.SMTPAddr, cfg.Email.From, e.logger)
	}
	if e.inbox == nil {
		e.inbox = mailhog.NewInbox(cfg.Email.MailhogURL, cfg.Email.From, e.logger)
	}

	e.clarifier = clarify.New(e.store, e.gen, e.clock, e.logger, clarify.Config{
		IdleTimeout:   config.Duration(cfg.Clarify.IdleTimeout, clarify.DefaultConfig().IdleTimeout),
		SweepInterval: config.Duration(cfg.Clarify.SweepInterval, clarify.DefaultConfig().SweepInterval),
	})

	e.machine = negotiation.New(e.store, e.clock, e.logger, policyFromConfig(cfg.Negotiation))

	pipeline := dispatch.New(e.sender, e.inbox, e.clock, e.logger, dispatch.Config{
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		PollInterval:  config.Duration(cfg.Dispatch.PollInterval, dispatch.DefaultConfig().PollInterval),
		PollTimeout:   config.Duration(cfg.Dispatch.PollTimeout, dispatch.DefaultConfig().PollTimeout),
	})

	e.orchestrator = orchestrator.New(
		e.directory,
		pipeline,
		extract.New(cfg.Extract.FallbackCurrency),
		e.machine,
		e.store,
		e.sender,
		e.clock,
		e.logger,
		orchestrator.Config{
			MaxSuppliers:  cfg.Orchestrator.MaxSuppliers,
			ContactDomain: cfg.Orchestrator.ContactDomain,
			SenderName:    cfg.Orchestrator.SenderName,
			AutoNegotiate: cfg.Orchestrator.AutoNegotiate,
		},
	)

	timeout := config.Duration(cfg.Dispatch.PollTimeout, dispatch.DefaultConfig().PollTimeout) + time.Minute
	e.srv = server.New(cfg.Server.Port, timeout, e.logger)
	rfq.NewHandler(e.clarifier, e.orchestrator, e.store, e.logger).Register(e.srv.Router)

	return nil
}

// Start initializes the engine and launches the HTTP server and background
// loops. It returns once everything is running; Shutdown stops it.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Init(ctx); err != nil {
		return err
	}

	go e.clarifier.RunSweeper(e.ctx)

	if err := e.watcher.Watch(e.ctx, func(cfg *config.Config) {
		e.machine.SetPolicy(policyFromConfig(cfg.Negotiation))
		e.logger.Info("negotiation policy reloaded",
			slog.Float64("accept_price", cfg.Negotiation.AcceptPrice),
			slog.Int("max_rounds", cfg.Negotiation.MaxRounds))
	}); err != nil {
		e.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	}

	go func() {
		if err := e.srv.Start(); err != nil {
			e.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	e.logger.Info("engine started")
	return nil
}

// Router exposes the HTTP routes, for embedding and tests.
func (e *Engine) Router() *chi.Mux {
	return e.srv.Router
}

// Orchestrator exposes the campaign service, for one-shot CLI runs.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator {
	return e.orchestrator
}

// Clarifier exposes the clarification service.
func (e *Engine) Clarifier() *clarify.Clarifier {
	return e.clarifier
}

// Shutdown stops the HTTP server and background loops and closes resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("shutting down engine")
	if e.cancel != nil {
		e.cancel()
	}
	if e.srv != nil {
		if err := e.srv.Shutdown(ctx); err != nil {
			e.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			e.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}
	return nil
}

func buildStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	default:
		return sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	}
}

func buildGenerator(cfg config.OpenAIConfig, logger *slog.Logger) ports.QuestionGenerator {
	if cfg.APIKey == "" {
		logger.Info("no OpenAI key configured, using heuristic question generator")
		return heuristic.New()
	}
	opts := []openaiq.Option{openaiq.WithModel(cfg.Model)}
	if cfg.PromptBudget > 0 {
		opts = append(opts, openaiq.WithPromptBudget(cfg.PromptBudget))
	}
	gen, err := openaiq.New(cfg.APIKey, logger, opts...)
	if err != nil {
		logger.Warn("OpenAI generator unavailable, using heuristics", slog.String("error", err.Error()))
		return heuristic.New()
	}
	return gen
}

func policyFromConfig(cfg config.NegotiationConfig) negotiation.Policy {
	policy := negotiation.DefaultPolicy()
	policy.AcceptPrice = cfg.AcceptPrice
	policy.RepeatPriceIsFinal = cfg.RepeatPriceIsFinal
	if cfg.MaxRounds > 0 {
		policy.MaxRounds = cfg.MaxRounds
	}
	if cfg.CounterDiscount > 0 {
		policy.CounterDiscount = cfg.CounterDiscount
	}
	if len(cfg.FinalKeywords) > 0 {
		policy.FinalKeywords = cfg.FinalKeywords
	}
	return policy
}
