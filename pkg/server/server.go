// Package server assembles the ClawPay control plane from configuration.
//
// Usage:
//
//	cfg, _ := config.Load("")
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//
// Background loops (discovery scheduler, retention janitor, limiter sweep)
// are exposed as fields and started by the caller.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kasperwtrcolor/clawpay/internal/api"
	"github.com/kasperwtrcolor/clawpay/internal/api/handlers"
	"github.com/kasperwtrcolor/clawpay/internal/api/middleware"
	"github.com/kasperwtrcolor/clawpay/internal/audit"
	"github.com/kasperwtrcolor/clawpay/internal/auth"
	"github.com/kasperwtrcolor/clawpay/internal/bounty"
	"github.com/kasperwtrcolor/clawpay/internal/chain"
	"github.com/kasperwtrcolor/clawpay/internal/community"
	"github.com/kasperwtrcolor/clawpay/internal/config"
	"github.com/kasperwtrcolor/clawpay/internal/discovery"
	"github.com/kasperwtrcolor/clawpay/internal/evaluator"
	"github.com/kasperwtrcolor/clawpay/internal/llm"
	"github.com/kasperwtrcolor/clawpay/internal/notify"
	"github.com/kasperwtrcolor/clawpay/internal/ratelimit"
	"github.com/kasperwtrcolor/clawpay/internal/reputation"
	"github.com/kasperwtrcolor/clawpay/internal/retention"
	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/internal/settlement"
	"github.com/kasperwtrcolor/clawpay/internal/social"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/internal/telemetry"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"

	"github.com/rs/zerolog/log"
)

// Addresses used by the simulated ledger when none are configured.
const (
	simToken    = "0x00000000000000000000000000000000000c1a55"
	simTreasury = "0x000000000000000000000000000000000000f00d"
)

// Runner is a background loop that stops when ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Server holds the initialized ClawPay control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store  store.Store
	Config *config.Config
	Port   int

	// Scheduler is nil when no discovery source is configured.
	Scheduler  *discovery.Scheduler
	Janitor    *retention.Janitor
	Reputation *reputation.Aggregator

	// Sweeper evicts idle limiter windows; nil when Redis holds them.
	Sweeper Runner

	// ShutdownFunc flushes telemetry.
	ShutdownFunc func(context.Context) error

	recorder *audit.Recorder
	closers  []func() error
}

// New initializes every control plane component from cfg.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{Config: cfg, Port: cfg.Server.Port}
	if err := srv.build(ctx); err != nil {
		srv.Close(context.Background())
		return nil, err
	}
	return srv, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.Config

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Server.Version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.ShutdownFunc = shutdown

	// ── Storage ──────────────────────────────────────────────
	dataStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	s.Store = dataStore
	s.closers = append(s.closers, dataStore.Close)

	// ── Chain ────────────────────────────────────────────────
	ledger, token, treasury, err := openChain(cfg)
	if err != nil {
		return err
	}

	// ── Services ─────────────────────────────────────────────
	queue := rewards.NewQueue(dataStore, rewards.Defaults{
		Sender:       cfg.Discovery.TreasuryHandle,
		SenderWallet: treasury.Hex(),
	})
	s.Reputation = reputation.NewAggregator(dataStore)

	opts := []settlement.Option{settlement.WithReputation(s.Reputation)}
	if hook := notify.NewService(cfg.Notify.WebhookURL, cfg.Notify.Secret); hook.Enabled() {
		opts = append(opts, settlement.WithNotifier(hook))
		log.Info().Str("url", cfg.Notify.WebhookURL).Msg("✅ Settlement webhook enabled")
	}
	executor := settlement.NewExecutor(dataStore, ledger, settlement.Config{
		Token:         token,
		TokenDecimals: cfg.Chain.TokenDecimals,
		LeaseTTL:      cfg.Chain.LeaseTTL,
	}, opts...)

	bounties := bounty.NewLedger(dataStore, queue)

	// A typed nil would defeat the nil checks downstream.
	var completer contracts.Completer
	if cfg.LLM.APIKey != "" {
		completer = llm.NewAnthropicClient(cfg.LLM.APIKey,
			llm.WithBaseURL(cfg.LLM.BaseURL),
			llm.WithModel(cfg.LLM.Model),
			llm.WithTimeout(cfg.LLM.Timeout),
		)
		log.Info().Msg("✅ Language model scorer enabled")
	}
	generator := bounty.NewGenerator(completer, bounty.NewThemeRotator(nil), bounties, bounty.GeneratorConfig{
		Creator: cfg.Discovery.TreasuryHandle,
	})

	s.Scheduler = buildScheduler(cfg, dataStore, queue, completer)
	s.Janitor = retention.NewJanitor(dataStore, bounties, cfg.Retention.Interval, cfg.Retention.AuditRetentionDays)

	// ── Gate ─────────────────────────────────────────────────
	limiter, err := s.openLimiter(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	s.recorder = audit.NewRecorder(dataStore)
	providers := auth.NewProviderChain(
		auth.NewAdminKeyProvider(cfg.Auth.AdminKeys),
		auth.NewCredentialProvider(dataStore),
	)
	gate := middleware.NewGate(providers, limiter, s.recorder, cfg.Auth.DefaultQuota)

	h := &handlers.Handlers{
		Store:         dataStore,
		Rewards:       queue,
		Settlement:    executor,
		Bounties:      bounties,
		Reputation:    s.Reputation,
		Generator:     generator,
		Scheduler:     s.Scheduler,
		Chain:         ledger,
		TokenDecimals: cfg.Chain.TokenDecimals,
	}
	s.Handler = api.NewRouter(cfg, h, gate)
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.URL == "" {
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return store.NewMemoryStore(cfg.DataDir), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.URL, cfg.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL store initialized")
	return pg, nil
}

// openChain returns the ledger client with the token and treasury it pays
// from.
func openChain(cfg *config.Config) (contracts.Chain, common.Address, common.Address, error) {
	tokenHex, treasuryHex := cfg.Chain.Token, cfg.Discovery.TreasuryWallet
	if cfg.Chain.Mode == "sim" {
		if tokenHex == "" {
			tokenHex = simToken
		}
		if treasuryHex == "" {
			treasuryHex = simTreasury
		}
	}
	token, ok := chain.ParseAddress(tokenHex)
	if !ok {
		return nil, common.Address{}, common.Address{}, fmt.Errorf("config: invalid chain.token %q", tokenHex)
	}
	treasury, ok := chain.ParseAddress(treasuryHex)
	if !ok {
		return nil, common.Address{}, common.Address{}, fmt.Errorf("config: invalid discovery.treasury_wallet %q", treasuryHex)
	}

	if cfg.Chain.Mode == "relayer" {
		log.Info().Str("relayer", cfg.Chain.RelayerURL).Msg("✅ Relayer chain client initialized")
		return chain.NewRelayerClient(cfg.Chain.RelayerURL, cfg.Chain.RelayerKey, cfg.Chain.Timeout), token, treasury, nil
	}

	sim := chain.NewSimLedger(token)
	funding := models.Whole(cfg.Chain.SimFunding).BaseUnits(cfg.Chain.TokenDecimals)
	sim.Fund(treasury, funding)
	sim.Approve(treasury, funding)
	log.Warn().
		Str("treasury", treasury.Hex()).
		Int64("funding", cfg.Chain.SimFunding).
		Msg("⚠️  Simulated ledger in use, transfers are not real")
	return sim, token, treasury, nil
}

func (s *Server) openLimiter(ctx context.Context, cfg config.AuthConfig) (ratelimit.Limiter, error) {
	if cfg.RedisURL != "" {
		rl, err := ratelimit.NewRedisLimiterFromURL(ctx, cfg.RedisURL, cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("open redis limiter: %w", err)
		}
		s.closers = append(s.closers, rl.Close)
		log.Info().Msg("✅ Redis rate limiter initialized")
		return rl, nil
	}
	ml := ratelimit.NewMemoryLimiter(cfg.Window)
	s.Sweeper = ml
	return ml, nil
}

// buildScheduler wires the configured discovery sources. It returns nil
// when discovery is disabled or no source has credentials.
func buildScheduler(cfg *config.Config, s store.Store, queue *rewards.Queue, completer contracts.Completer) *discovery.Scheduler {
	if !cfg.Discovery.Enabled {
		return nil
	}

	var feed contracts.SocialFeed
	if cfg.Social.BearerToken != "" {
		feed = social.NewClient(cfg.Social.BaseURL, cfg.Social.BearerToken)
	}
	remoteKey := ""
	if completer != nil {
		remoteKey = cfg.LLM.APIKey
	}
	cycle := discovery.NewCycle(s, evaluator.New(completer, cfg.LLM.Timeout), feed, discovery.Policy{
		MinScore:   cfg.Discovery.MinScore,
		SampleSize: cfg.Discovery.SampleSize,
		SelfHandle: cfg.Discovery.SelfHandle,
		ClaimURL:   cfg.Server.PublicURL + "/claim",
		RemoteKey:  remoteKey,
	})

	var skills []discovery.Skill
	if feed != nil {
		skills = append(skills, discovery.NewFeedSkill(cycle, feed, discovery.FeedConfig{
			Query:      cfg.Discovery.Query,
			MaxRewards: cfg.Discovery.MaxRewards,
			Cooldown:   cfg.Discovery.Cooldown(),
		}))
	}
	if cfg.Community.Enabled && cfg.Community.APIKey != "" {
		skills = append(skills, discovery.NewCommunitySkill(cycle,
			community.NewClient(cfg.Community.BaseURL, cfg.Community.APIKey),
			discovery.CommunityConfig{
				Feed:       cfg.Community.Feed,
				MinLength:  cfg.Community.MinLength,
				MaxRewards: cfg.Discovery.MaxRewards,
				Cooldown:   cfg.Discovery.Cooldown(),
			}))
	}
	if len(skills) == 0 {
		log.Warn().Msg("Discovery enabled but no source is configured")
		return nil
	}
	return discovery.NewScheduler(queue, discovery.SchedulerConfig{
		Interval:     cfg.Discovery.Interval,
		CycleTimeout: cfg.Discovery.CycleTimeout,
	}, skills...)
}

// Close drains the audit recorder, then releases stores and clients in
// reverse order of opening.
func (s *Server) Close(ctx context.Context) error {
	if s.recorder != nil {
		s.recorder.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ShutdownFunc != nil {
		if err := s.ShutdownFunc(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
