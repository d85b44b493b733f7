package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/caredesk-core-poc/server/internal/agent/approval"
	"github.com/caredesk-core-poc/server/internal/agent/conversations"
	"github.com/caredesk-core-poc/server/internal/agent/engine"
	"github.com/caredesk-core-poc/server/internal/agent/exec"
	"github.com/caredesk-core-poc/server/internal/agent/model"
	"github.com/caredesk-core-poc/server/internal/agent/orderid"
	"github.com/caredesk-core-poc/server/internal/agent/policy"
	"github.com/caredesk-core-poc/server/internal/agent/reason"
	"github.com/caredesk-core-poc/server/internal/agent/repo"
	"github.com/caredesk-core-poc/server/internal/core"
	"github.com/caredesk-core-poc/server/internal/server"
	"github.com/caredesk-core-poc/server/internal/telemetry"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
	pkgredis "github.com/caredesk-core-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config
	Store model.StoreConfig
	HTTP  model.HTTPConfig

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Engine       model.EngineConfig
	Reason       model.ReasonModelConfig
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
	OrderID      model.OrderIDConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	shutdownTracer, err := telemetry.InitTracer("caredesk-agent")
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logx.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Redis client")
	}
	defer rdb.Close()

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", cfg.Conversation.TTL).Msg("invalid CONVERSATION_TTL")
	}

	store, err := repo.NewSQLiteStore(cfg.Store.SQLitePath)
	if err != nil {
		logx.Fatal().Err(err).Str("path", cfg.Store.SQLitePath).Msg("failed to open sqlite store")
	}
	defer store.Close()

	if cfg.Store.SeedOrders {
		if err := store.SeedOrders(ctx); err != nil {
			logx.Fatal().Err(err).Msg("failed to seed order fixtures")
		}
	}

	states := repo.NewRedisStateStore(rdb, ttl)
	history := repo.NewRedisConversationRepository(rdb, ttl)
	messages := conversations.NewMessagesManager(history, cfg.Conversation)

	reasoner, err := reason.NewLLMReasoner(ctx, reason.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Reason,
		Prompt:  cfg.Prompt,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build reasoner")
	}

	gate := approval.NewGate(store)
	executor := exec.NewExecutor(store, store)

	eng, err := engine.New(engine.Deps{
		States:   states,
		Messages: messages,
		Orders:   store,
		Policies: policy.NewStaticRetriever(),
		Reasoner: reasoner,
		Gate:     gate,
		Executor: executor,
		Norm:     orderid.NewNormalizer(cfg.OrderID.Prefix),
	}, cfg.Engine)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build engine")
	}
	gate.SetResumer(eng)

	srv := server.New(eng, gate, states, history)

	logx.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("environment", cfg.Environment).
		Msg("caredesk agent listening")
	if err := http.ListenAndServe(cfg.HTTP.Addr, srv.Handler()); err != nil {
		logx.Error().Err(err).Msg("http server stopped")
		os.Exit(1)
	}
}
