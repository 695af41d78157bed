// Package app wires the shared core (database, model gateway, services and
// their collaborators) for the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/mindflow/internal/ai"
	"github.com/suPer8Hu/mindflow/internal/chat"
	"github.com/suPer8Hu/mindflow/internal/config"
	"github.com/suPer8Hu/mindflow/internal/db"
	"github.com/suPer8Hu/mindflow/internal/language"
	"github.com/suPer8Hu/mindflow/internal/moderation"
	"github.com/suPer8Hu/mindflow/internal/notify"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/store/redisstore"
	"gorm.io/gorm"
)

// LoadConfig reads .env (if present) and the environment, and installs the
// process logger at the configured level.
func LoadConfig() config.Config {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	observability.SetLogger(observability.NewLogger(cfg.LogLevel))
	return cfg
}

func OpenDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	models := append(chat.Models(), moderation.Models()...)
	if err := db.Migrate(gdb, models...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

// NewRegistry registers every provider the gateway can be built from.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, model)
	})

	// Register Ollama (local)
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("openrouter: OPENROUTER_API_KEY must be set")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	return reg
}

// TurnBudget bounds one chat turn: the model deadline twice (the turn and its
// title) plus persistence. Turn locks and worker drains are sized from it.
func TurnBudget(cfg config.Config) time.Duration {
	return 2*cfg.AICallTimeout + 10*time.Second
}

func NewGateway(ctx context.Context, cfg config.Config) (*ai.Gateway, error) {
	return NewRegistry(cfg).Build(ctx,
		ai.Target{Provider: cfg.AIPrimaryProvider, Model: cfg.AIPrimaryModel},
		ai.Target{Provider: cfg.AIFallbackProvider, Model: cfg.AIFallbackModel},
		ai.WithTimeout(cfg.AICallTimeout),
	)
}

// Core is everything both binaries share.
type Core struct {
	DB       *gorm.DB
	Gateway  *ai.Gateway
	Chat     *chat.Service
	Forum    *moderation.Service
	Notifier *notify.Client
	Redis    *redisstore.Store
}

// NewCore builds the services. NATS and Redis are optional: without
// NATS_URL crisis alerts are only logged, without REDIS_ADDR chat turns are
// serialized in-process only.
func NewCore(ctx context.Context, cfg config.Config, events chat.EventSink) (*Core, error) {
	log := observability.Logger()
	c := &Core{}

	gdb, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	c.DB = gdb

	gw, err := NewGateway(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("model gateway: %w", err)
	}
	c.Gateway = gw
	log.Info("model gateway ready", "primary", gw.PrimaryID(), "fallback", gw.FallbackID(), "timeout", cfg.AICallTimeout.String())

	var alerter interface {
		Publish(ctx context.Context, a notify.Alert) error
	}
	if cfg.NatsURL != "" {
		nc, err := notify.NewClient(cfg.NatsURL, cfg.NatsToken, cfg.CrisisAlertSubject, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		c.Notifier = nc
		alerter = nc
	} else {
		log.Warn("NATS_URL not set, crisis alerts will not be published")
	}

	var locker chat.TurnLocker
	if cfg.RedisAddr != "" {
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			c.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.Redis = rs
		locker = rs.TurnLock(TurnBudget(cfg))
	}

	c.Chat = chat.NewService(chat.NewRepo(gdb), gw, chat.Options{
		WindowSize:      cfg.ChatContextWindowSize,
		MaxMessageChars: cfg.ChatMaxMessageChars,
		Locker:          locker,
		Alerter:         alerter,
		Events:          events,
		JobStaleAfter:   2 * TurnBudget(cfg),
	})

	var analyzer language.Analyzer
	if cfg.LanguageAPIKey != "" {
		analyzer = language.NewGoogleAnalyzer(cfg.LanguageAPIURL, cfg.LanguageAPIKey, cfg.LanguageTimeout)
	} else {
		log.Warn("LANGUAGE_API_KEY not set, forum content is approved by default")
	}
	modRepo := moderation.NewRepo(gdb)
	c.Forum = moderation.NewService(modRepo, moderation.NewScorer(analyzer), moderation.NewEscalator(modRepo, alerter), cfg.AliasSecret)

	return c, nil
}

func (c *Core) Close() {
	if c.Notifier != nil {
		c.Notifier.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
