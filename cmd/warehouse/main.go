package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iacob98/cometa-warehouse/internal/bot"
	"github.com/Iacob98/cometa-warehouse/internal/config"
	"github.com/Iacob98/cometa-warehouse/internal/domain/consumers"
	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/infra/db"
	httpx "github.com/Iacob98/cometa-warehouse/internal/infra/http"
	"github.com/Iacob98/cometa-warehouse/internal/infra/logger"
	"github.com/Iacob98/cometa-warehouse/internal/infra/metrics"
	"github.com/Iacob98/cometa-warehouse/internal/infra/notify"
	"github.com/Iacob98/cometa-warehouse/internal/infra/tracing"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
	"github.com/Iacob98/cometa-warehouse/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "config/example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	log, syncLog, err := logger.New(cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer syncLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, os.Stdout, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.App.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		log.Error("tracing init failed", "err", err)
		return
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	if err := db.Migrate(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	pool, err := db.Connect(ctx, cfg.Postgres.DSN, db.PoolConfig{
		MaxConns:        cfg.Postgres.MaxConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	matRepo := materials.NewRepo(pool)
	deps := ledger.Deps{
		Store:     postgres.New(pool, cfg.Postgres.LockTimeout),
		Materials: matRepo,
		Consumers: consumers.NewRepo(pool),
		Log:       log,
		Hooks:     metrics.NewLedger(prometheus.DefaultRegisterer),
		Retry: ledger.RetryConfig{
			Attempts:  cfg.Ledger.RetryAttempts,
			BaseDelay: cfg.Ledger.RetryBaseDelay,
		},
	}
	var api *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		api, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			// склад работает и без телеграма
			log.Warn("telegram disabled", "err", err)
			api = nil
		} else {
			deps.Notifier = notify.NewTelegram(api, cfg.Telegram.AdminChatID, cfg.Telegram.Recipients, log)
		}
	}
	svc := ledger.New(deps)

	if api != nil {
		admin := bot.New(api, log, svc, matRepo, notify.Recipients(cfg.Telegram.AdminChatID, cfg.Telegram.Recipients))
		go func() {
			if err := admin.Run(ctx, cfg.Telegram.PollTimeout); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", "err", err)
			}
		}()
		log.Info("telegram bot started", "bot", api.Self.UserName)
	}

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, httpx.NewAPI(log, svc, matRepo), log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
