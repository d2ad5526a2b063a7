package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"smartlink-bot/internal/adapters/repo"
	"smartlink-bot/internal/adapters/telegram"
	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/cache"
	"smartlink-bot/internal/infra/config"
	"smartlink-bot/internal/infra/db"
	"smartlink-bot/internal/infra/log"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/infra/security"
	"smartlink-bot/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := log.Component(log.NewLogger(cfg.AppEnv), "scheduler")
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var lock domain.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		lock = cache.NewRedis(rdb)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
	}
	messenger := telegram.NewMessenger(botAPI, security.NewSafeClient(10*time.Second), logger)

	metrics.StartServer(ctx, logger, cfg.Scheduler.MetricsAddr)

	worker := notify.NewWorker(repoAdapter, repoAdapter, repoAdapter, repoAdapter, messenger, lock, logger, notify.Config{
		Interval:    cfg.Scheduler.Interval,
		DefaultLoc:  cfg.DefaultLocation(),
		Concurrency: cfg.Scheduler.Concurrency,
	})
	worker.Run(ctx)
}
