package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/adapters/bandlink"
	"smartlink-bot/internal/adapters/bot"
	"smartlink-bot/internal/adapters/repo"
	"smartlink-bot/internal/adapters/songlink"
	"smartlink-bot/internal/adapters/spotify"
	"smartlink-bot/internal/adapters/telegram"
	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/cache"
	"smartlink-bot/internal/infra/config"
	"smartlink-bot/internal/infra/db"
	httpinfra "smartlink-bot/internal/infra/http"
	"smartlink-bot/internal/infra/log"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/infra/security"
	"smartlink-bot/internal/usecase/flow"
	"smartlink-bot/internal/usecase/resolve"
	"smartlink-bot/internal/usecase/schedule"
	"smartlink-bot/internal/usecase/smartlinks"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("не удалось применить миграции")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	checks := map[string]httpinfra.HealthCheck{"postgres": repoAdapter.Ping}
	var resolveCache domain.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		resolveCache = cache.NewRedis(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn().Msg("REDIS_ADDR не задан, поиск ссылок работает без кэша")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	messenger := telegram.NewMessenger(botAPI, security.NewSafeClient(10*time.Second), log.Component(logger, "telegram"))

	resolver := resolve.NewService(
		songlink.NewClient(cfg.Resolver.SonglinkURL, cfg.Resolver.SonglinkTimeout, cfg.Resolver.SonglinkRPS),
		newScraper(cfg, logger),
		resolveCache,
		cfg.Resolver.CacheTTL,
		log.Component(logger, "resolve"),
	)
	smartlinkService := smartlinks.NewService(repoAdapter, repoAdapter, messenger, cfg.DefaultLocation())
	scheduleService := schedule.NewService(repoAdapter, cfg.DefaultLocation())
	flowOpts := []flow.Option{flow.WithReleaseDates(scheduleService)}
	if cfg.UPCEnabled() {
		flowOpts = append(flowOpts, flow.WithUPCSearch(spotify.NewClient(spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Timeout:      cfg.Spotify.Timeout,
			RPS:          cfg.Spotify.RPS,
		})))
	} else {
		logger.Info().Msg("SPOTIFY_CLIENT_ID/SECRET не заданы, поиск по UPC отключён")
	}
	flowService := flow.NewService(repoAdapter, repoAdapter, resolver, messenger, messenger, smartlinkService, log.Component(logger, "flow"), flowOpts...)

	h := bot.NewHandler(log.Component(logger, "bot"), messenger, repoAdapter, flowService, smartlinkService, scheduleService)

	srv := httpinfra.NewServer(logger, checks)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	if cfg.Telegram.WebhookURL != "" {
		if err := setWebhook(botAPI, cfg.Telegram.WebhookURL); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить вебхук")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("бот-гейтвей запущен, вебхук установлен")
	} else {
		logger.Info().Msg("TG_WEBHOOK_URL не задан, бот получает апдейты опросом")
		go poll(ctx, botAPI, h, logger)
	}

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP сервер: ошибка остановки")
	}
}

// newScraper собирает скрапер BandLink. Рендерер подключается, только если включён и браузер найден.
func newScraper(cfg config.AppConfig, logger zerolog.Logger) *bandlink.Scraper {
	scraperLog := log.Component(logger, "bandlink")
	fetcher := bandlink.NewHTTPFetcher(security.NewSafeClient(cfg.Resolver.FetchTimeout))
	if !cfg.Resolver.RenderEnabled {
		return bandlink.NewScraper(fetcher, nil, scraperLog)
	}
	renderer, err := bandlink.NewRodRenderer(cfg.Resolver.RenderBin, cfg.Resolver.FetchTimeout)
	if err != nil {
		scraperLog.Warn().Err(err).Msg("рендеринг страниц отключён")
		return bandlink.NewScraper(fetcher, nil, scraperLog)
	}
	return bandlink.NewScraper(fetcher, renderer, scraperLog)
}

func setWebhook(api *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	_, err = api.Request(wh)
	return err
}

func poll(ctx context.Context, api *tgbotapi.BotAPI, h *bot.Handler, logger zerolog.Logger) {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("не удалось снять вебхук")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update := <-updates:
			h.HandleUpdate(ctx, update)
		}
	}
}
