package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Scheduler struct {
		Interval    time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"5m"`
		Timezone    string        `envconfig:"SCHEDULER_DEFAULT_TZ" default:"Europe/Moscow"`
		Concurrency int           `envconfig:"SCHEDULER_CONCURRENCY" default:"8"`
		MetricsAddr string        `envconfig:"SCHEDULER_METRICS_ADDR" default:":9091"`
	} `envconfig:""`

	Resolver struct {
		SonglinkURL     string        `envconfig:"SONGLINK_API_URL" default:"https://api.song.link/v1-alpha.1/links"`
		SonglinkTimeout time.Duration `envconfig:"SONGLINK_TIMEOUT" default:"10s"`
		SonglinkRPS     float64       `envconfig:"SONGLINK_RPS" default:"1"`
		FetchTimeout    time.Duration `envconfig:"BANDLINK_FETCH_TIMEOUT" default:"20s"`
		RenderEnabled   bool          `envconfig:"BANDLINK_RENDER_ENABLED" default:"false"`
		RenderBin       string        `envconfig:"BANDLINK_RENDER_BIN"`
		CacheTTL        time.Duration `envconfig:"RESOLVER_CACHE_TTL" default:"6h"`
	} `envconfig:""`

	Spotify struct {
		ClientID     string        `envconfig:"SPOTIFY_CLIENT_ID"`
		ClientSecret string        `envconfig:"SPOTIFY_CLIENT_SECRET"`
		Timeout      time.Duration `envconfig:"SPOTIFY_TIMEOUT" default:"10s"`
		RPS          float64       `envconfig:"SPOTIFY_RPS" default:"2"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если он есть, читается первым.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// UPCEnabled сообщает, заданы ли ключи Spotify для поиска по UPC.
func (c AppConfig) UPCEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// DefaultLocation возвращает часовой пояс планировщика по умолчанию.
func (c AppConfig) DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
