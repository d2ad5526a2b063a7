package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resolve_total",
		Help: "Поиск ссылок по входной ссылке",
	}, []string{"platform", "result"})
	ResolveSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolve_seconds",
		Help:    "Время поиска ссылок и метаданных",
		Buckets: prometheus.DefBuckets,
	})
	ResolveCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolve_cache_hits_total",
		Help: "Попадания в кэш поиска ссылок",
	})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})
	FlowEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_events_total",
		Help: "События диалогов создания и правки",
	}, []string{"flow", "event"})
	SmartlinksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlinks_created_total",
		Help: "Созданные смартлинки",
	}, []string{"source"})
	RemindersSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Отправленные напоминания",
	}, []string{"kind", "status"})
	SchedulerTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_seconds",
		Help:    "Длительность одного прохода планировщика",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ResolveTotal,
		ResolveSeconds,
		ResolveCacheHits,
		BotSendErrors,
		FlowEvents,
		SmartlinksCreated,
		RemindersSent,
		SchedulerTickSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncResolve считает результат поиска ссылок.
func IncResolve(platform, result string) {
	if platform == "" {
		platform = "unknown"
	}
	ResolveTotal.WithLabelValues(platform, result).Inc()
}

// IncFlowEvent считает событие диалога: старт, отмена, завершение.
func IncFlowEvent(flow, event string) {
	FlowEvents.WithLabelValues(flow, event).Inc()
}

// IncReminder считает напоминание по виду и исходу отправки.
func IncReminder(kind, status string) {
	RemindersSent.WithLabelValues(kind, status).Inc()
}
