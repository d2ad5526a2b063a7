// Package resolve находит ссылки на площадки и метаданные релиза по одной ссылке.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/links"
)

// Aggregator ищет ссылки через API агрегатора.
type Aggregator interface {
	Lookup(ctx context.Context, rawURL string) (domain.Resolution, error)
}

// Scraper разбирает страницу BandLink.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (domain.Resolution, error)
}

const cachePrefix = "resolve:v1:"

// Service объединяет агрегатор, скрапер и кэш.
type Service struct {
	aggregator Aggregator
	scraper    Scraper
	cache      domain.Cache
	cacheTTL   time.Duration
	log        zerolog.Logger
}

var _ domain.Resolver = (*Service)(nil)

// NewService создаёт сервис. cache может быть nil.
func NewService(aggregator Aggregator, scraper Scraper, cache domain.Cache, cacheTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{aggregator: aggregator, scraper: scraper, cache: cache, cacheTTL: cacheTTL, log: log}
}

// Resolve никогда не возвращает ошибку: «ничего не найдено» возвращается пустым результатом.
func (s *Service) Resolve(ctx context.Context, rawURL string) domain.Resolution {
	canonical, platform, ok := links.Normalize(rawURL, "")
	if !ok {
		metrics.IncResolve("", "rejected")
		return domain.Resolution{}
	}
	if cached, hit := s.fromCache(ctx, canonical); hit {
		metrics.ResolveCacheHits.Inc()
		return cached
	}

	start := time.Now()
	var res domain.Resolution
	if platform == domain.PlatformBandlink {
		res = s.resolveBandlink(ctx, canonical)
	} else {
		res = s.lookup(ctx, canonical)
	}
	res = finish(res, canonical, platform)
	metrics.ResolveSeconds.Observe(time.Since(start).Seconds())

	result := "found"
	if res.Empty() {
		result = "empty"
	}
	metrics.IncResolve(platform.String(), result)
	s.log.Debug().Str("url", canonical).Str("platform", platform.String()).Int("links", len(res.Links)).Msg("resolve: готово")

	// результат с одной входной ссылкой не кэшируем, это почти всегда сбой внешних сервисов
	if len(res.Links) > 1 || !res.Meta.Empty() {
		s.toCache(ctx, canonical, res)
	}
	return res
}

func (s *Service) resolveBandlink(ctx context.Context, pageURL string) domain.Resolution {
	var scraped domain.Resolution
	if s.scraper != nil {
		var err error
		scraped, err = s.scraper.Scrape(ctx, pageURL)
		if err != nil {
			s.log.Warn().Err(err).Str("url", pageURL).Msg("resolve: страница bandlink недоступна")
		}
	}
	if len(scraped.Links) >= 2 && scraped.Meta.Complete() {
		return withPage(scraped, pageURL)
	}

	api := s.lookup(ctx, pageURL)
	merged, _ := links.MergeLinks(scraped.Links, api.Links)
	res := domain.Resolution{
		Links: merged,
		Meta:  links.Merge(scraped.Meta, api.Meta),
	}
	if scraped.Empty() {
		return res
	}
	return withPage(res, pageURL)
}

// withPage добавляет саму страницу BandLink в ссылки. Вызывается, только если страница что-то дала.
func withPage(res domain.Resolution, pageURL string) domain.Resolution {
	res.Links = res.Links.Clone()
	if _, ok := res.Links[domain.PlatformBandlink]; !ok {
		res.Links[domain.PlatformBandlink] = pageURL
	}
	return res
}

func (s *Service) lookup(ctx context.Context, rawURL string) domain.Resolution {
	if s.aggregator == nil {
		return domain.Resolution{}
	}
	res, err := s.aggregator.Lookup(ctx, rawURL)
	if err != nil {
		s.log.Warn().Err(err).Str("url", rawURL).Msg("resolve: агрегатор не ответил")
		return domain.Resolution{}
	}
	return res
}

// finish подставляет входную ссылку и оставляет только надёжные источники.
func finish(res domain.Resolution, canonical string, platform domain.Platform) domain.Resolution {
	out := domain.Resolution{Links: res.Links.Clone()}
	if _, ok := out.Links[platform]; !ok && platform != domain.PlatformBandlink {
		out.Links[platform] = canonical
	}
	if !res.Meta.Empty() {
		out.Meta = links.Merge(domain.MetadataBag{}, res.Meta)
		if out.Meta.Origin == domain.PlatformUnknown {
			out.Meta.Origin = platform
		}
	}
	return out
}

func (s *Service) fromCache(ctx context.Context, key string) (domain.Resolution, bool) {
	if s.cache == nil {
		return domain.Resolution{}, false
	}
	data, err := s.cache.Get(ctx, cachePrefix+key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("resolve: чтение кэша")
		}
		return domain.Resolution{}, false
	}
	var res domain.Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		s.log.Warn().Err(err).Msg("resolve: повреждённая запись кэша")
		return domain.Resolution{}, false
	}
	return res, true
}

func (s *Service) toCache(ctx context.Context, key string, res domain.Resolution) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Warn().Err(err).Msg("resolve: сериализация результата")
		return
	}
	if err := s.cache.Set(ctx, cachePrefix+key, data, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("resolve: запись в кэш")
	}
}
