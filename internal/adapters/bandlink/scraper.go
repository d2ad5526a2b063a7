package bandlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/infra/security"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"
	maxPageSize    = 5 << 20
)

// PageSource отдаёт HTML страницы.
type PageSource interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher скачивает страницу обычным GET с заголовками браузера.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher создаёт загрузчик. client должен быть защищён от SSRF.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// FetchHTML реализует PageSource.
func (f *HTTPFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("bandlink: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("bandlink", "fetch_html", "band.link", start, err)
		return "", fmt.Errorf("bandlink: do request: %w", err)
	}
	defer resp.Body.Close()

	if err := security.StatusError(resp); err != nil {
		metrics.ObserveNetworkRequest("bandlink", "fetch_html", "band.link", start, err)
		return "", fmt.Errorf("bandlink: %w", err)
	}
	body, err := security.ReadLimited(resp.Body, maxPageSize)
	metrics.ObserveNetworkRequest("bandlink", "fetch_html", "band.link", start, err)
	if err != nil {
		return "", fmt.Errorf("bandlink: %w", err)
	}
	return string(body), nil
}

// RodRenderer открывает страницу в headless-браузере, когда данные рисуются скриптами.
type RodRenderer struct {
	bin     string
	timeout time.Duration
}

// NewRodRenderer ищет браузер в системе. Без браузера возвращает ошибку.
func NewRodRenderer(bin string, timeout time.Duration) (*RodRenderer, error) {
	if bin == "" {
		path, exists := launcher.LookPath()
		if !exists {
			return nil, errors.New("bandlink: браузер для рендеринга не найден")
		}
		bin = path
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodRenderer{bin: bin, timeout: timeout}, nil
}

// FetchHTML реализует PageSource.
func (r *RodRenderer) FetchHTML(ctx context.Context, pageURL string) (html string, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("bandlink", "render_html", "band.link", start, err)
	}()

	controlURL, err := launcher.New().Bin(r.bin).Headless(true).Launch()
	if err != nil {
		return "", fmt.Errorf("bandlink: запуск браузера: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("bandlink: подключение к браузеру: %w", err)
	}
	defer browser.Close()

	pageCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pg, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("bandlink: открытие страницы: %w", err)
	}
	defer pg.Close()
	pg = pg.Context(pageCtx)

	if err := pg.WaitLoad(); err != nil {
		return "", fmt.Errorf("bandlink: ожидание загрузки: %w", err)
	}
	html, err = pg.HTML()
	if err != nil {
		return "", fmt.Errorf("bandlink: чтение страницы: %w", err)
	}
	return html, nil
}

// Scraper собирает ссылки со страницы BandLink.
type Scraper struct {
	fetcher  PageSource
	renderer PageSource
	log      zerolog.Logger
}

// NewScraper создаёт скрапер. renderer может быть nil.
func NewScraper(fetcher PageSource, renderer PageSource, log zerolog.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, renderer: renderer, log: log}
}

// Scrape возвращает найденные ссылки и метаданные.
// Если обычная загрузка дала меньше двух ссылок, страница рендерится в браузере.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (domain.Resolution, error) {
	content, err := s.fetcher.FetchHTML(ctx, pageURL)
	if err != nil {
		s.log.Warn().Err(err).Str("url", pageURL).Msg("bandlink: страница не загрузилась")
	}
	found, meta := Parse(content)
	if len(found) >= 2 || s.renderer == nil {
		if err != nil && len(found) == 0 {
			return domain.Resolution{}, err
		}
		return domain.Resolution{Links: found, Meta: meta}, nil
	}

	rendered, renderErr := s.renderer.FetchHTML(ctx, pageURL)
	if renderErr != nil {
		s.log.Warn().Err(renderErr).Str("url", pageURL).Msg("bandlink: рендеринг не удался")
		if err != nil && len(found) == 0 {
			return domain.Resolution{}, err
		}
		return domain.Resolution{Links: found, Meta: meta}, nil
	}
	renderedLinks, renderedMeta := Parse(rendered)
	if len(renderedLinks) > len(found) {
		found = renderedLinks
	}
	if meta.Empty() {
		meta = renderedMeta
	}
	s.log.Debug().Str("url", pageURL).Int("links", len(found)).Msg("bandlink: ссылки собраны")
	return domain.Resolution{Links: found, Meta: meta}, nil
}
