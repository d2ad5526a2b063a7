package songlink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/links"
)

const defaultBaseURL = "https://api.song.link/v1-alpha.1/links"

// UserAgent подставляется как заголовок браузера: без него агрегатор и витрины часто отвечают 403.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// порядок выбора предпочтительного источника метаданных
var priority = []domain.Platform{
	domain.PlatformApple,
	domain.PlatformITunes,
	domain.PlatformSpotify,
	domain.PlatformYandex,
	domain.PlatformVK,
	domain.PlatformZvuk,
	domain.PlatformYouTube,
	domain.PlatformDeezer,
	domain.PlatformKion,
	domain.PlatformYouTubeMusic,
}

// Client обращается к API агрегатора ссылок.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewClient создаёт клиента агрегатора. rps <= 0 отключает ограничение частоты.
func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: limiter,
	}
}

type apiLink struct {
	URL            string `json:"url"`
	EntityUniqueID string `json:"entityUniqueId"`
}

type apiEntity struct {
	ID                string             `json:"id"`
	UniqueID          string             `json:"uniqueId"`
	Title             string             `json:"title"`
	ArtistName        string             `json:"artistName"`
	ArtistNamePrimary string             `json:"artistNamePrimary"`
	ThumbnailURL      string             `json:"thumbnailUrl"`
	ThumbnailURLLarge string             `json:"thumbnailUrlLarge"`
	APIProvider       string             `json:"apiProvider"`
	Platform          string             `json:"platform"`
	LinksByPlatform   map[string]apiLink `json:"linksByPlatform"`
}

type apiResponse struct {
	EntityUniqueID     string               `json:"entityUniqueId"`
	LinksByPlatform    map[string]apiLink   `json:"linksByPlatform"`
	EntitiesByUniqueID map[string]apiEntity `json:"entitiesByUniqueId"`
}

// Lookup запрашивает ссылки на релиз по одной ссылке.
// Возвращает пустой результат, если агрегатор ничего не знает о релизе.
func (c *Client) Lookup(ctx context.Context, rawURL string) (domain.Resolution, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Resolution{}, fmt.Errorf("songlink: ожидание лимита: %w", err)
	}
	endpoint := c.baseURL + "?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("songlink: build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("songlink", "links", "api", start, err)
		return domain.Resolution{}, fmt.Errorf("songlink: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err == nil && resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("songlink: unexpected status %d", resp.StatusCode)
	}
	if err != nil {
		metrics.ObserveNetworkRequest("songlink", "links", "api", start, err)
		return domain.Resolution{}, err
	}
	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.ObserveNetworkRequest("songlink", "links", "api", start, err)
		return domain.Resolution{}, fmt.Errorf("songlink: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("songlink", "links", "api", start, nil)
	return parseResponse(payload), nil
}

func parseResponse(payload apiResponse) domain.Resolution {
	if len(payload.EntitiesByUniqueID) == 0 {
		return domain.Resolution{}
	}
	found := make(domain.Links)
	collectLinks(payload.LinksByPlatform, found)

	candidates := make([]apiEntity, 0, len(payload.EntitiesByUniqueID))
	withKey := func(key string, e apiEntity) apiEntity {
		if e.UniqueID == "" {
			e.UniqueID = key
		}
		return e
	}
	if primary, ok := payload.EntitiesByUniqueID[payload.EntityUniqueID]; ok {
		candidates = append(candidates, withKey(payload.EntityUniqueID, primary))
	}
	ids := make([]string, 0, len(payload.EntitiesByUniqueID))
	for id := range payload.EntitiesByUniqueID {
		if id != payload.EntityUniqueID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		candidates = append(candidates, withKey(id, payload.EntitiesByUniqueID[id]))
	}

	sources := make(map[domain.Platform]domain.MetadataSource)
	for _, entity := range candidates {
		collectLinks(entity.LinksByPlatform, found)
		platform, ok := entityPlatform(entity)
		if !ok {
			continue
		}
		if _, seen := sources[platform]; seen {
			continue
		}
		sources[platform] = domain.MetadataSource{
			Artist:   firstNonEmpty(entity.ArtistName, entity.ArtistNamePrimary),
			Title:    entity.Title,
			CoverURL: firstNonEmpty(entity.ThumbnailURL, entity.ThumbnailURLLarge),
		}
	}

	res := domain.Resolution{Links: found}
	if len(sources) == 0 {
		return res
	}
	preferred := domain.PlatformUnknown
	for _, p := range priority {
		if _, ok := sources[p]; ok {
			preferred = p
			break
		}
	}
	if preferred == domain.PlatformUnknown {
		preferred = (domain.MetadataBag{Sources: sources}).SourcePlatforms()[0]
	}
	chosen := sources[preferred]
	res.Meta = domain.MetadataBag{
		Artist:    chosen.Artist,
		Title:     chosen.Title,
		CoverURL:  chosen.CoverURL,
		Origin:    preferred,
		Preferred: preferred,
		Sources:   sources,
		Conflict:  links.HasConflict(sources),
	}
	return res
}

func collectLinks(byPlatform map[string]apiLink, acc domain.Links) {
	keys := make([]string, 0, len(byPlatform))
	for key := range byPlatform {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		info := byPlatform[key]
		platform, ok := domain.ParsePlatform(key)
		if !ok {
			continue
		}
		if _, exists := acc[platform]; exists {
			continue
		}
		normalized, _, ok := links.Normalize(info.URL, platform.String())
		if !ok {
			continue
		}
		acc[platform] = normalized
	}
}

// entityPlatform берёт площадку из префикса уникального id вида SPOTIFY_SONG::xyz,
// затем из apiProvider и platform.
func entityPlatform(entity apiEntity) (domain.Platform, bool) {
	id := firstNonEmpty(entity.UniqueID, entity.ID)
	if id != "" {
		prefix, _, _ := strings.Cut(id, ":")
		head, _, _ := strings.Cut(prefix, "_")
		if p, ok := domain.ParsePlatform(head); ok {
			return p, true
		}
		if p, ok := domain.ParsePlatform(prefix); ok {
			return p, true
		}
	}
	for _, candidate := range []string{entity.APIProvider, entity.Platform} {
		if p, ok := domain.ParsePlatform(candidate); ok {
			return p, true
		}
	}
	return domain.PlatformUnknown, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
