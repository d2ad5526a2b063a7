// Package spotify ищет релизы по UPC через Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

const (
	defaultTokenURL  = "https://accounts.spotify.com/api/token"
	defaultSearchURL = "https://api.spotify.com/v1/search"
	searchLimit      = 5
	// токен обновляется чуть раньше срока
	tokenLeeway = 30 * time.Second
)

var errUnauthorized = errors.New("spotify: токен отклонён")

// Config задаёт доступ к API. Пустые адреса означают боевые.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	SearchURL    string
	Timeout      time.Duration
	RPS          float64
}

// Client получает токен по client credentials и кэширует его до истечения.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient создаёт клиента. rps <= 0 отключает ограничение частоты.
func NewClient(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchItem struct {
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type searchResponse struct {
	Albums struct {
		Items []searchItem `json:"items"`
	} `json:"albums"`
	Tracks struct {
		Items []searchItem `json:"items"`
	} `json:"tracks"`
}

// SearchUPC возвращает альбомы и треки с этим UPC: сначала альбомы, без повторов ссылок.
func (c *Client) SearchUPC(ctx context.Context, upc string) ([]domain.UPCCandidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("spotify: ожидание лимита: %w", err)
	}
	payload, err := c.search(ctx, upc)
	if errors.Is(err, errUnauthorized) {
		c.resetToken()
		payload, err = c.search(ctx, upc)
	}
	if err != nil {
		return nil, err
	}

	var out []domain.UPCCandidate
	seen := map[string]bool{}
	for _, items := range [][]searchItem{payload.Albums.Items, payload.Tracks.Items} {
		for _, item := range items {
			link := strings.TrimSpace(item.ExternalURLs.Spotify)
			if link == "" || seen[link] {
				continue
			}
			seen[link] = true
			names := make([]string, 0, len(item.Artists))
			for _, a := range item.Artists {
				if a.Name != "" {
					names = append(names, a.Name)
				}
			}
			out = append(out, domain.UPCCandidate{
				Artist:     strings.Join(names, ", "),
				Title:      item.Name,
				SpotifyURL: link,
			})
		}
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, upc string) (searchResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return searchResponse{}, err
	}
	q := url.Values{}
	q.Set("q", "upc:"+upc)
	q.Set("type", "album,track")
	q.Set("limit", strconv.Itoa(searchLimit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SearchURL+"?"+q.Encode(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("spotify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var payload searchResponse
	err = c.do(req, "search", &payload)
	return payload, err
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("spotify: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload tokenResponse
	if err := c.do(req, "token", &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("spotify: пустой токен")
	}
	expiresIn := time.Duration(payload.ExpiresIn) * time.Second
	if payload.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}
	c.token = payload.AccessToken
	c.expiresAt = c.now().Add(max(expiresIn-tokenLeeway, 0))
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("spotify", op, "api", start, err)
		return fmt.Errorf("spotify: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case err != nil:
	case resp.StatusCode == http.StatusUnauthorized && op == "search":
		err = errUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		err = fmt.Errorf("spotify: %s: unexpected status %d", op, resp.StatusCode)
	default:
		err = json.Unmarshal(body, out)
	}
	metrics.ObserveNetworkRequest("spotify", op, "api", start, err)
	return err
}
