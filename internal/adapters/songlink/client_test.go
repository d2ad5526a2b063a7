package songlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartlink-bot/internal/domain"
)

const sampleResponse = `{
  "entityUniqueId": "SPOTIFY_SONG::abc",
  "linksByPlatform": {
    "spotify": {"url": "https://open.spotify.com/track/abc?utm_source=x", "entityUniqueId": "SPOTIFY_SONG::abc"},
    "appleMusic": {"url": "https://geo.music.apple.com/ru/album/x/1?i=2", "entityUniqueId": "ITUNES_SONG::2"},
    "yandex": {"url": "https://music.yandex.ru/album/1/track/2", "entityUniqueId": "YANDEX_SONG::2"},
    "amazonMusic": {"url": "https://music.amazon.com/albums/x", "entityUniqueId": "AMAZON_SONG::x"}
  },
  "entitiesByUniqueId": {
    "SPOTIFY_SONG::abc": {"id": "abc", "title": "Song", "artistName": "Artist A", "thumbnailUrl": "https://i.scdn.co/image/1", "apiProvider": "spotify"},
    "YANDEX_SONG::2": {"id": "2", "title": "Song", "artistName": "Artist a.", "thumbnailUrl": "https://avatars.yandex.net/1", "apiProvider": "yandex"},
    "ITUNES_SONG::2": {"id": "2", "title": "Song", "artistName": "Artist A", "thumbnailUrl": "https://is1-ssl.mzstatic.com/1", "apiProvider": "itunes"},
    "AMAZON_SONG::x": {"id": "x", "title": "Song", "artistName": "Artist A", "apiProvider": "amazon"}
  }
}`

func TestLookupParsesLinksAndMetadata(t *testing.T) {
	var gotURL, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	res, err := client.Lookup(context.Background(), "https://open.spotify.com/track/abc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotURL != "https://open.spotify.com/track/abc" {
		t.Fatalf("unexpected url param %q", gotURL)
	}
	if gotUA != UserAgent {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
	if res.Links[domain.PlatformSpotify] != "https://open.spotify.com/track/abc" {
		t.Fatalf("spotify link = %q", res.Links[domain.PlatformSpotify])
	}
	if res.Links[domain.PlatformApple] == "" || res.Links[domain.PlatformYandex] == "" {
		t.Fatalf("expected apple and yandex links, got %v", res.Links)
	}
	if len(res.Links) != 3 {
		t.Fatalf("unknown platforms must be skipped, got %v", res.Links)
	}
	if res.Meta.Preferred != domain.PlatformITunes {
		t.Fatalf("preferred = %v, want itunes by priority", res.Meta.Preferred)
	}
	if res.Meta.Conflict {
		t.Fatal("cosmetic difference must not be a conflict")
	}
	if _, ok := res.Meta.Sources[domain.PlatformYandex]; !ok {
		t.Fatalf("expected yandex source, got %v", res.Meta.Sources)
	}
}

func TestLookupNonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	if _, err := client.Lookup(context.Background(), "https://open.spotify.com/track/abc"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestParseResponseWithoutEntities(t *testing.T) {
	res := parseResponse(apiResponse{LinksByPlatform: map[string]apiLink{"spotify": {URL: "https://open.spotify.com/track/1"}}})
	if !res.Empty() {
		t.Fatalf("expected empty resolution, got %+v", res)
	}
}

func TestEntityPlatformFallsBackToProvider(t *testing.T) {
	p, ok := entityPlatform(apiEntity{ID: "12345", APIProvider: "spotify"})
	if !ok || p != domain.PlatformSpotify {
		t.Fatalf("got %v %v", p, ok)
	}
	if _, ok := entityPlatform(apiEntity{ID: "x", APIProvider: "tidal"}); ok {
		t.Fatal("tidal is not a known platform")
	}
}
