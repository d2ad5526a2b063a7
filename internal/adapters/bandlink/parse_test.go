package bandlink

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
)

const nextDataPage = `<html><head>
<meta property="og:title" content="Ignored - Ignored">
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"release":{
  "artistName":"Artist A","title":"Song","coverUrl":"https://cdn.band.link/c.jpg",
  "services":[
    {"service":"spotify","url":"https://open.spotify.com/track/1?utm_source=bl"},
    {"service":"yandex","href":"https://music.yandex.ru/album/1/track/2"},
    {"type":"button","platform":"vk","action":{"url":"https://vk.com/music/album/-2_1"}},
    {"name":"Spotify","url":"https://band.link/other"}
  ]}}}}</script>
</head><body></body></html>`

func TestParseNextData(t *testing.T) {
	found, meta := Parse(nextDataPage)
	want := domain.Links{
		domain.PlatformSpotify: "https://open.spotify.com/track/1",
		domain.PlatformYandex:  "https://music.yandex.ru/album/1/track/2",
		domain.PlatformVK:      "https://vk.com/music/album/-2_1",
	}
	if len(found) != len(want) {
		t.Fatalf("ожидали %d ссылки, получили %v", len(want), found)
	}
	for p, u := range want {
		if found[p] != u {
			t.Fatalf("%s: got %q want %q", p, found[p], u)
		}
	}
	if meta.Artist != "Artist A" || meta.Title != "Song" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if meta.CoverURL != "https://cdn.band.link/c.jpg" {
		t.Fatalf("cover = %q", meta.CoverURL)
	}
	if meta.Origin != domain.PlatformBandlink || meta.Preferred != domain.PlatformBandlink {
		t.Fatalf("origin/preferred = %v/%v", meta.Origin, meta.Preferred)
	}
}

func TestParseAnchorsFallback(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Artist B - Track B">
<meta property="og:image" content="https://img/1.jpg"></head><body>
<a href="https://open.spotify.com/track/9" data-service="spotify">Spotify</a>
<a class="btn zvuk" href="https://zvuk.com/track/5">Звук</a>
<a href="https://example.com/about">About</a>
<a href="https://band.link/x">self</a>
</body></html>`
	found, meta := Parse(page)
	if len(found) != 2 {
		t.Fatalf("ожидали 2 ссылки, получили %v", found)
	}
	if found[domain.PlatformZvuk] != "https://zvuk.com/track/5" {
		t.Fatalf("zvuk = %q", found[domain.PlatformZvuk])
	}
	if meta.Artist != "Artist B" || meta.Title != "Track B" || meta.CoverURL != "https://img/1.jpg" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestParsePlatformNameIsNotTitle(t *testing.T) {
	page := `<script type="application/ld+json">{"links":[{"title":"Yandex Music","name":"yandex","url":"https://music.yandex.ru/album/7"}]}</script>`
	found, meta := Parse(page)
	if found[domain.PlatformYandex] != "https://music.yandex.ru/album/7" {
		t.Fatalf("expected yandex link, got %v", found)
	}
	if meta.Title != "" {
		t.Fatalf("название площадки не должно стать названием релиза: %q", meta.Title)
	}
}

func TestParseEmpty(t *testing.T) {
	found, meta := Parse("   ")
	if len(found) != 0 || !meta.Empty() {
		t.Fatalf("expected nothing, got %v %+v", found, meta)
	}
}

type stubSource struct {
	html string
	err  error
	hits int
}

func (s *stubSource) FetchHTML(context.Context, string) (string, error) {
	s.hits++
	return s.html, s.err
}

func TestScrapeRendersWhenFewLinks(t *testing.T) {
	fetcher := &stubSource{html: `<a href="https://open.spotify.com/track/1">s</a>`}
	renderer := &stubSource{html: nextDataPage}
	s := NewScraper(fetcher, renderer, zerolog.Nop())

	res, err := s.Scrape(context.Background(), "https://band.link/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if renderer.hits != 1 {
		t.Fatalf("renderer hits = %d", renderer.hits)
	}
	if len(res.Links) != 3 {
		t.Fatalf("expected rendered links, got %v", res.Links)
	}
}

func TestScrapeSkipsRenderWhenEnoughLinks(t *testing.T) {
	fetcher := &stubSource{html: nextDataPage}
	renderer := &stubSource{}
	s := NewScraper(fetcher, renderer, zerolog.Nop())

	if _, err := s.Scrape(context.Background(), "https://band.link/x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if renderer.hits != 0 {
		t.Fatal("renderer must not run when the page already has links")
	}
}

func TestScrapeFetchErrorWithoutRenderer(t *testing.T) {
	fetcher := &stubSource{err: errors.New("boom")}
	s := NewScraper(fetcher, nil, zerolog.Nop())
	if _, err := s.Scrape(context.Background(), "https://band.link/x"); err == nil {
		t.Fatal("expected error when nothing was fetched")
	}
}
