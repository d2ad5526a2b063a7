package links

import (
	"testing"

	"smartlink-bot/internal/domain"
)

func TestNormalizeClassifies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		hint string
		want domain.Platform
		url  string
	}{
		{name: "spotify", raw: "https://open.spotify.com/track/abc?si=1&utm_source=copy", want: domain.PlatformSpotify, url: "https://open.spotify.com/track/abc?si=1"},
		{name: "yandex strips www", raw: "https://WWW.music.yandex.ru/album/1/track/2", want: domain.PlatformYandex, url: "https://music.yandex.ru/album/1/track/2"},
		{name: "yandex via bandlink", raw: "https://music.yandex.ru/album/1/track/2?utm_source=BandLink", want: domain.PlatformBandlink, url: "https://music.yandex.ru/album/1/track/2"},
		{name: "bandlink", raw: "https://band.link/xyz#top", want: domain.PlatformBandlink, url: "https://band.link/xyz"},
		{name: "apple", raw: "https://music.apple.com/ru/album/x/1", want: domain.PlatformApple, url: "https://music.apple.com/ru/album/x/1"},
		{name: "itunes", raw: "https://itunes.apple.com/ru/album/x/1", want: domain.PlatformITunes, url: "https://itunes.apple.com/ru/album/x/1"},
		{name: "vk music", raw: "https://vk.com/music/album/-2000_1", want: domain.PlatformVK, url: "https://vk.com/music/album/-2000_1"},
		{name: "vk link", raw: "https://vk.com/link/abc", want: domain.PlatformVK, url: "https://vk.com/link/abc"},
		{name: "music.vk.ru", raw: "https://music.vk.ru/x", want: domain.PlatformVK, url: "https://music.vk.ru/x"},
		{name: "deezer", raw: "https://www.deezer.com/track/1", want: domain.PlatformDeezer, url: "https://deezer.com/track/1"},
		{name: "youtube watch", raw: "https://youtube.com/watch?v=abc&utm_medium=x", want: domain.PlatformYouTube, url: "https://youtube.com/watch?v=abc"},
		{name: "youtube shorts", raw: "https://m.youtube.com/shorts/abc", want: domain.PlatformYouTube, url: "https://m.youtube.com/shorts/abc"},
		{name: "youtu.be", raw: "https://youtu.be/abc", want: domain.PlatformYouTube, url: "https://youtu.be/abc"},
		{name: "youtube music", raw: "https://music.youtube.com/browse/MPREb_x", want: domain.PlatformYouTubeMusic, url: "https://music.youtube.com/browse/MPREb_x"},
		{name: "zvuk", raw: "https://zvuk.com/release/1", want: domain.PlatformZvuk, url: "https://zvuk.com/release/1"},
		{name: "kion", raw: "https://music.kion.ru/album/1", want: domain.PlatformKion, url: "https://music.kion.ru/album/1"},
		{name: "hint wins", raw: "https://band.link/go/abc?service=spotify", hint: "Spotify", want: domain.PlatformSpotify, url: "https://band.link/go/abc?service=spotify"},
		{name: "unknown hint ignored", raw: "https://open.spotify.com/track/1", hint: "button-primary", want: domain.PlatformSpotify, url: "https://open.spotify.com/track/1"},
		{name: "blank value kept", raw: "https://open.spotify.com/track/1?a=&b=2", want: domain.PlatformSpotify, url: "https://open.spotify.com/track/1?a=&b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, platform, ok := Normalize(tt.raw, tt.hint)
			if !ok {
				t.Fatalf("Normalize(%q) rejected", tt.raw)
			}
			if platform != tt.want {
				t.Fatalf("platform = %v, want %v", platform, tt.want)
			}
			if got != tt.url {
				t.Fatalf("url = %q, want %q", got, tt.url)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []string{
		"",
		"ftp://open.spotify.com/track/1",
		"open.spotify.com/track/1",
		"https://example.com/track/1",
		"https://vk.com/away.php?to=x",
		"https://vk.com/feed",
		"https://youtube.com/watch",
		"https://youtu.be/",
		"https://deezer.com/profile/1",
		"https://music.yandex.ru/users/x",
		"https:opaque",
	}
	for _, raw := range cases {
		if u, p, ok := Normalize(raw, ""); ok || u != "" || p != domain.PlatformUnknown {
			t.Fatalf("ожидали отказ для %q, получили %q %v", raw, u, p)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://open.spotify.com/track/abc?si=1&utm_source=copy&x=a%20b",
		"https://music.yandex.ru/album/1/track/2?utm_campaign=x",
		"https://youtube.com/watch?v=abc&list=PL%2F1",
		"https://zvuk.com/release/%D1%82%D0%B5%D1%81%D1%82",
	}
	for _, raw := range inputs {
		first, p1, ok := Normalize(raw, "")
		if !ok {
			t.Fatalf("Normalize(%q) rejected", raw)
		}
		second, p2, ok := Normalize(first, "")
		if !ok || second != first || p1 != p2 {
			t.Fatalf("not idempotent: %q -> %q -> %q", raw, first, second)
		}
	}
}

func TestNormalizeStripsTracking(t *testing.T) {
	got, _, _ := Normalize("https://open.spotify.com/track/1?UTM_Source=a&utm_medium=b&si=2", "")
	if got != "https://open.spotify.com/track/1?si=2" {
		t.Fatalf("tracking params left: %q", got)
	}
}

func TestDetect(t *testing.T) {
	if Detect("https://band.link/abc") != domain.PlatformBandlink {
		t.Fatal("expected bandlink")
	}
	if Detect("https://example.org") != domain.PlatformUnknown {
		t.Fatal("expected unknown")
	}
}
