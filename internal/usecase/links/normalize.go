package links

import (
	"net/url"
	"strings"

	"smartlink-bot/internal/domain"
)

type queryPair struct {
	key   string
	value string
}

// Normalize приводит ссылку к каноничному виду и определяет площадку.
// Подсказка hint (id сервиса, класс кнопки) важнее правил по хосту, если называет известную площадку.
// Ссылка, которую не удалось отнести ни к одной площадке, отклоняется: ok=false.
func Normalize(raw, hint string) (string, domain.Platform, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", domain.PlatformUnknown, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", domain.PlatformUnknown, false
	}
	if u.Host == "" || u.Opaque != "" {
		return "", domain.PlatformUnknown, false
	}

	pairs := parseQuery(u.RawQuery)
	kept := make([]queryPair, 0, len(pairs))
	for _, p := range pairs {
		if strings.HasPrefix(strings.ToLower(p.key), "utm_") {
			continue
		}
		kept = append(kept, p)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	platform, ok := domain.ParsePlatform(hint)
	if !ok {
		platform = classify(host, u.Path, pairs)
	}
	if platform == domain.PlatformUnknown {
		return "", domain.PlatformUnknown, false
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: encodeQuery(kept),
	}
	return out.String(), platform, true
}

// Detect возвращает площадку ссылки без подсказки.
func Detect(raw string) domain.Platform {
	_, p, _ := Normalize(raw, "")
	return p
}

// classify относит хост и путь к площадке по фиксированным правилам.
func classify(host, path string, query []queryPair) domain.Platform {
	if i := strings.LastIndexByte(host, ':'); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	if path == "" {
		path = "/"
	}
	hasPrefix := func(prefixes ...string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	switch {
	case strings.Contains(host, "band.link"):
		return domain.PlatformBandlink
	case strings.HasPrefix(host, "music.yandex.") && (strings.Contains(path, "/track/") || strings.Contains(path, "/album/")):
		if strings.EqualFold(queryValue(query, "utm_source"), "bandlink") {
			return domain.PlatformBandlink
		}
		return domain.PlatformYandex
	case host == "open.spotify.com":
		return domain.PlatformSpotify
	case host == "music.apple.com":
		return domain.PlatformApple
	case host == "itunes.apple.com":
		return domain.PlatformITunes
	case host == "music.vk.com" || host == "music.vk.ru":
		return domain.PlatformVK
	case host == "vk.com" && hasPrefix("/music", "/link/") && !hasPrefix("/away", "/share", "/login", "/terms"):
		return domain.PlatformVK
	case host == "deezer.com" && hasPrefix("/track/", "/album/", "/playlist/", "/artist/"):
		return domain.PlatformDeezer
	case host == "youtube.com" || host == "m.youtube.com":
		if (hasPrefix("/watch") && queryValue(query, "v") != "") || hasPrefix("/shorts/") {
			return domain.PlatformYouTube
		}
	case host == "youtu.be" && strings.Trim(path, "/") != "":
		return domain.PlatformYouTube
	case host == "music.youtube.com":
		if (hasPrefix("/watch") && queryValue(query, "v") != "") || hasPrefix("/browse/MPRE") {
			return domain.PlatformYouTubeMusic
		}
	case host == "zvuk.com" && hasPrefix("/album/", "/artist/", "/track/", "/playlist/", "/release/"):
		return domain.PlatformZvuk
	case strings.HasPrefix(host, "kion.") || strings.HasPrefix(host, "music.kion."):
		return domain.PlatformKion
	}
	return domain.PlatformUnknown
}

func parseQuery(raw string) []queryPair {
	if raw == "" {
		return nil
	}
	var out []queryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		out = append(out, queryPair{key: key, value: value})
	}
	return out
}

func encodeQuery(pairs []queryPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func queryValue(pairs []queryPair, key string) string {
	value := ""
	for _, p := range pairs {
		if p.key == key {
			value = p.value
		}
	}
	return value
}
