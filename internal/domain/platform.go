package domain

import (
	"fmt"
	"strings"
)

// Platform описывает закрытый список музыкальных площадок.
type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformApple
	PlatformBandlink
	PlatformDeezer
	PlatformITunes
	PlatformKion
	PlatformSpotify
	PlatformVK
	PlatformYandex
	PlatformYouTube
	PlatformYouTubeMusic
	PlatformZvuk
)

type platformInfo struct {
	tag   string
	label string
}

// порядок констант совпадает с алфавитным порядком тегов
var platforms = [...]platformInfo{
	PlatformUnknown:      {tag: "", label: ""},
	PlatformApple:        {tag: "apple", label: "Apple Music"},
	PlatformBandlink:     {tag: "bandlink", label: "BandLink"},
	PlatformDeezer:       {tag: "deezer", label: "Deezer"},
	PlatformITunes:       {tag: "itunes", label: "iTunes"},
	PlatformKion:         {tag: "kion", label: "MTS Music / КИОН"},
	PlatformSpotify:      {tag: "spotify", label: "Spotify"},
	PlatformVK:           {tag: "vk", label: "VK Музыка"},
	PlatformYandex:       {tag: "yandex", label: "Яндекс Музыка"},
	PlatformYouTube:      {tag: "youtube", label: "YouTube"},
	PlatformYouTubeMusic: {tag: "youtubemusic", label: "YouTube Music"},
	PlatformZvuk:         {tag: "zvuk", label: "Звук"},
}

var platformAliases = map[string]Platform{
	"apple":         PlatformApple,
	"applemusic":    PlatformApple,
	"applemusicapp": PlatformApple,
	"bandlink":      PlatformBandlink,
	"deezer":        PlatformDeezer,
	"itunes":        PlatformITunes,
	"kion":          PlatformKion,
	"mts":           PlatformKion,
	"mtsmusic":      PlatformKion,
	"spotify":       PlatformSpotify,
	"vk":            PlatformVK,
	"vkmusic":       PlatformVK,
	"yandex":        PlatformYandex,
	"yandexmusic":   PlatformYandex,
	"youtube":       PlatformYouTube,
	"youtubemusic":  PlatformYouTubeMusic,
	"ytmusic":       PlatformYouTubeMusic,
	"zvuk":          PlatformZvuk,
}

// формовые шаги ссылок идут в этом порядке
var formPlatforms = []Platform{
	PlatformYandex,
	PlatformVK,
	PlatformApple,
	PlatformSpotify,
	PlatformITunes,
	PlatformZvuk,
	PlatformYouTubeMusic,
	PlatformYouTube,
	PlatformDeezer,
}

// String возвращает машинный тег площадки.
func (p Platform) String() string {
	if int(p) >= len(platforms) {
		return ""
	}
	return platforms[p].tag
}

// Label возвращает человекочитаемое название.
func (p Platform) Label() string {
	if int(p) >= len(platforms) {
		return ""
	}
	return platforms[p].label
}

// Valid сообщает, что значение входит в список площадок.
func (p Platform) Valid() bool {
	return p != PlatformUnknown && int(p) < len(platforms)
}

// IsKey отмечает площадки, по которым оценивается полнота импорта.
func (p Platform) IsKey() bool {
	switch p {
	case PlatformYandex, PlatformVK, PlatformApple, PlatformSpotify:
		return true
	}
	return false
}

// IsHumanMetadata отмечает площадки, чьим артисту и названию можно доверять.
func (p Platform) IsHumanMetadata() bool {
	return p.IsKey()
}

// MarshalText реализует encoding.TextMarshaler.
func (p Platform) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("неизвестная площадка %d", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (p *Platform) UnmarshalText(text []byte) error {
	parsed, ok := ParsePlatform(string(text))
	if !ok {
		return fmt.Errorf("неизвестная площадка %q", string(text))
	}
	*p = parsed
	return nil
}

// ParsePlatform приводит произвольный ключ (id сервиса, класс кнопки, тег) к площадке.
// Из ключа остаются только латинские буквы, регистр игнорируется.
func ParsePlatform(raw string) (Platform, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	p, ok := platformAliases[b.String()]
	return p, ok
}

// FormPlatforms возвращает площадки, которые спрашиваются при ручном создании.
func FormPlatforms() []Platform {
	out := make([]Platform, len(formPlatforms))
	copy(out, formPlatforms)
	return out
}

// ButtonOrder возвращает порядок кнопок площадок на карточке.
func ButtonOrder() []Platform {
	return append(FormPlatforms(), PlatformKion)
}

// Links хранит ссылки смартлинка по площадкам.
type Links map[Platform]string

// Clone возвращает копию без пустых значений.
func (l Links) Clone() Links {
	out := make(Links, len(l))
	for p, u := range l {
		if strings.TrimSpace(u) == "" {
			continue
		}
		out[p] = u
	}
	return out
}

// KeyCount считает ссылки на ключевые площадки.
func (l Links) KeyCount() int {
	n := 0
	for p, u := range l {
		if p.IsKey() && u != "" {
			n++
		}
	}
	return n
}

// Sorted возвращает площадки в алфавитном порядке тегов.
func (l Links) Sorted() []Platform {
	out := make([]Platform, 0, len(l))
	for p := PlatformUnknown + 1; int(p) < len(platforms); p++ {
		if _, ok := l[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
