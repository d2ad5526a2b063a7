package card

import (
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
)

// ExportVariant задаёт формат текста для публикации.
type ExportVariant string

const (
	ExportTelegram  ExportVariant = "tg"
	ExportVK        ExportVariant = "vk"
	ExportUniversal ExportVariant = "universal"
	ExportLinks     ExportVariant = "links"
)

// ParseExportVariant проверяет формат из callback.
func ParseExportVariant(raw string) (ExportVariant, bool) {
	switch v := ExportVariant(raw); v {
	case ExportTelegram, ExportVK, ExportUniversal, ExportLinks:
		return v, true
	}
	return "", false
}

// подписи площадок для форматов tg, vk, universal, links
var exportLabels = map[domain.Platform][4]string{
	domain.PlatformYandex:       {"Яндекс Музыка", "Яндекс Музыка", "Yandex Music", "Yandex"},
	domain.PlatformVK:           {"VK Музыка", "VK Музыка", "VK Music", "VK"},
	domain.PlatformApple:        {"Apple Music", "Apple Music", "Apple Music", "Apple"},
	domain.PlatformSpotify:      {"Spotify", "Spotify", "Spotify", "Spotify"},
	domain.PlatformITunes:       {"iTunes", "iTunes", "iTunes", "iTunes"},
	domain.PlatformZvuk:         {"Звук", "Звук", "Zvuk", "Zvuk"},
	domain.PlatformYouTubeMusic: {"YouTube Music", "YouTube Music", "YouTube Music", "YouTube Music"},
	domain.PlatformYouTube:      {"YouTube", "YouTube", "YouTube", "YouTube"},
	domain.PlatformDeezer:       {"Deezer", "Deezer", "Deezer", "Deezer"},
	domain.PlatformKion:         {"MTS Music / КИОН", "MTS Music / КИОН", "MTS Music", "MTS Music"},
	domain.PlatformBandlink:     {"BandLink", "BandLink", "BandLink", "BandLink"},
}

func exportLabel(p domain.Platform, variant ExportVariant) string {
	idx := map[ExportVariant]int{ExportTelegram: 0, ExportVK: 1, ExportUniversal: 2, ExportLinks: 3}
	labels, ok := exportLabels[p]
	i, known := idx[variant]
	if !ok || !known {
		return p.Label()
	}
	return labels[i]
}

// CopyText возвращает «артист — название» и ссылки в порядке кнопок.
func CopyText(s domain.Smartlink) string {
	lines := []string{fmt.Sprintf("%s — %s", s.Artist, s.Title)}
	items := orderedLinks(s.Links)
	if len(items) > 0 {
		lines = append(lines, "")
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("%s: %s", item.platform.Label(), item.url))
		}
	}
	return strings.Join(lines, "\n")
}

// ExportText формирует текст публикации в выбранном формате.
func ExportText(s domain.Smartlink, variant ExportVariant) string {
	artist := orDefault(s.Artist, "Без артиста")
	title := orDefault(s.Title, "Без названия")
	head := fmt.Sprintf("%s — %s", artist, title)
	items := orderedLinks(s.Links)

	var lines []string
	switch variant {
	case ExportTelegram:
		lines = []string{head}
		if len(items) > 0 {
			lines = append(lines, "▶️ Слушать:")
			for _, item := range items {
				lines = append(lines, fmt.Sprintf("%s — %s", exportLabel(item.platform, variant), item.url))
			}
		}
	case ExportVK:
		lines = []string{head, "Новый релиз уже доступен 👇"}
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("%s: %s", exportLabel(item.platform, variant), item.url))
		}
	case ExportUniversal:
		lines = []string{head, "Release links:"}
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("- %s: %s", exportLabel(item.platform, variant), item.url))
		}
	case ExportLinks:
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("%s: %s", exportLabel(item.platform, variant), item.url))
		}
		if len(lines) == 0 {
			return "Ссылок пока нет"
		}
	}
	return strings.Join(lines, "\n")
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
