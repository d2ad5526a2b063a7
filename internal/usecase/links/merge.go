package links

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"smartlink-bot/internal/domain"
)

var (
	spacesRe    = regexp.MustCompile(`\s+`)
	releaseWord = regexp.MustCompile(`ep|album|single`)
	nonWordRe   = regexp.MustCompile(`[^a-z0-9а-яё]+`)
)

// NormalizeMetaValue приводит артиста или название к виду для сравнения:
// нижний регистр, без слов ep/album/single, только латиница, кириллица и цифры.
func NormalizeMetaValue(value string) string {
	cleaned := strings.TrimSpace(strings.ToLower(value))
	cleaned = spacesRe.ReplaceAllString(cleaned, " ")
	cleaned = dropReleaseWords(cleaned)
	return nonWordRe.ReplaceAllString(cleaned, "")
}

// dropReleaseWords вырезает ep/album/single, стоящие отдельным словом.
func dropReleaseWords(s string) string {
	matches := releaseWord.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		if !wordBoundary(s, m[0], true) || !wordBoundary(s, m[1], false) {
			continue
		}
		b.WriteString(s[last:m[0]])
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func wordBoundary(s string, idx int, before bool) bool {
	var neighbour rune
	if before {
		if idx == 0 {
			return true
		}
		neighbour, _ = utf8.DecodeLastRuneInString(s[:idx])
	} else {
		if idx >= len(s) {
			return true
		}
		neighbour, _ = utf8.DecodeRuneInString(s[idx:])
	}
	return !(unicode.IsLetter(neighbour) || unicode.IsDigit(neighbour) || neighbour == '_')
}

// FilterHumanSources оставляет только площадки, чьим метаданным можно доверять.
func FilterHumanSources(sources map[domain.Platform]domain.MetadataSource) map[domain.Platform]domain.MetadataSource {
	out := make(map[domain.Platform]domain.MetadataSource, len(sources))
	for p, src := range sources {
		if !p.IsHumanMetadata() {
			continue
		}
		if _, ok := out[p]; ok {
			continue
		}
		out[p] = src
	}
	return out
}

// HasConflict сообщает, что площадки расходятся в артисте или названии.
func HasConflict(sources map[domain.Platform]domain.MetadataSource) bool {
	artists := make(map[string]struct{})
	titles := make(map[string]struct{})
	for _, src := range sources {
		if v := NormalizeMetaValue(src.Artist); v != "" {
			artists[v] = struct{}{}
		}
		if v := NormalizeMetaValue(src.Title); v != "" {
			titles[v] = struct{}{}
		}
	}
	return len(artists) > 1 || len(titles) > 1
}

// Merge сливает новые метаданные в уже известные.
// Значения нового мешка важнее, затем данные предпочтительного источника, затем старые значения.
func Merge(existing, incoming domain.MetadataBag) domain.MetadataBag {
	if incoming.Empty() && incoming.Preferred == domain.PlatformUnknown {
		return cloneBag(existing)
	}

	union := make(map[domain.Platform]domain.MetadataSource, len(existing.Sources)+len(incoming.Sources))
	for p, src := range existing.Sources {
		union[p] = src
	}
	for p, src := range incoming.Sources {
		union[p] = src
	}
	sources := FilterHumanSources(union)

	preferred := incoming.Preferred
	if preferred == domain.PlatformUnknown {
		preferred = existing.Preferred
	}
	if _, ok := sources[preferred]; !ok {
		preferred = domain.PlatformUnknown
		if ordered := (domain.MetadataBag{Sources: sources}).SourcePlatforms(); len(ordered) > 0 {
			preferred = ordered[0]
		}
	}

	chosen := sources[preferred]
	origin := incoming.Origin
	if origin == domain.PlatformUnknown {
		origin = existing.Origin
	}

	return domain.MetadataBag{
		Artist:    firstNonEmpty(incoming.Artist, chosen.Artist, existing.Artist),
		Title:     firstNonEmpty(incoming.Title, chosen.Title, existing.Title),
		CoverURL:  firstNonEmpty(incoming.CoverURL, chosen.CoverURL, existing.CoverURL),
		Origin:    origin,
		Preferred: preferred,
		Sources:   sources,
		Conflict:  HasConflict(sources),
	}
}

// MergeLinks добавляет новые ссылки, не перезаписывая известные.
// Возвращает площадки, которые действительно добавились.
func MergeLinks(dst, src domain.Links) (domain.Links, []domain.Platform) {
	out := dst.Clone()
	var added []domain.Platform
	for _, p := range src.Sorted() {
		u := src[p]
		if u == "" {
			continue
		}
		if _, ok := out[p]; ok {
			continue
		}
		out[p] = u
		added = append(added, p)
	}
	return out, added
}

func cloneBag(b domain.MetadataBag) domain.MetadataBag {
	out := b
	if b.Sources != nil {
		out.Sources = make(map[domain.Platform]domain.MetadataSource, len(b.Sources))
		for p, src := range b.Sources {
			out.Sources[p] = src
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
