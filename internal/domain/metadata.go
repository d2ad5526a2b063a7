package domain

// MetadataSource содержит артиста, название и обложку с одной площадки.
type MetadataSource struct {
	Artist   string `json:"artist,omitempty"`
	Title    string `json:"title,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// Empty сообщает, что источник ничего не знает о релизе.
func (s MetadataSource) Empty() bool {
	return s.Artist == "" && s.Title == "" && s.CoverURL == ""
}

// MetadataBag содержит сводные метаданные релиза из нескольких площадок.
type MetadataBag struct {
	Artist    string                      `json:"artist,omitempty"`
	Title     string                      `json:"title,omitempty"`
	CoverURL  string                      `json:"cover_url,omitempty"`
	Origin    Platform                    `json:"origin,omitempty"`
	Preferred Platform                    `json:"preferred,omitempty"`
	Sources   map[Platform]MetadataSource `json:"sources,omitempty"`
	Conflict  bool                        `json:"conflict,omitempty"`
}

// Empty сообщает, что в мешке нет ни одного значения.
func (b MetadataBag) Empty() bool {
	return b.Artist == "" && b.Title == "" && b.CoverURL == "" && len(b.Sources) == 0
}

// Complete сообщает, известны ли артист и название.
func (b MetadataBag) Complete() bool {
	return b.Artist != "" && b.Title != ""
}

// Selected возвращает данные выбранного источника.
// Если предпочтительного нет, берётся первый по алфавиту, иначе сам мешок.
func (b MetadataBag) Selected() MetadataSource {
	if src, ok := b.Sources[b.Preferred]; ok && b.Preferred.Valid() {
		return src
	}
	for p := PlatformUnknown + 1; int(p) < len(platforms); p++ {
		if src, ok := b.Sources[p]; ok {
			return src
		}
	}
	return MetadataSource{Artist: b.Artist, Title: b.Title, CoverURL: b.CoverURL}
}

// SourcePlatforms возвращает площадки-источники в алфавитном порядке.
func (b MetadataBag) SourcePlatforms() []Platform {
	out := make([]Platform, 0, len(b.Sources))
	for p := PlatformUnknown + 1; int(p) < len(platforms); p++ {
		if _, ok := b.Sources[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Resolution содержит результат поиска ссылок по одной входной ссылке.
type Resolution struct {
	Links Links       `json:"links,omitempty"`
	Meta  MetadataBag `json:"meta"`
}

// Empty сообщает, что ничего не найдено.
func (r Resolution) Empty() bool {
	return len(r.Links) == 0 && r.Meta.Empty()
}
