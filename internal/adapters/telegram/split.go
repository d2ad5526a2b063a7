package telegram

import "strings"

const messageLimit = 4096

// SplitMessage режет текст на части не длиннее limit рун.
// Сначала ищется граница абзаца, затем строки, затем пробела.
// Разрез никогда не попадает внутрь HTML-тега или сущности вроде &amp;.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = messageLimit
	}

	var parts []string
	rest := []rune(text)
	for len(rest) > limit {
		cut := cutPoint(rest, limit)
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}
	if chunk := strings.TrimSpace(string(rest)); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

func cutPoint(runes []rune, limit int) int {
	window := runes[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := lastSafe(window, []rune(sep)); i > 0 {
			return i
		}
	}
	// длинная строка без пробелов: режем по лимиту, отступив от незакрытого тега
	switch open := unclosedMarkup(window); {
	case open > 0:
		return open
	case open == 0:
		// тег длиннее лимита целиком: режем сразу после него
		for i := limit; i < len(runes); i++ {
			if runes[i] == '>' || runes[i] == ';' {
				return i + 1
			}
		}
	}
	return limit
}

// lastSafe ищет последний разделитель вне тегов и сущностей и возвращает позицию после него.
func lastSafe(window, sep []rune) int {
	for i := len(window) - len(sep); i > 0; i-- {
		if string(window[i:i+len(sep)]) != string(sep) {
			continue
		}
		if unclosedMarkup(window[:i]) < 0 {
			return i + len(sep)
		}
	}
	return 0
}

// unclosedMarkup возвращает начало незакрытого тега или сущности в конце текста либо -1.
func unclosedMarkup(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '>', ';':
			return -1
		case '<', '&':
			return i
		}
	}
	return -1
}
