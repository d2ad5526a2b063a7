// Package card собирает карточку смартлинка, тексты для копирования и клавиатуры меню.
package card

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"smartlink-bot/internal/domain"
)

// Attribution выводится под карточкой, пока брендинг не отключён.
const Attribution = `Сделано с помощью <a href="https://t.me/iskramusic_bot">ИСКРЫ</a>`

// NoPage означает, что карточка открыта не из списка.
const NoPage = -1

// captionPolicy оставляет в описании только разметку, которую понимает Telegram.
var captionPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg")
	p.RequireParseableURLs(true)
	return p
}()

// Options управляют видом карточки.
type Options struct {
	ReleaseToday bool
	Subscribed   bool
	CanRemind    bool
	Page         int
}

// SanitizeCaption чистит пользовательское описание от неподдерживаемой разметки.
func SanitizeCaption(raw string) string {
	return strings.TrimSpace(captionPolicy.Sanitize(raw))
}

// Caption строит подпись карточки в HTML.
func Caption(s domain.Smartlink, today time.Time, releaseToday bool) string {
	presave := s.PreSaveActive(today)
	lines := []string{fmt.Sprintf("%s — %s", html.EscapeString(s.Artist), html.EscapeString(s.Title))}
	if releaseToday {
		lines = append(lines, "🎉 Сегодня релиз!")
	}
	if s.ReleaseDate != nil {
		lines = append(lines, "📅 Релиз: "+domain.FormatDate(*s.ReleaseDate))
	}
	if presave && !releaseToday {
		lines = append(lines, "⏳ Скоро выйдет")
	}
	if caption := SanitizeCaption(s.Caption); caption != "" {
		lines = append(lines, caption)
	}
	if !s.BrandingDisabled {
		lines = append(lines, "", Attribution)
	}
	if !presave && len(orderedLinks(s.Links)) > 0 {
		if lines[len(lines)-1] != "" {
			lines = append(lines, "")
		}
		lines = append(lines, "▶️ Слушать:")
	}
	return strings.Join(lines, "\n")
}

// Keyboard строит кнопки карточки: площадки, напоминание, копирование и экспорт.
// Кнопки площадок скрыты, пока активен пресейв.
func Keyboard(s domain.Smartlink, today time.Time, opts Options) domain.Keyboard {
	var rows domain.Keyboard
	if !s.PreSaveActive(today) {
		for _, item := range orderedLinks(s.Links) {
			rows = append(rows, domain.Row(domain.URLButton(item.platform.Label(), item.url)))
		}
	}
	if opts.CanRemind {
		text := "🔔 Напомнить о релизе"
		if opts.Subscribed {
			text = "🔕 Не напоминать"
		}
		rows = append(rows, domain.Row(domain.DataButton(text, fmt.Sprintf("smartrem:%d:toggle", s.ID))))
	}
	rows = append(rows,
		domain.Row(domain.DataButton("📋 Скопировать ссылки", fmt.Sprintf("smartlinks:copy:%d", s.ID))),
		domain.Row(domain.DataButton("📤 Экспорт", fmt.Sprintf("smartlinks:export:%d:%d", s.ID, opts.Page))),
	)
	return rows
}

// Render собирает готовое сообщение с карточкой.
func Render(s domain.Smartlink, today time.Time, opts Options) domain.Reply {
	return domain.Reply{
		Text:        Caption(s, today, opts.ReleaseToday),
		HTML:        true,
		PhotoFileID: s.CoverFileID,
		Keyboard:    Keyboard(s, today, opts),
	}
}

type linkItem struct {
	platform domain.Platform
	url      string
}

func orderedLinks(links domain.Links) []linkItem {
	var out []linkItem
	for _, p := range domain.ButtonOrder() {
		if u := strings.TrimSpace(links[p]); u != "" {
			out = append(out, linkItem{platform: p, url: u})
		}
	}
	return out
}
