package card

import (
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
)

// PageSize задаёт число смартлинков на странице списка.
const PageSize = 5

// ListText возвращает заголовок страницы списка смартлинков.
func ListText(items []domain.Smartlink, page, totalPages int) string {
	if len(items) == 0 {
		return "Пока нет смарт-линков. Нажми «➕ Создать смарт-линк»."
	}
	lines := []string{fmt.Sprintf("📂 Мои смарт-линки (страница %d/%d)", page+1, totalPages), ""}
	for i, item := range items {
		line := fmt.Sprintf("%d. %s", i+1, itemLabel(item))
		if item.ReleaseDate != nil {
			line += " 📅 " + domain.FormatDate(*item.ReleaseDate)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ListKeyboard строит кнопки смартлинков на странице и переключение страниц.
func ListKeyboard(items []domain.Smartlink, page, totalPages int) domain.Keyboard {
	var rows domain.Keyboard
	for i, item := range items {
		rows = append(rows,
			domain.Row(domain.DataButton(fmt.Sprintf("%d. %s", i+1, itemLabel(item)), fmt.Sprintf("smartlinks:view:%d:%d", item.ID, page))),
			domain.Row(domain.DataButton("📤 Экспорт", fmt.Sprintf("smartlinks:export:%d:%d", item.ID, page))),
		)
	}
	var nav []domain.Button
	if page > 0 {
		nav = append(nav, domain.DataButton("⬅️", fmt.Sprintf("smartlinks:list:%d", page-1)))
	}
	if page+1 < totalPages {
		nav = append(nav, domain.DataButton("➡️", fmt.Sprintf("smartlinks:list:%d", page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, domain.Row(domain.DataButton("➕ Создать смарт-линк", "smartlinks:create")))
	return rows
}

// ViewText возвращает краткое описание смартлинка для меню.
func ViewText(s domain.Smartlink) string {
	lines := []string{itemLabel(s)}
	if s.ReleaseDate != nil {
		lines = append(lines, "📅 "+domain.FormatDate(*s.ReleaseDate))
	}
	return strings.Join(lines, "\n")
}

// ViewKeyboard строит действия со смартлинком.
func ViewKeyboard(id int64, page int) domain.Keyboard {
	return domain.Keyboard{
		domain.Row(domain.DataButton("🔗 Открыть", fmt.Sprintf("smartlinks:open:%d:%d", id, page))),
		domain.Row(domain.DataButton("✏️ Редактировать", fmt.Sprintf("smartlinks:edit_menu:%d:%d", id, page))),
		domain.Row(domain.DataButton("📋 Скопировать ссылки", fmt.Sprintf("smartlinks:copy:%d", id))),
		domain.Row(domain.DataButton("📤 Экспорт", fmt.Sprintf("smartlinks:export:%d:%d", id, page))),
		domain.Row(domain.DataButton("🗑 Удалить", fmt.Sprintf("smartlinks:delete:%d:%d", id, page))),
		domain.Row(domain.DataButton("◀️ Назад", fmt.Sprintf("smartlinks:list:%d", max(page, 0)))),
	}
}

func EditMenuKeyboard(s domain.Smartlink, page int) domain.Keyboard {
	branding := "🏷 Брендинг ИСКРЫ: Вкл"
	if s.BrandingDisabled {
		branding = "🏷 Брендинг ИСКРЫ: Выкл"
	} else if !s.BrandingPaid {
		branding = "Убрать брендинг"
	}
	field := func(text string, target domain.EditTarget) []domain.Button {
		return domain.Row(domain.DataButton(text, fmt.Sprintf("smartlinks:edit_field:%d:%d:%s", s.ID, page, target)))
	}
	return domain.Keyboard{
		field("Артист/Название", domain.EditTitle),
		field("Дата релиза", domain.EditDate),
		field("Описание", domain.EditCaption),
		field("Обложка", domain.EditCover),
		domain.Row(domain.DataButton("Ссылки", fmt.Sprintf("smartlinks:edit_links:%d:%d", s.ID, page))),
		domain.Row(domain.DataButton(branding, fmt.Sprintf("smartlinks:branding_toggle:%d:%d", s.ID, page))),
		domain.Row(domain.DataButton("◀️ Назад", fmt.Sprintf("smartlinks:view:%d:%d", s.ID, page))),
	}
}

// LinksMenuKeyboard предлагает площадку для правки ссылки.
func LinksMenuKeyboard(id int64, page int) domain.Keyboard {
	var rows domain.Keyboard
	for _, p := range domain.ButtonOrder() {
		rows = append(rows, domain.Row(domain.DataButton(p.Label(), fmt.Sprintf("smartlinks:edit_link:%d:%d:%s", id, page, p))))
	}
	rows = append(rows, domain.Row(domain.DataButton("◀️ Назад", fmt.Sprintf("smartlinks:edit_menu:%d:%d", id, page))))
	return rows
}

func ExportKeyboard(id int64, page int) domain.Keyboard {
	variant := func(text string, v ExportVariant) []domain.Button {
		return domain.Row(domain.DataButton(text, fmt.Sprintf("smartlinks:exportfmt:%d:%d:%s", id, page, v)))
	}
	return domain.Keyboard{
		variant("📋 Текст для Telegram", ExportTelegram),
		variant("🧱 Текст для VK", ExportVK),
		variant("🌐 Универсальный текст", ExportUniversal),
		variant("🔗 Только ссылки", ExportLinks),
		domain.Row(domain.DataButton("◀️ Назад", fmt.Sprintf("smartlinks:export_back:%d:%d", id, page))),
	}
}

// StepKeyboard добавляет «Пропустить» и «Отмена» под шагом диалога.
func StepKeyboard() domain.Keyboard {
	return domain.Keyboard{
		domain.Row(domain.DataButton("Пропустить", "smartlink:skip")),
		domain.Row(domain.DataButton("Отмена", "smartlink:cancel")),
	}
}

func CancelKeyboard() domain.Keyboard {
	return domain.Keyboard{domain.Row(domain.DataButton("Отмена", "smartlink:cancel"))}
}

func itemLabel(s domain.Smartlink) string {
	return fmt.Sprintf("%s — %s", orDefault(s.Artist, "Без артиста"), orDefault(s.Title, "Без названия"))
}
