package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"smartlink-bot/internal/domain"
)

const (
	// SetDateHint показывается, если дату не передали вместе с командой.
	SetDateHint  = "Введи дату релиза в формате ДД.ММ.ГГГГ.\nПример: 31.12.2025\n\nКоманда: /set_date ДД.ММ.ГГГГ"
	badDateReply = "Не понял дату. Пример: /set_date 31.12.2025"
	noDateText   = "📅 Таймлайн\n\nДата релиза не задана.\nНажми «📅 Установить дату» или команду /set_date ДД.ММ.ГГГГ"
)

type timelineItem struct {
	date  time.Time
	title string
}

type timelineBlock struct {
	title string
	items []timelineItem
}

// Timeline возвращает таймлайн релиза пользователя.
func (s *Service) Timeline(ctx context.Context, tgUserID int64) (domain.Reply, error) {
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("получение пользователя: %w", err)
	}
	return s.timelineReply(user), nil
}

// SetReleaseDate сохраняет дату релиза и возвращает обновлённый таймлайн.
// Некорректная дата возвращает подсказку и ErrInvalidDate.
func (s *Service) SetReleaseDate(ctx context.Context, tgUserID int64, raw string) (domain.Reply, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.TextReply(SetDateHint), nil
	}
	date, err := domain.ParseDate(raw)
	if err != nil {
		return domain.TextReply(badDateReply), err
	}
	date = domain.DateOnly(date)
	if err := s.users.SetUserReleaseDate(ctx, tgUserID, &date); err != nil {
		return domain.Reply{}, fmt.Errorf("сохранение даты релиза: %w", err)
	}
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("получение пользователя: %w", err)
	}
	reply := s.timelineReply(user)
	reply.Text = "Ок. Дата релиза: " + domain.FormatDate(date) + "\n\n" + reply.Text
	return reply, nil
}

// ToggleReminders переключает напоминания о дедлайнах и возвращает таймлайн.
func (s *Service) ToggleReminders(ctx context.Context, tgUserID int64) (domain.Reply, error) {
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("получение пользователя: %w", err)
	}
	user.RemindersEnabled = !user.RemindersEnabled
	if err := s.users.SetRemindersEnabled(ctx, tgUserID, user.RemindersEnabled); err != nil {
		return domain.Reply{}, fmt.Errorf("переключение напоминаний: %w", err)
	}
	return s.timelineReply(user), nil
}

func (s *Service) timelineReply(user domain.User) domain.Reply {
	loc, _, _ := user.Prefs.Resolve(s.defaultLoc)
	today := domain.DateOnly(s.now().In(loc))
	return domain.Reply{
		Text:     TimelineText(user, today),
		Keyboard: TimelineKeyboard(user),
	}
}

// TimelineText собирает текст таймлайна: этапы до релиза, релиз и пост-релиз.
func TimelineText(user domain.User, today time.Time) string {
	if user.ReleaseDate == nil {
		return noDateText
	}
	release := domain.DateOnly(*user.ReleaseDate)
	status := "выключены"
	if user.RemindersEnabled {
		status = "включены"
	}

	blocks := []timelineBlock{
		{title: "−21…−14 (подготовка к питчингу)", items: []timelineItem{
			{date: release.AddDate(0, 0, -21), title: "Окно подготовки"},
			{date: release.AddDate(0, 0, -14), title: "Конец окна"},
		}},
		{title: "−14 Питчинг"},
		{title: "−7 Пресейв/бендлинк"},
		{title: "0 Релиз", items: []timelineItem{{date: release, title: "Релиз"}}},
		{title: "+1/+3/+7 пост-релиз"},
	}
	for _, d := range domain.BuildDeadlines(release) {
		item := timelineItem{date: d.Date, title: d.Title}
		switch {
		case d.Offset == -14:
			blocks[1].items = append(blocks[1].items, item)
		case d.Offset == -7:
			blocks[2].items = append(blocks[2].items, item)
		case d.Offset > 0:
			blocks[4].items = append(blocks[4].items, item)
		}
	}

	var b strings.Builder
	b.WriteString("📅 Таймлайн\n\n")
	b.WriteString("Дата релиза: " + domain.FormatDate(release) + "\n")
	b.WriteString("Напоминания: " + status + "\n\n")
	for _, block := range blocks {
		if len(block.items) == 0 {
			continue
		}
		b.WriteString(block.title + "\n")
		for _, it := range block.items {
			b.WriteString("▫️ " + domain.FormatDate(it.date) + " — " + it.title + " (" + relativeDay(today, it.date) + ")\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func relativeDay(today, date time.Time) string {
	delta := domain.DaysBetween(today, date)
	switch {
	case delta == 0:
		return "сегодня"
	case delta > 0:
		return "через " + strconv.Itoa(delta) + " дн"
	default:
		return strconv.Itoa(-delta) + " дн назад"
	}
}

// TimelineKeyboard строит переключатель напоминаний и кнопку установки даты.
func TimelineKeyboard(user domain.User) domain.Keyboard {
	toggle := "🔕 Напоминания: выкл"
	if user.RemindersEnabled {
		toggle = "🔔 Напоминания: вкл"
	}
	kb := domain.Keyboard{domain.Row(domain.DataButton(toggle, "reminders:toggle"))}
	if user.ReleaseDate != nil {
		kb = append(kb, domain.Row(domain.DataButton("📅 Установить дату", "timeline:set_date")))
	}
	return kb
}
