// Package smartlinks содержит операции над сохранёнными смартлинками: список, карточка,
// удаление, подписка на напоминание, брендинг и экспорт.
package smartlinks

import (
	"context"
	"fmt"
	"time"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/usecase/card"
)

// Service управляет смартлинками пользователя.
type Service struct {
	repo      domain.SmartlinkRepo
	subs      domain.SubscriptionRepo
	messenger domain.Messenger
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис. loc задаёт, в каком поясе считается «сегодня» для карточек.
func NewService(repo domain.SmartlinkRepo, subs domain.SubscriptionRepo, messenger domain.Messenger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, subs: subs, messenger: messenger, loc: loc, now: time.Now}
}

func (s *Service) today() time.Time {
	return domain.DateOnly(s.now().In(s.loc))
}

// CardReply собирает карточку с кнопкой напоминания для конкретного зрителя.
func (s *Service) CardReply(ctx context.Context, viewerID int64, sl domain.Smartlink, page int) (domain.Reply, error) {
	today := s.today()
	opts := card.Options{CanRemind: sl.CanRemind(today), Page: page}
	if opts.CanRemind {
		subscribed, err := s.subs.IsSubscribed(ctx, sl.ID, viewerID)
		if err != nil {
			return domain.Reply{}, fmt.Errorf("проверка подписки: %w", err)
		}
		opts.Subscribed = subscribed
	}
	return card.Render(sl, today, opts), nil
}

// SendCard отправляет карточку смартлинка.
func (s *Service) SendCard(ctx context.Context, chatID, viewerID int64, sl domain.Smartlink, page int) error {
	reply, err := s.CardReply(ctx, viewerID, sl, page)
	if err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, reply)
}

// List возвращает страницу списка. Номер страницы приводится к допустимому.
func (s *Service) List(ctx context.Context, ownerID int64, page int) (domain.Reply, error) {
	total, err := s.repo.CountSmartlinks(ctx, ownerID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("подсчёт смартлинков: %w", err)
	}
	pages := (total + card.PageSize - 1) / card.PageSize
	if pages == 0 {
		pages = 1
	}
	page = min(max(page, 0), pages-1)
	items, err := s.repo.ListSmartlinks(ctx, ownerID, card.PageSize, page*card.PageSize)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("список смартлинков: %w", err)
	}
	return domain.Reply{Text: card.ListText(items, page, pages), Keyboard: card.ListKeyboard(items, page, pages)}, nil
}

// View показывает меню действий со смартлинком.
func (s *Service) View(ctx context.Context, ownerID, id int64, page int) (domain.Reply, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{Text: card.ViewText(sl), Keyboard: card.ViewKeyboard(sl.ID, page)}, nil
}

// Open присылает карточку своего смартлинка.
func (s *Service) Open(ctx context.Context, chatID, ownerID, id int64, page int) error {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return err
	}
	return s.SendCard(ctx, chatID, ownerID, sl, page)
}

// OpenLatest присылает карточку последнего созданного смартлинка.
func (s *Service) OpenLatest(ctx context.Context, chatID, ownerID int64) error {
	sl, err := s.repo.LatestSmartlink(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.SendCard(ctx, chatID, ownerID, sl, card.NoPage)
}

// Delete удаляет смартлинк и возвращает обновлённую страницу списка.
func (s *Service) Delete(ctx context.Context, ownerID, id int64, page int) (domain.Reply, error) {
	if err := s.repo.DeleteSmartlink(ctx, id, ownerID); err != nil {
		return domain.Reply{}, err
	}
	return s.List(ctx, ownerID, page)
}

// EditMenu показывает выбор поля для правки.
func (s *Service) EditMenu(ctx context.Context, ownerID, id int64, page int) (domain.Reply, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	return editMenuReply(sl, page), nil
}

func editMenuReply(sl domain.Smartlink, page int) domain.Reply {
	return domain.Reply{Text: card.ViewText(sl) + "\n\nВыбери, что обновить:", Keyboard: card.EditMenuKeyboard(sl, page)}
}

// LinksMenu показывает выбор площадки для правки ссылки.
func (s *Service) LinksMenu(ctx context.Context, ownerID, id int64, page int) (domain.Reply, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	text := "Выбери площадку, ссылку на которую нужно изменить."
	if len(sl.Links) > 0 {
		text += "\n\nСейчас:\n" + card.CopyText(sl)
	}
	return domain.Reply{Text: text, Keyboard: card.LinksMenuKeyboard(sl.ID, page)}, nil
}

// ToggleBranding включает брендинг или отключает его, если отключение оплачено.
// Возвращает обновлённое меню правки и короткое уведомление.
func (s *Service) ToggleBranding(ctx context.Context, ownerID, id int64, page int) (domain.Reply, string, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, "", err
	}
	disable := !sl.BrandingDisabled
	if disable && !sl.BrandingPaid {
		return domain.Reply{}, "", domain.ErrBrandingLocked
	}
	updated, err := s.repo.UpdateSmartlink(ctx, id, ownerID, domain.SmartlinkPatch{BrandingDisabled: &disable})
	if err != nil {
		return domain.Reply{}, "", fmt.Errorf("брендинг: %w", err)
	}
	notice := "Брендинг включён"
	if disable {
		notice = "Брендинг отключён"
	}
	return editMenuReply(updated, page), notice, nil
}

// ToggleSubscription подписывает зрителя на напоминание о релизе или отписывает.
// Работает только до релиза. Возвращает карточку с обновлённой кнопкой.
func (s *Service) ToggleSubscription(ctx context.Context, viewerID, id int64) (domain.Reply, string, error) {
	sl, err := s.repo.GetSmartlink(ctx, id)
	if err != nil {
		return domain.Reply{}, "", err
	}
	if !sl.CanRemind(s.today()) {
		return domain.Reply{}, "", domain.ErrNotPreRelease
	}
	current, err := s.subs.IsSubscribed(ctx, id, viewerID)
	if err != nil {
		return domain.Reply{}, "", fmt.Errorf("проверка подписки: %w", err)
	}
	if err := s.subs.SetSubscription(ctx, id, viewerID, !current); err != nil {
		return domain.Reply{}, "", fmt.Errorf("подписка: %w", err)
	}
	reply := card.Render(sl, s.today(), card.Options{CanRemind: true, Subscribed: !current, Page: card.NoPage})
	notice := "Напомню"
	if current {
		notice = "Напоминание выключено"
	}
	return reply, notice, nil
}

// Copy возвращает текст со всеми ссылками. Доступно любому, у кого есть карточка.
func (s *Service) Copy(ctx context.Context, id int64) (domain.Reply, error) {
	sl, err := s.repo.GetSmartlink(ctx, id)
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.TextReply(card.CopyText(sl)), nil
}

// ExportMenu показывает выбор формата экспорта.
func (s *Service) ExportMenu(ctx context.Context, ownerID, id int64, page int) (domain.Reply, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{Text: "📤 Экспорт: " + card.ViewText(sl) + "\n\nВыбери формат:", Keyboard: card.ExportKeyboard(sl.ID, page)}, nil
}

// Export возвращает текст в выбранном формате.
func (s *Service) Export(ctx context.Context, ownerID, id int64, variant card.ExportVariant) (domain.Reply, error) {
	sl, err := s.repo.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	text := card.ExportText(sl, variant)
	if text == "" {
		text = "Нет данных для экспорта."
	}
	return domain.TextReply(text), nil
}
