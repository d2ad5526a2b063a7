package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/card"
	"smartlink-bot/internal/usecase/links"
)

// StartEdit начинает правку одного поля сохранённого смартлинка.
// Для EditLink нужна площадка.
func (s *Service) StartEdit(ctx context.Context, userID, chatID, smartlinkID int64, page int, target domain.EditTarget, platform domain.Platform) error {
	if _, err := s.smartlinks.GetOwnedSmartlink(ctx, smartlinkID, userID); err != nil {
		return err
	}
	var prompt string
	switch target {
	case domain.EditTitle:
		prompt = "Обновляем артиста и название.\nПришли артиста (минимум 2 символа)."
	case domain.EditDate:
		prompt = "Пришли дату релиза в формате ДД.ММ.ГГГГ или напиши «нет»."
	case domain.EditCaption:
		prompt = "Пришли новое описание (до 600 символов) или напиши «пропустить», чтобы очистить."
	case domain.EditCover:
		prompt = "Пришли новую обложку (фото). Чтобы оставить без изменений, нажми «Отмена»."
	case domain.EditLink:
		if !platform.Valid() || platform == domain.PlatformBandlink {
			return fmt.Errorf("площадка %q не поддерживается", platform)
		}
		prompt = fmt.Sprintf("Пришли ссылку на %s. Чтобы удалить площадку, напиши «удалить».", platform.Label())
	default:
		return fmt.Errorf("поле %q не поддерживается", target)
	}
	draft := domain.EditDraft{SmartlinkID: smartlinkID, Page: page, Target: target}
	if target == domain.EditLink {
		draft.Platform = platform
	}
	if _, err := s.start(ctx, userID, 0, draft); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, domain.Reply{Text: prompt, Keyboard: card.CancelKeyboard()})
}

// handleEdit применяет значение и записывает только изменённые поля.
func (s *Service) handleEdit(ctx context.Context, flow domain.Flow, d domain.EditDraft, in Input) error {
	current, err := s.smartlinks.GetOwnedSmartlink(ctx, d.SmartlinkID, flow.UserID)
	if errors.Is(err, domain.ErrSmartlinkNotFound) {
		return s.editNotFound(ctx, flow, in.ChatID)
	}
	if err != nil {
		return err
	}

	retry := func(text string) error {
		return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: text, Keyboard: card.CancelKeyboard()})
	}

	var patch domain.SmartlinkPatch
	lower := strings.ToLower(in.Text)
	switch d.Target {
	case domain.EditTitle:
		if flow.Step == 0 {
			if runeLen(in.Text) < minArtist {
				return retry("Минимум 2 символа. Пришли артиста ещё раз.")
			}
			d.Artist = in.Text
			if err := s.save(ctx, flow, 1, d); err != nil {
				return err
			}
			return s.messenger.Send(ctx, in.ChatID, domain.Reply{Text: "Теперь пришли название релиза.", Keyboard: card.CancelKeyboard()})
		}
		if in.Text == "" {
			return retry("Нужно название релиза.")
		}
		artist := firstNonEmpty(d.Artist, current.Artist)
		patch.Artist = &artist
		patch.Title = &in.Text
	case domain.EditDate:
		if noDateWords[lower] {
			patch.ClearReleaseDate = true
			break
		}
		date, err := domain.ParseDate(in.Text)
		if err != nil {
			return retry("Не понял дату. Формат: ДД.ММ.ГГГГ или напиши «нет».")
		}
		patch.ReleaseDate = &date
	case domain.EditCaption:
		caption := in.Text
		if skipWords[lower] {
			caption = ""
		} else if caption == "" {
			return retry("Пришли текст описания или «пропустить».")
		} else if runeLen(caption) > maxCaption {
			return retry("Максимум 600 символов. Сократи текст.")
		}
		patch.Caption = &caption
	case domain.EditCover:
		if in.PhotoFileID == "" {
			return retry("Пришли фото для обложки.")
		}
		patch.CoverFileID = &in.PhotoFileID
	case domain.EditLink:
		if removeWords[lower] {
			patch.RemoveLinks = []domain.Platform{d.Platform}
			break
		}
		canonical, ok := "", false
		if looksLikeURL(in.Text) {
			canonical, _, ok = links.Normalize(in.Text, d.Platform.String())
		}
		if !ok {
			return retry("Нужна ссылка вида https://... или слово «удалить».")
		}
		patch.SetLinks = domain.Links{d.Platform: canonical}
	default:
		if err := s.flows.ClearFlow(ctx, flow.UserID); err != nil {
			return err
		}
		return s.messenger.Send(ctx, in.ChatID, domain.TextReply("Не понял запрос."))
	}

	updated, err := s.smartlinks.UpdateSmartlink(ctx, d.SmartlinkID, flow.UserID, patch)
	if errors.Is(err, domain.ErrSmartlinkNotFound) {
		return s.editNotFound(ctx, flow, in.ChatID)
	}
	if err != nil {
		return fmt.Errorf("обновление смартлинка %d: %w", d.SmartlinkID, err)
	}
	if err := s.flows.ClearFlow(ctx, flow.UserID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", flow.UserID).Msg("flow: не удалось сбросить диалог")
	}
	metrics.IncFlowEvent(string(flow.Name), "finish")
	return s.cards.SendCard(ctx, in.ChatID, flow.UserID, updated, d.Page)
}

func (s *Service) editNotFound(ctx context.Context, flow domain.Flow, chatID int64) error {
	if err := s.flows.ClearFlow(ctx, flow.UserID); err != nil {
		return err
	}
	metrics.IncFlowEvent(string(flow.Name), "not_found")
	return s.messenger.Send(ctx, chatID, domain.TextReply(notFoundMsg))
}
