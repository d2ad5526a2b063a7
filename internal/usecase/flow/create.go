package flow

import (
	"context"
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/card"
	"smartlink-bot/internal/usecase/links"
)

const (
	stepArtist = iota
	stepTitle
	stepDate
	stepCover
	stepCaption
	firstLinkStep
)

// totalSteps: пять полей и по шагу на каждую площадку формы.
var totalSteps = firstLinkStep + len(domain.FormPlatforms())

// StepPrompt возвращает текст шага ручного создания.
func StepPrompt(step int) string {
	total := totalSteps
	switch step {
	case stepArtist:
		return fmt.Sprintf("🔗 Смартлинк. Шаг 1/%d: артист? (можно «Пропустить»).", total)
	case stepTitle:
		return fmt.Sprintf("Шаг 2/%d: название трека? (можно «Пропустить»).", total)
	case stepDate:
		return fmt.Sprintf("Шаг 3/%d: дата релиза (ДД.ММ.ГГГГ)? (можно «Пропустить»).", total)
	case stepCover:
		return fmt.Sprintf("Шаг 4/%d: пришли обложку (фото). Можно «Пропустить».", total)
	case stepCaption:
		return "✍️ Добавь короткий текст (необязательно). Отправь сообщением или нажми «Пропустить»."
	}
	if p, ok := linkStepPlatform(step); ok {
		return fmt.Sprintf("Шаг %d/%d: ссылка на %s? (можно «Пропустить»).", step+1, total, p.Label())
	}
	return ""
}

func linkStepPlatform(step int) (domain.Platform, bool) {
	form := domain.FormPlatforms()
	idx := step - firstLinkStep
	if idx < 0 || idx >= len(form) {
		return domain.PlatformUnknown, false
	}
	return form[idx], true
}

// skipPrefilled пропускает шаги, уже заполненные импортом. Описание не пропускается никогда.
func skipPrefilled(step int, d domain.CreateDraft) int {
	for step < totalSteps {
		switch {
		case step == stepArtist && d.Artist != "",
			step == stepTitle && d.Title != "",
			step == stepDate && d.ReleaseDate != nil,
			step == stepCover && d.CoverFileID != "":
			step++
			continue
		case step >= firstLinkStep:
			p, _ := linkStepPlatform(step)
			if d.Links[p] != "" {
				step++
				continue
			}
		}
		return step
	}
	return step
}

func stepReply(step int) domain.Reply {
	return domain.Reply{Text: StepPrompt(step) + cancelHint, Keyboard: card.StepKeyboard()}
}

// draftStepReply показывает подставленное описание, чтобы его можно было оставить.
func draftStepReply(step int, d domain.CreateDraft) domain.Reply {
	reply := stepReply(step)
	if step == stepCaption && d.Caption != "" {
		reply.Text = StepPrompt(step) + "\n\nСейчас: " + d.Caption + "\n«Пропустить» оставит этот текст." + cancelHint
	}
	return reply
}

// StartCreate начинает ручное создание с пустого черновика.
func (s *Service) StartCreate(ctx context.Context, userID, chatID int64) error {
	return s.startCreate(ctx, userID, chatID, domain.CreateDraft{})
}

func (s *Service) startCreate(ctx context.Context, userID, chatID int64, draft domain.CreateDraft) error {
	if draft.Links == nil {
		draft.Links = domain.Links{}
	}
	step := skipPrefilled(stepArtist, draft)
	flow, err := s.start(ctx, userID, step, draft)
	if err != nil {
		return err
	}
	if step >= totalSteps {
		return s.finalize(ctx, flow, draft, chatID)
	}
	return s.messenger.Send(ctx, chatID, draftStepReply(step, draft))
}

// handleCreate применяет ответ на текущий шаг. skip означает нажатие «Пропустить».
func (s *Service) handleCreate(ctx context.Context, flow domain.Flow, d domain.CreateDraft, in Input, skip bool) error {
	step := flow.Step
	if step >= totalSteps {
		return s.finalize(ctx, flow, d, in.ChatID)
	}
	skip = skip || isSkip(in.Text)
	d.Links = d.Links.Clone()

	switch step {
	case stepArtist:
		if skip {
			d.Artist = ""
			break
		}
		if runeLen(in.Text) < minArtist {
			return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: "Минимум 2 символа.\n\n" + StepPrompt(step) + cancelHint, Keyboard: card.StepKeyboard()})
		}
		d.Artist = in.Text
	case stepTitle:
		if skip {
			d.Title = ""
			break
		}
		if in.Text == "" {
			return s.invalid(ctx, flow, in.ChatID, stepReply(step))
		}
		d.Title = in.Text
	case stepDate:
		if skip {
			d.ReleaseDate = nil
			break
		}
		date, err := domain.ParseDate(in.Text)
		if err != nil {
			return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: "Не понял дату. Формат: ДД.ММ.ГГГГ\n\n" + StepPrompt(step), Keyboard: card.StepKeyboard()})
		}
		d.ReleaseDate = &date
	case stepCover:
		if skip {
			d.CoverFileID = ""
			break
		}
		if in.PhotoFileID == "" {
			return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: "Пришли фото для обложки.\n\n" + StepPrompt(step), Keyboard: card.StepKeyboard()})
		}
		d.CoverFileID = in.PhotoFileID
	case stepCaption:
		if skip {
			break
		}
		if in.Text == "" {
			return s.invalid(ctx, flow, in.ChatID, stepReply(step))
		}
		if runeLen(in.Text) > maxCaption {
			return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: "Максимум 600 символов. Сократи текст и отправь снова.\n\n" + StepPrompt(step), Keyboard: card.StepKeyboard()})
		}
		d.Caption = in.Text
	default:
		p, _ := linkStepPlatform(step)
		if skip {
			delete(d.Links, p)
			break
		}
		canonical, ok := "", false
		if looksLikeURL(in.Text) {
			canonical, _, ok = links.Normalize(in.Text, p.String())
		}
		if !ok {
			return s.invalid(ctx, flow, in.ChatID, domain.Reply{Text: "Нужна ссылка или «Пропустить».", Keyboard: card.StepKeyboard()})
		}
		d.Links[p] = canonical
	}

	next := skipPrefilled(step+1, d)
	if next >= totalSteps {
		return s.finalize(ctx, flow, d, in.ChatID)
	}
	if err := s.save(ctx, flow, next, d); err != nil {
		return err
	}
	metrics.IncFlowEvent(string(flow.Name), "step")
	return s.messenger.Send(ctx, in.ChatID, draftStepReply(next, d))
}

// finalize сохраняет смартлинк и отправляет карточку.
func (s *Service) finalize(ctx context.Context, flow domain.Flow, d domain.CreateDraft, chatID int64) error {
	created, err := s.smartlinks.CreateSmartlink(ctx, domain.Smartlink{
		OwnerID:          flow.UserID,
		Artist:           strings.TrimSpace(d.Artist),
		Title:            strings.TrimSpace(d.Title),
		ReleaseDate:      d.ReleaseDate,
		CoverFileID:      d.CoverFileID,
		Caption:          d.Caption,
		Links:            d.Links.Clone(),
		PreSaveEnabled:   true,
		RemindersEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("сохранение смартлинка: %w", err)
	}
	if err := s.flows.ClearFlow(ctx, flow.UserID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", flow.UserID).Msg("flow: не удалось сбросить диалог")
	}

	source := "manual"
	if d.Imported {
		source = "import"
	}
	metrics.SmartlinksCreated.WithLabelValues(source).Inc()
	metrics.IncFlowEvent(string(flow.Name), "finish")
	s.log.Info().Int64("user_id", flow.UserID).Int64("smartlink_id", created.ID).Str("source", source).Msg("смартлинк создан")

	if err := s.cards.SendCard(ctx, chatID, flow.UserID, created, card.NoPage); err != nil {
		s.log.Warn().Err(err).Int64("smartlink_id", created.ID).Msg("flow: карточка не отправлена")
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply("Готово. Смартлинк сохранён."))
}
