package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

// fillFromMeta подставляет артиста и название выбранного источника.
// Пропуски, дату релиза и описание берёт из последнего смартлинка пользователя.
func (s *Service) fillFromMeta(ctx context.Context, userID int64, d domain.ReviewDraft) domain.ReviewDraft {
	selected := d.Meta.Selected()
	d.Artist = firstNonEmpty(selected.Artist, d.Meta.Artist, d.Artist)
	d.Title = firstNonEmpty(selected.Title, d.Meta.Title, d.Title)
	latest, err := s.smartlinks.LatestSmartlink(ctx, userID)
	if err != nil {
		return d
	}
	d.Artist = firstNonEmpty(d.Artist, latest.Artist)
	if d.ReleaseDate == nil && latest.ReleaseDate != nil {
		release := *latest.ReleaseDate
		d.ReleaseDate = &release
	}
	d.Caption = firstNonEmpty(d.Caption, latest.Caption)
	return d
}

func userCover(d domain.ReviewDraft) bool {
	return d.CoverFileID != "" && d.CoverURL == ""
}

func reviewReply(d domain.ReviewDraft) domain.Reply {
	lines := []string{
		"Нашёл ссылки на релиз.",
		fmt.Sprintf("%s — %s", orDash(d.Artist, "Без артиста"), orDash(d.Title, "Без названия")),
		"",
		"Площадки: " + platformsText(d.Links),
	}
	if d.ReleaseDate != nil {
		lines = append(lines, "Дата релиза: "+domain.FormatDate(*d.ReleaseDate))
	}
	sources := d.Meta.SourcePlatforms()
	if len(sources) > 0 && d.Meta.Preferred.Valid() {
		lines = append(lines, "Источник: "+d.Meta.Preferred.Label())
	}
	if d.Meta.Conflict {
		lines = append(lines, "⚠️ Название/артист отличаются на площадках. Выбери источник или подтверди по умолчанию.")
	}
	if len(d.Links) < 2 {
		lines = append(lines, "Можно прислать ссылку другой платформы, чтобы добавить остальные площадки.")
	}
	lines = append(lines, "", "Подтверди данные или измени вручную.")

	var kb domain.Keyboard
	if len(sources) > 1 {
		row := make([]domain.Button, 0, len(sources))
		for _, p := range sources {
			mark := ""
			if p == d.Meta.Preferred {
				mark = "✅ "
			}
			row = append(row, domain.DataButton(mark+p.Label(), "smartlink:import_source:"+p.String()))
		}
		kb = append(kb, row)
	}
	kb = append(kb,
		domain.Row(domain.DataButton("✅ Подтвердить", "smartlink:import_confirm")),
		domain.Row(domain.DataButton("✏️ Изменить", "smartlink:import_edit")),
		domain.Row(domain.DataButton("Отмена", "smartlink:import_cancel")),
	)
	return domain.Reply{Text: strings.Join(lines, "\n"), PhotoFileID: d.CoverFileID, Keyboard: kb}
}

func prefillReply(d domain.ReviewDraft) domain.Reply {
	lines := []string{
		"Проверь данные перед сохранением:",
		"Артист: " + orDash(d.Artist, "—"),
		"Релиз: " + orDash(d.Title, "—"),
		"Площадки: " + platformsText(d.Links),
		"",
		"Можно поправить нужное поле и продолжить.",
	}
	return domain.Reply{
		Text:        strings.Join(lines, "\n"),
		PhotoFileID: d.CoverFileID,
		Keyboard: domain.Keyboard{
			domain.Row(domain.DataButton("Изменить артиста", "smartlink:prefill_edit:artist")),
			domain.Row(domain.DataButton("Изменить релиз", "smartlink:prefill_edit:title")),
			domain.Row(domain.DataButton("Заменить обложку", "smartlink:prefill_edit:cover")),
			domain.Row(domain.DataButton("Продолжить", "smartlink:prefill_continue")),
			domain.Row(domain.DataButton("Отмена", "smartlink:import_cancel")),
		},
	}
}

func (s *Service) reviewFlow(ctx context.Context, userID int64) (domain.Flow, domain.ReviewDraft, error) {
	flow, err := s.flows.GetFlow(ctx, userID)
	if err != nil {
		return domain.Flow{}, domain.ReviewDraft{}, err
	}
	d, ok := flow.Draft.(domain.ReviewDraft)
	if !ok {
		return domain.Flow{}, domain.ReviewDraft{}, domain.ErrFlowNotFound
	}
	return flow, d, nil
}

// SwitchSource меняет источник метаданных и пересчитывает артиста, название и обложку.
func (s *Service) SwitchSource(ctx context.Context, userID, chatID int64, platform domain.Platform) error {
	flow, d, err := s.reviewFlow(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := d.Meta.Sources[platform]; !ok {
		return fmt.Errorf("источник %s: %w", platform, domain.ErrFlowNotFound)
	}
	d.Meta.Preferred = platform
	selected := d.Meta.Selected()
	d.Artist = firstNonEmpty(selected.Artist, d.Artist)
	d.Title = firstNonEmpty(selected.Title, d.Title)
	if !userCover(d) && selected.CoverURL != "" && selected.CoverURL != d.CoverURL {
		if fileID := s.hostCover(ctx, chatID, selected.CoverURL); fileID != "" {
			d.CoverFileID = fileID
			d.CoverURL = selected.CoverURL
		}
	}
	if err := s.save(ctx, flow, flow.Step, d); err != nil {
		return err
	}
	reply := reviewReply(d)
	if d.Prefill {
		reply = prefillReply(d)
	}
	return s.messenger.Send(ctx, chatID, reply)
}

// OpenEditor показывает редактор предзаполненной карточки.
// Без черновика импорта начинается обычное ручное создание.
func (s *Service) OpenEditor(ctx context.Context, userID, chatID int64) error {
	flow, d, err := s.reviewFlow(ctx, userID)
	if errors.Is(err, domain.ErrFlowNotFound) {
		return s.StartCreate(ctx, userID, chatID)
	}
	if err != nil {
		return err
	}
	d.Prefill = true
	d.Pending = domain.PrefillNone
	if _, err := s.replace(ctx, flow, 0, d); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, prefillReply(d))
}

// RequestField ждёт от пользователя новое значение поля.
func (s *Service) RequestField(ctx context.Context, userID, chatID int64, field domain.PrefillField) error {
	flow, d, err := s.reviewFlow(ctx, userID)
	if err != nil {
		return err
	}
	if !d.Prefill {
		return domain.ErrFlowNotFound
	}
	var prompt string
	switch field {
	case domain.PrefillArtist:
		prompt = "Введи артиста:"
	case domain.PrefillTitle:
		prompt = "Введи название релиза:"
	case domain.PrefillCover:
		prompt = "Пришли новую обложку фото."
	default:
		return fmt.Errorf("поле %q: %w", field, domain.ErrFlowNotFound)
	}
	d.Pending = field
	if err := s.save(ctx, flow, 1, d); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(prompt+cancelHint))
}

// handleReview принимает значение поля, которое правит пользователь.
func (s *Service) handleReview(ctx context.Context, flow domain.Flow, d domain.ReviewDraft, in Input) error {
	if !d.Prefill {
		return s.messenger.Send(ctx, in.ChatID, reviewReply(d))
	}
	switch d.Pending {
	case domain.PrefillArtist:
		if runeLen(in.Text) < minArtist {
			return s.invalid(ctx, flow, in.ChatID, domain.TextReply("Минимум 2 символа. Попробуй ещё раз."))
		}
		d.Artist = in.Text
	case domain.PrefillTitle:
		if in.Text == "" {
			return s.invalid(ctx, flow, in.ChatID, domain.TextReply("Нужно название релиза."))
		}
		d.Title = in.Text
	case domain.PrefillCover:
		if in.PhotoFileID == "" {
			return s.invalid(ctx, flow, in.ChatID, domain.TextReply("Пришли фото."))
		}
		d.CoverFileID = in.PhotoFileID
		d.CoverURL = ""
	default:
		return s.messenger.Send(ctx, in.ChatID, prefillReply(d))
	}
	d.Pending = domain.PrefillNone
	if err := s.save(ctx, flow, 0, d); err != nil {
		return err
	}
	metrics.IncFlowEvent(string(flow.Name), "step")
	return s.messenger.Send(ctx, in.ChatID, prefillReply(d))
}

// Continue переносит подтверждённые данные в ручное создание, чтобы дозаполнить пропуски.
func (s *Service) Continue(ctx context.Context, userID, chatID int64) error {
	_, d, err := s.reviewFlow(ctx, userID)
	if err != nil {
		return err
	}
	selected := d.Meta.Selected()
	return s.startCreate(ctx, userID, chatID, domain.CreateDraft{
		Artist:      firstNonEmpty(d.Artist, selected.Artist),
		Title:       firstNonEmpty(d.Title, selected.Title),
		ReleaseDate: d.ReleaseDate,
		CoverFileID: d.CoverFileID,
		Caption:     d.Caption,
		Links:       d.Links.Clone(),
		Imported:    true,
	})
}

// CancelImport сбрасывает импорт без записи в базу.
func (s *Service) CancelImport(ctx context.Context, userID, chatID int64) error {
	return s.Cancel(ctx, userID, chatID, "Ок, отменил импорт.")
}
