package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/links"
)

const (
	importPrompt = "📥 Импорт смарт-линка. Пришли ссылку на релиз с любой площадки или BandLink, найду остальные площадки и данные релиза." + cancelHint
	lowLinksHint = "Ссылок мало. Можешь прислать Яндекс или VK, доберу остальные."
	fallbackTip  = "Не получилось прочитать страницу BandLink. Пришли ссылку на этот релиз со Spotify, Яндекс Музыки, VK или Apple Music, по ней найду остальные площадки."
	needMoreMsg  = "Не нашёл остальные площадки, пришли ссылку другой платформы."
)

// StartImport начинает импорт по ссылке.
func (s *Service) StartImport(ctx context.Context, userID, chatID int64) error {
	if _, err := s.start(ctx, userID, 0, domain.ImportDraft{Links: domain.Links{}}); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(importPrompt))
}

// handleImport разбирает очередную ссылку и решает, куда двигаться дальше.
// Пока идёт поиск или загрузка обложки, диалог может быть отменён или перезапущен: тогда результат отбрасывается.
func (s *Service) handleImport(ctx context.Context, flow domain.Flow, in Input) error {
	if !looksLikeURL(in.Text) {
		return s.invalid(ctx, flow, in.ChatID, domain.TextReply("Нужна ссылка (http/https)."+cancelHint))
	}

	platform := links.Detect(in.Text)
	if platform.Valid() && platform != domain.PlatformBandlink {
		if err := s.messenger.Send(ctx, in.ChatID, domain.TextReply("Принял ссылку, пытаюсь найти релиз…")); err != nil {
			s.log.Warn().Err(err).Msg("flow: не отправлено уведомление о поиске")
		}
	}

	res := s.resolver.Resolve(ctx, in.Text)
	metrics.IncFlowEvent(string(flow.Name), "resolve")

	current, err := s.flows.GetFlow(ctx, flow.UserID)
	if errors.Is(err, domain.ErrFlowNotFound) {
		return domain.ErrFlowStale
	}
	if err != nil {
		return err
	}
	draft, ok := current.Draft.(domain.ImportDraft)
	if !ok || current.Nonce != flow.Nonce {
		return domain.ErrFlowStale
	}
	flow = current

	merged, added := links.MergeLinks(draft.Links, res.Links)
	meta := links.Merge(draft.Meta, res.Meta)
	if len(added) > 0 {
		labels := make([]string, 0, len(added))
		for _, p := range added {
			labels = append(labels, p.Label())
		}
		text := fmt.Sprintf("Добавил площадки: %s. Всего: %d", strings.Join(labels, ", "), len(merged))
		if err := s.messenger.Send(ctx, in.ChatID, domain.TextReply(text)); err != nil {
			s.log.Warn().Err(err).Msg("flow: не отправлен список площадок")
		}
	}

	selected := meta.Selected()
	coverURL := firstNonEmpty(selected.CoverURL, meta.CoverURL)
	coverFileID := s.hostCover(ctx, in.ChatID, coverURL)

	if !meta.Conflict && selected.Artist != "" && selected.Title != "" && coverFileID != "" && len(merged) >= 2 {
		review := domain.ReviewDraft{
			Links:       merged,
			Meta:        meta,
			Artist:      selected.Artist,
			Title:       selected.Title,
			CoverFileID: coverFileID,
			CoverURL:    coverURL,
			Prefill:     true,
		}
		if _, err := s.replace(ctx, flow, 0, review); err != nil {
			return err
		}
		return s.messenger.Send(ctx, in.ChatID, autofillReply(review))
	}

	if merged.KeyCount() < 3 && !draft.LowLinksHintShown {
		draft.LowLinksHintShown = true
		if err := s.messenger.Send(ctx, in.ChatID, domain.TextReply(lowLinksHint)); err != nil {
			s.log.Warn().Err(err).Msg("flow: подсказка не отправлена")
		}
	}

	if len(merged) >= 2 || meta.Complete() {
		review := domain.ReviewDraft{
			Links:       merged,
			Meta:        meta,
			CoverFileID: coverFileID,
			CoverURL:    coverURL,
		}
		if coverFileID == "" {
			review.CoverURL = ""
		}
		review = s.fillFromMeta(ctx, flow.UserID, review)
		if _, err := s.replace(ctx, flow, 0, review); err != nil {
			return err
		}
		return s.messenger.Send(ctx, in.ChatID, reviewReply(review))
	}

	draft.Links = merged
	draft.Meta = meta
	text := needMoreMsg
	if platform == domain.PlatformBandlink && len(merged) <= 1 && meta.Empty() && !draft.FallbackShown {
		draft.FallbackShown = true
		text = fallbackTip
	}
	if err := s.save(ctx, flow, flow.Step+1, draft); err != nil {
		return err
	}
	return s.messenger.Send(ctx, in.ChatID, domain.TextReply(text))
}

// hostCover перезаливает обложку. Ошибка не мешает импорту.
func (s *Service) hostCover(ctx context.Context, chatID int64, coverURL string) string {
	if coverURL == "" || s.covers == nil {
		return ""
	}
	fileID, err := s.covers.HostCover(ctx, chatID, coverURL)
	if err != nil {
		s.log.Warn().Err(err).Str("url", coverURL).Msg("flow: обложка не загружена")
		return ""
	}
	return fileID
}

func autofillReply(d domain.ReviewDraft) domain.Reply {
	lines := []string{
		"Нашёл ссылки и данные релиза:",
		fmt.Sprintf("%s — %s", orDash(d.Artist, "Без артиста"), orDash(d.Title, "Без названия")),
		"Площадки: " + platformsText(d.Links),
		"Карточку заполнил автоматически.",
	}
	return domain.Reply{
		Text:        strings.Join(lines, "\n"),
		PhotoFileID: d.CoverFileID,
		Keyboard: domain.Keyboard{
			domain.Row(domain.DataButton("Продолжить", "smartlink:prefill_continue")),
			domain.Row(domain.DataButton("✏️ Изменить данные", "smartlink:import_edit")),
			domain.Row(domain.DataButton("Отмена", "smartlink:import_cancel")),
		},
	}
}

func platformsText(l domain.Links) string {
	sorted := l.Sorted()
	if len(sorted) == 0 {
		return "—"
	}
	labels := make([]string, 0, len(sorted))
	for _, p := range sorted {
		labels = append(labels, p.Label())
	}
	return strings.Join(labels, ", ")
}

func orDash(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
