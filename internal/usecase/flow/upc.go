package flow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/card"
	"smartlink-bot/internal/usecase/links"
)

const (
	upcPrompt   = "⚡ Автозаполнение по UPC. Пришли UPC (12–14 цифр)." + cancelHint
	upcInvalid  = "Нужен UPC: 12–14 цифр. Пришли номер ещё раз." + cancelHint
	upcNotFound = "Не нашёл, попробуй BandLink или вставь ссылки вручную. Можешь прислать другой UPC."
	upcUpdated  = "Добавил Spotify по UPC. Смартлинк обновлён."
	upcManual   = "Нашёл Spotify. Давай заполним смартлинк: ссылка на Spotify уже подставлена."
	maxUPCLabel = 60
)

var nonDigits = regexp.MustCompile(`\D`)

// UPCEnabled сообщает, подключён ли поиск по UPC.
func (s *Service) UPCEnabled() bool { return s.upc != nil }

// StartUPC начинает поиск релиза по UPC.
func (s *Service) StartUPC(ctx context.Context, userID, chatID int64) error {
	if s.upc == nil {
		return domain.ErrUPCDisabled
	}
	if _, err := s.start(ctx, userID, 0, domain.UPCDraft{}); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(upcPrompt))
}

// handleUPC ищет релиз по присланному номеру. Пока идёт поиск, диалог может смениться.
func (s *Service) handleUPC(ctx context.Context, flow domain.Flow, in Input) error {
	digits := nonDigits.ReplaceAllString(in.Text, "")
	if len(digits) < 12 || len(digits) > 14 {
		return s.invalid(ctx, flow, in.ChatID, domain.TextReply(upcInvalid))
	}

	var found []domain.UPCCandidate
	if s.upc != nil {
		var err error
		found, err = s.upc.SearchUPC(ctx, digits)
		if err != nil {
			s.log.Warn().Err(err).Str("upc", digits).Msg("flow: поиск по UPC не удался")
		}
	}
	metrics.IncFlowEvent(string(flow.Name), "resolve")
	if len(found) == 0 {
		return s.messenger.Send(ctx, in.ChatID, domain.TextReply(upcNotFound))
	}
	if err := s.save(ctx, flow, 1, domain.UPCDraft{UPC: digits, Candidates: found}); err != nil {
		return err
	}
	return s.messenger.Send(ctx, in.ChatID, upcReply(found))
}

func upcReply(found []domain.UPCCandidate) domain.Reply {
	cancel := domain.Row(domain.DataButton("Отмена", "smartlink:upc_cancel"))
	if len(found) == 1 {
		c := found[0]
		return domain.Reply{
			Text: fmt.Sprintf("Нашёл: %s — %s\n%s\n\nПодтверждаешь?", orDash(c.Artist, "Без артиста"), c.Title, c.SpotifyURL),
			Keyboard: domain.Keyboard{
				domain.Row(domain.DataButton("✅ Подтвердить", "smartlink:upc_pick:0")),
				cancel,
			},
		}
	}
	kb := make(domain.Keyboard, 0, len(found)+1)
	for i, c := range found {
		kb = append(kb, domain.Row(domain.DataButton(upcLabel(c, i), "smartlink:upc_pick:"+strconv.Itoa(i))))
	}
	return domain.Reply{Text: "Выбери релиз по UPC:", Keyboard: append(kb, cancel)}
}

func upcLabel(c domain.UPCCandidate, i int) string {
	label := strings.Trim(c.Artist+" — "+c.Title, " —")
	if label == "" {
		return fmt.Sprintf("Вариант %d", i+1)
	}
	if r := []rune(label); len(r) > maxUPCLabel {
		label = string(r[:maxUPCLabel-3]) + "…"
	}
	return label
}

// PickUPC применяет выбранный вариант. Если последний смартлинк заполнен,
// сохраняется его копия со ссылкой Spotify, иначе начинается ручное создание.
func (s *Service) PickUPC(ctx context.Context, userID, chatID int64, idx int) error {
	flow, err := s.flows.GetFlow(ctx, userID)
	if errors.Is(err, domain.ErrFlowNotFound) {
		return domain.ErrFlowStale
	}
	if err != nil {
		return err
	}
	d, ok := flow.Draft.(domain.UPCDraft)
	if !ok || idx < 0 || idx >= len(d.Candidates) {
		return domain.ErrFlowStale
	}
	if err := s.flows.ClearFlow(ctx, userID); err != nil {
		return err
	}
	metrics.IncFlowEvent(string(flow.Name), "finish")

	spotifyURL := d.Candidates[idx].SpotifyURL
	if canonical, _, ok := links.Normalize(spotifyURL, domain.PlatformSpotify.String()); ok {
		spotifyURL = canonical
	}

	latest, err := s.smartlinks.LatestSmartlink(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSmartlinkNotFound) {
		return fmt.Errorf("последний смартлинк: %w", err)
	}
	if err != nil || latest.Artist == "" || latest.Title == "" || latest.CoverFileID == "" {
		if err := s.messenger.Send(ctx, chatID, domain.TextReply(upcManual)); err != nil {
			s.log.Warn().Err(err).Msg("flow: не отправлено сообщение о найденном релизе")
		}
		return s.startCreate(ctx, userID, chatID, domain.CreateDraft{
			Links: domain.Links{domain.PlatformSpotify: spotifyURL},
		})
	}

	next := latest
	next.ID = 0
	next.Links = latest.Links.Clone()
	next.Links[domain.PlatformSpotify] = spotifyURL
	created, err := s.smartlinks.CreateSmartlink(ctx, next)
	if err != nil {
		return fmt.Errorf("сохранение смартлинка: %w", err)
	}
	metrics.SmartlinksCreated.WithLabelValues("upc").Inc()
	s.log.Info().Int64("user_id", userID).Int64("smartlink_id", created.ID).Str("source", "upc").Msg("смартлинк создан")

	if err := s.cards.SendCard(ctx, chatID, userID, created, card.NoPage); err != nil {
		s.log.Warn().Err(err).Int64("smartlink_id", created.ID).Msg("flow: карточка не отправлена")
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(upcUpdated))
}

// CancelUPC сбрасывает поиск по UPC.
func (s *Service) CancelUPC(ctx context.Context, userID, chatID int64) error {
	return s.Cancel(ctx, userID, chatID, "Ок, не сохраняю.")
}
