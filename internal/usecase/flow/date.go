package flow

import (
	"context"
	"errors"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

const (
	releaseDatePrompt = "Введи дату релиза в формате ДД.ММ.ГГГГ.\nПример: 31.12.2025\n\nОтмена: /cancel"
	releaseDateRetry  = "Не понял дату. Формат: ДД.ММ.ГГГГ. Пример: 31.12.2025\n\nПопробуй ещё раз:"
)

// StartReleaseDate ждёт от пользователя дату релиза для таймлайна.
func (s *Service) StartReleaseDate(ctx context.Context, userID, chatID int64) error {
	if s.dates == nil {
		return errors.New("ввод даты релиза не подключён")
	}
	if _, err := s.start(ctx, userID, 0, domain.ReleaseDateDraft{}); err != nil {
		return err
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(releaseDatePrompt))
}

func (s *Service) handleReleaseDate(ctx context.Context, flow domain.Flow, in Input) error {
	if _, err := domain.ParseDate(in.Text); err != nil {
		return s.invalid(ctx, flow, in.ChatID, domain.TextReply(releaseDateRetry))
	}
	if s.dates == nil {
		return s.flows.ClearFlow(ctx, flow.UserID)
	}
	reply, err := s.dates.SetReleaseDate(ctx, flow.UserID, in.Text)
	if err != nil {
		return err
	}
	if err := s.flows.ClearFlow(ctx, flow.UserID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", flow.UserID).Msg("flow: не удалось сбросить диалог")
	}
	metrics.IncFlowEvent(string(flow.Name), "finish")
	return s.messenger.Send(ctx, in.ChatID, reply)
}
