// Package flow ведёт пошаговые диалоги: ручное создание, импорт по ссылке,
// подтверждение импорта, правку одного поля сохранённого смартлинка,
// поиск по UPC и ввод даты релиза.
package flow

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

// CardSender отправляет карточку смартлинка.
type CardSender interface {
	SendCard(ctx context.Context, chatID, viewerID int64, s domain.Smartlink, page int) error
}

// ReleaseDateSetter сохраняет дату релиза пользователя и возвращает ответ с таймлайном.
type ReleaseDateSetter interface {
	SetReleaseDate(ctx context.Context, tgUserID int64, raw string) (domain.Reply, error)
}

// Input описывает входящее сообщение пользователя внутри диалога.
type Input struct {
	UserID      int64
	ChatID      int64
	Text        string
	PhotoFileID string
}

// Service реализует машину состояний диалогов.
type Service struct {
	flows      domain.FlowRepo
	smartlinks domain.SmartlinkRepo
	resolver   domain.Resolver
	covers     domain.CoverHost
	messenger  domain.Messenger
	cards      CardSender
	upc        domain.UPCSearcher
	dates      ReleaseDateSetter
	log        zerolog.Logger

	newNonce func() string
}

// Option подключает необязательные зависимости.
type Option func(*Service)

// WithUPCSearch включает поиск релиза по UPC.
func WithUPCSearch(searcher domain.UPCSearcher) Option {
	return func(s *Service) {
		s.upc = searcher
	}
}

// WithReleaseDates подключает ввод даты релиза для таймлайна.
func WithReleaseDates(dates ReleaseDateSetter) Option {
	return func(s *Service) {
		s.dates = dates
	}
}

// NewService создаёт сервис диалогов. covers может быть nil: тогда обложки по ссылке не подтягиваются.
func NewService(flows domain.FlowRepo, smartlinks domain.SmartlinkRepo, resolver domain.Resolver, covers domain.CoverHost, messenger domain.Messenger, cards CardSender, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		flows:      flows,
		smartlinks: smartlinks,
		resolver:   resolver,
		covers:     covers,
		messenger:  messenger,
		cards:      cards,
		log:        log,
		newNonce:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage передаёт сообщение активному диалогу.
// Возвращает false, если диалога нет и сообщение нужно обработать иначе.
func (s *Service) HandleMessage(ctx context.Context, in Input) (bool, error) {
	flow, err := s.flows.GetFlow(ctx, in.UserID)
	if errors.Is(err, domain.ErrFlowNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	in.Text = strings.TrimSpace(in.Text)

	switch draft := flow.Draft.(type) {
	case domain.CreateDraft:
		err = s.handleCreate(ctx, flow, draft, in, false)
	case domain.ImportDraft:
		err = s.handleImport(ctx, flow, in)
	case domain.ReviewDraft:
		err = s.handleReview(ctx, flow, draft, in)
	case domain.EditDraft:
		err = s.handleEdit(ctx, flow, draft, in)
	case domain.UPCDraft:
		err = s.handleUPC(ctx, flow, in)
	case domain.ReleaseDateDraft:
		err = s.handleReleaseDate(ctx, flow, in)
	default:
		err = s.flows.ClearFlow(ctx, in.UserID)
	}
	if errors.Is(err, domain.ErrFlowStale) {
		metrics.IncFlowEvent(string(flow.Name), "stale")
		s.log.Debug().Int64("user_id", in.UserID).Str("flow", string(flow.Name)).Msg("flow: устаревший шаг отброшен")
		return true, nil
	}
	return true, err
}

// Skip обрабатывает кнопку «Пропустить».
func (s *Service) Skip(ctx context.Context, userID, chatID int64) error {
	flow, err := s.flows.GetFlow(ctx, userID)
	if err != nil {
		return err
	}
	in := Input{UserID: userID, ChatID: chatID, Text: skipToken}
	switch draft := flow.Draft.(type) {
	case domain.CreateDraft:
		err = s.handleCreate(ctx, flow, draft, in, true)
	case domain.EditDraft:
		if draft.Target == domain.EditTitle || draft.Target == domain.EditCover {
			return domain.ErrFlowNotFound
		}
		err = s.handleEdit(ctx, flow, draft, in)
	default:
		return domain.ErrFlowNotFound
	}
	if errors.Is(err, domain.ErrFlowStale) {
		return nil
	}
	return err
}

// Cancel безусловно сбрасывает активный диалог.
func (s *Service) Cancel(ctx context.Context, userID, chatID int64, text string) error {
	flow, err := s.flows.GetFlow(ctx, userID)
	if err == nil {
		metrics.IncFlowEvent(string(flow.Name), "cancel")
	}
	if err := s.flows.ClearFlow(ctx, userID); err != nil {
		return err
	}
	if text == "" {
		text = "Ок, отменил."
	}
	return s.messenger.Send(ctx, chatID, domain.TextReply(text))
}

// Active сообщает, есть ли у пользователя незавершённый диалог.
func (s *Service) Active(ctx context.Context, userID int64) (domain.FlowName, bool) {
	flow, err := s.flows.GetFlow(ctx, userID)
	if err != nil {
		return "", false
	}
	return flow.Name, true
}

func (s *Service) start(ctx context.Context, userID int64, step int, draft domain.FlowDraft) (domain.Flow, error) {
	flow := domain.Flow{
		UserID: userID,
		Name:   draft.FlowName(),
		Step:   step,
		Nonce:  s.newNonce(),
		Draft:  draft,
	}
	if err := s.flows.StartFlow(ctx, flow); err != nil {
		return domain.Flow{}, err
	}
	metrics.IncFlowEvent(string(flow.Name), "start")
	return flow, nil
}

// replace переводит диалог prev в новое состояние, если его не отменили и не перезапустили.
func (s *Service) replace(ctx context.Context, prev domain.Flow, step int, draft domain.FlowDraft) (domain.Flow, error) {
	flow := domain.Flow{
		UserID: prev.UserID,
		Name:   draft.FlowName(),
		Step:   step,
		Nonce:  s.newNonce(),
		Draft:  draft,
	}
	if err := s.flows.ReplaceFlow(ctx, prev.Nonce, flow); err != nil {
		return domain.Flow{}, err
	}
	metrics.IncFlowEvent(string(flow.Name), "start")
	return flow, nil
}

func (s *Service) save(ctx context.Context, flow domain.Flow, step int, draft domain.FlowDraft) error {
	flow.Step = step
	flow.Draft = draft
	return s.flows.SaveFlow(ctx, flow)
}

// invalid повторяет шаг с короткой причиной.
func (s *Service) invalid(ctx context.Context, flow domain.Flow, chatID int64, reply domain.Reply) error {
	metrics.IncFlowEvent(string(flow.Name), "invalid")
	return s.messenger.Send(ctx, chatID, reply)
}

const (
	skipToken   = "пропустить"
	maxCaption  = 600
	minArtist   = 2
	cancelHint  = "\n\n(Отмена: /cancel)"
	notFoundMsg = "Смартлинк не найден."
)

var (
	skipWords   = map[string]bool{"пропустить": true, "skip": true}
	noDateWords = map[string]bool{"нет": true, "no": true, "пропустить": true, "skip": true}
	removeWords = map[string]bool{"удалить": true, "delete": true, "remove": true, "пропустить": true, "skip": true}
)

func isSkip(text string) bool { return skipWords[strings.ToLower(text)] }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func looksLikeURL(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
