package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/infra/security"
)

const (
	captionLimit  = 1024
	maxCoverBytes = 10 << 20
)

// API описывает часть tgbotapi.BotAPI, которой пользуется мессенджер.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Messenger отправляет ответы через Bot API.
type Messenger struct {
	api    API
	client *http.Client
	log    zerolog.Logger
}

// NewMessenger создаёт мессенджер. client используется для скачивания обложек.
func NewMessenger(api API, client *http.Client, log zerolog.Logger) *Messenger {
	return &Messenger{api: api, client: client, log: log}
}

var (
	_ domain.Messenger = (*Messenger)(nil)
	_ domain.CoverHost = (*Messenger)(nil)
)

// Send отправляет карточку с фото или текст. Если фото не ушло, отправляется текст.
func (m *Messenger) Send(ctx context.Context, chatID int64, reply domain.Reply) error {
	if reply.PhotoFileID != "" && len([]rune(reply.Text)) <= captionLimit {
		err := m.sendPhoto(chatID, reply)
		if err == nil || errors.Is(err, domain.ErrRecipientBlocked) {
			return err
		}
		m.log.Warn().Err(err).Int64("chat", chatID).Msg("telegram: фото не отправилось, шлём текст")
	}
	return m.sendText(chatID, reply)
}

func (m *Messenger) sendPhoto(chatID int64, reply domain.Reply) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(reply.PhotoFileID))
	photo.Caption = reply.Text
	if reply.HTML {
		photo.ParseMode = tgbotapi.ModeHTML
	}
	if markup := inlineMarkup(reply.Keyboard); markup != nil {
		photo.ReplyMarkup = markup
	}
	_, err := m.send("send_photo", chatID, photo)
	return err
}

func (m *Messenger) sendText(chatID int64, reply domain.Reply) error {
	parts := SplitMessage(reply.Text, messageLimit)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if reply.HTML {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		if i == len(parts)-1 {
			if markup := inlineMarkup(reply.Keyboard); markup != nil {
				msg.ReplyMarkup = markup
			}
		}
		if _, err := m.send("send_message", chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Edit заменяет сообщение. Если заменить нельзя, отправляет новое.
func (m *Messenger) Edit(ctx context.Context, chatID int64, messageID int, reply domain.Reply) error {
	markup := inlineMarkup(reply.Keyboard)
	var edit tgbotapi.Chattable
	if reply.PhotoFileID != "" {
		cfg := tgbotapi.NewEditMessageCaption(chatID, messageID, reply.Text)
		if reply.HTML {
			cfg.ParseMode = tgbotapi.ModeHTML
		}
		cfg.ReplyMarkup = markup
		edit = cfg
	} else {
		cfg := tgbotapi.NewEditMessageText(chatID, messageID, reply.Text)
		cfg.DisableWebPagePreview = true
		if reply.HTML {
			cfg.ParseMode = tgbotapi.ModeHTML
		}
		cfg.ReplyMarkup = markup
		edit = cfg
	}
	start := time.Now()
	_, err := m.api.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(chatID, 10), start, err)
	switch {
	case err == nil:
		return nil
	case isNotModified(err):
		return nil
	case isBlocked(err):
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("%w: %v", domain.ErrRecipientBlocked, err)
	}
	m.log.Debug().Err(err).Int64("chat", chatID).Msg("telegram: правка не удалась, отправляем заново")
	return m.Send(ctx, chatID, reply)
}

// AnswerCallback закрывает индикатор загрузки на кнопке. alert показывает окно вместо всплывашки.
func (m *Messenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	start := time.Now()
	_, err := m.api.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	return err
}

// HostCover скачивает обложку и загружает её в Telegram, чтобы получить file id.
// Служебное сообщение с фото сразу удаляется.
func (m *Messenger) HostCover(ctx context.Context, chatID int64, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("запрос обложки: %w", err)
	}
	start := time.Now()
	resp, err := m.client.Do(req)
	metrics.ObserveNetworkRequest("http", "cover_fetch", req.URL.Host, start, err)
	if err != nil {
		return "", fmt.Errorf("скачивание обложки: %w", err)
	}
	defer resp.Body.Close()
	if err := security.StatusError(resp); err != nil {
		return "", fmt.Errorf("скачивание обложки: %w", err)
	}
	data, err := security.ReadLimited(resp.Body, maxCoverBytes)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("пустая обложка")
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "cover.jpg", Bytes: data})
	photo.DisableNotification = true
	msg, err := m.send("upload_cover", chatID, photo)
	if err != nil {
		return "", err
	}
	if len(msg.Photo) == 0 {
		return "", errors.New("telegram не вернул фото")
	}
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if _, err := m.api.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		m.log.Debug().Err(err).Int64("chat", chatID).Msg("telegram: не удалось удалить служебное фото")
	}
	return fileID, nil
}

func (m *Messenger) send(operation string, chatID int64, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	start := time.Now()
	msg, err := m.api.Send(c)
	metrics.ObserveNetworkRequest("telegram_bot", operation, strconv.FormatInt(chatID, 10), start, err)
	if err == nil {
		return msg, nil
	}
	metrics.BotSendErrors.Inc()
	if isBlocked(err) {
		return msg, fmt.Errorf("%w: %v", domain.ErrRecipientBlocked, err)
	}
	return msg, fmt.Errorf("telegram %s: %w", operation, err)
}

func inlineMarkup(kb domain.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// isBlocked распознаёт ответы «бот заблокирован» и «чат не найден».
func isBlocked(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "chat not found")
	}
	return false
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
