package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/usecase/card"
	"smartlink-bot/internal/usecase/flow"
	"smartlink-bot/internal/usecase/schedule"
	"smartlink-bot/internal/usecase/smartlinks"
)

// Messenger отправляет сообщения и отвечает на нажатия кнопок.
type Messenger interface {
	domain.Messenger
	Edit(ctx context.Context, chatID int64, messageID int, reply domain.Reply) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Handler обслуживает вебхук бота.
type Handler struct {
	log         zerolog.Logger
	out         Messenger
	users       domain.UserRepo
	flowUC      *flow.Service
	smartlinkUC *smartlinks.Service
	scheduleUC  *schedule.Service
}

// NewHandler создаёт обработчик.
func NewHandler(log zerolog.Logger, out Messenger, users domain.UserRepo, flowUC *flow.Service, smartlinkUC *smartlinks.Service, scheduleUC *schedule.Service) *Handler {
	return &Handler{
		log:         log,
		out:         out,
		users:       users,
		flowUC:      flowUC,
		smartlinkUC: smartlinkUC,
		scheduleUC:  scheduleUC,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID, userID := msg.Chat.ID, msg.From.ID
	if err := h.users.EnsureUser(ctx, userID, msg.From.UserName); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("не удалось сохранить пользователя")
	}

	if !msg.IsCommand() {
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		handled, err := h.flowUC.HandleMessage(ctx, flow.Input{
			UserID:      userID,
			ChatID:      chatID,
			Text:        text,
			PhotoFileID: largestPhoto(msg.Photo),
		})
		if err != nil {
			h.fail(ctx, chatID, err)
			return
		}
		if !handled {
			h.reply(ctx, chatID, domain.TextReply("Не понял сообщение. Список команд: /help"))
		}
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	var err error
	switch msg.Command() {
	case "start", "help":
		text := helpMessage
		if _, active := h.flowUC.Active(ctx, userID); active {
			text += "\n\nУ тебя есть незавершённый диалог. Продолжи его или нажми /cancel."
		}
		h.reply(ctx, chatID, domain.Reply{Text: text, Keyboard: mainKeyboard(h.flowUC.UPCEnabled())})
	case "cancel":
		err = h.flowUC.Cancel(ctx, userID, chatID, "")
	case "smartlink":
		err = h.flowUC.StartCreate(ctx, userID, chatID)
	case "import":
		err = h.flowUC.StartImport(ctx, userID, chatID)
	case "smartlinks":
		err = h.sendList(ctx, chatID, userID, 0)
	case "last":
		err = h.smartlinkUC.OpenLatest(ctx, chatID, userID)
	case "set_date":
		if args == "" {
			err = h.flowUC.StartReleaseDate(ctx, userID, chatID)
		} else {
			err = h.handleSetDate(ctx, chatID, userID, args)
		}
	case "timeline":
		err = h.sendTimeline(ctx, chatID, userID)
	case "reminders":
		var reply domain.Reply
		if reply, err = h.scheduleUC.ToggleReminders(ctx, userID); err == nil {
			h.reply(ctx, chatID, reply)
		}
	case "timezone":
		err = h.handleTimezone(ctx, chatID, userID, args)
	case "remind_time":
		err = h.handleRemindTime(ctx, chatID, userID, args)
	case "remind_offsets":
		err = h.handleRemindOffsets(ctx, chatID, userID, args)
	default:
		h.reply(ctx, chatID, domain.TextReply("Неизвестная команда. Используйте /help"))
	}
	if err != nil {
		h.fail(ctx, chatID, err)
	}
}

func (h *Handler) handleSetDate(ctx context.Context, chatID, userID int64, args string) error {
	reply, err := h.scheduleUC.SetReleaseDate(ctx, userID, args)
	if errors.Is(err, domain.ErrInvalidDate) {
		h.reply(ctx, chatID, reply)
		return nil
	}
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, reply)
	return nil
}

func (h *Handler) handleTimezone(ctx context.Context, chatID, userID int64, args string) error {
	if args == "" {
		return h.sendSettings(ctx, chatID, userID)
	}
	tz, err := h.scheduleUC.UpdateTimezone(ctx, userID, args)
	if errors.Is(err, schedule.ErrInvalidTimezone) {
		h.reply(ctx, chatID, domain.TextReply("Не знаю такой часовой пояс. Пример: /timezone Europe/Moscow"))
		return nil
	}
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, domain.TextReply("Часовой пояс напоминаний: "+tz))
	return nil
}

func (h *Handler) handleRemindTime(ctx context.Context, chatID, userID int64, args string) error {
	if args == "" {
		return h.sendSettings(ctx, chatID, userID)
	}
	value, err := h.scheduleUC.UpdateReminderTime(ctx, userID, args)
	if errors.Is(err, schedule.ErrInvalidTime) {
		h.reply(ctx, chatID, domain.TextReply("Формат времени ЧЧ:ММ. Пример: /remind_time 12:00"))
		return nil
	}
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, domain.TextReply("Напоминания о релизах приходят в "+value))
	return nil
}

func (h *Handler) handleRemindOffsets(ctx context.Context, chatID, userID int64, args string) error {
	if args == "" {
		return h.sendSettings(ctx, chatID, userID)
	}
	offsets, err := h.scheduleUC.UpdateOffsets(ctx, userID, args)
	if errors.Is(err, schedule.ErrInvalidOffsets) {
		h.reply(ctx, chatID, domain.TextReply("Перечисли дни через запятую. Пример: /remind_offsets -7,-1,0,7"))
		return nil
	}
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, domain.TextReply("Дни напоминаний относительно релиза: "+schedule.FormatOffsets(offsets)))
	return nil
}

func (h *Handler) sendSettings(ctx context.Context, chatID, userID int64) error {
	text, err := h.scheduleUC.Settings(ctx, userID)
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, domain.TextReply(text))
	return nil
}

func (h *Handler) sendTimeline(ctx context.Context, chatID, userID int64) error {
	reply, err := h.scheduleUC.Timeline(ctx, userID)
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, reply)
	return nil
}

func (h *Handler) sendList(ctx context.Context, chatID, userID int64, page int) error {
	reply, err := h.smartlinkUC.List(ctx, userID, page)
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, reply)
	return nil
}

// callback — разобранное нажатие кнопки.
type callback struct {
	chatID    int64
	messageID int
	userID    int64
	parts     []string
	notice    string
	alert     bool
}

func (c *callback) id(i int) (int64, bool) {
	if i >= len(c.parts) {
		return 0, false
	}
	v, err := strconv.ParseInt(c.parts[i], 10, 64)
	return v, err == nil
}

func (c *callback) page(i int) int {
	if i >= len(c.parts) {
		return card.NoPage
	}
	v, err := strconv.Atoi(c.parts[i])
	if err != nil {
		return card.NoPage
	}
	return v
}

func (c *callback) arg(i int) string {
	if i >= len(c.parts) {
		return ""
	}
	return c.parts[i]
}

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		h.answer(ctx, cq.ID, "", false)
		return
	}
	cb := &callback{
		chatID:    cq.Message.Chat.ID,
		messageID: cq.Message.MessageID,
		userID:    cq.From.ID,
		parts:     strings.Split(cq.Data, ":"),
	}
	if err := h.users.EnsureUser(ctx, cb.userID, cq.From.UserName); err != nil {
		h.log.Error().Err(err).Int64("user", cb.userID).Msg("не удалось сохранить пользователя")
	}

	var err error
	switch cb.arg(0) {
	case "smartlink":
		err = h.flowCallback(ctx, cb)
	case "smartlinks":
		err = h.smartlinksCallback(ctx, cb)
	case "smartrem":
		err = h.remindCallback(ctx, cb)
	case "reminders":
		var reply domain.Reply
		if reply, err = h.scheduleUC.ToggleReminders(ctx, cb.userID); err == nil {
			h.edit(ctx, cb, reply)
			cb.notice = "Напоминания обновлены"
		}
	case "timeline":
		if cb.arg(1) == "set_date" {
			err = h.flowUC.StartReleaseDate(ctx, cb.userID, cb.chatID)
		} else {
			err = h.sendTimeline(ctx, cb.chatID, cb.userID)
		}
	default:
		h.log.Warn().Str("data", cq.Data).Msg("неизвестная кнопка")
	}
	if err != nil {
		cb.notice, cb.alert = h.explain(err), true
	}
	h.answer(ctx, cq.ID, cb.notice, cb.alert)
}

func (h *Handler) flowCallback(ctx context.Context, cb *callback) error {
	switch cb.arg(1) {
	case "start":
		return h.flowUC.StartCreate(ctx, cb.userID, cb.chatID)
	case "import":
		return h.flowUC.StartImport(ctx, cb.userID, cb.chatID)
	case "upc":
		return h.flowUC.StartUPC(ctx, cb.userID, cb.chatID)
	case "upc_pick":
		idx, err := strconv.Atoi(cb.arg(2))
		if err != nil {
			cb.notice, cb.alert = "Не понял выбор", true
			return nil
		}
		err = h.flowUC.PickUPC(ctx, cb.userID, cb.chatID, idx)
		switch {
		case errors.Is(err, domain.ErrFlowStale):
			cb.notice, cb.alert = "Запрос устарел, пришли UPC снова", true
			return nil
		case err == nil:
			cb.notice = "Готово"
		}
		return err
	case "upc_cancel":
		return h.flowUC.CancelUPC(ctx, cb.userID, cb.chatID)
	case "skip":
		return h.flowUC.Skip(ctx, cb.userID, cb.chatID)
	case "cancel":
		return h.flowUC.Cancel(ctx, cb.userID, cb.chatID, "")
	case "import_source":
		platform, ok := domain.ParsePlatform(cb.arg(2))
		if !ok {
			return domain.ErrFlowNotFound
		}
		return h.flowUC.SwitchSource(ctx, cb.userID, cb.chatID, platform)
	case "import_confirm", "prefill_continue":
		return h.flowUC.Continue(ctx, cb.userID, cb.chatID)
	case "import_edit":
		return h.flowUC.OpenEditor(ctx, cb.userID, cb.chatID)
	case "import_cancel":
		return h.flowUC.CancelImport(ctx, cb.userID, cb.chatID)
	case "prefill_edit":
		field := domain.PrefillField(cb.arg(2))
		switch field {
		case domain.PrefillArtist, domain.PrefillTitle, domain.PrefillCover:
			return h.flowUC.RequestField(ctx, cb.userID, cb.chatID, field)
		}
		return domain.ErrFlowNotFound
	}
	return nil
}

func (h *Handler) smartlinksCallback(ctx context.Context, cb *callback) error {
	action := cb.arg(1)
	switch action {
	case "list":
		reply, err := h.smartlinkUC.List(ctx, cb.userID, max(cb.page(2), 0))
		if err != nil {
			return err
		}
		h.edit(ctx, cb, reply)
		return nil
	case "create":
		return h.flowUC.StartCreate(ctx, cb.userID, cb.chatID)
	case "copy":
		id, ok := cb.id(2)
		if !ok {
			return domain.ErrSmartlinkNotFound
		}
		reply, err := h.smartlinkUC.Copy(ctx, id)
		if err != nil {
			return err
		}
		h.reply(ctx, cb.chatID, reply)
		return nil
	}

	id, ok := cb.id(2)
	if !ok {
		return domain.ErrSmartlinkNotFound
	}
	page := cb.page(3)
	var (
		reply domain.Reply
		err   error
	)
	switch action {
	case "view":
		reply, err = h.smartlinkUC.View(ctx, cb.userID, id, page)
	case "open":
		return h.smartlinkUC.Open(ctx, cb.chatID, cb.userID, id, page)
	case "edit_menu":
		reply, err = h.smartlinkUC.EditMenu(ctx, cb.userID, id, page)
	case "edit_links":
		reply, err = h.smartlinkUC.LinksMenu(ctx, cb.userID, id, page)
	case "branding_toggle":
		reply, cb.notice, err = h.smartlinkUC.ToggleBranding(ctx, cb.userID, id, page)
	case "delete":
		reply, err = h.smartlinkUC.Delete(ctx, cb.userID, id, page)
		cb.notice = "Смарт-линк удалён"
	case "export":
		reply, err = h.smartlinkUC.ExportMenu(ctx, cb.userID, id, page)
	case "export_back":
		if page == card.NoPage {
			return h.smartlinkUC.Open(ctx, cb.chatID, cb.userID, id, page)
		}
		reply, err = h.smartlinkUC.View(ctx, cb.userID, id, page)
	case "exportfmt":
		variant, ok := card.ParseExportVariant(cb.arg(4))
		if !ok {
			return nil
		}
		if reply, err = h.smartlinkUC.Export(ctx, cb.userID, id, variant); err == nil {
			h.reply(ctx, cb.chatID, reply)
		}
		return err
	case "edit_field":
		target := domain.EditTarget(cb.arg(4))
		switch target {
		case domain.EditTitle, domain.EditDate, domain.EditCaption, domain.EditCover:
			return h.flowUC.StartEdit(ctx, cb.userID, cb.chatID, id, page, target, domain.PlatformUnknown)
		}
		return nil
	case "edit_link":
		platform, ok := domain.ParsePlatform(cb.arg(4))
		if !ok {
			return nil
		}
		return h.flowUC.StartEdit(ctx, cb.userID, cb.chatID, id, page, domain.EditLink, platform)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	h.edit(ctx, cb, reply)
	return nil
}

func (h *Handler) remindCallback(ctx context.Context, cb *callback) error {
	id, ok := cb.id(1)
	if !ok || cb.arg(2) != "toggle" {
		return nil
	}
	reply, notice, err := h.smartlinkUC.ToggleSubscription(ctx, cb.userID, id)
	if err != nil {
		return err
	}
	cb.notice = notice
	h.edit(ctx, cb, reply)
	return nil
}

func (h *Handler) explain(err error) string {
	switch {
	case errors.Is(err, domain.ErrSmartlinkNotFound):
		return "Смартлинк не найден."
	case errors.Is(err, domain.ErrUPCDisabled):
		return "Не задан SPOTIFY_CLIENT_ID/SECRET"
	case errors.Is(err, domain.ErrFlowNotFound), errors.Is(err, domain.ErrFlowStale):
		return "Это действие уже неактуально. Начни заново: /smartlink или /import"
	case errors.Is(err, domain.ErrBrandingLocked):
		return "Отключить брендинг можно после оплаты."
	case errors.Is(err, domain.ErrNotPreRelease):
		return "Релиз уже вышел, напоминание не нужно."
	case errors.Is(err, domain.ErrUserNotFound):
		return "Нажми /start, чтобы начать."
	}
	h.log.Error().Err(err).Msg("ошибка обработки запроса")
	return "Что-то пошло не так. Попробуй ещё раз."
}

func (h *Handler) fail(ctx context.Context, chatID int64, err error) {
	h.reply(ctx, chatID, domain.TextReply(h.explain(err)))
}

func (h *Handler) reply(ctx context.Context, chatID int64, reply domain.Reply) {
	if err := h.out.Send(ctx, chatID, reply); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить сообщение")
	}
}

func (h *Handler) edit(ctx context.Context, cb *callback, reply domain.Reply) {
	if err := h.out.Edit(ctx, cb.chatID, cb.messageID, reply); err != nil {
		h.log.Error().Err(err).Int64("chat", cb.chatID).Msg("не удалось обновить сообщение")
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := h.out.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		h.log.Debug().Err(err).Msg("не удалось ответить на нажатие")
	}
}

func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	if len(sizes) == 0 {
		return ""
	}
	return sizes[len(sizes)-1].FileID
}

func mainKeyboard(upc bool) domain.Keyboard {
	kb := domain.Keyboard{
		domain.Row(
			domain.DataButton("➕ Создать смарт-линк", "smartlink:start"),
			domain.DataButton("🔎 Импорт по ссылке", "smartlink:import"),
		),
	}
	if upc {
		kb = append(kb, domain.Row(domain.DataButton("⚡ Автозаполнение по UPC", "smartlink:upc")))
	}
	return append(kb, domain.Row(
		domain.DataButton("📚 Мои смарт-линки", "smartlinks:list:0"),
		domain.DataButton("📅 Таймлайн", "timeline:show"),
	))
}

const helpMessage = `Привет! Я помогаю собрать смарт-линк на релиз и не пропустить дедлайны.

Смарт-линки
/smartlink — создать смарт-линк по шагам
/import — собрать по одной ссылке на трек или BandLink
/smartlinks — мои смарт-линки
/last — последний смарт-линк
/cancel — отменить текущее действие

Релиз и напоминания
/set_date ДД.ММ.ГГГГ — дата релиза (без даты спрошу её отдельно)
/timeline — таймлайн подготовки
/reminders — включить или выключить напоминания о дедлайнах
/timezone Europe/Moscow — часовой пояс
/remind_time 12:00 — время напоминаний
/remind_offsets -7,-1,0,7 — за сколько дней напоминать`
