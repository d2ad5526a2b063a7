package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/usecase/card"
	"smartlink-bot/internal/usecase/flow"
	"smartlink-bot/internal/usecase/schedule"
	"smartlink-bot/internal/usecase/smartlinks"
)

const (
	viewerID int64 = 1
	ownerID  int64 = 7
)

type answer struct {
	text  string
	alert bool
}

type fakeOut struct {
	sent    []domain.Reply
	edited  []domain.Reply
	answers []answer
}

func (f *fakeOut) Send(_ context.Context, _ int64, reply domain.Reply) error {
	f.sent = append(f.sent, reply)
	return nil
}

func (f *fakeOut) Edit(_ context.Context, _ int64, _ int, reply domain.Reply) error {
	f.edited = append(f.edited, reply)
	return nil
}

func (f *fakeOut) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.answers = append(f.answers, answer{text: text, alert: alert})
	return nil
}

func (f *fakeOut) lastSent(t *testing.T) domain.Reply {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("ничего не отправлено")
	}
	return f.sent[len(f.sent)-1]
}

type memUsers struct {
	domain.UserRepo
	users map[int64]domain.User
}

func (m *memUsers) EnsureUser(_ context.Context, id int64, username string) error {
	if _, ok := m.users[id]; !ok {
		m.users[id] = domain.User{TGUserID: id, Username: username}
	}
	return nil
}

func (m *memUsers) GetUser(_ context.Context, id int64) (domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) SetUserReleaseDate(_ context.Context, id int64, date *time.Time) error {
	u := m.users[id]
	u.ReleaseDate = date
	m.users[id] = u
	return nil
}

func (m *memUsers) UpdateReminderPrefs(_ context.Context, id int64, prefs domain.ReminderPrefs) error {
	u := m.users[id]
	u.Prefs = prefs
	m.users[id] = u
	return nil
}

type memSmartlinks struct {
	domain.SmartlinkRepo
	items map[int64]domain.Smartlink
}

func (m *memSmartlinks) GetSmartlink(_ context.Context, id int64) (domain.Smartlink, error) {
	s, ok := m.items[id]
	if !ok {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, nil
}

func (m *memSmartlinks) GetOwnedSmartlink(ctx context.Context, id, owner int64) (domain.Smartlink, error) {
	s, err := m.GetSmartlink(ctx, id)
	if err != nil || s.OwnerID != owner {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, nil
}

func (m *memSmartlinks) DeleteSmartlink(_ context.Context, id, owner int64) error {
	if s, ok := m.items[id]; !ok || s.OwnerID != owner {
		return domain.ErrSmartlinkNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memSmartlinks) CountSmartlinks(_ context.Context, owner int64) (int, error) {
	n := 0
	for _, s := range m.items {
		if s.OwnerID == owner {
			n++
		}
	}
	return n, nil
}

func (m *memSmartlinks) ListSmartlinks(_ context.Context, owner int64, _, _ int) ([]domain.Smartlink, error) {
	var out []domain.Smartlink
	for _, s := range m.items {
		if s.OwnerID == owner {
			out = append(out, s)
		}
	}
	return out, nil
}

type memSubs struct {
	domain.SubscriptionRepo
	subs map[[2]int64]bool
}

func (m *memSubs) IsSubscribed(_ context.Context, id, subscriber int64) (bool, error) {
	return m.subs[[2]int64{id, subscriber}], nil
}

func (m *memSubs) SetSubscription(_ context.Context, id, subscriber int64, subscribed bool) error {
	m.subs[[2]int64{id, subscriber}] = subscribed
	return nil
}

type memFlows struct {
	flows map[int64]domain.Flow
}

func (m *memFlows) StartFlow(_ context.Context, fl domain.Flow) error {
	m.flows[fl.UserID] = fl
	return nil
}

func (m *memFlows) GetFlow(_ context.Context, id int64) (domain.Flow, error) {
	fl, ok := m.flows[id]
	if !ok {
		return domain.Flow{}, domain.ErrFlowNotFound
	}
	return fl, nil
}

func (m *memFlows) SaveFlow(_ context.Context, fl domain.Flow) error {
	if cur, ok := m.flows[fl.UserID]; !ok || cur.Nonce != fl.Nonce {
		return domain.ErrFlowStale
	}
	m.flows[fl.UserID] = fl
	return nil
}

func (m *memFlows) ReplaceFlow(_ context.Context, expected string, fl domain.Flow) error {
	if cur, ok := m.flows[fl.UserID]; !ok || cur.Nonce != expected {
		return domain.ErrFlowStale
	}
	m.flows[fl.UserID] = fl
	return nil
}

func (m *memFlows) ClearFlow(_ context.Context, id int64) error {
	delete(m.flows, id)
	return nil
}

type fixture struct {
	out   *fakeOut
	links *memSmartlinks
	subs  *memSubs
	users *memUsers
	h     *Handler
}

func newFixture() *fixture {
	f := &fixture{
		out:   &fakeOut{},
		links: &memSmartlinks{items: map[int64]domain.Smartlink{}},
		subs:  &memSubs{subs: map[[2]int64]bool{}},
	}
	f.users = &memUsers{users: map[int64]domain.User{}}
	smartlinkUC := smartlinks.NewService(f.links, f.subs, f.out, time.UTC)
	scheduleUC := schedule.NewService(f.users, time.UTC)
	flowUC := flow.NewService(&memFlows{flows: map[int64]domain.Flow{}}, f.links, nil, nil, f.out, smartlinkUC, zerolog.Nop(), flow.WithReleaseDates(scheduleUC))
	f.h = NewHandler(zerolog.Nop(), f.out, f.users, flowUC, smartlinkUC, scheduleUC)
	return f
}

func (f *fixture) addSmartlink(id, owner int64, releaseIn int) {
	release := domain.DateOnly(time.Now().UTC()).AddDate(0, 0, releaseIn)
	f.links.items[id] = domain.Smartlink{
		ID:               id,
		OwnerID:          owner,
		Artist:           "Artist",
		Title:            "Song",
		ReleaseDate:      &release,
		RemindersEnabled: true,
		PreSaveEnabled:   true,
		Links:            domain.Links{domain.PlatformSpotify: "https://open.spotify.com/track/1"},
	}
}

func command(text string) tgbotapi.Update {
	name := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: viewerID},
		Chat:      &tgbotapi.Chat{ID: viewerID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func press(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: viewerID},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: viewerID}},
	}}
}

func mustContain(t *testing.T, text, substr string) {
	t.Helper()
	if !strings.Contains(text, substr) {
		t.Fatalf("ожидали %q в тексте:\n%s", substr, text)
	}
}

func TestCommands(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "/start", want: "/smartlink"},
		{input: "/nope", want: "Неизвестная команда"},
		{input: "/set_date 45.13.2026", want: "Не понял дату"},
		{input: "/set_date", want: "Введи дату релиза"},
		{input: "/timezone Mars/Olympus", want: "Не знаю такой часовой пояс"},
		{input: "/remind_time 25:61", want: "Формат времени"},
		{input: "/remind_offsets -7,-1", want: "-7,-1"},
		{input: "/remind_offsets", want: "Дни относительно релиза: -7,-1,0,7"},
		{input: "/smartlinks", want: "смарт"},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			f := newFixture()
			f.h.HandleUpdate(context.Background(), command(tc.input))
			mustContain(t, strings.ToLower(f.out.lastSent(t).Text), strings.ToLower(tc.want))
		})
	}
}

func text(body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: viewerID},
		Chat: &tgbotapi.Chat{ID: viewerID},
		Text: body,
	}}
}

func TestSetDateForm(t *testing.T) {
	for _, start := range []tgbotapi.Update{command("/set_date"), press("timeline:set_date")} {
		f := newFixture()
		f.h.HandleUpdate(context.Background(), start)
		mustContain(t, f.out.lastSent(t).Text, "Введи дату релиза")

		f.h.HandleUpdate(context.Background(), text("31.02.2026"))
		mustContain(t, f.out.lastSent(t).Text, "Попробуй ещё раз")

		f.h.HandleUpdate(context.Background(), text("5.3.2026"))
		mustContain(t, f.out.lastSent(t).Text, "Ок. Дата релиза: 05.03.2026")
		got := f.users.users[viewerID].ReleaseDate
		if got == nil || !got.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("дата не сохранена: %v", got)
		}

		f.h.HandleUpdate(context.Background(), text("привет"))
		mustContain(t, f.out.lastSent(t).Text, "/help")
	}
}

func TestUPCWithoutCredentials(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), press("smartlink:upc"))
	last := f.out.answers[len(f.out.answers)-1]
	if !last.alert || last.text != "Не задан SPOTIFY_CLIENT_ID/SECRET" {
		t.Fatalf("ожидали окно про ключи Spotify, получили %+v", last)
	}

	f.h.HandleUpdate(context.Background(), press("smartlink:upc_pick:0"))
	last = f.out.answers[len(f.out.answers)-1]
	if !last.alert || last.text != "Запрос устарел, пришли UPC снова" {
		t.Fatalf("выбор без поиска устарел, получили %+v", last)
	}

	f.h.HandleUpdate(context.Background(), command("/start"))
	for _, row := range f.out.lastSent(t).Keyboard {
		for _, b := range row {
			if b.Data == "smartlink:upc" {
				t.Fatal("кнопка UPC скрыта без ключей")
			}
		}
	}
}

func TestPlainTextWithoutFlow(t *testing.T) {
	f := newFixture()
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: viewerID},
		Chat: &tgbotapi.Chat{ID: viewerID},
		Text: "привет",
	}}
	f.h.HandleUpdate(context.Background(), upd)
	mustContain(t, f.out.lastSent(t).Text, "/help")
}

func TestSubscriptionToggle(t *testing.T) {
	f := newFixture()
	f.addSmartlink(3, ownerID, 10)

	f.h.HandleUpdate(context.Background(), press("smartrem:3:toggle"))
	if !f.subs.subs[[2]int64{3, viewerID}] {
		t.Fatal("подписка должна включиться")
	}
	if len(f.out.edited) != 1 || f.out.answers[0].text != "Напомню" {
		t.Fatalf("ожидали обновлённую карточку и уведомление, получили %+v", f.out.answers)
	}
	for _, row := range f.out.edited[0].Keyboard {
		for _, b := range row {
			if b.URL != "" {
				t.Fatal("во время пресейва кнопок площадок нет")
			}
		}
	}
}

func TestSubscriptionAfterRelease(t *testing.T) {
	f := newFixture()
	f.addSmartlink(3, ownerID, -1)

	f.h.HandleUpdate(context.Background(), press("smartrem:3:toggle"))
	if len(f.out.answers) != 1 || !f.out.answers[0].alert {
		t.Fatal("ожидали окно с объяснением")
	}
	mustContain(t, f.out.answers[0].text, "Релиз уже вышел")
	if len(f.subs.subs) != 0 {
		t.Fatal("подписка не должна создаваться")
	}
}

func TestOwnerOnlyActions(t *testing.T) {
	f := newFixture()
	f.addSmartlink(3, ownerID, 10)

	for _, data := range []string{"smartlinks:view:3:0", "smartlinks:edit_menu:3:0", "smartlinks:delete:3:0", "smartlinks:exportfmt:3:0:tg"} {
		f.h.HandleUpdate(context.Background(), press(data))
		last := f.out.answers[len(f.out.answers)-1]
		if !last.alert || last.text != "Смартлинк не найден." {
			t.Fatalf("%s: чужой смартлинк недоступен, получили %+v", data, last)
		}
	}
	if _, ok := f.links.items[3]; !ok {
		t.Fatal("чужой смартлинк не удаляется")
	}

	f.h.HandleUpdate(context.Background(), press("smartlinks:copy:3"))
	mustContain(t, f.out.lastSent(t).Text, "https://open.spotify.com/track/1")
}

func TestBrandingLocked(t *testing.T) {
	f := newFixture()
	f.addSmartlink(3, viewerID, 10)

	f.h.HandleUpdate(context.Background(), press("smartlinks:branding_toggle:3:0"))
	last := f.out.answers[len(f.out.answers)-1]
	if !last.alert {
		t.Fatal("ожидали окно с объяснением")
	}
	mustContain(t, last.text, "брендинг")
}

func TestCallbackArgs(t *testing.T) {
	cb := &callback{parts: strings.Split("smartlinks:exportfmt:42:-1:vk", ":")}
	if id, ok := cb.id(2); !ok || id != 42 {
		t.Fatalf("id = %d, %v", id, ok)
	}
	if cb.page(3) != card.NoPage {
		t.Fatal("страница -1 означает карточку вне списка")
	}
	if cb.arg(4) != "vk" || cb.arg(9) != "" {
		t.Fatal("неожиданные аргументы")
	}
	if cb.page(9) != card.NoPage {
		t.Fatal("отсутствующая страница")
	}
	if _, ok := cb.id(1); ok {
		t.Fatal("не число")
	}
}
