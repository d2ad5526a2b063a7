package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
)

var moscow = time.FixedZone("MSK", 3*60*60)

type stubUsers struct {
	domain.UserRepo
	mu    sync.Mutex
	users map[int64]domain.User
}

func (s *stubUsers) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) ListReminderUsers(context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		if u.RemindersEnabled && u.ReleaseDate != nil {
			out = append(out, u)
		}
	}
	return out, nil
}

type stubSmartlinks struct {
	domain.SmartlinkRepo
	items []domain.Smartlink
}

func (s *stubSmartlinks) ListSmartlinksWithRelease(context.Context) ([]domain.Smartlink, error) {
	return s.items, nil
}

type stubSubs struct {
	domain.SubscriptionRepo
	mu   sync.Mutex
	subs map[int64][]domain.Subscription
}

func (s *stubSubs) ListSubscriptions(_ context.Context, id int64) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Subscription(nil), s.subs[id]...), nil
}

func (s *stubSubs) MarkNotified(_ context.Context, id, subscriber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs[id] {
		if s.subs[id][i].SubscriberID == subscriber {
			s.subs[id][i].Notified = true
		}
	}
	return nil
}

type memLogs struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	offsets   map[string]time.Time
	purged    int
}

func newMemLogs() *memLogs {
	return &memLogs{deadlines: map[string]time.Time{}, offsets: map[string]time.Time{}}
}

func deadlineKey(userID int64, key, when string) string {
	return fmt.Sprintf("%d|%s|%s", userID, key, when)
}

func offsetKey(id, subscriber int64, offset int) string {
	return fmt.Sprintf("%d|%d|%d", id, subscriber, offset)
}

func (m *memLogs) AcquireDeadlineReminder(_ context.Context, userID int64, key, when string, sentOn time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := deadlineKey(userID, key, when)
	if _, ok := m.deadlines[k]; ok {
		return false, nil
	}
	m.deadlines[k] = sentOn
	return true, nil
}

func (m *memLogs) ReleaseDeadlineReminder(_ context.Context, userID int64, key, when string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, deadlineKey(userID, key, when))
	return nil
}

func (m *memLogs) PurgeDeadlineLog(context.Context, time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged++
	return 0, nil
}

func (m *memLogs) AcquireSmartlinkReminder(_ context.Context, id, subscriber int64, offset int, sentOn time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := offsetKey(id, subscriber, offset)
	if _, ok := m.offsets[k]; ok {
		return false, nil
	}
	m.offsets[k] = sentOn
	return true, nil
}

func (m *memLogs) ReleaseSmartlinkReminder(_ context.Context, id, subscriber int64, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offsets, offsetKey(id, subscriber, offset))
	return nil
}

func (m *memLogs) hasOffset(id, subscriber int64, offset int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.offsets[offsetKey(id, subscriber, offset)]
	return ok
}

type recMessenger struct {
	mu   sync.Mutex
	sent map[int64][]domain.Reply
	errs map[int64]error
}

func (r *recMessenger) Send(_ context.Context, chatID int64, reply domain.Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[chatID]; err != nil {
		return err
	}
	if r.sent == nil {
		r.sent = map[int64][]domain.Reply{}
	}
	r.sent[chatID] = append(r.sent[chatID], reply)
	return nil
}

func (r *recMessenger) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, replies := range r.sent {
		n += len(replies)
	}
	return n
}

type memLock struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (l *memLock) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	l.mu.Lock()
	if l.keys[key] {
		l.mu.Unlock()
		return nil
	}
	l.keys[key] = true
	l.mu.Unlock()
	return fn()
}

func (l *memLock) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (l *memLock) Get(context.Context, string) ([]byte, error) { return nil, domain.ErrCacheMiss }

const (
	ownerID      int64 = 1
	subscriberID int64 = 2
	smartlinkID  int64 = 10
)

type fixture struct {
	users *stubUsers
	subs  *stubSubs
	logs  *memLogs
	msg   *recMessenger
	w     *Worker
	clock time.Time
}

func newFixture(t *testing.T, release time.Time, lock domain.Cache) *fixture {
	t.Helper()
	f := &fixture{
		users: &stubUsers{users: map[int64]domain.User{
			subscriberID: {TGUserID: subscriberID},
		}},
		subs: &stubSubs{subs: map[int64][]domain.Subscription{
			smartlinkID: {{SmartlinkID: smartlinkID, SubscriberID: subscriberID}},
		}},
		logs: newMemLogs(),
		msg:  &recMessenger{errs: map[int64]error{}},
	}
	links := &stubSmartlinks{items: []domain.Smartlink{{
		ID:               smartlinkID,
		OwnerID:          ownerID,
		Artist:           "Artist",
		Title:            "Song",
		ReleaseDate:      &release,
		RemindersEnabled: true,
		Links:            domain.Links{domain.PlatformSpotify: "https://open.spotify.com/track/1"},
	}}}
	f.w = NewWorker(f.users, links, f.subs, f.logs, f.msg, lock, zerolog.Nop(), Config{
		Interval:    5 * time.Minute,
		DefaultLoc:  moscow,
		Concurrency: 4,
	})
	f.w.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) tickAt(t *testing.T, at time.Time) {
	t.Helper()
	f.clock = at
	if err := f.w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
}

func TestOffsetReminderSentOnce(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)

	f.tickAt(t, time.Date(2026, 6, 1, 12, 0, 0, 0, moscow))
	replies := f.msg.sent[subscriberID]
	if len(replies) != 2 {
		t.Fatalf("ожидали текст и карточку, получили %d сообщений", len(replies))
	}
	if !strings.HasPrefix(replies[0].Text, "Через 7 дней релиз: Artist — Song.") {
		t.Fatalf("неожиданный текст %q", replies[0].Text)
	}
	if !replies[1].HTML {
		t.Fatal("вторым сообщением идёт карточка")
	}
	for _, row := range replies[1].Keyboard {
		for _, b := range row {
			if strings.HasPrefix(b.Data, "smartrem:") {
				t.Fatal("в напоминании кнопки подписки нет")
			}
		}
	}

	f.tickAt(t, time.Date(2026, 6, 1, 12, 0, 30, 0, moscow))
	f.tickAt(t, time.Date(2026, 6, 1, 12, 5, 0, 0, moscow))
	f.tickAt(t, time.Date(2026, 6, 2, 12, 0, 0, 0, moscow))
	if got := f.msg.total(); got != 2 {
		t.Fatalf("повторных напоминаний быть не должно, всего %d", got)
	}
}

func TestOffsetReminderUsesSubscriberTimezone(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)
	f.users.users[subscriberID] = domain.User{TGUserID: subscriberID, Prefs: domain.ReminderPrefs{
		Timezone: "UTC",
		Time:     "07:00",
		Offsets:  []int{-1},
	}}

	f.tickAt(t, time.Date(2026, 6, 7, 12, 0, 0, 0, moscow))
	if f.msg.total() != 0 {
		t.Fatal("время по умолчанию не должно срабатывать при своих настройках")
	}
	f.tickAt(t, time.Date(2026, 6, 7, 7, 2, 0, 0, time.UTC))
	replies := f.msg.sent[subscriberID]
	if len(replies) != 2 || !strings.HasPrefix(replies[0].Text, "Завтра релиз") {
		t.Fatalf("ожидали напоминание за день, получили %+v", replies)
	}
}

func TestReleaseDayCardWithoutText(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)
	f.users.users[subscriberID] = domain.User{TGUserID: subscriberID, Prefs: domain.ReminderPrefs{Offsets: []int{-7}}}

	f.tickAt(t, time.Date(2026, 6, 8, 8, 0, 0, 0, moscow))
	replies := f.msg.sent[subscriberID]
	if len(replies) != 1 || !replies[0].HTML {
		t.Fatalf("в день релиза ждём одну карточку, получили %+v", replies)
	}
	if !f.subs.subs[smartlinkID][0].Notified {
		t.Fatal("подписка должна отметиться")
	}
	f.tickAt(t, time.Date(2026, 6, 8, 12, 0, 0, 0, moscow))
	if f.msg.total() != 1 {
		t.Fatal("повторная карточка в день релиза")
	}
}

func TestOffsetZeroMarksNotified(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)

	f.tickAt(t, time.Date(2026, 6, 8, 9, 0, 0, 0, moscow))
	if f.msg.total() != 0 {
		t.Fatal("при нулевом смещении ждём времени подписчика")
	}
	f.tickAt(t, time.Date(2026, 6, 8, 12, 1, 0, 0, moscow))
	replies := f.msg.sent[subscriberID]
	if len(replies) != 2 || !strings.HasPrefix(replies[0].Text, "Сегодня релиз") {
		t.Fatalf("неожиданные сообщения %+v", replies)
	}
	if !f.subs.subs[smartlinkID][0].Notified {
		t.Fatal("подписка должна отметиться")
	}
}

func TestOffsetZeroCaughtUpAfterMissedWindow(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)

	f.tickAt(t, time.Date(2026, 6, 8, 15, 40, 0, 0, moscow))
	replies := f.msg.sent[subscriberID]
	if len(replies) != 2 || !strings.HasPrefix(replies[0].Text, "Сегодня релиз") {
		t.Fatalf("пропущенное окно должно досылаться, получили %+v", replies)
	}
	if !f.subs.subs[smartlinkID][0].Notified || !f.logs.hasOffset(smartlinkID, subscriberID, 0) {
		t.Fatal("досылка занимает ту же запись, что и нулевое смещение")
	}
	f.tickAt(t, time.Date(2026, 6, 8, 15, 45, 0, 0, moscow))
	if f.msg.total() != 2 {
		t.Fatal("досылка только одна")
	}
}

func TestOffsetZeroCatchUpUsesSubscriberTimezone(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)
	f.users.users[subscriberID] = domain.User{TGUserID: subscriberID, Prefs: domain.ReminderPrefs{
		Timezone: "UTC",
		Time:     "10:00",
		Offsets:  []int{0},
	}}

	// 01:00 МСК 9 июня, у подписчика ещё 22:00 8 июня
	f.tickAt(t, time.Date(2026, 6, 9, 1, 0, 0, 0, moscow))
	if len(f.msg.sent[subscriberID]) != 2 {
		t.Fatalf("ждём досылку по дате подписчика, получили %+v", f.msg.sent[subscriberID])
	}

	g := newFixture(t, release, nil)
	g.users.users[subscriberID] = f.users.users[subscriberID]
	g.tickAt(t, time.Date(2026, 6, 9, 4, 0, 0, 0, moscow))
	if g.msg.total() != 0 {
		t.Fatal("на следующий день подписчика досылки нет")
	}
}

func TestBlockedRecipientKeepsClaim(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)
	f.msg.errs[subscriberID] = domain.ErrRecipientBlocked

	f.tickAt(t, time.Date(2026, 6, 1, 12, 0, 0, 0, moscow))
	if !f.logs.hasOffset(smartlinkID, subscriberID, -7) {
		t.Fatal("для заблокировавшего бота запись остаётся")
	}
	delete(f.msg.errs, subscriberID)
	f.tickAt(t, time.Date(2026, 6, 1, 12, 1, 0, 0, moscow))
	if f.msg.total() != 0 {
		t.Fatal("повторных попыток быть не должно")
	}
}

func TestTransientErrorReleasesClaim(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, release, nil)
	f.msg.errs[subscriberID] = errors.New("timeout")

	f.tickAt(t, time.Date(2026, 6, 1, 12, 0, 0, 0, moscow))
	if f.logs.hasOffset(smartlinkID, subscriberID, -7) {
		t.Fatal("после временной ошибки запись освобождается")
	}
	delete(f.msg.errs, subscriberID)
	f.tickAt(t, time.Date(2026, 6, 1, 12, 3, 0, 0, moscow))
	if f.msg.total() != 2 {
		t.Fatalf("следующий проход в окне должен отправить, всего %d", f.msg.total())
	}
}

func TestDeadlineReminders(t *testing.T) {
	release := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	f.users.users[ownerID] = domain.User{TGUserID: ownerID, ReleaseDate: &release, RemindersEnabled: true}

	// за 2 дня до питчинга и контент-спринта (−14)
	f.tickAt(t, time.Date(2026, 5, 30, 10, 0, 0, 0, moscow))
	got := f.msg.sent[ownerID]
	if len(got) != 2 {
		t.Fatalf("ожидали два напоминания, получили %d", len(got))
	}
	for _, r := range got {
		if !strings.HasPrefix(r.Text, "⏳ Через 2 дня дедлайн: ") {
			t.Fatalf("неожиданный текст %q", r.Text)
		}
	}

	f.tickAt(t, time.Date(2026, 5, 30, 18, 0, 0, 0, moscow))
	if len(f.msg.sent[ownerID]) != 2 {
		t.Fatal("повтор в тот же день")
	}

	f.tickAt(t, time.Date(2026, 6, 1, 10, 0, 0, 0, moscow))
	got = f.msg.sent[ownerID]
	if len(got) != 4 || !strings.HasPrefix(got[3].Text, "🚨 Сегодня дедлайн: ") {
		t.Fatalf("в день дедлайна ждём ещё два сообщения, получили %d", len(got))
	}
	if f.logs.purged != 2 {
		t.Fatalf("журнал чистится раз в день, получили %d", f.logs.purged)
	}
}

func TestTickLockSkipsDuplicatePass(t *testing.T) {
	release := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	lock := &memLock{keys: map[string]bool{}}
	f := newFixture(t, release, lock)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, moscow)
	f.tickAt(t, at)
	// без записей в журнале второй проход отправил бы повторно
	f.logs.mu.Lock()
	f.logs.offsets = map[string]time.Time{}
	f.logs.mu.Unlock()

	f.tickAt(t, at.Add(time.Minute))
	if f.msg.total() != 2 {
		t.Fatalf("второй проход в том же интервале должен пропускаться, всего %d", f.msg.total())
	}
}

func TestReminderText(t *testing.T) {
	if ReminderText(3, "A — B") != "" {
		t.Fatal("для произвольного смещения текста нет")
	}
	if !strings.Contains(ReminderText(7, "A — B"), "Прошла неделя после релиза: A — B.") {
		t.Fatal("неожиданный текст для +7")
	}
}
