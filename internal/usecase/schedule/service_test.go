package schedule

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"smartlink-bot/internal/domain"
)

type stubUsers struct {
	user domain.User
}

func (s *stubUsers) EnsureUser(context.Context, int64, string) error { return nil }

func (s *stubUsers) GetUser(_ context.Context, id int64) (domain.User, error) {
	if id != s.user.TGUserID {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubUsers) ListReminderUsers(context.Context) ([]domain.User, error) {
	return []domain.User{s.user}, nil
}

func (s *stubUsers) SetUserReleaseDate(_ context.Context, _ int64, date *time.Time) error {
	s.user.ReleaseDate = date
	return nil
}

func (s *stubUsers) SetRemindersEnabled(_ context.Context, _ int64, enabled bool) error {
	s.user.RemindersEnabled = enabled
	return nil
}

func (s *stubUsers) UpdateReminderPrefs(_ context.Context, _ int64, prefs domain.ReminderPrefs) error {
	s.user.Prefs = prefs
	return nil
}

func newTestService(users *stubUsers) *Service {
	svc := NewService(users, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC) }
	return svc
}

func mustContain(t *testing.T, text, substr string) {
	t.Helper()
	if !strings.Contains(text, substr) {
		t.Fatalf("ожидали %q в тексте:\n%s", substr, text)
	}
}

func TestNormalizeTimezone(t *testing.T) {
	cases := map[string]string{
		"Europe/Moscow":        "Europe/Moscow",
		"europe/moscow":        "Europe/Moscow",
		"america/new york":     "America/New_York",
		" Asia/Yekaterinburg ": "Asia/Yekaterinburg",
	}
	for in, want := range cases {
		got, err := normalizeTimezone(in)
		if err != nil {
			t.Fatalf("%q: неожиданная ошибка %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: ожидали %q, получили %q", in, want, got)
		}
	}
	for _, bad := range []string{"", "Mars/Olympus"} {
		if _, err := normalizeTimezone(bad); !errors.Is(err, ErrInvalidTimezone) {
			t.Fatalf("%q: ожидали ErrInvalidTimezone, получили %v", bad, err)
		}
	}
}

func TestParseOffsets(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []int
		err  bool
	}{
		{name: "default list", in: "-7,-1,0,7", want: []int{-7, -1, 0, 7}},
		{name: "unsorted with duplicates", in: "7, 0, -1, 7", want: []int{-1, 0, 7}},
		{name: "unicode minus and plus", in: "−3 +3", want: []int{-3, 3}},
		{name: "bad parts skipped", in: "-7,abc,1000,1", want: []int{-7, 1}},
		{name: "nothing valid", in: "abc", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOffsets(tc.in)
			if tc.err {
				if !errors.Is(err, ErrInvalidOffsets) {
					t.Fatalf("ожидали ErrInvalidOffsets, получили %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestUpdateReminderPrefs(t *testing.T) {
	users := &stubUsers{user: domain.User{TGUserID: 1}}
	svc := newTestService(users)
	ctx := context.Background()

	if _, err := svc.UpdateTimezone(ctx, 1, "europe/berlin"); err != nil {
		t.Fatalf("UpdateTimezone: %v", err)
	}
	if _, err := svc.UpdateReminderTime(ctx, 1, "25:00"); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("ожидали ErrInvalidTime, получили %v", err)
	}
	if _, err := svc.UpdateReminderTime(ctx, 1, " 09:30 "); err != nil {
		t.Fatalf("UpdateReminderTime: %v", err)
	}
	if _, err := svc.UpdateOffsets(ctx, 1, "0,-3"); err != nil {
		t.Fatalf("UpdateOffsets: %v", err)
	}

	want := domain.ReminderPrefs{Timezone: "Europe/Berlin", Time: "09:30", Offsets: []int{-3, 0}}
	if !reflect.DeepEqual(users.user.Prefs, want) {
		t.Fatalf("ожидали %+v, получили %+v", want, users.user.Prefs)
	}
	text, err := svc.Settings(ctx, 1)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	mustContain(t, text, "Europe/Berlin")
	mustContain(t, text, "-3,0")
}

func TestTimeline(t *testing.T) {
	users := &stubUsers{user: domain.User{TGUserID: 1, RemindersEnabled: true}}
	svc := newTestService(users)
	ctx := context.Background()

	reply, err := svc.Timeline(ctx, 1)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	mustContain(t, reply.Text, "Дата релиза не задана")
	if len(reply.Keyboard) != 1 {
		t.Fatal("без даты кнопки установки нет")
	}

	if reply, err := svc.SetReleaseDate(ctx, 1, "31.02.2026"); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("ожидали ErrInvalidDate, получили %v", err)
	} else {
		mustContain(t, reply.Text, "Не понял дату")
	}

	reply, err = svc.SetReleaseDate(ctx, 1, "03.06.2026")
	if err != nil {
		t.Fatalf("SetReleaseDate: %v", err)
	}
	mustContain(t, reply.Text, "Ок. Дата релиза: 03.06.2026")
	mustContain(t, reply.Text, "Напоминания: включены")
	mustContain(t, reply.Text, "▫️ 13.05.2026 — Окно подготовки (7 дн назад)")
	mustContain(t, reply.Text, "▫️ 20.05.2026 — Конец окна (сегодня)")
	mustContain(t, reply.Text, "▫️ 27.05.2026 — Pre-save (через 7 дн)")
	mustContain(t, reply.Text, "▫️ 10.06.2026 — Пост-релиз план (+7) (через 21 дн)")
	if len(reply.Keyboard) != 2 {
		t.Fatalf("ожидали две строки кнопок, получили %d", len(reply.Keyboard))
	}

	reply, err = svc.ToggleReminders(ctx, 1)
	if err != nil {
		t.Fatalf("ToggleReminders: %v", err)
	}
	if users.user.RemindersEnabled {
		t.Fatal("напоминания должны выключиться")
	}
	mustContain(t, reply.Text, "Напоминания: выключены")
	if reply.Keyboard[0][0].Text != "🔕 Напоминания: выкл" {
		t.Fatalf("неожиданная кнопка %q", reply.Keyboard[0][0].Text)
	}
}

func TestSetReleaseDateWithoutArgument(t *testing.T) {
	users := &stubUsers{user: domain.User{TGUserID: 1}}
	reply, err := newTestService(users).SetReleaseDate(context.Background(), 1, "  ")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if reply.Text != SetDateHint || users.user.ReleaseDate != nil {
		t.Fatal("без аргумента показываем подсказку и ничего не пишем")
	}
}

func TestParseLocalTime(t *testing.T) {
	tm, err := ParseLocalTime(" 09:15 ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tm.Format("15:04") != "09:15" {
		t.Fatalf("expected 09:15, got %s", tm.Format("15:04"))
	}
}

func TestParseLocalTimeInvalid(t *testing.T) {
	if _, err := ParseLocalTime("9-15"); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
}
