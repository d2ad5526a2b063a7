package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"smartlink-bot/internal/domain"
)

var (
	// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidTime возвращается, если время не в формате ЧЧ:ММ.
	ErrInvalidTime = errors.New("invalid time")
	// ErrInvalidOffsets возвращается, если в списке нет ни одного корректного смещения.
	ErrInvalidOffsets = errors.New("invalid offsets")
)

// maxOffset ограничивает смещения напоминаний годом в обе стороны.
const maxOffset = 365

// Service отвечает за дату релиза пользователя и настройки напоминаний.
type Service struct {
	users      domain.UserRepo
	defaultLoc *time.Location
	now        func() time.Time
}

// NewService создаёт сервис.
func NewService(users domain.UserRepo, defaultLoc *time.Location) *Service {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Service{users: users, defaultLoc: defaultLoc, now: time.Now}
}

// ParseLocalTime разбирает время ЧЧ:ММ.
func ParseLocalTime(input string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(input))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, input)
	}
	return t, nil
}

// ParseOffsets разбирает список вида «-7,-1,0,7». Некорректные элементы пропускаются,
// результат отсортирован и без повторов.
func ParseOffsets(raw string) ([]int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	seen := make(map[int]struct{}, len(fields))
	var out []int
	for _, f := range fields {
		f = strings.ReplaceAll(f, "−", "-")
		v, err := strconv.Atoi(strings.TrimPrefix(f, "+"))
		if err != nil || v < -maxOffset || v > maxOffset {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrInvalidOffsets
	}
	sort.Ints(out)
	return out, nil
}

// FormatOffsets печатает смещения через запятую.
func FormatOffsets(offsets []int) string {
	parts := make([]string, 0, len(offsets))
	for _, o := range offsets {
		parts = append(parts, strconv.Itoa(o))
	}
	return strings.Join(parts, ",")
}

// UpdateTimezone сохраняет часовой пояс напоминаний.
func (s *Service) UpdateTimezone(ctx context.Context, tgUserID int64, timezone string) (string, error) {
	normalized, err := normalizeTimezone(timezone)
	if err != nil {
		return "", err
	}
	err = s.updatePrefs(ctx, tgUserID, func(p *domain.ReminderPrefs) { p.Timezone = normalized })
	if err != nil {
		return "", fmt.Errorf("обновление часового пояса: %w", err)
	}
	return normalized, nil
}

// UpdateReminderTime сохраняет время напоминаний.
func (s *Service) UpdateReminderTime(ctx context.Context, tgUserID int64, raw string) (string, error) {
	local, err := ParseLocalTime(raw)
	if err != nil {
		return "", err
	}
	value := local.Format("15:04")
	if err := s.updatePrefs(ctx, tgUserID, func(p *domain.ReminderPrefs) { p.Time = value }); err != nil {
		return "", fmt.Errorf("обновление времени напоминаний: %w", err)
	}
	return value, nil
}

// UpdateOffsets сохраняет смещения напоминаний в днях от релиза.
func (s *Service) UpdateOffsets(ctx context.Context, tgUserID int64, raw string) ([]int, error) {
	offsets, err := ParseOffsets(raw)
	if err != nil {
		return nil, err
	}
	if err := s.updatePrefs(ctx, tgUserID, func(p *domain.ReminderPrefs) { p.Offsets = offsets }); err != nil {
		return nil, fmt.Errorf("обновление смещений: %w", err)
	}
	return offsets, nil
}

// Settings описывает текущие настройки напоминаний.
func (s *Service) Settings(ctx context.Context, tgUserID int64) (string, error) {
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return "", fmt.Errorf("получение пользователя: %w", err)
	}
	loc, offsets, clock := user.Prefs.Resolve(s.defaultLoc)
	lines := []string{
		"🔔 Напоминания о релизах",
		"",
		"Часовой пояс: " + loc.String(),
		"Время: " + clock.Format("15:04"),
		"Дни относительно релиза: " + FormatOffsets(offsets),
		"",
		"Изменить: /timezone Europe/Moscow, /remind_time 12:00, /remind_offsets -7,-1,0,7",
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) updatePrefs(ctx context.Context, tgUserID int64, apply func(*domain.ReminderPrefs)) error {
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}
	prefs := user.Prefs
	apply(&prefs)
	return s.users.UpdateReminderPrefs(ctx, tgUserID, prefs)
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
