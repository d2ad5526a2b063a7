package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout задаёт формат даты, который видит пользователь.
const DateLayout = "02.01.2006"

// Smartlink описывает сохранённую карточку релиза.
type Smartlink struct {
	ID               int64
	OwnerID          int64
	Artist           string
	Title            string
	ReleaseDate      *time.Time
	CoverFileID      string
	Caption          string
	Links            Links
	BrandingDisabled bool
	BrandingPaid     bool
	PreSaveEnabled   bool
	RemindersEnabled bool
	CreatedAt        time.Time
}

// PreRelease сообщает, что дата релиза сегодня или позже.
func (s Smartlink) PreRelease(today time.Time) bool {
	if s.ReleaseDate == nil {
		return false
	}
	return !DateOnly(*s.ReleaseDate).Before(DateOnly(today))
}

// PreSaveActive сообщает, что релиз ещё не вышел и кнопки площадок скрываются.
func (s Smartlink) PreSaveActive(today time.Time) bool {
	if s.ReleaseDate == nil || !s.PreSaveEnabled {
		return false
	}
	return DateOnly(*s.ReleaseDate).After(DateOnly(today))
}

// CanRemind сообщает, можно ли подписаться на смартлинк.
func (s Smartlink) CanRemind(today time.Time) bool {
	return s.RemindersEnabled && s.PreRelease(today)
}

// DisplayLabel возвращает «артист — название» для текстов напоминаний.
func (s Smartlink) DisplayLabel() string {
	label := strings.TrimSpace(fmt.Sprintf("%s — %s", s.Artist, s.Title))
	label = strings.TrimSuffix(label, " —")
	return strings.TrimPrefix(label, "— ")
}

// SmartlinkPatch описывает частичное обновление смартлинка. nil-поля не трогаются.
type SmartlinkPatch struct {
	Artist           *string
	Title            *string
	ReleaseDate      *time.Time
	ClearReleaseDate bool
	CoverFileID      *string
	Caption          *string
	SetLinks         Links
	RemoveLinks      []Platform
	BrandingDisabled *bool
	BrandingPaid     *bool
	RemindersEnabled *bool
}

// Empty сообщает, что патч ничего не меняет.
func (p SmartlinkPatch) Empty() bool {
	return p.Artist == nil && p.Title == nil && p.ReleaseDate == nil && !p.ClearReleaseDate &&
		p.CoverFileID == nil && p.Caption == nil && len(p.SetLinks) == 0 && len(p.RemoveLinks) == 0 &&
		p.BrandingDisabled == nil && p.BrandingPaid == nil && p.RemindersEnabled == nil
}

// ChangesReleaseDate сообщает, что патч меняет дату релиза.
func (p SmartlinkPatch) ChangesReleaseDate() bool {
	return p.ReleaseDate != nil || p.ClearReleaseDate
}

// Subscription описывает подписку пользователя на напоминания о релизе.
type Subscription struct {
	SmartlinkID  int64
	SubscriberID int64
	Notified     bool
}

// User описывает пользователя Telegram в системе.
type User struct {
	TGUserID         int64
	Username         string
	ReleaseDate      *time.Time
	RemindersEnabled bool
	Prefs            ReminderPrefs
	CreatedAt        time.Time
}

// DefaultReminderOffsets — смещения напоминаний по умолчанию.
var DefaultReminderOffsets = []int{-7, -1, 0, 7}

// DefaultReminderTime — время напоминаний по умолчанию.
const DefaultReminderTime = "12:00"

// ReminderPrefs содержит настройки напоминаний подписчика. Пустые поля означают значения по умолчанию.
type ReminderPrefs struct {
	Timezone string
	Offsets  []int
	Time     string
}

// Resolve подставляет значения по умолчанию.
func (p ReminderPrefs) Resolve(defaultTZ *time.Location) (loc *time.Location, offsets []int, clock time.Time) {
	loc = defaultTZ
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	offsets = p.Offsets
	if len(offsets) == 0 {
		offsets = DefaultReminderOffsets
	}
	raw := p.Time
	if raw == "" {
		raw = DefaultReminderTime
	}
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		clock, _ = time.Parse("15:04", DefaultReminderTime)
	}
	return loc, offsets, clock
}

// ParseDate разбирает Д.М.ГГГГ или ГГГГ-М-Д, ведущие нули необязательны.
// Несуществующие даты вроде 31.02 не принимаются.
func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	iso := strings.Contains(value, "-")
	sep := "."
	if iso {
		sep = "-"
	}
	parts := strings.Split(value, sep)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		nums[i] = n
	}
	d, m, y := nums[0], nums[1], nums[2]
	if iso {
		y, m, d = nums[0], nums[1], nums[2]
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if y > 9999 || t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// FormatDate форматирует дату как ДД.ММ.ГГГГ.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly отбрасывает время, сохраняя календарную дату.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween возвращает число календарных дней от from до to.
func DaysBetween(from, to time.Time) int {
	return int(DateOnly(to).Sub(DateOnly(from)).Hours() / 24)
}
