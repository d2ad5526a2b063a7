// Package notify рассылает напоминания о дедлайнах и релизах.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
	"smartlink-bot/internal/usecase/card"
)

const (
	// сколько дней хранится журнал напоминаний о дедлайнах
	deadlineRetention = 60
	tickLockPrefix    = "scheduler:tick:"
)

// Config задаёт параметры планировщика.
type Config struct {
	Interval    time.Duration
	DefaultLoc  *time.Location
	Concurrency int
}

// Worker проходит по пользователям и смартлинкам и отправляет напоминания.
// Повторная отправка исключается журналами: запись занимается до отправки.
type Worker struct {
	users      domain.UserRepo
	smartlinks domain.SmartlinkRepo
	subs       domain.SubscriptionRepo
	logs       domain.ReminderLogRepo
	messenger  domain.Messenger
	lock       domain.Cache
	log        zerolog.Logger
	cfg        Config
	now        func() time.Time

	mu        sync.Mutex
	lastPurge time.Time
}

// NewWorker создаёт планировщик. lock может быть nil: тогда проход не защищён
// от параллельного запуска на нескольких репликах, но журналы всё равно не дают дублей.
func NewWorker(users domain.UserRepo, smartlinks domain.SmartlinkRepo, subs domain.SubscriptionRepo, logs domain.ReminderLogRepo, messenger domain.Messenger, lock domain.Cache, logger zerolog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.DefaultLoc == nil {
		cfg.DefaultLoc = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		users:      users,
		smartlinks: smartlinks,
		subs:       subs,
		logs:       logs,
		messenger:  messenger,
		lock:       lock,
		log:        logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run запускает проходы по сетке интервала до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.cfg.Interval).Msg("scheduler: запущен")
	for {
		now := w.now()
		wait := now.Truncate(w.cfg.Interval).Add(w.cfg.Interval).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info().Msg("scheduler: остановлен")
			return
		case <-timer.C:
		}
		w.safeRunOnce(ctx)
	}
}

func (w *Worker) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("scheduler: паника в проходе")
		}
	}()
	if err := w.RunOnce(ctx); err != nil {
		w.log.Error().Err(err).Msg("scheduler: проход завершился с ошибкой")
	}
}

// RunOnce выполняет один проход: дедлайны, день релиза и напоминания по смещениям.
// Проходы не зависят друг от друга; ошибка одного не отменяет остальные.
func (w *Worker) RunOnce(ctx context.Context) error {
	start := w.now()
	defer func() { metrics.SchedulerTickSeconds.Observe(time.Since(start).Seconds()) }()

	if w.lock == nil {
		return w.tick(ctx)
	}
	key := tickLockPrefix + strconv.FormatInt(start.Truncate(w.cfg.Interval).Unix(), 10)
	ran := false
	err := w.lock.Once(ctx, key, w.cfg.Interval, func() error {
		ran = true
		return w.tick(ctx)
	})
	if err != nil && !ran {
		w.log.Warn().Err(err).Msg("scheduler: блокировка недоступна, проход без неё")
		return w.tick(ctx)
	}
	if !ran {
		w.log.Debug().Str("key", key).Msg("scheduler: проход уже выполнен другой репликой")
	}
	return err
}

func (w *Worker) tick(ctx context.Context) error {
	w.purgeIfNewDay(ctx)

	var g errgroup.Group
	g.Go(func() error { return w.deadlinePass(ctx) })
	g.Go(func() error { return w.releaseDayPass(ctx) })
	g.Go(func() error { return w.offsetPass(ctx) })
	return g.Wait()
}

func (w *Worker) fanout() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(w.cfg.Concurrency)
	return g
}

func (w *Worker) purgeIfNewDay(ctx context.Context) {
	today := domain.DateOnly(w.now().In(w.cfg.DefaultLoc))
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastPurge.Equal(today) {
		return
	}
	removed, err := w.logs.PurgeDeadlineLog(ctx, today.AddDate(0, 0, -deadlineRetention))
	if err != nil {
		w.log.Error().Err(err).Msg("scheduler: не удалось очистить журнал дедлайнов")
		return
	}
	w.lastPurge = today
	w.log.Info().Int64("removed", removed).Msg("scheduler: журнал дедлайнов очищен")
}

// deadlinePass напоминает артистам о дедлайнах плана релиза.
func (w *Worker) deadlinePass(ctx context.Context) error {
	users, err := w.users.ListReminderUsers(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("scheduler: ошибка выборки пользователей")
		return fmt.Errorf("выборка пользователей: %w", err)
	}
	g := w.fanout()
	for _, user := range users {
		if user.ReleaseDate == nil {
			continue
		}
		g.Go(func() error {
			w.deadlinesFor(ctx, user)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) deadlinesFor(ctx context.Context, user domain.User) {
	loc, _, _ := user.Prefs.Resolve(w.cfg.DefaultLoc)
	today := domain.DateOnly(w.now().In(loc))
	for _, d := range domain.BuildDeadlines(*user.ReleaseDate) {
		for _, trigger := range domain.DeadlineTriggers {
			if !d.Date.AddDate(0, 0, -trigger.DaysBefore).Equal(today) {
				continue
			}
			w.deliver(ctx, "deadline", user.TGUserID,
				func(ctx context.Context) (bool, error) {
					return w.logs.AcquireDeadlineReminder(ctx, user.TGUserID, d.Key, trigger.When, today)
				},
				func(ctx context.Context) error {
					return w.logs.ReleaseDeadlineReminder(ctx, user.TGUserID, d.Key, trigger.When)
				},
				domain.TextReply(trigger.Prefix+d.Title),
			)
		}
	}
}

// releaseDayPass отправляет разовое напоминание в день релиза для подписчиков,
// у которых в смещениях нет нулевого дня. Подписчикам с нулевым смещением, чьё окно
// уже прошло без отправки, оно досылается в тот же день по их часовому поясу.
func (w *Worker) releaseDayPass(ctx context.Context) error {
	items, err := w.smartlinks.ListSmartlinksWithRelease(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("scheduler: ошибка выборки смартлинков")
		return fmt.Errorf("выборка смартлинков: %w", err)
	}
	now := w.now()
	today := domain.DateOnly(now.In(w.cfg.DefaultLoc))
	g := w.fanout()
	for _, s := range items {
		if !s.RemindersEnabled || s.ReleaseDate == nil {
			continue
		}
		release := domain.DateOnly(*s.ReleaseDate)
		// часовые поясы подписчиков расходятся с поясом по умолчанию не больше чем на сутки
		if diff := domain.DaysBetween(today, release); diff < -1 || diff > 1 {
			continue
		}
		subs, err := w.subs.ListSubscriptions(ctx, s.ID)
		if err != nil {
			w.log.Error().Err(err).Int64("smartlink", s.ID).Msg("scheduler: ошибка выборки подписчиков")
			continue
		}
		for _, sub := range subs {
			if sub.Notified {
				continue
			}
			g.Go(func() error {
				loc, offsets, clock := w.prefs(ctx, sub.SubscriberID).Resolve(w.cfg.DefaultLoc)
				if !slices.Contains(offsets, 0) {
					if release.Equal(today) {
						w.remind(ctx, "release_day", s, sub.SubscriberID, 0, today)
					}
					return nil
				}
				local := now.In(loc)
				if release.Equal(domain.DateOnly(local)) && windowPassed(local, clock, w.cfg.Interval) {
					w.remind(ctx, "catch_up", s, sub.SubscriberID, 0, release)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// offsetPass отправляет напоминания по смещениям подписчика в его часовом поясе.
func (w *Worker) offsetPass(ctx context.Context) error {
	items, err := w.smartlinks.ListSmartlinksWithRelease(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("scheduler: ошибка выборки смартлинков")
		return fmt.Errorf("выборка смартлинков: %w", err)
	}
	g := w.fanout()
	for _, s := range items {
		if !s.RemindersEnabled || s.ReleaseDate == nil {
			continue
		}
		subs, err := w.subs.ListSubscriptions(ctx, s.ID)
		if err != nil {
			w.log.Error().Err(err).Int64("smartlink", s.ID).Msg("scheduler: ошибка выборки подписчиков")
			continue
		}
		release := domain.DateOnly(*s.ReleaseDate)
		for _, sub := range subs {
			g.Go(func() error {
				loc, offsets, clock := w.prefs(ctx, sub.SubscriberID).Resolve(w.cfg.DefaultLoc)
				local := w.now().In(loc)
				if !inWindow(local, clock, w.cfg.Interval) {
					return nil
				}
				today := domain.DateOnly(local)
				for _, offset := range offsets {
					if release.AddDate(0, 0, offset).Equal(today) {
						w.remind(ctx, "offset", s, sub.SubscriberID, offset, today)
					}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// remind отправляет текст напоминания и карточку смартлинка подписчику.
func (w *Worker) remind(ctx context.Context, kind string, s domain.Smartlink, subscriberID int64, offset int, today time.Time) {
	var replies []domain.Reply
	if text := ReminderText(offset, s.DisplayLabel()); text != "" && kind != "release_day" {
		replies = append(replies, domain.TextReply(text))
	}
	replies = append(replies, card.Render(s, today, card.Options{
		ReleaseToday: offset == 0,
		Subscribed:   true,
		Page:         card.NoPage,
	}))
	sent := w.deliver(ctx, kind, subscriberID,
		func(ctx context.Context) (bool, error) {
			return w.logs.AcquireSmartlinkReminder(ctx, s.ID, subscriberID, offset, today)
		},
		func(ctx context.Context) error {
			return w.logs.ReleaseSmartlinkReminder(ctx, s.ID, subscriberID, offset)
		},
		replies...,
	)
	if sent && offset == 0 {
		if err := w.subs.MarkNotified(ctx, s.ID, subscriberID); err != nil {
			w.log.Error().Err(err).Int64("smartlink", s.ID).Int64("subscriber", subscriberID).Msg("scheduler: не удалось отметить уведомление")
		}
	}
}

// deliver занимает запись в журнале и отправляет сообщения.
// Заблокировавший бота получатель оставляет запись занятой, остальные ошибки её освобождают.
func (w *Worker) deliver(ctx context.Context, kind string, chatID int64, acquire func(context.Context) (bool, error), release func(context.Context) error, replies ...domain.Reply) bool {
	logger := w.log.With().Str("kind", kind).Int64("chat", chatID).Logger()
	ok, err := acquire(ctx)
	if err != nil {
		metrics.IncReminder(kind, "error")
		logger.Error().Err(err).Msg("scheduler: не удалось занять запись журнала")
		return false
	}
	if !ok {
		return false
	}
	for i, reply := range replies {
		err := w.messenger.Send(ctx, chatID, reply)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrRecipientBlocked) {
			metrics.IncReminder(kind, "blocked")
			logger.Debug().Err(err).Msg("scheduler: получатель недоступен")
			return false
		}
		if i > 0 {
			logger.Warn().Err(err).Msg("scheduler: напоминание отправлено без карточки")
			break
		}
		metrics.IncReminder(kind, "error")
		logger.Warn().Err(err).Msg("scheduler: не удалось отправить напоминание")
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("scheduler: не удалось освободить запись журнала")
		}
		return false
	}
	metrics.IncReminder(kind, "sent")
	return true
}

func (w *Worker) prefs(ctx context.Context, userID int64) domain.ReminderPrefs {
	user, err := w.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			w.log.Warn().Err(err).Int64("user", userID).Msg("scheduler: настройки по умолчанию")
		}
		return domain.ReminderPrefs{}
	}
	return user.Prefs
}

// inWindow сообщает, попадает ли местное время в окно [clock, clock+interval).
func inWindow(local, clock time.Time, interval time.Duration) bool {
	minute := local.Hour()*60 + local.Minute()
	from := clock.Hour()*60 + clock.Minute()
	width := max(int(interval/time.Minute), 1)
	return minute >= from && minute < from+width
}

// windowPassed сообщает, что окно [clock, clock+interval) на сегодня уже закончилось.
func windowPassed(local, clock time.Time, interval time.Duration) bool {
	minute := local.Hour()*60 + local.Minute()
	from := clock.Hour()*60 + clock.Minute()
	return minute >= from+max(int(interval/time.Minute), 1)
}

// ReminderText возвращает текст напоминания для смещения или пустую строку,
// если для смещения текста нет и отправляется только карточка.
func ReminderText(offset int, label string) string {
	switch offset {
	case -7:
		return "Через 7 дней релиз: " + label + ". Проверь смарт-линк и материалы."
	case -1:
		return "Завтра релиз: " + label + ". Подготовь посты и рассылку."
	case 0:
		return "Сегодня релиз: " + label + ". Пора постить смарт-линк."
	case 7:
		return "Прошла неделя после релиза: " + label + ". Самое время допушить в плейлисты/медиа."
	}
	return ""
}
