package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.UserRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping проверяет соединение с базой.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: domain.DateOnly(*t), Valid: true}
}

func datePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	d := domain.DateOnly(v.Time)
	return &d
}

const userColumns = `tg_user_id, username, release_date, reminders_enabled, reminder_tz, reminder_offsets, reminder_time, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u        domain.User
		username sql.NullString
		release  sql.NullTime
		tz       sql.NullString
		offsets  []int32
		clock    sql.NullString
	)
	if err := row.Scan(&u.TGUserID, &username, &release, &u.RemindersEnabled, &tz, &offsets, &clock, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.Username = username.String
	u.ReleaseDate = datePtr(release)
	u.Prefs.Timezone = tz.String
	u.Prefs.Time = clock.String
	for _, o := range offsets {
		u.Prefs.Offsets = append(u.Prefs.Offsets, int(o))
	}
	return u, nil
}

// EnsureUser реализует domain.UserRepo.
func (p *Postgres) EnsureUser(ctx context.Context, tgUserID int64, username string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (tg_user_id, username)
VALUES ($1, NULLIF($2,''))
ON CONFLICT (tg_user_id) DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username), updated_at = now()
`, tgUserID, strings.TrimSpace(username))
	metrics.ObserveNetworkRequest("postgres", "users_ensure", "users", start, err)
	return err
}

// GetUser возвращает пользователя по Telegram ID.
func (p *Postgres) GetUser(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id=$1`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, err
}

// ListReminderUsers возвращает пользователей с датой релиза и включёнными напоминаниями.
func (p *Postgres) ListReminderUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE release_date IS NOT NULL AND reminders_enabled`)
	metrics.ObserveNetworkRequest("postgres", "users_list_reminders", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserReleaseDate меняет дату релиза пользователя и сбрасывает журнал дедлайнов.
func (p *Postgres) SetUserReleaseDate(ctx context.Context, tgUserID int64, date *time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	tag, err := tx.Exec(ctx, `UPDATE users SET release_date=$2, updated_at=now() WHERE tg_user_id=$1`, tgUserID, nullDate(date))
	metrics.ObserveNetworkRequest("postgres", "users_set_release_date", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM reminder_log WHERE tg_user_id=$1`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "reminder_log_reset", "reminder_log", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	return err
}

// SetRemindersEnabled включает или выключает напоминания о дедлайнах.
func (p *Postgres) SetRemindersEnabled(ctx context.Context, tgUserID int64, enabled bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE users SET reminders_enabled=$2, updated_at=now() WHERE tg_user_id=$1`, tgUserID, enabled)
	metrics.ObserveNetworkRequest("postgres", "users_set_reminders", "users", start, err)
	if err == nil && tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return err
}

// UpdateReminderPrefs сохраняет часовой пояс, смещения и время напоминаний.
func (p *Postgres) UpdateReminderPrefs(ctx context.Context, tgUserID int64, prefs domain.ReminderPrefs) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var offsets []int32
	for _, o := range prefs.Offsets {
		offsets = append(offsets, int32(o))
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE users SET reminder_tz=NULLIF($2,''), reminder_offsets=$3, reminder_time=NULLIF($4,''), updated_at=now()
WHERE tg_user_id=$1
`, tgUserID, prefs.Timezone, offsets, prefs.Time)
	metrics.ObserveNetworkRequest("postgres", "users_update_prefs", "users", start, err)
	if err != nil {
		return fmt.Errorf("обновление настроек напоминаний: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
