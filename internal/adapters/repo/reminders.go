package repo

import (
	"context"
	"time"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

var _ domain.ReminderLogRepo = (*Postgres)(nil)

// AcquireDeadlineReminder занимает слот напоминания о дедлайне.
// Возвращает false, если напоминание уже отправлялось.
func (p *Postgres) AcquireDeadlineReminder(ctx context.Context, userID int64, key, when string, sentOn time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO reminder_log (tg_user_id, key, "when", sent_on)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tg_user_id, key, "when") DO NOTHING
`, userID, key, when, domain.DateOnly(sentOn))
	metrics.ObserveNetworkRequest("postgres", "reminder_log_acquire", "reminder_log", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseDeadlineReminder освобождает слот после неудачной отправки.
func (p *Postgres) ReleaseDeadlineReminder(ctx context.Context, userID int64, key, when string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM reminder_log WHERE tg_user_id=$1 AND key=$2 AND "when"=$3`, userID, key, when)
	metrics.ObserveNetworkRequest("postgres", "reminder_log_release", "reminder_log", start, err)
	return err
}

// PurgeDeadlineLog удаляет записи, отправленные раньше before.
func (p *Postgres) PurgeDeadlineLog(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM reminder_log WHERE sent_on < $1`, domain.DateOnly(before))
	metrics.ObserveNetworkRequest("postgres", "reminder_log_purge", "reminder_log", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AcquireSmartlinkReminder занимает слот напоминания подписчику.
func (p *Postgres) AcquireSmartlinkReminder(ctx context.Context, smartlinkID, subscriberID int64, offset int, sentOn time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO smartlink_reminder_log (smartlink_id, subscriber_tg_user_id, day_offset, sent_on)
VALUES ($1,$2,$3,$4)
ON CONFLICT (smartlink_id, subscriber_tg_user_id, day_offset) DO NOTHING
`, smartlinkID, subscriberID, offset, domain.DateOnly(sentOn))
	metrics.ObserveNetworkRequest("postgres", "smartlink_reminder_log_acquire", "smartlink_reminder_log", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseSmartlinkReminder освобождает слот после неудачной отправки.
func (p *Postgres) ReleaseSmartlinkReminder(ctx context.Context, smartlinkID, subscriberID int64, offset int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM smartlink_reminder_log WHERE smartlink_id=$1 AND subscriber_tg_user_id=$2 AND day_offset=$3
`, smartlinkID, subscriberID, offset)
	metrics.ObserveNetworkRequest("postgres", "smartlink_reminder_log_release", "smartlink_reminder_log", start, err)
	return err
}
