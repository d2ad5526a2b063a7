package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

var (
	_ domain.SmartlinkRepo    = (*Postgres)(nil)
	_ domain.SubscriptionRepo = (*Postgres)(nil)
)

const smartlinkColumns = `id, owner_tg_user_id, artist, title, release_date, cover_file_id, caption_text, links,
       branding_disabled, branding_paid, presave_enabled, reminders_enabled, created_at`

func scanSmartlink(row pgx.Row) (domain.Smartlink, error) {
	var (
		s        domain.Smartlink
		release  sql.NullTime
		rawLinks []byte
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Artist, &s.Title, &release, &s.CoverFileID, &s.Caption, &rawLinks,
		&s.BrandingDisabled, &s.BrandingPaid, &s.PreSaveEnabled, &s.RemindersEnabled, &s.CreatedAt)
	if err != nil {
		return domain.Smartlink{}, err
	}
	s.ReleaseDate = datePtr(release)
	links, err := decodeLinks(rawLinks)
	if err != nil {
		return domain.Smartlink{}, fmt.Errorf("смартлинк %d: %w", s.ID, err)
	}
	s.Links = links
	return s, nil
}

// decodeLinks пропускает неизвестные площадки, оставшиеся от старых версий.
func decodeLinks(raw []byte) (domain.Links, error) {
	out := make(domain.Links)
	if len(raw) == 0 {
		return out, nil
	}
	var byTag map[string]string
	if err := json.Unmarshal(raw, &byTag); err != nil {
		return nil, fmt.Errorf("ссылки: %w", err)
	}
	for tag, u := range byTag {
		platform, ok := domain.ParsePlatform(tag)
		if !ok || strings.TrimSpace(u) == "" {
			continue
		}
		out[platform] = u
	}
	return out, nil
}

func encodeLinks(links domain.Links) ([]byte, error) {
	clean := links.Clone()
	if len(clean) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(clean)
}

// CreateSmartlink сохраняет новый смартлинк.
func (p *Postgres) CreateSmartlink(ctx context.Context, s domain.Smartlink) (domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	links, err := encodeLinks(s.Links)
	if err != nil {
		return domain.Smartlink{}, err
	}
	start := time.Now()
	created, err := scanSmartlink(p.pool.QueryRow(ctx, `
INSERT INTO smartlinks (owner_tg_user_id, artist, title, release_date, cover_file_id, caption_text, links,
                        branding_disabled, branding_paid, presave_enabled, reminders_enabled)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+smartlinkColumns,
		s.OwnerID, s.Artist, s.Title, nullDate(s.ReleaseDate), s.CoverFileID, s.Caption, links,
		s.BrandingDisabled, s.BrandingPaid, s.PreSaveEnabled, s.RemindersEnabled))
	metrics.ObserveNetworkRequest("postgres", "smartlinks_insert", "smartlinks", start, err)
	return created, err
}

// GetSmartlink возвращает смартлинк по id без проверки владельца.
func (p *Postgres) GetSmartlink(ctx context.Context, id int64) (domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSmartlink(p.pool.QueryRow(ctx, `SELECT `+smartlinkColumns+` FROM smartlinks WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "smartlinks_get", "smartlinks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, err
}

// GetOwnedSmartlink возвращает смартлинк, только если он принадлежит ownerID.
func (p *Postgres) GetOwnedSmartlink(ctx context.Context, id, ownerID int64) (domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSmartlink(p.pool.QueryRow(ctx, `SELECT `+smartlinkColumns+` FROM smartlinks WHERE id=$1 AND owner_tg_user_id=$2`, id, ownerID))
	metrics.ObserveNetworkRequest("postgres", "smartlinks_get_owned", "smartlinks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, err
}

// LatestSmartlink возвращает последний созданный смартлинк пользователя.
func (p *Postgres) LatestSmartlink(ctx context.Context, ownerID int64) (domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSmartlink(p.pool.QueryRow(ctx, `SELECT `+smartlinkColumns+` FROM smartlinks WHERE owner_tg_user_id=$1 ORDER BY id DESC LIMIT 1`, ownerID))
	metrics.ObserveNetworkRequest("postgres", "smartlinks_latest", "smartlinks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, err
}

func (p *Postgres) querySmartlinks(ctx context.Context, operation, query string, args ...any) ([]domain.Smartlink, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "smartlinks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Smartlink
	for rows.Next() {
		s, err := scanSmartlink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSmartlinks возвращает страницу смартлинков пользователя, новые первыми.
func (p *Postgres) ListSmartlinks(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.querySmartlinks(ctx, "smartlinks_list", `
SELECT `+smartlinkColumns+` FROM smartlinks
WHERE owner_tg_user_id=$1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
}

// CountSmartlinks считает смартлинки пользователя.
func (p *Postgres) CountSmartlinks(ctx context.Context, ownerID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM smartlinks WHERE owner_tg_user_id=$1`, ownerID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "smartlinks_count", "smartlinks", start, err)
	return count, err
}

// ListSmartlinksWithRelease возвращает смартлинки с датой релиза для планировщика.
func (p *Postgres) ListSmartlinksWithRelease(ctx context.Context) ([]domain.Smartlink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.querySmartlinks(ctx, "smartlinks_list_with_release", `
SELECT `+smartlinkColumns+` FROM smartlinks
WHERE release_date IS NOT NULL
ORDER BY id
`)
}

// UpdateSmartlink применяет патч к смартлинку владельца.
// Смена даты релиза в той же транзакции сбрасывает журнал напоминаний и флаг notified подписок.
func (p *Postgres) UpdateSmartlink(ctx context.Context, id, ownerID int64, patch domain.SmartlinkPatch) (domain.Smartlink, error) {
	if patch.Empty() {
		return p.GetOwnedSmartlink(ctx, id, ownerID)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	sets, args, err := patchAssignments(patch)
	if err != nil {
		return domain.Smartlink{}, err
	}
	args = append(args, id, ownerID)
	query := fmt.Sprintf(`UPDATE smartlinks SET %s, updated_at=now() WHERE id=$%d AND owner_tg_user_id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), smartlinkColumns)

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "smartlinks", start, err)
	if err != nil {
		return domain.Smartlink{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	updated, err := scanSmartlink(tx.QueryRow(ctx, query, args...))
	metrics.ObserveNetworkRequest("postgres", "smartlinks_update", "smartlinks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	if err != nil {
		return domain.Smartlink{}, err
	}

	if patch.ChangesReleaseDate() {
		start = time.Now()
		_, err = tx.Exec(ctx, `DELETE FROM smartlink_reminder_log WHERE smartlink_id=$1`, id)
		metrics.ObserveNetworkRequest("postgres", "smartlink_reminder_log_reset", "smartlink_reminder_log", start, err)
		if err != nil {
			return domain.Smartlink{}, err
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE smartlink_subscriptions SET notified=false WHERE smartlink_id=$1`, id)
		metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_reset", "smartlink_subscriptions", start, err)
		if err != nil {
			return domain.Smartlink{}, err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "smartlinks", start, err)
	if err != nil {
		return domain.Smartlink{}, err
	}
	return updated, nil
}

func patchAssignments(patch domain.SmartlinkPatch) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Artist != nil {
		add("artist", *patch.Artist)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	switch {
	case patch.ClearReleaseDate:
		add("release_date", sql.NullTime{})
	case patch.ReleaseDate != nil:
		add("release_date", nullDate(patch.ReleaseDate))
	}
	if patch.CoverFileID != nil {
		add("cover_file_id", *patch.CoverFileID)
	}
	if patch.Caption != nil {
		add("caption_text", *patch.Caption)
	}
	if len(patch.SetLinks) > 0 || len(patch.RemoveLinks) > 0 {
		set, err := encodeLinks(patch.SetLinks)
		if err != nil {
			return nil, nil, err
		}
		remove := make([]string, 0, len(patch.RemoveLinks))
		for _, platform := range patch.RemoveLinks {
			remove = append(remove, platform.String())
		}
		args = append(args, set, remove)
		sets = append(sets, fmt.Sprintf("links=(links || $%d::jsonb) - $%d::text[]", len(args)-1, len(args)))
	}
	if patch.BrandingDisabled != nil {
		add("branding_disabled", *patch.BrandingDisabled)
	}
	if patch.BrandingPaid != nil {
		add("branding_paid", *patch.BrandingPaid)
	}
	if patch.RemindersEnabled != nil {
		add("reminders_enabled", *patch.RemindersEnabled)
	}
	return sets, args, nil
}

// DeleteSmartlink удаляет смартлинк владельца. Подписки и журнал удаляются каскадом.
func (p *Postgres) DeleteSmartlink(ctx context.Context, id, ownerID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM smartlinks WHERE id=$1 AND owner_tg_user_id=$2`, id, ownerID)
	metrics.ObserveNetworkRequest("postgres", "smartlinks_delete", "smartlinks", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSmartlinkNotFound
	}
	return nil
}

// SetSubscription подписывает или отписывает пользователя от напоминаний о релизе.
func (p *Postgres) SetSubscription(ctx context.Context, smartlinkID, subscriberID int64, subscribed bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var err error
	if subscribed {
		_, err = p.pool.Exec(ctx, `
INSERT INTO smartlink_subscriptions (smartlink_id, subscriber_tg_user_id)
VALUES ($1,$2)
ON CONFLICT (smartlink_id, subscriber_tg_user_id) DO NOTHING
`, smartlinkID, subscriberID)
		metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_insert", "smartlink_subscriptions", start, err)
		return err
	}
	_, err = p.pool.Exec(ctx, `DELETE FROM smartlink_subscriptions WHERE smartlink_id=$1 AND subscriber_tg_user_id=$2`, smartlinkID, subscriberID)
	metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_delete", "smartlink_subscriptions", start, err)
	return err
}

// IsSubscribed сообщает, подписан ли пользователь на смартлинк.
func (p *Postgres) IsSubscribed(ctx context.Context, smartlinkID, subscriberID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM smartlink_subscriptions WHERE smartlink_id=$1 AND subscriber_tg_user_id=$2)
`, smartlinkID, subscriberID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_exists", "smartlink_subscriptions", start, err)
	return exists, err
}

// ListSubscriptions возвращает подписчиков смартлинка.
func (p *Postgres) ListSubscriptions(ctx context.Context, smartlinkID int64) ([]domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT smartlink_id, subscriber_tg_user_id, notified
FROM smartlink_subscriptions WHERE smartlink_id=$1
ORDER BY subscriber_tg_user_id
`, smartlinkID)
	metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_list", "smartlink_subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.SmartlinkID, &s.SubscriberID, &s.Notified); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// MarkNotified отмечает, что подписчик получил уведомление в день релиза.
func (p *Postgres) MarkNotified(ctx context.Context, smartlinkID, subscriberID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE smartlink_subscriptions SET notified=true WHERE smartlink_id=$1 AND subscriber_tg_user_id=$2`, smartlinkID, subscriberID)
	metrics.ObserveNetworkRequest("postgres", "smartlink_subscriptions_mark_notified", "smartlink_subscriptions", start, err)
	return err
}
