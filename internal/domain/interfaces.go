package domain

import (
	"context"
	"time"
)

// SmartlinkRepo хранит смартлинки.
type SmartlinkRepo interface {
	CreateSmartlink(ctx context.Context, s Smartlink) (Smartlink, error)
	GetSmartlink(ctx context.Context, id int64) (Smartlink, error)
	GetOwnedSmartlink(ctx context.Context, id, ownerID int64) (Smartlink, error)
	LatestSmartlink(ctx context.Context, ownerID int64) (Smartlink, error)
	ListSmartlinks(ctx context.Context, ownerID int64, limit, offset int) ([]Smartlink, error)
	CountSmartlinks(ctx context.Context, ownerID int64) (int, error)
	UpdateSmartlink(ctx context.Context, id, ownerID int64, patch SmartlinkPatch) (Smartlink, error)
	DeleteSmartlink(ctx context.Context, id, ownerID int64) error
	ListSmartlinksWithRelease(ctx context.Context) ([]Smartlink, error)
}

// SubscriptionRepo хранит подписки на напоминания.
type SubscriptionRepo interface {
	SetSubscription(ctx context.Context, smartlinkID, subscriberID int64, subscribed bool) error
	IsSubscribed(ctx context.Context, smartlinkID, subscriberID int64) (bool, error)
	ListSubscriptions(ctx context.Context, smartlinkID int64) ([]Subscription, error)
	MarkNotified(ctx context.Context, smartlinkID, subscriberID int64) error
}

// ReminderLogRepo хранит журналы отправленных напоминаний.
// Acquire* вставляют запись заранее и возвращают false, если она уже была.
type ReminderLogRepo interface {
	AcquireDeadlineReminder(ctx context.Context, userID int64, key, when string, sentOn time.Time) (bool, error)
	ReleaseDeadlineReminder(ctx context.Context, userID int64, key, when string) error
	PurgeDeadlineLog(ctx context.Context, before time.Time) (int64, error)
	AcquireSmartlinkReminder(ctx context.Context, smartlinkID, subscriberID int64, offset int, sentOn time.Time) (bool, error)
	ReleaseSmartlinkReminder(ctx context.Context, smartlinkID, subscriberID int64, offset int) error
}

// UserRepo управляет пользователями.
type UserRepo interface {
	EnsureUser(ctx context.Context, tgUserID int64, username string) error
	GetUser(ctx context.Context, tgUserID int64) (User, error)
	ListReminderUsers(ctx context.Context) ([]User, error)
	SetUserReleaseDate(ctx context.Context, tgUserID int64, date *time.Time) error
	SetRemindersEnabled(ctx context.Context, tgUserID int64, enabled bool) error
	UpdateReminderPrefs(ctx context.Context, tgUserID int64, prefs ReminderPrefs) error
}

// FlowRepo хранит активные диалоги.
type FlowRepo interface {
	// StartFlow заменяет любой предыдущий диалог пользователя.
	StartFlow(ctx context.Context, flow Flow) error
	GetFlow(ctx context.Context, userID int64) (Flow, error)
	// SaveFlow записывает шаг и черновик, только если nonce совпадает.
	SaveFlow(ctx context.Context, flow Flow) error
	// ReplaceFlow заменяет диалог новым, только если текущий nonce равен expectedNonce.
	// Иначе возвращает ErrFlowStale.
	ReplaceFlow(ctx context.Context, expectedNonce string, flow Flow) error
	ClearFlow(ctx context.Context, userID int64) error
}

// Messenger отправляет сообщения пользователю.
type Messenger interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
}

// CoverHost перезаливает обложку по URL и возвращает file id.
type CoverHost interface {
	HostCover(ctx context.Context, chatID int64, imageURL string) (string, error)
}

// Resolver ищет ссылки и метаданные по одной ссылке.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) Resolution
}

// UPCSearcher ищет релиз по UPC.
type UPCSearcher interface {
	SearchUPC(ctx context.Context, upc string) ([]UPCCandidate, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
