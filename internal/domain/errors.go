package domain

import "errors"

var (
	ErrSmartlinkNotFound = errors.New("смартлинк не найден")
	ErrUserNotFound      = errors.New("пользователь не найден")
	ErrFlowNotFound      = errors.New("нет активного диалога")
	// ErrFlowStale означает, что диалог был перезапущен или отменён и запись отброшена.
	ErrFlowStale = errors.New("диалог устарел")

	ErrInvalidDate      = errors.New("некорректная дата")
	ErrNotPreRelease    = errors.New("релиз уже сегодня или прошёл")
	ErrBrandingLocked   = errors.New("отключение брендинга недоступно")
	ErrRecipientBlocked = errors.New("получатель недоступен")
	ErrCacheMiss        = errors.New("нет в кэше")
	ErrUPCDisabled      = errors.New("поиск по UPC не настроен")
)
