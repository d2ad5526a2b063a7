// Package security собирает HTTP-клиенты для запросов на внешние адреса.
package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge возвращается, когда тело ответа превысило лимит.
var ErrResponseTooLarge = errors.New("ответ слишком большой")

// NewSafeClient создаёт клиента, который не ходит во внутренние сети.
// Приватные, loopback и link-local адреса блокируются после DNS-резолва.
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// ReadLimited читает тело ответа не больше limit байт.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// StatusError возвращает ошибку для кодов ответа 4xx и 5xx.
func StatusError(resp *http.Response) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("неожиданный статус %d", resp.StatusCode)
	}
	return nil
}
