package orderapi

import (
	"context"

	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/pkg/errors"
)

// Таксономия ошибок границы fetch. Совпадение проверяется через errors.Is.
var (
	// ErrUnauthorized: токен отклонён сервером. Не ретраится.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound: заказ не существует или принадлежит другому пользователю. Не ретраится.
	ErrNotFound = errors.New("order not found")
	// ErrNetwork: транспортный сбой или таймаут. Ретраится только на следующем тике.
	ErrNetwork = errors.New("network error")
	// ErrAlreadyRated: повторная отправка оценки доставки.
	ErrAlreadyRated = errors.New("delivery already rated")
)

type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, orderID, token string) (models.OrderTrackingSnapshot, error)
}
