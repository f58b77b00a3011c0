package messages

import (
	"time"

	"github.com/expressbasket/ordertrack/internal/models"
)

// OrderStatusUpdated публикуется API при каждом применённом переходе
// статуса (для нотификаций и аналитики).
type OrderStatusUpdated struct {
	OrderID    string             `json:"order_id"`
	Status     models.OrderStatus `json:"status"`
	Message    *string            `json:"message,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// CourierPosition приходит из приложения курьера через брокер и
// применяется к текущей позиции заказа.
type CourierPosition struct {
	OrderID    string    `json:"order_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}
