package models

import "time"

// Статусы заказа. Закрытый набор: сервер владеет переходами,
// клиент только отображает текущее значение.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPacked         OrderStatus = "packed"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPacked, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition describes the server-side state machine:
// pending -> confirmed -> packed -> out_for_delivery -> delivered,
// cancelled reachable from any non-terminal state.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return !from.Terminal()
	}
	switch from {
	case StatusPending:
		return to == StatusConfirmed
	case StatusConfirmed:
		return to == StatusPacked
	case StatusPacked:
		return to == StatusOutForDelivery
	case StatusOutForDelivery:
		return to == StatusDelivered
	case StatusDelivered, StatusCancelled:
		return false
	}
	return false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Message   *string     `json:"message,omitempty"`
}

type DeliveryPartner struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Vehicle string `json:"vehicle"`
}

type DeliveryRating struct {
	Overall   int     `json:"overall" validate:"required,min=1,max=5"`
	Packaging int     `json:"packaging" validate:"required,min=1,max=5"`
	Freshness int     `json:"freshness" validate:"required,min=1,max=5"`
	Comment   *string `json:"comment,omitempty" validate:"omitempty,max=1000"`
}

type ShippingAddress struct {
	Line        string    `json:"line,omitempty"`
	Coordinates *GeoPoint `json:"coordinates,omitempty"`
}

// OrderTrackingSnapshot — одно считанное состояние трекинга заказа.
// Создаётся заново на каждый успешный fetch, никогда не мутируется на месте.
type OrderTrackingSnapshot struct {
	OrderID         string           `json:"orderId"`
	Status          OrderStatus      `json:"status"`
	StatusHistory   []StatusEntry    `json:"statusHistory"`
	CurrentLocation *GeoPoint        `json:"currentLocation,omitempty"`
	ShippingAddress ShippingAddress  `json:"shippingAddress"`
	DeliveryPartner *DeliveryPartner `json:"deliveryPartner,omitempty"`
	ETA             *string          `json:"eta,omitempty"`
	Distance        *string          `json:"distance,omitempty"`
	PackagingPoint  *GeoPoint        `json:"packagingPoint,omitempty"`
	DeliveryRating  *DeliveryRating  `json:"deliveryRating,omitempty"`
}

// RouteAllocated is gated solely by packagingPoint presence, independent
// of Status. A snapshot without it renders the "route not allocated" state.
func (s *OrderTrackingSnapshot) RouteAllocated() bool {
	return s.PackagingPoint != nil
}

// ShowLiveMap: live map and partner card render iff the order is out for
// delivery and both the courier position and the destination are known.
func (s *OrderTrackingSnapshot) ShowLiveMap() bool {
	return s.Status == StatusOutForDelivery &&
		s.CurrentLocation != nil &&
		s.ShippingAddress.Coordinates != nil
}

// CanRate: rating is offered once, after delivery.
func (s *OrderTrackingSnapshot) CanRate() bool {
	return s.Status == StatusDelivered && s.DeliveryRating == nil
}

type OrderCreateInput struct {
	UserID      string
	AddressLine string
	Destination *GeoPoint
}
