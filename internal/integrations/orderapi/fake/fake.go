package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/expressbasket/ordertrack/internal/models"
)

// FakeFetcher — детерминированная заглушка API заказов для демо-режима
// order-watch и тестов. Статус выводится из хэша orderID, чтобы один и тот же
// заказ всегда выглядел одинаково.
type FakeFetcher struct{}

func New() *FakeFetcher { return &FakeFetcher{} }

func (f *FakeFetcher) FetchSnapshot(ctx context.Context, orderID, token string) (models.OrderTrackingSnapshot, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	v := h.Sum32()

	dest := models.GeoPoint{Lat: 41.3111, Lng: 69.2797}
	pkg := models.GeoPoint{Lat: 41.2995, Lng: 69.2401}

	snap := models.OrderTrackingSnapshot{
		OrderID: orderID,
		ShippingAddress: models.ShippingAddress{
			Line:        "demo address",
			Coordinates: &dest,
		},
	}

	history := func(upTo int) []models.StatusEntry {
		steps := []models.OrderStatus{
			models.StatusConfirmed, models.StatusPacked,
			models.StatusOutForDelivery, models.StatusDelivered,
		}
		out := make([]models.StatusEntry, 0, upTo)
		for i := 0; i < upTo; i++ {
			out = append(out, models.StatusEntry{
				Status:    steps[i],
				Timestamp: now.Add(time.Duration(i-upTo) * 10 * time.Minute),
			})
		}
		return out
	}

	switch v % 5 {
	case 0:
		snap.Status = models.StatusDelivered
		snap.StatusHistory = history(4)
		snap.PackagingPoint = &pkg
	case 1:
		snap.Status = models.StatusConfirmed
		snap.StatusHistory = history(1)
		// packagingPoint отсутствует: "маршрут ещё не назначен"
	default:
		snap.Status = models.StatusOutForDelivery
		snap.StatusHistory = history(3)
		snap.PackagingPoint = &pkg
		snap.CurrentLocation = &models.GeoPoint{Lat: 41.3051, Lng: 69.2600}
		snap.DeliveryPartner = &models.DeliveryPartner{Name: "Demo Courier", Phone: "+998900000000", Vehicle: "bike"}
	}

	return snap, nil
}
