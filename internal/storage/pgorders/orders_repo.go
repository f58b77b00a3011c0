package pgorders

import (
	"context"
	"time"

	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateOrder(ctx context.Context, id string, in models.OrderCreateInput) error {
	now := time.Now().UTC()

	var destLat, destLng *float64
	if in.Destination != nil {
		destLat, destLng = &in.Destination.Lat, &in.Destination.Lng
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO orders (id, user_id, status, address_line, dest_lat, dest_lng, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
`, id, in.UserID, models.StatusPending, in.AddressLine, destLat, destLng, now)
	return errors.Wrap(err, "insert order")
}

// GetCurrentStatus возвращает статус без сборки снапшота (для проверки
// перехода перед апдейтом). user_id не проверяется: статус меняет
// бэк-офис, а не владелец заказа.
func (s *Storage) GetCurrentStatus(ctx context.Context, orderID string) (models.OrderStatus, error) {
	var st models.OrderStatus
	err := s.db.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&st)
	if err == pgx.ErrNoRows {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "select status")
	}
	return st, nil
}

// GetSnapshot собирает снапшот трекинга, видимый владельцу заказа.
// Чужой заказ неотличим от несуществующего.
func (s *Storage) GetSnapshot(ctx context.Context, orderID, userID string) (models.OrderTrackingSnapshot, error) {
	var (
		snap                      models.OrderTrackingSnapshot
		addressLine               string
		destLat, destLng          *float64
		pkgLat, pkgLng            *float64
		courierLat, courierLng    *float64
		partnerName, partnerPhone *string
		partnerVehicle            *string
		eta, distance             *string
		ratingOverall             *int
		ratingPackaging           *int
		ratingFreshness           *int
		ratingComment             *string
	)

	err := s.db.QueryRow(ctx, `
SELECT
  id, status, address_line,
  dest_lat, dest_lng,
  packaging_lat, packaging_lng,
  courier_lat, courier_lng,
  partner_name, partner_phone, partner_vehicle,
  eta, distance,
  rating_overall, rating_packaging, rating_freshness, rating_comment
FROM orders
WHERE id = $1 AND user_id = $2
`, orderID, userID).Scan(
		&snap.OrderID, &snap.Status, &addressLine,
		&destLat, &destLng,
		&pkgLat, &pkgLng,
		&courierLat, &courierLng,
		&partnerName, &partnerPhone, &partnerVehicle,
		&eta, &distance,
		&ratingOverall, &ratingPackaging, &ratingFreshness, &ratingComment,
	)
	if err == pgx.ErrNoRows {
		return models.OrderTrackingSnapshot{}, ErrOrderNotFound
	}
	if err != nil {
		return models.OrderTrackingSnapshot{}, errors.Wrap(err, "select order")
	}

	snap.ShippingAddress = models.ShippingAddress{Line: addressLine}
	if destLat != nil && destLng != nil {
		snap.ShippingAddress.Coordinates = &models.GeoPoint{Lat: *destLat, Lng: *destLng}
	}
	if pkgLat != nil && pkgLng != nil {
		snap.PackagingPoint = &models.GeoPoint{Lat: *pkgLat, Lng: *pkgLng}
	}
	if courierLat != nil && courierLng != nil {
		snap.CurrentLocation = &models.GeoPoint{Lat: *courierLat, Lng: *courierLng}
	}
	if partnerName != nil {
		snap.DeliveryPartner = &models.DeliveryPartner{
			Name:    *partnerName,
			Phone:   deref(partnerPhone),
			Vehicle: deref(partnerVehicle),
		}
	}
	snap.ETA = eta
	snap.Distance = distance
	if ratingOverall != nil {
		snap.DeliveryRating = &models.DeliveryRating{
			Overall:   *ratingOverall,
			Packaging: derefInt(ratingPackaging),
			Freshness: derefInt(ratingFreshness),
			Comment:   ratingComment,
		}
	}

	history, err := s.listStatusHistory(ctx, orderID)
	if err != nil {
		return models.OrderTrackingSnapshot{}, err
	}
	snap.StatusHistory = history

	return snap, nil
}

func (s *Storage) listStatusHistory(ctx context.Context, orderID string) ([]models.StatusEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT status, message, event_time
FROM order_status_history
WHERE order_id = $1
ORDER BY event_time ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []models.StatusEntry
	for rows.Next() {
		var e models.StatusEntry
		var msg string
		if err := rows.Scan(&e.Status, &msg, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		if msg != "" {
			e.Message = &msg
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type StatusUpdate struct {
	OrderID string
	Status  models.OrderStatus
	Message *string
	At      time.Time

	// Назначение маршрута и партнёра приходит вместе с переходом
	// в packed / out_for_delivery.
	PackagingPoint *models.GeoPoint
	Partner        *models.DeliveryPartner
	ETA            *string
	Distance       *string
}

// ApplyStatusUpdate обновляет статус и дописывает историю в одной
// транзакции. Повторный переход в тот же статус дедуплицируется
// уникальным индексом.
func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var pkgLat, pkgLng *float64
	if upd.PackagingPoint != nil {
		pkgLat, pkgLng = &upd.PackagingPoint.Lat, &upd.PackagingPoint.Lng
	}
	var pName, pPhone, pVehicle *string
	if upd.Partner != nil {
		pName, pPhone, pVehicle = &upd.Partner.Name, &upd.Partner.Phone, &upd.Partner.Vehicle
	}

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET
  status = $2,
  packaging_lat = COALESCE($3, packaging_lat),
  packaging_lng = COALESCE($4, packaging_lng),
  partner_name = COALESCE($5, partner_name),
  partner_phone = COALESCE($6, partner_phone),
  partner_vehicle = COALESCE($7, partner_vehicle),
  eta = COALESCE($8, eta),
  distance = COALESCE($9, distance),
  updated_at = now()
WHERE id = $1
`, upd.OrderID, upd.Status, pkgLat, pkgLng, pName, pPhone, pVehicle, upd.ETA, upd.Distance)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	msg := ""
	if upd.Message != nil {
		msg = *upd.Message
	}
	_, err = tx.Exec(ctx, `
INSERT INTO order_status_history (order_id, status, message, event_time, created_at)
VALUES ($1,$2,$3,$4, now())
ON CONFLICT (order_id, status) DO NOTHING
`, upd.OrderID, upd.Status, msg, upd.At.UTC())
	if err != nil {
		return errors.Wrap(err, "insert history entry")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) UpdateCourierPosition(ctx context.Context, orderID string, p models.GeoPoint, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET courier_lat = $2, courier_lng = $3, courier_at = $4, updated_at = now()
WHERE id = $1
`, orderID, p.Lat, p.Lng, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update courier position")
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SaveRating пишет оценку атомарно: только доставленный и ещё не
// оценённый заказ владельца. Причина отказа восстанавливается отдельным
// запросом.
func (s *Storage) SaveRating(ctx context.Context, orderID, userID string, r models.DeliveryRating) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  rating_overall = $3,
  rating_packaging = $4,
  rating_freshness = $5,
  rating_comment = $6,
  rated_at = now(),
  updated_at = now()
WHERE id = $1 AND user_id = $2 AND status = $7 AND rating_overall IS NULL
`, orderID, userID, r.Overall, r.Packaging, r.Freshness, r.Comment, models.StatusDelivered)
	if err != nil {
		return errors.Wrap(err, "save rating")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status models.OrderStatus
	var rated *int
	err = s.db.QueryRow(ctx, `
SELECT status, rating_overall FROM orders WHERE id = $1 AND user_id = $2
`, orderID, userID).Scan(&status, &rated)
	if err == pgx.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select order for rating check")
	}
	if rated != nil {
		return ErrAlreadyRated
	}
	return ErrNotDelivered
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
