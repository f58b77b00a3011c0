package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/expressbasket/ordertrack/internal/broker/messages"
	"github.com/expressbasket/ordertrack/internal/cache"
	"github.com/expressbasket/ordertrack/internal/geo"
	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/expressbasket/ordertrack/internal/storage/pgorders"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

type Repository interface {
	CreateOrder(ctx context.Context, id string, in models.OrderCreateInput) error
	GetSnapshot(ctx context.Context, orderID, userID string) (models.OrderTrackingSnapshot, error)
	GetCurrentStatus(ctx context.Context, orderID string) (models.OrderStatus, error)
	ApplyStatusUpdate(ctx context.Context, upd pgorders.StatusUpdate) error
	UpdateCourierPosition(ctx context.Context, orderID string, p models.GeoPoint, at time.Time) error
	SaveRating(ctx context.Context, orderID, userID string, r models.DeliveryRating) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo        Repository
	cache       cache.BytesCache
	producer    Producer
	topic       string
	snapshotTTL time.Duration
	validate    *validator.Validate
}

func New(repo Repository, c cache.BytesCache, producer Producer, topic string, snapshotTTL time.Duration) *Service {
	return &Service{
		repo:        repo,
		cache:       c,
		producer:    producer,
		topic:       topic,
		snapshotTTL: snapshotTTL,
		validate:    validator.New(),
	}
}

func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (string, error) {
	if in.UserID == "" {
		return "", errors.Wrap(ErrValidation, "userID is required")
	}
	if in.Destination != nil {
		if err := geo.ValidatePoint(*in.Destination); err != nil {
			return "", errors.Wrap(ErrValidation, err.Error())
		}
	}

	id := uuid.NewString()
	if err := s.repo.CreateOrder(ctx, id, in); err != nil {
		return "", err
	}
	return id, nil
}

// cachedSnapshot хранит владельца рядом со снапшотом: ключ кэша не
// содержит user_id, иначе write path не смог бы его инвалидировать.
type cachedSnapshot struct {
	UserID   string                       `json:"userId"`
	Snapshot models.OrderTrackingSnapshot `json:"snapshot"`
}

// GetTracking возвращает снапшот трекинга владельцу заказа.
// Кэш — best effort: не обязан быть живым.
func (s *Service) GetTracking(ctx context.Context, orderID, userID string) (models.OrderTrackingSnapshot, error) {
	key := snapshotKey(orderID)

	if s.cache != nil && s.snapshotTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var c cachedSnapshot
			if json.Unmarshal(b, &c) == nil {
				if c.UserID != userID {
					// Чужой заказ неотличим от несуществующего.
					return models.OrderTrackingSnapshot{}, pgorders.ErrOrderNotFound
				}
				return c.Snapshot, nil
			}
		}
	}

	snap, err := s.repo.GetSnapshot(ctx, orderID, userID)
	if err != nil {
		return models.OrderTrackingSnapshot{}, err
	}

	if s.cache != nil && s.snapshotTTL > 0 {
		b, _ := json.Marshal(cachedSnapshot{UserID: userID, Snapshot: snap})
		_ = s.cache.Set(ctx, key, b, s.snapshotTTL)
	}
	return snap, nil
}

type StatusUpdateInput struct {
	OrderID        string
	Status         models.OrderStatus
	Message        *string
	At             time.Time
	PackagingPoint *models.GeoPoint
	Partner        *models.DeliveryPartner
	ETA            *string
	Distance       *string
}

// ApplyStatusUpdate проверяет переход по машине состояний, пишет его в
// хранилище и публикует событие в брокер.
func (s *Service) ApplyStatusUpdate(ctx context.Context, in StatusUpdateInput) error {
	if !in.Status.Valid() {
		return errors.Wrapf(ErrValidation, "unknown status %q", in.Status)
	}
	if in.At.IsZero() {
		in.At = time.Now().UTC()
	}
	if in.PackagingPoint != nil {
		if err := geo.ValidatePoint(*in.PackagingPoint); err != nil {
			return errors.Wrap(ErrValidation, err.Error())
		}
	}

	current, err := s.repo.GetCurrentStatus(ctx, in.OrderID)
	if err != nil {
		return err
	}
	if current == in.Status {
		// Повторная доставка того же перехода: идемпотентный no-op.
		return nil
	}
	if !models.CanTransition(current, in.Status) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, in.Status)
	}

	err = s.repo.ApplyStatusUpdate(ctx, pgorders.StatusUpdate{
		OrderID:        in.OrderID,
		Status:         in.Status,
		Message:        in.Message,
		At:             in.At,
		PackagingPoint: in.PackagingPoint,
		Partner:        in.Partner,
		ETA:            in.ETA,
		Distance:       in.Distance,
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, in.OrderID)
	s.publishStatusUpdated(ctx, in)
	return nil
}

func (s *Service) publishStatusUpdated(ctx context.Context, in StatusUpdateInput) {
	if s.producer == nil || s.topic == "" {
		return
	}
	b, err := json.Marshal(messages.OrderStatusUpdated{
		OrderID:    in.OrderID,
		Status:     in.Status,
		Message:    in.Message,
		OccurredAt: in.At,
	})
	if err != nil {
		return
	}
	// Переход уже закоммичен; потерю события логируем, но апдейт не
	// откатываем.
	if err := s.producer.Publish(ctx, s.topic, []byte(in.OrderID), b); err != nil {
		slog.Warn("publish status update", "order_id", in.OrderID, "error", err.Error())
	}
}

// ApplyCourierPositionMessage применяет сообщение courier.position из
// брокера. Кривые координаты отбрасываются до обращения к хранилищу.
func (s *Service) ApplyCourierPositionMessage(ctx context.Context, value []byte) error {
	var msg messages.CourierPosition
	if err := json.Unmarshal(value, &msg); err != nil {
		return errors.Wrapf(ErrValidation, "unmarshal courier position: %v", err)
	}
	return s.ApplyCourierPosition(ctx, msg)
}

func (s *Service) ApplyCourierPosition(ctx context.Context, msg messages.CourierPosition) error {
	if msg.OrderID == "" {
		return errors.Wrap(ErrValidation, "order_id is required")
	}
	p := models.GeoPoint{Lat: msg.Lat, Lng: msg.Lng}
	if err := geo.ValidatePoint(p); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	at := msg.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if err := s.repo.UpdateCourierPosition(ctx, msg.OrderID, p, at); err != nil {
		return err
	}
	s.invalidate(ctx, msg.OrderID)
	return nil
}

// SubmitRating принимает оценку доставки: только delivered, только один раз.
func (s *Service) SubmitRating(ctx context.Context, orderID, userID string, r models.DeliveryRating) error {
	if err := s.validate.Struct(r); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	if err := s.repo.SaveRating(ctx, orderID, userID, r); err != nil {
		return err
	}
	s.invalidate(ctx, orderID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, snapshotKey(orderID))
}

func snapshotKey(orderID string) string {
	return fmt.Sprintf("order:%s:tracking:current", orderID)
}
