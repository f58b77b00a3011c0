package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/expressbasket/ordertrack/config"
	"github.com/expressbasket/ordertrack/internal/api/trackingapi"
	"github.com/expressbasket/ordertrack/internal/auth"
	"github.com/expressbasket/ordertrack/internal/broker/kafka"
	"github.com/expressbasket/ordertrack/internal/cache"
	"github.com/expressbasket/ordertrack/internal/cache/rediscache"
	"github.com/expressbasket/ordertrack/internal/services/orders"
	"github.com/expressbasket/ordertrack/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type apiFactories struct {
	newStorage     func(cfg *config.Config) (repo orders.Repository, closeFn func(), err error)
	newCache       func(cfg *config.Config) cache.BytesCache
	newProducer    func(cfg *config.Config) orders.Producer
	newRateLimiter func(cfg *config.Config) trackingapi.RateLimiter
	newConsumer    func(cfg *config.Config) positionConsumer

	onListen func(httpAddr string)
}

type positionConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

func defaultAPIFactories() apiFactories {
	return apiFactories{
		newStorage: func(cfg *config.Config) (orders.Repository, func(), error) {
			st, err := pgorders.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(cfg.Redis.Addr())
		},
		newProducer: func(cfg *config.Config) orders.Producer {
			return kafka.NewProducer([]string{cfg.Kafka.Broker()})
		},
		newRateLimiter: func(cfg *config.Config) trackingapi.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newConsumer: func(cfg *config.Config) positionConsumer {
			topic := cfg.Kafka.CourierPositionTopicName
			if topic == "" {
				topic = "courier.position"
			}
			group := cfg.Basket.KafkaConsumerGroup
			if group == "" {
				group = "order-api"
			}
			return kafka.NewConsumer([]string{cfg.Kafka.Broker()}, topic, group)
		},
	}
}

// positionHandler применяет сообщение courier.position. Возвращённая
// ошибка означает «offset не коммитить»: битые и осиротевшие сообщения
// дропаем с коммитом, а сбой хранилища требует повторной доставки.
func positionHandler(ctx context.Context, svc *orders.Service) func(key, value []byte) error {
	return func(_, value []byte) error {
		err := svc.ApplyCourierPositionMessage(ctx, value)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, orders.ErrValidation), errors.Is(err, pgorders.ErrOrderNotFound):
			slog.Warn("courier position message dropped", "error", err.Error())
			return nil
		default:
			return err
		}
	}
}

func runPositionConsumer(ctx context.Context, consumer positionConsumer, handler func(key, value []byte) error, restartDelay time.Duration) {
	defer consumer.Close()
	for {
		err := consumer.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("consumer exited")
		}
		slog.Error("courier position consumer stopped, restarting", "error", err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func RunOrderAPI(ctx context.Context, cfg *config.Config, f apiFactories) error {
	httpAddr := cfg.Basket.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	statusTopic := cfg.Kafka.StatusUpdatedTopicName
	if statusTopic == "" {
		statusTopic = "order.status.updated"
	}
	snapshotTTL := time.Duration(cfg.Basket.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 60 * time.Second
	}
	ratingRL := int64(cfg.Basket.RatingRateLimitPerMinute)
	if ratingRL <= 0 {
		ratingRL = 10
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	svc := orders.New(repo, f.newCache(cfg), f.newProducer(cfg), statusTopic, snapshotTTL)

	// Позиции курьеров приезжают из брокера от курьерского приложения.
	consumer := f.newConsumer(cfg)
	if consumer != nil {
		go runPositionConsumer(ctx, consumer, positionHandler(ctx, svc), time.Second)
	}

	api := trackingapi.New(svc, auth.NewVerifier([]byte(cfg.Basket.AuthSecret))).
		WithRateLimiter(f.newRateLimiter(cfg), ratingRL).
		WithAllowedOrigins(cfg.Basket.CORSAllowedOrigins)

	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return err
	}
	if f.onListen != nil {
		f.onListen(lis.Addr().String())
	}
	slog.Info("order-api listening", "addr", lis.Addr().String())

	srv := &http.Server{Handler: api.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
