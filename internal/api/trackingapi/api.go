// Package trackingapi exposes the order-tracking resource over HTTP for the
// storefront: snapshot reads for the customer, status and courier-position
// writes for the back office.
package trackingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/expressbasket/ordertrack/internal/auth"
	"github.com/expressbasket/ordertrack/internal/broker/messages"
	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/expressbasket/ordertrack/internal/services/orders"
	"github.com/expressbasket/ordertrack/internal/storage/pgorders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type ctxKey string

const userIDKey ctxKey = "user_id"

type API struct {
	svc      *orders.Service
	verifier *auth.Verifier

	rl                   RateLimiter
	ratingLimitPerMinute int64
	allowedOrigins       []string
}

func New(svc *orders.Service, verifier *auth.Verifier) *API {
	return &API{
		svc:                  svc,
		verifier:             verifier,
		ratingLimitPerMinute: 10,
	}
}

func (a *API) WithRateLimiter(rl RateLimiter, ratingPerMinute int64) *API {
	a.rl = rl
	if ratingPerMinute > 0 {
		a.ratingLimitPerMinute = ratingPerMinute
	}
	return a
}

func (a *API) WithAllowedOrigins(origins []string) *API {
	a.allowedOrigins = origins
	return a
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	origins := a.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1/orders", func(r chi.Router) {
		r.Use(a.authenticate)
		r.Post("/", a.createOrder)
		r.Get("/{orderID}/tracking", a.getTracking)
		r.With(a.limitRatings).Post("/{orderID}/rating", a.submitRating)
		r.Post("/{orderID}/status", a.updateStatus)
		r.Post("/{orderID}/position", a.updatePosition)
	})

	return r
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			writeError(w, errors.Wrap(auth.ErrInvalidToken, "missing bearer token"))
			return
		}
		claims, err := a.verifier.Parse(parts[1])
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) limitRatings(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil {
			next.ServeHTTP(w, r)
			return
		}
		userID, _ := r.Context().Value(userIDKey).(string)
		key := fmt.Sprintf("rl:rating:%s:%s", userID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := a.rl.Allow(r.Context(), key, a.ratingLimitPerMinute, 70*time.Second)
		if err != nil {
			// Лимитер лёг — пропускаем, а не валим запрос.
			slog.Warn("rating rate limit check failed", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			slog.Warn("rating rate limit exceeded", "user_id", userID, "count", n)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createOrderRequest struct {
	AddressLine string           `json:"addressLine"`
	Destination *models.GeoPoint `json:"destination,omitempty"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	userID, _ := r.Context().Value(userIDKey).(string)

	id, err := a.svc.CreateOrder(r.Context(), models.OrderCreateInput{
		UserID:      userID,
		AddressLine: req.AddressLine,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"orderId": id})
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID, _ := r.Context().Value(userIDKey).(string)

	snap, err := a.svc.GetTracking(r.Context(), orderID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) submitRating(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID, _ := r.Context().Value(userIDKey).(string)

	var rating models.DeliveryRating
	if err := json.NewDecoder(r.Body).Decode(&rating); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := a.svc.SubmitRating(r.Context(), orderID, userID, rating); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusUpdateRequest struct {
	Status         models.OrderStatus      `json:"status"`
	Message        *string                 `json:"message,omitempty"`
	PackagingPoint *models.GeoPoint        `json:"packagingPoint,omitempty"`
	Partner        *models.DeliveryPartner `json:"deliveryPartner,omitempty"`
	ETA            *string                 `json:"eta,omitempty"`
	Distance       *string                 `json:"distance,omitempty"`
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	err := a.svc.ApplyStatusUpdate(r.Context(), orders.StatusUpdateInput{
		OrderID:        orderID,
		Status:         req.Status,
		Message:        req.Message,
		At:             time.Now().UTC(),
		PackagingPoint: req.PackagingPoint,
		Partner:        req.Partner,
		ETA:            req.ETA,
		Distance:       req.Distance,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type positionUpdateRequest struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

func (a *API) updatePosition(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req positionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	msg := messages.CourierPosition{OrderID: orderID, Lat: req.Lat, Lng: req.Lng}
	if req.RecordedAt != nil {
		msg.RecordedAt = *req.RecordedAt
	}
	if err := a.svc.ApplyCourierPosition(r.Context(), msg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, pgorders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, pgorders.ErrAlreadyRated), errors.Is(err, pgorders.ErrNotDelivered),
		errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("internal error", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
