package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) FetchSnapshot(ctx context.Context, orderID, token string) (models.OrderTrackingSnapshot, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return models.OrderTrackingSnapshot{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/orders/%s/tracking", url.PathEscape(orderID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.OrderTrackingSnapshot{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Транспортный сбой и таймаут контекста попадают сюда.
		return models.OrderTrackingSnapshot{}, errors.Wrapf(ErrNetwork, "do request: %v", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return models.OrderTrackingSnapshot{}, err
	}

	var snap models.OrderTrackingSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return models.OrderTrackingSnapshot{}, errors.Wrapf(ErrNetwork, "decode snapshot: %v", err)
	}
	return snap, nil
}

// SubmitRating — коллаборатор, не ядро трекинга: POST оценки доставки.
// Предлагается только когда статус delivered и оценки ещё нет.
func (c *Client) SubmitRating(ctx context.Context, orderID, token string, r models.DeliveryRating) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/orders/%s/rating", url.PathEscape(orderID))

	body, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal rating")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrapf(ErrNetwork, "do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyRated
	}
	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code/100 == 2:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return errors.Wrapf(ErrNetwork, "http %d", code)
	}
}
