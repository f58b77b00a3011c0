// Package tracking owns the fetch/poll lifecycle for a single order's
// tracking state and exposes the latest result to a presentation layer.
package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expressbasket/ordertrack/internal/geo"
	"github.com/expressbasket/ordertrack/internal/integrations/orderapi"
	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/expressbasket/ordertrack/internal/timeline"
	"github.com/pkg/errors"
)

// ErrAuthRequired: эндпоинт трекинга пользовательский, без токена не начинаем.
var ErrAuthRequired = errors.New("auth token required")

// View — то, что видит слой отрисовки на каждый тик: снапшот, проекция
// таймлайна и fallback-дистанция, когда сервер не прислал eta/distance.
type View struct {
	Snapshot               *models.OrderTrackingSnapshot
	Timeline               []timeline.Step
	FallbackDistanceMeters *float64
	Loading                bool
	Err                    error
}

type Listener func(View)

type Client struct {
	fetcher  orderapi.SnapshotFetcher
	listener Listener

	pollInterval time.Duration
	fetchTimeout time.Duration

	mu      sync.Mutex
	orderID string
	token   string
	seq     uint64 // последний выданный номер запроса
	view    View
	halted  bool // не-ретраибельная ошибка: опрос остановлен
	stopped bool
	started bool
	cancel  context.CancelFunc

	triggerCh chan struct{}
	newTicker func(d time.Duration) (<-chan time.Time, func())

	totalFetches      atomic.Int64
	totalErrors       atomic.Int64
	staleDropped      atomic.Int64
	lastFetchUnixNano atomic.Int64
}

func New(fetcher orderapi.SnapshotFetcher) *Client {
	return &Client{
		fetcher:      fetcher,
		pollInterval: 10 * time.Second,
		fetchTimeout: 8 * time.Second,
		triggerCh:    make(chan struct{}, 1),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (c *Client) WithSettings(pollInterval, fetchTimeout time.Duration) *Client {
	if pollInterval > 0 {
		c.pollInterval = pollInterval
	}
	if fetchTimeout > 0 {
		c.fetchTimeout = fetchTimeout
	}
	return c
}

// WithListener registers the render callback. Called after every applied
// fetch result, outside the client's lock.
func (c *Client) WithListener(l Listener) *Client {
	c.listener = l
	return c
}

// Start begins tracking: an immediate fetch, then recurring fetches while
// the last known status is out_for_delivery.
func (c *Client) Start(ctx context.Context, orderID, authToken string) error {
	if authToken == "" {
		return ErrAuthRequired
	}
	if orderID == "" {
		return errors.New("orderID is required")
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("tracking already started")
	}
	c.started = true
	c.orderID = orderID
	c.token = authToken
	c.view = View{Loading: true}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Stop cancels the recurring schedule and invalidates all outstanding
// request sequence numbers, so an in-flight response can no longer be
// applied. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.seq++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Refresh forces an immediate fetch (best-effort, non-blocking).
func (c *Client) Refresh() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// State returns the latest view. Safe to call from any goroutine.
func (c *Client) State() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

type Stats struct {
	TotalFetches int64      `json:"totalFetches"`
	TotalErrors  int64      `json:"totalErrors"`
	StaleDropped int64      `json:"staleDropped"`
	LastFetchAt  *time.Time `json:"lastFetchAt,omitempty"`
}

func (c *Client) Stats() Stats {
	st := Stats{
		TotalFetches: c.totalFetches.Load(),
		TotalErrors:  c.totalErrors.Load(),
		StaleDropped: c.staleDropped.Load(),
	}
	if n := c.lastFetchUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastFetchAt = &t
	}
	return st
}

func (c *Client) run(ctx context.Context) {
	c.fetchOnce(ctx)

	tick, stop := c.newTicker(c.pollInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if c.shouldPoll() {
				c.fetchOnce(ctx)
			}
		case <-c.triggerCh:
			c.fetchOnce(ctx)
		}
	}
}

// Опрос продолжается только пока заказ в пути; для остальных статусов
// хватает одного fetch'а. Пока снапшота нет вовсе (стартовый fetch упал
// по сети), продолжаем ретраить по расписанию.
func (c *Client) shouldPoll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted || c.stopped {
		return false
	}
	return c.view.Snapshot == nil || c.view.Snapshot.Status == models.StatusOutForDelivery
}

func (c *Client) fetchOnce(ctx context.Context) {
	seq, orderID, token, ok := c.issue()
	if !ok {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	snap, err := c.fetcher.FetchSnapshot(fctx, orderID, token)
	c.complete(seq, snap, err)
}

// issue allocates the next request sequence number.
func (c *Client) issue() (seq uint64, orderID, token string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.halted {
		return 0, "", "", false
	}
	c.seq++
	return c.seq, c.orderID, c.token, true
}

// complete applies a fetch result under the staleness guard: only the
// response of the most recently issued request may update the view.
func (c *Client) complete(seq uint64, snap models.OrderTrackingSnapshot, err error) {
	c.totalFetches.Add(1)
	c.lastFetchUnixNano.Store(time.Now().UTC().UnixNano())

	c.mu.Lock()
	if c.stopped || seq != c.seq {
		// Поздний ответ уже неактуального запроса. Применить его —
		// значит «отмотать» прогресс доставки на экране назад.
		c.staleDropped.Add(1)
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.totalErrors.Add(1)
		switch {
		case nonRetryable(err):
			c.halted = true
			c.view.Loading = false
			c.view.Err = err
		case c.view.Snapshot == nil:
			c.view.Loading = false
			c.view.Err = err
		default:
			// Транзиентный сбой при живом снапшоте: показываем прежние
			// данные без баннера, ретрай на следующем тике.
		}
	} else {
		c.view = buildView(snap)
	}

	v := c.view
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l(v)
	}
}

func nonRetryable(err error) bool {
	return errors.Is(err, orderapi.ErrNotFound) || errors.Is(err, orderapi.ErrUnauthorized)
}

func buildView(snap models.OrderTrackingSnapshot) View {
	v := View{
		Snapshot: &snap,
		Timeline: timeline.Project(snap.StatusHistory, snap.Status),
	}
	if snap.ETA == nil && snap.Distance == nil &&
		snap.CurrentLocation != nil && snap.ShippingAddress.Coordinates != nil {
		d, err := geo.DistanceMeters(*snap.CurrentLocation, *snap.ShippingAddress.Coordinates)
		if err == nil {
			v.FallbackDistanceMeters = &d
		}
		// Кривые координаты от сервера гасят только бейдж дистанции,
		// таймлайн и карта живут дальше.
	}
	return v
}
