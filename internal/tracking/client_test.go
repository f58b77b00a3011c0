package tracking

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/expressbasket/ordertrack/internal/integrations/orderapi"
	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	calls   atomic.Int64
	fn      func(call int64) (models.OrderTrackingSnapshot, error)
	fetched chan struct{}
}

func (f *scriptedFetcher) FetchSnapshot(ctx context.Context, orderID, token string) (models.OrderTrackingSnapshot, error) {
	n := f.calls.Add(1)
	if f.fetched != nil {
		f.fetched <- struct{}{}
	}
	return f.fn(n)
}

// manualTicks подменяет тикер клиента каналом: тест сам решает, когда
// наступает следующий интервал опроса.
func manualTicks(c *Client) chan time.Time {
	ticks := make(chan time.Time)
	c.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
	return ticks
}

func waitFetch(t *testing.T, f *scriptedFetcher) {
	t.Helper()
	select {
	case <-f.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not happen")
	}
}

func snapWithStatus(st models.OrderStatus) models.OrderTrackingSnapshot {
	pkg := models.GeoPoint{Lat: 41.3, Lng: 69.2}
	return models.OrderTrackingSnapshot{
		OrderID:        "ord-1",
		Status:         st,
		StatusHistory:  []models.StatusEntry{{Status: models.StatusConfirmed, Timestamp: time.Now().UTC()}},
		PackagingPoint: &pkg,
	}
}

func TestStart_RequiresToken(t *testing.T) {
	c := New(&scriptedFetcher{})
	err := c.Start(context.Background(), "ord-1", "")
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestStalenessGuard_LateResponseDiscarded(t *testing.T) {
	c := New(&scriptedFetcher{})
	c.orderID, c.token = "ord-1", "tok"

	seqA, _, _, ok := c.issue()
	require.True(t, ok)
	seqB, _, _, ok := c.issue()
	require.True(t, ok)

	// B завершается раньше A.
	c.complete(seqB, snapWithStatus(models.StatusOutForDelivery), nil)
	c.complete(seqA, snapWithStatus(models.StatusPacked), nil)

	v := c.State()
	require.NotNil(t, v.Snapshot)
	require.Equal(t, models.StatusOutForDelivery, v.Snapshot.Status)
	require.Equal(t, int64(1), c.Stats().StaleDropped)
}

func TestStop_PendingResponseDoesNotApply(t *testing.T) {
	c := New(&scriptedFetcher{})
	c.orderID, c.token = "ord-1", "tok"

	seq, _, _, ok := c.issue()
	require.True(t, ok)
	c.complete(seq, snapWithStatus(models.StatusPacked), nil)

	before := c.State()
	require.Equal(t, models.StatusPacked, before.Snapshot.Status)

	seq2, _, _, ok := c.issue()
	require.True(t, ok)
	c.Stop()
	c.complete(seq2, snapWithStatus(models.StatusDelivered), nil)

	after := c.State()
	require.Equal(t, models.StatusPacked, after.Snapshot.Status)
}

func TestStop_IdempotentWhenNotStarted(t *testing.T) {
	c := New(&scriptedFetcher{})
	c.Stop()
	c.Stop()
}

func TestPollingGating_DeliveredFetchesOnce(t *testing.T) {
	f := &scriptedFetcher{fetched: make(chan struct{}, 8), fn: func(int64) (models.OrderTrackingSnapshot, error) {
		return snapWithStatus(models.StatusDelivered), nil
	}}
	c := New(f).WithSettings(time.Hour, time.Second)
	ticks := manualTicks(c)
	require.NoError(t, c.Start(context.Background(), "ord-1", "tok"))
	defer c.Stop()

	waitFetch(t, f)

	// Каждый следующий send проходит только после обработки предыдущего
	// тика, так что к третьему тики 1-2 гарантированно отработаны.
	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
	}
	require.Equal(t, int64(1), f.calls.Load())
}

func TestPollingGating_OutForDeliveryKeepsPolling(t *testing.T) {
	f := &scriptedFetcher{fetched: make(chan struct{}, 8), fn: func(int64) (models.OrderTrackingSnapshot, error) {
		return snapWithStatus(models.StatusOutForDelivery), nil
	}}
	c := New(f).WithSettings(time.Hour, time.Second)
	ticks := manualTicks(c)
	require.NoError(t, c.Start(context.Background(), "ord-1", "tok"))
	defer c.Stop()

	waitFetch(t, f)

	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
		waitFetch(t, f)
	}
	require.Equal(t, int64(4), f.calls.Load())
}

func TestNonRetryableHaltsPolling(t *testing.T) {
	f := &scriptedFetcher{fetched: make(chan struct{}, 8), fn: func(int64) (models.OrderTrackingSnapshot, error) {
		return models.OrderTrackingSnapshot{}, orderapi.ErrNotFound
	}}
	c := New(f).WithSettings(time.Hour, time.Second)
	ticks := manualTicks(c)
	require.NoError(t, c.Start(context.Background(), "ord-1", "tok"))
	defer c.Stop()

	waitFetch(t, f)

	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
	}
	require.Equal(t, int64(1), f.calls.Load())

	v := c.State()
	require.ErrorIs(t, v.Err, orderapi.ErrNotFound)
	require.False(t, v.Loading)
}

func TestNetworkError_KeepsPreviousSnapshot(t *testing.T) {
	c := New(&scriptedFetcher{})
	c.orderID, c.token = "ord-1", "tok"

	seq, _, _, _ := c.issue()
	c.complete(seq, snapWithStatus(models.StatusOutForDelivery), nil)

	seq2, _, _, _ := c.issue()
	c.complete(seq2, models.OrderTrackingSnapshot{}, errors.Wrap(orderapi.ErrNetwork, "boom"))

	v := c.State()
	require.NotNil(t, v.Snapshot)
	require.Equal(t, models.StatusOutForDelivery, v.Snapshot.Status)
	require.NoError(t, v.Err) // graceful degradation: без баннера ошибки
	require.True(t, c.shouldPoll())
}

func TestNetworkError_BeforeFirstSnapshotSurfacesError(t *testing.T) {
	c := New(&scriptedFetcher{})
	c.orderID, c.token = "ord-1", "tok"
	c.view = View{Loading: true}

	seq, _, _, _ := c.issue()
	c.complete(seq, models.OrderTrackingSnapshot{}, errors.Wrap(orderapi.ErrNetwork, "boom"))

	v := c.State()
	require.Nil(t, v.Snapshot)
	require.ErrorIs(t, v.Err, orderapi.ErrNetwork)
	require.False(t, v.Loading)
	// опрос продолжается, пока не появится первый снапшот
	require.True(t, c.shouldPoll())
}

func TestBuildView_FallbackDistance(t *testing.T) {
	snap := snapWithStatus(models.StatusOutForDelivery)
	snap.CurrentLocation = &models.GeoPoint{Lat: 0, Lng: 0}
	snap.ShippingAddress.Coordinates = &models.GeoPoint{Lat: 0, Lng: 1}

	v := buildView(snap)
	require.NotNil(t, v.FallbackDistanceMeters)
	require.InEpsilon(t, 111195.0, *v.FallbackDistanceMeters, 0.01)
}

func TestBuildView_ServerSuppliedDistanceWins(t *testing.T) {
	snap := snapWithStatus(models.StatusOutForDelivery)
	snap.CurrentLocation = &models.GeoPoint{Lat: 0, Lng: 0}
	snap.ShippingAddress.Coordinates = &models.GeoPoint{Lat: 0, Lng: 1}
	d := "1.2 km"
	snap.Distance = &d

	v := buildView(snap)
	require.Nil(t, v.FallbackDistanceMeters)
}

func TestBuildView_InvalidCoordinatesOnlySuppressBadge(t *testing.T) {
	snap := snapWithStatus(models.StatusOutForDelivery)
	snap.CurrentLocation = &models.GeoPoint{Lat: 95, Lng: 0} // мусор от сервера
	snap.ShippingAddress.Coordinates = &models.GeoPoint{Lat: 0, Lng: 1}

	v := buildView(snap)
	require.Nil(t, v.FallbackDistanceMeters)
	require.Len(t, v.Timeline, 4)
	require.NotNil(t, v.Snapshot)
}

func TestListener_CalledOnApply(t *testing.T) {
	var got atomic.Int64
	c := New(&scriptedFetcher{}).WithListener(func(v View) { got.Add(1) })
	c.orderID, c.token = "ord-1", "tok"

	seq, _, _, _ := c.issue()
	c.complete(seq, snapWithStatus(models.StatusPacked), nil)
	require.Equal(t, int64(1), got.Load())
}

func TestRefresh_ForcesImmediateFetch(t *testing.T) {
	f := &scriptedFetcher{fetched: make(chan struct{}, 8), fn: func(int64) (models.OrderTrackingSnapshot, error) {
		return snapWithStatus(models.StatusDelivered), nil
	}}
	c := New(f).WithSettings(time.Hour, time.Second)
	require.NoError(t, c.Start(context.Background(), "ord-1", "tok"))
	defer c.Stop()

	waitFetch(t, f)
	require.Equal(t, int64(1), f.calls.Load())

	c.Refresh()
	waitFetch(t, f)
	require.Equal(t, int64(2), f.calls.Load())
}
