package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

type countingStore struct {
	repositories.NotificationStore
	aggregations int
	err          error
}

func (c *countingStore) AggregateAnalytics(ctx context.Context, start, end time.Time) (*models.NotificationAnalytics, error) {
	c.aggregations++
	if c.err != nil {
		return nil, c.err
	}
	return c.NotificationStore.AggregateAnalytics(ctx, start, end)
}

func TestAnalyticsSummaryRates(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	f.push.errs = []error{utils.NewTerminalError("push", utils.ErrCodeInvalidToken, nil)}
	f.inApp.errs = []error{utils.NewTerminalError("inApp", utils.ErrCodeProvider, nil)}
	d := f.dispatcher(nil)

	failed := f.create(t, nil)
	_, err := d.Dispatch(context.Background(), failed)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n := f.create(t, nil)
		_, err := d.Dispatch(context.Background(), n)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, f.store.UpdateStatus(context.Background(), n.ID, models.StatusRead, time.Now()))
		}
	}
	f.create(t, nil) // never dispatched

	store := &countingStore{NotificationStore: f.store}
	service := NewAnalyticsService(store, NewMemoryAnalyticsCache(), time.Minute)

	start, end := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
	summary, err := service.Summary(context.Background(), start, end)
	require.NoError(t, err)
	require.Equal(t, int64(5), summary.TotalCreated)
	require.Equal(t, int64(4), summary.TotalSent)
	require.Equal(t, int64(3), summary.Delivered)
	require.Equal(t, int64(1), summary.Failed)
	require.Equal(t, int64(1), summary.ReadCount)
	require.InDelta(t, 0.75, summary.DeliveryRate, 1e-9)
	require.InDelta(t, 1.0/3.0, summary.ReadRate, 1e-9)
	require.Equal(t, int64(3), summary.PerChannelDelivered[models.ChannelPush])
	require.Equal(t, int64(1), summary.PerChannelFailed[models.ChannelInApp])

	cached, err := service.Summary(context.Background(), start, end)
	require.NoError(t, err)
	require.Equal(t, summary.TotalCreated, cached.TotalCreated)
	require.Equal(t, 1, store.aggregations, "second call is served from cache")
}

func TestAnalyticsSummaryValidation(t *testing.T) {
	t.Parallel()

	service := NewAnalyticsService(repositories.NewMemoryNotificationStore(), nil, 0)
	now := time.Now()

	_, err := service.Summary(context.Background(), now, now)
	require.True(t, utils.IsValidationError(err))

	_, err = service.Summary(context.Background(), now, now.Add(-time.Hour))
	require.True(t, utils.IsValidationError(err))
}

func TestAnalyticsSummaryStoreError(t *testing.T) {
	t.Parallel()

	store := &countingStore{NotificationStore: repositories.NewMemoryNotificationStore(), err: errors.New("mongo down")}
	service := NewAnalyticsService(store, nil, 0)

	_, err := service.Summary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.True(t, utils.IsDatabaseError(err))
}

func TestMemoryAnalyticsCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cache := NewMemoryAnalyticsCache()
	cache.now = func() time.Time { return now }

	value := models.NewNotificationAnalytics(now.Add(-time.Hour), now)
	value.TotalCreated = 7
	require.NoError(t, cache.Set(context.Background(), "k", value, time.Minute))

	got, ok, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), got.TotalCreated)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryAnalyticsCacheIsolatesEntries(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cache := NewMemoryAnalyticsCache()
	ctx := context.Background()

	value := models.NewNotificationAnalytics(now.Add(-time.Hour), now)
	value.PerChannelDelivered[models.ChannelPush] = 5
	require.NoError(t, cache.Set(ctx, "k", value, time.Minute))
	value.PerChannelDelivered[models.ChannelPush] = 42

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), got.PerChannelDelivered[models.ChannelPush])

	got.PerChannelDelivered[models.ChannelPush] = 999
	got.PerChannelFailed[models.ChannelSMS] = 3

	again, _, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(5), again.PerChannelDelivered[models.ChannelPush])
	require.Zero(t, again.PerChannelFailed[models.ChannelSMS])
}

func TestLocalLocker(t *testing.T) {
	t.Parallel()

	now := time.Now()
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "job:cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "job:cleanup", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "held lock is not handed out twice")

	_, ok, err = locker.TryLock(ctx, "job:digest", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "locks are per key")

	release()
	_, ok, err = locker.TryLock(ctx, "job:cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = locker.TryLock(ctx, "job:cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lock can be taken over")
}
