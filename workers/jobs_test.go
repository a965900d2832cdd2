package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/services"
)

type countingChannel struct {
	name  models.Channel
	calls atomic.Int32
	err   error
}

func (c *countingChannel) Name() models.Channel { return c.name }

func (c *countingChannel) Send(ctx context.Context, d *services.Delivery) error {
	c.calls.Add(1)
	return c.err
}

type jobsFixture struct {
	store     *repositories.MemoryNotificationStore
	directory *repositories.MemoryRecipientDirectory
	push      *countingChannel
	inApp     *countingChannel
	jobs      *NotificationJobs
}

func newJobsFixture(opts ...JobsOption) *jobsFixture {
	f := &jobsFixture{
		store: repositories.NewMemoryNotificationStore(),
		directory: repositories.NewMemoryRecipientDirectory(models.RecipientContact{
			ID:           "farmer-1",
			DeviceTokens: []string{"token-1"},
			Preferences:  models.DefaultPreferences(),
		}),
		push:  &countingChannel{name: models.ChannelPush},
		inApp: &countingChannel{name: models.ChannelInApp},
	}
	policy := &services.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, AttemptTimeout: time.Second}
	dispatcher := services.NewDispatcher(f.store, f.directory, policy, []services.Channel{f.push, f.inApp})
	f.jobs = NewNotificationJobs(f.store, dispatcher, nil, opts...)
	return f
}

func (f *jobsFixture) seed(t *testing.T, count int, mutate func(i int, n *models.Notification)) {
	t.Helper()
	now := time.Now()
	for i := 0; i < count; i++ {
		n := &models.Notification{
			ID:          fmt.Sprintf("n%03d", i),
			RecipientID: "farmer-1",
			Type:        models.NotificationMarketPriceUpdate,
			Category:    models.CategoryMarket,
			Priority:    models.PriorityLow,
			Title:       "Wheat price up",
			Message:     "Mandi price rose 3%",
			DeliveryMethods: models.DeliveryMethods{
				Push:  models.ChannelStatus{Enabled: true},
				InApp: models.ChannelStatus{Enabled: true},
			},
			ExpiresAt: now.Add(time.Hour),
			Status:    models.StatusScheduled,
			CreatedAt: now.Add(-time.Duration(count-i) * time.Second),
		}
		if mutate != nil {
			mutate(i, n)
		}
		require.NoError(t, f.store.Create(context.Background(), n))
	}
}

func (f *jobsFixture) statuses(t *testing.T) map[models.NotificationStatus]int {
	t.Helper()
	counts := make(map[models.NotificationStatus]int)
	for i := 0; i < f.store.Len()+10; i++ {
		n, err := f.store.GetByID(context.Background(), fmt.Sprintf("n%03d", i))
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			continue
		}
		require.NoError(t, err)
		counts[n.Status]++
	}
	return counts
}

func TestProcessDueDispatchesEveryDueNotification(t *testing.T) {
	t.Parallel()

	f := newJobsFixture(WithBatchSize(4), WithConcurrency(3))
	future := time.Now().Add(time.Hour)
	f.seed(t, 12, func(i int, n *models.Notification) {
		if i >= 10 {
			n.ScheduledFor = &future
		}
	})

	stats, err := f.jobs.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, stats.Found)
	require.Equal(t, 10, stats.Delivered)
	require.Zero(t, stats.Failed)

	counts := f.statuses(t)
	require.Equal(t, 10, counts[models.StatusDelivered])
	require.Equal(t, 2, counts[models.StatusScheduled], "future notifications stay scheduled")
	require.Equal(t, int32(10), f.push.calls.Load())
}

func TestProcessDueCountsFailures(t *testing.T) {
	t.Parallel()

	f := newJobsFixture()
	f.push.err = errors.New("fcm unavailable")
	f.inApp.err = errors.New("socket closed")
	f.seed(t, 3, nil)

	stats, err := f.jobs.ProcessDue(context.Background())
	require.NoError(t, err, "channel failures are reported in stats, not as job errors")
	require.Equal(t, 3, stats.Failed)
	require.Equal(t, 3, f.statuses(t)[models.StatusFailed])
}

func TestProcessDueConcurrentTicksDispatchOnce(t *testing.T) {
	t.Parallel()

	f := newJobsFixture(WithConcurrency(4))
	f.seed(t, 50, nil)

	var wg sync.WaitGroup
	var delivered atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := f.jobs.ProcessDue(context.Background())
			assert.NoError(t, err)
			delivered.Add(int32(stats.Delivered))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(50), delivered.Load())
	require.Equal(t, int32(50), f.push.calls.Load())
	require.Equal(t, 50, f.statuses(t)[models.StatusDelivered])
}

type brokenStore struct {
	repositories.NotificationStore
}

func (brokenStore) FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	return nil, errors.New("connection refused")
}

func TestProcessDueStoreError(t *testing.T) {
	t.Parallel()

	jobs := NewNotificationJobs(brokenStore{}, nil, nil)
	_, err := jobs.ProcessDue(context.Background())
	require.ErrorContains(t, err, "connection refused")
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newJobsFixture()
	now := time.Now()
	f.seed(t, 4, func(i int, n *models.Notification) {
		switch i {
		case 0:
			n.ExpiresAt = now.Add(-time.Hour)
		case 1:
			n.ExpiresAt = now.Add(-time.Minute)
			n.Status = models.StatusDelivered
			n.DeliveryMethods.InApp.Delivered = true
		}
	})

	stats, err := f.jobs.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Deleted)
	require.Equal(t, 1, stats.NeverDelivered)
	require.Equal(t, 2, f.store.Len())

	stats, err = f.jobs.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Deleted)
	require.Equal(t, 2, f.store.Len())
}

func TestRegisterWithSchedulesStandardJobs(t *testing.T) {
	t.Parallel()

	f := newJobsFixture()
	s := NewScheduler()
	require.NoError(t, f.jobs.RegisterWith(s, JobSpecs{Cleanup: "30 2 * * *"}))

	statuses := s.Status()
	require.Len(t, statuses, 2, "no digest job without a generator")
	require.Equal(t, JobProcessDue, statuses[0].Name)
	require.Equal(t, "@every 5m", statuses[0].Schedule)
	require.Equal(t, JobCleanupExpired, statuses[1].Name)
	require.Equal(t, "30 2 * * *", statuses[1].Schedule)

	f.seed(t, 2, nil)
	require.NoError(t, s.RunNow(context.Background(), JobProcessDue))
	require.Equal(t, 2, f.statuses(t)[models.StatusDelivered])

	stats, err := f.jobs.GenerateDigests(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Recipients)
}

func TestRegisterWithIncludesDigest(t *testing.T) {
	t.Parallel()

	store := repositories.NewMemoryNotificationStore()
	directory := repositories.NewMemoryRecipientDirectory()
	dispatcher := services.NewDispatcher(store, directory, nil, nil)
	digests := services.NewDigestGenerator(store, directory, dispatcher)

	s := NewScheduler()
	require.NoError(t, NewNotificationJobs(store, dispatcher, digests).RegisterWith(s, JobSpecs{}))
	require.Len(t, s.Status(), 3)
	require.NoError(t, s.RunNow(context.Background(), JobDailyDigest))
}
