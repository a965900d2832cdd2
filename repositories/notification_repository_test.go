package repositories_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

// openTestDatabase connects to FARMORA_TEST_MONGO_URI and returns a throwaway database.
func openTestDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("FARMORA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FARMORA_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("farmora_test_" + utils.GenerateUUID()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func TestNotificationRepositoryDispatchLifecycle(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	repo := repositories.NewNotificationRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	n := newNotification(utils.GenerateUUID(), "farmer-1", now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, n))

	pending, err := repo.FindPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimForDispatch(ctx, n.ID, now)
			assert.NoError(t, err)
			if ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), claimed.Load())

	require.NoError(t, repo.MarkChannelOutcome(ctx, n.ID, models.ChannelOutcome{
		Channel: models.ChannelPush, Success: true, Attempts: 1, Timestamp: now,
	}))
	require.NoError(t, repo.MarkChannelOutcome(ctx, n.ID, models.ChannelOutcome{
		Channel: models.ChannelInApp, Success: false, Error: "timeout", Attempts: 3, Timestamp: now,
	}))

	ok, err := repo.CompleteDispatch(ctx, n.ID, models.StatusDelivered, now)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, stored.Status)
	require.NotNil(t, stored.SentAt)
	require.True(t, stored.DeliveryMethods.Push.Delivered)
	require.Equal(t, "timeout", stored.DeliveryMethods.InApp.Error)

	require.NoError(t, repo.UpdateStatus(ctx, n.ID, models.StatusRead, now))
	require.ErrorIs(t, repo.UpdateStatus(ctx, n.ID, models.StatusDelivered, now), models.ErrInvalidTransition)

	deleted, err := repo.DeleteExpired(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
