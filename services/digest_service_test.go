package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
)

func seedUnread(t *testing.T, store repositories.NotificationStore, recipientID string, createdAt time.Time, categories ...models.NotificationCategory) {
	t.Helper()
	for i, category := range categories {
		n := testNotification()
		n.ID = fmt.Sprintf("%s-%d", recipientID, i)
		n.RecipientID = recipientID
		n.Category = category
		n.Status = models.StatusDelivered
		n.CreatedAt = createdAt
		n.ExpiresAt = createdAt.Add(48 * time.Hour)
		require.NoError(t, store.Create(context.Background(), n))
	}
}

func TestDigestSummarisesUnread(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f := newDispatchFixture()
	seedUnread(t, f.store, "farmer-1", now.Add(-2*time.Hour),
		models.CategoryWeather, models.CategoryCrop, models.CategoryCrop)

	generator := NewDigestGenerator(f.store, f.directory, f.dispatcher(nil), WithDigestClock(func() time.Time { return now }))
	digest, err := generator.GenerateForRecipient(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, digest)

	require.Equal(t, models.NotificationDailyDigest, digest.Type)
	require.Equal(t, 3, digest.Data["count"])
	require.Equal(t, map[string]int{"crop": 2, "weather": 1}, digest.Data["byCategory"])
	require.Equal(t, "You have 3 unread notifications (crop: 2, weather: 1).", digest.Message)
	require.False(t, digest.DeliveryMethods.SMS.Enabled)
	require.Contains(t, digest.Localized, "hi")
	require.Zero(t, f.sms.Calls())

	stored, err := f.store.GetByID(context.Background(), digest.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, stored.Status)

	// a second digest does not count the first one
	second, err := generator.GenerateForRecipient(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.Equal(t, 3, second.Data["count"])
}

func TestDigestSkipsRecipientWithNothingUnread(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f := newDispatchFixture()
	seedUnread(t, f.store, "farmer-1", now.Add(-30*time.Hour), models.CategoryMarket)

	generator := NewDigestGenerator(f.store, f.directory, f.dispatcher(nil), WithDigestClock(func() time.Time { return now }))
	digest, err := generator.GenerateForRecipient(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.Nil(t, digest, "unread older than the window is ignored")
	require.Equal(t, 1, f.store.Len())
}

func TestDigestRunCoversOptedInRecipients(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f := newDispatchFixture()
	for _, id := range []string{"farmer-1", "farmer-2", "farmer-3"} {
		contact := testContact("t-" + id)
		contact.ID = id
		contact.Preferences.DailyDigest = id != "farmer-3"
		f.directory.Put(*contact)
	}
	seedUnread(t, f.store, "farmer-1", now.Add(-time.Hour), models.CategoryWeather)
	seedUnread(t, f.store, "farmer-3", now.Add(-time.Hour), models.CategoryWeather)

	generator := NewDigestGenerator(f.store, f.directory, f.dispatcher(nil),
		WithDigestClock(func() time.Time { return now }), WithDigestConcurrency(2))
	stats, err := generator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, DigestRunStats{Recipients: 2, Generated: 1, Empty: 1}, stats)
}
