package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

func validRequest() models.CreateNotificationRequest {
	return models.CreateNotificationRequest{
		RecipientID: "farmer-1",
		Type:        models.NotificationWeatherAlert,
		Category:    models.CategoryWeather,
		Title:       "Heavy rain tonight",
		Message:     "Expect 40mm of rain after 10pm. Postpone spraying.",
		DeliveryMethods: models.DeliveryMethodsRequest{
			Push:  models.ChannelToggle{Enabled: true},
			InApp: models.ChannelToggle{Enabled: true},
		},
	}
}

func newTestService(f *dispatchFixture, now time.Time) *NotificationService {
	return NewNotificationService(f.store, f.dispatcher(nil),
		WithServiceClock(func() time.Time { return now }),
		WithDefaultTTL(12*time.Hour))
}

func TestCreateDispatchesImmediately(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	now := time.Now()
	service := newTestService(f, now)

	n, err := service.Create(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, models.PriorityMedium, n.Priority)
	require.Equal(t, "system", n.Source.Type)
	require.True(t, n.ExpiresAt.Equal(now.Add(12*time.Hour)))

	service.Wait()

	stored, err := service.Get(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, stored.Status)
	require.Equal(t, 1, f.push.Calls())
}

func TestCreateScheduledWaitsForJob(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	now := time.Now()
	service := newTestService(f, now)

	req := validRequest()
	at := now.Add(3 * time.Hour)
	req.ScheduledFor = &at

	n, err := service.Create(context.Background(), req)
	require.NoError(t, err)
	require.True(t, n.ExpiresAt.Equal(at.Add(12*time.Hour)), "expiry counts from the send time")

	service.Wait()
	stored, err := service.Get(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, stored.Status)
	require.Zero(t, f.push.Calls())
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Minute)
	tests := []struct {
		name   string
		mutate func(r *models.CreateNotificationRequest)
		field  string
	}{
		{"missing recipient", func(r *models.CreateNotificationRequest) { r.RecipientID = "" }, "RecipientID"},
		{"unknown type", func(r *models.CreateNotificationRequest) { r.Type = "locust_swarm" }, "Type"},
		{"unknown category", func(r *models.CreateNotificationRequest) { r.Category = "finance" }, "Category"},
		{"bad priority", func(r *models.CreateNotificationRequest) { r.Priority = "urgent" }, "Priority"},
		{"long title", func(r *models.CreateNotificationRequest) { r.Title = strings.Repeat("a", 201) }, "Title"},
		{"long message", func(r *models.CreateNotificationRequest) { r.Message = strings.Repeat("a", 1001) }, "Message"},
		{"no channels", func(r *models.CreateNotificationRequest) { r.DeliveryMethods = models.DeliveryMethodsRequest{} }, "DeliveryMethods"},
		{"scheduled in the past", func(r *models.CreateNotificationRequest) { r.ScheduledFor = &past }, "ScheduledFor"},
		{"expires before send", func(r *models.CreateNotificationRequest) { r.ExpiresAt = &past }, "ExpiresAt"},
		{"long localized content", func(r *models.CreateNotificationRequest) {
			r.Localized = map[string]models.LocalizedContent{"hi": {Title: strings.Repeat("क", 201), Message: "ok"}}
		}, "Localized.hi"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newDispatchFixture()
			service := newTestService(f, now)
			req := validRequest()
			tt.mutate(&req)

			_, err := service.Create(context.Background(), req)
			require.True(t, utils.IsValidationError(err), "got %v", err)

			serviceErr, ok := utils.GetServiceError(err)
			require.True(t, ok)
			fields, ok := serviceErr.Cause.(utils.ValidationErrors)
			require.True(t, ok)
			names := make([]string, 0, len(fields))
			for _, fe := range fields {
				names = append(names, fe.Field)
			}
			assert.Contains(t, names, tt.field)
			assert.Zero(t, f.store.Len(), "invalid notifications are never stored")
		})
	}
}

func TestMarkReadAndDismiss(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	service := newTestService(f, time.Now())
	ctx := context.Background()

	n, err := service.Create(ctx, validRequest())
	require.NoError(t, err)
	service.Wait()

	require.True(t, utils.HasCode(service.MarkRead(ctx, "farmer-2", n.ID), utils.ErrCodeNotFound),
		"other recipients cannot see the notification")
	require.True(t, utils.HasCode(service.MarkRead(ctx, "farmer-1", "missing"), utils.ErrCodeNotFound))

	require.NoError(t, service.MarkRead(ctx, "farmer-1", n.ID))
	count, err := service.UnreadCount(ctx, "farmer-1")
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, service.Dismiss(ctx, "farmer-1", n.ID))
	require.True(t, utils.HasCode(service.MarkRead(ctx, "farmer-1", n.ID), utils.ErrCodeConflict))
}

func TestRecordInteraction(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	service := newTestService(f, time.Now())
	ctx := context.Background()

	n, err := service.Create(ctx, validRequest())
	require.NoError(t, err)
	service.Wait()

	require.True(t, utils.IsValidationError(service.RecordInteraction(ctx, "farmer-1", n.ID, "swipe", nil)))
	require.NoError(t, service.RecordInteraction(ctx, "farmer-1", n.ID, "click", map[string]interface{}{"target": "forecast"}))

	stored, err := service.Get(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, stored.Interactions, 1)
	require.Equal(t, "forecast", stored.Interactions[0].Metadata["target"])
}

func TestDrainStopsImmediateDispatch(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture()
	service := newTestService(f, time.Now())
	ctx := context.Background()

	require.NoError(t, service.Drain(ctx))

	n, err := service.Create(ctx, validRequest())
	require.NoError(t, err)
	service.Wait()

	stored, err := service.Get(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, stored.Status, "left for the process-due job")
}
