package services

import (
	"context"
	"errors"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

// scriptedChannel returns the queued errors in order, then succeeds.
type scriptedChannel struct {
	name  models.Channel
	mu    sync.Mutex
	errs  []error
	calls int
	hook  func()
}

func (c *scriptedChannel) Name() models.Channel { return c.name }

func (c *scriptedChannel) Send(ctx context.Context, d *Delivery) error {
	c.mu.Lock()
	c.calls++
	var err error
	if len(c.errs) > 0 {
		err = c.errs[0]
		c.errs = c.errs[1:]
	}
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (c *scriptedChannel) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingDirectory struct {
	repositories.RecipientDirectory
	err error
}

func (f failingDirectory) Resolve(ctx context.Context, recipientID string) (*models.RecipientContact, error) {
	return nil, f.err
}

type dispatchFixture struct {
	store     *repositories.MemoryNotificationStore
	directory *repositories.MemoryRecipientDirectory
	push      *scriptedChannel
	email     *scriptedChannel
	sms       *scriptedChannel
	inApp     *scriptedChannel
}

func newDispatchFixture() *dispatchFixture {
	return &dispatchFixture{
		store:     repositories.NewMemoryNotificationStore(),
		directory: repositories.NewMemoryRecipientDirectory(*testContact("t1", "t2")),
		push:      &scriptedChannel{name: models.ChannelPush},
		email:     &scriptedChannel{name: models.ChannelEmail},
		sms:       &scriptedChannel{name: models.ChannelSMS},
		inApp:     &scriptedChannel{name: models.ChannelInApp},
	}
}

func (f *dispatchFixture) dispatcher(directory repositories.RecipientDirectory) *Dispatcher {
	if directory == nil {
		directory = f.directory
	}
	return NewDispatcher(f.store, directory, fastRetryPolicy(3),
		[]Channel{f.push, f.email, f.sms, f.inApp})
}

func (f *dispatchFixture) create(t *testing.T, mutate func(n *models.Notification)) *models.Notification {
	t.Helper()
	n := testNotification()
	n.ID = utils.GenerateUUID()
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, f.store.Create(context.Background(), n))
	return n
}

func TestDispatchSMSRetriesExhaustedStillDelivered(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	f.sms.errs = []error{
		utils.NewTransientError("sms", utils.ErrCodeProvider, errors.New("503")),
		utils.NewTransientError("sms", utils.ErrCodeProvider, errors.New("503")),
		utils.NewTransientError("sms", utils.ErrCodeProvider, errors.New("503")),
	}
	n := f.create(t, func(n *models.Notification) {
		n.Type = models.NotificationIrrigationReminder
		n.DeliveryMethods = models.DeliveryMethods{
			Push:  models.ChannelStatus{Enabled: true},
			SMS:   models.ChannelStatus{Enabled: true},
			InApp: models.ChannelStatus{Enabled: true},
		}
	})

	result, err := f.dispatcher(nil).Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.True(t, result.Committed)
	require.Equal(t, models.StatusDelivered, result.Status)
	require.Len(t, result.Outcomes, 3)

	require.Equal(t, 1, f.push.Calls())
	require.Equal(t, 3, f.sms.Calls())
	require.Equal(t, 0, f.email.Calls(), "disabled channels are never called")

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.NotNil(t, stored.SentAt)
	assert.True(t, stored.DeliveryMethods.Push.Delivered)
	assert.True(t, stored.DeliveryMethods.InApp.Delivered)
	assert.False(t, stored.DeliveryMethods.SMS.Delivered)
	assert.Equal(t, 3, stored.DeliveryMethods.SMS.Attempts)
	assert.NotEmpty(t, stored.DeliveryMethods.SMS.Error)
}

type countingEmailSender struct {
	calls int
	err   error
}

func (c *countingEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	c.calls++
	return "", c.err
}

func TestDispatchIrrigationReminderEmailFailsTransiently(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	sender := &countingEmailSender{err: classifySMTPError(&textproto.Error{Code: 421, Msg: "service not available"})}
	dispatcher := NewDispatcher(f.store, f.directory, fastRetryPolicy(3),
		[]Channel{f.push, NewEmailChannel(sender), f.sms, f.inApp})

	n := f.create(t, func(n *models.Notification) {
		n.Type = models.NotificationIrrigationReminder
		n.Category = models.CategoryCrop
		n.Priority = models.PriorityMedium
		n.Title = "Irrigation Reminder: Wheat"
		n.Message = "Irrigate plot A before 10am."
		n.Localized = nil
		n.DeliveryMethods = models.DeliveryMethods{
			Push:  models.ChannelStatus{Enabled: true},
			Email: models.ChannelStatus{Enabled: true},
		}
	})

	result, err := dispatcher.Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.True(t, result.Committed)
	require.Equal(t, models.StatusDelivered, result.Status)

	require.Equal(t, 3, sender.calls, "transient email failures use every attempt")
	require.Equal(t, 1, f.push.Calls())
	require.Zero(t, f.sms.Calls())
	require.Zero(t, f.inApp.Calls())

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.True(t, stored.DeliveryMethods.Push.Delivered)
	assert.False(t, stored.DeliveryMethods.Email.Delivered)
	assert.NotEmpty(t, stored.DeliveryMethods.Email.Error)
	assert.Equal(t, 3, stored.DeliveryMethods.Email.Attempts)
	assert.False(t, stored.DeliveryMethods.SMS.Enabled)
}

func TestDispatchAllChannelsFail(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	f.push.errs = []error{utils.NewTerminalError("push", utils.ErrCodeInvalidToken, nil)}
	f.inApp.errs = []error{utils.NewTerminalError("inApp", utils.ErrCodeProvider, nil)}
	n := f.create(t, nil)

	result, err := f.dispatcher(nil).Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, result.Status)
	require.Equal(t, 1, f.push.Calls(), "terminal errors are not retried")

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
}

func TestDispatchIsAtMostOnce(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	n := f.create(t, nil)
	d := f.dispatcher(nil)

	var skipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := d.Dispatch(context.Background(), n.Clone())
			assert.NoError(t, err)
			if result.Skipped {
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(4), skipped.Load())
	require.Equal(t, 1, f.push.Calls())
	require.Equal(t, 1, f.inApp.Calls())
}

func TestDispatchSkipsExpired(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	n := f.create(t, func(n *models.Notification) {
		n.ExpiresAt = time.Now().Add(-time.Minute)
	})

	result, err := f.dispatcher(nil).Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, SkipReasonExpired, result.SkipReason)
	require.Zero(t, f.push.Calls())

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, stored.Status)
}

func TestDispatchDismissedMidDispatchIsNotResurrected(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	n := f.create(t, func(n *models.Notification) {
		n.DeliveryMethods = models.DeliveryMethods{Push: models.ChannelStatus{Enabled: true}}
	})
	f.push.hook = func() {
		assert.NoError(t, f.store.UpdateStatus(context.Background(), n.ID, models.StatusDismissed, time.Now()))
	}

	result, err := f.dispatcher(nil).Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, result.Status)
	require.False(t, result.Committed)

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDismissed, stored.Status)
	require.True(t, stored.DeliveryMethods.Push.Delivered, "the outcome is still recorded")
}

func TestDispatchRecipientLookupFailure(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	n := f.create(t, nil)

	d := f.dispatcher(failingDirectory{err: repositories.ErrRecipientNotFound})
	result, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, result.Status)
	require.Zero(t, f.push.Calls())

	stored, err := f.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Contains(t, stored.DeliveryMethods.Push.Error, utils.ErrCodeRecipientLookup)
	require.Contains(t, stored.DeliveryMethods.InApp.Error, utils.ErrCodeRecipientLookup)
}

func TestDispatchHonoursPreferences(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	contact := testContact("t1")
	contact.Preferences.Push = false
	contact.Preferences.MutedCategories = []string{string(models.CategoryCrop), string(models.CategoryEmergency)}
	f.directory.Put(*contact)

	muted := f.create(t, nil)
	result, err := f.dispatcher(nil).Dispatch(context.Background(), muted)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, result.Status)
	for _, o := range result.Outcomes {
		require.True(t, o.Terminal)
		require.Contains(t, o.Error, utils.ErrCodeOptedOut)
	}
	require.Zero(t, f.inApp.Calls())

	emergency := f.create(t, func(n *models.Notification) {
		n.Type = models.NotificationEmergencyAlert
		n.Category = models.CategoryEmergency
	})
	result, err = f.dispatcher(nil).Dispatch(context.Background(), emergency)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, result.Status, "emergency alerts ignore muted categories")
	require.Equal(t, 1, f.inApp.Calls())
	require.Zero(t, f.push.Calls(), "a disabled channel preference still applies")
}

func TestDispatchPrunesInvalidTokens(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	unregistered := utils.NewTerminalError("push", utils.ErrCodeInvalidToken, errors.New("unregistered"))
	fcm := &fakeFCM{rounds: []map[string]error{{"t2": unregistered}}}
	n := f.create(t, func(n *models.Notification) {
		n.DeliveryMethods = models.DeliveryMethods{Push: models.ChannelStatus{Enabled: true}}
	})

	d := NewDispatcher(f.store, f.directory, fastRetryPolicy(3), []Channel{NewPushChannel(fcm)})
	result, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, result.Status)
	require.Equal(t, []string{"t2"}, result.PrunedTokens)

	contact, err := f.directory.Resolve(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, contact.DeviceTokens)
}

func TestDispatchUnsupportedChannel(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture()
	n := f.create(t, func(n *models.Notification) {
		n.DeliveryMethods = models.DeliveryMethods{Email: models.ChannelStatus{Enabled: true}}
	})

	d := NewDispatcher(f.store, f.directory, fastRetryPolicy(3), []Channel{f.push})
	result, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, result.Status)
	require.Contains(t, result.Outcomes[0].Error, utils.ErrCodeUnsupported)
}
