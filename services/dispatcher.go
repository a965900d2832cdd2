package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	SkipReasonExpired    = "expired"
	SkipReasonNotClaimed = "not_claimable"
)

// DispatchResult describes one dispatch. Channel failures are reported here;
// store failures are returned as the dispatch error.
type DispatchResult struct {
	NotificationID string                    `json:"notificationId"`
	Skipped        bool                      `json:"skipped"`
	SkipReason     string                    `json:"skipReason,omitempty"`
	Status         models.NotificationStatus `json:"status,omitempty"`
	// Committed is false when the record left the sent state during dispatch.
	Committed    bool                    `json:"committed"`
	Outcomes     []models.ChannelOutcome `json:"outcomes,omitempty"`
	PrunedTokens []string                `json:"prunedTokens,omitempty"`
}

// Delivered reports whether at least one channel succeeded.
func (r *DispatchResult) Delivered() bool {
	return r != nil && r.Status == models.StatusDelivered
}

type Dispatcher struct {
	store     repositories.NotificationStore
	directory repositories.RecipientDirectory
	channels  map[models.Channel]Channel
	retry     *RetryPolicy
	metrics   *Metrics
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithDispatchMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(store repositories.NotificationStore, directory repositories.RecipientDirectory, retry *RetryPolicy, channels []Channel, opts ...DispatcherOption) *Dispatcher {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	d := &Dispatcher{
		store:     store,
		directory: directory,
		channels:  make(map[models.Channel]Channel, len(channels)),
		retry:     retry,
		now:       time.Now,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers one notification across its enabled channels. The record
// is claimed first so concurrent callers dispatch it at most once.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) (*DispatchResult, error) {
	started := time.Now()
	result := &DispatchResult{NotificationID: n.ID}
	logger := logrus.WithFields(logrus.Fields{
		"notificationId": n.ID,
		"recipientId":    n.RecipientID,
		"type":           n.Type,
	})

	now := d.now()
	if n.IsExpired(now) {
		result.Skipped, result.SkipReason = true, SkipReasonExpired
		d.metrics.ObserveDispatch("skipped", time.Since(started))
		return result, nil
	}

	claimed, err := d.store.ClaimForDispatch(ctx, n.ID, now)
	if err != nil {
		return result, utils.NewDatabaseError("claim notification", err)
	}
	if !claimed {
		logger.Debug("Notification not claimable, skipping dispatch")
		result.Skipped, result.SkipReason = true, SkipReasonNotClaimed
		d.metrics.ObserveDispatch("skipped", time.Since(started))
		return result, nil
	}

	var storeErrs error
	enabled := n.DeliveryMethods.EnabledChannels()

	contact, lookupErr := d.directory.Resolve(ctx, n.RecipientID)
	if lookupErr != nil {
		logger.WithError(lookupErr).Warn("Recipient lookup failed, failing every channel")
		reason := utils.NewTerminalError("recipient", utils.ErrCodeRecipientLookup, lookupErr)
		for _, ch := range enabled {
			outcome := d.outcome(ch, reason, 0)
			result.Outcomes = append(result.Outcomes, outcome)
			storeErrs = multierr.Append(storeErrs, d.persistOutcome(ctx, n.ID, outcome))
		}
	} else {
		outcomes, invalidTokens, errs := d.fanOut(ctx, n, contact, enabled)
		result.Outcomes = outcomes
		storeErrs = multierr.Append(storeErrs, errs)

		if len(invalidTokens) > 0 {
			if err := d.directory.PruneDeviceTokens(ctx, n.RecipientID, invalidTokens); err != nil {
				logger.WithError(err).Warn("Failed to prune invalid device tokens")
			} else {
				result.PrunedTokens = invalidTokens
			}
		}
	}

	result.Status = models.StatusFailed
	for _, o := range result.Outcomes {
		if o.Success {
			result.Status = models.StatusDelivered
			break
		}
	}

	committed, err := d.store.CompleteDispatch(ctx, n.ID, result.Status, d.now())
	if err != nil {
		storeErrs = multierr.Append(storeErrs, utils.NewDatabaseError("complete dispatch", err))
	}
	result.Committed = committed
	if err == nil && !committed {
		logger.Info("Notification changed state during dispatch, keeping its current status")
	}

	d.metrics.ObserveDispatch(string(result.Status), time.Since(started))
	logger.WithFields(logrus.Fields{
		"status":   result.Status,
		"channels": len(result.Outcomes),
	}).Info("Notification dispatched")

	return result, storeErrs
}

// fanOut runs every enabled channel concurrently and persists each outcome as
// soon as it resolves.
func (d *Dispatcher) fanOut(ctx context.Context, n *models.Notification, contact *models.RecipientContact, enabled []models.Channel) ([]models.ChannelOutcome, []string, error) {
	outcomes := make([]models.ChannelOutcome, len(enabled))

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		storeErrs     error
		invalidTokens []string
	)

	for i, ch := range enabled {
		wg.Add(1)
		go func(i int, ch models.Channel) {
			defer wg.Done()

			outcome, invalid := d.sendChannel(ctx, n, contact, ch)
			outcomes[i] = outcome
			err := d.persistOutcome(ctx, n.ID, outcome)

			mu.Lock()
			defer mu.Unlock()
			storeErrs = multierr.Append(storeErrs, err)
			invalidTokens = append(invalidTokens, invalid...)
		}(i, ch)
	}
	wg.Wait()

	return outcomes, invalidTokens, storeErrs
}

func (d *Dispatcher) sendChannel(ctx context.Context, n *models.Notification, contact *models.RecipientContact, ch models.Channel) (models.ChannelOutcome, []string) {
	logger := logrus.WithFields(logrus.Fields{
		"notificationId": n.ID,
		"channel":        ch,
	})

	adapter, ok := d.channels[ch]
	if !ok {
		return d.outcome(ch, utils.NewTerminalError(string(ch), utils.ErrCodeUnsupported, nil), 0), nil
	}
	if !contact.Preferences.Allows(ch) || contact.Preferences.IsMuted(n.Category) {
		return d.outcome(ch, utils.NewTerminalError(string(ch), utils.ErrCodeOptedOut, nil), 0), nil
	}

	delivery := NewDelivery(n, contact)
	attempts, err := d.retry.Do(ctx, func(ctx context.Context) error {
		return adapter.Send(ctx, delivery)
	}, func(attempt int, err error, wait time.Duration) {
		d.metrics.ObserveRetry(string(ch))
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
		}).Warnf("Channel attempt failed, retrying: %v", err)
	})

	if err != nil && delivery.PartiallyDelivered() {
		logger.WithError(err).Warnf("Delivered to %d of %d device tokens", len(delivery.DeliveredTokens),
			len(delivery.DeliveredTokens)+len(delivery.PendingTokens)+len(delivery.InvalidTokens))
		err = nil
	}
	if err != nil {
		logger.WithField("attempts", attempts).WithError(err).Warn("Channel delivery failed")
	}

	return d.outcome(ch, err, attempts), delivery.InvalidTokens
}

func (d *Dispatcher) outcome(ch models.Channel, err error, attempts int) models.ChannelOutcome {
	outcome := models.ChannelOutcome{
		Channel:   ch,
		Success:   err == nil,
		Attempts:  attempts,
		Timestamp: d.now(),
	}
	result := "delivered"
	if err != nil {
		outcome.Error = err.Error()
		outcome.Terminal = utils.IsTerminal(err)
		result = "failed"
	}
	d.metrics.ObserveChannel(string(ch), result)
	return outcome
}

func (d *Dispatcher) persistOutcome(ctx context.Context, id string, outcome models.ChannelOutcome) error {
	if err := d.store.MarkChannelOutcome(ctx, id, outcome); err != nil {
		return utils.NewDatabaseError(fmt.Sprintf("record %s outcome", outcome.Channel), err)
	}
	return nil
}
