package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/sirupsen/logrus"
)

var validInteractions = []string{"click", "act", "custom"}

// NotificationService is the entry point for callers that create and read
// notifications. Notifications without a schedule are dispatched in the
// background right after they are stored.
type NotificationService struct {
	store      repositories.NotificationStore
	dispatcher *Dispatcher
	validator  *utils.ValidationService
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

type NotificationServiceOption func(*NotificationService)

func WithServiceClock(now func() time.Time) NotificationServiceOption {
	return func(ns *NotificationService) {
		if now != nil {
			ns.now = now
		}
	}
}

func WithDefaultTTL(ttl time.Duration) NotificationServiceOption {
	return func(ns *NotificationService) {
		if ttl > 0 {
			ns.ttl = ttl
		}
	}
}

func NewNotificationService(store repositories.NotificationStore, dispatcher *Dispatcher, opts ...NotificationServiceOption) *NotificationService {
	ns := &NotificationService{
		store:      store,
		dispatcher: dispatcher,
		validator:  utils.NewValidationService(),
		ttl:        models.DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(ns)
	}
	return ns
}

// Create validates and stores a notification. Validation failures never reach the store.
func (ns *NotificationService) Create(ctx context.Context, req models.CreateNotificationRequest) (*models.Notification, error) {
	now := ns.now()
	if err := ns.validate(req, now); err != nil {
		return nil, err
	}

	notification := ns.build(req, now)
	if err := ns.store.Create(ctx, notification); err != nil {
		return nil, utils.NewDatabaseError("create notification", err)
	}

	logrus.WithFields(logrus.Fields{
		"notificationId": notification.ID,
		"recipientId":    notification.RecipientID,
		"type":           notification.Type,
		"scheduled":      notification.ScheduledFor != nil,
	}).Info("Notification created")

	if notification.ScheduledFor == nil {
		ns.dispatchInBackground(ctx, notification.Clone())
	}

	return notification, nil
}

func (ns *NotificationService) validate(req models.CreateNotificationRequest, now time.Time) error {
	fields := ns.validator.ValidateStruct(req)

	if !req.DeliveryMethods.AnyEnabled() {
		fields = append(fields, utils.ValidationError{
			Field:   "DeliveryMethods",
			Tag:     "required",
			Message: "At least one delivery method must be enabled",
		})
	}
	if req.ScheduledFor != nil && req.ScheduledFor.Before(now) {
		fields = append(fields, utils.ValidationError{
			Field:   "ScheduledFor",
			Tag:     "future",
			Value:   req.ScheduledFor.Format(time.RFC3339),
			Message: "ScheduledFor must not be in the past",
		})
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(sendTime(req, now)) {
		fields = append(fields, utils.ValidationError{
			Field:   "ExpiresAt",
			Tag:     "gtfield",
			Value:   req.ExpiresAt.Format(time.RFC3339),
			Message: "ExpiresAt must be after the send time",
		})
	}
	for locale, lc := range req.Localized {
		if len([]rune(lc.Title)) > models.MaxTitleLength || len([]rune(lc.Message)) > models.MaxMessageLength {
			fields = append(fields, utils.ValidationError{
				Field:   "Localized." + locale,
				Tag:     "max",
				Message: fmt.Sprintf("Localized content for %s exceeds the length limits", locale),
			})
		}
	}

	if len(fields) > 0 {
		return utils.NewValidationError("Invalid notification", fields...)
	}
	return nil
}

func sendTime(req models.CreateNotificationRequest, now time.Time) time.Time {
	if req.ScheduledFor != nil {
		return *req.ScheduledFor
	}
	return now
}

func (ns *NotificationService) build(req models.CreateNotificationRequest, now time.Time) *models.Notification {
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	source := req.Source
	if source.Type == "" {
		source.Type = "system"
	}
	expiresAt := sendTime(req, now).Add(ns.ttl)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	return &models.Notification{
		ID:          utils.GenerateUUID(),
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Category:    req.Category,
		Priority:    priority,
		Title:       req.Title,
		Message:     req.Message,
		Data:        req.Data,
		Localized:   req.Localized,
		DeliveryMethods: models.DeliveryMethods{
			Push:  models.ChannelStatus{Enabled: req.DeliveryMethods.Push.Enabled},
			Email: models.ChannelStatus{Enabled: req.DeliveryMethods.Email.Enabled},
			SMS:   models.ChannelStatus{Enabled: req.DeliveryMethods.SMS.Enabled},
			InApp: models.ChannelStatus{Enabled: req.DeliveryMethods.InApp.Enabled},
		},
		ScheduledFor:    req.ScheduledFor,
		ExpiresAt:       expiresAt,
		Status:          models.StatusScheduled,
		Source:          source,
		RelatedEntities: req.RelatedEntities,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (ns *NotificationService) dispatchInBackground(ctx context.Context, n *models.Notification) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.draining {
		// the process-due job picks it up after restart
		return
	}

	ns.inflight.Add(1)
	dispatchCtx := context.WithoutCancel(ctx)
	go func() {
		defer ns.inflight.Done()
		if _, err := ns.dispatcher.Dispatch(dispatchCtx, n); err != nil {
			logrus.WithField("notificationId", n.ID).WithError(err).Error("Immediate dispatch failed")
		}
	}()
}

// Drain stops immediate dispatches and waits for running ones until ctx is done.
func (ns *NotificationService) Drain(ctx context.Context) error {
	ns.mu.Lock()
	ns.draining = true
	ns.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ns.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the background dispatches started so far have finished.
func (ns *NotificationService) Wait() {
	ns.inflight.Wait()
}

func (ns *NotificationService) Get(ctx context.Context, id string) (*models.Notification, error) {
	n, err := ns.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "get notification")
	}
	return n, nil
}

func (ns *NotificationService) Search(ctx context.Context, recipientID string, query models.SearchQuery) ([]models.Notification, int64, error) {
	list, total, err := ns.store.Search(ctx, recipientID, query)
	if err != nil {
		return nil, 0, utils.NewDatabaseError("search notifications", err)
	}
	return list, total, nil
}

func (ns *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	count, err := ns.store.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, utils.NewDatabaseError("count unread notifications", err)
	}
	return count, nil
}

func (ns *NotificationService) UnreadCountByCategory(ctx context.Context, recipientID string) (map[models.NotificationCategory]int64, error) {
	counts, err := ns.store.UnreadCountByCategory(ctx, recipientID)
	if err != nil {
		return nil, utils.NewDatabaseError("count unread notifications by category", err)
	}
	return counts, nil
}

func (ns *NotificationService) MarkRead(ctx context.Context, recipientID, id string) error {
	return ns.transition(ctx, recipientID, id, models.StatusRead)
}

func (ns *NotificationService) Dismiss(ctx context.Context, recipientID, id string) error {
	return ns.transition(ctx, recipientID, id, models.StatusDismissed)
}

func (ns *NotificationService) transition(ctx context.Context, recipientID, id string, to models.NotificationStatus) error {
	if _, err := ns.owned(ctx, recipientID, id); err != nil {
		return err
	}
	if err := ns.store.UpdateStatus(ctx, id, to, ns.now()); err != nil {
		return mapStoreError(err, "update notification status")
	}
	return nil
}

func (ns *NotificationService) RecordInteraction(ctx context.Context, recipientID, id, action string, metadata map[string]interface{}) error {
	if !utils.StringSliceContains(validInteractions, action) {
		return utils.NewValidationError("Invalid interaction", utils.ValidationError{
			Field:   "Action",
			Tag:     "oneof",
			Value:   action,
			Message: "Action must be one of click, act, custom",
		})
	}
	if _, err := ns.owned(ctx, recipientID, id); err != nil {
		return err
	}

	err := ns.store.RecordInteraction(ctx, id, models.Interaction{
		Action:    action,
		Timestamp: ns.now(),
		Metadata:  metadata,
	})
	if err != nil {
		return mapStoreError(err, "record interaction")
	}
	return nil
}

func (ns *NotificationService) owned(ctx context.Context, recipientID, id string) (*models.Notification, error) {
	n, err := ns.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "get notification")
	}
	if n.RecipientID != recipientID {
		return nil, utils.NewNotFoundError("Notification")
	}
	return n, nil
}

func mapStoreError(err error, operation string) error {
	switch {
	case errors.Is(err, repositories.ErrNotificationNotFound):
		return utils.NewNotFoundError("Notification")
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, repositories.ErrConcurrentUpdate):
		return utils.ServiceError{
			Code:       utils.ErrCodeConflict,
			Message:    "Notification status cannot change",
			Details:    err.Error(),
			StatusCode: http.StatusConflict,
			Cause:      err,
		}
	default:
		return utils.NewDatabaseError(operation, err)
	}
}
