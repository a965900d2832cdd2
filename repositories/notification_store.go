package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrConcurrentUpdate     = errors.New("notification was modified concurrently")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// statusUpdateAttempts bounds the read-check-write loop of UpdateStatus.
	statusUpdateAttempts = 3
)

// NotificationStore persists notification records. Implementations must be
// safe for concurrent use, and channel outcome writes must only touch the
// fields of their own channel.
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)

	// FindPending returns due, unexpired, scheduled notifications, oldest first.
	FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.Notification, error)
	FindUnread(ctx context.Context, recipientID string, since time.Time, excludeTypes ...models.NotificationType) ([]models.Notification, error)
	Search(ctx context.Context, recipientID string, query models.SearchQuery) ([]models.Notification, int64, error)

	// ClaimForDispatch moves a due record from scheduled to sent and stamps
	// sentAt. It returns false when the record is no longer claimable.
	ClaimForDispatch(ctx context.Context, id string, now time.Time) (bool, error)
	MarkChannelOutcome(ctx context.Context, id string, outcome models.ChannelOutcome) error
	// CompleteDispatch sets the final delivery status only while the record is still sent.
	CompleteDispatch(ctx context.Context, id string, status models.NotificationStatus, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id string, to models.NotificationStatus, at time.Time) error
	RecordInteraction(ctx context.Context, id string, interaction models.Interaction) error

	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	UnreadCountByCategory(ctx context.Context, recipientID string) (map[models.NotificationCategory]int64, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	AggregateAnalytics(ctx context.Context, start, end time.Time) (*models.NotificationAnalytics, error)
}

func normalizePage(q models.SearchQuery) (page, pageSize int) {
	page, pageSize = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func stampStatus(n *models.Notification, to models.NotificationStatus, at time.Time) {
	n.Status = to
	n.UpdatedAt = at
	switch to {
	case models.StatusRead:
		if n.ReadAt == nil {
			n.ReadAt = &at
		}
	case models.StatusDismissed:
		if n.DismissedAt == nil {
			n.DismissedAt = &at
		}
	}
}
