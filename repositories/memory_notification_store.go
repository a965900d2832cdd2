package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
)

// MemoryNotificationStore is an in-memory NotificationStore.
// Suitable for development and testing.
type MemoryNotificationStore struct {
	notifications map[string]*models.Notification
	mu            sync.RWMutex
}

var _ NotificationStore = (*MemoryNotificationStore)(nil)

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		notifications: make(map[string]*models.Notification),
	}
}

func (s *MemoryNotificationStore) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		return errors.New("notification ID is required")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	notification.UpdatedAt = notification.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[notification.ID]; exists {
		return fmt.Errorf("notification %s already exists", notification.ID)
	}
	s.notifications[notification.ID] = notification.Clone()
	return nil
}

func (s *MemoryNotificationStore) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	// Return a copy to prevent external mutation of stored data
	return n.Clone(), nil
}

func (s *MemoryNotificationStore) FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	result := s.collect(func(n *models.Notification) bool { return n.IsDue(now) })
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryNotificationStore) FindExpired(ctx context.Context, now time.Time) ([]models.Notification, error) {
	result := s.collect(func(n *models.Notification) bool { return n.IsExpired(now) })
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

func (s *MemoryNotificationStore) FindUnread(ctx context.Context, recipientID string, since time.Time, excludeTypes ...models.NotificationType) ([]models.Notification, error) {
	result := s.collect(func(n *models.Notification) bool {
		if n.RecipientID != recipientID || !n.IsUnread() || n.CreatedAt.Before(since) {
			return false
		}
		for _, t := range excludeTypes {
			if n.Type == t {
				return false
			}
		}
		return true
	})
	sortNewestFirst(result)
	return result, nil
}

func (s *MemoryNotificationStore) Search(ctx context.Context, recipientID string, query models.SearchQuery) ([]models.Notification, int64, error) {
	text := strings.ToLower(query.Text)
	matched := s.collect(func(n *models.Notification) bool {
		if n.RecipientID != recipientID {
			return false
		}
		if text != "" && !strings.Contains(strings.ToLower(n.Title), text) && !strings.Contains(strings.ToLower(n.Message), text) {
			return false
		}
		if query.Category != "" && n.Category != query.Category {
			return false
		}
		if query.Status != "" {
			return n.Status == query.Status
		}
		return !query.UnreadOnly || n.IsUnread()
	})
	sortNewestFirst(matched)

	total := int64(len(matched))
	page, pageSize := normalizePage(query)
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []models.Notification{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *MemoryNotificationStore) ClaimForDispatch(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || !n.IsDue(now) {
		return false, nil
	}
	n.Status = models.StatusSent
	n.SentAt = &now
	n.UpdatedAt = now
	return true, nil
}

func (s *MemoryNotificationStore) MarkChannelOutcome(ctx context.Context, id string, outcome models.ChannelOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	st := n.DeliveryMethods.Get(outcome.Channel)
	if st == nil {
		return fmt.Errorf("unknown channel %q", outcome.Channel)
	}

	st.Delivered = outcome.Success
	st.Attempts = outcome.Attempts
	if outcome.Success {
		at := outcome.Timestamp
		st.DeliveredAt = &at
		st.Error = ""
	} else {
		st.Error = outcome.Error
	}
	n.UpdatedAt = outcome.Timestamp
	return nil
}

func (s *MemoryNotificationStore) CompleteDispatch(ctx context.Context, id string, status models.NotificationStatus, at time.Time) (bool, error) {
	if !models.CanTransition(models.StatusSent, status) || status == models.StatusDismissed {
		return false, models.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != models.StatusSent {
		return false, nil
	}
	n.Status = status
	n.UpdatedAt = at
	return true, nil
}

func (s *MemoryNotificationStore) UpdateStatus(ctx context.Context, id string, to models.NotificationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if !models.CanTransition(n.Status, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, n.Status, to)
	}
	stampStatus(n, to, at)
	return nil
}

func (s *MemoryNotificationStore) RecordInteraction(ctx context.Context, id string, interaction models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Interactions = append(n.Interactions, interaction)
	n.UpdatedAt = interaction.Timestamp
	return nil
}

func (s *MemoryNotificationStore) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && n.IsUnread() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) UnreadCountByCategory(ctx context.Context, recipientID string) (map[models.NotificationCategory]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.NotificationCategory]int64)
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && n.IsUnread() {
			counts[n.Category]++
		}
	}
	return counts, nil
}

func (s *MemoryNotificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.notifications {
		if n.IsExpired(now) {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryNotificationStore) AggregateAnalytics(ctx context.Context, start, end time.Time) (*models.NotificationAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	analytics := models.NewNotificationAnalytics(start, end)
	for _, n := range s.notifications {
		if n.CreatedAt.Before(start) || !n.CreatedAt.Before(end) {
			continue
		}
		analytics.Add(n)
	}
	return analytics, nil
}

// Len returns the number of stored records.
func (s *MemoryNotificationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications)
}

func (s *MemoryNotificationStore) collect(match func(*models.Notification) bool) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Notification{}
	for _, n := range s.notifications {
		if match(n) {
			result = append(result, *n.Clone())
		}
	}
	return result
}

func sortNewestFirst(list []models.Notification) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
