package models

import (
	"errors"
	"time"
)

type NotificationType string

type NotificationCategory string

type NotificationPriority string

type NotificationStatus string

// Channel identifies one delivery mechanism.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "inApp"
)

// AllChannels lists channels in dispatch order.
var AllChannels = []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}

// Notification Type Constants
const (
	// Weather & crop
	NotificationWeatherAlert       NotificationType = "weather_alert"
	NotificationPestWarning        NotificationType = "pest_warning"
	NotificationDiseaseAlert       NotificationType = "disease_alert"
	NotificationIrrigationReminder NotificationType = "irrigation_reminder"
	NotificationFertilizerReminder NotificationType = "fertilizer_reminder"
	NotificationHarvestReminder    NotificationType = "harvest_reminder"

	// Market
	NotificationMarketPriceUpdate NotificationType = "market_price_update"

	// Experts & community
	NotificationExpertConsultation   NotificationType = "expert_consultation"
	NotificationConsultationReminder NotificationType = "consultation_reminder"
	NotificationCommunityPost        NotificationType = "community_post"

	// System
	NotificationSystemUpdate    NotificationType = "system_update"
	NotificationAccountSecurity NotificationType = "account_security"
	NotificationEmergencyAlert  NotificationType = "emergency_alert"
	NotificationDailyDigest     NotificationType = "daily_digest"
)

const (
	CategoryWeather   NotificationCategory = "weather"
	CategoryCrop      NotificationCategory = "crop"
	CategoryMarket    NotificationCategory = "market"
	CategorySystem    NotificationCategory = "system"
	CategorySocial    NotificationCategory = "social"
	CategoryEmergency NotificationCategory = "emergency"
)

const (
	PriorityLow      NotificationPriority = "low"
	PriorityMedium   NotificationPriority = "medium"
	PriorityHigh     NotificationPriority = "high"
	PriorityCritical NotificationPriority = "critical"
)

const (
	StatusScheduled NotificationStatus = "scheduled"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
	StatusRead      NotificationStatus = "read"
	StatusDismissed NotificationStatus = "dismissed"
)

var validTypes = map[NotificationType]NotificationCategory{
	NotificationWeatherAlert:         CategoryWeather,
	NotificationPestWarning:          CategoryCrop,
	NotificationDiseaseAlert:         CategoryCrop,
	NotificationIrrigationReminder:   CategoryCrop,
	NotificationFertilizerReminder:   CategoryCrop,
	NotificationHarvestReminder:      CategoryCrop,
	NotificationMarketPriceUpdate:    CategoryMarket,
	NotificationExpertConsultation:   CategorySocial,
	NotificationConsultationReminder: CategorySocial,
	NotificationCommunityPost:        CategorySocial,
	NotificationSystemUpdate:         CategorySystem,
	NotificationAccountSecurity:      CategorySystem,
	NotificationEmergencyAlert:       CategoryEmergency,
	NotificationDailyDigest:          CategorySystem,
}

func (t NotificationType) IsValid() bool {
	_, ok := validTypes[t]
	return ok
}

// DefaultCategory returns the category a type belongs to when none is given.
func (t NotificationType) DefaultCategory() NotificationCategory {
	return validTypes[t]
}

func (c NotificationCategory) IsValid() bool {
	switch c {
	case CategoryWeather, CategoryCrop, CategoryMarket, CategorySystem, CategorySocial, CategoryEmergency:
		return true
	}
	return false
}

func (p NotificationPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// DefaultTTL is applied when a notification is created without an expiry.
const DefaultTTL = 24 * time.Hour

const (
	MaxTitleLength   = 200
	MaxMessageLength = 1000
)

var ErrInvalidTransition = errors.New("invalid notification status transition")

// UnreadStatuses are the statuses of a dispatched notification that has not been read or dismissed.
var UnreadStatuses = []NotificationStatus{StatusSent, StatusDelivered, StatusFailed}

type Notification struct {
	ID          string `json:"id" bson:"_id"`
	RecipientID string `json:"recipientId" bson:"recipientId"`

	// Classification
	Type     NotificationType     `json:"type" bson:"type"`
	Category NotificationCategory `json:"category" bson:"category"`
	Priority NotificationPriority `json:"priority" bson:"priority"`

	// Content
	Title     string                      `json:"title" bson:"title"`
	Message   string                      `json:"message" bson:"message"`
	Data      map[string]interface{}      `json:"data,omitempty" bson:"data,omitempty"`
	Localized map[string]LocalizedContent `json:"localized,omitempty" bson:"localized,omitempty"`

	// Delivery Methods
	DeliveryMethods DeliveryMethods `json:"deliveryMethods" bson:"deliveryMethods"`

	// Scheduling
	ScheduledFor *time.Time `json:"scheduledFor,omitempty" bson:"scheduledFor,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt" bson:"expiresAt"`

	// Notification State
	Status NotificationStatus `json:"status" bson:"status"`
	SentAt *time.Time         `json:"sentAt,omitempty" bson:"sentAt,omitempty"`

	// User Interaction
	ReadAt       *time.Time    `json:"readAt,omitempty" bson:"readAt,omitempty"`
	DismissedAt  *time.Time    `json:"dismissedAt,omitempty" bson:"dismissedAt,omitempty"`
	Interactions []Interaction `json:"interactions,omitempty" bson:"interactions,omitempty"`

	// References
	Source          Source          `json:"source" bson:"source"`
	RelatedEntities []RelatedEntity `json:"relatedEntities,omitempty" bson:"relatedEntities,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

type LocalizedContent struct {
	Title   string `json:"title" bson:"title"`
	Message string `json:"message" bson:"message"`
}

// ChannelStatus is the per-channel delivery block of a notification.
type ChannelStatus struct {
	Enabled     bool       `json:"enabled" bson:"enabled"`
	Delivered   bool       `json:"delivered" bson:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
	Attempts    int        `json:"attempts,omitempty" bson:"attempts,omitempty"`
}

type DeliveryMethods struct {
	Push  ChannelStatus `json:"push" bson:"push"`
	Email ChannelStatus `json:"email" bson:"email"`
	SMS   ChannelStatus `json:"sms" bson:"sms"`
	InApp ChannelStatus `json:"inApp" bson:"inApp"`
}

type Interaction struct {
	Action    string                 `json:"action" bson:"action"` // click, act, custom
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

type Source struct {
	Type      string `json:"type" bson:"type"` // system, admin, user, expert
	Automated bool   `json:"automated" bson:"automated"`
}

type RelatedEntity struct {
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// ChannelOutcome is the resolved result of one channel within a dispatch.
type ChannelOutcome struct {
	Channel   Channel   `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Terminal  bool      `json:"terminal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Get returns the status block for a channel, or nil for an unknown channel.
func (d *DeliveryMethods) Get(ch Channel) *ChannelStatus {
	switch ch {
	case ChannelPush:
		return &d.Push
	case ChannelEmail:
		return &d.Email
	case ChannelSMS:
		return &d.SMS
	case ChannelInApp:
		return &d.InApp
	default:
		return nil
	}
}

func (d DeliveryMethods) EnabledChannels() []Channel {
	var channels []Channel
	for _, ch := range AllChannels {
		if d.Get(ch).Enabled {
			channels = append(channels, ch)
		}
	}
	return channels
}

// AnyDelivered reports whether at least one channel reached the recipient.
func (d DeliveryMethods) AnyDelivered() bool {
	for _, ch := range AllChannels {
		if d.Get(ch).Delivered {
			return true
		}
	}
	return false
}

// IsDue reports whether the notification is eligible for dispatch at now.
func (n *Notification) IsDue(now time.Time) bool {
	if n.Status != StatusScheduled || n.IsExpired(now) {
		return false
	}
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

func (n *Notification) IsExpired(now time.Time) bool {
	return !n.ExpiresAt.After(now)
}

func (n *Notification) IsUnread() bool {
	for _, s := range UnreadStatuses {
		if n.Status == s {
			return true
		}
	}
	return false
}

// ContentFor returns the title and message for a locale, falling back to the default content.
func (n *Notification) ContentFor(locale string) (string, string) {
	if locale != "" {
		if lc, ok := n.Localized[locale]; ok && lc.Title != "" && lc.Message != "" {
			return lc.Title, lc.Message
		}
	}
	return n.Title, n.Message
}

// Clone returns a deep copy so callers can't mutate stored records.
func (n *Notification) Clone() *Notification {
	c := *n
	c.Data = cloneMap(n.Data)
	if n.Localized != nil {
		c.Localized = make(map[string]LocalizedContent, len(n.Localized))
		for k, v := range n.Localized {
			c.Localized[k] = v
		}
	}
	c.ScheduledFor = cloneTime(n.ScheduledFor)
	c.SentAt = cloneTime(n.SentAt)
	c.ReadAt = cloneTime(n.ReadAt)
	c.DismissedAt = cloneTime(n.DismissedAt)
	for _, ch := range AllChannels {
		st := c.DeliveryMethods.Get(ch)
		st.DeliveredAt = cloneTime(st.DeliveredAt)
	}
	if n.Interactions != nil {
		c.Interactions = make([]Interaction, len(n.Interactions))
		for i, in := range n.Interactions {
			in.Metadata = cloneMap(in.Metadata)
			c.Interactions[i] = in
		}
	}
	if n.RelatedEntities != nil {
		c.RelatedEntities = append([]RelatedEntity(nil), n.RelatedEntities...)
	}
	return &c
}

// transitions is the delivery/interaction state machine.
var transitions = map[NotificationStatus][]NotificationStatus{
	StatusScheduled: {StatusSent, StatusDismissed},
	StatusSent:      {StatusDelivered, StatusFailed, StatusDismissed},
	StatusDelivered: {StatusRead, StatusDismissed},
	StatusFailed:    {StatusRead, StatusDismissed},
	StatusRead:      {StatusDismissed},
}

func CanTransition(from, to NotificationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Request DTOs
type CreateNotificationRequest struct {
	RecipientID     string                      `json:"recipientId" validate:"required"`
	Type            NotificationType            `json:"type" validate:"required,notification_type"`
	Category        NotificationCategory        `json:"category" validate:"required,notification_category"`
	Priority        NotificationPriority        `json:"priority" validate:"omitempty,notification_priority"`
	Title           string                      `json:"title" validate:"required,max=200"`
	Message         string                      `json:"message" validate:"required,max=1000"`
	Data            map[string]interface{}      `json:"data,omitempty"`
	Localized       map[string]LocalizedContent `json:"localized,omitempty"`
	DeliveryMethods DeliveryMethodsRequest      `json:"deliveryMethods"`
	ScheduledFor    *time.Time                  `json:"scheduledFor,omitempty"`
	ExpiresAt       *time.Time                  `json:"expiresAt,omitempty"`
	Source          Source                      `json:"source"`
	RelatedEntities []RelatedEntity             `json:"relatedEntities,omitempty"`
}

type ChannelToggle struct {
	Enabled bool `json:"enabled"`
}

type DeliveryMethodsRequest struct {
	Push  ChannelToggle `json:"push"`
	Email ChannelToggle `json:"email"`
	SMS   ChannelToggle `json:"sms"`
	InApp ChannelToggle `json:"inApp"`
}

func (r DeliveryMethodsRequest) AnyEnabled() bool {
	return r.Push.Enabled || r.Email.Enabled || r.SMS.Enabled || r.InApp.Enabled
}

// SearchQuery filters a recipient's notifications.
type SearchQuery struct {
	Text       string               `json:"text,omitempty"`
	Category   NotificationCategory `json:"category,omitempty"`
	Status     NotificationStatus   `json:"status,omitempty"`
	UnreadOnly bool                 `json:"unreadOnly,omitempty"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
}
