// repositories/notification_repository.go
package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotificationRepository struct {
	db                     *mongo.Database
	notificationCollection *mongo.Collection
}

var _ NotificationStore = (*NotificationRepository)(nil)

func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{
		db:                     db,
		notificationCollection: db.Collection("notifications"),
	}
}

// ========================
// Core Notification CRUD
// ========================

func (nr *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	now := time.Now()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	notification.UpdatedAt = notification.CreatedAt

	_, err := nr.notificationCollection.InsertOne(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func (nr *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	var notification models.Notification
	err := nr.notificationCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&notification)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return &notification, nil
}

// ========================
// Dispatch Queries
// ========================

func dueFilter(now time.Time) bson.M {
	return bson.M{
		"status":    models.StatusScheduled,
		"expiresAt": bson.M{"$gt": now},
		"$or": []bson.M{
			{"scheduledFor": nil},
			{"scheduledFor": bson.M{"$lte": now}},
		},
	}
}

func (nr *NotificationRepository) FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	return nr.find(ctx, dueFilter(now), findOptions, "pending")
}

func (nr *NotificationRepository) FindExpired(ctx context.Context, now time.Time) ([]models.Notification, error) {
	filter := bson.M{"expiresAt": bson.M{"$lte": now}}
	return nr.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}}), "expired")
}

func (nr *NotificationRepository) FindUnread(ctx context.Context, recipientID string, since time.Time, excludeTypes ...models.NotificationType) ([]models.Notification, error) {
	filter := bson.M{
		"recipientId": recipientID,
		"status":      bson.M{"$in": models.UnreadStatuses},
		"createdAt":   bson.M{"$gte": since},
	}
	if len(excludeTypes) > 0 {
		filter["type"] = bson.M{"$nin": excludeTypes}
	}

	return nr.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}), "unread")
}

func (nr *NotificationRepository) Search(ctx context.Context, recipientID string, query models.SearchQuery) ([]models.Notification, int64, error) {
	filter := bson.M{"recipientId": recipientID}

	if query.Text != "" {
		pattern := regexp.QuoteMeta(query.Text)
		filter["$or"] = []bson.M{
			{"title": bson.M{"$regex": pattern, "$options": "i"}},
			{"message": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	if query.Category != "" {
		filter["category"] = query.Category
	}
	switch {
	case query.Status != "":
		filter["status"] = query.Status
	case query.UnreadOnly:
		filter["status"] = bson.M{"$in": models.UnreadStatuses}
	}

	// Count total documents
	total, err := nr.notificationCollection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	page, pageSize := normalizePage(query)
	skip := (page - 1) * pageSize

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(pageSize))

	notifications, err := nr.find(ctx, filter, findOptions, "search")
	if err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

func (nr *NotificationRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions, name string) ([]models.Notification, error) {
	cursor, err := nr.notificationCollection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s notifications: %w", name, err)
	}
	defer cursor.Close(ctx)

	notifications := []models.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode %s notifications: %w", name, err)
	}

	return notifications, nil
}

// ========================
// Delivery Bookkeeping
// ========================

func (nr *NotificationRepository) ClaimForDispatch(ctx context.Context, id string, now time.Time) (bool, error) {
	filter := dueFilter(now)
	filter["_id"] = id

	result, err := nr.notificationCollection.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{
			"status":    models.StatusSent,
			"sentAt":    now,
			"updatedAt": now,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}

	return result.ModifiedCount == 1, nil
}

// MarkChannelOutcome writes only the dotted fields of one channel so concurrent
// channels never clobber each other.
func (nr *NotificationRepository) MarkChannelOutcome(ctx context.Context, id string, outcome models.ChannelOutcome) error {
	if !outcome.Channel.IsValid() {
		return fmt.Errorf("unknown channel %q", outcome.Channel)
	}
	prefix := "deliveryMethods." + string(outcome.Channel) + "."

	set := bson.M{
		prefix + "delivered": outcome.Success,
		prefix + "attempts":  outcome.Attempts,
		"updatedAt":          outcome.Timestamp,
	}
	update := bson.M{"$set": set}
	if outcome.Success {
		set[prefix+"deliveredAt"] = outcome.Timestamp
		update["$unset"] = bson.M{prefix + "error": ""}
	} else {
		set[prefix+"error"] = outcome.Error
	}

	result, err := nr.notificationCollection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to record %s outcome: %w", outcome.Channel, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

func (nr *NotificationRepository) CompleteDispatch(ctx context.Context, id string, status models.NotificationStatus, at time.Time) (bool, error) {
	if !models.CanTransition(models.StatusSent, status) || status == models.StatusDismissed {
		return false, models.ErrInvalidTransition
	}

	result, err := nr.notificationCollection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.StatusSent},
		bson.M{"$set": bson.M{"status": status, "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete dispatch: %w", err)
	}

	return result.ModifiedCount == 1, nil
}

// UpdateStatus applies a state machine transition with an optimistic check on
// the status that was read.
func (nr *NotificationRepository) UpdateStatus(ctx context.Context, id string, to models.NotificationStatus, at time.Time) error {
	for attempt := 0; attempt < statusUpdateAttempts; attempt++ {
		current, err := nr.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !models.CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, to)
		}

		from := current.Status
		stampStatus(current, to, at)
		set := bson.M{"status": to, "updatedAt": at}
		if current.ReadAt != nil {
			set["readAt"] = *current.ReadAt
		}
		if current.DismissedAt != nil {
			set["dismissedAt"] = *current.DismissedAt
		}

		result, err := nr.notificationCollection.UpdateOne(ctx,
			bson.M{"_id": id, "status": from},
			bson.M{"$set": set},
		)
		if err != nil {
			return fmt.Errorf("failed to update notification status: %w", err)
		}
		if result.ModifiedCount == 1 {
			return nil
		}
	}

	return ErrConcurrentUpdate
}

func (nr *NotificationRepository) RecordInteraction(ctx context.Context, id string, interaction models.Interaction) error {
	result, err := nr.notificationCollection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"interactions": interaction},
			"$set":  bson.M{"updatedAt": interaction.Timestamp},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// ========================
// Counts
// ========================

func (nr *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	count, err := nr.notificationCollection.CountDocuments(ctx, bson.M{
		"recipientId": recipientID,
		"status":      bson.M{"$in": models.UnreadStatuses},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

func (nr *NotificationRepository) UnreadCountByCategory(ctx context.Context, recipientID string) (map[models.NotificationCategory]int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"recipientId": recipientID,
			"status":      bson.M{"$in": models.UnreadStatuses},
		}},
		{"$group": bson.M{
			"_id":   "$category",
			"count": bson.M{"$sum": 1},
		}},
	}

	cursor, err := nr.notificationCollection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by category: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[models.NotificationCategory]int64)
	for cursor.Next(ctx) {
		var result struct {
			ID    models.NotificationCategory `bson:"_id"`
			Count int64                       `bson:"count"`
		}
		if err := cursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode category count: %w", err)
		}
		counts[result.ID] = result.Count
	}

	return counts, cursor.Err()
}

// ========================
// Index Creation
// ========================

func (nr *NotificationRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledFor", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "category", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "expiresAt", Value: 1}},
		},
	}

	_, err := nr.notificationCollection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}

	return nil
}

// ========================
// Cleanup Methods
// ========================

func (nr *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := nr.notificationCollection.DeleteMany(ctx, bson.M{
		"expiresAt": bson.M{"$lte": now},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired notifications: %w", err)
	}

	return result.DeletedCount, nil
}

// ========================
// Analytics Methods
// ========================

func sumIf(cond interface{}) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{cond, 1, 0}}}
}

func isSet(field string) bson.M {
	return bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{field, nil}}, nil}}
}

func (nr *NotificationRepository) AggregateAnalytics(ctx context.Context, start, end time.Time) (*models.NotificationAnalytics, error) {
	anyDelivered := bson.A{}
	group := bson.M{
		"_id":          nil,
		"totalCreated": bson.M{"$sum": 1},
		"totalSent":    sumIf(isSet("$sentAt")),
		"readCount":    sumIf(isSet("$readAt")),
		"dismissed":    sumIf(isSet("$dismissedAt")),
	}
	for _, ch := range models.AllChannels {
		delivered := "$deliveryMethods." + string(ch) + ".delivered"
		errField := "$deliveryMethods." + string(ch) + ".error"
		anyDelivered = append(anyDelivered, bson.M{"$eq": bson.A{delivered, true}})

		group[string(ch)+"Delivered"] = sumIf(bson.M{"$eq": bson.A{delivered, true}})
		group[string(ch)+"Failed"] = sumIf(bson.M{"$and": bson.A{
			bson.M{"$ne": bson.A{delivered, true}},
			bson.M{"$gt": bson.A{bson.M{"$ifNull": bson.A{errField, ""}}, ""}},
		}})
	}
	group["delivered"] = sumIf(bson.M{"$and": bson.A{isSet("$sentAt"), bson.M{"$or": anyDelivered}}})
	group["failed"] = sumIf(bson.M{"$and": bson.A{
		isSet("$sentAt"),
		bson.M{"$not": bson.A{bson.M{"$or": anyDelivered}}},
		bson.M{"$ne": bson.A{"$status", models.StatusSent}},
	}})

	pipeline := []bson.M{
		{"$match": bson.M{"createdAt": bson.M{"$gte": start, "$lt": end}}},
		{"$group": group},
	}

	cursor, err := nr.notificationCollection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analytics: %w", err)
	}
	defer cursor.Close(ctx)

	analytics := models.NewNotificationAnalytics(start, end)
	if !cursor.Next(ctx) {
		return analytics, cursor.Err()
	}

	var row bson.M
	if err := cursor.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode analytics: %w", err)
	}

	analytics.TotalCreated = toInt64(row["totalCreated"])
	analytics.TotalSent = toInt64(row["totalSent"])
	analytics.Delivered = toInt64(row["delivered"])
	analytics.Failed = toInt64(row["failed"])
	analytics.ReadCount = toInt64(row["readCount"])
	analytics.DismissedCount = toInt64(row["dismissed"])
	for _, ch := range models.AllChannels {
		analytics.PerChannelDelivered[ch] = toInt64(row[string(ch)+"Delivered"])
		analytics.PerChannelFailed[ch] = toInt64(row[string(ch)+"Failed"])
	}

	return analytics, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
