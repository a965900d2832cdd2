package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecipientDirectory resolves recipients to contact data at delivery time.
type RecipientDirectory interface {
	Resolve(ctx context.Context, recipientID string) (*models.RecipientContact, error)
	// PruneDeviceTokens removes push tokens the provider reported as invalid.
	PruneDeviceTokens(ctx context.Context, recipientID string, tokens []string) error
	ListDigestRecipients(ctx context.Context) ([]string, error)
}

// RecipientRepository reads contact data from the users collection owned by the profile service.
type RecipientRepository struct {
	collection *mongo.Collection
}

var _ RecipientDirectory = (*RecipientRepository)(nil)

type userDocument struct {
	ID           interface{}                     `bson:"_id"`
	DeviceTokens []string                        `bson:"deviceTokens"`
	Email        string                          `bson:"email"`
	Phone        string                          `bson:"phone"`
	Locale       string                          `bson:"locale"`
	Preferences  *models.NotificationPreferences `bson:"notificationPreferences"`
}

func NewRecipientRepository(db *mongo.Database) *RecipientRepository {
	return &RecipientRepository{
		collection: db.Collection("users"),
	}
}

// idFilter matches both ObjectID and string keyed user documents.
func idFilter(id string) bson.M {
	if objectID, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{objectID, id}}}
	}
	return bson.M{"_id": id}
}

// newUserDocument seeds the preferences with the defaults so a partial
// notificationPreferences subdocument only overrides the keys it carries.
func newUserDocument() userDocument {
	defaults := models.DefaultPreferences()
	return userDocument{Preferences: &defaults}
}

func (d *userDocument) contact(recipientID string) *models.RecipientContact {
	contact := &models.RecipientContact{
		ID:           recipientID,
		DeviceTokens: d.DeviceTokens,
		Email:        d.Email,
		Phone:        d.Phone,
		Locale:       d.Locale,
		Preferences:  models.DefaultPreferences(),
	}
	if d.Preferences != nil {
		contact.Preferences = *d.Preferences
	}
	return contact
}

func (rr *RecipientRepository) Resolve(ctx context.Context, recipientID string) (*models.RecipientContact, error) {
	doc := newUserDocument()
	err := rr.collection.FindOne(ctx, idFilter(recipientID)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}

	return doc.contact(recipientID), nil
}

func (rr *RecipientRepository) PruneDeviceTokens(ctx context.Context, recipientID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	_, err := rr.collection.UpdateOne(ctx, idFilter(recipientID), bson.M{
		"$pullAll": bson.M{"deviceTokens": tokens},
		"$set":     bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to prune device tokens: %w", err)
	}

	return nil
}

func (rr *RecipientRepository) ListDigestRecipients(ctx context.Context) ([]string, error) {
	cursor, err := rr.collection.Find(ctx,
		bson.M{"notificationPreferences.dailyDigest": true},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest recipients: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID interface{} `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode recipient: %w", err)
		}
		switch id := doc.ID.(type) {
		case primitive.ObjectID:
			ids = append(ids, id.Hex())
		case string:
			ids = append(ids, id)
		}
	}

	return ids, cursor.Err()
}

// MemoryRecipientDirectory is an in-memory RecipientDirectory for development and tests.
type MemoryRecipientDirectory struct {
	contacts map[string]models.RecipientContact
	mu       sync.RWMutex
}

var _ RecipientDirectory = (*MemoryRecipientDirectory)(nil)

func NewMemoryRecipientDirectory(contacts ...models.RecipientContact) *MemoryRecipientDirectory {
	d := &MemoryRecipientDirectory{contacts: make(map[string]models.RecipientContact)}
	for _, c := range contacts {
		d.Put(c)
	}
	return d
}

func (d *MemoryRecipientDirectory) Put(contact models.RecipientContact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	contact.DeviceTokens = append([]string(nil), contact.DeviceTokens...)
	d.contacts[contact.ID] = contact
}

func (d *MemoryRecipientDirectory) Resolve(ctx context.Context, recipientID string) (*models.RecipientContact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contacts[recipientID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	c.DeviceTokens = append([]string(nil), c.DeviceTokens...)
	c.Preferences.MutedCategories = append([]string(nil), c.Preferences.MutedCategories...)
	return &c, nil
}

func (d *MemoryRecipientDirectory) PruneDeviceTokens(ctx context.Context, recipientID string, tokens []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contacts[recipientID]
	if !ok {
		return ErrRecipientNotFound
	}
	c.DeviceTokens = utils.RemoveStringsFromSlice(c.DeviceTokens, tokens)
	d.contacts[recipientID] = c
	return nil
}

func (d *MemoryRecipientDirectory) ListDigestRecipients(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, c := range d.contacts {
		if c.Preferences.DailyDigest {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
