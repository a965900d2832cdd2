package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	defaultDatabase = "farmora"
	connectTimeout  = 10 * time.Second
)

var client *mongo.Client

// Connect dials MongoDB and returns the database named in the URI path, or
// the default database when the URI names none.
func Connect(ctx context.Context, databaseURL string) (*mongo.Database, error) {
	cs, err := connstring.ParseAndValidate(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(databaseURL).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true).
		// claims and status updates must see the latest write
		SetReadPreference(readpref.Primary())

	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := cs.Database
	if dbName == "" || dbName == "admin" {
		dbName = defaultDatabase
	}

	logrus.WithField("database", dbName).Info("Connected to MongoDB")
	return client.Database(dbName), nil
}

// Disconnect closes the MongoDB connection
func Disconnect(ctx context.Context) error {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		logrus.Errorf("Error disconnecting from MongoDB: %v", err)
		return err
	}

	logrus.Info("Disconnected from MongoDB")
	return nil
}

// Ping reports whether the primary answers within ctx.
func Ping(ctx context.Context) error {
	if client == nil {
		return errors.New("database not connected")
	}
	return client.Ping(ctx, readpref.Primary())
}
