package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Client wraps the Mongo connection and database handle.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Config holds document store configuration
type Config struct {
	URI      string
	Database string
	Logger   zerolog.Logger
}

// Connect establishes the Mongo connection and pings the server.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(200).
		SetMinPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetServerSelectionTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "mongo").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to MongoDB")

	return &Client{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Database returns the database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories rely on.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"pending_numbers": {
			{Keys: bson.D{{Key: "phone_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		"used_numbers": {
			{Keys: bson.D{{Key: "number_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		"countries": {
			{Keys: bson.D{{Key: "country_code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"withdrawals": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "card_name", Value: 1}}},
		},
		"cards": {
			{Keys: bson.D{{Key: "card_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"transactions": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := c.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
	}

	c.logger.Info().Msg("Database indexes ensured")
	return nil
}
