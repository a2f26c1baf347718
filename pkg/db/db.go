package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"poetry-feed/pkg/domain"
)

var errNotInitialized = errors.New("mongo collection not initialized")

// ArchiveClient stores fetched poems in MongoDB, one document per poem id.
type ArchiveClient struct {
	mongoClient *mongo.Client
	collection  *mongo.Collection
}

// NewArchiveClient connects lazily: the driver dials on first use and
// Connect verifies the server is reachable.
func NewArchiveClient(uri, databaseName, collectionName string) (*ArchiveClient, error) {
	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}
	return &ArchiveClient{
		mongoClient: mongoClient,
		collection:  mongoClient.Database(databaseName).Collection(collectionName),
	}, nil
}

// Connect pings the server.
func (c *ArchiveClient) Connect(ctx context.Context) error {
	if c.mongoClient == nil {
		return errNotInitialized
	}
	return c.mongoClient.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (c *ArchiveClient) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// SavePoem upserts a poem keyed by its id.
func (c *ArchiveClient) SavePoem(ctx context.Context, poem *domain.ArchivedPoem) error {
	if c.collection == nil {
		return errNotInitialized
	}

	filter := bson.M{"poem_id": poem.ID}
	update := bson.M{"$set": poem}
	_, err := c.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert poem %d: %w", poem.ID, err)
	}
	return nil
}

// PoemIDs returns the set of archived poem ids.
func (c *ArchiveClient) PoemIDs(ctx context.Context) (map[int64]bool, error) {
	if c.collection == nil {
		return nil, errNotInitialized
	}

	cursor, err := c.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"poem_id": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query poem ids: %w", err)
	}
	defer cursor.Close(ctx)

	ids := make(map[int64]bool)
	for cursor.Next(ctx) {
		var doc struct {
			ID int64 `bson:"poem_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		if doc.ID != 0 {
			ids[doc.ID] = true
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return ids, nil
}

// Poems returns every archived poem.
func (c *ArchiveClient) Poems(ctx context.Context) ([]domain.ArchivedPoem, error) {
	if c.collection == nil {
		return nil, errNotInitialized
	}

	cursor, err := c.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "poem_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query poems: %w", err)
	}
	defer cursor.Close(ctx)

	var poems []domain.ArchivedPoem
	if err := cursor.All(ctx, &poems); err != nil {
		return nil, fmt.Errorf("decode poems: %w", err)
	}
	return poems, nil
}
