package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/schema"
)

// DefinitionsCollection is the default collection holding stream definitions
const DefinitionsCollection = "stream_definitions"

// Store is a schema.DefinitionStore backed by MongoDB
type Store struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// StoreOption configures the store
type StoreOption func(*storeConfig)

type storeConfig struct {
	collection string
	logger     *slog.Logger
}

// WithCollection overrides the collection name
func WithCollection(name string) StoreOption {
	return func(c *storeConfig) {
		c.collection = name
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// NewStore creates a store on db
func NewStore(db *mongo.Database, opts ...StoreOption) *Store {
	cfg := &storeConfig{
		collection: DefinitionsCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Store{
		collection: db.Collection(cfg.collection),
		logger:     cfg.logger,
	}
}

// Connect opens a client for url and returns a store on database
func Connect(ctx context.Context, url, database string, storeOptions ...StoreOption) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return NewStore(client.Database(database), storeOptions...), client.Disconnect, nil
}

// Save stores a definition unless one is already registered under its stream id
func (s *Store) Save(ctx context.Context, def *contracts.StreamDefinition) (bool, error) {
	if def == nil {
		return false, schema.ErrNilDefinition
	}

	streamID := def.GetStreamID()
	existing, err := s.GetByID(ctx, streamID)
	if err != nil && !errors.Is(err, schema.ErrDefinitionNotFound) {
		return false, err
	}

	stored, err := schema.CheckDuplicate(existing, def)
	if err != nil || !stored {
		return false, err
	}

	filter := bson.M{"_id": streamID}
	update := bson.M{"$setOnInsert": toDocument(def)}
	result, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		s.logger.Error("could not store stream definition", "streamId", streamID, "error", err)
		return false, fmt.Errorf("failed to store definition %s: %w", streamID, err)
	}
	if result.UpsertedCount == 0 {
		// Lost a race with another writer; re-check against what won.
		winner, err := s.GetByID(ctx, streamID)
		if err != nil {
			return false, err
		}
		_, err = schema.CheckDuplicate(winner, def)
		return false, err
	}

	s.logger.Info("stream definition registered", "streamId", streamID)
	return true, nil
}

// Get retrieves a definition by name and version
func (s *Store) Get(ctx context.Context, name, version string) (*contracts.StreamDefinition, error) {
	return s.GetByID(ctx, contracts.GenerateStreamID(name, version))
}

// GetByID retrieves a definition by stream id
func (s *Store) GetByID(ctx context.Context, streamID string) (*contracts.StreamDefinition, error) {
	var doc definitionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": streamID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", schema.ErrDefinitionNotFound, streamID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", streamID, err)
	}
	return doc.toDefinition()
}

// List returns all definitions ordered by stream id
func (s *Store) List(ctx context.Context) ([]*contracts.StreamDefinition, error) {
	cur, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer cur.Close(ctx)

	var defs []*contracts.StreamDefinition
	for cur.Next(ctx) {
		var doc definitionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode definition: %w", err)
		}
		def, err := doc.toDefinition()
		if err != nil {
			s.logger.Warn("skipping malformed stored definition", "streamId", doc.StreamID, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, cur.Err()
}

// Delete removes a definition
func (s *Store) Delete(ctx context.Context, name, version string) (bool, error) {
	streamID := contracts.GenerateStreamID(name, version)
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": streamID})
	if err != nil {
		return false, fmt.Errorf("failed to delete definition %s: %w", streamID, err)
	}
	if result.DeletedCount > 0 {
		s.logger.Info("stream definition removed", "streamId", streamID)
	}
	return result.DeletedCount > 0, nil
}
