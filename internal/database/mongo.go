package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Collection names used by MongoStore.
const (
	CollectionMessages        = "messages"
	CollectionStudents        = "students"
	CollectionLecturers       = "lecturers"
	CollectionDepartmentHeads = "departmentHeads"
)

// CollectionHelper is the subset of *mongo.Collection the store uses.
type CollectionHelper interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoConfig holds connection settings for MongoStore.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore is the MongoDB Store. Message writes are serialized by a
// mutex that also hands out the ordering sequence.
type MongoStore struct {
	client     *mongo.Client
	messages   CollectionHelper
	identities map[types.Role]CollectionHelper
	timeout    time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	seq       int64
	seqLoaded bool

	closeOnce sync.Once
}

var _ interfaces.Store = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and ensures the message indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	messages := db.Collection(CollectionMessages)

	_, err = messages.Indexes().CreateMany(pingCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fromId", Value: 1}, {Key: "toId", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "toId", Value: 1}, {Key: "delivered", Value: 1}}},
		{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create message indexes: %w", err)
	}

	store := NewMongoStoreWithCollections(messages, map[types.Role]CollectionHelper{
		types.RoleStudent:        db.Collection(CollectionStudents),
		types.RoleLecturer:       db.Collection(CollectionLecturers),
		types.RoleDepartmentHead: db.Collection(CollectionDepartmentHeads),
	}, cfg.Timeout, logger)
	store.client = client

	return store, nil
}

// NewMongoStoreWithCollections builds a store over already opened
// collections. The returned store has no client; HealthCheck and Close
// become no-ops.
func NewMongoStoreWithCollections(messages CollectionHelper, identities map[types.Role]CollectionHelper, timeout time.Duration, logger zerolog.Logger) *MongoStore {
	return &MongoStore{
		messages:   messages,
		identities: identities,
		timeout:    timeout,
		logger:     logger.With().Str("component", "mongo").Logger(),
	}
}

func (s *MongoStore) FindIdentity(ctx context.Context, role types.Role, userID string) (*types.Identity, error) {
	coll, ok := s.identities[role]
	if !ok {
		return nil, types.ErrInvalidRole
	}

	var identity types.Identity
	if err := coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&identity); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to query %s identity: %w", role, err)
	}
	identity.Role = role
	if role != types.RoleStudent {
		identity.RegistrationNumber = ""
	}

	return &identity, nil
}

func (s *MongoStore) SaveIdentity(ctx context.Context, identity *types.Identity) error {
	coll, ok := s.identities[identity.Role]
	if !ok {
		return types.ErrInvalidRole
	}
	if !types.IsValidUserID(identity.ID) {
		return types.ErrInvalidUserID
	}

	_, err := coll.ReplaceOne(ctx, bson.M{"_id": identity.ID}, identity, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// StoreMessage inserts message with the next sequence number.
func (s *MongoStore) StoreMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seqLoaded {
		seq, err := s.loadSeq(ctx)
		if err != nil {
			return err
		}
		s.seq = seq
		s.seqLoaded = true
	}

	// BSON dates carry millisecond precision.
	message.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	message.Seq = s.seq + 1
	message.Delivered = false

	if _, err := s.messages.InsertOne(ctx, message); err != nil {
		// The write may have landed anyway (write concern, timeout), so
		// the next insert rereads the highest seq.
		s.seqLoaded = false
		return fmt.Errorf("failed to insert message: %w", err)
	}
	s.seq = message.Seq

	return nil
}

// loadSeq reads the highest persisted sequence number.
func (s *MongoStore) loadSeq(ctx context.Context) (int64, error) {
	var last struct {
		Seq int64 `bson:"seq"`
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	err := s.messages.FindOne(ctx, bson.M{}, opts).Decode(&last)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load message sequence: %w", err)
	}
	return last.Seq, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, a, b string) ([]*types.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"fromId": a, "toId": b},
		bson.M{"fromId": b, "toId": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	messages := make([]*types.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}

	return messages, nil
}

func (s *MongoStore) MarkDelivered(ctx context.Context, messageIDs []string, recipientID string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	filter := bson.M{
		"_id":       bson.M{"$in": messageIDs},
		"toId":      recipientID,
		"delivered": false,
	}
	update := bson.M{"$set": bson.M{"delivered": true}}

	res, err := s.messages.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages delivered: %w", err)
	}

	return res.ModifiedCount, nil
}

func (s *MongoStore) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.client == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if derr := s.client.Disconnect(ctx); derr != nil {
			err = fmt.Errorf("failed to disconnect mongo: %w", derr)
		}
	})
	return err
}
