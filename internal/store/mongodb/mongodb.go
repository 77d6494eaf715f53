// Package mongodb implements the store contracts on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

const (
	BatchCollection = "fda_approvals"
	UserCollection  = "users"
)

// Connect dials uri and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique index on
// batchNumber is what makes verification lookups unambiguous.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(BatchCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "batchNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "shipmentStatus", Value: 1}}},
		{Keys: bson.D{{Key: "manufacturerId", Value: 1}, {Key: "submissionDate", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create batch indexes: %w", err)
	}
	_, err = db.Collection(UserCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

// BatchStore stores batch records in the fda_approvals collection.
type BatchStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func NewBatchStore(db *mongo.Database, logger *zap.Logger) *BatchStore {
	return &BatchStore{coll: db.Collection(BatchCollection), logger: logger}
}

func (s *BatchStore) Create(ctx context.Context, rec models.BatchRecord) (models.BatchRecord, error) {
	rec.ID = uuid.NewString()
	rec.Version = 1
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.BatchRecord{}, store.ErrDuplicate
		}
		return models.BatchRecord{}, fmt.Errorf("failed to insert batch: %w", err)
	}
	return rec, nil
}

func (s *BatchStore) Get(ctx context.Context, id string) (models.BatchRecord, error) {
	var rec models.BatchRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.BatchRecord{}, store.ErrNotFound
		}
		return models.BatchRecord{}, fmt.Errorf("failed to retrieve batch %s: %w", id, err)
	}
	return rec, nil
}

func (s *BatchStore) Find(ctx context.Context, f store.Filter) ([]models.BatchRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submissionDate", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.coll.Find(ctx, filterDocument(f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.BatchRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode batches: %w", err)
	}
	if records == nil {
		records = []models.BatchRecord{}
	}
	return records, nil
}

func (s *BatchStore) Update(ctx context.Context, id string, expectedVersion int64, m store.Mutation) (models.BatchRecord, error) {
	filter := bson.M{"_id": id, "version": expectedVersion}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec models.BatchRecord
	err := s.coll.FindOneAndUpdate(ctx, filter, updateDocument(m), opts).Decode(&rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.BatchRecord{}, fmt.Errorf("failed to update batch %s: %w", id, err)
	}

	// Nothing matched: either the record is gone or someone else wrote first.
	count, cerr := s.coll.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return models.BatchRecord{}, fmt.Errorf("failed to check batch %s: %w", id, cerr)
	}
	if count == 0 {
		return models.BatchRecord{}, store.ErrNotFound
	}
	return models.BatchRecord{}, store.ErrVersionConflict
}

// Changes follows a change stream on the collection. Change streams need a
// replica set; on a standalone server the error is returned to the caller.
func (s *BatchStore) Changes(ctx context.Context) (<-chan models.BatchRecord, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}}}},
	}
	stream, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	out := make(chan models.BatchRecord)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var ev struct {
				FullDocument *models.BatchRecord `bson:"fullDocument"`
			}
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn("Failed to decode change event", zap.Error(err))
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			select {
			case out <- *ev.FullDocument:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error("Change stream stopped", zap.Error(err))
		}
	}()
	return out, nil
}

func filterDocument(f store.Filter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if len(f.ShipmentStatuses) > 0 {
		filter["shipmentStatus"] = bson.M{"$in": f.ShipmentStatuses}
	}
	if f.ManufacturerID != "" {
		filter["manufacturerId"] = f.ManufacturerID
	}
	if f.BatchNumber != "" {
		filter["batchNumber"] = f.BatchNumber
	}
	if !f.UpdatedBefore.IsZero() {
		filter["updatedAt"] = bson.M{"$lt": f.UpdatedBefore}
	}
	return filter
}

func updateDocument(m store.Mutation) bson.M {
	set := bson.M{
		"status":    m.Status,
		"updatedAt": m.Event.At,
	}
	update := bson.M{
		"$inc":  bson.M{"version": 1},
		"$push": bson.M{"history": m.Event},
	}
	if m.ShipmentStatus == models.ShipmentNone {
		update["$unset"] = bson.M{"shipmentStatus": ""}
	} else {
		set["shipmentStatus"] = m.ShipmentStatus
	}
	update["$set"] = set
	return update
}

// UserStore stores user profiles in the users collection.
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection(UserCollection)}
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.coll.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, store.ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to retrieve user: %w", err)
	}
	return u, nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.User{}, store.ErrNotFound
	}
	var u models.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, store.ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to retrieve user %s: %w", id, err)
	}
	return u, nil
}

func (s *UserStore) Insert(ctx context.Context, u models.User) (models.User, error) {
	u.Email = strings.ToLower(u.Email)
	result, err := s.coll.InsertOne(ctx, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, store.ErrDuplicate
		}
		return models.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		u.ID = oid
	}
	return u, nil
}

func (s *UserStore) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"role": role})
}
