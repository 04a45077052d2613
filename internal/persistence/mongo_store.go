package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/ramify/pkg/api"
)

// MongoInstanceStore is an InstanceStore backed by MongoDB. Each instance
// is one document carrying the queryable fields plus the JSON-encoded
// instance body; leases live in their own collection.
type MongoInstanceStore struct {
	instances *mongo.Collection
	leases    *mongo.Collection
}

type mongoInstanceDoc struct {
	ID            string    `bson:"_id"`
	DefinitionID  string    `bson:"definition_id"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	Status        string    `bson:"status"`
	Revision      int64     `bson:"revision"`
	Doc           []byte    `bson:"doc"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type mongoLeaseDoc struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewMongoInstanceStore creates a Mongo-backed instance store and ensures
// its indexes. dbName defaults to "ramify" if empty.
func NewMongoInstanceStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoInstanceStore, error) {
	if dbName == "" {
		dbName = "ramify"
	}
	db := client.Database(dbName)
	s := &MongoInstanceStore{
		instances: db.Collection("workflow_instances"),
		leases:    db.Collection("workflow_leases"),
	}

	_, err := s.instances.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "definition_id", Value: 1}}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create instance indexes: %w", err)
	}
	return s, nil
}

func (s *MongoInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	next := inst.Revision + 1
	updated := time.Now().UTC()

	prevRevision, prevUpdated := inst.Revision, inst.UpdatedUTC
	inst.Revision, inst.UpdatedUTC = next, updated
	body, err := EncodeInstance(inst)
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return err
	}

	doc := mongoInstanceDoc{
		ID:            inst.ID,
		DefinitionID:  inst.DefinitionID,
		CorrelationID: inst.CorrelationID,
		Status:        string(inst.Status),
		Revision:      next,
		Doc:           body,
		CreatedAt:     inst.CreatedUTC,
		UpdatedAt:     updated,
	}

	if prevRevision == 0 {
		if _, err := s.instances.InsertOne(ctx, doc); err != nil {
			inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("save instance %s: already exists: %w", inst.ID, api.ErrConcurrencyConflict)
			}
			return fmt.Errorf("save instance %s: %w", inst.ID, err)
		}
		return nil
	}

	res, err := s.instances.ReplaceOne(ctx,
		bson.M{"_id": inst.ID, "revision": prevRevision}, doc)
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	if res.MatchedCount == 0 {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: expected revision %d: %w",
			inst.ID, prevRevision, api.ErrConcurrencyConflict)
	}
	return nil
}

func (s *MongoInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var doc mongoInstanceDoc
	err := s.instances.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("instance %s: %w", id, api.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return DecodeInstance(doc.Doc)
}

func (s *MongoInstanceStore) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return s.ListInstances(ctx, InstanceFilter{CorrelationID: correlationID})
}

func (s *MongoInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := bson.M{}
	if filter.DefinitionID != "" {
		query["definition_id"] = filter.DefinitionID
	}
	if filter.CorrelationID != "" {
		query["correlation_id"] = filter.CorrelationID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	cur, err := s.instances.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer cur.Close(ctx)

	var out []*api.WorkflowInstance
	for cur.Next(ctx) {
		var doc mongoInstanceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		inst, err := DecodeInstance(doc.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, cur.Err()
}

func (s *MongoInstanceStore) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.instances.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if _, err := s.leases.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete instance %s lease: %w", id, err)
	}
	return nil
}

func (s *MongoInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()

	// Take over a lease that is ours or expired.
	res, err := s.leases.UpdateOne(ctx,
		bson.M{"_id": instanceID, "$or": bson.A{
			bson.M{"owner": owner},
			bson.M{"expires_at": bson.M{"$lte": now}},
		}},
		bson.M{"$set": bson.M{"owner": owner, "expires_at": expiresAt.UTC()}})
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// No claimable lease document; try to create one.
	_, err = s.leases.InsertOne(ctx, mongoLeaseDoc{ID: instanceID, Owner: owner, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	return true, nil
}

func (s *MongoInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error {
	res, err := s.leases.UpdateOne(ctx,
		bson.M{"_id": instanceID, "owner": owner},
		bson.M{"$set": bson.M{"expires_at": expiresAt.UTC()}})
	if err != nil {
		return fmt.Errorf("renew lease on %s: %w", instanceID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("renew lease on %s: not held by %s", instanceID, owner)
	}
	return nil
}

func (s *MongoInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	if _, err := s.leases.DeleteOne(ctx, bson.M{"_id": instanceID, "owner": owner}); err != nil {
		return fmt.Errorf("release lease on %s: %w", instanceID, err)
	}
	return nil
}

// NewMongoPersistence bundles a Mongo instance store with in-memory
// definitions and events.
func NewMongoPersistence(ctx context.Context, client *mongo.Client, dbName string) (Persistence, error) {
	instances, err := NewMongoInstanceStore(ctx, client, dbName)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Definitions: NewMemoryDefinitionStore(),
		Instances:   instances,
		Events:      NewMemoryEventStore(),
	}, nil
}
