package profile

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("profile not found")

type Repository interface {
	Get(ctx context.Context, uid string) (Profile, error)
	// Update sets fields on the profile, creating it when missing.
	Update(ctx context.Context, uid string, fields map[string]string) (Profile, error)
	// Create inserts a profile unless one already exists for p.UID.
	Create(ctx context.Context, p Profile) error
}

type mongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoRepository(collection *mongo.Collection) Repository {
	return &mongoRepository{collection: collection, now: time.Now}
}

// EnsureIndexes makes uid unique.
func EnsureIndexes(ctx context.Context, collection *mongo.Collection) error {
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *mongoRepository) Get(ctx context.Context, uid string) (Profile, error) {
	var p Profile
	err := r.collection.FindOne(ctx, bson.M{"uid": uid}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		logrus.WithError(err).WithField("uid", uid).Error("Failed to load profile")
		return Profile{}, err
	}
	return p, nil
}

func (r *mongoRepository) Update(ctx context.Context, uid string, fields map[string]string) (Profile, error) {
	now := r.now()
	set := bson.M{"updated_at": now}
	for k, v := range fields {
		set[k] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"uid": uid, "created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var p Profile
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"uid": uid}, update, opts).Decode(&p); err != nil {
		logrus.WithError(err).WithField("uid", uid).Error("Failed to update profile")
		return Profile{}, err
	}
	return p, nil
}

func (r *mongoRepository) Create(ctx context.Context, p Profile) error {
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"uid": p.UID},
		bson.M{"$setOnInsert": p},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logrus.WithError(err).WithField("uid", p.UID).Error("Failed to create profile")
	}
	return err
}
