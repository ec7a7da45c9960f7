package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// UserRepository stores users in the users collection.
type UserRepository struct {
	coll *mongo.Collection
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a user repository
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection("users")}
}

// Get retrieves a user by telegram id.
func (r *UserRepository) Get(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// Upsert sets the given fields, creating the user with defaults on
// first contact.
func (r *UserRepository) Upsert(ctx context.Context, userID int64, fields map[string]interface{}) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}

	setOnInsert := bson.M{
		"registered_at": time.Now().UTC(),
		"balance":       0.0,
		"sent_accounts": 0,
	}
	// Avoid update conflicts when the caller sets a default field.
	for k := range set {
		delete(setOnInsert, k)
	}

	update := bson.M{"$set": set}
	if len(setOnInsert) > 0 {
		update["$setOnInsert"] = setOnInsert
	}

	_, err := r.coll.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AddBalance atomically increments the balance and returns the new value.
func (r *UserRepository) AddBalance(ctx context.Context, userID int64, amount float64) (float64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"balance": 1})

	var result struct {
		Balance float64 `bson:"balance"`
	}
	err := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"user_id": userID},
		bson.M{"$inc": bson.M{"balance": amount}},
		opts,
	).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	return result.Balance, nil
}

// IncrementSentAccounts bumps the successful verification counter.
func (r *UserRepository) IncrementSentAccounts(ctx context.Context, userID int64) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{"$inc": bson.M{"sent_accounts": 1}},
	)
	if err != nil {
		return fmt.Errorf("update sent accounts: %w", err)
	}
	return nil
}

// Delete removes the user document.
func (r *UserRepository) Delete(ctx context.Context, userID int64) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
