package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// CardRepository stores approved leader card names.
type CardRepository struct {
	coll *mongo.Collection
}

var _ domain.CardRepository = (*CardRepository)(nil)

// NewCardRepository creates a leader card repository
func NewCardRepository(db *mongo.Database) *CardRepository {
	return &CardRepository{coll: db.Collection("cards")}
}

// Add registers a leader card name.
func (r *CardRepository) Add(ctx context.Context, cardName string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"card_name": cardName},
		bson.M{"$set": bson.M{"card_name": cardName}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add card: %w", err)
	}
	return nil
}

// Exists reports whether a leader card name is registered.
func (r *CardRepository) Exists(ctx context.Context, cardName string) (bool, error) {
	err := r.coll.FindOne(ctx, bson.M{"card_name": cardName}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find card: %w", err)
	}
	return true, nil
}

// Delete removes a leader card name.
func (r *CardRepository) Delete(ctx context.Context, cardName string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"card_name": cardName})
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all registered leader cards.
func (r *CardRepository) List(ctx context.Context) ([]domain.LeaderCard, error) {
	cursor, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.LeaderCard
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	return out, nil
}
