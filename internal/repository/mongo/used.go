package mongo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// UsedNumberRepository is the claimed-number set. Numbers are stored
// hashed, never in the clear.
type UsedNumberRepository struct {
	coll *mongo.Collection
}

var _ domain.UsedNumberRepository = (*UsedNumberRepository)(nil)

// NewUsedNumberRepository creates a used-number repository
func NewUsedNumberRepository(db *mongo.Database) *UsedNumberRepository {
	return &UsedNumberRepository{coll: db.Collection("used_numbers")}
}

func hashNumber(phoneNumber string) string {
	sum := sha256.Sum256([]byte(phoneNumber))
	return hex.EncodeToString(sum[:])
}

// IsUsed reports whether the number was claimed. Lookup errors count as
// used so a transient outage cannot double-sell a number.
func (r *UsedNumberRepository) IsUsed(ctx context.Context, phoneNumber string) bool {
	err := r.coll.FindOne(ctx, bson.M{"number_hash": hashNumber(phoneNumber)}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false
	}
	return true
}

// Mark records a number as claimed by a user.
func (r *UsedNumberRepository) Mark(ctx context.Context, phoneNumber string, userID int64) error {
	_, err := r.coll.InsertOne(ctx, bson.M{
		"number_hash": hashNumber(phoneNumber),
		"user_id":     userID,
		"timestamp":   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("mark number used: %w", err)
	}
	return nil
}

// Unmark releases a number so it can be submitted again.
func (r *UsedNumberRepository) Unmark(ctx context.Context, phoneNumber string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"number_hash": hashNumber(phoneNumber)})
	if err != nil {
		return fmt.Errorf("unmark number: %w", err)
	}
	return nil
}
