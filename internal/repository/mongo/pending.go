package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// PendingNumberRepository stores pending-number records, one live
// record per phone number.
type PendingNumberRepository struct {
	coll *mongo.Collection
}

var _ domain.PendingNumberRepository = (*PendingNumberRepository)(nil)

// NewPendingNumberRepository creates a pending-number repository
func NewPendingNumberRepository(db *mongo.Database) *PendingNumberRepository {
	return &PendingNumberRepository{coll: db.Collection("pending_numbers")}
}

// Upsert creates or overwrites the record keyed by phone number and
// returns its id.
func (r *PendingNumberRepository) Upsert(ctx context.Context, p *domain.PendingNumber) (string, error) {
	now := time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"user_id":                     p.UserID,
			"phone_number":                p.PhoneNumber,
			"price":                       p.Price,
			"claim_time":                  p.ClaimTime,
			"status":                      p.Status,
			"has_background_verification": p.HasBackgroundVerify,
			"last_updated":                now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"phone_number": p.PhoneNumber}, update, options.Update().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("upsert pending number: %w", err)
	}

	if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
		return id.Hex(), nil
	}

	// Existing record was overwritten; look up its id.
	var existing struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := r.coll.FindOne(ctx, bson.M{"phone_number": p.PhoneNumber}).Decode(&existing); err != nil {
		return "", fmt.Errorf("find pending number after upsert: %w", err)
	}
	return existing.ID.Hex(), nil
}

// UpdateStatus transitions a record to the given status.
func (r *PendingNumberRepository) UpdateStatus(ctx context.Context, id string, status domain.PendingStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid pending id: %w", err)
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"status":       status,
			"last_updated": time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("update pending status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkBackgroundStarted stamps the background verification start time.
func (r *PendingNumberRepository) MarkBackgroundStarted(ctx context.Context, phoneNumber string) error {
	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx, bson.M{"phone_number": phoneNumber}, bson.M{
		"$set": bson.M{
			"has_background_verification":     true,
			"background_verification_started": now,
			"last_updated":                    now,
		},
	})
	if err != nil {
		return fmt.Errorf("mark background started: %w", err)
	}
	return nil
}

// DeleteByUser removes all records for a user.
func (r *PendingNumberRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("delete pending numbers: %w", err)
	}
	return res.DeletedCount, nil
}

// ListStaleBackground returns live records whose background
// verification started longer ago than maxAge.
func (r *PendingNumberRepository) ListStaleBackground(ctx context.Context, maxAge time.Duration) ([]domain.PendingNumber, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	cursor, err := r.coll.Find(ctx, bson.M{
		"has_background_verification": true,
		"status": bson.M{"$in": []domain.PendingStatus{
			domain.PendingStatusPending,
			domain.PendingStatusWaiting,
		}},
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("list stale pending numbers: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.PendingNumber
	for cursor.Next(ctx) {
		var doc struct {
			domain.PendingNumber `bson:",inline"`
			ID                   primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode pending number: %w", err)
		}
		p := doc.PendingNumber
		p.ID = doc.ID.Hex()
		out = append(out, p)
	}
	return out, cursor.Err()
}

// AutoCancel transitions a record to auto_cancelled with a reason.
func (r *PendingNumberRepository) AutoCancel(ctx context.Context, id string, reason string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid pending id: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"status":             domain.PendingStatusAutoCancelled,
			"auto_cancel_reason": reason,
			"last_updated":       now,
		},
	})
	if err != nil {
		return fmt.Errorf("auto cancel pending number: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
