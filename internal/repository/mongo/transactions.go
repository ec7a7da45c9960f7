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

// TransactionRepository is the append-only balance change log.
type TransactionRepository struct {
	coll *mongo.Collection
}

var _ domain.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates a transaction repository
func NewTransactionRepository(db *mongo.Database) *TransactionRepository {
	return &TransactionRepository{coll: db.Collection("transactions")}
}

// Log appends a transaction record and returns its id.
func (r *TransactionRepository) Log(ctx context.Context, t *domain.Transaction) (string, error) {
	doc := bson.M{
		"user_id":          t.UserID,
		"transaction_type": t.Type,
		"amount":           t.Amount,
		"description":      t.Description,
		"timestamp":        time.Now().UTC(),
		"status":           t.Status,
	}
	if t.PhoneNumber != "" {
		doc["phone_number"] = t.PhoneNumber
	}

	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
}

// ListByUser returns the user's most recent transactions, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Transaction
	for cursor.Next(ctx) {
		var doc struct {
			domain.Transaction `bson:",inline"`
			OID                primitive.ObjectID `bson:"_id,omitempty"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		t := doc.Transaction
		t.ID = doc.OID.Hex()
		out = append(out, t)
	}
	return out, cursor.Err()
}
