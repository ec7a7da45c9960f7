package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// WithdrawalRepository stores the payout ledger.
type WithdrawalRepository struct {
	coll *mongo.Collection
}

var _ domain.WithdrawalRepository = (*WithdrawalRepository)(nil)

// NewWithdrawalRepository creates a withdrawal repository
func NewWithdrawalRepository(db *mongo.Database) *WithdrawalRepository {
	return &WithdrawalRepository{coll: db.Collection("withdrawals")}
}

type withdrawalDoc struct {
	domain.Withdrawal `bson:",inline"`
	OID               primitive.ObjectID `bson:"_id,omitempty"`
}

func (d withdrawalDoc) model() domain.Withdrawal {
	w := d.Withdrawal
	w.ID = d.OID.Hex()
	return w
}

// Create inserts a new payout request and returns its id.
func (r *WithdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) (string, error) {
	doc := bson.M{
		"user_id":         w.UserID,
		"amount":          w.Amount,
		"destination":     w.Destination,
		"withdrawal_type": w.Type,
		"status":          w.Status,
		"timestamp":       time.Now().UTC(),
	}
	switch w.Type {
	case domain.WithdrawalTypeLeaderCard:
		doc["card_name"] = w.Destination
	case domain.WithdrawalTypeBinance:
		doc["binance_id"] = w.Destination
	}

	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert withdrawal: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
}

// GetPendingByUser returns the user's pending withdrawal if one exists.
func (r *WithdrawalRepository) GetPendingByUser(ctx context.Context, userID int64) (*domain.Withdrawal, error) {
	var doc withdrawalDoc
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID, "status": domain.WithdrawalStatusPending}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pending withdrawal: %w", err)
	}
	w := doc.model()
	return &w, nil
}

// ListByUser returns the user's withdrawals, newest first.
func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Withdrawal, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeWithdrawals(ctx, cursor)
}

// ApproveByUser approves all pending withdrawals for a user.
func (r *WithdrawalRepository) ApproveByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.coll.UpdateMany(
		ctx,
		bson.M{"user_id": userID, "status": domain.WithdrawalStatusPending},
		bson.M{"$set": bson.M{"status": domain.WithdrawalStatusApproved}},
	)
	if err != nil {
		return 0, fmt.Errorf("approve withdrawals: %w", err)
	}
	return res.ModifiedCount, nil
}

// RejectByUser marks pending withdrawals rejected and returns them so
// the caller can deduct balances.
func (r *WithdrawalRepository) RejectByUser(ctx context.Context, userID int64, reason string) ([]domain.Withdrawal, error) {
	filter := bson.M{"user_id": userID, "status": domain.WithdrawalStatusPending}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find pending withdrawals: %w", err)
	}
	pending, err := decodeWithdrawals(ctx, cursor)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	_, err = r.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"status":           domain.WithdrawalStatusRejected,
		"rejection_reason": reason,
		"rejected_at":      time.Now().UTC(),
	}})
	if err != nil {
		return nil, fmt.Errorf("reject withdrawals: %w", err)
	}
	return pending, nil
}

// ListPendingByCard returns pending withdrawals targeting a leader card.
func (r *WithdrawalRepository) ListPendingByCard(ctx context.Context, cardName string) ([]domain.Withdrawal, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"card_name": cardName, "status": domain.WithdrawalStatusPending})
	if err != nil {
		return nil, fmt.Errorf("list card withdrawals: %w", err)
	}
	return decodeWithdrawals(ctx, cursor)
}

// ApproveByCard approves all pending withdrawals for a leader card.
func (r *WithdrawalRepository) ApproveByCard(ctx context.Context, cardName string) (int64, error) {
	res, err := r.coll.UpdateMany(
		ctx,
		bson.M{"card_name": cardName, "status": domain.WithdrawalStatusPending},
		bson.M{"$set": bson.M{"status": domain.WithdrawalStatusApproved}},
	)
	if err != nil {
		return 0, fmt.Errorf("approve card withdrawals: %w", err)
	}
	return res.ModifiedCount, nil
}

// StatsByCard aggregates ledger totals for a leader card.
func (r *WithdrawalRepository) StatsByCard(ctx context.Context, cardName string) (*domain.WithdrawalStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"card_name": cardName}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$amount"},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate card stats: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &domain.WithdrawalStats{}
	for cursor.Next(ctx) {
		var row struct {
			Status domain.WithdrawalStatus `bson:"_id"`
			Count  int                     `bson:"count"`
			Total  float64                 `bson:"total"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode card stats: %w", err)
		}
		switch row.Status {
		case domain.WithdrawalStatusPending:
			stats.PendingCount = row.Count
			stats.PendingBalance = row.Total
		case domain.WithdrawalStatusApproved:
			stats.ApprovedCount = row.Count
			stats.ApprovedBalance = row.Total
		}
	}
	return stats, cursor.Err()
}

func decodeWithdrawals(ctx context.Context, cursor *mongo.Cursor) ([]domain.Withdrawal, error) {
	defer cursor.Close(ctx)

	var out []domain.Withdrawal
	for cursor.Next(ctx) {
		var doc withdrawalDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode withdrawal: %w", err)
		}
		out = append(out, doc.model())
	}
	return out, cursor.Err()
}
