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

// CountryRepository stores country configurations keyed by dialing code.
type CountryRepository struct {
	coll *mongo.Collection
}

var _ domain.CountryRepository = (*CountryRepository)(nil)

// NewCountryRepository creates a country repository
func NewCountryRepository(db *mongo.Database) *CountryRepository {
	return &CountryRepository{coll: db.Collection("countries")}
}

// GetByCode retrieves a country by dialing code.
func (r *CountryRepository) GetByCode(ctx context.Context, countryCode string) (*domain.Country, error) {
	var country domain.Country
	err := r.coll.FindOne(ctx, bson.M{"country_code": countryCode}).Decode(&country)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find country: %w", err)
	}
	return &country, nil
}

// List returns all configured countries sorted by dialing code.
func (r *CountryRepository) List(ctx context.Context) ([]domain.Country, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "country_code", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Country
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode countries: %w", err)
	}
	return out, nil
}

// Upsert creates or updates a country configuration.
func (r *CountryRepository) Upsert(ctx context.Context, c *domain.Country) error {
	set := bson.M{
		"capacity":   c.Capacity,
		"price":      c.Price,
		"claim_time": c.ClaimTime,
	}
	if c.Name != "" {
		set["name"] = c.Name
	}
	if c.Flag != "" {
		set["flag"] = c.Flag
	}

	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"country_code": c.CountryCode},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert country: %w", err)
	}
	return nil
}

// Delete removes a country configuration.
func (r *CountryRepository) Delete(ctx context.Context, countryCode string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"country_code": countryCode})
	if err != nil {
		return fmt.Errorf("delete country: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
