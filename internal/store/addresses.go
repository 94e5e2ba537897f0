package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
)

// UpsertAddress inserts addr if absent, otherwise leaves the existing
// record untouched. It reports whether a new record was inserted.
func (s *Store) UpsertAddress(ctx context.Context, addr *model.WatchedAddress) (inserted bool, err error) {
	res, err := s.addresses.UpdateByID(ctx, addr.Address,
		bson.M{"$setOnInsert": addr},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, errs.ErrStoreUnavailable
	}
	return res.UpsertedCount > 0, nil
}

// GetAddress fetches a single watched address by id.
func (s *Store) GetAddress(ctx context.Context, addr string) (*model.WatchedAddress, error) {
	var out model.WatchedAddress
	err := s.addresses.FindOne(ctx, bson.M{"_id": addr}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return &out, nil
}

// ListAddresses returns watched addresses, optionally filtered by active
// state, in insertion order, paginated by limit/offset.
func (s *Store) ListAddresses(ctx context.Context, activeOnly bool, limit, offset int64) ([]model.WatchedAddress, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.addresses.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.WatchedAddress
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// ActiveAddresses returns every address currently marked active, used by
// the membership set's startup load (C2).
func (s *Store) ActiveAddresses(ctx context.Context) ([]string, error) {
	cur, err := s.addresses.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc struct {
			Address string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.ErrStoreUnavailable
		}
		out = append(out, doc.Address)
	}
	return out, cur.Err()
}

// DeactivateAddress flips active to false and reports whether a record
// existed.
func (s *Store) DeactivateAddress(ctx context.Context, addr string) (bool, error) {
	res, err := s.addresses.UpdateByID(ctx, addr, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return false, errs.ErrStoreUnavailable
	}
	return res.MatchedCount > 0, nil
}

// MarkHistoricalFetched sets historical_fetched and its timestamp.
func (s *Store) MarkHistoricalFetched(ctx context.Context, addr string, at time.Time) error {
	_, err := s.addresses.UpdateByID(ctx, addr, bson.M{"$set": bson.M{
		"historical_fetched":    true,
		"historical_fetched_at": at,
	}})
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// BumpActivity increments transaction_count and sets last_activity on
// every listed address.
func (s *Store) BumpActivity(ctx context.Context, addrs []string, at time.Time) error {
	if len(addrs) == 0 {
		return nil
	}
	_, err := s.addresses.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": addrs}},
		bson.M{
			"$inc": bson.M{"transaction_count": 1},
			"$set": bson.M{"last_activity": at},
		},
	)
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// AddressesNeedingBackfill returns addresses where historical_fetched is
// not true, used by the startup backfill sweep (spec.md §4.6(c)).
func (s *Store) AddressesNeedingBackfill(ctx context.Context) ([]string, error) {
	cur, err := s.addresses.Find(ctx, bson.M{"historical_fetched": bson.M{"$ne": true}})
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc struct {
			Address string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.ErrStoreUnavailable
		}
		out = append(out, doc.Address)
	}
	return out, cur.Err()
}
