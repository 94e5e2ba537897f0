package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
)

// InsertArchivedTransaction inserts a backfill-originated archived record,
// skipping silently on a duplicate key (spec.md §4.6 step 4).
func (s *Store) InsertArchivedTransaction(ctx context.Context, tx *model.ArchivedTransaction) error {
	_, err := s.archived.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// GetArchivedTransaction fetches a single archived transaction by id.
func (s *Store) GetArchivedTransaction(ctx context.Context, txid string) (*model.ArchivedTransaction, error) {
	var out model.ArchivedTransaction
	err := s.archived.FindOne(ctx, bson.M{"_id": txid}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return &out, nil
}

// RecentArchivedTransactionsForAddress mirrors
// RecentActiveTransactionsForAddress for the archived collection.
func (s *Store) RecentArchivedTransactionsForAddress(ctx context.Context, addr string, limit int64) ([]model.ArchivedTransaction, error) {
	cur, err := s.archived.Find(ctx,
		bson.M{"addresses": addr},
		options.Find().SetSort(map[string]int32{"archived_at": -1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.ArchivedTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// CountArchived returns the total number of archived transactions, for
// the /stats endpoint.
func (s *Store) CountArchived(ctx context.Context) (int64, error) {
	n, err := s.archived.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errs.ErrStoreUnavailable
	}
	return n, nil
}
