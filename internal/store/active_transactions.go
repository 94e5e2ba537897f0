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

// UpsertActiveTransaction inserts a new pending ActiveTransaction, or, if
// txid already exists, unions tx.Addresses into the existing record
// without touching first_seen or block fields (spec.md §4.3 step 5).
func (s *Store) UpsertActiveTransaction(ctx context.Context, tx *model.ActiveTransaction) error {
	_, err := s.active.UpdateByID(ctx, tx.TxID,
		bson.M{
			"$setOnInsert": bson.M{
				"first_seen":    tx.FirstSeen,
				"status":        tx.Status,
				"confirmations": tx.Confirmations,
				"is_historical": tx.IsHistorical,
			},
			"$addToSet": bson.M{"addresses": bson.M{"$each": tx.Addresses}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// InsertActiveTransaction inserts a backfill-originated record, skipping
// silently if the id already exists (spec.md §4.6 step 4).
func (s *Store) InsertActiveTransaction(ctx context.Context, tx *model.ActiveTransaction) error {
	_, err := s.active.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// GetActiveTransaction fetches a single active transaction by id.
func (s *Store) GetActiveTransaction(ctx context.Context, txid string) (*model.ActiveTransaction, error) {
	var out model.ActiveTransaction
	err := s.active.FindOne(ctx, bson.M{"_id": txid}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return &out, nil
}

// ExistsActiveOrArchived reports whether txid already exists in either the
// active or archived collection, used by backfill's dedup check.
func (s *Store) ExistsActiveOrArchived(ctx context.Context, txid string) (bool, error) {
	if err := s.active.FindOne(ctx, bson.M{"_id": txid}).Err(); err == nil {
		return true, nil
	} else if err != mongo.ErrNoDocuments {
		return false, errs.ErrStoreUnavailable
	}
	if err := s.archived.FindOne(ctx, bson.M{"_id": txid}).Err(); err == nil {
		return true, nil
	} else if err != mongo.ErrNoDocuments {
		return false, errs.ErrStoreUnavailable
	}
	return false, nil
}

// ActiveTransactionsByStatus returns up to limit active transactions whose
// status is one of statuses, oldest first_seen first.
func (s *Store) ActiveTransactionsByStatus(ctx context.Context, statuses []model.TxStatus, limit int64) ([]model.ActiveTransaction, error) {
	cur, err := s.active.Find(ctx,
		bson.M{"status": bson.M{"$in": statuses}},
		options.Find().SetSort(bson.M{"first_seen": 1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.ActiveTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// ListActiveTransactions returns a paginated view, optionally filtered by
// status, for the REST surface (spec.md §6).
func (s *Store) ListActiveTransactions(ctx context.Context, status string, limit, offset int64) ([]model.ActiveTransaction, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(map[string]int32{"first_seen": -1}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.active.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.ActiveTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// RecentActiveTransactionsForAddress returns up to limit active
// transactions touching addr, newest first, for the address-detail
// endpoint.
func (s *Store) RecentActiveTransactionsForAddress(ctx context.Context, addr string, limit int64) ([]model.ActiveTransaction, error) {
	cur, err := s.active.Find(ctx,
		bson.M{"addresses": addr},
		options.Find().SetSort(map[string]int32{"first_seen": -1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.ActiveTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// VerificationUpdate is the atomic write C7 applies after re-verifying a
// transaction against the node (spec.md §4.7 step 3b).
type VerificationUpdate struct {
	BlockHash     *string
	BlockHeight   *int64
	BlockTime     *time.Time
	Confirmations int64
	Hex           *string
	Status        model.TxStatus
	LastVerified  time.Time
}

// ApplyVerification writes a VerificationUpdate to the given txid.
func (s *Store) ApplyVerification(ctx context.Context, txid string, u VerificationUpdate) error {
	_, err := s.active.UpdateByID(ctx, txid, bson.M{"$set": bson.M{
		"block_hash":    u.BlockHash,
		"block_height":  u.BlockHeight,
		"block_time":    u.BlockTime,
		"confirmations": u.Confirmations,
		"hex":           u.Hex,
		"status":        u.Status,
		"last_verified": u.LastVerified,
	}})
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// ArchiveTransaction deletes txid from active and inserts its mirror into
// archived, as one logical step (spec.md §4.7 transition confirming →
// archived). Individual writes are idempotent and safe to retry: deleting
// an already-gone active record is a no-op, and a duplicate-key error from
// re-inserting an existing archived record is swallowed here.
func (s *Store) ArchiveTransaction(ctx context.Context, archived *model.ArchivedTransaction) error {
	_, err := s.archived.InsertOne(ctx, archived)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errs.ErrStoreUnavailable
	}
	if _, err := s.active.DeleteOne(ctx, bson.M{"_id": archived.TxID}); err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// ConfirmingBelowTip returns confirming transactions whose block_height is
// at or below tipHeight-archiveThreshold+1, candidates for the archival
// sweep (spec.md §4.7 step 4).
func (s *Store) ConfirmingBelowTip(ctx context.Context, tipHeight, archiveThreshold int64) ([]model.ActiveTransaction, error) {
	cutoff := tipHeight - archiveThreshold + 1
	cur, err := s.active.Find(ctx, bson.M{
		"status":       model.StatusConfirming,
		"block_height": bson.M{"$lte": cutoff},
	})
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.ActiveTransaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// CountActive returns the number of active transactions, optionally
// filtered by status, for the /stats endpoint.
func (s *Store) CountActive(ctx context.Context, status string) (int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	n, err := s.active.CountDocuments(ctx, filter)
	if err != nil {
		return 0, errs.ErrStoreUnavailable
	}
	return n, nil
}
