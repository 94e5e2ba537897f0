// Package store is the persistent store (C3): document collections for
// watched addresses, active transactions, archived transactions, webhook
// registrations, and the webhook delivery queue, backed by MongoDB.
//
// Every consumer depends on the operation surface spec.md §9 calls out as
// essential — primary-key upsert, conditional update, range/equality
// filter, unordered bulk insert, count — never on the driver's richer
// query language, so each caller's narrow local interface can be satisfied
// by the in-memory double (Memory) in tests.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

const (
	collAddresses           = "trackedAddresses"
	collActiveTransactions  = "activeTransactions"
	collArchivedTransactions = "archivedTransactions"
	collWebhooks            = "webhooks"
	collWebhookQueue        = "webhookQueue"
)

// Store is a pooled handle onto the service's MongoDB database. It is safe
// for concurrent use by every component.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	addresses  *mongo.Collection
	active     *mongo.Collection
	archived   *mongo.Collection
	webhooks   *mongo.Collection
	deliveries *mongo.Collection
}

// Connect dials MongoDB at uri and selects database dbName, verifying
// connectivity with a ping before returning. Connection failure is
// surfaced as errs.ErrStoreUnavailable, which the caller should treat as
// fatal for startup (spec.md §7).
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, errs.ErrStoreUnavailable
	}

	db := client.Database(dbName)
	s := &Store{
		client:     client,
		db:         db,
		addresses:  db.Collection(collAddresses),
		active:     db.Collection(collActiveTransactions),
		archived:   db.Collection(collArchivedTransactions),
		webhooks:   db.Collection(collWebhooks),
		deliveries: db.Collection(collWebhookQueue),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes creates every secondary index spec.md §6 requires. Index
// creation is idempotent, so this is safe to run on every startup.
func (s *Store) ensureIndexes(ctx context.Context) error {
	idx := func(coll *mongo.Collection, models []mongo.IndexModel) error {
		_, err := coll.Indexes().CreateMany(ctx, models)
		return err
	}

	asc := func(fields ...string) map[string]int32 {
		m := make(map[string]int32, len(fields))
		for _, f := range fields {
			m[f] = 1
		}
		return m
	}

	if err := idx(s.addresses, []mongo.IndexModel{
		{Keys: asc("active")},
		{Keys: asc("historical_fetched")},
		{Keys: asc("active", "historical_fetched")},
	}); err != nil {
		return err
	}

	if err := idx(s.active, []mongo.IndexModel{
		{Keys: asc("addresses")},
		{Keys: asc("status")},
		{Keys: asc("block_height")},
		{Keys: asc("status", "block_height")},
		{Keys: map[string]int32{"first_seen": -1}},
	}); err != nil {
		return err
	}

	if err := idx(s.archived, []mongo.IndexModel{
		{Keys: asc("addresses")},
		{Keys: map[string]int32{"archived_at": -1}},
		{Keys: asc("block_height")},
	}); err != nil {
		return err
	}

	return idx(s.deliveries, []mongo.IndexModel{
		{Keys: asc("webhook_id", "transaction_id", "status")},
		{Keys: asc("status", "next_retry")},
	})
}
