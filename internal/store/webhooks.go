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

// InsertWebhook creates a new webhook registration.
func (s *Store) InsertWebhook(ctx context.Context, wh *model.Webhook) error {
	if _, err := s.webhooks.InsertOne(ctx, wh); err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// GetWebhook fetches a single webhook by id.
func (s *Store) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	var out model.Webhook
	err := s.webhooks.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return &out, nil
}

// ListWebhooks returns a paginated view, optionally filtered by active
// state.
func (s *Store) ListWebhooks(ctx context.Context, activeOnly bool, limit, offset int64) ([]model.Webhook, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.webhooks.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.Webhook
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// MatchingWebhooks returns every active webhook that either monitors all
// transactions or whose addresses intersect addrs, for intake/tracker
// event dispatch (spec.md §4.3 step 7, §4.9).
func (s *Store) MatchingWebhooks(ctx context.Context, addrs []string) ([]model.Webhook, error) {
	cur, err := s.webhooks.Find(ctx, bson.M{
		"active": true,
		"$or": []bson.M{
			{"monitor_all": true},
			{"addresses": bson.M{"$in": addrs}},
		},
	})
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.Webhook
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// UpdateWebhook applies a partial update built from the given fields map,
// and reports whether a record existed.
func (s *Store) UpdateWebhook(ctx context.Context, id string, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		n, err := s.webhooks.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return false, errs.ErrStoreUnavailable
		}
		return n > 0, nil
	}
	res, err := s.webhooks.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return false, errs.ErrStoreUnavailable
	}
	return res.MatchedCount > 0, nil
}

// DeleteWebhook removes a webhook registration and reports whether it
// existed.
func (s *Store) DeleteWebhook(ctx context.Context, id string) (bool, error) {
	res, err := s.webhooks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, errs.ErrStoreUnavailable
	}
	return res.DeletedCount > 0, nil
}

// BumpWebhookTrigger increments trigger_count and sets last_triggered.
func (s *Store) BumpWebhookTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := s.webhooks.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"trigger_count": 1},
		"$set": bson.M{"last_triggered": at},
	})
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}
