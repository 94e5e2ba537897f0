package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
)

var nonTerminalStatuses = []model.DeliveryStatus{model.DeliveryPending, model.DeliveryRetry}

// InsertDelivery enqueues a new delivery and cancels any non-terminal
// delivery superseded by it (spec.md §4.9 coalescing).
func (s *Store) InsertDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if d.TransactionID != nil {
		if err := s.CancelSuperseded(ctx, d.WebhookID, *d.TransactionID, d.ID); err != nil {
			return err
		}
	}
	if _, err := s.deliveries.InsertOne(ctx, d); err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// CancelSuperseded cancels every non-terminal delivery for (webhookID,
// txid) other than keepID, setting cancel_reason="superseded".
func (s *Store) CancelSuperseded(ctx context.Context, webhookID, txid, keepID string) error {
	_, err := s.deliveries.UpdateMany(ctx,
		bson.M{
			"webhook_id":     webhookID,
			"transaction_id": txid,
			"status":         bson.M{"$in": nonTerminalStatuses},
			"_id":            bson.M{"$ne": keepID},
		},
		bson.M{"$set": bson.M{
			"status":        model.DeliveryCancelled,
			"cancel_reason": "superseded",
			"cancelled_at":  time.Now(),
		}},
	)
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// ClaimDeliveries atomically claims up to limit pending/retry deliveries
// whose next_retry has elapsed, marking them processing, and returns the
// claimed documents. Each claim is a single conditional UpdateOne so concurrent
// dispatcher instances never double-claim the same row.
func (s *Store) ClaimDeliveries(ctx context.Context, limit int64, now time.Time) ([]model.WebhookDelivery, error) {
	cur, err := s.deliveries.Find(ctx,
		bson.M{
			"status":     bson.M{"$in": nonTerminalStatuses},
			"next_retry": bson.M{"$lte": now},
		},
		options.Find().SetSort(bson.M{"next_retry": 1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var candidates []model.WebhookDelivery
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, errs.ErrStoreUnavailable
	}

	var claimed []model.WebhookDelivery
	for _, d := range candidates {
		res, err := s.deliveries.UpdateOne(ctx,
			bson.M{"_id": d.ID, "status": bson.M{"$in": nonTerminalStatuses}},
			bson.M{"$set": bson.M{"status": model.DeliveryProcessing, "last_attempt": now}},
		)
		if err != nil {
			return claimed, errs.ErrStoreUnavailable
		}
		if res.ModifiedCount == 1 {
			d.Status = model.DeliveryProcessing
			d.LastAttempt = &now
			claimed = append(claimed, d)
		}
	}
	return claimed, nil
}

// CompleteDelivery records a successful HTTP outcome.
func (s *Store) CompleteDelivery(ctx context.Context, id string, statusCode int, body string, at time.Time) error {
	_, err := s.deliveries.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"status":          model.DeliveryCompleted,
		"completed_at":    at,
		"response_status": statusCode,
		"response_body":   body,
	}})
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// FailOrRetryDelivery records a failed attempt, moving the delivery to
// retry with the given next_retry, or to its terminal failed state when
// attempts has reached the configured maximum (spec.md §4.9).
func (s *Store) FailOrRetryDelivery(ctx context.Context, id string, attempts int, lastErr string, terminal bool, nextRetry time.Time, at time.Time) error {
	set := bson.M{
		"attempts":   attempts,
		"last_error": lastErr,
	}
	if terminal {
		set["status"] = model.DeliveryFailed
		set["failed_at"] = at
	} else {
		set["status"] = model.DeliveryRetry
		set["next_retry"] = nextRetry
	}
	_, err := s.deliveries.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// CancelDeliveriesForWebhook cancels every non-terminal delivery belonging
// to a webhook being deleted (spec.md §6 DELETE /webhooks/:id).
func (s *Store) CancelDeliveriesForWebhook(ctx context.Context, webhookID string) error {
	_, err := s.deliveries.UpdateMany(ctx,
		bson.M{"webhook_id": webhookID, "status": bson.M{"$in": nonTerminalStatuses}},
		bson.M{"$set": bson.M{
			"status":        model.DeliveryCancelled,
			"cancel_reason": "webhook_deleted",
			"cancelled_at":  time.Now(),
		}},
	)
	if err != nil {
		return errs.ErrStoreUnavailable
	}
	return nil
}

// RecentDeliveriesForWebhook returns up to limit deliveries for a webhook,
// newest first, for the webhook-detail endpoint.
func (s *Store) RecentDeliveriesForWebhook(ctx context.Context, webhookID string, limit int64) ([]model.WebhookDelivery, error) {
	cur, err := s.deliveries.Find(ctx,
		bson.M{"webhook_id": webhookID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	defer cur.Close(ctx)

	var out []model.WebhookDelivery
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrStoreUnavailable
	}
	return out, nil
}

// CleanupTerminalDeliveries deletes completed/failed/cancelled deliveries
// whose terminal timestamp is older than olderThan (spec.md §4.9 cleanup).
func (s *Store) CleanupTerminalDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.deliveries.DeleteMany(ctx, bson.M{
		"$or": []bson.M{
			{"status": model.DeliveryCompleted, "completed_at": bson.M{"$lt": olderThan}},
			{"status": model.DeliveryFailed, "failed_at": bson.M{"$lt": olderThan}},
			{"status": model.DeliveryCancelled, "cancelled_at": bson.M{"$lt": olderThan}},
		},
	})
	if err != nil {
		return 0, errs.ErrStoreUnavailable
	}
	return res.DeletedCount, nil
}
