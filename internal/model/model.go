// Package model defines the document shapes persisted by the store (C3)
// and shared across components, matching spec.md §3.
package model

import "time"

// TxStatus is the lifecycle state of an ActiveTransaction, spec.md §4.7.
type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusConfirming TxStatus = "confirming"
)

// WatchedAddress is a base58 address the system screens every broadcast
// transaction against.
type WatchedAddress struct {
	Address              string         `bson:"_id" json:"address"`
	Active               bool           `bson:"active" json:"active"`
	CreatedAt            time.Time      `bson:"created_at" json:"created_at"`
	LastActivity         *time.Time     `bson:"last_activity,omitempty" json:"last_activity,omitempty"`
	TransactionCount     int64          `bson:"transaction_count" json:"transaction_count"`
	HistoricalFetched    bool           `bson:"historical_fetched" json:"historical_fetched"`
	HistoricalFetchedAt  *time.Time     `bson:"historical_fetched_at,omitempty" json:"historical_fetched_at,omitempty"`
	Label                *string        `bson:"label,omitempty" json:"label,omitempty"`
	Metadata             map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// ActiveTransaction is a transaction still moving through the confirmation
// lifecycle, spec.md §3/§4.7.
type ActiveTransaction struct {
	TxID           string     `bson:"_id" json:"txid"`
	Addresses      []string   `bson:"addresses" json:"addresses"`
	BlockHeight    *int64     `bson:"block_height,omitempty" json:"block_height,omitempty"`
	BlockHash      *string    `bson:"block_hash,omitempty" json:"block_hash,omitempty"`
	BlockTime      *time.Time `bson:"block_time,omitempty" json:"block_time,omitempty"`
	Confirmations  int64      `bson:"confirmations" json:"confirmations"`
	FirstSeen      time.Time  `bson:"first_seen" json:"first_seen"`
	Status         TxStatus   `bson:"status" json:"status"`
	IsHistorical   bool       `bson:"is_historical" json:"is_historical"`
	LastVerified   *time.Time `bson:"last_verified,omitempty" json:"last_verified,omitempty"`
	Hex            *string    `bson:"hex,omitempty" json:"hex,omitempty"`
}

// ArchivedTransaction is the terminal mirror of an ActiveTransaction once it
// reaches ARCHIVE_THRESHOLD confirmations, spec.md §3.
type ArchivedTransaction struct {
	TxID               string    `bson:"_id" json:"txid"`
	Addresses          []string  `bson:"addresses" json:"addresses"`
	BlockHeight        int64     `bson:"block_height" json:"block_height"`
	BlockHash          string    `bson:"block_hash" json:"block_hash"`
	FinalConfirmations int64     `bson:"final_confirmations" json:"final_confirmations"`
	FirstSeen          time.Time `bson:"first_seen" json:"first_seen"`
	IsHistorical       bool      `bson:"is_historical" json:"is_historical"`
	ArchivedAt         time.Time `bson:"archived_at" json:"archived_at"`
	ArchiveHeight      int64     `bson:"archive_height" json:"archive_height"`
}

// Webhook is a registered subscriber to transaction lifecycle events,
// spec.md §3.
type Webhook struct {
	ID            string     `bson:"_id" json:"id"`
	URL           string     `bson:"url" json:"url"`
	Addresses     []string   `bson:"addresses" json:"addresses"`
	MonitorAll    bool       `bson:"monitor_all" json:"monitor_all"`
	Active        bool       `bson:"active" json:"active"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	TriggerCount  int64      `bson:"trigger_count" json:"trigger_count"`
	LastTriggered *time.Time `bson:"last_triggered,omitempty" json:"last_triggered,omitempty"`
}

// DeliveryStatus is the lifecycle state of a WebhookDelivery, spec.md §3.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryRetry      DeliveryStatus = "retry"
	DeliveryCompleted  DeliveryStatus = "completed"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

// TerminalStatuses are the delivery statuses that never transition again.
var TerminalStatuses = map[DeliveryStatus]bool{
	DeliveryCompleted: true,
	DeliveryFailed:    true,
	DeliveryCancelled: true,
}

// WebhookDelivery is a single queued or attempted delivery of a webhook
// event, spec.md §3/§4.9.
type WebhookDelivery struct {
	ID             string          `bson:"_id" json:"id"`
	WebhookID      string          `bson:"webhook_id" json:"webhook_id"`
	URL            string          `bson:"url" json:"url"`
	Payload        WebhookPayload  `bson:"payload" json:"payload"`
	TransactionID  *string         `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Status         DeliveryStatus  `bson:"status" json:"status"`
	Attempts       int             `bson:"attempts" json:"attempts"`
	NextRetry      time.Time       `bson:"next_retry" json:"next_retry"`
	LastError      *string         `bson:"last_error,omitempty" json:"last_error,omitempty"`
	LastAttempt    *time.Time      `bson:"last_attempt,omitempty" json:"last_attempt,omitempty"`
	ResponseStatus *int            `bson:"response_status,omitempty" json:"response_status,omitempty"`
	ResponseBody   *string         `bson:"response_body,omitempty" json:"response_body,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
	CompletedAt    *time.Time      `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	FailedAt       *time.Time      `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
	CancelledAt    *time.Time      `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CancelReason   *string         `bson:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`
}

// WebhookPayload is the JSON body POSTed to a webhook URL, spec.md §4.9.
type WebhookPayload struct {
	Timestamp   time.Time          `json:"timestamp" bson:"timestamp"`
	Transaction WebhookTransaction `json:"transaction" bson:"transaction"`
	Changes     map[string]any     `json:"changes" bson:"changes"`
}

// WebhookTransaction is the transaction summary embedded in WebhookPayload.
type WebhookTransaction struct {
	ID            string     `json:"_id" bson:"_id"`
	Addresses     []string   `json:"addresses" bson:"addresses"`
	Confirmations int64      `json:"confirmations" bson:"confirmations"`
	Status        string     `json:"status" bson:"status"`
	BlockHeight   *int64     `json:"block_height,omitempty" bson:"block_height,omitempty"`
	BlockHash     *string    `json:"block_hash,omitempty" bson:"block_hash,omitempty"`
	FirstSeen     time.Time  `json:"first_seen" bson:"first_seen"`
}

// BackoffSchedule is the fixed webhook retry backoff table, spec.md §4.9.
var BackoffSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	1 * time.Hour,
}

// NextBackoff returns the delay to apply after the given 1-indexed attempt
// count, clamping to the longest configured backoff step.
func NextBackoff(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(BackoffSchedule) {
		idx = len(BackoffSchedule) - 1
	}
	return BackoffSchedule[idx]
}
