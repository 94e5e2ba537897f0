package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bsv-watch/address-tracker/internal/errs"
	"github.com/bsv-watch/address-tracker/internal/model"
)

// Memory is an in-process implementation of the same operation surface as
// Store, used as a test double by components that depend on the store
// (spec.md §9: "the store... can be replaced with in-memory doubles for
// test scenarios"). It is not used in production.
type Memory struct {
	mu sync.Mutex

	addresses  map[string]*model.WatchedAddress
	active     map[string]*model.ActiveTransaction
	archived   map[string]*model.ArchivedTransaction
	webhooks   map[string]*model.Webhook
	deliveries map[string]*model.WebhookDelivery
}

// NewMemory returns an empty in-memory store double.
func NewMemory() *Memory {
	return &Memory{
		addresses:  make(map[string]*model.WatchedAddress),
		active:     make(map[string]*model.ActiveTransaction),
		archived:   make(map[string]*model.ArchivedTransaction),
		webhooks:   make(map[string]*model.Webhook),
		deliveries: make(map[string]*model.WebhookDelivery),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func (m *Memory) UpsertAddress(_ context.Context, addr *model.WatchedAddress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.addresses[addr.Address]; ok {
		return false, nil
	}
	m.addresses[addr.Address] = clone(addr)
	return true, nil
}

func (m *Memory) GetAddress(_ context.Context, addr string) (*model.WatchedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[addr]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(a), nil
}

func (m *Memory) ActiveAddresses(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, a := range m.addresses {
		if a.Active {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeactivateAddress(_ context.Context, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[addr]
	if !ok {
		return false, nil
	}
	a.Active = false
	return true, nil
}

func (m *Memory) MarkHistoricalFetched(_ context.Context, addr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[addr]
	if !ok {
		return errs.ErrNotFound
	}
	a.HistoricalFetched = true
	a.HistoricalFetchedAt = &at
	return nil
}

func (m *Memory) BumpActivity(_ context.Context, addrs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, addr := range addrs {
		if a, ok := m.addresses[addr]; ok {
			a.TransactionCount++
			a.LastActivity = &at
		}
	}
	return nil
}

func (m *Memory) UpsertActiveTransaction(_ context.Context, tx *model.ActiveTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.active[tx.TxID]
	if !ok {
		m.active[tx.TxID] = clone(tx)
		return nil
	}
	seen := make(map[string]struct{}, len(existing.Addresses))
	for _, a := range existing.Addresses {
		seen[a] = struct{}{}
	}
	for _, a := range tx.Addresses {
		if _, dup := seen[a]; !dup {
			existing.Addresses = append(existing.Addresses, a)
			seen[a] = struct{}{}
		}
	}
	return nil
}

func (m *Memory) InsertActiveTransaction(_ context.Context, tx *model.ActiveTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[tx.TxID]; ok {
		return nil
	}
	m.active[tx.TxID] = clone(tx)
	return nil
}

func (m *Memory) GetActiveTransaction(_ context.Context, txid string) (*model.ActiveTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[txid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(tx), nil
}

func (m *Memory) ExistsActiveOrArchived(_ context.Context, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, inActive := m.active[txid]
	_, inArchived := m.archived[txid]
	return inActive || inArchived, nil
}

func (m *Memory) ActiveTransactionsByStatus(_ context.Context, statuses []model.TxStatus, limit int64) ([]model.ActiveTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[model.TxStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []model.ActiveTransaction
	for _, tx := range m.active {
		if want[tx.Status] {
			out = append(out, *clone(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ConfirmingBelowTip(_ context.Context, tipHeight, archiveThreshold int64) ([]model.ActiveTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := tipHeight - archiveThreshold + 1
	var out []model.ActiveTransaction
	for _, tx := range m.active {
		if tx.Status == model.StatusConfirming && tx.BlockHeight != nil && *tx.BlockHeight <= cutoff {
			out = append(out, *clone(tx))
		}
	}
	return out, nil
}

func (m *Memory) ApplyVerification(_ context.Context, txid string, u VerificationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[txid]
	if !ok {
		return errs.ErrNotFound
	}
	tx.BlockHash = u.BlockHash
	tx.BlockHeight = u.BlockHeight
	tx.BlockTime = u.BlockTime
	tx.Confirmations = u.Confirmations
	tx.Hex = u.Hex
	tx.Status = u.Status
	tx.LastVerified = &u.LastVerified
	return nil
}

func (m *Memory) ArchiveTransaction(_ context.Context, archived *model.ArchivedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archived[archived.TxID]; !ok {
		m.archived[archived.TxID] = clone(archived)
	}
	delete(m.active, archived.TxID)
	return nil
}

// InsertArchivedTransaction inserts a backfill-originated archived
// record, skipping silently if the id already exists.
func (m *Memory) InsertArchivedTransaction(_ context.Context, tx *model.ArchivedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archived[tx.TxID]; ok {
		return nil
	}
	m.archived[tx.TxID] = clone(tx)
	return nil
}

func (m *Memory) GetArchivedTransaction(_ context.Context, txid string) (*model.ArchivedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.archived[txid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(tx), nil
}

func (m *Memory) CountActive(_ context.Context, status string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == "" {
		return int64(len(m.active)), nil
	}
	var n int64
	for _, tx := range m.active {
		if string(tx.Status) == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountArchived(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.archived)), nil
}

func (m *Memory) BumpWebhookTrigger(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return errs.ErrNotFound
	}
	wh.TriggerCount++
	wh.LastTriggered = &at
	return nil
}

func (m *Memory) ListAddresses(_ context.Context, activeOnly bool, limit, offset int64) ([]model.WatchedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WatchedAddress
	var keys []string
	for k := range m.addresses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := m.addresses[k]
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *clone(a))
	}
	return paginate(out, limit, offset), nil
}

func (m *Memory) ListWebhooks(_ context.Context, activeOnly bool, limit, offset int64) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Webhook
	var keys []string
	for k := range m.webhooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		wh := m.webhooks[k]
		if activeOnly && !wh.Active {
			continue
		}
		out = append(out, *clone(wh))
	}
	return paginate(out, limit, offset), nil
}

func (m *Memory) AddressesNeedingBackfill(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, a := range m.addresses {
		if !a.HistoricalFetched {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) RecentActiveTransactionsForAddress(_ context.Context, addr string, limit int64) ([]model.ActiveTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ActiveTransaction
	for _, tx := range m.active {
		for _, a := range tx.Addresses {
			if a == addr {
				out = append(out, *clone(tx))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecentArchivedTransactionsForAddress(_ context.Context, addr string, limit int64) ([]model.ArchivedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ArchivedTransaction
	for _, tx := range m.archived {
		for _, a := range tx.Addresses {
			if a == addr {
				out = append(out, *clone(tx))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListActiveTransactions(_ context.Context, status string, limit, offset int64) ([]model.ActiveTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ActiveTransaction
	for _, tx := range m.active {
		if status != "" && string(tx.Status) != status {
			continue
		}
		out = append(out, *clone(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	return paginate(out, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int64) []T {
	if offset > 0 {
		if offset >= int64(len(items)) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

func (m *Memory) InsertWebhook(_ context.Context, wh *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[wh.ID] = clone(wh)
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, id string) (*model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(wh), nil
}

func (m *Memory) MatchingWebhooks(_ context.Context, addrs []string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	var out []model.Webhook
	for _, wh := range m.webhooks {
		if !wh.Active {
			continue
		}
		if wh.MonitorAll {
			out = append(out, *clone(wh))
			continue
		}
		for _, a := range wh.Addresses {
			if _, ok := set[a]; ok {
				out = append(out, *clone(wh))
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) UpdateWebhook(_ context.Context, id string, fields map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return false, nil
	}
	if v, ok := fields["url"]; ok {
		wh.URL = v.(string)
	}
	if v, ok := fields["active"]; ok {
		wh.Active = v.(bool)
	}
	if v, ok := fields["monitor_all"]; ok {
		wh.MonitorAll = v.(bool)
	}
	if v, ok := fields["addresses"]; ok {
		wh.Addresses = v.([]string)
	}
	return true, nil
}

func (m *Memory) DeleteWebhook(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return false, nil
	}
	delete(m.webhooks, id)
	return true, nil
}

func (m *Memory) InsertDelivery(_ context.Context, d *model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.TransactionID != nil {
		m.cancelSupersededLocked(d.WebhookID, *d.TransactionID, d.ID)
	}
	m.deliveries[d.ID] = clone(d)
	return nil
}

func (m *Memory) cancelSupersededLocked(webhookID, txid, keepID string) {
	for _, d := range m.deliveries {
		if d.ID == keepID || d.WebhookID != webhookID {
			continue
		}
		if d.TransactionID == nil || *d.TransactionID != txid {
			continue
		}
		if d.Status != model.DeliveryPending && d.Status != model.DeliveryRetry {
			continue
		}
		d.Status = model.DeliveryCancelled
		reason := "superseded"
		d.CancelReason = &reason
		now := time.Now()
		d.CancelledAt = &now
	}
}

func (m *Memory) CancelDeliveriesForWebhook(_ context.Context, webhookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.WebhookID != webhookID {
			continue
		}
		if d.Status != model.DeliveryPending && d.Status != model.DeliveryRetry {
			continue
		}
		d.Status = model.DeliveryCancelled
		reason := "webhook_deleted"
		d.CancelReason = &reason
		now := time.Now()
		d.CancelledAt = &now
	}
	return nil
}

func (m *Memory) ClaimDeliveries(_ context.Context, limit int64, now time.Time) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*model.WebhookDelivery
	for _, d := range m.deliveries {
		if d.Status != model.DeliveryPending && d.Status != model.DeliveryRetry {
			continue
		}
		if d.NextRetry.After(now) {
			continue
		}
		ready = append(ready, d)
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].NextRetry.Before(ready[j].NextRetry) })
	if limit > 0 && int64(len(ready)) > limit {
		ready = ready[:limit]
	}
	var out []model.WebhookDelivery
	for _, d := range ready {
		d.Status = model.DeliveryProcessing
		d.LastAttempt = &now
		out = append(out, *clone(d))
	}
	return out, nil
}

func (m *Memory) CompleteDelivery(_ context.Context, id string, statusCode int, body string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return errs.ErrNotFound
	}
	d.Status = model.DeliveryCompleted
	d.CompletedAt = &at
	d.ResponseStatus = &statusCode
	d.ResponseBody = &body
	return nil
}

func (m *Memory) FailOrRetryDelivery(_ context.Context, id string, attempts int, lastErr string, terminal bool, nextRetry, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return errs.ErrNotFound
	}
	d.Attempts = attempts
	d.LastError = &lastErr
	if terminal {
		d.Status = model.DeliveryFailed
		d.FailedAt = &at
	} else {
		d.Status = model.DeliveryRetry
		d.NextRetry = nextRetry
	}
	return nil
}

func (m *Memory) RecentDeliveriesForWebhook(_ context.Context, webhookID string, limit int64) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookDelivery
	for _, d := range m.deliveries {
		if d.WebhookID == webhookID {
			out = append(out, *clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CleanupTerminalDeliveries(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.deliveries {
		var ts *time.Time
		switch d.Status {
		case model.DeliveryCompleted:
			ts = d.CompletedAt
		case model.DeliveryFailed:
			ts = d.FailedAt
		case model.DeliveryCancelled:
			ts = d.CancelledAt
		default:
			continue
		}
		if ts != nil && ts.Before(olderThan) {
			delete(m.deliveries, id)
			n++
		}
	}
	return n, nil
}
