// Package outbox implements the persisted queue of mutations waiting to be
// applied to the remote store.
//
// The whole queue is one JSON document in a kv.Store. Every change is a
// read-modify-persist under the outbox lock, and each item transition is
// persisted on its own so progress survives a crash mid-pass.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
)

const DefaultKey = "foodai.sync_queue"

type Options struct {
	// Key is the kv key the queue is persisted under.
	Key string
	// MaxItems bounds the number of pending items; 0 means unbounded.
	MaxItems int
	Clock    clockwork.Clock
	Logger   logging.Logger
}

type Outbox struct {
	mu       sync.Mutex
	kv       kv.Store
	key      string
	maxItems int
	clock    clockwork.Clock
	log      logging.Logger
}

func New(store kv.Store, opts Options) *Outbox {
	o := &Outbox{
		kv:       store,
		key:      opts.Key,
		maxItems: opts.MaxItems,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if o.key == "" {
		o.key = DefaultKey
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	o.log = o.log.With("module", "outbox")
	return o
}

// Enqueue appends a pending mutation. It never touches the network.
func (o *Outbox) Enqueue(ctx context.Context, collection string, op models.Operation, payload map[string]any) (models.SyncQueueItem, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return models.SyncQueueItem{}, common.NewValidationError("collection", "is required")
	}
	if !op.Valid() {
		return models.SyncQueueItem{}, common.NewValidationError("operation", fmt.Sprintf("%q is not one of add, update, delete", op))
	}
	if len(payload) == 0 {
		return models.SyncQueueItem{}, common.NewValidationError("payload", "must not be empty")
	}

	item := models.SyncQueueItem{
		ID:         uuid.NewString(),
		Collection: collection,
		Operation:  op,
		Payload:    maps.Clone(payload),
		EnqueuedAt: o.clock.Now(),
		Status:     models.StatusPending,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	items, err := o.load(ctx)
	if err != nil {
		return models.SyncQueueItem{}, err
	}

	if o.maxItems > 0 && countStatus(items, models.StatusPending) >= o.maxItems {
		return models.SyncQueueItem{}, fmt.Errorf("enqueue %s/%s: %w (max %d pending)", collection, op, common.ErrQueueFull, o.maxItems)
	}

	items = append(items, item)
	if err := o.persist(ctx, items); err != nil {
		return models.SyncQueueItem{}, err
	}

	o.log.Debug(ctx, "mutation enqueued", "item_id", item.ID, "collection", collection, "operation", op)
	return item.Clone(), nil
}

// List returns every item in enqueue order.
func (o *Outbox) List(ctx context.Context) ([]models.SyncQueueItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx)
}

// Pending returns the pending items in enqueue order.
func (o *Outbox) Pending(ctx context.Context) ([]models.SyncQueueItem, error) {
	items, err := o.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := items[:0]
	for _, it := range items {
		if it.Status == models.StatusPending {
			pending = append(pending, it)
		}
	}
	return pending, nil
}

func (o *Outbox) Get(ctx context.Context, id string) (models.SyncQueueItem, error) {
	items, err := o.List(ctx)
	if err != nil {
		return models.SyncQueueItem{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return models.SyncQueueItem{}, fmt.Errorf("queue item %s: %w", id, common.ErrNotFound)
}

// Save persists a new state of an existing item. Items in a terminal status
// cannot change any more.
func (o *Outbox) Save(ctx context.Context, item models.SyncQueueItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	items, err := o.load(ctx)
	if err != nil {
		return err
	}

	i := indexOf(items, item.ID)
	if i < 0 {
		return fmt.Errorf("queue item %s: %w", item.ID, common.ErrNotFound)
	}

	if cur := items[i].Status; cur.Terminal() {
		return fmt.Errorf("queue item %s %s -> %s: %w", item.ID, cur, item.Status, common.ErrInvalidTransition)
	}
	if item.Status != models.StatusPending && !item.Status.Terminal() {
		return fmt.Errorf("queue item %s unknown status %q: %w", item.ID, item.Status, common.ErrInvalidTransition)
	}

	items[i] = item.Clone()
	return o.persist(ctx, items)
}

// Prune removes synced items whose syncedAt is older than retention and
// returns how many were removed.
func (o *Outbox) Prune(ctx context.Context, retention time.Duration) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	items, err := o.load(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := o.clock.Now().Add(-retention)
	kept := make([]models.SyncQueueItem, 0, len(items))
	for _, it := range items {
		if it.Status == models.StatusSynced && it.SyncedAt != nil && it.SyncedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, it)
	}

	pruned := len(items) - len(kept)
	if pruned == 0 {
		return 0, nil
	}
	if err := o.persist(ctx, kept); err != nil {
		return 0, err
	}
	return pruned, nil
}

// RetryFailed gives failed items another round. Each failed item is
// replaced, at its position in the queue, by a new pending item carrying the
// same mutation and linked back through RetryOf; the failed item itself is
// never moved back to pending.
func (o *Outbox) RetryFailed(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	items, err := o.load(ctx)
	if err != nil {
		return 0, err
	}

	now := o.clock.Now()
	retried := 0
	for i, it := range items {
		if it.Status != models.StatusFailed {
			continue
		}
		items[i] = models.SyncQueueItem{
			ID:         uuid.NewString(),
			Collection: it.Collection,
			Operation:  it.Operation,
			Payload:    it.Payload,
			EnqueuedAt: now,
			Status:     models.StatusPending,
			RetryOf:    it.ID,
		}
		retried++
	}
	if retried == 0 {
		return 0, nil
	}

	if err := o.persist(ctx, items); err != nil {
		return 0, err
	}
	o.log.Info(ctx, "failed items re-queued", "count", retried)
	return retried, nil
}

func (o *Outbox) Stats(ctx context.Context) (models.QueueStats, error) {
	items, err := o.List(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}
	return models.QueueStats{
		Pending: countStatus(items, models.StatusPending),
		Synced:  countStatus(items, models.StatusSynced),
		Failed:  countStatus(items, models.StatusFailed),
	}, nil
}

func (o *Outbox) load(ctx context.Context) ([]models.SyncQueueItem, error) {
	data, err := o.kv.Get(ctx, o.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []models.SyncQueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, common.StorageError("decode sync queue", err)
	}
	return items, nil
}

func (o *Outbox) persist(ctx context.Context, items []models.SyncQueueItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return common.StorageError("encode sync queue", err)
	}
	return o.kv.Set(ctx, o.key, data)
}

func indexOf(items []models.SyncQueueItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func countStatus(items []models.SyncQueueItem, s models.SyncStatus) int {
	n := 0
	for _, it := range items {
		if it.Status == s {
			n++
		}
	}
	return n
}
