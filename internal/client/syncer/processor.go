package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetention    = 7 * 24 * time.Hour
	DefaultApplyTimeout = 15 * time.Second
)

// Queue is the part of the outbox the processor works with.
type Queue interface {
	Pending(ctx context.Context) ([]models.SyncQueueItem, error)
	Save(ctx context.Context, item models.SyncQueueItem) error
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Reconciler applies one mutation to the remote store. It must be
// idempotent per item id.
type Reconciler interface {
	Apply(ctx context.Context, m models.Mutation) error
}

// ItemHook observes item outcomes. Hooks run on the processor goroutine.
type ItemHook func(ctx context.Context, item models.SyncQueueItem)

type Options struct {
	Interval     time.Duration
	MaxRetries   int
	Retention    time.Duration
	ApplyTimeout time.Duration

	// Online, when set, is consulted before each pass; passes are skipped
	// while it reports false so offline periods do not burn retries.
	Online func() bool

	// OnSynced is called after an item has been persisted as synced.
	OnSynced ItemHook
	// OnExhausted is called after an item has been persisted as failed.
	OnExhausted ItemHook

	Clock  clockwork.Clock
	Logger logging.Logger
}

// Result summarizes one pass.
type Result struct {
	Pruned    int
	Attempted int
	Synced    int
	Failed    int
	Exhausted int
	Deferred  int
	Skipped   bool
}

type Processor struct {
	queue  Queue
	remote Reconciler
	opts   Options
	clock  clockwork.Clock
	log    logging.Logger

	passMu  sync.Mutex
	trigger chan struct{}
}

func New(queue Queue, remote Reconciler, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = DefaultApplyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Processor{
		queue:   queue,
		remote:  remote,
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger.With("module", "syncer"),
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks the running loop for a pass as soon as possible. Triggers
// arriving while one is already waiting are coalesced.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run is the consumer loop. It returns nil when ctx is cancelled.
// restored may be nil when no connectivity notifier is wired.
func (p *Processor) Run(ctx context.Context, restored <-chan struct{}) error {
	ticker := p.clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.log.Info(ctx, "sync processor started", "interval", p.opts.Interval.String(), "max_retries", p.opts.MaxRetries)

	for {
		var reason string
		select {
		case <-ctx.Done():
			p.log.Info(ctx, "sync processor stopped")
			return nil
		case <-ticker.Chan():
			reason = "interval"
		case <-restored:
			reason = "connectivity_restored"
		case <-p.trigger:
			reason = "manual"
		}

		res, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error(ctx, "sync pass failed", "reason", reason, "error", err)
			continue
		}
		if res.Skipped {
			p.log.Debug(ctx, "sync pass skipped while offline", "reason", reason)
			continue
		}
		if res.Attempted > 0 || res.Pruned > 0 {
			p.log.Info(ctx, "sync pass finished",
				"reason", reason,
				"attempted", res.Attempted,
				"synced", res.Synced,
				"failed", res.Failed,
				"exhausted", res.Exhausted,
				"deferred", res.Deferred,
				"pruned", res.Pruned,
			)
		}
	}
}

// RunOnce performs a single pass. Item failures are recorded on the items;
// an error is returned only when the queue itself cannot be read or written,
// which aborts the pass.
func (p *Processor) RunOnce(ctx context.Context) (Result, error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	var res Result
	pruned, err := p.queue.Prune(ctx, p.opts.Retention)
	if err != nil {
		return res, fmt.Errorf("prune sync queue: %w", err)
	}
	res.Pruned = pruned

	if p.opts.Online != nil && !p.opts.Online() {
		res.Skipped = true
		return res, nil
	}

	pending, err := p.queue.Pending(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending items: %w", err)
	}

	blocked := make(map[string]bool)
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if blocked[item.Collection] {
			res.Deferred++
			continue
		}

		res.Attempted++
		applyErr := p.apply(ctx, item)
		if applyErr != nil && ctx.Err() != nil {
			// shutting down: the attempt does not count
			return res, ctx.Err()
		}

		if applyErr == nil {
			now := p.clock.Now()
			item.Status = models.StatusSynced
			item.SyncedAt = &now
			if err := p.queue.Save(ctx, item); err != nil {
				return res, fmt.Errorf("save synced item %s: %w", item.ID, err)
			}
			res.Synced++
			if p.opts.OnSynced != nil {
				p.opts.OnSynced(ctx, item)
			}
			continue
		}

		item.RetryCount++
		item.LastError = applyErr.Error()
		blocked[item.Collection] = true
		res.Failed++

		if item.RetryCount >= p.opts.MaxRetries {
			item.Status = models.StatusFailed
		}
		if err := p.queue.Save(ctx, item); err != nil {
			return res, fmt.Errorf("save failed item %s: %w", item.ID, err)
		}

		if item.Status == models.StatusFailed {
			res.Exhausted++
			p.log.Error(ctx, "sync item gave up",
				"item_id", item.ID,
				"collection", item.Collection,
				"operation", item.Operation,
				"retry_count", item.RetryCount,
				"error", fmt.Errorf("%w: %w", common.ErrRetryExhausted, applyErr),
			)
			if p.opts.OnExhausted != nil {
				p.opts.OnExhausted(ctx, item)
			}
			continue
		}

		p.log.Warn(ctx, "sync item failed, will retry",
			"item_id", item.ID,
			"collection", item.Collection,
			"retry_count", item.RetryCount,
			"error", applyErr,
		)
	}

	return res, nil
}

// apply bounds the reconciler call by the apply timeout even if the
// reconciler ignores its context; a timeout counts as a failure.
func (p *Processor) apply(ctx context.Context, item models.SyncQueueItem) error {
	actx, cancel := context.WithTimeout(ctx, p.opts.ApplyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.remote.Apply(actx, item.Mutation()) }()

	var err error
	select {
	case err = <-done:
	case <-actx.Done():
		err = actx.Err()
	}
	if err == nil {
		return nil
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: apply timed out after %s: %w", common.ErrNetwork, p.opts.ApplyTimeout, err)
	}
	return err
}
