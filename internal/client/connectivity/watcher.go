// Package connectivity tracks whether the remote endpoint is reachable and
// announces when it becomes reachable again.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/logging"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Pinger probes the remote endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
	Logger   logging.Logger
}

// Watcher starts out offline; the first successful probe counts as a
// restore.
type Watcher struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	log      logging.Logger

	mu     sync.Mutex
	online bool
	subs   []chan struct{}
}

func New(p Pinger, opts Options) *Watcher {
	w := &Watcher{
		pinger:   p,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.timeout <= 0 {
		w.timeout = DefaultTimeout
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.log == nil {
		w.log = logging.Discard()
	}
	w.log = w.log.With("module", "connectivity")
	return w
}

// Subscribe returns a channel receiving one value per offline->online
// transition. Notifications are dropped for a subscriber that has not
// consumed the previous one.
func (w *Watcher) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Check probes once and returns the resulting state.
func (w *Watcher) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pinger.Ping(pctx)
	cancel()

	online := err == nil

	w.mu.Lock()
	was := w.online
	w.online = online
	var subs []chan struct{}
	if online && !was {
		subs = append(subs, w.subs...)
	}
	w.mu.Unlock()

	switch {
	case online && !was:
		w.log.Info(ctx, "switched to online mode")
		for _, ch := range subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case !online && was:
		w.log.Warn(ctx, "switched to offline mode", "error", err)
	}
	return online
}

// Run probes immediately and then every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.Check(ctx)
		}
	}
}
