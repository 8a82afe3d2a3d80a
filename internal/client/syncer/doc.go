// Package syncer drains the outbox through a remote reconciler.
//
// A Processor runs a single consumer goroutine (Run) that wakes up on a
// fixed-interval ticker, on connectivity-restored events and on manual
// triggers. Each wake-up performs one pass:
//
//  1. synced items older than the retention window are pruned;
//  2. pending items are applied in enqueue order, each call bounded by the
//     apply timeout;
//  3. every item transition is persisted before the next item is tried.
//
// A failed item increments its retry count and becomes failed once the
// count reaches the retry limit. After a failure, later items of the same
// collection are left for the next pass so the remote side always observes a
// collection's mutations in enqueue order. Passes never overlap: the loop is
// single-threaded and RunOnce is serialized as well.
package syncer
