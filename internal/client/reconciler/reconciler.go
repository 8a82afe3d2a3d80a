// Package reconciler contains the remote stores the sync processor can
// drain the outbox into.
//
// Every implementation must be idempotent per queue item: an item may be
// applied again after a crash between the remote call and the local status
// update.
package reconciler

import (
	"context"

	"github.com/shilei2024/foodai/internal/client/models"
)

// Reconciler applies one mutation to the remote system of record.
type Reconciler interface {
	Apply(ctx context.Context, m models.Mutation) error
}

// Func adapts a function to Reconciler.
type Func func(ctx context.Context, m models.Mutation) error

func (f Func) Apply(ctx context.Context, m models.Mutation) error { return f(ctx, m) }
