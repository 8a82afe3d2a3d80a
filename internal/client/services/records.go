// Package services contains the application services of the FoodAI agent.
// This file defines the record service: the write path that keeps the local
// record store and the sync outbox consistent, and the read path over local
// records and cached recognition results.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/provider"
	"github.com/shilei2024/foodai/internal/client/records"
	"github.com/shilei2024/foodai/internal/client/syncer"
	"github.com/shilei2024/foodai/internal/logging"
)

const DefaultCollection = "food_records"

// RecordStore is the part of records.Store the service uses.
type RecordStore interface {
	Add(ctx context.Context, fields map[string]any) (models.Record, error)
	Get(ctx context.Context, id string) (models.Record, error)
	Update(ctx context.Context, id string, fields map[string]any) (models.Record, error)
	List(ctx context.Context, opts records.ListOptions) (records.ListResult, error)
	DeleteWhere(ctx context.Context, m records.Matcher) (int, error)
	Clear(ctx context.Context) (int, error)
	MarkSyncedIf(ctx context.Context, id string, cond func(models.Record) bool) (bool, error)
	Snapshot(ctx context.Context) ([]models.Record, error)
	Replace(ctx context.Context, all []models.Record) error
	MaxRecords() int
}

// Outbox is the part of outbox.Outbox the service uses.
type Outbox interface {
	Enqueue(ctx context.Context, collection string, op models.Operation, payload map[string]any) (models.SyncQueueItem, error)
	Pending(ctx context.Context) ([]models.SyncQueueItem, error)
	RetryFailed(ctx context.Context) (int, error)
	Stats(ctx context.Context) (models.QueueStats, error)
}

// Syncer is the part of syncer.Processor the service uses.
type Syncer interface {
	Trigger()
	RunOnce(ctx context.Context) (syncer.Result, error)
}

// RecordService defines the operations exposed to the command loop.
//
// Contract:
//   - Add/Update/Delete change the local store and, when remote sync is
//     enabled, enqueue the matching mutation. A write never waits for the
//     network.
//   - Sync runs one processor pass in the caller's goroutine.
//   - Recognize asks the recognizer (usually cached) and stores the result
//     as a new record.
type RecordService interface {
	Add(ctx context.Context, fields map[string]any) (models.Record, error)
	Update(ctx context.Context, id string, fields map[string]any) (models.Record, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (models.Record, error)
	List(ctx context.Context, opts records.ListOptions) (records.ListResult, error)
	Clear(ctx context.Context) (int, error)
	Recognize(ctx context.Context, req provider.Request) (models.Record, error)
	Sync(ctx context.Context) (syncer.Result, error)
	RetryFailed(ctx context.Context) (int, error)
	Status(ctx context.Context) (Status, error)
	OnSynced(ctx context.Context, item models.SyncQueueItem)
}

// Status is a snapshot for the status command.
type Status struct {
	Records    int
	MaxRecords int
	Unsynced   int
	Queue      models.QueueStats
	SyncOn     bool
}

type RecordServiceOptions struct {
	// Collection names the remote collection mutations are queued for.
	Collection string

	// Outbox and Syncer are nil when remote sync is disabled.
	Outbox Outbox
	Syncer Syncer

	// Recognizer is nil when no recognition provider is configured.
	Recognizer provider.Recognizer

	Logger logging.Logger
}

// ErrRecognitionDisabled is returned by Recognize without a recognizer.
var ErrRecognitionDisabled = errors.New("recognition provider is not configured")

type recordService struct {
	// mu serializes local writes with their rollback so a restored snapshot
	// cannot undo another write.
	mu sync.Mutex

	store      RecordStore
	outbox     Outbox
	syncer     Syncer
	recognizer provider.Recognizer
	collection string
	log        logging.Logger
}

func NewRecordService(store RecordStore, opts RecordServiceOptions) RecordService {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &recordService{
		store:      store,
		outbox:     opts.Outbox,
		syncer:     opts.Syncer,
		recognizer: opts.Recognizer,
		collection: opts.Collection,
		log:        opts.Logger.With("module", "record_service"),
	}
}

func (s *recordService) syncEnabled() bool { return s.outbox != nil }

// Add stores the record and queues it. When queueing fails the whole
// previous collection is restored, including records the cap dropped, so
// the store never holds a record the outbox does not know.
func (s *recordService) Add(ctx context.Context, fields map[string]any) (models.Record, error) {
	if !s.syncEnabled() {
		rec, err := s.store.Add(ctx, fields)
		if err != nil {
			return models.Record{}, fmt.Errorf("add record: %w", err)
		}
		return rec, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.store.Snapshot(ctx)
	if err != nil {
		return models.Record{}, fmt.Errorf("add record: %w", err)
	}
	rec, err := s.store.Add(ctx, fields)
	if err != nil {
		return models.Record{}, fmt.Errorf("add record: %w", err)
	}

	if _, err := s.outbox.Enqueue(ctx, s.collection, models.OperationAdd, rec.Payload()); err != nil {
		s.restore(ctx, prev, rec.LocalID)
		return models.Record{}, fmt.Errorf("queue record: %w", err)
	}

	s.trigger()
	return rec, nil
}

// Update merges fields into the record and queues the new state. When
// queueing fails the previous record is restored as it was, synced flag
// and updatedAt included.
func (s *recordService) Update(ctx context.Context, id string, fields map[string]any) (models.Record, error) {
	if !s.syncEnabled() {
		rec, err := s.store.Update(ctx, id, fields)
		if err != nil {
			return models.Record{}, fmt.Errorf("update record: %w", err)
		}
		return rec, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.store.Snapshot(ctx)
	if err != nil {
		return models.Record{}, fmt.Errorf("update record: %w", err)
	}
	rec, err := s.store.Update(ctx, id, fields)
	if err != nil {
		return models.Record{}, fmt.Errorf("update record: %w", err)
	}

	if _, err := s.outbox.Enqueue(ctx, s.collection, models.OperationUpdate, rec.Payload()); err != nil {
		s.restore(ctx, prev, rec.LocalID)
		return models.Record{}, fmt.Errorf("queue record update: %w", err)
	}

	s.trigger()
	return rec, nil
}

func (s *recordService) restore(ctx context.Context, prev []models.Record, localID string) {
	if err := s.store.Replace(ctx, prev); err != nil {
		s.log.Error(ctx, "failed to roll back records after enqueue error", "local_id", localID, "error", err)
	}
}

// Delete queues the deletion first and then removes the record locally, so
// a local failure leaves a delete the remote side applies idempotently.
func (s *recordService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	if s.syncEnabled() {
		if _, err := s.outbox.Enqueue(ctx, s.collection, models.OperationDelete, rec.Payload()); err != nil {
			return fmt.Errorf("queue record delete: %w", err)
		}
	}

	if _, err := s.store.DeleteWhere(ctx, records.ByID(rec.LocalID)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	s.trigger()
	return nil
}

func (s *recordService) Get(ctx context.Context, id string) (models.Record, error) {
	return s.store.Get(ctx, id)
}

func (s *recordService) List(ctx context.Context, opts records.ListOptions) (records.ListResult, error) {
	return s.store.List(ctx, opts)
}

// Clear removes local records only; nothing is queued.
func (s *recordService) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear(ctx)
}

func (s *recordService) Recognize(ctx context.Context, req provider.Request) (models.Record, error) {
	if s.recognizer == nil {
		return models.Record{}, ErrRecognitionDisabled
	}

	res, err := s.recognizer.Recognize(ctx, req)
	if err != nil {
		return models.Record{}, err
	}

	fields := res.Fields()
	if req.Text != "" {
		fields["query"] = req.Text
	}
	fields["source"] = "recognition"
	return s.Add(ctx, fields)
}

func (s *recordService) Sync(ctx context.Context) (syncer.Result, error) {
	if s.syncer == nil {
		return syncer.Result{Skipped: true}, nil
	}
	return s.syncer.RunOnce(ctx)
}

func (s *recordService) RetryFailed(ctx context.Context) (int, error) {
	if !s.syncEnabled() {
		return 0, nil
	}
	n, err := s.outbox.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.trigger()
	}
	return n, nil
}

func (s *recordService) Status(ctx context.Context) (Status, error) {
	var st Status

	res, err := s.store.List(ctx, records.ListOptions{})
	if err != nil {
		return Status{}, err
	}
	st.Records = res.Total
	st.MaxRecords = s.store.MaxRecords()
	for _, r := range res.Items {
		if !r.Synced {
			st.Unsynced++
		}
	}

	if s.syncEnabled() {
		st.SyncOn = true
		if st.Queue, err = s.outbox.Stats(ctx); err != nil {
			return Status{}, err
		}
	}
	return st, nil
}

// OnSynced is the processor hook that flags a record synced once no
// mutation for it is pending anymore and the record still holds the state
// the item carried. A write racing the hook leaves the record unsynced.
func (s *recordService) OnSynced(ctx context.Context, item models.SyncQueueItem) {
	if item.Collection != s.collection || item.Operation == models.OperationDelete {
		return
	}
	m := item.Mutation()
	localID, _ := m.Payload[models.PayloadLocalID].(string)
	if localID == "" {
		return
	}

	pending, err := s.outbox.Pending(ctx)
	if err != nil {
		s.log.Warn(ctx, "cannot check pending mutations", "local_id", localID, "error", err)
		return
	}
	if slices.ContainsFunc(pending, func(p models.SyncQueueItem) bool {
		lid, _ := p.Payload[models.PayloadLocalID].(string)
		return p.Collection == s.collection && lid == localID
	}) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.MarkSyncedIf(ctx, localID, func(r models.Record) bool { return r.SameState(m.Payload) }); err != nil {
		s.log.Warn(ctx, "failed to mark record synced", "local_id", localID, "error", err)
	}
}

func (s *recordService) trigger() {
	if s.syncer != nil {
		s.syncer.Trigger()
	}
}
