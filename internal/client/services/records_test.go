package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/outbox"
	"github.com/shilei2024/foodai/internal/client/provider"
	"github.com/shilei2024/foodai/internal/client/records"
	"github.com/shilei2024/foodai/internal/client/syncer"
	"github.com/shilei2024/foodai/internal/common"
)

// ---- fakes ----

type fakeSyncer struct {
	triggers int
	runs     int
	result   syncer.Result
	err      error
}

func (f *fakeSyncer) Trigger() { f.triggers++ }

func (f *fakeSyncer) RunOnce(context.Context) (syncer.Result, error) {
	f.runs++
	return f.result, f.err
}

type fakeRecognizer struct {
	res provider.Result
	err error
}

func (f fakeRecognizer) Recognize(context.Context, provider.Request) (provider.Result, error) {
	return f.res, f.err
}

type fixture struct {
	svc     RecordService
	store   *records.Store
	outbox  *outbox.Outbox
	syncer  *fakeSyncer
	queueKV *kv.MemoryStore
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T, maxQueued int) *fixture {
	t.Helper()
	return newFixtureWithCap(t, maxQueued, 0)
}

func newFixtureWithCap(t *testing.T, maxQueued, maxRecords int) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	queueKV := kv.NewMemoryStore()

	f := &fixture{
		store:   records.New(kv.NewMemoryStore(), records.Options{RemoteSync: true, MaxRecords: maxRecords, Clock: clock}),
		outbox:  outbox.New(queueKV, outbox.Options{MaxItems: maxQueued, Clock: clock}),
		syncer:  &fakeSyncer{},
		queueKV: queueKV,
		clock:   clock,
	}
	f.svc = NewRecordService(f.store, RecordServiceOptions{
		Outbox:     f.outbox,
		Syncer:     f.syncer,
		Recognizer: fakeRecognizer{res: provider.Result{Name: "apple", Calories: 52}},
	})
	return f
}

func (f *fixture) queued(t *testing.T) []models.SyncQueueItem {
	t.Helper()
	items, err := f.outbox.List(context.Background())
	require.NoError(t, err)
	return items
}

// ---- tests ----

func TestRecordService_AddQueuesMutation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	assert.False(t, rec.Synced)

	items := f.queued(t)
	require.Len(t, items, 1)
	assert.Equal(t, DefaultCollection, items[0].Collection)
	assert.Equal(t, models.OperationAdd, items[0].Operation)
	assert.Equal(t, rec.ID, items[0].Payload[models.PayloadRecordID])
	assert.Equal(t, rec.LocalID, items[0].Payload[models.PayloadLocalID])
	assert.Equal(t, 1, f.syncer.triggers)
}

func TestRecordService_AddRollsBackWhenQueueFull(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)

	_, err = f.svc.Add(ctx, map[string]any{"name": "banana"})
	require.ErrorIs(t, err, common.ErrQueueFull)

	n, err := f.store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the record without a queued mutation is removed")
}

func TestRecordService_AddRollbackRestoresCappedRecords(t *testing.T) {
	f := newFixtureWithCap(t, 2, 2)
	ctx := context.Background()

	for _, name := range []string{"apple", "banana"} {
		_, err := f.svc.Add(ctx, map[string]any{"name": name})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	_, err := f.svc.Add(ctx, map[string]any{"name": "cherry"})
	require.ErrorIs(t, err, common.ErrQueueFull)

	res, err := f.store.List(ctx, records.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "banana", res.Items[0].Fields["name"])
	assert.Equal(t, "apple", res.Items[1].Fields["name"], "the record dropped by the cap is back")
	assert.Len(t, f.queued(t), 2)
}

func TestRecordService_AddValidation(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.Add(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, f.queued(t))
}

func TestRecordService_SyncDisabled(t *testing.T) {
	store := records.New(kv.NewMemoryStore(), records.Options{})
	svc := NewRecordService(store, RecordServiceOptions{})
	ctx := context.Background()

	rec, err := svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	assert.True(t, rec.Synced)

	res, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	n, err := svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.SyncOn)
	assert.Equal(t, 1, st.Records)
	assert.Zero(t, st.Unsynced)

	require.NoError(t, svc.Delete(ctx, rec.LocalID))
	n, err = store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordService_UpdateQueuesNewState(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple", "grams": 100})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	upd, err := f.svc.Update(ctx, rec.ID, map[string]any{"grams": 150})
	require.NoError(t, err)
	assert.EqualValues(t, 150, upd.Fields["grams"])

	items := f.queued(t)
	require.Len(t, items, 2)
	assert.Equal(t, models.OperationUpdate, items[1].Operation)
	fields, ok := items[1].Payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 150, fields["grams"])
	assert.Equal(t, "apple", fields["name"])
}

func TestRecordService_UpdateRollsBackWhenQueueFull(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, rec.LocalID, map[string]any{"name": "pear", "grams": 10})
	require.ErrorIs(t, err, common.ErrQueueFull)

	got, err := f.store.Get(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "apple"}, got.Fields)
	assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
	assert.False(t, got.Synced)
}

func TestRecordService_UpdateRollbackKeepsSyncedRecord(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	items := f.queued(t)
	markSynced(t, f, items[0])
	f.svc.OnSynced(ctx, items[0])

	before, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, before.Synced)

	f.clock.Advance(time.Minute)
	f.queueKV.FailWrites(errors.New("disk full"))
	_, err = f.svc.Update(ctx, rec.ID, map[string]any{"grams": 10})
	require.ErrorIs(t, err, common.ErrStorage)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before, got)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Unsynced)
}

func TestRecordService_UpdateUnknown(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.Update(context.Background(), "nope", map[string]any{"a": 1})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecordService_DeleteQueuesFirst(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, rec.ID))

	items := f.queued(t)
	require.Len(t, items, 2)
	assert.Equal(t, models.OperationDelete, items[1].Operation)
	assert.Equal(t, rec.LocalID, items[1].Payload[models.PayloadLocalID])

	_, err = f.store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, rec.ID), common.ErrNotFound)
}

func TestRecordService_DeleteKeepsRecordWhenQueueFails(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)

	f.queueKV.FailWrites(errors.New("disk full"))
	err = f.svc.Delete(ctx, rec.ID)
	require.ErrorIs(t, err, common.ErrStorage)

	_, err = f.store.Get(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestRecordService_ClearDoesNotQueue(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for _, name := range []string{"apple", "banana"} {
		_, err := f.svc.Add(ctx, map[string]any{"name": name})
		require.NoError(t, err)
	}

	n, err := f.svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.queued(t), 2)
}

func TestRecordService_Recognize(t *testing.T) {
	f := newFixture(t, 0)

	rec, err := f.svc.Recognize(context.Background(), provider.Request{Text: "green apple"})
	require.NoError(t, err)
	assert.Equal(t, "apple", rec.Fields["name"])
	assert.Equal(t, "green apple", rec.Fields["query"])
	assert.Equal(t, "recognition", rec.Fields["source"])
	assert.Len(t, f.queued(t), 1)
}

func TestRecordService_RecognizeErrors(t *testing.T) {
	store := records.New(kv.NewMemoryStore(), records.Options{})

	svc := NewRecordService(store, RecordServiceOptions{})
	_, err := svc.Recognize(context.Background(), provider.Request{Text: "x"})
	assert.ErrorIs(t, err, ErrRecognitionDisabled)

	svc = NewRecordService(store, RecordServiceOptions{Recognizer: fakeRecognizer{err: common.ErrNetwork}})
	_, err = svc.Recognize(context.Background(), provider.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrNetwork)

	n, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordService_SyncAndRetry(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.syncer.result = syncer.Result{Attempted: 1, Synced: 1}

	res, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, f.syncer.runs)

	n, err := f.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.syncer.triggers, "nothing to retry, no trigger")

	item, err := f.outbox.Enqueue(ctx, DefaultCollection, models.OperationAdd, map[string]any{"id": "r1"})
	require.NoError(t, err)
	item.Status = models.StatusFailed
	require.NoError(t, f.outbox.Save(ctx, item))

	n, err = f.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.syncer.triggers)
}

func TestRecordService_OnSyncedMarksRecord(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, rec.ID, map[string]any{"grams": 80})
	require.NoError(t, err)

	items := f.queued(t)
	require.Len(t, items, 2)

	// the add is synced but the update is still pending
	markSynced(t, f, items[0])
	f.svc.OnSynced(ctx, items[0])
	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)

	markSynced(t, f, items[1])
	f.svc.OnSynced(ctx, items[1])
	got, err = f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.SyncOn)
	assert.Zero(t, st.Unsynced)
	assert.Equal(t, models.QueueStats{Synced: 2}, st.Queue)
	assert.Equal(t, records.DefaultMaxRecords, st.MaxRecords)
}

func TestRecordService_OnSyncedIgnoresOtherItems(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rec, err := f.svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	items := f.queued(t)
	markSynced(t, f, items[0])

	other := items[0]
	other.Collection = "elsewhere"
	f.svc.OnSynced(ctx, other)

	del := items[0]
	del.Operation = models.OperationDelete
	f.svc.OnSynced(ctx, del)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

// racingOutbox lets a write land between the pending check of OnSynced and
// the moment it flags the record.
type racingOutbox struct {
	*outbox.Outbox
	during func()
}

func (o *racingOutbox) Pending(ctx context.Context) ([]models.SyncQueueItem, error) {
	items, err := o.Outbox.Pending(ctx)
	if o.during != nil {
		during := o.during
		o.during = nil
		during()
	}
	return items, err
}

func TestRecordService_OnSyncedLeavesRecordChangedMeanwhile(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	racing := &racingOutbox{Outbox: f.outbox}
	svc := NewRecordService(f.store, RecordServiceOptions{Outbox: racing, Syncer: f.syncer})

	rec, err := svc.Add(ctx, map[string]any{"name": "apple"})
	require.NoError(t, err)
	items := f.queued(t)
	require.Len(t, items, 1)
	markSynced(t, f, items[0])

	racing.during = func() {
		_, err := svc.Update(ctx, rec.ID, map[string]any{"grams": 80})
		require.NoError(t, err)
	}
	svc.OnSynced(ctx, items[0])

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced, "the update is still pending")

	pending, err := f.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	markSynced(t, f, pending[0])
	svc.OnSynced(ctx, pending[0])
	got, err = f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)
}

func markSynced(t *testing.T, f *fixture, item models.SyncQueueItem) {
	t.Helper()
	now := f.clock.Now()
	item.Status = models.StatusSynced
	item.SyncedAt = &now
	require.NoError(t, f.outbox.Save(context.Background(), item))
}
