// Package records implements the local record store: an ordered,
// most-recent-first collection of user records with a capacity cap,
// persisted as a single JSON document in a kv.Store.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
)

const (
	DefaultKey        = "foodai.records"
	DefaultMaxRecords = 100
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	// Key is the kv key the collection is persisted under.
	Key string
	// MaxRecords caps the collection; the oldest records are dropped first.
	MaxRecords int
	// RemoteSync tells whether records will be reconciled remotely. When it
	// is false records are created (and updated) already marked synced.
	RemoteSync bool
	Clock      clockwork.Clock
	Logger     logging.Logger
}

// Store is safe for concurrent use. Every mutation is a read-modify-persist
// of the whole collection performed under one lock, so either the full
// updated collection is stored or the previous one is kept.
type Store struct {
	mu         sync.Mutex
	kv         kv.Store
	key        string
	maxRecords int
	remoteSync bool
	clock      clockwork.Clock
	log        logging.Logger
}

func New(store kv.Store, opts Options) *Store {
	s := &Store{
		kv:         store,
		key:        opts.Key,
		maxRecords: opts.MaxRecords,
		remoteSync: opts.RemoteSync,
		clock:      opts.Clock,
		log:        opts.Logger,
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.maxRecords <= 0 {
		s.maxRecords = DefaultMaxRecords
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.With("module", "records")
	return s
}

// Add stores a new record built from fields at the head of the collection
// and drops the oldest records beyond the cap.
func (s *Store) Add(ctx context.Context, fields map[string]any) (models.Record, error) {
	if len(fields) == 0 {
		return models.Record{}, common.NewValidationError("fields", "must not be empty")
	}

	localID, err := s.newLocalID()
	if err != nil {
		return models.Record{}, fmt.Errorf("generate local id: %w", err)
	}

	now := s.clock.Now()
	rec := models.Record{
		ID:        uuid.NewString(),
		LocalID:   localID,
		Fields:    maps.Clone(fields),
		CreatedAt: now,
		UpdatedAt: now,
		Synced:    !s.remoteSync,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return models.Record{}, err
	}

	all = append([]models.Record{rec}, all...)
	if dropped := len(all) - s.maxRecords; dropped > 0 {
		all = all[:s.maxRecords]
		s.log.Debug(ctx, "record cap reached, dropped oldest", "dropped", dropped, "max_records", s.maxRecords)
	}

	if err := s.persist(ctx, all); err != nil {
		return models.Record{}, err
	}
	return rec.Clone(), nil
}

// Filter selects records; Compare orders them like slices.SortStableFunc.
type (
	Filter  func(models.Record) bool
	Compare func(a, b models.Record) int
)

// ListOptions are applied in order: Filter, then Compare, then pagination.
// Page is 1-based; PageSize <= 0 disables pagination.
type ListOptions struct {
	Filter   Filter
	Compare  Compare
	Page     int
	PageSize int
}

// ListResult holds one page of records and the number of records that
// passed the filter.
type ListResult struct {
	Items []models.Record
	Total int
}

func (s *Store) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	s.mu.Lock()
	all, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return ListResult{}, err
	}

	items := all
	if opts.Filter != nil {
		items = slices.DeleteFunc(items, func(r models.Record) bool { return !opts.Filter(r) })
	}
	if opts.Compare != nil {
		slices.SortStableFunc(items, opts.Compare)
	}

	total := len(items)
	if opts.PageSize > 0 {
		page := max(opts.Page, 1)
		start := min((page-1)*opts.PageSize, total)
		end := min(start+opts.PageSize, total)
		items = items[start:end]
	}

	return ListResult{Items: slices.Clip(items), Total: total}, nil
}

// Get returns the record whose id or localId equals id.
func (s *Store) Get(ctx context.Context, id string) (models.Record, error) {
	s.mu.Lock()
	all, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return models.Record{}, err
	}

	for _, r := range all {
		if r.Matches(id) {
			return r, nil
		}
	}
	return models.Record{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
}

// Update merges fields into the record identified by id (id or localId)
// and bumps its updatedAt. A nil value removes the field.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any) (models.Record, error) {
	if len(fields) == 0 {
		return models.Record{}, common.NewValidationError("fields", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return models.Record{}, err
	}

	i := slices.IndexFunc(all, func(r models.Record) bool { return r.Matches(id) })
	if i < 0 {
		return models.Record{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}

	rec := all[i]
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = v
	}
	rec.UpdatedAt = s.clock.Now()
	rec.Synced = !s.remoteSync
	all[i] = rec

	if err := s.persist(ctx, all); err != nil {
		return models.Record{}, err
	}
	return rec.Clone(), nil
}

// Matcher selects records for DeleteWhere.
type Matcher func(models.Record) bool

// ByID matches the record whose id or localId equals id.
func ByID(id string) Matcher {
	return func(r models.Record) bool { return r.Matches(id) }
}

// DeleteWhere removes every record m matches and returns how many were
// removed. Nothing is written when nothing matches.
func (s *Store) DeleteWhere(ctx context.Context, m Matcher) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := slices.DeleteFunc(slices.Clone(all), func(r models.Record) bool { return m(r) })
	deleted := len(all) - len(kept)
	if deleted == 0 {
		return 0, nil
	}

	if err := s.persist(ctx, kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	if err := s.kv.Remove(ctx, s.key); err != nil {
		return 0, err
	}
	return len(all), nil
}

// MarkSynced flags the records matching ids as synced and returns how many
// changed.
func (s *Store) MarkSynced(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range all {
		if all[i].Synced {
			continue
		}
		if slices.ContainsFunc(ids, all[i].Matches) {
			all[i].Synced = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}

	if err := s.persist(ctx, all); err != nil {
		return 0, err
	}
	return changed, nil
}

// MarkSyncedIf flags the record matching id as synced when cond accepts its
// current state. It reports whether the record changed.
func (s *Store) MarkSyncedIf(ctx context.Context, id string, cond func(models.Record) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	i := slices.IndexFunc(all, func(r models.Record) bool { return r.Matches(id) })
	if i < 0 || all[i].Synced || !cond(all[i]) {
		return false, nil
	}
	all[i].Synced = true

	if err := s.persist(ctx, all); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns the whole collection, most recent first.
func (s *Store) Snapshot(ctx context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Replace stores all as the whole collection, e.g. to undo a write with a
// previous Snapshot. The cap still applies.
func (s *Store) Replace(ctx context.Context, all []models.Record) error {
	if len(all) > s.maxRecords {
		all = all[:s.maxRecords]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(all) == 0 {
		return s.kv.Remove(ctx, s.key)
	}
	return s.persist(ctx, all)
}

func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// MaxRecords is the configured cap.
func (s *Store) MaxRecords() int {
	return s.maxRecords
}

func (s *Store) load(ctx context.Context) ([]models.Record, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var all []models.Record
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, common.StorageError("decode records", err)
	}
	return all, nil
}

func (s *Store) persist(ctx context.Context, all []models.Record) error {
	data, err := json.Marshal(all)
	if err != nil {
		return common.StorageError("encode records", err)
	}
	return s.kv.Set(ctx, s.key, data)
}

func (s *Store) newLocalID() (string, error) {
	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("local_%d_%s", s.clock.Now().UnixMilli(), suffix), nil
}
