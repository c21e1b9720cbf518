// Package memory provides an in-memory ports.Storage for tests and
// single-process deployments without a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
)

// Store is a mutex-guarded in-memory implementation of ports.Storage.
// Records are kept in insertion order so unsorted finds stay deterministic.
type Store struct {
	mu      sync.RWMutex
	records map[string]ports.Record
	order   []string

	ids    ports.IDGenerator
	unique []string
}

// New creates an empty store. uniqueFields name record fields whose values
// must be unique across the store (inserting a duplicate fails with
// Conflict).
func New(ids ports.IDGenerator, uniqueFields ...string) *Store {
	return &Store{
		records: make(map[string]ports.Record),
		ids:     ids,
		unique:  uniqueFields,
	}
}

// Find returns records matching the query and the total match count.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]ports.Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []ports.Record
	for _, id := range s.order {
		rec := s.records[id]
		if matchesFilters(rec, q.Filters) {
			matched = append(matched, cloneRecord(rec))
		}
	}
	total := int64(len(matched))

	if q.Sort != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			less := compareValues(matched[i][q.Sort], matched[j][q.Sort]) < 0
			if q.Desc {
				return !less
			}
			return less
		})
	}

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	return matched, total, nil
}

// Get retrieves a record by identifier.
func (s *Store) Get(ctx context.Context, id string) (ports.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}
	return cloneRecord(rec), nil
}

// Insert stores a new record, assigning an identifier if data has none.
func (s *Store) Insert(ctx context.Context, data ports.Record) (ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := cloneRecord(data)
	id, _ := rec["id"].(string)
	if id == "" {
		id = s.ids.New()
		rec["id"] = id
	}

	if _, exists := s.records[id]; exists {
		return nil, apperr.Conflict(fmt.Sprintf("record %q already exists", id))
	}
	if err := s.checkUnique(rec, id); err != nil {
		return nil, err
	}

	s.records[id] = rec
	s.order = append(s.order, id)
	return cloneRecord(rec), nil
}

// Replace fully replaces a record; the identifier is kept.
func (s *Store) Replace(ctx context.Context, id string, data ports.Record) (ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}

	rec := cloneRecord(data)
	rec["id"] = id
	if err := s.checkUnique(rec, id); err != nil {
		return nil, err
	}
	s.records[id] = rec
	return cloneRecord(rec), nil
}

// Patch merges fields into an existing record.
func (s *Store) Patch(ctx context.Context, id string, data ports.Record) (ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}

	merged := cloneRecord(rec)
	for k, v := range data {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	if err := s.checkUnique(merged, id); err != nil {
		return nil, err
	}
	s.records[id] = merged
	return cloneRecord(merged), nil
}

// checkUnique enforces the unique fields against every record other than
// the one identified by exclude. Caller holds the write lock.
func (s *Store) checkUnique(rec ports.Record, exclude string) error {
	for _, field := range s.unique {
		want, ok := rec[field]
		if !ok {
			continue
		}
		for oid, other := range s.records {
			if oid == exclude {
				continue
			}
			if fmt.Sprintf("%v", other[field]) == fmt.Sprintf("%v", want) {
				return apperr.Conflict(fmt.Sprintf("%s %q already taken", field, want))
			}
		}
	}
	return nil
}

// Delete removes a record and returns it. Deleting an absent identifier
// fails with NotFound so callers can tell "nothing happened" from
// "confirmed gone".
func (s *Store) Delete(ctx context.Context, id string) (ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}

	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return rec, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ ports.Storage = (*Store)(nil)

func matchesFilters(rec ports.Record, filters map[string]any) bool {
	for k, want := range filters {
		if fmt.Sprintf("%v", rec[k]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// compareValues orders mixed scalar values: numbers numerically, everything
// else by string form.
func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneRecord(rec ports.Record) ports.Record {
	out := make(ports.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
