// Package memdb provides a thread-safe, in-memory table used by the memory
// store backend. Each table owns its own identifier sequence and unique
// indexes; all mutations of a table are serialized by the table's lock.
package memdb

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehr/medrecords/internal/platform/apperr"
)

// Sequence hands out strictly increasing identifiers starting at 1.
type Sequence struct {
	n atomic.Int64
}

func (s *Sequence) Next() int64 { return s.n.Add(1) }

func (s *Sequence) Current() int64 { return s.n.Load() }

type uniqueIndex[T any] struct {
	field  string
	key    func(T) (string, bool)
	values map[string]int64
}

// Table stores rows of T keyed by an auto-assigned int64 identifier.
// Rows are copied on the way in and on the way out (through clone), so
// callers never share memory with the table.
type Table[T any] struct {
	name    string
	mu      sync.RWMutex
	seq     Sequence
	rows    map[int64]T
	clone   func(T) T
	uniques []*uniqueIndex[T]
}

// NewTable creates an empty table. name is used in NotFound and Conflict
// errors. clone may be nil when T has no reference-typed fields.
func NewTable[T any](name string, clone func(T) T) *Table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Table[T]{
		name:  name,
		rows:  make(map[int64]T),
		clone: clone,
	}
}

// Unique registers a unique index. key returns false for rows that should
// not be indexed (e.g. an unset optional field). Indexed fields are treated
// as immutable after insert.
func (t *Table[T]) Unique(field string, key func(T) (string, bool)) *Table[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uniques = append(t.uniques, &uniqueIndex[T]{field: field, key: key, values: make(map[string]int64)})
	return t
}

// Insert checks unique indexes, assigns the next identifier through assign,
// and stores the row. A conflicting row leaves the table untouched,
// including its sequence.
func (t *Table[T]) Insert(row T, assign func(row *T, id int64)) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	for _, u := range t.uniques {
		if k, ok := u.key(row); ok {
			if _, taken := u.values[k]; taken {
				return zero, apperr.Conflict(t.name, u.field, k)
			}
		}
	}

	id := t.seq.Next()
	assign(&row, id)
	for _, u := range t.uniques {
		if k, ok := u.key(row); ok {
			u.values[k] = id
		}
	}
	t.rows[id] = t.clone(row)
	return t.clone(row), nil
}

func (t *Table[T]) Get(id int64) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, apperr.NotFound(t.name, id)
	}
	return t.clone(row), nil
}

// LookupUnique resolves a row through a registered unique index.
func (t *Table[T]) LookupUnique(field, value string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, u := range t.uniques {
		if u.field != field {
			continue
		}
		if id, ok := u.values[value]; ok {
			return t.clone(t.rows[id]), true
		}
	}
	var zero T
	return zero, false
}

// Update applies fn to a copy of the row under the table lock and stores
// the result. If fn returns an error the row is left unchanged.
func (t *Table[T]) Update(id int64, fn func(row *T) error) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	row, ok := t.rows[id]
	if !ok {
		return zero, apperr.NotFound(t.name, id)
	}
	row = t.clone(row)
	if err := fn(&row); err != nil {
		return zero, err
	}
	t.rows[id] = t.clone(row)
	return t.clone(row), nil
}

// Filter returns the matching rows in identifier order. It never returns nil.
func (t *Table[T]) Filter(match func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.sortedIDs()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		row := t.rows[id]
		if match == nil || match(row) {
			out = append(out, t.clone(row))
		}
	}
	return out
}

// Find returns the first matching row in identifier order.
func (t *Table[T]) Find(match func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.sortedIDs() {
		if row := t.rows[id]; match(row) {
			return t.clone(row), true
		}
	}
	var zero T
	return zero, false
}

func (t *Table[T]) All() []T { return t.Filter(nil) }

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Recent returns at most n rows ordered by ts descending, ties broken by
// identifier descending. n <= 0 yields an empty slice.
func (t *Table[T]) Recent(n int, ts func(T) time.Time) []T {
	if n <= 0 {
		return []T{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	type entry struct {
		id int64
		at time.Time
	}
	entries := make([]entry, 0, len(t.rows))
	for id, row := range t.rows {
		entries = append(entries, entry{id: id, at: ts(row)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.After(entries[j].at)
		}
		return entries[i].id > entries[j].id
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, t.clone(t.rows[e.id]))
	}
	return out
}

func (t *Table[T]) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
