// Package cursor provides TypedCursor, a lazy, closeable, positionally
// addressable sequence of typed rows backed by a query result. Cursors are
// single-owner: whoever ends up holding one must close it, and the event
// bus's cleanup subscriber closes cursors nobody received.
package cursor

import (
	"sync"
)

// TypedCursor is a read-only positional view over typed rows.
//
// Get returns the zero value for out-of-range positions rather than
// failing. After Close, Count reports 0 and Get returns the zero value;
// neither ever panics. Only one live iterator is permitted at a time;
// opening a second while the first is active is a caller contract violation
// and panics. Cursors are not safe for concurrent use.
type TypedCursor[T any] interface {
	// Count returns the number of rows. On a lazy cursor this may force
	// the remaining rows to be fetched.
	Count() int
	// Get returns the row at position i, or the zero value when i is out
	// of range or the cursor is closed.
	Get(i int) T
	// Iterate returns a forward iterator over the rows from position 0.
	Iterate() *Iterator[T]
	// Err returns the first error encountered while fetching rows.
	Err() error
	// Close releases the underlying result. Idempotent.
	Close() error
}

// Iterator walks a cursor forward. Obtain one via TypedCursor.Iterate.
type Iterator[T any] struct {
	c    *Lazy[T]
	pos  int
	done bool
}

// Next returns the next row, or false when the cursor is exhausted or
// closed.
func (it *Iterator[T]) Next() (T, bool) {
	var zero T
	if it.done {
		return zero, false
	}
	row, ok := it.c.at(it.pos)
	if !ok {
		it.done = true
		it.c.endIteration()
		return zero, false
	}
	it.pos++
	return row, true
}

// Lazy is the TypedCursor implementation: rows are pulled from a fetch
// function on demand and retained for positional access, mirroring a
// windowed database cursor.
type Lazy[T any] struct {
	mu       sync.Mutex
	fetch    func() (T, bool, error) // next row; ok=false on exhaustion
	release  func() error            // frees the underlying result; may be nil
	rows     []T
	err      error
	fetched  bool // fetch exhausted
	closed   bool
	iterLive bool
}

var _ TypedCursor[int] = (*Lazy[int])(nil)

// NewLazy wraps a row-pulling function and an optional release hook.
func NewLazy[T any](fetch func() (T, bool, error), release func() error) *Lazy[T] {
	return &Lazy[T]{fetch: fetch, release: release}
}

// FromSlice returns a cursor over rows already in memory.
func FromSlice[T any](rows []T) *Lazy[T] {
	return &Lazy[T]{rows: rows, fetched: true}
}

// Count forces any remaining rows and returns the total, or 0 after close.
func (c *Lazy[T]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	c.fillLocked(-1)
	return len(c.rows)
}

// Get returns the row at i, fetching lazily up to that position. Out of
// range or after close it returns the zero value.
func (c *Lazy[T]) Get(i int) T {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || i < 0 {
		return zero
	}
	c.fillLocked(i)
	if i >= len(c.rows) {
		return zero
	}
	return c.rows[i]
}

// Iterate returns a forward iterator. A second iterator while one is live
// panics: that is a programmer error, not a runtime condition.
func (c *Lazy[T]) Iterate() *Iterator[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iterLive {
		panic("cursor: concurrent iterators on a single cursor")
	}
	c.iterLive = true
	return &Iterator[T]{c: c}
}

// Err returns the first fetch error, if any.
func (c *Lazy[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the underlying result. Subsequent access degrades to
// empty results; Close never panics and is idempotent.
func (c *Lazy[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.iterLive = false
	c.rows = nil
	if c.release != nil {
		rel := c.release
		c.release = nil
		return rel()
	}
	return nil
}

// at returns the row at pos for iterators, respecting close.
func (c *Lazy[T]) at(pos int) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return zero, false
	}
	c.fillLocked(pos)
	if pos >= len(c.rows) {
		return zero, false
	}
	return c.rows[pos], true
}

func (c *Lazy[T]) endIteration() {
	c.mu.Lock()
	c.iterLive = false
	c.mu.Unlock()
}

// fillLocked pulls rows until position want is available, or everything
// when want is negative. Fetch errors are recorded and end the sequence.
func (c *Lazy[T]) fillLocked(want int) {
	for !c.fetched && (want < 0 || len(c.rows) <= want) {
		row, ok, err := c.fetch()
		if err != nil {
			c.err = err
			c.fetched = true
			return
		}
		if !ok {
			c.fetched = true
			return
		}
		c.rows = append(c.rows, row)
	}
}
