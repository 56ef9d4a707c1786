package trace

import (
	"sync"

	"github.com/sarchlab/lotto/mempool"
	"github.com/sarchlab/lotto/sched"
)

type flatEntry struct {
	kind   Kind
	clk    sched.Clk
	id     sched.TaskID
	cat    sched.Category
	reason sched.Reason
	pc     uintptr
	pool   int
	data   mempool.Ptr
	size   int
}

// Flat is an in-memory trace. Record payloads are kept in mempools. When the
// last pool is full, a new one is chained, so a trace grows without bound.
type Flat struct {
	mu      sync.Mutex
	pools   []*mempool.Pool
	entries []flatEntry
	cursor  int
	peek    int
}

// DefaultPoolCapacity is the arena size of every pool a trace chains.
const DefaultPoolCapacity = 32 * 1024 * 1024

// NewFlat creates an empty trace storing its payloads in pool. A nil pool
// creates a private one.
func NewFlat(pool *mempool.Pool) *Flat {
	if pool == nil {
		pool = mempool.MakeBuilder().WithCapacity(DefaultPoolCapacity).Build()
	}

	return &Flat{pools: []*mempool.Pool{pool}, peek: -1}
}

// Pools returns the number of pools holding the payloads.
func (t *Flat) Pools() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pools)
}

func (t *Flat) alloc(n int) (int, mempool.Ptr) {
	last := len(t.pools) - 1
	if ptr := t.pools[last].Alloc(n); ptr != mempool.Nil {
		return last, ptr
	}

	capacity := max(DefaultPoolCapacity, mempool.BlockSize(n))
	t.pools = append(t.pools,
		mempool.MakeBuilder().WithCapacity(capacity).Build())

	return last + 1, t.pools[last+1].MustAlloc(n)
}

// Append adds a record at the end of the trace. The payload is copied.
func (t *Flat) Append(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := flatEntry{
		kind:   r.Kind,
		clk:    r.Clk,
		id:     r.ID,
		cat:    r.Cat,
		reason: r.Reason,
		pc:     r.PC,
		size:   len(r.Data),
	}

	if len(r.Data) > 0 {
		e.pool, e.data = t.alloc(len(r.Data))
		copy(t.pools[e.pool].Bytes(e.data), r.Data)
	}

	t.entries = append(t.entries, e)
}

func (t *Flat) record(e flatEntry) Record {
	r := Record{
		Kind:   e.kind,
		Clk:    e.clk,
		ID:     e.id,
		Cat:    e.cat,
		Reason: e.reason,
		PC:     e.pc,
	}

	if e.data != mempool.Nil {
		r.Data = append([]byte(nil), t.pools[e.pool].Bytes(e.data)...)
	}

	return r
}

// Last returns the last record.
func (t *Flat) Last() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return Record{}, false
	}

	return t.record(t.entries[len(t.entries)-1]), true
}

// Pop removes the last record and frees its payload.
func (t *Flat) Pop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return
	}

	last := len(t.entries) - 1
	e := t.entries[last]
	t.pools[e.pool].Free(e.data)
	t.entries = t.entries[:last]

	if t.cursor > len(t.entries) {
		t.cursor = len(t.entries)
	}

	if t.peek >= len(t.entries) {
		t.peek = -1
	}
}

// Next returns the first record at or after the cursor whose kind is in
// kinds.
func (t *Flat) Next(kinds Kind) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := t.cursor; i < len(t.entries); i++ {
		if t.entries[i].kind&kinds != 0 {
			t.peek = i
			return t.record(t.entries[i]), true
		}
	}

	t.peek = -1

	return Record{}, false
}

// Advance consumes the record returned by the last Next.
func (t *Flat) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peek >= 0 {
		t.cursor = t.peek + 1
		t.peek = -1

		return
	}

	if t.cursor < len(t.entries) {
		t.cursor++
	}
}

// Clear removes every record.
func (t *Flat) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		t.pools[e.pool].Free(e.data)
	}

	t.entries = nil
	t.cursor = 0
	t.peek = -1
}

// Len returns the number of records.
func (t *Flat) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Records returns a copy of every record.
func (t *Flat) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := make([]Record, 0, len(t.entries))
	for _, e := range t.entries {
		rs = append(rs, t.record(e))
	}

	return rs
}
