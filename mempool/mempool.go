// Package mempool implements a bucketed allocator backed by a fixed-size
// arena. Blocks are addressed by handles instead of pointers, and freed
// blocks are recycled in LIFO order per size class.
package mempool

import (
	"encoding/binary"
	"log"
	"runtime"
	"sync/atomic"
)

// Ptr is a handle to a block in the pool. The zero value is the nil handle.
type Ptr uint64

// Nil is the handle returned when an allocation fails.
const Nil Ptr = 0

const headerSize = 8

// DefaultCapacity is the arena size used when none is configured.
const DefaultCapacity = 200 * 1024 * 1024

var sizeClasses = [...]int{
	32,
	128,
	512,
	1024,
	2048,
	8192,
	1024 * 1024,
	4 * 1024 * 1024,
	8 * 1024 * 1024,
}

// Allocator is the interface of the pool used by its clients.
type Allocator interface {
	Alloc(n int) Ptr
	Realloc(p Ptr, n int) Ptr
	Free(p Ptr)
	Bytes(p Ptr) []byte
}

type spinlock struct {
	held atomic.Bool
}

func (l *spinlock) lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) unlock() {
	l.held.Store(false)
}

// Pool is a size-class allocator. It is safe for concurrent use.
type Pool struct {
	lock     spinlock
	capacity int
	arena    []byte
	used     int
	free     [len(sizeClasses)][]Ptr
	live     int
}

// Builder creates pools.
type Builder struct {
	capacity int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{capacity: DefaultCapacity}
}

// WithCapacity sets the arena size in bytes.
func (b Builder) WithCapacity(n int) Builder {
	b.capacity = n
	return b
}

// Build creates a pool. The arena is only reserved at the first allocation.
func (b Builder) Build() *Pool {
	return &Pool{capacity: b.capacity}
}

func classOf(n int) int {
	for i, sz := range sizeClasses {
		if n <= sz {
			return i
		}
	}

	return -1
}

// BlockSize returns the size of the block that serves a request of n bytes,
// header included, or -1 if no size class can serve it.
func BlockSize(n int) int {
	if n < 0 {
		return -1
	}

	class := classOf(n + headerSize)
	if class < 0 {
		return -1
	}

	return sizeClasses[class]
}

// Alloc returns a block of at least n bytes, or Nil if the request cannot be
// served.
func (p *Pool) Alloc(n int) Ptr {
	if n < 0 {
		return Nil
	}

	class := classOf(n + headerSize)
	if class < 0 {
		return Nil
	}

	p.lock.lock()
	defer p.lock.unlock()

	ptr := p.pop(class)
	if ptr == Nil {
		ptr = p.bump(class)
		if ptr == Nil {
			return Nil
		}
	}

	p.writeHeader(ptr, class, n)
	p.live++

	return ptr
}

// MustAlloc is Alloc for callers that cannot continue without memory.
func (p *Pool) MustAlloc(n int) Ptr {
	ptr := p.Alloc(n)
	if ptr == Nil {
		log.Panicf("mempool: out of memory allocating %d bytes", n)
	}

	return ptr
}

func (p *Pool) pop(class int) Ptr {
	stack := p.free[class]
	if len(stack) == 0 {
		return Nil
	}

	ptr := stack[len(stack)-1]
	p.free[class] = stack[:len(stack)-1]

	return ptr
}

func (p *Pool) bump(class int) Ptr {
	if p.arena == nil {
		p.arena = make([]byte, p.capacity)
	}

	size := sizeClasses[class]
	if p.used+size > len(p.arena) {
		return Nil
	}

	start := p.used
	p.used += size

	return Ptr(start + headerSize)
}

func (p *Pool) writeHeader(ptr Ptr, class, n int) {
	h := p.arena[int(ptr)-headerSize : int(ptr)]
	binary.LittleEndian.PutUint32(h[0:4], uint32(class))
	binary.LittleEndian.PutUint32(h[4:8], uint32(n))
}

func (p *Pool) header(ptr Ptr) (class, n int) {
	h := p.arena[int(ptr)-headerSize : int(ptr)]
	class = int(binary.LittleEndian.Uint32(h[0:4]))
	n = int(binary.LittleEndian.Uint32(h[4:8]))

	return class, n
}

// Free returns a block to its size class. Freeing Nil does nothing.
func (p *Pool) Free(ptr Ptr) {
	if ptr == Nil {
		return
	}

	p.lock.lock()
	defer p.lock.unlock()

	class, _ := p.header(ptr)
	p.free[class] = append(p.free[class], ptr)
	p.live--
}

// Realloc moves a block into a block of n bytes, keeping the first
// min(old, n) bytes. Reallocating Nil is Alloc. On failure the old block is
// left untouched and Nil is returned.
func (p *Pool) Realloc(ptr Ptr, n int) Ptr {
	if ptr == Nil {
		return p.Alloc(n)
	}

	np := p.Alloc(n)
	if np == Nil {
		return Nil
	}

	p.lock.lock()
	_, old := p.header(ptr)
	keep := min(old, n)
	copy(p.arena[int(np):int(np)+keep], p.arena[int(ptr):int(ptr)+keep])
	p.lock.unlock()

	p.Free(ptr)

	return np
}

// Bytes returns the payload of a block. The slice is only valid until the
// block is freed.
func (p *Pool) Bytes(ptr Ptr) []byte {
	if ptr == Nil {
		return nil
	}

	p.lock.lock()
	defer p.lock.unlock()

	_, n := p.header(ptr)

	return p.arena[int(ptr) : int(ptr)+n : int(ptr)+n]
}

// Size returns the requested size of a block.
func (p *Pool) Size(ptr Ptr) int {
	if ptr == Nil {
		return 0
	}

	p.lock.lock()
	defer p.lock.unlock()

	_, n := p.header(ptr)

	return n
}

// Stats reports the arena usage.
type Stats struct {
	Capacity int
	Used     int
	Live     int
	Free     int
}

// Stats returns a snapshot of the pool usage.
func (p *Pool) Stats() Stats {
	p.lock.lock()
	defer p.lock.unlock()

	s := Stats{Capacity: p.capacity, Used: p.used, Live: p.live}
	for _, stack := range p.free {
		s.Free += len(stack)
	}

	return s
}
