// Package bufalloc implements the "central pinned core allocator" spec.md
// §5 calls out as the allocation source for the session's three large
// buffers (sink raw, DSP output array, source ring): a fixed-size arena
// with a first-fit free-list allocator, handing out pinned byte-slice
// regions that stay valid (never moved, never reused) for as long as the
// class function is active.
//
// Grounded on _examples/usbarmory-tamago/dma/region.go's free-list design,
// adapted from physical-address block tracking to plain slice offsets:
// this module does not itself perform physical DMA mapping, which remains
// an external concern below the usb.Controller boundary.
package bufalloc

import (
	"container/list"
	"errors"
	"fmt"
	"unsafe"
)

// ErrAllocFailed is returned when the arena has no free block large enough
// to satisfy a request (spec.md §7, "Allocation failure").
var ErrAllocFailed = errors.New("bufalloc: allocation failed")

type freeBlock struct {
	start, size int
}

// Allocator is a first-fit allocator over a fixed-size arena. It does no
// locking and is not safe for concurrent use; allocation only happens
// during class activation (thread domain, per spec.md §5), never from
// interrupt context.
type Allocator struct {
	arena      []byte
	free       *list.List // of *freeBlock, ordered by start
	used       map[int]int
}

// New creates an allocator backed by a freshly allocated size-byte arena.
func New(size int) *Allocator {
	a := &Allocator{
		arena: make([]byte, size),
		free:  list.New(),
		used:  make(map[int]int),
	}
	a.free.PushBack(&freeBlock{start: 0, size: size})
	return a
}

// Alloc hands out a pinned size-byte region of the arena, or ErrAllocFailed
// if no free block is large enough.
func (a *Allocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bufalloc: invalid size %d", size)
	}

	for e := a.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*freeBlock)
		if b.size < size {
			continue
		}

		start := b.start

		if b.size == size {
			a.free.Remove(e)
		} else {
			b.start += size
			b.size -= size
		}

		a.used[start] = size
		return a.arena[start : start+size : start+size], nil
	}

	return nil, ErrAllocFailed
}

// AllocAll allocates each requested size in order, freeing every buffer it
// already handed out and returning ErrAllocFailed if any request cannot be
// satisfied — the "abort class activation; free any partially-allocated
// buffers" policy from spec.md §7.
func (a *Allocator) AllocAll(sizes ...int) ([][]byte, error) {
	bufs := make([][]byte, 0, len(sizes))

	for _, size := range sizes {
		buf, err := a.Alloc(size)
		if err != nil {
			for _, b := range bufs {
				a.Free(b)
			}
			return nil, err
		}
		bufs = append(bufs, buf)
	}

	return bufs, nil
}

// Free returns buf's region to the free list, coalescing with adjacent
// free blocks.
func (a *Allocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	off := sliceOffset(a.arena, buf)
	if off < 0 {
		return fmt.Errorf("bufalloc: buffer not owned by this allocator")
	}

	size, ok := a.used[off]
	if !ok {
		return fmt.Errorf("bufalloc: double free or unknown block at offset %d", off)
	}
	delete(a.used, off)

	a.insertFree(off, size)
	return nil
}

func (a *Allocator) insertFree(start, size int) {
	for e := a.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*freeBlock)

		if b.start == start+size {
			b.start = start
			b.size += size
			a.coalesceForward(e)
			return
		}

		if start == b.start+b.size {
			b.size += size
			a.coalesceForward(e)
			return
		}

		if b.start > start {
			a.free.InsertBefore(&freeBlock{start: start, size: size}, e)
			return
		}
	}

	a.free.PushBack(&freeBlock{start: start, size: size})
}

// coalesceForward merges e with its immediate successor if they are
// adjacent, repeating while blocks keep merging.
func (a *Allocator) coalesceForward(e *list.Element) {
	b := e.Value.(*freeBlock)

	for next := e.Next(); next != nil; next = e.Next() {
		nb := next.Value.(*freeBlock)
		if nb.start != b.start+b.size {
			break
		}
		b.size += nb.size
		a.free.Remove(next)
	}
}

// sliceOffset returns buf's start offset within arena, or -1 if buf's
// backing array is not arena's. Every region Alloc hands out is a
// sub-slice of arena, so its offset is recoverable from the difference
// between the two base pointers — the same pointer-arithmetic idiom the
// teacher's dma package uses throughout for physical address translation.
func sliceOffset(arena, buf []byte) int {
	if len(arena) == 0 || len(buf) == 0 {
		return -1
	}

	base := uintptr(unsafe.Pointer(&arena[0]))
	target := uintptr(unsafe.Pointer(&buf[0]))

	if target < base || target >= base+uintptr(len(arena)) {
		return -1
	}

	return int(target - base)
}
