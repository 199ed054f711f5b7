package hwcomposer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// BufferAccess is the class of access a fence gates.
type BufferAccess int

const (
	AccessNone BufferAccess = iota
	AccessRead
	// AccessWrite is read-write access.
	AccessWrite
)

func (a BufferAccess) valid() bool {
	return a == AccessNone || a == AccessRead || a == AccessWrite
}

func (a BufferAccess) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessRead:
		return "read"
	case AccessWrite:
		return "read_write"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// NativeHandle is the fd and int payload of a gralloc handle.
type NativeHandle struct {
	Fds  []int
	Ints []int32
}

// WindowBuffer is the driver-facing description of a buffer, the shape
// vendor drivers expect from ANativeWindowBuffer.
type WindowBuffer struct {
	Width  int
	Height int
	Stride int
	Format uint32
	Usage  uint32
	Handle *NativeHandle
}

// NativeBuffer pairs a driver buffer with its pending fences.
type NativeBuffer interface {
	Handle() *WindowBuffer
	// Fence returns the pending write fence without transferring ownership.
	Fence() int
	// CopyFence returns a duplicate of the pending write fence.
	CopyFence() (int, error)
	EnsureAvailableFor(access BufferAccess) error
	EnsureAvailableForTimeout(access BufferAccess, ms int) (bool, error)
	// UpdateUsage installs *fence for access, consuming it.
	UpdateUsage(fence *int, access BufferAccess) error
	// MergeUsage folds *fence into the pending fence for access without
	// waiting, consuming it.
	MergeUsage(fence *int, access BufferAccess) error
	ResetFence() error
	LockForGPU()
	WaitForUnlockByGPU()
}

// Buffer is the NativeBuffer used by the server and the client extension.
// It keeps at most one fence per access class.
type Buffer struct {
	anwb *WindowBuffer
	ops  SyncFileOps

	mu     sync.Mutex
	cond   *sync.Cond
	read   *Fence
	write  *Fence
	locked bool

	release func() error
}

// NewBuffer wraps anwb. release, if non-nil, runs on Close.
func NewBuffer(anwb *WindowBuffer, ops SyncFileOps, release func() error) *Buffer {
	if ops == nil {
		ops = defaultSyncFileOps()
	}
	b := &Buffer{
		anwb:    anwb,
		ops:     ops,
		read:    NewFence(ops, InvalidFence),
		write:   NewFence(ops, InvalidFence),
		release: release,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) Handle() *WindowBuffer { return b.anwb }

func (b *Buffer) Fence() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write.Native()
}

func (b *Buffer) CopyFence() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write.Copy()
}

func (b *Buffer) EnsureAvailableFor(access BufferAccess) error {
	_, err := b.EnsureAvailableForTimeout(access, infiniteTimeout)
	return err
}

// EnsureAvailableForTimeout waits for the fences gating access. Read access
// waits for the read fence; write access waits for both. ms bounds the whole
// call, not each fence, and a negative ms waits without limit.
func (b *Buffer) EnsureAvailableForTimeout(access BufferAccess, ms int) (bool, error) {
	if !access.valid() {
		return false, unsupported("ensure available", "invalid buffer access %d", int(access))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var gates []*Fence
	switch access {
	case AccessRead:
		gates = []*Fence{b.read}
	case AccessWrite:
		gates = []*Fence{b.read, b.write}
	}
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for i, f := range gates {
		left := ms
		if i > 0 && ms >= 0 {
			left = remainingMillis(deadline)
		}
		ok, err := f.WaitFor(left)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// remainingMillis is the whole milliseconds left until deadline, floored at
// zero so an expired deadline polls instead of blocking.
func remainingMillis(deadline time.Time) int {
	left := time.Until(deadline)
	if left <= 0 {
		return 0
	}
	return int(left / time.Millisecond)
}

// UpdateUsage replaces the fence for access with *fence. The previous fence
// of that class is waited on and closed first, so no descriptor is dropped
// while still pending.
func (b *Buffer) UpdateUsage(fence *int, access BufferAccess) error {
	if !access.valid() {
		return unsupported("update usage", "invalid buffer access %d", int(access))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var slot **Fence
	switch access {
	case AccessRead:
		slot = &b.read
	case AccessWrite:
		slot = &b.write
	default:
		return nil
	}

	var err error
	if werr := (*slot).Wait(); werr != nil {
		err = fmt.Errorf("retire previous %s fence: %w", access, werr)
		err = multierr.Append(err, (*slot).Reset())
	}
	fd := InvalidFence
	if fence != nil {
		fd = *fence
		*fence = InvalidFence
	}
	*slot = NewFence(b.ops, fd)

	b.locked = false
	b.cond.Broadcast()
	return err
}

// MergeUsage is UpdateUsage for callers that must not block: a still pending
// fence of that class is merged with *fence rather than waited on.
func (b *Buffer) MergeUsage(fence *int, access BufferAccess) error {
	if !access.valid() {
		if fence != nil && *fence >= 0 {
			_ = b.ops.Close(*fence)
			*fence = InvalidFence
		}
		return unsupported("merge usage", "invalid buffer access %d", int(access))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var slot *Fence
	switch access {
	case AccessRead:
		slot = b.read
	case AccessWrite:
		slot = b.write
	default:
		if fence != nil && *fence >= 0 {
			_ = b.ops.Close(*fence)
			*fence = InvalidFence
		}
		return nil
	}
	err := slot.MergeWith(fence)

	b.locked = false
	b.cond.Broadcast()
	return err
}

// ResetFence drops every pending fence without waiting.
func (b *Buffer) ResetFence() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := multierr.Append(b.read.Reset(), b.write.Reset())
	b.locked = false
	b.cond.Broadcast()
	return err
}

// LockForGPU marks the buffer as handed to the GPU. The lock is released by
// the next UpdateUsage or ResetFence.
func (b *Buffer) LockForGPU() {
	b.mu.Lock()
	b.locked = true
	b.mu.Unlock()
}

func (b *Buffer) WaitForUnlockByGPU() {
	b.mu.Lock()
	for b.locked {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// Close drops pending fences and releases the underlying allocation.
func (b *Buffer) Close() error {
	err := b.ResetFence()
	if b.release != nil {
		err = multierr.Append(err, b.release())
		b.release = nil
	}
	return err
}
