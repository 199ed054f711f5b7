package hwcomposer

import (
	"fmt"
	"sync"
)

// InvalidFence is the descriptor value meaning "no pending work".
const InvalidFence = -1

// infiniteTimeout asks SyncFileOps.Wait to block until the fence signals.
const infiniteTimeout = -1

// SyncFileOps is the kernel sync-file primitive.
type SyncFileOps interface {
	// Wait reports whether fd signalled within timeoutMs milliseconds.
	// A negative timeout blocks until it does.
	Wait(fd int, timeoutMs int) (bool, error)
	Dup(fd int) (int, error)
	Close(fd int) error
	// Merge returns a new descriptor that signals when both inputs have.
	Merge(name string, fd1, fd2 int) (int, error)
}

// Fence owns one sync-file descriptor.
type Fence struct {
	mu  sync.Mutex
	fd  int
	ops SyncFileOps
}

// NewFence takes ownership of fd. A negative fd yields an invalid fence.
func NewFence(ops SyncFileOps, fd int) *Fence {
	if ops == nil {
		ops = defaultSyncFileOps()
	}
	if fd < 0 {
		fd = InvalidFence
	}
	return &Fence{fd: fd, ops: ops}
}

// Valid reports whether the fence still holds a descriptor.
func (f *Fence) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd != InvalidFence
}

// Wait blocks until the fence signals, then releases the descriptor.
func (f *Fence) Wait() error {
	_, err := f.WaitFor(infiniteTimeout)
	return err
}

// WaitFor waits at most ms milliseconds, a negative value meaning no limit.
// A signalled fence releases its descriptor. An invalid fence is always
// signalled.
func (f *Fence) WaitFor(ms int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == InvalidFence {
		return true, nil
	}
	ok, err := f.ops.Wait(f.fd, ms)
	if err != nil || !ok {
		return false, err
	}
	return true, f.closeLocked()
}

// Reset releases the descriptor without waiting.
func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

// MergeWith folds *fd into the fence and always consumes it: on return
// *fd is InvalidFence and the caller no longer owns the descriptor.
func (f *Fence) MergeWith(fd *int) error {
	if fd == nil || *fd < 0 {
		return nil
	}
	in := *fd
	*fd = InvalidFence

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == InvalidFence {
		f.fd = in
		return nil
	}
	merged, err := f.ops.Merge("hwcfence", f.fd, in)
	if err != nil {
		// keep the old fence, drop the incoming one
		_ = f.ops.Close(in)
		return err
	}
	old := f.fd
	f.fd = merged
	if err := f.ops.Close(old); err != nil {
		_ = f.ops.Close(in)
		return fmt.Errorf("close merged fence: %w", err)
	}
	return f.ops.Close(in)
}

// Copy returns a duplicate descriptor owned by the caller, or InvalidFence.
func (f *Fence) Copy() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == InvalidFence {
		return InvalidFence, nil
	}
	return f.ops.Dup(f.fd)
}

// Native returns the descriptor without transferring ownership.
func (f *Fence) Native() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

func (f *Fence) closeLocked() error {
	if f.fd == InvalidFence {
		return nil
	}
	fd := f.fd
	f.fd = InvalidFence
	return f.ops.Close(fd)
}

// timeoutMillis converts a nanosecond timeout to whole milliseconds,
// rounding toward negative infinity so a wait never exceeds what was asked.
func timeoutMillis(ns int64) int {
	const nsPerMs = 1_000_000
	ms := ns / nsPerMs
	if ns%nsPerMs < 0 {
		ms--
	}
	return int(ms)
}
