//go:build linux
// +build linux

package hwcomposer

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Size is a buffer or display extent in pixels.
type Size struct {
	Width  int
	Height int
}

// Gralloc allocates buffers usable by both the GPU and the display.
type Gralloc interface {
	AllocBuffer(size Size, halFormat uint32, usage uint32) (NativeBuffer, error)
}

// ShmGralloc allocates sealed memfd buffers. It stands in for the vendor
// allocator on software paths and in tests.
type ShmGralloc struct {
	Ops SyncFileOps
}

// ShmBuffer is a Buffer backed by a shared memory mapping.
type ShmBuffer struct {
	*Buffer
	fd   int
	data []byte
}

// Data returns the mapped pixels.
func (b *ShmBuffer) Data() []byte { return b.data }

// FD returns the memfd backing the buffer.
func (b *ShmBuffer) FD() int { return b.fd }

// AllocBuffer creates a buffer of size in the given HAL format.
func (g *ShmGralloc) AllocBuffer(size Size, halFormat uint32, usage uint32) (NativeBuffer, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", size.Width, size.Height)
	}
	stride := size.Width
	length := stride * size.Height * bytesPerPixel(halFormat)

	fd, err := createAnonymousFile(int64(length))
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous file: %w", err)
	}
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memory: %w", err)
	}

	anwb := &WindowBuffer{
		Width:  size.Width,
		Height: size.Height,
		Stride: stride,
		Format: halFormat,
		Usage:  usage,
		Handle: &NativeHandle{
			Fds:  []int{fd},
			Ints: []int32{int32(size.Width), int32(size.Height), int32(halFormat), int32(usage)},
		},
	}
	sb := &ShmBuffer{fd: fd, data: data}
	sb.Buffer = NewBuffer(anwb, g.Ops, func() error {
		return multierr.Append(unix.Munmap(data), unix.Close(fd))
	})
	return sb, nil
}

// createAnonymousFile creates a sealed memfd of the given size, falling back
// to an O_TMPFILE in /dev/shm on kernels without memfd_create.
func createAnonymousFile(size int64) (int, error) {
	fd, err := unix.MemfdCreate("hwc-gralloc", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		if err = unix.Ftruncate(fd, size); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
			unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	fd, err = unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, err
	}
	if err = unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
