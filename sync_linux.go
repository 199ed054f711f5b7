//go:build linux
// +build linux

package hwcomposer

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// syncIocMerge is SYNC_IOC_MERGE, _IOWR('>', 3, struct sync_merge_data).
const syncIocMerge = 0xc0303e03

// syncMergeData mirrors struct sync_merge_data from linux/sync_file.h.
type syncMergeData struct {
	name  [32]byte
	fd2   int32
	fence int32
	flags uint32
	pad   uint32
}

// RealSyncFileOps talks to kernel sync files. A sync file polls readable
// once every fence it contains has signalled.
type RealSyncFileOps struct{}

// Wait polls fd for at most timeoutMs milliseconds; a negative timeout
// waits forever.
func (RealSyncFileOps) Wait(fd int, timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			if timeoutMs > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return false, nil
				}
				timeoutMs = int(remaining / time.Millisecond)
			}
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll sync fd %d: %w", fd, err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("poll sync fd %d: revents %#x", fd, fds[0].Revents)
		}
		return true, nil
	}
}

// Dup duplicates fd with close-on-exec set.
func (RealSyncFileOps) Dup(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return InvalidFence, fmt.Errorf("dup sync fd %d: %w", fd, err)
	}
	return nfd, nil
}

// Close closes fd.
func (RealSyncFileOps) Close(fd int) error {
	return unix.Close(fd)
}

// Merge creates a new sync file that signals once both fd1 and fd2 have
// signalled. Neither input is closed.
func (RealSyncFileOps) Merge(name string, fd1, fd2 int) (int, error) {
	var data syncMergeData
	copy(data.name[:len(data.name)-1], name)
	data.fd2 = int32(fd2)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd1), syncIocMerge, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return InvalidFence, fmt.Errorf("merge sync fds %d and %d: %w", fd1, fd2, errno)
	}
	return int(data.fence), nil
}

func defaultSyncFileOps() SyncFileOps { return RealSyncFileOps{} }
