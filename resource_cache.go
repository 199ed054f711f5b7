package hwcomposer

import (
	"sync"
)

// ResourceCache keeps buffers handed to the driver alive until the driver
// returns them. Entries are keyed by the driver-visible handle.
type ResourceCache struct {
	ops     SyncFileOps
	mu      sync.Mutex
	buffers map[*WindowBuffer]NativeBuffer
}

func NewResourceCache(ops SyncFileOps) *ResourceCache {
	if ops == nil {
		ops = defaultSyncFileOps()
	}
	return &ResourceCache{ops: ops, buffers: make(map[*WindowBuffer]NativeBuffer)}
}

// StoreBuffer records buf under handle, replacing any earlier entry.
func (c *ResourceCache) StoreBuffer(buf NativeBuffer, handle *WindowBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[handle] = buf
}

// RetrieveBuffer removes and returns the buffer stored under handle.
func (c *ResourceCache) RetrieveBuffer(handle *WindowBuffer) (NativeBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[handle]
	if !ok {
		return nil, unsupported("retrieve buffer", "driver returned a buffer it was never given")
	}
	delete(c.buffers, handle)
	return buf, nil
}

// UpdateNativeFence hands fence to the buffer stored under handle as its
// new write fence. It runs on the driver's thread, so an older write fence
// still pending is merged with fence instead of waited on. The fence is
// closed if handle is unknown.
func (c *ResourceCache) UpdateNativeFence(handle *WindowBuffer, fence int) error {
	c.mu.Lock()
	buf, ok := c.buffers[handle]
	c.mu.Unlock()
	if !ok {
		if fence >= 0 {
			_ = c.ops.Close(fence)
		}
		return unsupported("update native fence", "no buffer for returned handle")
	}
	return buf.MergeUsage(&fence, AccessWrite)
}

// Len returns the number of buffers currently held for the driver.
func (c *ResourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}
