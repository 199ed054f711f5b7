package hwcomposer

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
)

// Native window query keys from system/window.h.
const (
	NativeWindowWidth                = 0
	NativeWindowHeight               = 1
	NativeWindowFormat               = 2
	NativeWindowMinUndequeuedBuffers = 3
	NativeWindowConcreteType         = 5
	NativeWindowDefaultWidth         = 6
	NativeWindowDefaultHeight        = 7
	NativeWindowTransformHint        = 8
	NativeWindowConsumerUsageBits    = 10
	NativeWindowBufferAge            = 13
	NativeWindowLastDequeueDuration  = 14
	NativeWindowLastQueueDuration    = 15
	NativeWindowIsValid              = 17
)

// nativeWindowFramebuffer is NATIVE_WINDOW_FRAMEBUFFER.
const nativeWindowFramebuffer = 1

// ServerRenderWindow answers the native window calls a vendor EGL driver
// makes while rendering into the framebuffer context.
type ServerRenderWindow struct {
	bundle     FramebufferBundle
	cache      *ResourceCache
	ops        SyncFileOps
	clearFence bool

	mu     sync.Mutex
	format int
}

// NewServerRenderWindow returns a window over bundle presenting format.
func NewServerRenderWindow(bundle FramebufferBundle, format gputypes.TextureFormat,
	cache *ResourceCache, quirks *DeviceQuirks, ops SyncFileOps) *ServerRenderWindow {
	if ops == nil {
		ops = defaultSyncFileOps()
	}
	return &ServerRenderWindow{
		bundle:     bundle,
		cache:      cache,
		ops:        ops,
		clearFence: quirks.ClearFbContextFence(),
		format:     int(HALFormat(format)),
	}
}

// DriverRequestsBuffer hands out the next framebuffer and keeps it alive
// until the driver returns it.
func (w *ServerRenderWindow) DriverRequestsBuffer() *WindowBuffer {
	buf := w.bundle.BufferForRender()
	handle := buf.Handle()
	w.cache.StoreBuffer(buf, handle)
	return handle
}

// DriverReturnsBuffer takes back handle together with the driver's render
// fence, which it consumes. Some Mali drivers post the framebuffer before
// their context fence has signalled; on those the fence is waited on here.
func (w *ServerRenderWindow) DriverReturnsBuffer(handle *WindowBuffer, fenceFd int) error {
	var err error
	if w.clearFence {
		if werr := NewFence(w.ops, fenceFd).Wait(); werr != nil {
			err = fmt.Errorf("wait for framebuffer context fence: %w", werr)
		}
	} else {
		err = w.cache.UpdateNativeFence(handle, fenceFd)
	}
	if _, rerr := w.cache.RetrieveBuffer(handle); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// DriverRequestsInfo answers a native window query.
func (w *ServerRenderWindow) DriverRequestsInfo(key int) (int, error) {
	switch key {
	case NativeWindowDefaultWidth, NativeWindowWidth:
		return w.bundle.FbSize().Width, nil
	case NativeWindowDefaultHeight, NativeWindowHeight:
		return w.bundle.FbSize().Height, nil
	case NativeWindowFormat:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.format, nil
	case NativeWindowTransformHint:
		return 0, nil
	case NativeWindowMinUndequeuedBuffers:
		return 1, nil
	case NativeWindowConcreteType:
		return nativeWindowFramebuffer, nil
	case NativeWindowConsumerUsageBits:
		return int(GrallocUsageHwRender | GrallocUsageHwComposer | GrallocUsageHwFB), nil
	case NativeWindowBufferAge:
		// buffers are not tracked
		return 0, nil
	case NativeWindowLastQueueDuration, NativeWindowLastDequeueDuration:
		return 20, nil
	case NativeWindowIsValid:
		return 1, nil
	default:
		return 0, unsupported("driver requests info", "driver requests info we dont provide. key: %d", key)
	}
}

// DispatchDriverRequestFormat switches the format reported to the driver.
func (w *ServerRenderWindow) DispatchDriverRequestFormat(format int) {
	w.mu.Lock()
	w.format = format
	w.mu.Unlock()
}

// DispatchDriverRequestBufferSize is ignored; framebuffers have a fixed
// size.
func (w *ServerRenderWindow) DispatchDriverRequestBufferSize(Size) {}

// DispatchDriverRequestBufferCount is ignored for the framebuffer context.
func (w *ServerRenderWindow) DispatchDriverRequestBufferCount(uint) {}

func (w *ServerRenderWindow) SyncToDisplay(bool) {}
