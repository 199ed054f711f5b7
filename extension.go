package hwcomposer

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/sourcegraph/conc"
)

// Extension names accepted by ClientPlatform.RequestInterface.
const (
	FencedBuffersExtension = "fenced_buffers"
	AndroidBufferExtension = "android_buffer"
)

// FenceExtension lets clients gate their own access to a buffer on fences
// produced elsewhere.
type FenceExtension struct{}

// GetFence returns the buffer's pending write fence. The caller does not
// own it.
func (FenceExtension) GetFence(buf NativeBuffer) int {
	return buf.Fence()
}

// AssociateFence records fence for access, replacing any earlier fence of
// that class. A negative fence clears every pending fence. On error the
// fence stays with the caller.
func (FenceExtension) AssociateFence(buf NativeBuffer, fence int, access BufferAccess) error {
	if !access.valid() {
		return unsupported("associate fence", "invalid buffer access %d", int(access))
	}
	if fence < 0 {
		return buf.ResetFence()
	}
	switch access {
	case AccessRead, AccessWrite:
		return buf.UpdateUsage(&fence, access)
	}
	return unsupported("associate fence", "no fence slot for access %s", access)
}

// WaitForAccess waits until buf may be used for access. timeoutNs is
// floored to whole milliseconds; a negative timeout waits forever.
func (FenceExtension) WaitForAccess(buf NativeBuffer, access BufferAccess, timeoutNs int64) (bool, error) {
	if !access.valid() {
		return false, unsupported("wait for access", "invalid buffer access %d", int(access))
	}
	if access == AccessNone {
		return true, nil
	}
	return buf.EnsureAvailableForTimeout(access, timeoutMillis(timeoutNs))
}

// BufferCallback receives an asynchronously allocated buffer.
type BufferCallback func(buf NativeBuffer, err error)

// BufferExtension allocates gralloc buffers for clients and exposes their
// Android properties.
type BufferExtension struct {
	gralloc Gralloc
	wg      conc.WaitGroup
}

// CreateBuffer allocates in the background and reports through cb.
func (e *BufferExtension) CreateBuffer(size Size, halFormat, usage uint32, cb BufferCallback) {
	e.wg.Go(func() {
		cb(e.CreateBufferSync(size, halFormat, usage))
	})
}

func (e *BufferExtension) CreateBufferSync(size Size, halFormat, usage uint32) (NativeBuffer, error) {
	if e.gralloc == nil {
		return nil, unsupported("create buffer", "no allocator")
	}
	buf, err := e.gralloc.AllocBuffer(size, halFormat, usage)
	if err != nil {
		return nil, fmt.Errorf("create buffer %dx%d: %w", size.Width, size.Height, err)
	}
	return buf, nil
}

// Wait blocks until every CreateBuffer callback has run.
func (e *BufferExtension) Wait() {
	e.wg.Wait()
}

// IsAndroidCompatible reports whether buf carries a gralloc handle.
func (e *BufferExtension) IsAndroidCompatible(buf NativeBuffer) bool {
	return buf != nil && buf.Handle() != nil && buf.Handle().Handle != nil
}

func (e *BufferExtension) NativeHandle(buf NativeBuffer) *NativeHandle { return buf.Handle().Handle }

func (e *BufferExtension) HALPixelFormat(buf NativeBuffer) uint32 { return buf.Handle().Format }

func (e *BufferExtension) GrallocUsage(buf NativeBuffer) uint32 { return buf.Handle().Usage }

// Stride is in pixels.
func (e *BufferExtension) Stride(buf NativeBuffer) int { return buf.Handle().Stride }

// ClientPlatform is the client side of the platform: it hands out
// extensions by name and version.
type ClientPlatform struct {
	fences  FenceExtension
	buffers *BufferExtension
}

// NewClientPlatform returns a platform whose buffer extension allocates
// from g.
func NewClientPlatform(g Gralloc) *ClientPlatform {
	return &ClientPlatform{buffers: &BufferExtension{gralloc: g}}
}

// RequestInterface returns the extension called name at version, or nil.
func (p *ClientPlatform) RequestInterface(name string, version int) any {
	switch {
	case name == FencedBuffersExtension && version == 1:
		return &p.fences
	case name == AndroidBufferExtension && version >= 1 && version <= 2:
		return p.buffers
	}
	return nil
}

// NativeFormatFor is the HAL format used for client buffers of format f.
func (p *ClientPlatform) NativeFormatFor(f gputypes.TextureFormat) uint32 {
	return HALFormat(f)
}

// NativeFlagsFor is the gralloc usage for client buffers used as u.
func (p *ClientPlatform) NativeFlagsFor(u gputypes.TextureUsage) uint32 {
	return GrallocUsage(u)
}
