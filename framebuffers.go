package hwcomposer

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
)

// FramebufferBundle supplies the render targets of the framebuffer
// context.
type FramebufferBundle interface {
	BufferForRender() NativeBuffer
	FbSize() Size
}

// FramebufferRing is a fixed set of framebuffers handed out in turn.
type FramebufferRing struct {
	size    Size
	buffers []NativeBuffer
	next    atomic.Uint32
}

// NewFramebufferRing allocates quirks.NumFramebuffers() buffers of size.
// The allocation width is padded where the device needs it; FbSize still
// reports the requested size.
func NewFramebufferRing(g Gralloc, quirks *DeviceQuirks, size Size, halFormat uint32) (*FramebufferRing, error) {
	n := quirks.NumFramebuffers()
	if n < 1 {
		return nil, fmt.Errorf("invalid framebuffer count %d", n)
	}
	alloc := Size{Width: quirks.AlignedWidth(size.Width), Height: size.Height}
	r := &FramebufferRing{size: size, buffers: make([]NativeBuffer, 0, n)}
	for i := 0; i < n; i++ {
		buf, err := g.AllocBuffer(alloc, halFormat, quirks.FbGrallocBits())
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("allocate framebuffer %d of %d: %w", i+1, n, err),
				r.Close())
		}
		r.buffers = append(r.buffers, buf)
	}
	Logger().Debug("framebuffers allocated",
		"count", n, "width", alloc.Width, "height", alloc.Height, "format", halFormat)
	return r, nil
}

// BufferForRender returns the next buffer in the ring.
func (r *FramebufferRing) BufferForRender() NativeBuffer {
	i := (r.next.Add(1) - 1) % uint32(len(r.buffers))
	return r.buffers[i]
}

func (r *FramebufferRing) FbSize() Size { return r.size }

// Len returns the number of buffers in the ring.
func (r *FramebufferRing) Len() int { return len(r.buffers) }

// Close releases every buffer that supports it.
func (r *FramebufferRing) Close() error {
	var err error
	for _, b := range r.buffers {
		if c, ok := b.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	r.buffers = nil
	return err
}
