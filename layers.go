package hwcomposer

// CompositionType is the HWC1 per-layer composition type.
type CompositionType int32

const (
	CompositionFramebuffer CompositionType = iota
	CompositionOverlay
	CompositionBackground
	CompositionFramebufferTarget
	CompositionSideband
	CompositionCursorOverlay
)

// Rect is a HAL rectangle with exclusive right and bottom edges.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Layer is one entry of an HWC1 layer list.
type Layer struct {
	CompositionType CompositionType
	Buffer          NativeBuffer
	SourceCrop      Rect
	DisplayFrame    Rect
	// AcquireFence gates reads of Buffer by the display. Ownership passes
	// to the composer on Set.
	AcquireFence int
	// ReleaseFence is filled in by Set and owned by the caller afterwards.
	ReleaseFence int
}

// DisplayList is the per-display contents handed to prepare and set.
type DisplayList struct {
	Layers      []Layer
	RetireFence int
}

// FramebufferTarget returns the client target layer, or nil.
func (l *DisplayList) FramebufferTarget() *Layer {
	for i := range l.Layers {
		if l.Layers[i].CompositionType == CompositionFramebufferTarget {
			return &l.Layers[i]
		}
	}
	return nil
}

// DisplayLists holds one list per HAL display index. Active displays are
// the leading non-nil entries.
type DisplayLists [NumDisplayTypes]*DisplayList

// Active returns the number of leading non-nil lists.
func (d DisplayLists) Active() int {
	for i, l := range d {
		if l == nil {
			return i
		}
	}
	return len(d)
}

// Renderable is one compositor renderable; only its buffer matters here.
type Renderable struct {
	Buffer NativeBuffer
}

// DisplayContents is the compositor's view of one display for an HWC2
// commit.
type DisplayContents struct {
	Name DisplayName
	List []Renderable
}
