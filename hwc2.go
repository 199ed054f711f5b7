package hwcomposer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Hwc2Error is an hwc2_error_t.
type Hwc2Error int32

const (
	Hwc2ErrorNone Hwc2Error = iota
	Hwc2ErrorBadConfig
	Hwc2ErrorBadDisplay
	Hwc2ErrorBadLayer
	Hwc2ErrorBadParameter
	Hwc2ErrorHasChanges
	Hwc2ErrorNoResources
	Hwc2ErrorNotValidated
	Hwc2ErrorUnsupported
)

// Hwc2Composition is an hwc2_composition_t.
type Hwc2Composition int32

const (
	Hwc2CompositionInvalid Hwc2Composition = iota
	Hwc2CompositionClient
	Hwc2CompositionDevice
	Hwc2CompositionSolidColor
	Hwc2CompositionCursor
	Hwc2CompositionSideband
)

// Hwc2BlendMode is an hwc2_blend_mode_t.
type Hwc2BlendMode int32

const (
	Hwc2BlendModeInvalid Hwc2BlendMode = iota
	Hwc2BlendModeNone
	Hwc2BlendModePremultiplied
	Hwc2BlendModeCoverage
)

// Hwc2Vsync is an hwc2_vsync_t.
type Hwc2Vsync int32

const (
	Hwc2VsyncInvalid Hwc2Vsync = iota
	Hwc2VsyncEnable
	Hwc2VsyncDisable
)

const halDataspaceUnknown = 0

// Hwc2Listener is the event listener registered with the compat device.
type Hwc2Listener struct {
	Vsync   func(sequenceID int32, display uint64, timestamp int64)
	Hotplug func(sequenceID int32, display uint64, connected, primary bool)
	Refresh func(sequenceID int32, display uint64)
}

// Hwc2DisplayConfig describes the active mode of a compat display.
type Hwc2DisplayConfig struct {
	ID          int32
	DisplayID   uint64
	Width       int32
	Height      int32
	VsyncPeriod int64
	DpiX        float32
	DpiY        float32
}

// Hwc2Device is the compat shim's device object.
type Hwc2Device interface {
	RegisterCallback(l *Hwc2Listener, sequenceID int32)
	// OnHotplug keeps the shim's display table in step with hotplug events.
	OnHotplug(display uint64, connected bool)
	// GetDisplayByID returns nil for a display the shim does not know.
	GetDisplayByID(id uint64) Hwc2Display
}

// Hwc2Display is the shim's per-display object.
type Hwc2Display interface {
	CreateLayer() Hwc2Layer
	Validate() (numTypes, numRequests uint32, err Hwc2Error)
	AcceptChanges() Hwc2Error
	// SetClientTarget takes ownership of acquireFence.
	SetClientTarget(slot uint32, buffer *WindowBuffer, acquireFence int, dataspace int32) Hwc2Error
	// Present returns a fence owned by the caller, or InvalidFence.
	Present() (presentFence int, err Hwc2Error)
	SetVsyncEnabled(enabled Hwc2Vsync) Hwc2Error
	SetPowerMode(mode PowerMode) Hwc2Error
	// ActiveConfig returns nil when no mode is active.
	ActiveConfig() *Hwc2DisplayConfig
}

// Hwc2Layer is the shim's per-layer object.
type Hwc2Layer interface {
	SetCompositionType(t Hwc2Composition) Hwc2Error
	SetBlendMode(m Hwc2BlendMode) Hwc2Error
	SetSourceCrop(left, top, right, bottom float32) Hwc2Error
	SetDisplayFrame(left, top, right, bottom int32) Hwc2Error
	SetVisibleRegion(left, top, right, bottom int32) Hwc2Error
}

// HWC2 hooks follow the same rules as the HWC1 ones: hwc2Mu is held for
// the whole hook and while Close clears hwc2Self. hwc2Device outlives the
// wrapper so the shim keeps hearing about hotplugs.
var (
	hwc2Mu     sync.Mutex
	hwc2Self   *Hwc2Wrapper
	hwc2Device Hwc2Device

	// hwc2Sequence numbers listener registrations.
	hwc2Sequence atomic.Int32

	hwc2Listener = &Hwc2Listener{
		Vsync:   hwc2VsyncHook,
		Hotplug: hwc2HotplugHook,
		Refresh: hwc2RefreshHook,
	}
)

func hwc2VsyncHook(_ int32, display uint64, timestamp int64) {
	hwc2Mu.Lock()
	defer hwc2Mu.Unlock()
	if hwc2Self != nil {
		hwc2Self.events.vsync(displayNameFor(int(display)), monotonicTimestamp(timestamp))
	}
}

func hwc2HotplugHook(_ int32, display uint64, connected, _ bool) {
	hwc2Mu.Lock()
	defer hwc2Mu.Unlock()
	if hwc2Self != nil {
		hwc2Self.events.hotplug(displayNameFor(int(display)), connected)
	}
	if hwc2Device != nil {
		hwc2Device.OnHotplug(display, connected)
	}
}

func hwc2RefreshHook(_ int32, _ uint64) {
	hwc2Mu.Lock()
	defer hwc2Mu.Unlock()
	if hwc2Self != nil {
		hwc2Self.events.invalidate()
	}
}

// hwc2Contents is the composition state of one display. It is created on
// first use and kept for the wrapper's lifetime.
type hwc2Contents struct {
	display Hwc2Display
	layers  []Hwc2Layer
	// configured is set once the client layer took every property.
	configured bool
}

// Hwc2Wrapper drives the HWC2 compat shim. Only the primary display is
// composed; partial hardware composition is not supported, so any layer
// the device wants to take over fails Prepare.
type Hwc2Wrapper struct {
	device        Hwc2Device
	report        Report
	ops           SyncFileOps
	syncBeforeSet bool
	events        *registry

	// commitMu guards the per-display state touched by the commit path.
	commitMu    sync.Mutex
	contents    map[int]*hwc2Contents
	lastPresent int
}

// NewHwc2Wrapper registers with device and waits for the primary display
// to be announced, for at most the hotplug timeout.
func NewHwc2Wrapper(ctx context.Context, device Hwc2Device, opts ...Option) (*Hwc2Wrapper, error) {
	o := buildOptions(opts)
	w := &Hwc2Wrapper{
		device:        device,
		report:        o.report,
		ops:           o.ops,
		syncBeforeSet: o.syncBeforeSet,
		events:        newRegistry(),
		contents:      make(map[int]*hwc2Contents),
		lastPresent:   InvalidFence,
	}
	w.events.setPlugged(Primary, false)
	w.events.setPlugged(External, false)
	w.events.setPlugged(Virtual, true)
	w.report.HwcVersion("2")

	hwc2Mu.Lock()
	hwc2Self = w
	hwc2Device = device
	hwc2Mu.Unlock()

	// The shim replays hotplugs from inside registration.
	device.RegisterCallback(hwc2Listener, hwc2Sequence.Add(1)-1)

	if err := w.waitForPrimary(ctx, o.hotplugTimeout); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Hwc2Wrapper) waitForPrimary(ctx context.Context, timeout time.Duration) error {
	primary := uint64(HWCDisplay(Primary))
	if w.device.GetDisplayByID(primary) != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				Logger().Warn("primary display not announced", "timeout", timeout)
				return nil
			}
			return ctx.Err()
		case <-tick.C:
			if w.device.GetDisplayByID(primary) != nil {
				return nil
			}
		}
	}
}

// Close stops hook delivery to w and releases the last present fence.
func (w *Hwc2Wrapper) Close() error {
	hwc2Mu.Lock()
	if hwc2Self == w {
		hwc2Self = nil
	}
	hwc2Mu.Unlock()

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	if w.lastPresent != InvalidFence {
		err := w.ops.Close(w.lastPresent)
		w.lastPresent = InvalidFence
		return err
	}
	return nil
}

func (w *Hwc2Wrapper) SubscribeToEvents(s Subscriber, v VsyncFunc, h HotplugFunc, i InvalidateFunc) {
	w.events.subscribe(s, v, h, i)
}

func (w *Hwc2Wrapper) UnsubscribeFromEvents(s Subscriber) {
	w.events.unsubscribe(s)
}

// contentsFor returns the state of HAL display id, creating it on first
// use. commitMu must be held.
func (w *Hwc2Wrapper) contentsFor(op string, id int) (*hwc2Contents, error) {
	if c, ok := w.contents[id]; ok {
		return c, nil
	}
	d := w.device.GetDisplayByID(uint64(id))
	if d == nil {
		return nil, &Error{Kind: KindDisplayDisconnected, Op: op,
			Msg: fmt.Sprintf("display %d is not connected", id)}
	}
	c := &hwc2Contents{display: d}
	w.contents[id] = c
	return c, nil
}

// Prepare validates the primary display with a single client composition
// layer covering the first layer's display frame.
func (w *Hwc2Wrapper) Prepare(displays DisplayLists) error {
	w.report.ListSubmittedToPrepare(displays)
	n := displays.Active()
	if n > 1 {
		return unsupported("prepare", "hwc2 supports a single display, got %d", n)
	}
	if n == 0 {
		w.report.PrepareDone(displays)
		return nil
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	id := HWCDisplay(Primary)
	c, err := w.contentsFor("prepare", id)
	if err != nil {
		return err
	}

	list := displays[0]
	if len(list.Layers) > 0 {
		if len(c.layers) < 1 {
			c.layers = append(c.layers, c.display.CreateLayer())
		}
		if !c.configured {
			frame := list.Layers[0].DisplayFrame
			if err := configureClientLayer(c.layers[0], frame.Right, frame.Bottom); err != nil {
				return err
			}
			c.configured = true
		}
	}

	numTypes, numRequests, herr := c.display.Validate()
	if herr != Hwc2ErrorNone && herr != Hwc2ErrorHasChanges {
		return deviceError("prepare", fmt.Sprintf("validate failed for display %d", id), int(herr))
	}
	if numTypes > 0 || numRequests > 0 {
		return &Error{Kind: KindUnsupported, Op: "prepare",
			Msg: fmt.Sprintf("validate required changes for display %d: %d types, %d requests",
				id, numTypes, numRequests)}
	}
	if herr := c.display.AcceptChanges(); herr != Hwc2ErrorNone {
		return deviceError("prepare", "acceptChanges failed", int(herr))
	}

	w.report.PrepareDone(displays)
	return nil
}

func configureClientLayer(layer Hwc2Layer, width, height int32) error {
	steps := []struct {
		what string
		err  Hwc2Error
	}{
		{"composition type", layer.SetCompositionType(Hwc2CompositionClient)},
		{"blend mode", layer.SetBlendMode(Hwc2BlendModeNone)},
		{"source crop", layer.SetSourceCrop(0, 0, float32(width), float32(height))},
		{"display frame", layer.SetDisplayFrame(0, 0, width, height)},
		{"visible region", layer.SetVisibleRegion(0, 0, width, height)},
	}
	for _, s := range steps {
		if s.err != Hwc2ErrorNone {
			return deviceError("prepare", "setting layer "+s.what, int(s.err))
		}
	}
	return nil
}

// Set presents the one buffer in contents as the client target of the
// primary display. The previous frame's present fence is waited on before
// its slot is reused, which holds buffers until the display has turned
// over.
func (w *Hwc2Wrapper) Set(displays DisplayLists, contents []DisplayContents) error {
	w.report.SetList(displays)
	if contents == nil {
		return unsupported("set", "hwc2 set() called without contents list")
	}
	if len(contents) != 1 {
		return unsupported("set", "hwc2 supports a single display, got %d contents", len(contents))
	}
	if displays.Active() < 1 {
		return unsupported("set", "no display list for the primary display")
	}

	var buffer NativeBuffer
	for _, r := range contents[0].List {
		if r.Buffer == nil {
			continue
		}
		if buffer != nil {
			return unsupported("set", "more than one layer carries a buffer")
		}
		buffer = r.Buffer
	}
	if buffer == nil {
		return unsupported("set", "no layer carries a buffer")
	}
	target := displays[0].FramebufferTarget()
	if target == nil {
		return unsupported("set", "display list has no framebuffer target")
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	id := HWCDisplay(Primary)
	c, ok := w.contents[id]
	if !ok {
		return unsupported("set", "display %d was never prepared", id)
	}

	acquire := target.AcquireFence
	target.AcquireFence = InvalidFence
	if w.syncBeforeSet && acquire >= 0 {
		if err := NewFence(w.ops, acquire).Wait(); err != nil {
			return fmt.Errorf("set: wait for client target acquire fence: %w", err)
		}
		acquire = InvalidFence
	}

	if herr := c.display.SetClientTarget(0, buffer.Handle(), acquire, halDataspaceUnknown); herr != Hwc2ErrorNone {
		return deviceError("set", "setClientTarget failed", int(herr))
	}
	present, herr := c.display.Present()
	if herr != Hwc2ErrorNone {
		return deviceError("set", "error during hwc set()", int(herr))
	}
	target.ReleaseFence = present

	var err error
	if w.lastPresent != InvalidFence {
		err = NewFence(w.ops, w.lastPresent).Wait()
		w.lastPresent = InvalidFence
	}
	if present != InvalidFence {
		dup, derr := w.ops.Dup(present)
		err = multierr.Append(err, derr)
		if derr == nil {
			w.lastPresent = dup
		}
	}
	if err != nil {
		return fmt.Errorf("set: retire present fence: %w", err)
	}

	w.report.SetDone(displays)
	return nil
}

// VsyncSignalOn enables vsync on the primary display. Shim failures are
// logged only; the shim gives no reliable result for this call.
func (w *Hwc2Wrapper) VsyncSignalOn(name DisplayName) error {
	return w.setVsync("vsync on", name, Hwc2VsyncEnable)
}

func (w *Hwc2Wrapper) VsyncSignalOff(name DisplayName) error {
	return w.setVsync("vsync off", name, Hwc2VsyncDisable)
}

func (w *Hwc2Wrapper) setVsync(op string, name DisplayName, mode Hwc2Vsync) error {
	if name != Primary {
		return unsupported(op, "hwc2 vsync control is only implemented for the primary display, got %s", name)
	}
	w.commitMu.Lock()
	c, err := w.contentsFor(op, HWCDisplay(Primary))
	w.commitMu.Unlock()
	if err != nil {
		return err
	}
	if herr := c.display.SetVsyncEnabled(mode); herr != Hwc2ErrorNone {
		Logger().Warn("vsync control failed", "op", op, "error", int(herr))
	}
	if mode == Hwc2VsyncEnable {
		w.report.VsyncOn()
	} else {
		w.report.VsyncOff()
	}
	return nil
}

func (w *Hwc2Wrapper) DisplayOn(name DisplayName) error {
	if err := w.powerMode("display on", name, PowerModeNormal); err != nil {
		return err
	}
	w.report.DisplayOn()
	return nil
}

func (w *Hwc2Wrapper) DisplayOff(name DisplayName) error {
	if err := w.powerMode("display off", name, PowerModeOff); err != nil {
		return err
	}
	w.report.DisplayOff()
	return nil
}

func (w *Hwc2Wrapper) SetPowerMode(name DisplayName, mode PowerMode) error {
	if err := w.powerMode("power mode", name, mode); err != nil {
		return err
	}
	w.report.PowerMode(mode)
	return nil
}

func (w *Hwc2Wrapper) powerMode(op string, name DisplayName, mode PowerMode) error {
	d, err := w.display(op, name)
	if err != nil {
		return err
	}
	if herr := d.SetPowerMode(mode); herr != Hwc2ErrorNone {
		return deviceError(op, "error setting power mode "+mode.String(), int(herr))
	}
	return nil
}

func (w *Hwc2Wrapper) display(op string, name DisplayName) (Hwc2Display, error) {
	idx, err := hwcIndex(op, name)
	if err != nil {
		return nil, err
	}
	d := w.device.GetDisplayByID(uint64(idx))
	if d == nil {
		return nil, &Error{Kind: KindDisplayDisconnected, Op: op,
			Msg: "display " + name.String() + " is not connected"}
	}
	return d, nil
}

func (w *Hwc2Wrapper) activeConfig(op string, name DisplayName) (*Hwc2DisplayConfig, error) {
	d, err := w.display(op, name)
	if err != nil {
		return nil, err
	}
	cfg := d.ActiveConfig()
	if cfg == nil {
		return nil, &Error{Kind: KindNoActiveConfig, Op: op,
			Msg: "no active configuration for display " + name.String()}
	}
	return cfg, nil
}

// DisplayConfigs reports the active config only; the shim does not
// enumerate modes.
func (w *Hwc2Wrapper) DisplayConfigs(name DisplayName) ([]ConfigID, error) {
	if !w.events.isPlugged(name) {
		return nil, nil
	}
	id, err := w.ActiveConfigFor(name)
	if err != nil {
		return nil, err
	}
	return []ConfigID{id}, nil
}

// DisplayAttributes answers from the active config whatever config is
// asked for, as the shim exposes no other.
func (w *Hwc2Wrapper) DisplayAttributes(name DisplayName, _ ConfigID, keys []Attribute, values []int32) error {
	cfg, err := w.activeConfig("display attributes", name)
	if err != nil {
		return err
	}
	for i := 0; i < len(keys) && i < len(values) && keys[i] != AttributeNone; i++ {
		switch keys[i] {
		case AttributeWidth:
			values[i] = cfg.Width
		case AttributeHeight:
			values[i] = cfg.Height
		case AttributeVsyncPeriod:
			values[i] = int32(cfg.VsyncPeriod)
		case AttributeDPIX:
			values[i] = int32(cfg.DpiX)
		case AttributeDPIY:
			values[i] = int32(cfg.DpiY)
		}
	}
	return nil
}

func (w *Hwc2Wrapper) HasActiveConfig(name DisplayName) bool {
	_, err := w.activeConfig("has active config", name)
	return err == nil
}

func (w *Hwc2Wrapper) ActiveConfigFor(name DisplayName) (ConfigID, error) {
	cfg, err := w.activeConfig("active config", name)
	if err != nil {
		return 0, err
	}
	return ConfigID(cfg.ID), nil
}

// SetActiveConfig accepts only the config already active: the shim has no
// mode switch.
func (w *Hwc2Wrapper) SetActiveConfig(name DisplayName, config ConfigID) error {
	current, err := w.ActiveConfigFor(name)
	if err != nil {
		return err
	}
	if current != config {
		return unsupported("set active config", "cannot switch %s from config %d to %d", name, current, config)
	}
	return nil
}

// DisplayConnected asks the shim whether it knows the display.
func (w *Hwc2Wrapper) DisplayConnected(name DisplayName) bool {
	idx := HWCDisplay(name)
	return idx >= 0 && w.device.GetDisplayByID(uint64(idx)) != nil
}

var _ Wrapper = (*Hwc2Wrapper)(nil)
