package hwcomposer

import (
	"sync"
)

// hwcEventVsync is HWC_EVENT_VSYNC.
const hwcEventVsync = 0

// maxDisplayConfigs bounds getDisplayConfigs; the HAL offers no way to ask
// for the count first.
const maxDisplayConfigs = 16

// Hwc1Procs is the hwc_procs table handed to the device. Its hooks carry no
// user data, which is why HWC1 callbacks go through process-wide state.
type Hwc1Procs struct {
	Invalidate func()
	Vsync      func(display int, timestamp int64)
	Hotplug    func(display int, connected int)
}

// Hwc1Device is the hwc_composer_device_1 function table. Integer results
// are HAL return codes, zero meaning success, unless stated otherwise.
type Hwc1Device interface {
	RegisterProcs(procs *Hwc1Procs)
	Prepare(displays []*DisplayList) int
	Set(displays []*DisplayList) int
	EventControl(display, event, enabled int) int
	Blank(display, blank int) int
	// GetDisplayConfigs writes up to len(configs) ids and returns how many
	// it wrote. A nil slice only probes the display.
	GetDisplayConfigs(display int, configs []uint32) (n int, rc int)
	GetDisplayAttributes(display int, config uint32, keys []Attribute, values []int32) int
	// GetActiveConfig returns the active config index or -1.
	GetActiveConfig(display int) int
	SetActiveConfig(display int, index int) int
	SetPowerMode(display int, mode int) int
}

// HWC1 hooks reach the live wrapper through hwc1Self. hwc1Mu is held for the
// whole of every hook and by Close while it clears hwc1Self, so a driver
// thread can never call into a closed wrapper. Some drivers keep calling
// hooks for a while after the device is closed.
var (
	hwc1Mu   sync.Mutex
	hwc1Self *Hwc1Wrapper

	hwc1Procs = &Hwc1Procs{
		Invalidate: hwc1InvalidateHook,
		Vsync:      hwc1VsyncHook,
		Hotplug:    hwc1HotplugHook,
	}
)

func hwc1InvalidateHook() {
	hwc1Mu.Lock()
	defer hwc1Mu.Unlock()
	if hwc1Self != nil {
		hwc1Self.events.invalidate()
	}
}

func hwc1VsyncHook(display int, timestamp int64) {
	hwc1Mu.Lock()
	defer hwc1Mu.Unlock()
	if hwc1Self != nil {
		hwc1Self.events.vsync(displayNameFor(display), monotonicTimestamp(timestamp))
	}
}

func hwc1HotplugHook(display int, connected int) {
	hwc1Mu.Lock()
	defer hwc1Mu.Unlock()
	if hwc1Self != nil {
		hwc1Self.events.hotplug(displayNameFor(display), connected != 0)
	}
}

// Hwc1Wrapper drives an HWC1 device. Only one may be live per process.
type Hwc1Wrapper struct {
	device Hwc1Device
	report Report
	events *registry
}

// NewHwc1Wrapper registers the process-wide hooks with device and becomes
// their target, replacing any earlier wrapper.
func NewHwc1Wrapper(device Hwc1Device, opts ...Option) *Hwc1Wrapper {
	o := buildOptions(opts)
	w := &Hwc1Wrapper{
		device: device,
		report: o.report,
		events: newRegistry(),
	}
	w.events.setPlugged(Primary, true)
	w.events.setPlugged(External, false)
	w.events.setPlugged(Virtual, true)
	w.report.HwcVersion("1")

	hwc1Mu.Lock()
	hwc1Self = w
	hwc1Mu.Unlock()

	// Not under hwc1Mu: a driver may deliver the initial hotplug from
	// inside registerProcs.
	device.RegisterProcs(hwc1Procs)
	return w
}

// Close stops hook delivery to w. It waits for a hook already running.
func (w *Hwc1Wrapper) Close() error {
	hwc1Mu.Lock()
	defer hwc1Mu.Unlock()
	if hwc1Self == w {
		hwc1Self = nil
	}
	return nil
}

func (w *Hwc1Wrapper) SubscribeToEvents(s Subscriber, v VsyncFunc, h HotplugFunc, i InvalidateFunc) {
	w.events.subscribe(s, v, h, i)
}

func (w *Hwc1Wrapper) UnsubscribeFromEvents(s Subscriber) {
	w.events.unsubscribe(s)
}

func (w *Hwc1Wrapper) Prepare(displays DisplayLists) error {
	w.report.ListSubmittedToPrepare(displays)
	if rc := w.device.Prepare(displays[:displays.Active()]); rc != 0 {
		return deviceError("prepare", "error during hwc prepare()", rc)
	}
	w.report.PrepareDone(displays)
	return nil
}

// Set commits displays. The contents list is only needed by HWC2 and is
// ignored here.
func (w *Hwc1Wrapper) Set(displays DisplayLists, _ []DisplayContents) error {
	w.report.SetList(displays)
	n := displays.Active()
	if rc := w.device.Set(displays[:n]); rc != 0 {
		err := &Error{Kind: KindDevice, Op: "set", Msg: "error during hwc set()", Code: rc}
		if n > 1 {
			if w.DisplayConnected(External) {
				err.Kind = KindExternalDisplay
			} else {
				err.Kind = KindDisplayDisconnected
			}
		}
		return err
	}
	w.report.SetDone(displays)
	return nil
}

func (w *Hwc1Wrapper) VsyncSignalOn(name DisplayName) error {
	disp, err := hwcIndex("vsync on", name)
	if err != nil {
		return err
	}
	if rc := w.device.EventControl(disp, hwcEventVsync, 1); rc != 0 {
		return deviceError("vsync on", "error turning vsync signal on", rc)
	}
	w.report.VsyncOn()
	return nil
}

func (w *Hwc1Wrapper) VsyncSignalOff(name DisplayName) error {
	disp, err := hwcIndex("vsync off", name)
	if err != nil {
		return err
	}
	if rc := w.device.EventControl(disp, hwcEventVsync, 0); rc != 0 {
		return deviceError("vsync off", "error turning vsync signal off", rc)
	}
	w.report.VsyncOff()
	return nil
}

func (w *Hwc1Wrapper) DisplayOn(name DisplayName) error {
	disp, err := hwcIndex("display on", name)
	if err != nil {
		return err
	}
	if rc := w.device.Blank(disp, 0); rc != 0 {
		return deviceError("display on", "error turning display on", rc)
	}
	w.report.DisplayOn()
	return nil
}

func (w *Hwc1Wrapper) DisplayOff(name DisplayName) error {
	disp, err := hwcIndex("display off", name)
	if err != nil {
		return err
	}
	if rc := w.device.Blank(disp, 1); rc != 0 {
		return deviceError("display off", "error turning display off", rc)
	}
	w.report.DisplayOff()
	return nil
}

// DisplayConfigs checks the plug cache first: some composers still report
// configurations after they have signalled an unplug.
func (w *Hwc1Wrapper) DisplayConfigs(name DisplayName) ([]ConfigID, error) {
	if !w.events.isPlugged(name) {
		return nil, nil
	}
	disp, err := hwcIndex("display configs", name)
	if err != nil {
		return nil, err
	}
	raw := make([]uint32, maxDisplayConfigs)
	n, rc := w.device.GetDisplayConfigs(disp, raw)
	if rc != 0 {
		return nil, nil
	}
	n = min(n, maxDisplayConfigs)
	ids := make([]ConfigID, n)
	for i := range ids {
		ids[i] = ConfigID(raw[i])
	}
	return ids, nil
}

func (w *Hwc1Wrapper) DisplayAttributes(name DisplayName, config ConfigID, keys []Attribute, values []int32) error {
	disp, err := hwcIndex("display attributes", name)
	if err != nil {
		return err
	}
	if rc := w.device.GetDisplayAttributes(disp, uint32(config), keys, values); rc != 0 {
		return deviceError("display attributes", "error getting display attributes", rc)
	}
	return nil
}

func (w *Hwc1Wrapper) SetPowerMode(name DisplayName, mode PowerMode) error {
	disp, err := hwcIndex("power mode", name)
	if err != nil {
		return err
	}
	if rc := w.device.SetPowerMode(disp, int(mode)); rc != 0 {
		return deviceError("power mode", "error setting power mode", rc)
	}
	w.report.PowerMode(mode)
	return nil
}

func (w *Hwc1Wrapper) HasActiveConfig(name DisplayName) bool {
	disp, err := hwcIndex("has active config", name)
	if err != nil {
		return false
	}
	return w.device.GetActiveConfig(disp) != -1
}

func (w *Hwc1Wrapper) ActiveConfigFor(name DisplayName) (ConfigID, error) {
	disp, err := hwcIndex("active config", name)
	if err != nil {
		return 0, err
	}
	id := w.device.GetActiveConfig(disp)
	if id == -1 {
		return 0, &Error{Kind: KindNoActiveConfig, Op: "active config",
			Msg: "no active configuration for display " + name.String()}
	}
	return ConfigID(id), nil
}

func (w *Hwc1Wrapper) SetActiveConfig(name DisplayName, config ConfigID) error {
	disp, err := hwcIndex("set active config", name)
	if err != nil {
		return err
	}
	if rc := w.device.SetActiveConfig(disp, int(config)); rc < 0 {
		return deviceError("set active config", "unable to set active display config", rc)
	}
	return nil
}

func (w *Hwc1Wrapper) DisplayConnected(name DisplayName) bool {
	disp, err := hwcIndex("display connected", name)
	if err != nil {
		return false
	}
	_, rc := w.device.GetDisplayConfigs(disp, nil)
	return rc == 0
}

func hwcIndex(op string, name DisplayName) (int, error) {
	i := HWCDisplay(name)
	if i < 0 {
		return 0, unsupported(op, "display %s has no HAL index", name)
	}
	return i, nil
}

var _ Wrapper = (*Hwc1Wrapper)(nil)
