// Package hwcomposer wraps Android hardware composer devices for a display
// server.
//
// Two device generations are supported behind one Wrapper interface: the
// callback-table HWC1 HAL and the handle-based HWC2 compatibility shim.
// The package also tracks the sync fences that gate buffer access, applies
// per-device quirks, and adapts the compositor's framebuffers to the native
// window calls vendor drivers make.
package hwcomposer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Wrapper is the hardware composer as seen by the compositor's display
// output. Prepare and Set for one display must be serialised by the caller.
type Wrapper interface {
	// SubscribeToEvents registers handlers under s, replacing any previous
	// registration. Handlers run on driver threads.
	SubscribeToEvents(s Subscriber, vsync VsyncFunc, hotplug HotplugFunc, invalidate InvalidateFunc)
	// UnsubscribeFromEvents removes s. It never fails.
	UnsubscribeFromEvents(s Subscriber)

	Prepare(displays DisplayLists) error
	Set(displays DisplayLists, contents []DisplayContents) error

	VsyncSignalOn(name DisplayName) error
	VsyncSignalOff(name DisplayName) error
	DisplayOn(name DisplayName) error
	DisplayOff(name DisplayName) error

	// DisplayConfigs is empty for a display last reported unplugged.
	DisplayConfigs(name DisplayName) ([]ConfigID, error)
	// DisplayAttributes fills values for keys up to the AttributeNone
	// sentinel. Unknown keys leave their value untouched.
	DisplayAttributes(name DisplayName, config ConfigID, keys []Attribute, values []int32) error
	SetPowerMode(name DisplayName, mode PowerMode) error
	HasActiveConfig(name DisplayName) bool
	ActiveConfigFor(name DisplayName) (ConfigID, error)
	SetActiveConfig(name DisplayName, config ConfigID) error
	// DisplayConnected probes the device rather than the plug cache.
	DisplayConnected(name DisplayName) bool

	// Close detaches the wrapper from driver callbacks. Once it returns no
	// handler will be invoked through this wrapper.
	Close() error
}

// DeviceLoader opens the vendor composer. OpenHwc2 is tried first.
type DeviceLoader interface {
	OpenHwc2() (Hwc2Device, error)
	OpenHwc1() (Hwc1Device, error)
}

type options struct {
	report         Report
	ops            SyncFileOps
	syncBeforeSet  bool
	hotplugTimeout time.Duration
}

// Option configures a Wrapper.
type Option func(*options)

// WithReport sets the HAL report. The default is NullReport.
func WithReport(r Report) Option {
	return func(o *options) { o.report = r }
}

// WithSyncFileOps replaces the kernel sync primitive.
func WithSyncFileOps(ops SyncFileOps) Option {
	return func(o *options) { o.ops = ops }
}

// WithSyncBeforeSet chooses whether HWC2 Set waits for the client target's
// acquire fence itself (the default) or hands the fence to the device.
func WithSyncBeforeSet(sync bool) Option {
	return func(o *options) { o.syncBeforeSet = sync }
}

// WithHotplugTimeout bounds how long HWC2 construction waits for the
// primary display to be announced. The default is five seconds.
func WithHotplugTimeout(d time.Duration) Option {
	return func(o *options) { o.hotplugTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		report:         NullReport{},
		syncBeforeSet:  true,
		hotplugTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ops == nil {
		o.ops = defaultSyncFileOps()
	}
	return o
}

// ErrNoDevice is returned by a DeviceLoader that has no device of the
// requested generation.
var ErrNoDevice = errors.New("no composer device")

// Open returns a wrapper for the newest device generation loader provides.
func Open(ctx context.Context, loader DeviceLoader, opts ...Option) (Wrapper, error) {
	hwc2, err := loader.OpenHwc2()
	if err == nil {
		Logger().Info("using hwc2 compatibility device")
		return NewHwc2Wrapper(ctx, hwc2, opts...)
	}
	if !errors.Is(err, ErrNoDevice) {
		return nil, fmt.Errorf("open hwc2 device: %w", err)
	}

	hwc1, err := loader.OpenHwc1()
	if err != nil {
		return nil, fmt.Errorf("open hwc1 device: %w", err)
	}
	Logger().Info("using hwc1 device")
	return NewHwc1Wrapper(hwc1, opts...), nil
}
