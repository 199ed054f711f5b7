package hwcomposer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var errWouldBlock = errors.New("wait on a fence that never signals")

// fakeSyncOps hands out fake descriptors and tracks which are open, so
// tests can check that every fence is closed exactly once.
type fakeSyncOps struct {
	mu      sync.Mutex
	next    int
	open    map[int]bool
	pending map[int]bool
	waits   []int
	merges  int
}

func newFakeSyncOps() *fakeSyncOps {
	return &fakeSyncOps{next: 100, open: map[int]bool{}, pending: map[int]bool{}}
}

// fence returns a fresh signalled descriptor.
func (o *fakeSyncOps) fence() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allocLocked()
}

// stuckFence returns a descriptor that never signals.
func (o *fakeSyncOps) stuckFence() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	fd := o.allocLocked()
	o.pending[fd] = true
	return fd
}

func (o *fakeSyncOps) allocLocked() int {
	fd := o.next
	o.next++
	o.open[fd] = true
	return fd
}

func (o *fakeSyncOps) isOpen(fd int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open[fd]
}

func (o *fakeSyncOps) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

func (o *fakeSyncOps) waitTimeouts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.waits...)
}

func (o *fakeSyncOps) Wait(fd int, timeoutMs int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits = append(o.waits, timeoutMs)
	if !o.open[fd] {
		return false, fmt.Errorf("wait on closed fd %d", fd)
	}
	if o.pending[fd] {
		if timeoutMs < 0 {
			return false, errWouldBlock
		}
		return false, nil
	}
	return true, nil
}

func (o *fakeSyncOps) Dup(fd int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open[fd] {
		return InvalidFence, fmt.Errorf("dup of closed fd %d", fd)
	}
	dup := o.allocLocked()
	o.pending[dup] = o.pending[fd]
	return dup, nil
}

func (o *fakeSyncOps) Close(fd int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open[fd] {
		return fmt.Errorf("close of closed fd %d", fd)
	}
	delete(o.open, fd)
	delete(o.pending, fd)
	return nil
}

func (o *fakeSyncOps) Merge(_ string, fd1, fd2 int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open[fd1] || !o.open[fd2] {
		return InvalidFence, fmt.Errorf("merge of closed fd %d or %d", fd1, fd2)
	}
	o.merges++
	fd := o.allocLocked()
	o.pending[fd] = o.pending[fd1] || o.pending[fd2]
	return fd, nil
}

// recordingReport remembers the order of report calls.
type recordingReport struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReport) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingReport) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingReport) ListSubmittedToPrepare(DisplayLists) { r.add("prepare") }
func (r *recordingReport) PrepareDone(DisplayLists)            { r.add("prepare done") }
func (r *recordingReport) SetList(DisplayLists)                { r.add("set") }
func (r *recordingReport) SetDone(DisplayLists)                { r.add("set done") }
func (r *recordingReport) VsyncOn()                            { r.add("vsync on") }
func (r *recordingReport) VsyncOff()                           { r.add("vsync off") }
func (r *recordingReport) DisplayOn()                          { r.add("display on") }
func (r *recordingReport) DisplayOff()                         { r.add("display off") }
func (r *recordingReport) PowerMode(m PowerMode)               { r.add("power " + m.String()) }
func (r *recordingReport) HwcVersion(v string)                 { r.add("hwc" + v) }

// fakeHwc1 is a scriptable HWC1 function table.
type fakeHwc1 struct {
	mu sync.Mutex

	procs *Hwc1Procs
	// onRegister runs inside RegisterProcs, as a driver delivering its
	// initial hotplug would.
	onRegister func(p *Hwc1Procs)

	prepareRC, setRC int
	prepared, set    int
	lastCount        int

	eventControl []string
	blank        []string
	powerModes   []int

	configs       map[int][]uint32
	configsRC     map[int]int
	attrRC        int
	activeConfig  map[int]int
	setActiveRC   int
	setActiveCall []int
}

func newFakeHwc1() *fakeHwc1 {
	return &fakeHwc1{
		configs:      map[int][]uint32{0: {7}},
		configsRC:    map[int]int{1: -19},
		activeConfig: map[int]int{0: 0},
	}
}

func (d *fakeHwc1) RegisterProcs(p *Hwc1Procs) {
	d.mu.Lock()
	d.procs = p
	hook := d.onRegister
	d.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (d *fakeHwc1) Prepare(displays []*DisplayList) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepared++
	d.lastCount = len(displays)
	return d.prepareRC
}

func (d *fakeHwc1) Set(displays []*DisplayList) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set++
	d.lastCount = len(displays)
	return d.setRC
}

func (d *fakeHwc1) EventControl(display, event, enabled int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventControl = append(d.eventControl, fmt.Sprintf("%d:%d:%d", display, event, enabled))
	return 0
}

func (d *fakeHwc1) Blank(display, blank int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blank = append(d.blank, fmt.Sprintf("%d:%d", display, blank))
	return 0
}

func (d *fakeHwc1) GetDisplayConfigs(display int, configs []uint32) (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rc := d.configsRC[display]; rc != 0 {
		return 0, rc
	}
	return copy(configs, d.configs[display]), 0
}

func (d *fakeHwc1) GetDisplayAttributes(_ int, _ uint32, keys []Attribute, values []int32) int {
	for i := 0; i < len(keys) && keys[i] != AttributeNone; i++ {
		switch keys[i] {
		case AttributeWidth:
			values[i] = 1080
		case AttributeHeight:
			values[i] = 1920
		}
	}
	return d.attrRC
}

func (d *fakeHwc1) GetActiveConfig(display int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.activeConfig[display]; ok {
		return c
	}
	return -1
}

func (d *fakeHwc1) SetActiveConfig(display int, index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setActiveCall = append(d.setActiveCall, index)
	return d.setActiveRC
}

func (d *fakeHwc1) SetPowerMode(_ int, mode int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerModes = append(d.powerModes, mode)
	return 0
}

func (d *fakeHwc1) registered() *Hwc1Procs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.procs
}

// fakeHwc2Layer records the last value of every property.
type fakeHwc2Layer struct {
	composition Hwc2Composition
	blend       Hwc2BlendMode
	crop        [4]float32
	frame       [4]int32
	visible     [4]int32
	blendErr    Hwc2Error
}

func (l *fakeHwc2Layer) SetCompositionType(t Hwc2Composition) Hwc2Error {
	l.composition = t
	return Hwc2ErrorNone
}

func (l *fakeHwc2Layer) SetBlendMode(m Hwc2BlendMode) Hwc2Error {
	l.blend = m
	return l.blendErr
}

func (l *fakeHwc2Layer) SetSourceCrop(left, top, right, bottom float32) Hwc2Error {
	l.crop = [4]float32{left, top, right, bottom}
	return Hwc2ErrorNone
}

func (l *fakeHwc2Layer) SetDisplayFrame(left, top, right, bottom int32) Hwc2Error {
	l.frame = [4]int32{left, top, right, bottom}
	return Hwc2ErrorNone
}

func (l *fakeHwc2Layer) SetVisibleRegion(left, top, right, bottom int32) Hwc2Error {
	l.visible = [4]int32{left, top, right, bottom}
	return Hwc2ErrorNone
}

// fakeHwc2Display is a scriptable compat display.
type fakeHwc2Display struct {
	mu  sync.Mutex
	ops *fakeSyncOps

	layers   []*fakeHwc2Layer
	blendErr Hwc2Error

	validateTypes, validateRequests uint32
	validateErr                     Hwc2Error
	acceptErr                       Hwc2Error
	accepted                        int

	targetBuffer  *WindowBuffer
	targetFence   int
	targetErr     Hwc2Error
	presentErr    Hwc2Error
	presentFences []int
	presented     int

	vsync      []Hwc2Vsync
	vsyncErr   Hwc2Error
	powerModes []PowerMode
	config     *Hwc2DisplayConfig
}

func newFakeHwc2Display(ops *fakeSyncOps) *fakeHwc2Display {
	return &fakeHwc2Display{
		ops:         ops,
		targetFence: InvalidFence,
		config: &Hwc2DisplayConfig{
			ID: 4, Width: 720, Height: 1280, VsyncPeriod: 16666666, DpiX: 320.5, DpiY: 321.9,
		},
	}
}

func (d *fakeHwc2Display) CreateLayer() Hwc2Layer {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &fakeHwc2Layer{blendErr: d.blendErr}
	d.layers = append(d.layers, l)
	return l
}

func (d *fakeHwc2Display) Validate() (uint32, uint32, Hwc2Error) {
	return d.validateTypes, d.validateRequests, d.validateErr
}

func (d *fakeHwc2Display) AcceptChanges() Hwc2Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accepted++
	return d.acceptErr
}

func (d *fakeHwc2Display) SetClientTarget(_ uint32, buffer *WindowBuffer, acquireFence int, _ int32) Hwc2Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targetBuffer = buffer
	d.targetFence = acquireFence
	if acquireFence >= 0 {
		_ = d.ops.Close(acquireFence)
	}
	return d.targetErr
}

func (d *fakeHwc2Display) Present() (int, Hwc2Error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presented++
	if d.presentErr != Hwc2ErrorNone {
		return InvalidFence, d.presentErr
	}
	fd := d.ops.fence()
	d.presentFences = append(d.presentFences, fd)
	return fd, Hwc2ErrorNone
}

func (d *fakeHwc2Display) SetVsyncEnabled(enabled Hwc2Vsync) Hwc2Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vsync = append(d.vsync, enabled)
	return d.vsyncErr
}

func (d *fakeHwc2Display) SetPowerMode(mode PowerMode) Hwc2Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerModes = append(d.powerModes, mode)
	return Hwc2ErrorNone
}

func (d *fakeHwc2Display) ActiveConfig() *Hwc2DisplayConfig {
	return d.config
}

// fakeHwc2 is a compat device whose displays appear through hotplug.
type fakeHwc2 struct {
	mu       sync.Mutex
	listener *Hwc2Listener
	seq      int32
	displays map[uint64]*fakeHwc2Display
	hotplugs []string

	// onRegister runs inside RegisterCallback.
	onRegister func(l *Hwc2Listener)
}

func newFakeHwc2() *fakeHwc2 {
	return &fakeHwc2{displays: map[uint64]*fakeHwc2Display{}}
}

func (d *fakeHwc2) RegisterCallback(l *Hwc2Listener, seq int32) {
	d.mu.Lock()
	d.listener = l
	d.seq = seq
	hook := d.onRegister
	d.mu.Unlock()
	if hook != nil {
		hook(l)
	}
}

func (d *fakeHwc2) OnHotplug(display uint64, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hotplugs = append(d.hotplugs, fmt.Sprintf("%d:%t", display, connected))
}

func (d *fakeHwc2) GetDisplayByID(id uint64) Hwc2Display {
	d.mu.Lock()
	defer d.mu.Unlock()
	if disp, ok := d.displays[id]; ok {
		return disp
	}
	return nil
}

func (d *fakeHwc2) add(id uint64, disp *fakeHwc2Display) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displays[id] = disp
}

func (d *fakeHwc2) registered() *Hwc2Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// fakeGralloc hands out fence-tracking buffers without touching memory.
type fakeGralloc struct {
	mu     sync.Mutex
	ops    SyncFileOps
	sizes  []Size
	usages []uint32
	fail   error
}

func (g *fakeGralloc) AllocBuffer(size Size, halFormat uint32, usage uint32) (NativeBuffer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.sizes = append(g.sizes, size)
	g.usages = append(g.usages, usage)
	anwb := &WindowBuffer{
		Width: size.Width, Height: size.Height, Stride: size.Width,
		Format: halFormat, Usage: usage, Handle: &NativeHandle{},
	}
	return NewBuffer(anwb, g.ops, nil), nil
}

// timedSyncOps sleeps in Wait like a real sync file. Descriptors signal at a
// fixed time, or never when none is set.
type timedSyncOps struct {
	mu       sync.Mutex
	next     int
	signalAt map[int]time.Time
	waits    []int
}

func newTimedSyncOps() *timedSyncOps {
	return &timedSyncOps{next: 100, signalAt: map[int]time.Time{}}
}

// fenceSignallingAt returns a descriptor that signals at t, or never if t
// is zero.
func (o *timedSyncOps) fenceSignallingAt(t time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	fd := o.next
	o.next++
	o.signalAt[fd] = t
	return fd
}

func (o *timedSyncOps) waitTimeouts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.waits...)
}

func (o *timedSyncOps) Wait(fd int, timeoutMs int) (bool, error) {
	o.mu.Lock()
	o.waits = append(o.waits, timeoutMs)
	at, ok := o.signalAt[fd]
	o.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("wait on closed fd %d", fd)
	}
	if timeoutMs < 0 {
		if at.IsZero() {
			return false, errWouldBlock
		}
		time.Sleep(time.Until(at))
		return true, nil
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	if !at.IsZero() && !at.After(deadline) {
		time.Sleep(time.Until(at))
		return true, nil
	}
	time.Sleep(time.Until(deadline))
	return false, nil
}

func (o *timedSyncOps) Dup(fd int) (int, error) {
	return InvalidFence, fmt.Errorf("dup of fd %d not supported", fd)
}

func (o *timedSyncOps) Close(fd int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.signalAt[fd]; !ok {
		return fmt.Errorf("close of closed fd %d", fd)
	}
	delete(o.signalAt, fd)
	return nil
}

func (o *timedSyncOps) Merge(_ string, fd1, fd2 int) (int, error) {
	return InvalidFence, fmt.Errorf("merge of fds %d and %d not supported", fd1, fd2)
}
