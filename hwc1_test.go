package hwcomposer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHwc1(t *testing.T, d *fakeHwc1, opts ...Option) *Hwc1Wrapper {
	t.Helper()
	w := NewHwc1Wrapper(d, opts...)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func singleList() DisplayLists {
	var l DisplayLists
	l[0] = &DisplayList{Layers: []Layer{{CompositionType: CompositionFramebufferTarget}}}
	return l
}

func TestHwc1RegistersProcsAndDispatches(t *testing.T) {
	d := newFakeHwc1()
	rep := &recordingReport{}
	w := newTestHwc1(t, d, WithReport(rep))
	procs := d.registered()
	require.NotNil(t, procs)
	assert.Equal(t, []string{"hwc1"}, rep.seen())

	var vsyncs []Timestamp
	var hotplugs []string
	invalidates := 0
	w.SubscribeToEvents(NewSubscriber(),
		func(name DisplayName, ts Timestamp) { vsyncs = append(vsyncs, ts) },
		func(name DisplayName, connected bool) {
			if connected {
				hotplugs = append(hotplugs, name.String())
			}
		},
		func() { invalidates++ })

	procs.Vsync(0, 123456)
	procs.Hotplug(1, 1)
	procs.Invalidate()

	require.Len(t, vsyncs, 1)
	assert.Equal(t, 123456*time.Nanosecond, vsyncs[0].Time)
	assert.Equal(t, []string{"external"}, hotplugs)
	assert.Equal(t, 1, invalidates)
}

func TestHwc1PlugCache(t *testing.T) {
	d := newFakeHwc1()
	d.configs[1] = []uint32{3, 4}
	delete(d.configsRC, 1)
	w := newTestHwc1(t, d)

	ids, err := w.DisplayConfigs(External)
	require.NoError(t, err)
	assert.Empty(t, ids, "external starts unplugged")

	d.registered().Hotplug(1, 1)
	ids, err = w.DisplayConfigs(External)
	require.NoError(t, err)
	assert.Equal(t, []ConfigID{3, 4}, ids)

	d.registered().Hotplug(1, 0)
	ids, err = w.DisplayConfigs(External)
	require.NoError(t, err)
	assert.Empty(t, ids, "a composer that still reports configs after unplug is ignored")

	ids, err = w.DisplayConfigs(Primary)
	require.NoError(t, err)
	assert.Equal(t, []ConfigID{7}, ids)
}

func TestHwc1DisplayConfigsDriverError(t *testing.T) {
	d := newFakeHwc1()
	d.configsRC[0] = -22
	w := newTestHwc1(t, d)
	ids, err := w.DisplayConfigs(Primary)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHwc1InitialHotplugDuringRegistration(t *testing.T) {
	d := newFakeHwc1()
	d.onRegister = func(p *Hwc1Procs) { p.Hotplug(1, 1) }
	w := newTestHwc1(t, d)
	assert.True(t, w.events.isPlugged(External))
}

func TestHwc1CloseStopsDelivery(t *testing.T) {
	d := newFakeHwc1()
	w := NewHwc1Wrapper(d)
	calls := 0
	w.SubscribeToEvents(NewSubscriber(), nil, nil, func() { calls++ })
	procs := d.registered()

	procs.Invalidate()
	require.NoError(t, w.Close())
	procs.Invalidate()
	procs.Vsync(0, 1)
	procs.Hotplug(0, 0)
	assert.Equal(t, 1, calls)
}

func TestHwc1CloseWaitsForRunningHook(t *testing.T) {
	d := newFakeHwc1()
	w := NewHwc1Wrapper(d)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	afterClose := false
	w.SubscribeToEvents(NewSubscriber(), nil, nil, func() {
		close(entered)
		<-release
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, afterClose, "handler ran after Close returned")
	})

	go d.registered().Invalidate()
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = w.Close()
		mu.Lock()
		afterClose = true
		mu.Unlock()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a hook was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-closed
}

func TestHwc1ClosingStaleWrapperKeepsCurrent(t *testing.T) {
	old := NewHwc1Wrapper(newFakeHwc1())
	d := newFakeHwc1()
	cur := newTestHwc1(t, d)
	calls := 0
	cur.SubscribeToEvents(NewSubscriber(), nil, nil, func() { calls++ })

	require.NoError(t, old.Close())
	d.registered().Invalidate()
	assert.Equal(t, 1, calls)
}

func TestHwc1PrepareAndSet(t *testing.T) {
	d := newFakeHwc1()
	rep := &recordingReport{}
	w := newTestHwc1(t, d, WithReport(rep))

	lists := singleList()
	require.NoError(t, w.Prepare(lists))
	require.NoError(t, w.Set(lists, nil))
	assert.Equal(t, 1, d.prepared)
	assert.Equal(t, 1, d.set)
	assert.Equal(t, 1, d.lastCount)
	assert.Equal(t, []string{"hwc1", "prepare", "prepare done", "set", "set done"}, rep.seen())

	d.prepareRC = -5
	err := w.Prepare(lists)
	require.ErrorIs(t, err, ErrDevice)
	assert.Contains(t, err.Error(), "error during hwc prepare()")
}

func TestHwc1SetErrorClassification(t *testing.T) {
	twoLists := singleList()
	twoLists[1] = &DisplayList{}

	tests := []struct {
		name     string
		lists    DisplayLists
		external bool
		wantKind Kind
	}{
		{"single display", singleList(), false, KindDevice},
		{"external gone", twoLists, false, KindDisplayDisconnected},
		{"external still there", twoLists, true, KindExternalDisplay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeHwc1()
			d.setRC = -1
			if tt.external {
				delete(d.configsRC, 1)
			}
			w := newTestHwc1(t, d)
			err := w.Set(tt.lists, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Contains(t, err.Error(), "rc = ffffffff")
		})
	}
}

func TestHwc1VsyncAndBlank(t *testing.T) {
	d := newFakeHwc1()
	w := newTestHwc1(t, d)

	require.NoError(t, w.VsyncSignalOn(Primary))
	require.NoError(t, w.VsyncSignalOff(External))
	require.NoError(t, w.DisplayOn(Primary))
	require.NoError(t, w.DisplayOff(Primary))
	require.NoError(t, w.SetPowerMode(Primary, PowerModeDoze))

	assert.Equal(t, []string{"0:0:1", "1:0:0"}, d.eventControl)
	assert.Equal(t, []string{"0:0", "0:1"}, d.blank)
	assert.Equal(t, []int{int(PowerModeDoze)}, d.powerModes)

	err := w.VsyncSignalOn(Tertiary)
	if NumDisplayTypes == 3 {
		assert.ErrorIs(t, err, ErrUnsupported)
	}
}

func TestHwc1ActiveConfig(t *testing.T) {
	d := newFakeHwc1()
	w := newTestHwc1(t, d)

	assert.True(t, w.HasActiveConfig(Primary))
	id, err := w.ActiveConfigFor(Primary)
	require.NoError(t, err)
	assert.Equal(t, ConfigID(0), id)

	assert.False(t, w.HasActiveConfig(External))
	_, err = w.ActiveConfigFor(External)
	assert.ErrorIs(t, err, ErrNoActiveConfig)

	require.NoError(t, w.SetActiveConfig(Primary, 2))
	assert.Equal(t, []int{2}, d.setActiveCall)
	d.setActiveRC = -22
	assert.ErrorIs(t, w.SetActiveConfig(Primary, 1), ErrDevice)
}

func TestHwc1DisplayAttributes(t *testing.T) {
	w := newTestHwc1(t, newFakeHwc1())
	keys := []Attribute{AttributeWidth, AttributeHeight, AttributeNone}
	values := make([]int32, len(keys))
	require.NoError(t, w.DisplayAttributes(Primary, 7, keys, values))
	assert.Equal(t, []int32{1080, 1920, 0}, values)
}

func TestHwc1DisplayConnected(t *testing.T) {
	w := newTestHwc1(t, newFakeHwc1())
	assert.True(t, w.DisplayConnected(Primary))
	assert.False(t, w.DisplayConnected(External))
}
