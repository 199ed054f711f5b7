package hwcomposer

import (
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

// VsyncFunc receives vsync events.
type VsyncFunc func(name DisplayName, ts Timestamp)

// HotplugFunc receives connect and disconnect events.
type HotplugFunc func(name DisplayName, connected bool)

// InvalidateFunc receives redraw requests.
type InvalidateFunc func()

type callbacks struct {
	vsync      VsyncFunc
	hotplug    HotplugFunc
	invalidate InvalidateFunc
}

// registry maps subscribers to their handlers and caches the plug state
// of each display. Dispatch runs with mu held, so an unsubscribed handler
// is never called once UnsubscribeFromEvents has returned. Handlers must
// not subscribe or unsubscribe from inside a callback.
type registry struct {
	mu   sync.Mutex
	subs map[Subscriber]callbacks

	plugged [NumDisplayTypes]atomic.Bool
}

func newRegistry() *registry {
	return &registry{subs: make(map[Subscriber]callbacks)}
}

func (r *registry) subscribe(s Subscriber, v VsyncFunc, h HotplugFunc, i InvalidateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s] = callbacks{vsync: v, hotplug: h, invalidate: i}
}

func (r *registry) unsubscribe(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, s)
}

func (r *registry) setPlugged(name DisplayName, connected bool) {
	if i := HWCDisplay(name); i >= 0 {
		r.plugged[i].Store(connected)
	}
}

func (r *registry) isPlugged(name DisplayName) bool {
	i := HWCDisplay(name)
	return i >= 0 && r.plugged[i].Load()
}

func (r *registry) vsync(name DisplayName, ts Timestamp) {
	r.each("vsync", func(c callbacks) {
		if c.vsync != nil {
			c.vsync(name, ts)
		}
	})
}

// hotplug updates the plug cache before any subscriber hears about it.
func (r *registry) hotplug(name DisplayName, connected bool) {
	r.setPlugged(name, connected)
	Logger().Info("hotplug", "display", name.String(), "connected", connected)
	r.each("hotplug", func(c callbacks) {
		if c.hotplug != nil {
			c.hotplug(name, connected)
		}
	})
}

func (r *registry) invalidate() {
	r.each("invalidate", func(c callbacks) {
		if c.invalidate != nil {
			c.invalidate()
		}
	})
}

// each calls fn for every subscriber. A panicking handler is logged and
// skipped; it never reaches the driver thread.
func (r *registry) each(event string, fn func(callbacks)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s, c := range r.subs {
		var pc panics.Catcher
		pc.Try(func() { fn(c) })
		if rec := pc.Recovered(); rec != nil {
			Logger().Warn("discarded failure in event handler",
				"event", event, "subscriber", s.String(), "panic", rec.Value)
		}
	}
}
