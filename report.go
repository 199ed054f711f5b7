package hwcomposer

import (
	"log/slog"
)

// Report observes the HAL commit and control path.
type Report interface {
	ListSubmittedToPrepare(displays DisplayLists)
	PrepareDone(displays DisplayLists)
	SetList(displays DisplayLists)
	SetDone(displays DisplayLists)
	VsyncOn()
	VsyncOff()
	DisplayOn()
	DisplayOff()
	PowerMode(mode PowerMode)
	HwcVersion(version string)
}

// NullReport discards everything.
type NullReport struct{}

func (NullReport) ListSubmittedToPrepare(DisplayLists) {}
func (NullReport) PrepareDone(DisplayLists)            {}
func (NullReport) SetList(DisplayLists)                {}
func (NullReport) SetDone(DisplayLists)                {}
func (NullReport) VsyncOn()                            {}
func (NullReport) VsyncOff()                           {}
func (NullReport) DisplayOn()                          {}
func (NullReport) DisplayOff()                         {}
func (NullReport) PowerMode(PowerMode)                 {}
func (NullReport) HwcVersion(string)                   {}

// LogReport writes the report to a slog.Logger. Per-frame events are logged
// at debug level.
type LogReport struct {
	log *slog.Logger
}

// NewLogReport returns a report writing to l, or to the package logger when
// l is nil.
func NewLogReport(l *slog.Logger) *LogReport {
	if l == nil {
		l = Logger()
	}
	return &LogReport{log: l.With("component", "hwc")}
}

func (r *LogReport) ListSubmittedToPrepare(d DisplayLists) {
	r.log.Debug("list submitted to prepare", listAttrs(d)...)
}

func (r *LogReport) PrepareDone(d DisplayLists) {
	r.log.Debug("prepare done", listAttrs(d)...)
}

func (r *LogReport) SetList(d DisplayLists) {
	r.log.Debug("set list", listAttrs(d)...)
}

func (r *LogReport) SetDone(d DisplayLists) {
	r.log.Debug("set done", listAttrs(d)...)
}

func (r *LogReport) VsyncOn()    { r.log.Info("vsync on") }
func (r *LogReport) VsyncOff()   { r.log.Info("vsync off") }
func (r *LogReport) DisplayOn()  { r.log.Info("display on") }
func (r *LogReport) DisplayOff() { r.log.Info("display off") }

func (r *LogReport) PowerMode(mode PowerMode) {
	r.log.Info("power mode", "mode", mode.String())
}

func (r *LogReport) HwcVersion(version string) {
	r.log.Info("hwc version", "version", version)
}

func listAttrs(d DisplayLists) []any {
	attrs := []any{"displays", d.Active()}
	for i := 0; i < d.Active(); i++ {
		attrs = append(attrs, slog.Int(displayNameFor(i).String()+"_layers", len(d[i].Layers)))
	}
	return attrs
}
