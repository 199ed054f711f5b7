package hwcomposer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// DisplayName identifies a physical or virtual output.
type DisplayName int

const (
	Primary DisplayName = iota
	External
	Tertiary
	Virtual
)

func (n DisplayName) String() string {
	switch n {
	case Primary:
		return "primary"
	case External:
		return "external"
	case Tertiary:
		return "tertiary"
	case Virtual:
		return "virtual"
	default:
		return fmt.Sprintf("display(%d)", int(n))
	}
}

// HWCDisplay returns the HAL display index for n. Names the HAL table does
// not carry map to -1.
func HWCDisplay(n DisplayName) int {
	for i, name := range displayTable {
		if name == n {
			return i
		}
	}
	return -1
}

// displayNameFor maps a HAL index reported by the driver back to a name.
// Unknown indices are treated as the primary display.
func displayNameFor(raw int) DisplayName {
	if raw < 0 || raw >= len(displayTable) {
		return Primary
	}
	return displayTable[raw]
}

// ConfigID identifies one hardware display mode. It is owned by the driver.
type ConfigID uint32

// PowerMode is a HAL display power state. Values are passed to the driver
// unchecked.
type PowerMode int

const (
	PowerModeOff PowerMode = iota
	PowerModeDoze
	PowerModeNormal
	PowerModeDozeSuspend
)

func (m PowerMode) String() string {
	switch m {
	case PowerModeOff:
		return "off"
	case PowerModeDoze:
		return "doze"
	case PowerModeNormal:
		return "normal"
	case PowerModeDozeSuspend:
		return "doze_suspend"
	default:
		return fmt.Sprintf("power_mode(%d)", int(m))
	}
}

// Attribute is a display attribute key as understood by getDisplayAttributes.
type Attribute uint32

const (
	// AttributeNone terminates an attribute key list.
	AttributeNone Attribute = iota
	AttributeVsyncPeriod
	AttributeWidth
	AttributeHeight
	AttributeDPIX
	AttributeDPIY
)

// Timestamp is a vsync time on a given clock.
type Timestamp struct {
	Clock int32
	Time  time.Duration
}

// monotonicTimestamp wraps a HAL vsync time. The HAL documents
// CLOCK_MONOTONIC and every device tested agrees.
func monotonicTimestamp(ns int64) Timestamp {
	return Timestamp{Clock: unix.CLOCK_MONOTONIC, Time: time.Duration(ns)}
}

// Subscriber identifies one event subscription.
type Subscriber = uuid.UUID

// NewSubscriber returns a fresh subscriber identity.
func NewSubscriber() Subscriber {
	return uuid.New()
}
