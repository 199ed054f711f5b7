package hwcomposer

import (
	"errors"
	"fmt"
)

// Kind classifies failures so that callers can pick a recovery path
// without parsing messages.
type Kind int

const (
	// KindDevice is a non-zero HAL return code.
	KindDevice Kind = iota + 1
	// KindNoActiveConfig means the display has no active configuration yet.
	// This is expected while a hotplug is being processed.
	KindNoActiveConfig
	// KindUnsupported is a caller or collaborator contract violation.
	KindUnsupported
	// KindDisplayDisconnected is a commit failure caused by the external
	// display going away.
	KindDisplayDisconnected
	// KindExternalDisplay is a commit failure on a still connected external
	// display.
	KindExternalDisplay
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device error"
	case KindNoActiveConfig:
		return "no active config"
	case KindUnsupported:
		return "unsupported"
	case KindDisplayDisconnected:
		return "display disconnected"
	case KindExternalDisplay:
		return "external display error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrDevice              = &Error{Kind: KindDevice}
	ErrNoActiveConfig      = &Error{Kind: KindNoActiveConfig}
	ErrUnsupported         = &Error{Kind: KindUnsupported}
	ErrDisplayDisconnected = &Error{Kind: KindDisplayDisconnected}
	ErrExternalDisplay     = &Error{Kind: KindExternalDisplay}
)

// Error is the failure value shared by both device generations.
type Error struct {
	Kind Kind
	Op   string
	// Code is the raw HAL return code, zero when not applicable.
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s. rc = %x", msg, uint32(e.Code))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Code == 0 && t.Err == nil && t.Kind == e.Kind
}

func deviceError(op, msg string, rc int) error {
	return &Error{Kind: KindDevice, Op: op, Msg: msg, Code: rc}
}

func unsupported(op, format string, args ...any) error {
	return &Error{Kind: KindUnsupported, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
