package types

import "fmt"

// ErrKind classifies allocation failures so callers can branch on intent
// rather than message text.
type ErrKind int

const (
	// ErrKindInvalidAddress covers out-of-bounds components: wrong segment,
	// missing bus, slot outside the bus window, function above the maximum.
	ErrKindInvalidAddress ErrKind = iota
	// ErrKindIncompatibleBus means the bus cannot host the device: the
	// connection types don't intersect, or the device needs hotplug and the
	// bus doesn't offer it.
	ErrKindIncompatibleBus
	// ErrKindAddressInUse is a double reservation of an exact function or a
	// whole slot.
	ErrKindAddressInUse
	// ErrKindCapacityExhausted means a full search found no free slot,
	// device number or port.
	ErrKindCapacityExhausted
	// ErrKindUnsupportedTopology covers requests the target cannot satisfy
	// at all, e.g. bridges on a binary without bridge support, or automatic
	// growth for a connection type that cannot ride a bridge.
	ErrKindUnsupportedTopology
	// ErrKindRegisterConflict is a scalar-register collision on an
	// explicitly configured value.
	ErrKindRegisterConflict
	// ErrKindInternal marks conditions that indicate a bug in the engine or
	// its compatibility tables, never a user mistake.
	ErrKindInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindInvalidAddress:
		return "invalid address"
	case ErrKindIncompatibleBus:
		return "incompatible bus"
	case ErrKindAddressInUse:
		return "address in use"
	case ErrKindCapacityExhausted:
		return "capacity exhausted"
	case ErrKindUnsupportedTopology:
		return "unsupported topology"
	case ErrKindRegisterConflict:
		return "register conflict"
	case ErrKindInternal:
		return "internal error"
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Origin records whether the failing address came from user configuration
// or was computed by the engine itself.
type Origin int

const (
	// EngineOrigin errors indicate a missing case in the engine's own
	// tables or logic; they should never occur on valid input.
	EngineOrigin Origin = iota
	// ConfigOrigin errors are actionable by the user: the supplied
	// definition asked for something impossible.
	ConfigOrigin
)

func (o Origin) String() string {
	if o == ConfigOrigin {
		return "configuration"
	}
	return "engine"
}

// Error is the typed error returned by every allocator operation.
type Error struct {
	Kind   ErrKind
	Origin Origin
	Msg    string
	Err    error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against the package sentinels, so
// errors.Is(err, types.ErrAddressInUse) works on freshly-built errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg != "" && t.Msg != e.Msg {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching. Returned errors are never these exact
// values; they are fresh *Error instances matched by Kind.
var (
	ErrInvalidAddress      = &Error{Kind: ErrKindInvalidAddress}
	ErrIncompatibleBus     = &Error{Kind: ErrKindIncompatibleBus}
	ErrAddressInUse        = &Error{Kind: ErrKindAddressInUse}
	ErrCapacityExhausted   = &Error{Kind: ErrKindCapacityExhausted}
	ErrUnsupportedTopology = &Error{Kind: ErrKindUnsupportedTopology}
	ErrRegisterConflict    = &Error{Kind: ErrKindRegisterConflict}
	ErrInternal            = &Error{Kind: ErrKindInternal}
)

// Newf builds a typed error with a formatted message.
func Newf(kind ErrKind, origin Origin, format string, args ...any) *Error {
	return &Error{Kind: kind, Origin: origin, Msg: fmt.Sprintf(format, args...)}
}

// ConfigErrorf is shorthand for a ConfigOrigin error.
func ConfigErrorf(kind ErrKind, format string, args ...any) *Error {
	return Newf(kind, ConfigOrigin, format, args...)
}

// EngineErrorf is shorthand for an EngineOrigin error.
func EngineErrorf(kind ErrKind, format string, args ...any) *Error {
	return Newf(kind, EngineOrigin, format, args...)
}

// OriginOf picks ConfigOrigin when the address under test came from user
// configuration. Most allocator entry points thread a fromConfig flag; this
// keeps the conversion in one place.
func OriginOf(fromConfig bool) Origin {
	if fromConfig {
		return ConfigOrigin
	}
	return EngineOrigin
}

// IsKind reports whether err (or anything it wraps) is a buskit error of
// the given kind.
func IsKind(err error, kind ErrKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
