package rpc

import (
	"errors"
	"fmt"
)

// Code is a frozen protocol-level error value (spec.md §6). Codes occupy the
// disjoint range [1, reservedCodeCeiling); an application error returned by a
// callee implementation is any error value outside that range, and is
// surfaced to the caller verbatim (spec.md §7).
type Code uint32

// reservedCodeCeiling bounds the range Code values may occupy. Application
// error codes, if a generated stub chooses to use numeric ones, must stay at
// or above this value.
const reservedCodeCeiling Code = 1 << 16

// The frozen set of protocol error codes (spec.md §6). OK is the zero value
// so a freshly zeroed Code never looks like a real failure by accident.
const (
	OK Code = iota
	InvalidData
	InvalidInterfaceID
	InvalidMethodID
	InvalidVersion
	IncompatibleSerialisation
	IncompatibleService
	TransportError
	ZoneNotFound
	TimedOut
	NeedMoreMemory
	Exception
)

var codeNames = map[Code]string{
	OK:                        "OK",
	InvalidData:               "INVALID_DATA",
	InvalidInterfaceID:        "INVALID_INTERFACE_ID",
	InvalidMethodID:           "INVALID_METHOD_ID",
	InvalidVersion:            "INVALID_VERSION",
	IncompatibleSerialisation: "INCOMPATIBLE_SERIALISATION",
	IncompatibleService:       "INCOMPATIBLE_SERVICE",
	TransportError:            "TRANSPORT_ERROR",
	ZoneNotFound:              "ZONE_NOT_FOUND",
	TimedOut:                  "TIMED_OUT",
	NeedMoreMemory:            "NEED_MORE_MEMORY",
	Exception:                 "EXCEPTION",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("APPLICATION_ERROR(%d)", uint32(c))
}

// Error satisfies the error interface so a Code can be returned directly
// from any operation named in spec.md §4.1 without an extra wrapper type.
func (c Code) Error() string { return c.String() }

// IsProtocolCode reports whether c lies in the reserved protocol range below
// reservedCodeCeiling, as opposed to an application-defined error value
// passed through verbatim. Any value in that range reports true, including
// ones that are not among the frozen codes above.
func (c Code) IsProtocolCode() bool { return c < reservedCodeCeiling }

// AsCode recovers a Code from an arbitrary error, if the error chain
// contains one -- including a Code wrapped with fmt.Errorf's %w, as
// roundTripNegotiated does when it attaches transport/decode context to a
// protocol code. It never misclassifies an application error as a protocol
// one: only a chain that actually bottoms out in a Code value matches.
func AsCode(err error) (Code, bool) {
	if err == nil {
		return OK, true
	}
	var c Code
	ok := errors.As(err, &c)
	return c, ok
}
