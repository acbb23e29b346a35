package rpc

import "fmt"

// InterfaceDescriptor is the two-field tuple that travels on the wire
// whenever an object reference is marshalled as a parameter, in either
// direction and in any parameter slot (spec.md §3/§6, component C2).
type InterfaceDescriptor struct {
	DestinationZone DestinationZone
	Object          Object
}

func (d InterfaceDescriptor) String() string {
	return fmt.Sprintf("(%s,%s)", d.DestinationZone, d.Object)
}

// IsZero reports whether this descriptor names no object: either field being
// zero makes the whole descriptor unusable (spec boundary B1).
func (d InterfaceDescriptor) IsZero() bool {
	return d.DestinationZone.IsZero() || d.Object == NoObject
}
