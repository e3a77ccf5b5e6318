package types

import "fmt"

// Capability is the eligibility of a derived trait. The zero value is
// CapNone; values are ordered so that the conjunction of two is their minimum.
type Capability uint8

const (
	CapNone   Capability = iota // not implementable
	CapManual                   // emitter writes an explicit impl
	CapDerive                   // #[derive(...)]
)

func (c Capability) String() string {
	switch c {
	case CapNone:
		return "none"
	case CapManual:
		return "manual"
	case CapDerive:
		return "derive"
	default:
		return fmt.Sprintf("Capability(%d)", c)
	}
}

// Meet is the conjunction of two capabilities.
func Meet(a, b Capability) Capability {
	return min(a, b)
}

// CapabilityFlags holds the derive decisions of a record or enum.
type CapabilityFlags struct {
	Copy    Capability
	Debug   Capability
	Default Capability
}

// AllDerive is the neutral element of the conjunction.
func AllDerive() CapabilityFlags {
	return CapabilityFlags{Copy: CapDerive, Debug: CapDerive, Default: CapDerive}
}

// Meet combines two flag sets field by field.
func (f CapabilityFlags) Meet(o CapabilityFlags) CapabilityFlags {
	return CapabilityFlags{
		Copy:    Meet(f.Copy, o.Copy),
		Debug:   Meet(f.Debug, o.Debug),
		Default: Meet(f.Default, o.Default),
	}
}

func (f CapabilityFlags) String() string {
	return fmt.Sprintf("copy=%s debug=%s default=%s", f.Copy, f.Debug, f.Default)
}

// SetCaps attaches capability flags to id.
func (g *Graph) SetCaps(id TypeID, f CapabilityFlags) {
	if n, ok := g.Node(id); ok {
		c := f
		n.Caps = &c
	}
}

// CapsOf returns the capability flags of id, if computed.
func (g *Graph) CapsOf(id TypeID) (CapabilityFlags, bool) {
	n, ok := g.Node(id)
	if !ok || n.Caps == nil {
		return CapabilityFlags{}, false
	}
	return *n.Caps, true
}
