package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterfaceOrdinalDeterministic(t *testing.T) {
	methods := []Method{{Name: "Square", Params: []string{"int64"}}}
	a := NewBuilder().InterfaceOrdinal("zonerpc.examples.calc.ICalc", methods, LegacyFlags{})
	b := NewBuilder().InterfaceOrdinal("zonerpc.examples.calc.ICalc", methods, LegacyFlags{})
	require.Equal(t, a, b)
	require.NotZero(t, a)
}

func TestInterfaceOrdinalSensitiveToShape(t *testing.T) {
	base := NewBuilder().InterfaceOrdinal("ns.IThing", []Method{{Name: "Foo"}}, LegacyFlags{})
	renamedMethod := NewBuilder().InterfaceOrdinal("ns.IThing", []Method{{Name: "Bar"}}, LegacyFlags{})
	renamedType := NewBuilder().InterfaceOrdinal("ns.IOther", []Method{{Name: "Foo"}}, LegacyFlags{})
	require.NotEqual(t, base, renamedMethod)
	require.NotEqual(t, base, renamedType)
}

func TestInterfaceOrdinalCycleContributesZero(t *testing.T) {
	b := NewBuilder()
	b.inProgress["ns.ISelfRef"] = true
	ordinal := b.InterfaceOrdinal("ns.ISelfRef", []Method{{Name: "Foo"}}, LegacyFlags{})
	require.Zero(t, ordinal)
}

func TestContaminateDeprecatedFunctionFlag(t *testing.T) {
	methods := []Method{{Name: "Foo", Deprecated: true, Attrs: []string{"x"}}}
	clean := NewBuilder().InterfaceOrdinal("ns.IThing", methods, LegacyFlags{})
	contaminated := NewBuilder().InterfaceOrdinal("ns.IThing", methods, LegacyFlags{ContaminateDeprecatedFunction: true})
	require.NotEqual(t, clean, contaminated)
}

func TestLegacyEmptyTemplateStructIDFlag(t *testing.T) {
	fields := []Field{{TypeFragment: "4", Name: "x"}}
	modern := NewBuilder().StructOrdinal("ns.SThing", nil, fields, nil, LegacyFlags{})
	legacy := NewBuilder().StructOrdinal("ns.SThing", nil, fields, nil, LegacyFlags{LegacyEmptyTemplateStructID: true})
	// With no template parameters both calls omit the "template<...>"
	// prefix, and StructOrdinal's seed does not depend on the flag, so the
	// two ordinals agree.
	require.Equal(t, modern, legacy)
}

func TestFormatOrdinalIsDecimal(t *testing.T) {
	require.Equal(t, "0", FormatOrdinal(0))
	require.Equal(t, "12345", FormatOrdinal(12345))
}
