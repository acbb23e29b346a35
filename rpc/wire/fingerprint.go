package wire

import (
	"encoding/binary"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/sammck-go/zonerpc/rpc"
)

// LegacyFlags carries the two backward-compatibility toggles spec.md §4.7
// documents. New declarations must never set either; they exist only so a
// fingerprint computed for a pre-existing interface stays bit-for-bit
// reproducible. See original_source/generator/src/fingerprint_generator.cpp.
type LegacyFlags struct {
	// ContaminateDeprecatedFunction reproduces a historical bug where a
	// function's "deprecated" attribute leaked the literal string
	// "deprecated" into the seed instead of being ignored.
	ContaminateDeprecatedFunction bool

	// LegacyEmptyTemplateStructID is the compatibility toggle for whether
	// an empty template-parameter list enters a struct's seed.
	// StructOrdinal has no separate is-template input: it omits the
	// "template<...>" prefix whenever templateParams is empty and writes it
	// otherwise, so setting this flag does not change any ordinal.
	LegacyEmptyTemplateStructID bool
}

// Method describes one method's contribution to an interface's canonical
// form: attrs are "name" or "name=value" tokens in declaration order, and
// Params are the already-substituted parameter fragments (type id or name,
// reference modifiers, and parameter name), in declaration order.
type Method struct {
	Name       string
	Deprecated bool
	Attrs      []string
	Params     []string
}

// Field describes one struct field's contribution to a struct's canonical
// form.
type Field struct {
	TypeFragment string // type id (as decimal) or raw type name
	RefModifiers string
	Name         string
	Array        string
}

// Builder accumulates a canonical textual form per spec.md §6
// ("NS1::NS2::NAME{ [attr=val]* METHOD_NAME( ... ) ... }" for interfaces;
// "struct FULL_NAME [ : BASE_ID, ... ] { ... }" for structs) and reduces it
// to a 64-bit ordinal. It tracks types currently being hashed so a cyclic
// reference contributes 0 rather than recursing forever (spec.md §6).
type Builder struct {
	inProgress map[string]bool
}

// NewBuilder returns an empty fingerprint builder.
func NewBuilder() *Builder {
	return &Builder{inProgress: make(map[string]bool)}
}

// InterfaceOrdinal computes the fingerprint of an interface (or library)
// given its fully-qualified name, its methods in declaration order, and the
// legacy flags in force for it.
func (b *Builder) InterfaceOrdinal(fullName string, methods []Method, flags LegacyFlags) rpc.InterfaceOrdinal {
	if b.inProgress[fullName] {
		// A type recursing back to itself while being hashed contributes 0
		// (spec.md §6: "a type currently being hashed contributes 0").
		return 0
	}
	b.inProgress[fullName] = true
	defer delete(b.inProgress, fullName)

	var seed strings.Builder
	seed.WriteString(fullName)
	seed.WriteByte('{')
	for _, m := range methods {
		seed.WriteByte('[')
		if m.Deprecated {
			if flags.ContaminateDeprecatedFunction {
				seed.WriteString("deprecated")
			}
			// A non-contaminating deprecated flag drops the method's
			// attribute list entirely, matching the legacy generator.
		} else {
			for _, a := range m.Attrs {
				seed.WriteString(a)
			}
		}
		seed.WriteByte(']')
		seed.WriteString(m.Name)
		seed.WriteByte('(')
		for _, p := range m.Params {
			seed.WriteString(p)
			seed.WriteByte(',')
		}
		seed.WriteByte(')')
	}
	seed.WriteByte('}')

	return rpc.InterfaceOrdinal(hash(seed.String()))
}

// StructOrdinal computes the fingerprint of a struct given its fully
// qualified name, the already-resolved fingerprints of its base classes (as
// decimal strings, matching the generator's "std::to_string(type_id)"
// substitution), its fields in declaration order, and its template
// parameters (empty if the struct is not a template).
func (b *Builder) StructOrdinal(fullName string, baseIDs []string, fields []Field, templateParams []string, flags LegacyFlags) rpc.InterfaceOrdinal {
	if b.inProgress[fullName] {
		return 0
	}
	b.inProgress[fullName] = true
	defer delete(b.inProgress, fullName)

	var seed strings.Builder

	includeTemplatePrefix := len(templateParams) > 0
	if flags.LegacyEmptyTemplateStructID && len(templateParams) == 0 {
		includeTemplatePrefix = false
	}
	if includeTemplatePrefix {
		seed.WriteString("template<")
		seed.WriteString(strings.Join(templateParams, ","))
		seed.WriteByte('>')
	}

	seed.WriteString("struct")
	seed.WriteString(fullName)
	if len(baseIDs) > 0 {
		seed.WriteString(" : ")
		seed.WriteString(strings.Join(baseIDs, ", "))
		seed.WriteByte(' ')
	}
	seed.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			seed.WriteString(", ")
		}
		seed.WriteString(f.TypeFragment)
		seed.WriteString(f.RefModifiers)
		seed.WriteByte(' ')
		seed.WriteString(f.Name)
		if f.Array != "" {
			seed.WriteByte('[')
			seed.WriteString(f.Array)
			seed.WriteByte(']')
		}
	}
	seed.WriteByte('}')

	return rpc.InterfaceOrdinal(hash(seed.String()))
}

// FormatOrdinal renders an ordinal the way the generator substitutes a
// referenced type's fingerprint into a containing seed: a plain decimal
// string (spec.md §6, "Referenced type names are replaced by their 64-bit
// fingerprint").
func FormatOrdinal(o rpc.InterfaceOrdinal) string {
	return strconv.FormatUint(uint64(o), 10)
}

// hash implements spec.md §6's "SHA3-256 truncated to its first 8 bytes
// interpreted little-endian".
func hash(seed string) uint64 {
	sum := sha3.Sum256([]byte(seed))
	return binary.LittleEndian.Uint64(sum[:8])
}
