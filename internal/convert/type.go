package convert

import (
	"fmt"
	"strings"
)

// Kind is the semantic type a raw value is converted to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindBool
	KindEnum
	KindUUID
	KindDate
	KindDateTime
	KindOffsetDateTime
	KindInstant
	KindTimestamp
	KindCustom
)

var kindNames = map[Kind]string{
	KindString:         "string",
	KindInt:            "int",
	KindUint:           "uint",
	KindFloat:          "float",
	KindDecimal:        "decimal",
	KindBool:           "bool",
	KindEnum:           "enum",
	KindUUID:           "uuid",
	KindDate:           "date",
	KindDateTime:       "datetime",
	KindOffsetDateTime: "offset_datetime",
	KindInstant:        "instant",
	KindTimestamp:      "timestamp",
	KindCustom:         "custom",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Temporal reports whether the kind is parsed with a date/time layout.
func (k Kind) Temporal() bool {
	switch k {
	case KindDate, KindDateTime, KindOffsetDateTime, KindInstant, KindTimestamp:
		return true
	}
	return false
}

// HasClock reports whether values of the kind carry a time of day.
func (k Kind) HasClock() bool {
	return k.Temporal() && k != KindDate
}

// Type describes the target of a conversion.
type Type struct {
	Kind Kind
	// Bits is the width of numeric kinds. Zero means 64.
	Bits int
	// Enum lists the allowed constants of an enum kind.
	Enum []string
	// Name identifies a custom kind for the fallback converter.
	Name string
}

func (t Type) String() string {
	switch t.Kind {
	case KindInt, KindUint, KindFloat:
		return fmt.Sprintf("%s%d", t.Kind, t.bits())
	case KindCustom:
		return t.Name
	}
	return t.Kind.String()
}

func (t Type) bits() int {
	if t.Bits == 0 {
		return 64
	}
	return t.Bits
}

var (
	String  = Type{Kind: KindString}
	Bool    = Type{Kind: KindBool}
	UUID    = Type{Kind: KindUUID}
	Decimal = Type{Kind: KindDecimal}
)

// Enum returns an enum type over the given constants.
func Enum(constants ...string) Type {
	return Type{Kind: KindEnum, Enum: constants}
}

// ParseType maps a type name used in definitions files to a Type.
// Names it does not know become custom types handled by the fallback.
func ParseType(name string) Type {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "string", "text":
		return String
	case "int", "bigint", "int64", "long":
		return Type{Kind: KindInt, Bits: 64}
	case "int8", "byte":
		return Type{Kind: KindInt, Bits: 8}
	case "int16", "short", "smallint":
		return Type{Kind: KindInt, Bits: 16}
	case "int32", "integer":
		return Type{Kind: KindInt, Bits: 32}
	case "uint", "uint64":
		return Type{Kind: KindUint, Bits: 64}
	case "uint8":
		return Type{Kind: KindUint, Bits: 8}
	case "uint16":
		return Type{Kind: KindUint, Bits: 16}
	case "uint32":
		return Type{Kind: KindUint, Bits: 32}
	case "float", "float64", "double":
		return Type{Kind: KindFloat, Bits: 64}
	case "decimal", "numeric":
		return Decimal
	case "float32", "real":
		return Type{Kind: KindFloat, Bits: 32}
	case "bool", "boolean":
		return Bool
	case "enum":
		return Type{Kind: KindEnum}
	case "uuid":
		return UUID
	case "date":
		return Type{Kind: KindDate}
	case "datetime", "local_datetime":
		return Type{Kind: KindDateTime}
	case "offset_datetime", "timestamptz":
		return Type{Kind: KindOffsetDateTime}
	case "instant":
		return Type{Kind: KindInstant}
	case "timestamp":
		return Type{Kind: KindTimestamp}
	}
	return Type{Kind: KindCustom, Name: n}
}
