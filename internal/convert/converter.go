package convert

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fallback converts kinds the converter has no built-in rule for.
// It returns ok=false when it does not handle the type.
type Fallback interface {
	Convert(t Type, raw string) (value any, ok bool, err error)
}

// FallbackFunc adapts a function to the Fallback interface.
type FallbackFunc func(t Type, raw string) (any, bool, error)

func (f FallbackFunc) Convert(t Type, raw string) (any, bool, error) {
	return f(t, raw)
}

// Bound selects which end of a day a date-only value stands for when the
// target kind carries a time of day.
type Bound int

const (
	BoundNone Bound = iota
	BoundStart
	BoundEnd
)

// Options tune a single conversion.
type Options struct {
	// Pattern overrides the default layout of temporal kinds.
	Pattern string
	// IgnoreCase makes enum matching case-insensitive.
	IgnoreCase bool
	// Locale drives case folding for enum matching.
	Locale language.Tag
	Bound  Bound
}

// Converter turns raw strings into typed values. It is safe for concurrent use
// once constructed.
type Converter struct {
	fallback Fallback
	layouts  map[Kind]string
}

type Option func(*Converter)

// WithFallback sets the converter used for custom kinds.
func WithFallback(f Fallback) Option {
	return func(c *Converter) { c.fallback = f }
}

// WithLayout overrides the default layout of a temporal kind.
func WithLayout(k Kind, layout string) Option {
	return func(c *Converter) {
		if layout != "" {
			c.layouts[k] = layout
		}
	}
}

func New(opts ...Option) *Converter {
	c := &Converter{
		layouts: map[Kind]string{
			KindDate:           DateLayout,
			KindDateTime:       DateTimeLayout,
			KindOffsetDateTime: OffsetDateTimeLayout,
			KindInstant:        InstantLayout,
			KindTimestamp:      TimestampLayout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert converts raw to t. Values that do not fit t fail with *MismatchError.
func (c *Converter) Convert(t Type, raw string, o Options) (any, error) {
	switch t.Kind {
	case KindString:
		return raw, nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, t.bits())
		if err != nil {
			return nil, mismatch(t, raw, err)
		}
		return sizedInt(n, t.bits()), nil
	case KindUint:
		n, err := strconv.ParseUint(raw, 10, t.bits())
		if err != nil {
			return nil, mismatch(t, raw, err)
		}
		return sizedUint(n, t.bits()), nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, t.bits())
		if err != nil {
			return nil, mismatch(t, raw, err)
		}
		if t.bits() == 32 {
			return float32(f), nil
		}
		return f, nil
	case KindDecimal:
		return decimal(t, raw)
	case KindBool:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, mismatch(t, raw, nil)
	case KindEnum:
		return c.enum(t, raw, o)
	case KindUUID:
		if len(raw) != 36 {
			return nil, mismatch(t, raw, fmt.Errorf("expected 36 characters"))
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, mismatch(t, raw, err)
		}
		return id, nil
	case KindDate, KindDateTime, KindOffsetDateTime, KindInstant, KindTimestamp:
		return c.temporal(t, raw, o)
	}
	return c.custom(t, raw)
}

// ConvertAll converts every raw value with the same options. Values the policy
// absorbs are dropped; any other failure is returned.
func (c *Converter) ConvertAll(t Type, raws []string, o Options, p Policy) ([]any, error) {
	out := make([]any, 0, len(raws))
	for _, raw := range raws {
		v, err := c.Convert(t, raw, o)
		if err != nil {
			if p.Absorbs(err) {
				continue
			}
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Converter) enum(t Type, raw string, o Options) (any, error) {
	if !o.IgnoreCase {
		for _, constant := range t.Enum {
			if constant == raw {
				return constant, nil
			}
		}
		return nil, mismatch(t, raw, nil)
	}
	caser := cases.Upper(o.Locale)
	folded := caser.String(raw)
	for _, constant := range t.Enum {
		if caser.String(constant) == folded {
			return constant, nil
		}
	}
	return nil, mismatch(t, raw, nil)
}

// decimal parses an exact decimal and reduces it, so 1.50 and 1.5 are the
// same value.
func decimal(t Type, raw string) (any, error) {
	d, _, err := apd.NewFromString(raw)
	if err != nil {
		return nil, mismatch(t, raw, err)
	}
	if d.Form != apd.Finite {
		return nil, mismatch(t, raw, fmt.Errorf("not a finite number"))
	}
	d.Reduce(d)
	if d.IsZero() {
		d.Negative = false
	}
	return d, nil
}

func (c *Converter) custom(t Type, raw string) (any, error) {
	if c.fallback == nil {
		return raw, nil
	}
	v, ok, err := c.fallback.Convert(t, raw)
	if err != nil {
		return nil, mismatch(t, raw, err)
	}
	if !ok {
		return raw, nil
	}
	return v, nil
}

func mismatch(t Type, raw string, err error) error {
	if ne, ok := err.(*strconv.NumError); ok {
		err = ne.Err
	}
	return &MismatchError{Value: raw, Type: t, Err: err}
}

func sizedInt(n int64, bits int) any {
	switch bits {
	case 8:
		return int8(n)
	case 16:
		return int16(n)
	case 32:
		return int32(n)
	}
	return n
}

func sizedUint(n uint64, bits int) any {
	switch bits {
	case 8:
		return uint8(n)
	case 16:
		return uint16(n)
	case 32:
		return uint32(n)
	}
	return n
}
