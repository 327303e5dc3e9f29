package convert

import (
	"fmt"
	"time"
)

// Default layouts per temporal kind.
const (
	DateLayout           = "2006-01-02"
	DateTimeLayout       = "2006-01-02T15:04:05"
	OffsetDateTimeLayout = time.RFC3339
	InstantLayout        = time.RFC3339
	TimestampLayout      = "2006-01-02 15:04:05"
)

// Two reference instants on the same day that differ in every clock field.
var (
	clockProbeA = time.Date(2001, time.February, 3, 4, 5, 6, 7, time.UTC)
	clockProbeB = time.Date(2001, time.February, 3, 16, 35, 46, 890123456, time.UTC)
)

// declaresFraction reports whether layout has a fractional second element.
func declaresFraction(layout string) bool {
	whole := time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC)
	return whole.Format(layout) != whole.Add(123456789).Format(layout)
}

// undeclaredFraction reports whether raw carries fractional seconds layout
// has no element for. time.Parse accepts those after any seconds field.
func undeclaredFraction(layout, raw string, tm time.Time) bool {
	if declaresFraction(layout) {
		return false
	}
	if tm.Nanosecond() != 0 {
		return true
	}
	// an all-zero fraction leaves no trace in tm
	for i := 0; i+1 < len(raw); i++ {
		if (raw[i] != '.' && raw[i] != ',') || !isDigit(raw[i+1]) {
			continue
		}
		j := i + 1
		for j < len(raw) && isDigit(raw[j]) {
			j++
		}
		if without, err := time.ParseInLocation(layout, raw[:i]+raw[j:], tm.Location()); err == nil && without.Equal(tm) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// DateOnly reports whether layout renders no time-of-day component.
func DateOnly(layout string) bool {
	return clockProbeA.Format(layout) == clockProbeB.Format(layout)
}

// Layout returns the layout used for t: pattern when set, else the kind's default.
func (c *Converter) Layout(t Type, pattern string) string {
	if pattern != "" {
		return pattern
	}
	return c.layouts[t.Kind]
}

// Format renders a time with the layout Convert would parse it with.
func (c *Converter) Format(t Type, pattern string, v time.Time) string {
	layout := c.Layout(t, pattern)
	if layout == "" {
		layout = time.RFC3339Nano
	}
	return v.Format(layout)
}

func (c *Converter) temporal(t Type, raw string, o Options) (any, error) {
	layout := c.Layout(t, o.Pattern)

	var (
		tm  time.Time
		err error
	)
	switch t.Kind {
	case KindOffsetDateTime, KindInstant:
		tm, err = time.Parse(layout, raw)
	default:
		tm, err = time.ParseInLocation(layout, raw, time.UTC)
	}
	if err != nil {
		return nil, mismatch(t, raw, err)
	}
	if undeclaredFraction(layout, raw, tm) {
		return nil, mismatch(t, raw, fmt.Errorf("fractional seconds not in layout %q", layout))
	}

	switch t.Kind {
	case KindDate:
		return wallDate(tm), nil
	case KindDateTime, KindTimestamp:
		tm = wallClock(tm)
	case KindInstant:
		tm = tm.UTC()
	}

	if DateOnly(layout) && o.Bound == BoundEnd {
		tm = tm.AddDate(0, 0, 1).Add(-precision(t.Kind))
	}
	if t.Kind == KindTimestamp {
		tm = tm.Truncate(time.Microsecond)
	}
	return tm, nil
}

// precision is the smallest step a value of the kind can represent.
func precision(k Kind) time.Duration {
	if k == KindTimestamp {
		return time.Microsecond
	}
	return time.Nanosecond
}

func wallDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
