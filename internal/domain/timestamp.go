package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DisplayLayout is the layout used for rendering message times.
const DisplayLayout = "02/01/2006 15:04"

// InvalidDate is rendered in place of a time that could not be parsed.
const InvalidDate = "Invalid date"

var ErrInvalidDate = errors.New("invalid date")

type dateKind uint8

const (
	dateEmpty dateKind = iota
	dateISO
	dateTuple
)

// DateInput is a timestamp exactly as the backend sent it: either an
// ISO-8601 string or a component tuple
// [year, month, day, hour, minute(, second(, nanos))].
type DateInput struct {
	kind  dateKind
	iso   string
	parts []int64
}

func ISODate(s string) DateInput { return DateInput{kind: dateISO, iso: s} }

func TupleDate(parts ...int64) DateInput {
	return DateInput{kind: dateTuple, parts: append([]int64(nil), parts...)}
}

func (d DateInput) IsZero() bool { return d.kind == dateEmpty }

func (d *DateInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*d = DateInput{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = ISODate(s)
		return nil
	case b[0] == '[':
		var parts []int64
		if err := json.Unmarshal(b, &parts); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDate, err)
		}
		*d = TupleDate(parts...)
		return nil
	default:
		return fmt.Errorf("%w: unsupported json %s", ErrInvalidDate, string(b))
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize converts any accepted form to an instant. Zone-less inputs
// (tuples and local ISO strings) are taken as UTC.
func (d DateInput) Normalize() (time.Time, error) {
	switch d.kind {
	case dateISO:
		s := strings.TrimSpace(d.iso)
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, d.iso)
	case dateTuple:
		return tupleTime(d.parts)
	default:
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
}

func tupleTime(p []int64) (time.Time, error) {
	// serializers drop trailing zero seconds, so 5 is accepted too
	if len(p) < 5 || len(p) > 7 {
		return time.Time{}, fmt.Errorf("%w: tuple of %d elements", ErrInvalidDate, len(p))
	}
	var sec, nsec int64
	if len(p) > 5 {
		sec = p[5]
	}
	if len(p) > 6 {
		nsec = p[6]
	}
	year, month, day, hour, minute := p[0], p[1], p[2], p[3], p[4]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour < 0 || hour > 23 ||
		minute < 0 || minute > 59 || sec < 0 || sec > 59 || nsec < 0 || nsec > 999_999_999 {
		return time.Time{}, fmt.Errorf("%w: component out of range %v", ErrInvalidDate, p)
	}

	t := time.Date(int(year), time.Month(month), int(day), int(hour), int(minute), int(sec), int(nsec), time.UTC)
	if t.Day() != int(day) {
		return time.Time{}, fmt.Errorf("%w: no such day %v", ErrInvalidDate, p)
	}
	return t, nil
}

// Timestamp is the normalized instant of a DateInput. Invalid input
// decodes to a zero, non-valid Timestamp instead of failing the payload.
type Timestamp struct {
	time.Time
	Valid bool
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: !t.IsZero()}
}

func TimestampOf(d DateInput) Timestamp {
	t, err := d.Normalize()
	if err != nil {
		return Timestamp{}
	}
	return Timestamp{Time: t, Valid: true}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var in DateInput
	if err := in.UnmarshalJSON(b); err != nil {
		*t = Timestamp{}
		return nil
	}
	*t = TimestampOf(in)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// FormatIn renders t in loc using DisplayLayout.
func (t Timestamp) FormatIn(loc *time.Location) string {
	if !t.Valid {
		return InvalidDate
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DisplayLayout)
}

// FormatDate normalizes d and renders it in loc.
func FormatDate(d DateInput, loc *time.Location) string {
	return TimestampOf(d).FormatIn(loc)
}
