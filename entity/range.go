package entity

import (
	"fmt"
	"time"

	"github.com/veyra/stitchd/errors"
)

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange builds a Range from two RFC3339 strings and validates it.
func ParseRange(from, to string) (Range, error) {
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return Range{}, errors.NewValidation("invalid 'from' timestamp %q: %v", from, err)
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return Range{}, errors.NewValidation("invalid 'to' timestamp %q: %v", to, err)
	}
	r := Range{From: f.UTC(), To: t.UTC()}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate rejects empty and inverted ranges.
func (r Range) Validate() error {
	if !r.From.Before(r.To) {
		return errors.NewValidation("invalid range: from %s >= to %s",
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Overlaps reports whether two half-open ranges intersect.
func (r Range) Overlaps(other Range) bool {
	return r.From.Before(other.To) && other.From.Before(r.To)
}

// Clamp returns the intersection of r and bound, and whether it is non-empty.
func (r Range) Clamp(bound Range) (Range, bool) {
	start := r.From
	if bound.From.After(start) {
		start = bound.From
	}
	end := r.To
	if bound.To.Before(end) {
		end = bound.To
	}
	if !start.Before(end) {
		return Range{}, false
	}
	return Range{From: start, To: end}, true
}

// Contains reports whether t falls inside the half-open range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Union returns the smallest range covering both r and other.
func (r Range) Union(other Range) Range {
	out := r
	if other.From.Before(out.From) {
		out.From = other.From
	}
	if other.To.After(out.To) {
		out.To = other.To
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}
