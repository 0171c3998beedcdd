package stitch

import (
	"sort"

	"github.com/veyra/stitchd/entity"
)

// MergeCoverage normalizes a set of half-open ranges: sorted by start,
// with overlapping or touching ranges coalesced.
func MergeCoverage(ranges []entity.Range) []entity.Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]entity.Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].From.Equal(sorted[j].From) {
			return sorted[i].To.Before(sorted[j].To)
		}
		return sorted[i].From.Before(sorted[j].From)
	})

	out := []entity.Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if !r.From.After(last.To) {
			if r.To.After(last.To) {
				last.To = r.To
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Gaps computes the set-complement of the covered ranges within want:
// zero or more disjoint sub-ranges of want not covered by any range in
// have. No coverage yields one gap equal to want; full coverage yields
// an empty list.
func Gaps(want entity.Range, have []entity.Range) []entity.Range {
	cursor := want.From
	var out []entity.Range
	for _, c := range MergeCoverage(have) {
		if !c.To.After(want.From) || !c.From.Before(want.To) {
			continue
		}
		start := c.From
		if start.Before(want.From) {
			start = want.From
		}
		end := c.To
		if end.After(want.To) {
			end = want.To
		}
		if cursor.Before(start) {
			out = append(out, entity.Range{From: cursor, To: start})
		}
		if end.After(cursor) {
			cursor = end
		}
		if !cursor.Before(want.To) {
			break
		}
	}
	if cursor.Before(want.To) {
		out = append(out, entity.Range{From: cursor, To: want.To})
	}
	return out
}
