// Package timegrid aligns timestamps to a fixed step and enumerates
// half-open window boundaries over a range. All values are in seconds.
package timegrid

import "iter"

// DefaultStep is the default window length in seconds.
const DefaultStep int64 = 300

// Span is a half-open interval [Start, End).
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the span length in seconds.
func (s Span) Len() int64 { return s.End - s.Start }

// AlignUp returns the smallest multiple of step that is >= ts.
func AlignUp(ts, step int64) int64 {
	d := AlignDown(ts, step)
	if d == ts {
		return ts
	}
	return d + step
}

// AlignDown returns the largest multiple of step that is <= ts.
func AlignDown(ts, step int64) int64 {
	r := ts % step
	if r < 0 {
		r += step
	}
	return ts - r
}

// RelativeWindows yields (a, min(a+step, end)) for a = start, start+step, ...
// while a < end. The final window may be shorter than step.
func RelativeWindows(start, end, step int64) iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		if step <= 0 {
			return
		}
		for a := start; a < end; a += step {
			b := min(a+step, end)
			if !yield(a, b) {
				return
			}
		}
	}
}

// GridWindows yields (a, a+step) for every a in [alignedStart, alignedEnd-step]
// stepping by step. Every emitted window is exactly step long.
func GridWindows(alignedStart, alignedEnd, step int64) iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		if step <= 0 {
			return
		}
		for a := alignedStart; a+step <= alignedEnd; a += step {
			if !yield(a, a+step) {
				return
			}
		}
	}
}

// Collect materialises a window sequence.
func Collect(seq iter.Seq2[int64, int64]) []Span {
	var out []Span
	for a, b := range seq {
		out = append(out, Span{Start: a, End: b})
	}
	return out
}
