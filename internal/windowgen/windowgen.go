// Package windowgen turns a time range into the ordered list of annotation
// windows for a session, in manual (relative) or wall-clock (absolute) mode.
package windowgen

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/heimdex/window-annotator/internal/coverage"
	"github.com/heimdex/window-annotator/internal/filestamp"
	"github.com/heimdex/window-annotator/internal/timegrid"
)

var (
	ErrInvalidRange = errors.New("end must be after start")
	ErrInvalidStep  = errors.New("step must be positive")
	ErrNoFiles      = errors.New("no files given")
	// ErrCoverageGap marks a wall-clock generation that produced no window.
	// It is reported through Result.Err, never returned as a failure.
	ErrCoverageGap = errors.New("no fully-covered on-grid window found")
)

// GapKind classifies a slot that was not emitted as a window.
type GapKind string

const (
	GapHead      GapKind = "head"
	GapTail      GapKind = "tail"
	GapUncovered GapKind = "uncovered"
)

// Gap is an absolute [Start, End) slot that produced no window.
type Gap struct {
	Kind  GapKind `json:"kind"`
	Start int64   `json:"start"`
	End   int64   `json:"end"`
}

// Result is the outcome of a wall-clock generation.
type Result struct {
	Origin       int64           `json:"origin"`
	StartAbs     int64           `json:"startAbs"`
	EndAbs       int64           `json:"endAbs"`
	AlignedStart int64           `json:"alignedStart"`
	AlignedEnd   int64           `json:"alignedEnd"`
	Windows      []timegrid.Span `json:"windows"`
	Gaps         []Gap           `json:"gaps"`
}

// Empty reports whether no window survived the coverage filter.
func (r Result) Empty() bool { return len(r.Windows) == 0 }

// Err returns a descriptive error wrapping ErrCoverageGap when the result is
// empty, nil otherwise. The range is rendered in loc; nil means time.Local.
func (r Result) Err(loc *time.Location) error {
	if !r.Empty() {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	return fmt.Errorf("%w between %s and %s", ErrCoverageGap, clock(r.StartAbs, loc), clock(r.EndAbs, loc))
}

// Manual returns relative windows over [start, end). The last window may be
// shorter than step.
func Manual(start, end, step int64) ([]timegrid.Span, error) {
	if step <= 0 {
		return nil, ErrInvalidStep
	}
	if end <= start {
		return nil, fmt.Errorf("%w: start=%d end=%d", ErrInvalidRange, start, end)
	}
	return timegrid.Collect(timegrid.RelativeWindows(start, end, step)), nil
}

// WallClock emits every on-grid window in [startAbs, endAbs] that lies inside
// a single coverage interval. Window offsets are relative to startAbs.
func WallClock(startAbs, endAbs, step int64, cov *coverage.Set) (Result, error) {
	if step <= 0 {
		return Result{}, ErrInvalidStep
	}
	if endAbs <= startAbs {
		return Result{}, fmt.Errorf("%w: start=%d end=%d", ErrInvalidRange, startAbs, endAbs)
	}

	r := Result{
		Origin:       startAbs,
		StartAbs:     startAbs,
		EndAbs:       endAbs,
		AlignedStart: timegrid.AlignUp(startAbs, step),
		AlignedEnd:   timegrid.AlignDown(endAbs, step),
		Windows:      []timegrid.Span{},
	}

	headFrom := timegrid.AlignDown(startAbs, step)
	tailTo := timegrid.AlignUp(endAbs, step)
	if r.AlignedStart > r.AlignedEnd {
		// Range sits inside a single slot.
		r.Gaps = append(r.Gaps, Gap{Kind: GapHead, Start: headFrom, End: tailTo})
		return r, nil
	}
	if headFrom < r.AlignedStart {
		r.Gaps = append(r.Gaps, Gap{Kind: GapHead, Start: headFrom, End: r.AlignedStart})
	}

	for a, b := range timegrid.GridWindows(r.AlignedStart, r.AlignedEnd, step) {
		if !cov.IsFullyCovered(a, b) {
			r.Gaps = appendUncovered(r.Gaps, a, b)
			continue
		}
		r.Windows = append(r.Windows, timegrid.Span{Start: a - startAbs, End: b - startAbs})
	}

	if r.AlignedEnd < tailTo {
		r.Gaps = append(r.Gaps, Gap{Kind: GapTail, Start: r.AlignedEnd, End: tailTo})
	}
	return r, nil
}

// appendUncovered extends the previous uncovered gap when slots are adjacent
// so a long hole reads as one range.
func appendUncovered(gaps []Gap, a, b int64) []Gap {
	if n := len(gaps); n > 0 && gaps[n-1].Kind == GapUncovered && gaps[n-1].End == a {
		gaps[n-1].End = b
		return gaps
	}
	return append(gaps, Gap{Kind: GapUncovered, Start: a, End: b})
}

// Ingestion is the outcome of generating windows from a batch of files.
type Ingestion struct {
	Stamps    []filestamp.Stamp
	Intervals []coverage.Interval
	Result    Result
}

// FromStamps sorts stamps by start, builds their coverage intervals and runs
// WallClock over [min start, max end].
func FromStamps(stamps []filestamp.Stamp, step int64) (Ingestion, error) {
	if len(stamps) == 0 {
		return Ingestion{}, ErrNoFiles
	}
	sorted := slices.Clone(stamps)
	slices.SortStableFunc(sorted, func(a, b filestamp.Stamp) int {
		switch {
		case a.StartAbs < b.StartAbs:
			return -1
		case a.StartAbs > b.StartAbs:
			return 1
		}
		return 0
	})

	intervals := make([]coverage.Interval, len(sorted))
	startAbs, endAbs := sorted[0].StartAbs, sorted[0].EndAbs
	for i, s := range sorted {
		intervals[i] = coverage.Interval{StartAbs: s.StartAbs, EndAbs: s.EndAbs}
		endAbs = max(endAbs, s.EndAbs)
	}

	res, err := WallClock(startAbs, endAbs, step, coverage.New(intervals))
	if err != nil {
		return Ingestion{}, err
	}
	return Ingestion{Stamps: sorted, Intervals: intervals, Result: res}, nil
}

func clock(abs int64, loc *time.Location) string {
	return time.Unix(abs, 0).In(loc).Format("2006-01-02 15:04:05")
}
