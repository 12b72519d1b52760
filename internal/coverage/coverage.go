// Package coverage tracks the absolute time ranges present in ingested media
// files and answers whether a window lies entirely inside one of them.
package coverage

// Interval is the absolute [StartAbs, EndAbs] range of one source file, in
// epoch seconds.
type Interval struct {
	StartAbs int64 `json:"start"`
	EndAbs   int64 `json:"end"`
}

// Set is an unordered collection of intervals. Intervals are never merged:
// two back-to-back files stay two entries.
type Set struct {
	intervals []Interval
}

// New returns a set holding a copy of intervals.
func New(intervals []Interval) *Set {
	s := &Set{}
	s.Reset(intervals)
	return s
}

// Reset replaces the set.
func (s *Set) Reset(intervals []Interval) {
	s.intervals = append([]Interval(nil), intervals...)
}

// Add appends intervals without deduplication or merging.
func (s *Set) Add(intervals []Interval) {
	s.intervals = append(s.intervals, intervals...)
}

// IsFullyCovered reports whether some single interval c satisfies
// c.StartAbs <= a && b <= c.EndAbs. A window straddling two contiguous
// intervals is not covered.
func (s *Set) IsFullyCovered(a, b int64) bool {
	if s == nil {
		return false
	}
	for _, c := range s.intervals {
		if c.StartAbs <= a && b <= c.EndAbs {
			return true
		}
	}
	return false
}

// Intervals returns a copy of the stored intervals in insertion order.
func (s *Set) Intervals() []Interval {
	if s == nil {
		return nil
	}
	return append([]Interval(nil), s.intervals...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.intervals)
}

// Bounds returns the earliest start and latest end across all intervals.
// ok is false for an empty set.
func (s *Set) Bounds() (start, end int64, ok bool) {
	if s.Len() == 0 {
		return 0, 0, false
	}
	start, end = s.intervals[0].StartAbs, s.intervals[0].EndAbs
	for _, c := range s.intervals[1:] {
		start = min(start, c.StartAbs)
		end = max(end, c.EndAbs)
	}
	return start, end, true
}
