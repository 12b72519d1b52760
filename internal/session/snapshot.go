package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/heimdex/window-annotator/internal/coverage"
	"github.com/heimdex/window-annotator/internal/timegrid"
	"github.com/heimdex/window-annotator/internal/window"
)

// Snapshot is the persisted form of a session. AbsStart, AbsEnd and Coverage
// are optional; without them a reloaded wall-clock session cannot take
// incremental file additions.
type Snapshot struct {
	VideoID       string              `json:"videoId"`
	WindowSeconds int64               `json:"windowSeconds"`
	Windows       []*window.Window    `json:"windows"`
	CurrentIndex  int                 `json:"currentIndex"`
	AbsOrigin     *int64              `json:"absOrigin"`
	AbsStart      *int64              `json:"absStart,omitempty"`
	AbsEnd        *int64              `json:"absEnd,omitempty"`
	Coverage      []coverage.Interval `json:"coverage,omitempty"`
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	ws := make([]*window.Window, len(s.Windows))
	for i, w := range s.Windows {
		ws[i] = w.Clone()
	}
	snap := Snapshot{
		VideoID:       s.VideoID,
		WindowSeconds: s.WindowSeconds,
		Windows:       ws,
		CurrentIndex:  s.Current,
	}
	if s.Origin != nil {
		origin, start, end := *s.Origin, s.absStart, s.absEnd
		snap.AbsOrigin = &origin
		snap.AbsStart = &start
		snap.AbsEnd = &end
		snap.Coverage = s.coverage.Intervals()
	}
	return snap
}

// FromSnapshot rebuilds a session from untrusted snapshot data. The video id
// is trimmed. A nil loc means time.Local.
func FromSnapshot(snap Snapshot, loc *time.Location) (*Session, error) {
	if strings.TrimSpace(snap.VideoID) == "" {
		return nil, &ValidationError{Field: "videoId", Err: ErrEmptyVideoID}
	}
	step := snap.WindowSeconds
	if step == 0 {
		step = timegrid.DefaultStep
	}
	if step < 0 {
		return nil, &ValidationError{Field: "windowSeconds", Err: fmt.Errorf("%w: windowSeconds %d", ErrInvalidSnapshot, step)}
	}

	ws := make([]*window.Window, 0, len(snap.Windows))
	var prevEnd int64
	for i, w := range snap.Windows {
		if w == nil {
			return nil, &ValidationError{Field: "windows", Err: fmt.Errorf("%w: window %d is null", ErrInvalidSnapshot, i)}
		}
		if err := w.Validate(); err != nil {
			return nil, &ValidationError{Field: "windows", Err: fmt.Errorf("window %d: %w", i, err)}
		}
		if i > 0 && w.Start < prevEnd {
			return nil, &ValidationError{Field: "windows", Err: fmt.Errorf("%w: window %d overlaps or is out of order", ErrInvalidSnapshot, i)}
		}
		prevEnd = w.End
		ws = append(ws, w.Clone())
	}

	s := New(strings.TrimSpace(snap.VideoID), loc)
	s.WindowSeconds = step
	s.Windows = ws
	s.Current = clamp(snap.CurrentIndex, 0, max(len(ws)-1, 0))

	if snap.AbsOrigin != nil {
		origin := *snap.AbsOrigin
		s.Origin = &origin
		s.absStart = origin
		s.absEnd = origin
		if n := len(ws); n > 0 {
			s.absEnd = origin + ws[n-1].End
		}
		if snap.AbsStart != nil {
			s.absStart = *snap.AbsStart
		}
		if snap.AbsEnd != nil {
			s.absEnd = *snap.AbsEnd
		}
		s.coverage.Reset(snap.Coverage)
	}
	return s, nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
