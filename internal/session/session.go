// Package session is the annotation aggregate: the window list, the current
// window pointer, the optional wall-clock origin and the coverage set. Every
// reviewer action maps to one method. Methods validate fully before mutating,
// so a returned error always leaves the session unchanged.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/window-annotator/internal/coverage"
	"github.com/heimdex/window-annotator/internal/filestamp"
	"github.com/heimdex/window-annotator/internal/timegrid"
	"github.com/heimdex/window-annotator/internal/window"
	"github.com/heimdex/window-annotator/internal/windowgen"
)

var (
	ErrEmptyVideoID     = errors.New("video id is required")
	ErrIndexOutOfRange  = errors.New("window index out of range")
	ErrNotWallClock     = errors.New("session is not in wall-clock mode")
	ErrUnknownAction    = errors.New("unknown action")
	ErrNoWindows        = errors.New("session has no windows")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrWouldDiscardWork = errors.New("regeneration would discard existing annotations")
)

// Mode is manual (relative offsets) or wall-clock (anchored to an origin).
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeWallClock Mode = "wallclock"
)

// Action is one reviewer command on a window.
type Action string

const (
	ActionAdd       Action = "add"
	ActionRemove    Action = "remove"
	ActionMoving    Action = "moving"
	ActionStaying   Action = "staying"
	ActionUnmoving  Action = "unmoving"
	ActionUnstaying Action = "unstaying"
	ActionUndo      Action = "undo"
)

// Session is not safe for concurrent use.
type Session struct {
	VideoID       string
	WindowSeconds int64
	Windows       []*window.Window
	Current       int
	// Origin is set only in wall-clock mode.
	Origin   *int64
	Location *time.Location

	coverage *coverage.Set
	absStart int64
	absEnd   int64
}

// New returns an empty session. A nil loc means time.Local.
func New(videoID string, loc *time.Location) *Session {
	if loc == nil {
		loc = time.Local
	}
	return &Session{
		VideoID:       videoID,
		WindowSeconds: timegrid.DefaultStep,
		Windows:       []*window.Window{},
		Location:      loc,
		coverage:      coverage.New(nil),
	}
}

func (s *Session) Mode() Mode {
	if s.Origin != nil {
		return ModeWallClock
	}
	return ModeManual
}

// Coverage returns a copy of the coverage intervals.
func (s *Session) Coverage() []coverage.Interval { return s.coverage.Intervals() }

// AbsRange returns the stored absolute range of a wall-clock session.
func (s *Session) AbsRange() (start, end int64, ok bool) {
	return s.absStart, s.absEnd, s.Origin != nil
}

// WouldDiscard reports whether regenerating would lose reviewer input.
func (s *Session) WouldDiscard() bool {
	for _, w := range s.Windows {
		if w.Dirty() {
			return true
		}
	}
	return false
}

// StartManual switches to manual mode and regenerates relative windows over
// [start, end). Coverage and origin are cleared.
func (s *Session) StartManual(videoID string, start, end, step int64) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return &ValidationError{Field: "videoId", Err: ErrEmptyVideoID}
	}
	spans, err := windowgen.Manual(start, end, step)
	if err != nil {
		return &ValidationError{Field: "range", Err: err}
	}

	s.VideoID = videoID
	s.WindowSeconds = step
	s.Origin = nil
	s.absStart, s.absEnd = 0, 0
	s.coverage.Reset(nil)
	s.replaceWindows(spans)
	return nil
}

// Report describes the outcome of a file ingestion.
type Report struct {
	Stamps  []filestamp.Stamp `json:"stamps"`
	Gaps    []windowgen.Gap   `json:"gaps"`
	Windows int               `json:"windows"`
	Notice  string            `json:"notice,omitempty"`

	result windowgen.Result
	loc    *time.Location
}

// Empty reports that no fully covered on-grid window was found.
func (r Report) Empty() bool { return r.result.Empty() }

// Err wraps windowgen.ErrCoverageGap when Empty.
func (r Report) Err() error { return r.result.Err(r.loc) }

func newReport(stamps []filestamp.Stamp, res windowgen.Result, loc *time.Location) Report {
	r := Report{Stamps: stamps, Gaps: res.Gaps, Windows: len(res.Windows), result: res, loc: loc}
	if err := r.Err(); err != nil {
		r.Notice = err.Error()
	}
	return r
}

// IngestFiles parses every name, resets coverage to the parsed intervals and
// regenerates wall-clock windows over [min start, max end]. A single bad
// name aborts the whole batch. An empty window list is reported, not
// returned as an error.
func (s *Session) IngestFiles(names []string, step int64) (Report, error) {
	if len(names) == 0 {
		return Report{}, &ValidationError{Field: "filenames", Err: windowgen.ErrNoFiles}
	}
	if step <= 0 {
		return Report{}, &ValidationError{Field: "step", Err: windowgen.ErrInvalidStep}
	}
	stamps, err := filestamp.ParseBatch(names, s.Location)
	if err != nil {
		return Report{}, &ValidationError{Field: "filenames", Err: err}
	}
	ing, err := windowgen.FromStamps(stamps, step)
	if err != nil {
		return Report{}, &ValidationError{Field: "filenames", Err: err}
	}

	if strings.TrimSpace(s.VideoID) == "" {
		s.VideoID = stem(ing.Stamps[0].Name)
	}
	res := ing.Result
	origin := res.Origin
	s.WindowSeconds = step
	s.Origin = &origin
	s.absStart, s.absEnd = res.StartAbs, res.EndAbs
	s.coverage.Reset(ing.Intervals)
	s.replaceWindows(res.Windows)
	return newReport(ing.Stamps, res, s.Location), nil
}

// AddFiles appends the parsed intervals to the existing coverage and
// regenerates windows over the stored absolute range, keeping the origin.
func (s *Session) AddFiles(names []string) (Report, error) {
	if s.Origin == nil {
		return Report{}, &StateError{Op: "add files", Window: -1, Err: ErrNotWallClock}
	}
	if len(names) == 0 {
		return Report{}, &ValidationError{Field: "filenames", Err: windowgen.ErrNoFiles}
	}
	stamps, err := filestamp.ParseBatch(names, s.Location)
	if err != nil {
		return Report{}, &ValidationError{Field: "filenames", Err: err}
	}

	added := make([]coverage.Interval, len(stamps))
	for i, st := range stamps {
		added[i] = coverage.Interval{StartAbs: st.StartAbs, EndAbs: st.EndAbs}
	}
	next := coverage.New(s.coverage.Intervals())
	next.Add(added)

	res, err := windowgen.WallClock(*s.Origin, s.absEnd, s.WindowSeconds, next)
	if err != nil {
		return Report{}, &StateError{Op: "add files", Window: -1, Err: err}
	}

	s.coverage = next
	s.replaceWindows(res.Windows)
	return newReport(stamps, res, s.Location), nil
}

func (s *Session) replaceWindows(spans []timegrid.Span) {
	ws := make([]*window.Window, len(spans))
	for i, sp := range spans {
		ws[i] = window.New(sp.Start, sp.End)
	}
	s.Windows = ws
	s.Current = 0
}

// Select makes window i current.
func (s *Session) Select(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.Current = i
	return nil
}

// Next advances the current pointer, stopping at the last window.
func (s *Session) Next() int {
	if s.Current < len(s.Windows)-1 {
		s.Current++
	}
	return s.Current
}

// Prev moves the current pointer back, stopping at the first window.
func (s *Session) Prev() int {
	if s.Current > 0 {
		s.Current--
	}
	return s.Current
}

// Apply runs action on window i and returns its updated counts.
func (s *Session) Apply(i int, action Action) (window.Counts, error) {
	if err := s.checkIndex(i); err != nil {
		return window.Counts{}, err
	}
	w := s.Windows[i]

	var (
		c   window.Counts
		err error
	)
	switch action {
	case ActionAdd:
		c = w.AddPending()
	case ActionRemove:
		c, err = w.RemovePending()
	case ActionMoving:
		c, err = w.Classify(window.Moving)
	case ActionStaying:
		c, err = w.Classify(window.Staying)
	case ActionUnmoving:
		c, err = w.Declassify(window.Moving)
	case ActionUnstaying:
		c, err = w.Declassify(window.Staying)
	case ActionUndo:
		c = w.Undo()
	default:
		return window.Counts{}, &ValidationError{Field: "action", Err: fmt.Errorf("%w %q", ErrUnknownAction, action)}
	}
	if err != nil {
		return c, &StateError{Op: string(action), Window: i, Err: err}
	}
	return c, nil
}

// SetNotes replaces the notes of window i.
func (s *Session) SetNotes(i int, text string) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.Windows[i].Notes = text
	return nil
}

// Totals aggregates counts across all windows.
type Totals struct {
	Windows        int `json:"windows"`
	PendingWindows int `json:"pendingWindows"`
	window.Counts
}

func (s *Session) Totals() Totals {
	t := Totals{Windows: len(s.Windows)}
	for _, w := range s.Windows {
		c := w.Counts()
		t.Total += c.Total
		t.Pending += c.Pending
		t.Moving += c.Moving
		t.Staying += c.Staying
		if c.Pending > 0 {
			t.PendingWindows++
		}
	}
	return t
}

// AbsSpan returns the absolute bounds of window i. ok is false in manual
// mode.
func (s *Session) AbsSpan(i int) (start, end int64, ok bool) {
	if s.Origin == nil || i < 0 || i >= len(s.Windows) {
		return 0, 0, false
	}
	w := s.Windows[i]
	return *s.Origin + w.Start, *s.Origin + w.End, true
}

func (s *Session) checkIndex(i int) error {
	if len(s.Windows) == 0 {
		return &StateError{Op: "select", Window: i, Err: ErrNoWindows}
	}
	if i < 0 || i >= len(s.Windows) {
		return &ValidationError{Field: "index", Err: fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.Windows))}
	}
	return nil
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
