// Package filestamp extracts absolute recording ranges from structured media
// file names such as "P240101_090000_093000.mp4".
package filestamp

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoMatch is returned when a name carries no date/start/end triple.
	ErrNoMatch = errors.New("filename does not match <marker><YYMMDD>_<HHMMSS>_<HHMMSS>")
	// ErrInvalidClock is returned when the triple matches but a field is out
	// of range or the recording has zero length.
	ErrInvalidClock = errors.New("filename carries an invalid date or clock")
)

// The marker is any non-digit (or nothing) and the three groups must not be
// part of a longer digit run.
var stampPattern = regexp.MustCompile(`(?:^|\D)(\d{6})[_-](\d{6})[_-](\d{6})(?:\D|$)`)

// Stamp is the parsed form of one file name.
type Stamp struct {
	Name       string `json:"name"`
	Date       string `json:"date"`
	StartClock string `json:"startClock"`
	EndClock   string `json:"endClock"`
	StartAbs   int64  `json:"startAbs"`
	EndAbs     int64  `json:"endAbs"`
}

// ValidationError names the file that failed to parse.
type ValidationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Name, e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BatchError collects every failure from ParseBatch.
type BatchError struct {
	Failures []*ValidationError
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d of the selected files could not be parsed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Names returns the failed file names in input order.
func (e *BatchError) Names() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Name
	}
	return out
}

// Parse extracts the recording range from name. Directory components are
// ignored. A nil loc means time.Local.
func Parse(name string, loc *time.Location) (Stamp, error) {
	if loc == nil {
		loc = time.Local
	}
	base := filepath.Base(name)

	m := stampPattern.FindStringSubmatch(base)
	if m == nil {
		return Stamp{}, &ValidationError{Name: name, Err: ErrNoMatch}
	}

	yy, mo, dd := split3(m[1])
	year := 2000 + yy
	if mo < 1 || mo > 12 {
		return Stamp{}, &ValidationError{Name: name, Err: ErrInvalidClock, Reason: fmt.Sprintf("month %02d", mo)}
	}
	if dd < 1 || dd > daysIn(year, time.Month(mo)) {
		return Stamp{}, &ValidationError{Name: name, Err: ErrInvalidClock, Reason: fmt.Sprintf("day %02d", dd)}
	}

	sh, sm, ss := split3(m[2])
	if err := checkClock(sh, sm, ss); err != "" {
		return Stamp{}, &ValidationError{Name: name, Err: ErrInvalidClock, Reason: "start " + err}
	}
	eh, em, es := split3(m[3])
	if err := checkClock(eh, em, es); err != "" {
		return Stamp{}, &ValidationError{Name: name, Err: ErrInvalidClock, Reason: "end " + err}
	}

	start := time.Date(year, time.Month(mo), dd, sh, sm, ss, 0, loc)
	end := time.Date(year, time.Month(mo), dd, eh, em, es, 0, loc)
	switch {
	case end.Equal(start):
		return Stamp{}, &ValidationError{Name: name, Err: ErrInvalidClock, Reason: "start equals end"}
	case end.Before(start):
		// Recording crossed midnight.
		end = time.Date(year, time.Month(mo), dd+1, eh, em, es, 0, loc)
	}

	return Stamp{
		Name:       name,
		Date:       start.Format("2006-01-02"),
		StartClock: fmt.Sprintf("%02d:%02d:%02d", sh, sm, ss),
		EndClock:   fmt.Sprintf("%02d:%02d:%02d", eh, em, es),
		StartAbs:   start.Unix(),
		EndAbs:     end.Unix(),
	}, nil
}

// ParseBatch parses every name. If any fails, it returns a *BatchError
// naming all failures and no stamps.
func ParseBatch(names []string, loc *time.Location) ([]Stamp, error) {
	stamps := make([]Stamp, 0, len(names))
	var failures []*ValidationError
	for _, n := range names {
		s, err := Parse(n, loc)
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				ve = &ValidationError{Name: n, Err: err}
			}
			failures = append(failures, ve)
			continue
		}
		stamps = append(stamps, s)
	}
	if len(failures) > 0 {
		return nil, &BatchError{Failures: failures}
	}
	return stamps, nil
}

// Matches reports whether name carries a parseable stamp.
func Matches(name string) bool {
	return stampPattern.MatchString(filepath.Base(name))
}

func split3(digits string) (int, int, int) {
	a, _ := strconv.Atoi(digits[0:2])
	b, _ := strconv.Atoi(digits[2:4])
	c, _ := strconv.Atoi(digits[4:6])
	return a, b, c
}

func checkClock(h, m, s int) string {
	switch {
	case h > 23:
		return fmt.Sprintf("hour %02d", h)
	case m > 59:
		return fmt.Sprintf("minute %02d", m)
	case s > 59:
		return fmt.Sprintf("second %02d", s)
	}
	return ""
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
