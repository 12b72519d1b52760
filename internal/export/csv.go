package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/heimdex/window-annotator/internal/session"
	"github.com/heimdex/window-annotator/internal/window"
)

// Check returns a *PendingError when any window still has Pending entries.
func Check(s *session.Session) error {
	var pending []int
	for i, w := range s.Windows {
		if w.HasPending() {
			pending = append(pending, i)
		}
	}
	if len(pending) > 0 {
		return &PendingError{Windows: pending}
	}
	return nil
}

// Write renders the export of the given kind. Nothing is written to out when
// the session fails Check.
func Write(out io.Writer, kind Kind, s *session.Session) (int, error) {
	if err := Check(s); err != nil {
		return 0, err
	}

	var rows [][]string
	switch kind {
	case KindSummary:
		rows = summaryRows(s)
	case KindDetail:
		rows = detailRows(s)
	default:
		return 0, fmt.Errorf("unknown export kind %q", kind)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.WriteAll(rows); err != nil {
		return 0, fmt.Errorf("encode csv: %w", err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(rows) - 1, nil
}

// WriteFile writes the export into dir under FileName and returns the
// absolute path. An existing file of the same name is replaced.
func WriteFile(dir string, kind Kind, s *session.Session) (Response, error) {
	dir, err := outputDir(dir)
	if err != nil {
		return Response{}, err
	}
	var buf bytes.Buffer
	n, err := Write(&buf, kind, s)
	if err != nil {
		return Response{}, err
	}
	path := filepath.Join(dir, FileName(s.VideoID, kind))
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return Response{}, fmt.Errorf("write export file: %w", err)
	}
	return Response{Kind: kind, OutputPath: path, Rows: n}, nil
}

func summaryRows(s *session.Session) [][]string {
	rows := [][]string{SummaryHeader}
	for _, w := range s.Windows {
		c := w.Counts()
		rows = append(rows, []string{
			s.VideoID,
			formatClock(w.Start, s.Origin, s.Location),
			formatClock(w.End, s.Origin, s.Location),
			fmt.Sprintf("%d", c.Total),
			fmt.Sprintf("%d", c.Moving),
			fmt.Sprintf("%d", c.Staying),
			w.Notes,
		})
	}
	return rows
}

func detailRows(s *session.Session) [][]string {
	rows := [][]string{DetailHeader}
	for _, w := range s.Windows {
		start := formatClock(w.Start, s.Origin, s.Location)
		n := 0
		for _, k := range w.Entries {
			if k != window.Moving && k != window.Staying {
				continue
			}
			n++
			rows = append(rows, []string{s.VideoID, start, fmt.Sprintf("p%03d", n), "", k.String(), ""})
		}
	}
	return rows
}

// formatClock renders offset as HH:MM:SS. With an origin it is the
// wall-clock time of day in loc, otherwise elapsed time with unbounded hours.
func formatClock(offset int64, origin *int64, loc *time.Location) string {
	if origin != nil {
		if loc == nil {
			loc = time.Local
		}
		return time.Unix(*origin+offset, 0).In(loc).Format("15:04:05")
	}
	sign := ""
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, offset/3600, offset/60%60, offset%60)
}
