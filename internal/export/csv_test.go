package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/window-annotator/internal/session"
)

func manualSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New("", time.UTC)
	if err := s.StartManual("gate, north", 0, 4000, 3600); err != nil {
		t.Fatal(err)
	}
	return s
}

func apply(t *testing.T, s *session.Session, i int, actions ...session.Action) {
	t.Helper()
	for _, a := range actions {
		if _, err := s.Apply(i, a); err != nil {
			t.Fatalf("Apply(%d, %s): %v", i, a, err)
		}
	}
}

func TestWrite_Summary(t *testing.T) {
	s := manualSession(t)
	apply(t, s, 0, session.ActionAdd, session.ActionMoving, session.ActionAdd, session.ActionStaying, session.ActionAdd, session.ActionMoving)
	s.SetNotes(1, "rain \"heavy\"")

	var buf bytes.Buffer
	n, err := Write(&buf, KindSummary, s)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}
	want := strings.Join([]string{
		"video_id,window_start,window_end,total_unique,moving_count,staying_count,notes",
		`"gate, north",00:00:00,01:00:00,3,2,1,`,
		`"gate, north",01:00:00,01:06:40,0,0,0,"rain ""heavy"""`,
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("summary =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWrite_Detail(t *testing.T) {
	s := manualSession(t)
	apply(t, s, 0, session.ActionAdd, session.ActionMoving, session.ActionAdd, session.ActionStaying)
	apply(t, s, 1, session.ActionAdd, session.ActionStaying)

	var buf bytes.Buffer
	if _, err := Write(&buf, KindDetail, s); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"video_id,window_start,person_local_id,visible_sec,behavior,remarks",
		`"gate, north",00:00:00,p001,,moving,`,
		`"gate, north",00:00:00,p002,,staying,`,
		`"gate, north",01:00:00,p001,,staying,`,
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("detail =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWrite_PendingGate(t *testing.T) {
	for _, kind := range []Kind{KindSummary, KindDetail} {
		t.Run(string(kind), func(t *testing.T) {
			s := manualSession(t)
			apply(t, s, 0, session.ActionAdd, session.ActionMoving)
			apply(t, s, 1, session.ActionAdd)

			var buf bytes.Buffer
			_, err := Write(&buf, kind, s)
			var pe *PendingError
			if !errors.As(err, &pe) || !errors.Is(err, ErrPendingEntries) {
				t.Fatalf("err = %v, want PendingError", err)
			}
			if len(pe.Windows) != 1 || pe.Windows[0] != 1 {
				t.Errorf("pending windows = %v, want [1]", pe.Windows)
			}
			if buf.Len() != 0 {
				t.Fatalf("gated export wrote %d bytes", buf.Len())
			}
		})
	}
}

func TestWrite_WallClockTimes(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	s := session.New("", loc)
	if _, err := s.IngestFiles([]string{"P240101_090300_095800.mp4"}, 300); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := Write(&buf, KindSummary, s); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want header + 10", len(lines))
	}
	if !strings.HasPrefix(lines[1], "P240101_090300_095800,09:05:00,09:10:00,") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[10], "P240101_090300_095800,09:50:00,09:55:00,") {
		t.Errorf("last row = %q", lines[10])
	}
}

func TestFormatClock_RelativeHoursUnwrapped(t *testing.T) {
	if got := formatClock(90061, nil, nil); got != "25:01:01" {
		t.Fatalf("formatClock = %q, want 25:01:01", got)
	}
}

func TestWriteFile(t *testing.T) {
	s := manualSession(t)
	dir := t.TempDir()

	resp, err := WriteFile(dir, KindSummary, s)
	if err != nil {
		t.Fatal(err)
	}
	if resp.OutputPath != filepath.Join(dir, "gate_north_summary.csv") || resp.Rows != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if _, err := os.Stat(resp.OutputPath); err != nil {
		t.Fatal(err)
	}

	apply(t, s, 0, session.ActionAdd)
	if _, err := WriteFile(dir, KindDetail, s); err == nil {
		t.Fatal("expected pending gate")
	}
	if _, err := os.Stat(filepath.Join(dir, "gate_north_detail.csv")); !os.IsNotExist(err) {
		t.Fatal("gated export must not create a file")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Summary "); err != nil || k != KindSummary {
		t.Errorf("ParseKind(Summary) = %v, %v", k, err)
	}
	if _, err := ParseKind("xlsx"); err == nil {
		t.Error("expected error")
	}
}
