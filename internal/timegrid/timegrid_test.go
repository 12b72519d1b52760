package timegrid

import (
	"testing"

	"pgregory.net/rapid"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		ts, step       int64
		wantUp, wantDn int64
	}{
		{0, 300, 0, 0},
		{1, 300, 300, 0},
		{299, 300, 300, 0},
		{300, 300, 300, 300},
		{301, 300, 600, 300},
		{-1, 300, 0, -300},
		{-300, 300, -300, -300},
		{1704099780, 300, 1704099900, 1704099600},
	}

	for _, tt := range tests {
		if got := AlignUp(tt.ts, tt.step); got != tt.wantUp {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.ts, tt.step, got, tt.wantUp)
		}
		if got := AlignDown(tt.ts, tt.step); got != tt.wantDn {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", tt.ts, tt.step, got, tt.wantDn)
		}
	}
}

func TestRelativeWindows_PartialTail(t *testing.T) {
	got := Collect(RelativeWindows(0, 700, 300))
	want := []Span{{0, 300}, {300, 600}, {600, 700}}
	if len(got) != len(want) {
		t.Fatalf("got %d windows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRelativeWindows_Restartable(t *testing.T) {
	seq := RelativeWindows(10, 1000, 250)
	first := Collect(seq)
	second := Collect(seq)
	if len(first) != len(second) || len(first) != 4 {
		t.Fatalf("sequence not restartable: %v vs %v", first, second)
	}
}

func TestRelativeWindows_EarlyStop(t *testing.T) {
	n := 0
	for range RelativeWindows(0, 10000, 1) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("iterated %d times, want 3", n)
	}
}

func TestRelativeWindows_EmptyRange(t *testing.T) {
	if got := Collect(RelativeWindows(100, 100, 300)); len(got) != 0 {
		t.Fatalf("expected no windows, got %v", got)
	}
	if got := Collect(RelativeWindows(0, 100, 0)); len(got) != 0 {
		t.Fatalf("expected no windows for zero step, got %v", got)
	}
}

func TestGridWindows_NoPartial(t *testing.T) {
	got := Collect(GridWindows(600, 1500, 300))
	want := []Span{{600, 900}, {900, 1200}, {1200, 1500}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if got := Collect(GridWindows(600, 600, 300)); len(got) != 0 {
		t.Fatalf("expected empty grid, got %v", got)
	}
	if got := Collect(GridWindows(900, 600, 300)); len(got) != 0 {
		t.Fatalf("expected empty grid for inverted range, got %v", got)
	}
}

func TestRelativeWindows_CoverExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := rapid.Int64Range(-100000, 100000).Draw(rt, "start")
		length := rapid.Int64Range(1, 50000).Draw(rt, "length")
		step := rapid.Int64Range(1, 5000).Draw(rt, "step")
		end := start + length

		spans := Collect(RelativeWindows(start, end, step))
		if len(spans) == 0 {
			rt.Fatalf("no windows for [%d,%d)", start, end)
		}
		if spans[0].Start != start {
			rt.Fatalf("first window starts at %d, want %d", spans[0].Start, start)
		}
		if spans[len(spans)-1].End != end {
			rt.Fatalf("last window ends at %d, want %d", spans[len(spans)-1].End, end)
		}
		for i, s := range spans {
			if s.End <= s.Start {
				rt.Fatalf("window %d empty: %v", i, s)
			}
			if i > 0 && spans[i-1].End != s.Start {
				rt.Fatalf("gap or overlap between %v and %v", spans[i-1], s)
			}
			if i < len(spans)-1 && s.Len() != step {
				rt.Fatalf("non-final window %d has length %d, want %d", i, s.Len(), step)
			}
			if s.Len() > step {
				rt.Fatalf("window %d longer than step: %v", i, s)
			}
		}
	})
}

func TestGridWindows_TileExactly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		step := rapid.Int64Range(1, 3600).Draw(rt, "step")
		k := rapid.Int64Range(-1000, 1000).Draw(rt, "k")
		n := rapid.Int64Range(0, 200).Draw(rt, "n")
		alignedStart := k * step
		alignedEnd := alignedStart + n*step

		spans := Collect(GridWindows(alignedStart, alignedEnd, step))
		if int64(len(spans)) != n {
			rt.Fatalf("got %d windows, want %d", len(spans), n)
		}
		for i, s := range spans {
			if s.Len() != step {
				rt.Fatalf("window %d length %d, want %d", i, s.Len(), step)
			}
			if s.Start%step != 0 {
				rt.Fatalf("window %d off-grid: %v", i, s)
			}
			want := alignedStart + int64(i)*step
			if s.Start != want {
				rt.Fatalf("window %d starts at %d, want %d", i, s.Start, want)
			}
		}
	})
}
