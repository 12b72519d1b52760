package media

import (
	"strconv"
	"strings"
)

// maxRunningProgress is the ceiling while ffmpeg is still running; a job
// reaches 1 only when it finishes.
const maxRunningProgress = 0.99

// progressTracker turns ffmpeg `-progress` key=value lines into a fraction.
// With an unknown duration each block nudges progress by blindStep.
type progressTracker struct {
	duration float64
	report   func(float64)
	current  float64
}

const blindStep = 0.01

func newProgressTracker(duration float64, report func(float64)) *progressTracker {
	return &progressTracker{duration: duration, report: report}
}

func (p *progressTracker) line(s string) {
	key, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_ms":
		// Microseconds despite the name. Every block also carries
		// out_time_us with the same value, so only one key may advance.
		us, err := strconv.ParseFloat(value, 64)
		if err != nil || us < 0 {
			return
		}
		if p.duration > 0 {
			p.set(us / 1e6 / p.duration)
		} else {
			p.set(p.current + blindStep)
		}
	}
}

func (p *progressTracker) set(v float64) {
	v = min(max(v, 0), maxRunningProgress)
	if v <= p.current && p.current > 0 {
		return
	}
	p.current = v
	if p.report != nil {
		p.report(v)
	}
}

// Current returns the last reported fraction.
func (p *progressTracker) Current() float64 { return p.current }
