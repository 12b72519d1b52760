// Package media runs ffprobe and ffmpeg as subprocesses: duration probes,
// H.264/AAC transcodes with progress reporting, and tool detection.
package media

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable means the required tool is not installed. Callers map it to
// "capability unavailable", distinct from a failed run.
var ErrUnavailable = errors.New("media tool not available")

// ToolError is a non-zero exit or unusable output from ffprobe/ffmpeg.
type ToolError struct {
	Tool     string
	ExitCode int
	Message  string
}

func (e *ToolError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
}

// Code is the API error code for this failure ("ffprobe_failed",
// "ffmpeg_failed").
func (e *ToolError) Code() string { return e.Tool + "_failed" }

// Capabilities records which tools were found on the last probe.
type Capabilities struct {
	FFmpeg      bool      `json:"ffmpeg"`
	FFprobe     bool      `json:"ffprobe"`
	FFmpegPath  string    `json:"ffmpeg_path,omitempty"`
	FFprobePath string    `json:"ffprobe_path,omitempty"`
	ProbedAt    time.Time `json:"probed_at"`
}

// RunResult is the outcome of one subprocess.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// probeOutput is the subset of `ffprobe -print_format json` we read.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Duration string `json:"duration"`
	} `json:"streams"`
}
