package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/window-annotator/internal/logging"
)

// maxStderrBytes is the tail of stderr kept as the error message.
const maxStderrBytes = 4000

// Runner probes and transcodes media files.
type Runner interface {
	// Detect reports which tools are installed.
	Detect(ctx context.Context) (*Capabilities, error)

	// Probe returns the duration in seconds.
	Probe(ctx context.Context, path string) (float64, error)

	// Transcode writes an H.264/AAC MP4 to outPath. onProgress, if set,
	// receives values in [0, 1) while ffmpeg runs. knownDuration <= 0
	// means unknown.
	Transcode(ctx context.Context, inPath, outPath string, knownDuration float64, onProgress func(float64)) error
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	ProbeTimeout     time.Duration
	TranscodeTimeout time.Duration
	Logger           *slog.Logger
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg Config
}

func NewRunner(cfg Config) *SubprocessRunner {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Minute
	}
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = 2 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &SubprocessRunner{cfg: cfg}
}

func (r *SubprocessRunner) Detect(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{ProbedAt: time.Now()}
	if p, err := exec.LookPath(r.cfg.FFmpegPath); err == nil {
		caps.FFmpeg, caps.FFmpegPath = true, p
	}
	if p, err := exec.LookPath(r.cfg.FFprobePath); err == nil {
		caps.FFprobe, caps.FFprobePath = true, p
	}
	r.cfg.Logger.Info("media tools detected", "ffmpeg", caps.FFmpeg, "ffprobe", caps.FFprobe)
	return caps, nil
}

func (r *SubprocessRunner) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res, err := r.exec(ctx, r.cfg.FFprobePath, &stdout,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return 0, err
	}
	if !res.IsSuccess() {
		return 0, &ToolError{Tool: "ffprobe", ExitCode: res.ExitCode, Message: strings.TrimSpace(res.StderrTail)}
	}
	return parseDuration(stdout.Bytes())
}

func (r *SubprocessRunner) Transcode(ctx context.Context, inPath, outPath string, knownDuration float64, onProgress func(float64)) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}

	tracker := newProgressTracker(knownDuration, onProgress)
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			tracker.line(sc.Text())
		}
		io.Copy(io.Discard, pr)
	}()

	res, err := r.exec(ctx, r.cfg.FFmpegPath, pw, transcodeArgs(inPath, outPath)...)
	pw.Close()
	<-done
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		os.Remove(outPath)
		return &ToolError{Tool: "ffmpeg", ExitCode: res.ExitCode, Message: strings.TrimSpace(res.StderrTail)}
	}
	return nil
}

func transcodeArgs(inPath, outPath string) []string {
	return []string{
		"-y", "-hide_banner", "-nostats",
		"-i", inPath,
		"-c:v", "libx264", "-profile:v", "main", "-pix_fmt", "yuv420p",
		"-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		outPath,
	}
}

// exec runs tool with args, streaming stdout to stdout and keeping a bounded
// stderr tail. A missing binary is reported as ErrUnavailable.
func (r *SubprocessRunner) exec(ctx context.Context, tool string, stdout io.Writer, args ...string) (RunResult, error) {
	start := time.Now()
	if _, err := exec.LookPath(tool); err != nil {
		return RunResult{}, fmt.Errorf("%w: %s not found", ErrUnavailable, filepath.Base(tool))
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout

	r.cfg.Logger.Debug("executing media command", "tool", filepath.Base(tool), "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound):
			return RunResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		stderrBuf.WriteString("\ntimed out")
	}

	res := RunResult{ExitCode: exitCode, StderrTail: stderrBuf.String(), Duration: elapsed}
	if exitCode != 0 {
		r.cfg.Logger.Warn("media command failed",
			"tool", filepath.Base(tool),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("media command succeeded",
			"tool", filepath.Base(tool),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return res, nil
}

// parseDuration prefers format.duration and falls back to the longest
// stream duration.
func parseDuration(data []byte) (float64, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, &ToolError{Tool: "ffprobe", Message: fmt.Sprintf("cannot parse output: %v", err)}
	}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		return d, nil
	}
	best := 0.0
	for _, s := range out.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > best {
			best = d
		}
	}
	if best > 0 {
		return best, nil
	}
	return 0, &ToolError{Tool: "ffprobe", Message: "no duration in probe output"}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
