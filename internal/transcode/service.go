// Package transcode runs ffprobe/ffmpeg work on uploaded files: duration
// probes, synchronous transcodes and persisted asynchronous transcode jobs.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/window-annotator/internal/events"
	"github.com/heimdex/window-annotator/internal/logging"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/store"
)

// URLPrefix is where transcoded outputs are served.
const URLPrefix = "/transcoded/"

var (
	ErrEmptyUpload   = errors.New("empty upload")
	ErrInvalidOutput = errors.New("invalid output name")
)

var outputName = regexp.MustCompile(`^[0-9a-f]{32}\.mp4$`)

// Result is a finished transcode.
type Result struct {
	URL      string   `json:"url"`
	Duration *float64 `json:"duration,omitempty"`
}

type Config struct {
	Repo      store.Repository
	Runner    media.Runner
	Doctor    *media.CachedDoctor
	Publisher events.Publisher
	OutputDir string
	UploadDir string
	Logger    *slog.Logger
}

// Service owns uploads, outputs and the job goroutines.
type Service struct {
	repo      store.Repository
	runner    media.Runner
	doctor    *media.CachedDoctor
	publisher events.Publisher
	outputDir string
	uploadDir string
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	newID   func() string
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoopPublisher{}
	}
	if cfg.Doctor == nil {
		cfg.Doctor = media.NewCachedDoctor(cfg.Runner, 0, cfg.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:      cfg.Repo,
		runner:    cfg.Runner,
		doctor:    cfg.Doctor,
		publisher: cfg.Publisher,
		outputDir: cfg.OutputDir,
		uploadDir: cfg.UploadDir,
		logger:    logging.WithComponent(cfg.Logger, "transcode"),
		baseCtx:   ctx,
		cancel:    cancel,
		newID:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Capabilities reports ffmpeg/ffprobe presence through the cache.
func (s *Service) Capabilities(ctx context.Context) (*media.Capabilities, error) {
	return s.doctor.Get(ctx)
}

// Probe stores src temporarily and returns its duration in seconds.
func (s *Service) Probe(ctx context.Context, src io.Reader, name string) (float64, error) {
	if err := s.doctor.Require(ctx, false, true); err != nil {
		return 0, err
	}
	path, err := s.saveUpload(src, name)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)

	d, err := s.runner.Probe(ctx, path)
	if err != nil {
		s.logger.Warn("probe failed", "name", name, "error", err)
		return 0, err
	}
	return d, nil
}

// Transcode converts src and blocks until ffmpeg exits.
func (s *Service) Transcode(ctx context.Context, src io.Reader, name string) (*Result, error) {
	if err := s.doctor.Require(ctx, true, false); err != nil {
		return nil, err
	}
	path, err := s.saveUpload(src, name)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	return s.run(ctx, s.newID(), path, nil)
}

// Start stores src and transcodes it in the background. The returned job is
// already persisted as running.
func (s *Service) Start(ctx context.Context, src io.Reader, name string) (*store.Job, error) {
	if err := s.doctor.Require(ctx, true, false); err != nil {
		return nil, err
	}
	path, err := s.saveUpload(src, name)
	if err != nil {
		return nil, err
	}

	job := &store.Job{ID: s.newID(), Status: store.JobStatusRunning, InputName: filepath.Base(name)}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger := logging.WithJobID(s.logger, job.ID)
	logger.Info("transcode job started", "input", job.InputName)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer os.Remove(path)
		s.runJob(job.ID, path, logger)
	}()
	return job, nil
}

func (s *Service) runJob(id, path string, logger *slog.Logger) {
	ctx := s.baseCtx
	onProgress := func(p float64) {
		if err := s.repo.UpdateJobProgress(ctx, id, p); err != nil {
			logger.Warn("failed to record progress", "error", err)
		}
	}

	res, err := s.run(ctx, id, path, onProgress)
	finished := events.TranscodeFinished{JobID: id, At: time.Now()}
	if err != nil {
		msg := failureMessage(err)
		if ferr := s.repo.FailJob(context.Background(), id, msg); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
		logger.Warn("transcode job failed", "error", err)
		finished.Status, finished.Message = store.JobStatusError, msg
	} else {
		if ferr := s.repo.FinishJob(context.Background(), id, res.URL, res.Duration); ferr != nil {
			logger.Error("failed to mark job done", "error", ferr)
		}
		logger.Info("transcode job done", "url", res.URL)
		finished.Status, finished.URL, finished.Duration = store.JobStatusDone, res.URL, res.Duration
	}
	if perr := s.publisher.Publish(context.Background(), events.TopicTranscodeFinished, finished); perr != nil {
		logger.Warn("failed to publish transcode event", "error", perr)
	}
}

// run transcodes path into <id>.mp4. The input duration, when probe-able,
// drives progress; the output duration is reported when ffprobe works.
func (s *Service) run(ctx context.Context, id, path string, onProgress func(float64)) (*Result, error) {
	var inDur float64
	if caps := s.doctor.Peek(); caps != nil && caps.FFprobe {
		if d, err := s.runner.Probe(ctx, path); err == nil {
			inDur = d
		}
	}

	name := id + ".mp4"
	out := filepath.Join(s.outputDir, name)
	if err := s.runner.Transcode(ctx, path, out, inDur, onProgress); err != nil {
		return nil, err
	}

	res := &Result{URL: URLPrefix + name}
	if d, err := s.runner.Probe(ctx, out); err == nil {
		res.Duration = &d
	} else if inDur > 0 {
		res.Duration = &inDur
	}
	return res, nil
}

// Status returns the job, or nil when unknown.
func (s *Service) Status(ctx context.Context, id string) (*store.Job, error) {
	return s.repo.GetJob(ctx, id)
}

// Jobs lists recent jobs, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]*store.Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// OutputPath resolves a served output name, rejecting anything that is not
// a generated <hex>.mp4.
func (s *Service) OutputPath(name string) (string, error) {
	if !outputName.MatchString(name) {
		return "", ErrInvalidOutput
	}
	return filepath.Join(s.outputDir, name), nil
}

// Close cancels running jobs and waits for their goroutines.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every started job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create upload dir: %w", err)
	}
	f, err := os.CreateTemp(s.uploadDir, "upload-*"+uploadExt(name))
	if err != nil {
		return "", fmt.Errorf("cannot store upload: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyUpload
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

func uploadExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if safeExt.MatchString(ext) {
		return strings.ToLower(ext)
	}
	return ""
}

func failureMessage(err error) string {
	var te *media.ToolError
	switch {
	case errors.As(err, &te):
		return te.Message
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return err.Error()
}
