package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/window-annotator/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor caches tool detection so /api/capabilities and every
// transcode request do not hit PATH lookups.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor wraps runner. A ttl <= 0 uses five minutes.
func NewCachedDoctor(runner Runner, ttl time.Duration, logger *slog.Logger) *CachedDoctor {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedDoctor{runner: runner, ttl: ttl, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-detects.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh re-detects regardless of freshness, keeping the stale value on
// failure.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.Detect(ctx)
	if err != nil {
		d.logger.Warn("media tool detection failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// Require returns ErrUnavailable unless the named tools are present.
func (d *CachedDoctor) Require(ctx context.Context, ffmpeg, ffprobe bool) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	if (ffmpeg && !caps.FFmpeg) || (ffprobe && !caps.FFprobe) {
		return ErrUnavailable
	}
	return nil
}
