// Package watcher feeds stamped footage files dropped into a directory to a
// wall-clock annotation session.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/filestamp"
	"github.com/heimdex/window-annotator/internal/logging"
	"github.com/heimdex/window-annotator/internal/session"
)

const DefaultDebounce = 2 * time.Second

// Sink receives batches of file names. *annotations.Service satisfies it.
type Sink interface {
	Get(ctx context.Context, videoID string) (annotations.View, error)
	Ingest(ctx context.Context, videoID string, names []string, step int64, force bool) (annotations.View, error)
	AddFiles(ctx context.Context, videoID string, names []string, force bool) (annotations.View, error)
}

type Config struct {
	Dir      string
	VideoID  string
	Sink     Sink
	// Location interprets the stamps; nil means time.Local.
	Location *time.Location
	Debounce time.Duration
	Logger   *slog.Logger
}

type Watcher struct {
	dir      string
	videoID  string
	sink     Sink
	loc      *time.Location
	debounce time.Duration
	logger   *slog.Logger
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if cfg.VideoID == "" {
		return nil, errors.New("watch video id is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("watch sink is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Watcher{
		dir:      cfg.Dir,
		videoID:  cfg.VideoID,
		sink:     cfg.Sink,
		loc:      cfg.Location,
		debounce: cfg.Debounce,
		logger:   logging.WithVideoID(logging.WithComponent(cfg.Logger, "watcher"), cfg.VideoID),
	}, nil
}

// Run watches the directory until ctx is cancelled. Stamped files already
// present are ingested first when the session has no windows yet.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for footage", "dir", logging.SanitizePath(w.dir))

	if err := w.initialScan(ctx); err != nil {
		w.logger.Warn("initial scan failed", "error", err)
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !filestamp.Matches(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			pending[filepath.Base(event.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)
			sort.Strings(names)
			w.Deliver(ctx, names)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Deliver hands names to the sink. Files that fall inside a wall-clock
// session's stored range are merged into its coverage; anything else
// re-ingests every stamped file in the directory so the range can grow.
// Sessions with reviewer input are never overwritten; the batch is logged
// and dropped.
func (w *Watcher) Deliver(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}
	current, err := w.sink.Get(ctx, w.videoID)
	if err != nil {
		w.logger.Error("load session failed", "error", err)
		return
	}

	var v annotations.View
	if current.Mode == session.ModeWallClock && w.withinRange(current.Session, names) {
		v, err = w.sink.AddFiles(ctx, w.videoID, names, false)
	} else {
		all, scanErr := w.scan()
		if scanErr != nil {
			w.logger.Warn("directory scan failed", "error", scanErr)
		}
		var step int64
		if current.Mode == session.ModeWallClock {
			step = current.Session.WindowSeconds
		}
		v, err = w.sink.Ingest(ctx, w.videoID, union(all, names), step, false)
	}
	switch {
	case errors.Is(err, session.ErrWouldDiscardWork):
		w.logger.Warn("new footage not applied, session has reviewer input", "files", names)
	case err != nil:
		w.logger.Error("apply footage failed", "files", names, "error", err)
	default:
		attrs := []any{"files", len(names), "windows", len(v.Session.Windows)}
		if v.Report != nil && v.Report.Notice != "" {
			attrs = append(attrs, "notice", v.Report.Notice)
		}
		w.logger.Info("footage applied", attrs...)
	}
}

func (w *Watcher) withinRange(snap session.Snapshot, names []string) bool {
	if snap.AbsStart == nil || snap.AbsEnd == nil {
		return false
	}
	for _, name := range names {
		st, err := filestamp.Parse(name, w.loc)
		if err != nil {
			return false
		}
		if st.StartAbs < *snap.AbsStart || st.EndAbs > *snap.AbsEnd {
			return false
		}
	}
	return true
}

func (w *Watcher) initialScan(ctx context.Context) error {
	current, err := w.sink.Get(ctx, w.videoID)
	if err != nil {
		return err
	}
	if len(current.Session.Windows) > 0 {
		return nil
	}
	names, err := w.scan()
	if err != nil {
		return err
	}
	w.Deliver(ctx, names)
	return nil
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filestamp.Matches(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
