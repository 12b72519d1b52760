// Package annotations keeps one session per video id in memory, persists
// every change as a snapshot and fans changes out to the backup mirror and
// the event bus. It is the command layer the HTTP API and the watcher use.
package annotations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/window-annotator/internal/backup"
	"github.com/heimdex/window-annotator/internal/events"
	"github.com/heimdex/window-annotator/internal/export"
	"github.com/heimdex/window-annotator/internal/logging"
	"github.com/heimdex/window-annotator/internal/session"
	"github.com/heimdex/window-annotator/internal/store"
	"github.com/heimdex/window-annotator/internal/timegrid"
)

// ErrInvalidJSON is returned by SaveSnapshot for a body that is not JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// View is the state returned after every command.
type View struct {
	Mode    session.Mode     `json:"mode"`
	Totals  session.Totals   `json:"totals"`
	Session session.Snapshot `json:"session"`
	Report  *session.Report  `json:"report,omitempty"`
}

type Config struct {
	Repo          store.Repository
	Mirror        backup.Mirror
	Publisher     events.Publisher
	Location      *time.Location
	WindowSeconds int64
	Logger        *slog.Logger
}

type Service struct {
	repo      store.Repository
	mirror    backup.Mirror
	publisher events.Publisher
	loc       *time.Location
	step      int64
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Mirror == nil {
		cfg.Mirror = backup.NoopMirror{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoopPublisher{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = timegrid.DefaultStep
	}
	return &Service{
		repo:      cfg.Repo,
		mirror:    cfg.Mirror,
		publisher: cfg.Publisher,
		loc:       cfg.Location,
		step:      cfg.WindowSeconds,
		logger:    logging.WithComponent(cfg.Logger, "annotations"),
		sessions:  make(map[string]*session.Session),
	}
}

// Get returns the session for videoID, creating an empty one if nothing is
// stored.
func (s *Service) Get(ctx context.Context, videoID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load(ctx, videoID)
	if err != nil {
		return View{}, err
	}
	return view(sess, nil), nil
}

// WouldDiscard reports whether regenerating videoID's windows would lose
// reviewer input.
func (s *Service) WouldDiscard(ctx context.Context, videoID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load(ctx, videoID)
	if err != nil {
		return false, err
	}
	return sess.WouldDiscard(), nil
}

// Manual regenerates relative windows over [start, end). Without force it
// refuses when annotations would be lost.
func (s *Service) Manual(ctx context.Context, videoID string, start, end, step int64, force bool) (View, error) {
	if step == 0 {
		step = s.step
	}
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		if err := guardDiscard(sess, "manual", force); err != nil {
			return err
		}
		return sess.StartManual(videoID, start, end, step)
	})
	if err != nil {
		return View{}, err
	}
	s.publishGenerated(ctx, sess, nil)
	return view(sess, nil), nil
}

// Ingest replaces coverage with the parsed files and regenerates wall-clock
// windows.
func (s *Service) Ingest(ctx context.Context, videoID string, names []string, step int64, force bool) (View, error) {
	if step == 0 {
		step = s.step
	}
	var report session.Report
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		if err := guardDiscard(sess, "ingest files", force); err != nil {
			return err
		}
		var err error
		report, err = sess.IngestFiles(names, step)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.publishGenerated(ctx, sess, &report)
	return view(sess, &report), nil
}

// AddFiles merges more files into a wall-clock session's coverage.
func (s *Service) AddFiles(ctx context.Context, videoID string, names []string, force bool) (View, error) {
	var report session.Report
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		if sess.Mode() != session.ModeWallClock {
			return &session.StateError{Op: "add files", Window: -1, Err: session.ErrNotWallClock}
		}
		if err := guardDiscard(sess, "add files", force); err != nil {
			return err
		}
		var err error
		report, err = sess.AddFiles(names)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.publishGenerated(ctx, sess, &report)
	return view(sess, &report), nil
}

// Select moves the current window pointer.
func (s *Service) Select(ctx context.Context, videoID string, index int) (View, error) {
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		return sess.Select(index)
	})
	if err != nil {
		return View{}, err
	}
	return view(sess, nil), nil
}

// Step moves the current pointer one window forward (delta > 0) or back,
// stopping at either end.
func (s *Service) Step(ctx context.Context, videoID string, delta int) (View, error) {
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		if len(sess.Windows) == 0 {
			return &session.StateError{Op: "navigate", Window: -1, Err: session.ErrNoWindows}
		}
		if delta > 0 {
			sess.Next()
		} else {
			sess.Prev()
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view(sess, nil), nil
}

// Apply runs a reviewer action on one window.
func (s *Service) Apply(ctx context.Context, videoID string, index int, action session.Action) (View, error) {
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		_, err := sess.Apply(index, action)
		return err
	})
	if err != nil {
		return View{}, err
	}
	return view(sess, nil), nil
}

// SetNotes replaces a window's notes.
func (s *Service) SetNotes(ctx context.Context, videoID string, index int, notes string) (View, error) {
	sess, err := s.mutate(ctx, videoID, func(sess *session.Session) error {
		return sess.SetNotes(index, notes)
	})
	if err != nil {
		return View{}, err
	}
	return view(sess, nil), nil
}

// Export writes a CSV export. Nothing reaches out when a window is still
// pending.
func (s *Service) Export(ctx context.Context, videoID string, kind export.Kind, out io.Writer) (int, error) {
	var buf bytes.Buffer
	s.mu.Lock()
	sess, err := s.load(ctx, videoID)
	var n int
	if err == nil {
		n, err = export.Write(&buf, kind, sess)
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}

// SaveSnapshot stores a client-provided snapshot body as-is (last write
// wins) and replaces the in-memory session. It returns the video id. A
// padded video id is trimmed and the body re-encoded so it can be read back
// under the trimmed id.
func (s *Service) SaveSnapshot(ctx context.Context, body []byte) (string, error) {
	if !json.Valid(body) {
		return "", ErrInvalidJSON
	}
	var snap session.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return "", &session.ValidationError{Field: "snapshot", Err: fmt.Errorf("%w: %v", session.ErrInvalidSnapshot, err)}
	}
	sess, err := session.FromSnapshot(snap, s.loc)
	if err != nil {
		return "", err
	}
	if sess.VideoID != snap.VideoID {
		if body, err = json.Marshal(sess.Snapshot()); err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, sess, body); err != nil {
		return "", err
	}
	s.sessions[sess.VideoID] = sess
	return sess.VideoID, nil
}

// LoadSnapshot returns the stored snapshot body, falling back to the backup
// mirror. It returns nil when nothing is stored anywhere.
func (s *Service) LoadSnapshot(ctx context.Context, videoID string) (json.RawMessage, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, &session.ValidationError{Field: "video_id", Err: session.ErrEmptyVideoID}
	}
	rec, err := s.repo.GetSnapshot(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec.Body, nil
	}
	body, err := s.mirror.Get(ctx, videoID)
	if err != nil {
		s.logger.Warn("snapshot mirror read failed", "video_id", videoID, "error", err)
		return nil, nil
	}
	return body, nil
}

// List returns stored snapshot summaries, newest first.
func (s *Service) List(ctx context.Context) ([]*store.SnapshotRecord, error) {
	return s.repo.ListSnapshots(ctx)
}

// Delete forgets a session locally. The mirror copy is kept.
func (s *Service) Delete(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, videoID)
	return s.repo.DeleteSnapshot(ctx, videoID)
}

// mutate runs fn against a copy of the session and swaps it in only after
// fn succeeds and the snapshot is stored.
func (s *Service) mutate(ctx context.Context, videoID string, fn func(*session.Session) error) (*session.Session, error) {
	videoID = strings.TrimSpace(videoID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(ctx, videoID)
	if err != nil {
		return nil, err
	}
	work, err := session.FromSnapshot(cur.Snapshot(), s.loc)
	if err != nil {
		return nil, err
	}
	if err := fn(work); err != nil {
		return nil, err
	}

	body, err := json.Marshal(work.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.persist(ctx, work, body); err != nil {
		return nil, err
	}
	s.sessions[videoID] = work
	return work, nil
}

// load must be called with mu held.
func (s *Service) load(ctx context.Context, videoID string) (*session.Session, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, &session.ValidationError{Field: "videoId", Err: session.ErrEmptyVideoID}
	}
	if sess, ok := s.sessions[videoID]; ok {
		return sess, nil
	}

	body, err := s.LoadSnapshot(ctx, videoID)
	if err != nil {
		return nil, err
	}
	var sess *session.Session
	if len(body) > 0 {
		var snap session.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, fmt.Errorf("stored snapshot for %s: %w", videoID, err)
		}
		if sess, err = session.FromSnapshot(snap, s.loc); err != nil {
			return nil, fmt.Errorf("stored snapshot for %s: %w", videoID, err)
		}
		s.logger.Debug("session restored", "video_id", videoID, "windows", len(sess.Windows))
	} else {
		sess = session.New(videoID, s.loc)
		sess.WindowSeconds = s.step
	}
	s.sessions[videoID] = sess
	return sess, nil
}

func (s *Service) persist(ctx context.Context, sess *session.Session, body []byte) error {
	totals := sess.Totals()
	rec := &store.SnapshotRecord{
		VideoID: sess.VideoID,
		Body:    body,
		Windows: totals.Windows,
		Pending: totals.Pending,
	}
	if err := s.repo.SaveSnapshot(ctx, rec); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	logger := logging.WithVideoID(s.logger, sess.VideoID)
	if err := s.mirror.Put(ctx, sess.VideoID, body); err != nil {
		logger.Warn("snapshot mirror write failed", "error", err)
	}
	ev := events.SnapshotSaved{VideoID: sess.VideoID, Windows: totals.Windows, Pending: totals.Pending, At: time.Now()}
	if err := s.publisher.Publish(ctx, events.TopicSnapshotSaved, ev); err != nil {
		logger.Warn("failed to publish snapshot event", "error", err)
	}
	return nil
}

func (s *Service) publishGenerated(ctx context.Context, sess *session.Session, report *session.Report) {
	ev := events.WindowsGenerated{VideoID: sess.VideoID, Mode: string(sess.Mode()), Windows: len(sess.Windows), At: time.Now()}
	if report != nil {
		ev.Gaps = len(report.Gaps)
		ev.Notice = report.Notice
	}
	if err := s.publisher.Publish(ctx, events.TopicWindowsGenerated, ev); err != nil {
		s.logger.Warn("failed to publish windows event", "video_id", sess.VideoID, "error", err)
	}
	s.logger.Info("windows generated", "video_id", sess.VideoID, "mode", ev.Mode, "windows", ev.Windows, "gaps", ev.Gaps)
}

func guardDiscard(sess *session.Session, op string, force bool) error {
	if !force && sess.WouldDiscard() {
		return &session.StateError{Op: op, Window: -1, Err: session.ErrWouldDiscardWork}
	}
	return nil
}

func view(sess *session.Session, report *session.Report) View {
	return View{Mode: sess.Mode(), Totals: sess.Totals(), Session: sess.Snapshot(), Report: report}
}
