package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/window-annotator/internal/db"
	"github.com/heimdex/window-annotator/internal/events"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/store"
)

type fakeRunner struct {
	mu        sync.Mutex
	caps      media.Capabilities
	durations map[string]float64 // by file extension
	failWith  error
	block     chan struct{}
	probed    []string
}

func (f *fakeRunner) Detect(ctx context.Context) (*media.Capabilities, error) {
	c := f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func (f *fakeRunner) Probe(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	f.probed = append(f.probed, path)
	f.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	if d, ok := f.durations[filepath.Ext(path)]; ok {
		return d, nil
	}
	return 0, &media.ToolError{Tool: "ffprobe", ExitCode: 1, Message: "Invalid data found when processing input"}
}

func (f *fakeRunner) Transcode(ctx context.Context, in, out string, d float64, onProgress func(float64)) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failWith != nil {
		return f.failWith
	}
	if onProgress != nil {
		onProgress(0.5)
	}
	os.MkdirAll(filepath.Dir(out), 0755)
	return os.WriteFile(out, []byte("mp4"), 0644)
}

func newTestService(t *testing.T, runner *fakeRunner) (*Service, *events.Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	rec := &events.Recorder{}
	svc := NewService(Config{
		Repo:      store.NewRepository(database.Conn()),
		Runner:    runner,
		Publisher: rec,
		OutputDir: filepath.Join(dir, "transcoded"),
		UploadDir: filepath.Join(dir, "uploads"),
	})
	t.Cleanup(svc.Close)
	return svc, rec, dir
}

func fullCaps() media.Capabilities {
	return media.Capabilities{FFmpeg: true, FFprobe: true}
}

func TestProbe(t *testing.T) {
	runner := &fakeRunner{caps: fullCaps(), durations: map[string]float64{".mov": 93.5}}
	svc, _, dir := newTestService(t, runner)

	d, err := svc.Probe(context.Background(), strings.NewReader("data"), "clip.MOV")
	if err != nil || d != 93.5 {
		t.Fatalf("Probe() = %v, %v", d, err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "uploads"))
	if len(entries) != 0 {
		t.Errorf("temporary upload not removed: %v", entries)
	}
}

func TestProbe_Errors(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeRunner{caps: media.Capabilities{FFmpeg: true}})
		_, err := svc.Probe(context.Background(), strings.NewReader("data"), "clip.mov")
		if !errors.Is(err, media.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
	})
	t.Run("probe failed", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeRunner{caps: fullCaps()})
		_, err := svc.Probe(context.Background(), strings.NewReader("data"), "clip.bin")
		var te *media.ToolError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want ToolError", err)
		}
	})
	t.Run("empty upload", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeRunner{caps: fullCaps()})
		_, err := svc.Probe(context.Background(), strings.NewReader(""), "clip.mov")
		if !errors.Is(err, ErrEmptyUpload) {
			t.Fatalf("err = %v, want ErrEmptyUpload", err)
		}
	})
}

func TestTranscode_Sync(t *testing.T) {
	runner := &fakeRunner{caps: fullCaps(), durations: map[string]float64{".mov": 60, ".mp4": 60.04}}
	svc, _, dir := newTestService(t, runner)

	res, err := svc.Transcode(context.Background(), strings.NewReader("data"), "clip.mov")
	if err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}
	if !strings.HasPrefix(res.URL, URLPrefix) || res.Duration == nil || *res.Duration != 60.04 {
		t.Fatalf("Transcode() = %+v", res)
	}
	name := strings.TrimPrefix(res.URL, URLPrefix)
	path, err := svc.OutputPath(name)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "transcoded") {
		t.Errorf("OutputPath() = %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestTranscode_UnavailableWithoutFFmpeg(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRunner{caps: media.Capabilities{FFprobe: true}})
	if _, err := svc.Transcode(context.Background(), strings.NewReader("x"), "a.mov"); !errors.Is(err, media.ErrUnavailable) {
		t.Fatalf("Transcode() err = %v", err)
	}
	if _, err := svc.Start(context.Background(), strings.NewReader("x"), "a.mov"); !errors.Is(err, media.ErrUnavailable) {
		t.Fatalf("Start() err = %v", err)
	}
}

func TestStart_Done(t *testing.T) {
	runner := &fakeRunner{caps: fullCaps(), durations: map[string]float64{".mov": 30, ".mp4": 30}}
	svc, rec, dir := newTestService(t, runner)
	ctx := context.Background()

	job, err := svc.Start(ctx, strings.NewReader("data"), "/tmp/evil/../clip.mov")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if job.Status != store.JobStatusRunning || job.InputName != "clip.mov" {
		t.Fatalf("job = %+v", job)
	}
	svc.Wait()

	got, err := svc.Status(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("Status() = %v, %v", got, err)
	}
	if got.Status != store.JobStatusDone || got.Progress != 1 || got.URL != URLPrefix+job.ID+".mp4" {
		t.Fatalf("finished job = %+v", got)
	}
	if got.Duration == nil || *got.Duration != 30 {
		t.Errorf("duration = %v", got.Duration)
	}
	if topics := rec.Topics(); len(topics) != 1 || topics[0] != events.TopicTranscodeFinished {
		t.Errorf("events = %v", topics)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "uploads"))
	if len(entries) != 0 {
		t.Errorf("temporary upload not removed: %v", entries)
	}
}

func TestStart_Error(t *testing.T) {
	runner := &fakeRunner{
		caps:     fullCaps(),
		failWith: &media.ToolError{Tool: "ffmpeg", ExitCode: 1, Message: "Invalid data found when processing input"},
	}
	svc, rec, _ := newTestService(t, runner)

	job, err := svc.Start(context.Background(), strings.NewReader("data"), "clip.mov")
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	got, _ := svc.Status(context.Background(), job.ID)
	if got.Status != store.JobStatusError || got.Message != "Invalid data found when processing input" {
		t.Fatalf("failed job = %+v", got)
	}
	ev := rec.Events[0].Event.(events.TranscodeFinished)
	if ev.Status != store.JobStatusError || ev.Message == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestStart_RunningThenCancelledOnClose(t *testing.T) {
	runner := &fakeRunner{caps: fullCaps(), block: make(chan struct{})}
	svc, _, _ := newTestService(t, runner)

	job, err := svc.Start(context.Background(), strings.NewReader("data"), "clip.mov")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Status(context.Background(), job.ID)
	if got.Status != store.JobStatusRunning || got.Terminal() {
		t.Fatalf("job should be running: %+v", got)
	}

	svc.Close()
	got, _ = svc.Status(context.Background(), job.ID)
	if got.Status != store.JobStatusError || got.Message != "cancelled" {
		t.Fatalf("job after Close = %+v", got)
	}
}

func TestStatus_Unknown(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRunner{caps: fullCaps()})
	got, err := svc.Status(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("Status(unknown) = %v, %v", got, err)
	}
}

func TestOutputPath_RejectsTraversal(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRunner{caps: fullCaps()})
	for _, name := range []string{"../annotator.db", "x.mp4", "0123456789abcdef0123456789abcdef.mov", ""} {
		if _, err := svc.OutputPath(name); !errors.Is(err, ErrInvalidOutput) {
			t.Errorf("OutputPath(%q) err = %v", name, err)
		}
	}
}

func TestUploadExt(t *testing.T) {
	tests := map[string]string{
		"clip.MOV":        ".mov",
		"a/b/c.mp4":       ".mp4",
		"noext":           "",
		"weird.$(rm -rf)": "",
	}
	for in, want := range tests {
		if got := uploadExt(in); got != want {
			t.Errorf("uploadExt(%q) = %q, want %q", in, got, want)
		}
	}
}
