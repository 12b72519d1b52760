package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/db"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/store"
	"github.com/heimdex/window-annotator/internal/transcode"
)

type fakeRunner struct {
	caps      media.Capabilities
	failProbe bool
}

func (f *fakeRunner) Detect(ctx context.Context) (*media.Capabilities, error) {
	c := f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func (f *fakeRunner) Probe(ctx context.Context, path string) (float64, error) {
	if f.failProbe {
		return 0, &media.ToolError{Tool: "ffprobe", ExitCode: 1, Message: "moov atom not found"}
	}
	return 42.5, nil
}

func (f *fakeRunner) Transcode(ctx context.Context, in, out string, d float64, onProgress func(float64)) error {
	os.MkdirAll(filepath.Dir(out), 0755)
	return os.WriteFile(out, []byte("0123456789"), 0644)
}

type testEnv struct {
	router http.Handler
	runner *fakeRunner
	tr     *transcode.Service
}

func newTestEnv(t *testing.T, caps media.Capabilities, tokens TokenSource, webDir string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	repo := store.NewRepository(database.Conn())

	runner := &fakeRunner{caps: caps}
	tr := transcode.NewService(transcode.Config{
		Repo:      repo,
		Runner:    runner,
		OutputDir: filepath.Join(dir, "transcoded"),
		UploadDir: filepath.Join(dir, "uploads"),
	})
	t.Cleanup(tr.Close)

	ann := annotations.NewService(annotations.Config{Repo: repo, Location: time.UTC})
	router := NewRouter(ServerConfig{
		Annotations: ann,
		Transcoder:  tr,
		Tokens:      tokens,
		WebDir:      webDir,
		StartTime:   time.Now(),
		Version:     "test",
	})
	return &testEnv{router: router, runner: runner, tr: tr}
}

func allTools() media.Capabilities {
	return media.Capabilities{FFmpeg: true, FFprobe: true}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")
	rr := env.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestAnnotations_GetAndSave(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")

	if rr := env.do(t, http.MethodGet, "/api/annotations", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing video_id: status = %d", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/api/annotations?video_id=cam-1", nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Fatalf("unknown snapshot = %d %q", rr.Code, rr.Body.String())
	}

	if rr := env.do(t, http.MethodPost, "/api/annotations", "{oops"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/annotations", `{"windows":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing videoId: status = %d", rr.Code)
	}

	snap := `{"videoId":"cam-1","windowSeconds":300,"windows":[{"start":0,"end":300,"entries":[],"notes":"","history":[]}],"currentIndex":0,"absOrigin":null}`
	rr = env.do(t, http.MethodPost, "/api/annotations", snap)
	if rr.Code != http.StatusOK || decodeJSONBody(t, rr)["ok"] != true {
		t.Fatalf("save = %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/api/annotations?video_id=cam-1", nil)
	if strings.TrimSpace(rr.Body.String()) != snap {
		t.Errorf("stored snapshot = %s", rr.Body.String())
	}
}

func TestProbeDuration(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		env := newTestEnv(t, allTools(), nil, "")
		rr := env.upload(t, "/api/probe-duration", "clip.mov", "data")
		if rr.Code != http.StatusOK || decodeJSONBody(t, rr)["duration"] != 42.5 {
			t.Fatalf("probe = %d %s", rr.Code, rr.Body.String())
		}
	})
	t.Run("unavailable", func(t *testing.T) {
		env := newTestEnv(t, media.Capabilities{FFmpeg: true}, nil, "")
		rr := env.upload(t, "/api/probe-duration", "clip.mov", "data")
		if rr.Code != http.StatusNotImplemented || decodeJSONBody(t, rr)["code"] != CodeUnavailable {
			t.Fatalf("probe = %d %s", rr.Code, rr.Body.String())
		}
	})
	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(t, allTools(), nil, "")
		env.runner.failProbe = true
		rr := env.upload(t, "/api/probe-duration", "clip.mov", "data")
		body := decodeJSONBody(t, rr)
		if rr.Code != http.StatusBadRequest || body["error"] != "ffprobe_failed" || body["message"] != "moov atom not found" {
			t.Fatalf("probe = %d %v", rr.Code, body)
		}
	})
	t.Run("no file", func(t *testing.T) {
		env := newTestEnv(t, allTools(), nil, "")
		if rr := env.do(t, http.MethodPost, "/api/probe-duration", "x"); rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
	})
}

func TestTranscodeAndServeOutput(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")

	rr := env.upload(t, "/api/transcode", "clip.mov", "data")
	if rr.Code != http.StatusOK {
		t.Fatalf("transcode = %d %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	url, _ := body["url"].(string)
	if !strings.HasPrefix(url, "/transcoded/") || body["duration"] != 42.5 {
		t.Fatalf("transcode body = %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Range", "bytes=2-5")
	out := httptest.NewRecorder()
	env.router.ServeHTTP(out, req)
	if out.Code != http.StatusPartialContent || out.Body.String() != "2345" {
		t.Fatalf("range GET = %d %q", out.Code, out.Body.String())
	}
	if out.Header().Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", out.Header().Get("Content-Type"))
	}

	if rr := env.do(t, http.MethodGet, "/transcoded/annotator.db", nil); rr.Code != http.StatusNotFound {
		t.Errorf("non-output name: status = %d", rr.Code)
	}
}

func TestTranscodeJob(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")

	rr := env.upload(t, "/api/transcode-start", "clip.mov", "data")
	if rr.Code != http.StatusOK {
		t.Fatalf("start = %d %s", rr.Code, rr.Body.String())
	}
	jobID, _ := decodeJSONBody(t, rr)["job"].(string)
	if jobID == "" {
		t.Fatal("no job id")
	}
	env.tr.Wait()

	rr = env.do(t, http.MethodGet, "/api/transcode-status?job="+jobID, nil)
	body := decodeJSONBody(t, rr)
	if body["status"] != "done" || body["progress"] != 1.0 || body["url"] != "/transcoded/"+jobID+".mp4" {
		t.Fatalf("status = %v", body)
	}

	if rr := env.do(t, http.MethodGet, "/api/transcode-status?job=nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/transcode-status", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing job: status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/jobs", nil)
	jobs, _ := decodeJSONBody(t, rr)["jobs"].([]any)
	if len(jobs) != 1 {
		t.Errorf("jobs = %v", jobs)
	}
}

func TestTranscodeStart_Unavailable(t *testing.T) {
	env := newTestEnv(t, media.Capabilities{FFprobe: true}, nil, "")
	rr := env.upload(t, "/api/transcode-start", "clip.mov", "data")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")
	base := "/api/sessions/cam-1"

	rr := env.do(t, http.MethodPost, base+"/manual", ManualRequest{Start: 0, End: 900, Step: 300})
	if rr.Code != http.StatusOK {
		t.Fatalf("manual = %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, base+"/windows/0/actions", ActionRequest{Action: "add"})
	totals := decodeJSONBody(t, rr)["totals"].(map[string]any)
	if totals["pending"] != 1.0 || totals["pendingWindows"] != 1.0 {
		t.Fatalf("totals after add = %v", totals)
	}

	rr = env.do(t, http.MethodGet, base+"/export/summary", nil)
	if rr.Code != http.StatusConflict || decodeJSONBody(t, rr)["code"] != CodePendingEntries {
		t.Fatalf("gated export = %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, base+"/discard-check", nil)
	if decodeJSONBody(t, rr)["wouldDiscard"] != true {
		t.Errorf("discard-check = %s", rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, base+"/manual", ManualRequest{Start: 0, End: 600})
	if rr.Code != http.StatusConflict || decodeJSONBody(t, rr)["code"] != CodeInvalidState {
		t.Fatalf("unforced regenerate = %d %s", rr.Code, rr.Body.String())
	}

	env.do(t, http.MethodPost, base+"/windows/0/actions", ActionRequest{Action: "staying"})
	env.do(t, http.MethodPut, base+"/windows/0/notes", NotesRequest{Notes: "delivery, van"})
	env.do(t, http.MethodPut, base+"/current", map[string]int{"index": 2})
	rr = env.do(t, http.MethodPost, base+"/prev", nil)
	if cur := decodeJSONBody(t, rr)["session"].(map[string]any)["currentIndex"]; cur != 1.0 {
		t.Errorf("currentIndex after prev = %v", cur)
	}

	rr = env.do(t, http.MethodGet, base+"/export/summary", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export = %d %s", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "cam-1_summary.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rr.Body.String(), `cam-1,00:00:00,00:05:00,1,0,1,"delivery, van"`) {
		t.Errorf("csv = %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/sessions", nil)
	sessions, _ := decodeJSONBody(t, rr)["sessions"].([]any)
	if len(sessions) != 1 {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")
	base := "/api/sessions/cam-1"
	env.do(t, http.MethodPost, base+"/manual", ManualRequest{Start: 0, End: 300})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad range", http.MethodPost, base + "/manual", ManualRequest{Start: 300, End: 300, Force: true}, http.StatusBadRequest, CodeValidation},
		{"unknown action", http.MethodPost, base + "/windows/0/actions", ActionRequest{Action: "dance"}, http.StatusBadRequest, CodeValidation},
		{"classify without pending", http.MethodPost, base + "/windows/0/actions", ActionRequest{Action: "moving"}, http.StatusConflict, CodeInvalidState},
		{"index not a number", http.MethodPost, base + "/windows/x/actions", ActionRequest{Action: "add"}, http.StatusBadRequest, CodeBadRequest},
		{"index out of range", http.MethodPut, base + "/windows/9/notes", NotesRequest{Notes: "x"}, http.StatusBadRequest, CodeValidation},
		{"missing index", http.MethodPut, base + "/current", map[string]any{}, http.StatusBadRequest, CodeBadRequest},
		{"bad filename", http.MethodPost, base + "/files", FilesRequest{Filenames: []string{"holiday.mp4"}}, http.StatusBadRequest, CodeValidation},
		{"add files in manual mode", http.MethodPost, base + "/files/add", FilesRequest{Filenames: []string{"240115_090000_093000.mp4"}}, http.StatusConflict, CodeInvalidState},
		{"bad export kind", http.MethodGet, base + "/export/pdf", nil, http.StatusBadRequest, CodeBadRequest},
		{"bad body", http.MethodPost, base + "/manual", "not json", http.StatusBadRequest, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := decodeJSONBody(t, rr)["code"]; got != tt.code {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestIngest_CoverageGap(t *testing.T) {
	env := newTestEnv(t, allTools(), nil, "")
	rr := env.do(t, http.MethodPost, "/api/sessions/gate/files", FilesRequest{Filenames: []string{"240115_090000_090300.mp4", "240115_090400_090500.mp4"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != CodeCoverageGap || body["notice"] == "" || body["mode"] != "wallclock" {
		t.Fatalf("body = %v", body)
	}

	rr = env.do(t, http.MethodPost, "/api/sessions/gate/files/add", FilesRequest{Filenames: []string{"240115_090000_090500.mp4"}})
	body = decodeJSONBody(t, rr)
	if _, ok := body["code"]; ok {
		t.Errorf("code after filling the gap = %v", body["code"])
	}
	windows := body["session"].(map[string]any)["windows"].([]any)
	if len(windows) != 1 {
		t.Errorf("windows = %d, want 1", len(windows))
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	env := newTestEnv(t, allTools(), staticToken("s3cret-token"), "")

	if rr := env.do(t, http.MethodGet, "/api/sessions", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Errorf("health: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodOptions, "/api/sessions", nil); rr.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret-token")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with token: status = %d", rr.Code)
	}
}

func TestStaticWebDir(t *testing.T) {
	web := t.TempDir()
	os.WriteFile(filepath.Join(web, "index.html"), []byte("<h1>annotator</h1>"), 0644)
	env := newTestEnv(t, allTools(), nil, web)

	rr := env.do(t, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "annotator") {
		t.Fatalf("GET / = %d %q", rr.Code, rr.Body.String())
	}
}
