package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/export"
	"github.com/heimdex/window-annotator/internal/logging"
	"github.com/heimdex/window-annotator/internal/session"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())

	r.Get("/health", healthHandler(cfg))
	// Media elements cannot send Authorization; output names are random.
	r.Get("/transcoded/{name}", transcodedHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/api/annotations", getAnnotationsHandler(cfg))
		r.Post("/api/annotations", saveAnnotationsHandler(cfg))

		r.Get("/api/capabilities", capabilitiesHandler(cfg))
		r.Post("/api/probe-duration", probeHandler(cfg))
		r.Post("/api/transcode", transcodeHandler(cfg))
		r.Post("/api/transcode-start", transcodeStartHandler(cfg))
		r.Get("/api/transcode-status", transcodeStatusHandler(cfg))
		r.Get("/api/jobs", listJobsHandler(cfg))

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", listSessionsHandler(cfg))
			r.Route("/{videoID}", func(r chi.Router) {
				r.Get("/", getSessionHandler(cfg))
				r.Delete("/", deleteSessionHandler(cfg))
				r.Post("/manual", manualHandler(cfg))
				r.Post("/files", ingestHandler(cfg))
				r.Post("/files/add", addFilesHandler(cfg))
				r.Get("/discard-check", discardCheckHandler(cfg))
				r.Put("/current", selectHandler(cfg))
				r.Post("/next", stepHandler(cfg, 1))
				r.Post("/prev", stepHandler(cfg, -1))
				r.Post("/windows/{index}/actions", actionHandler(cfg))
				r.Put("/windows/{index}/notes", notesHandler(cfg))
				r.Get("/export/{kind}", exportHandler(cfg))
			})
		})
	})

	if cfg.WebDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.WebDir)))
	}

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func getAnnotationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := strings.TrimSpace(r.URL.Query().Get("video_id"))
		if videoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", CodeBadRequest)
			return
		}
		body, err := cfg.Annotations.LoadSnapshot(r.Context(), videoID)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if len(body) == 0 {
			body = json.RawMessage(`{}`)
		}
		WriteJSON(w, http.StatusOK, body)
	}
}

func saveAnnotationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBodyBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				WriteError(w, http.StatusRequestEntityTooLarge, "snapshot too large", CodePayloadTooLarge)
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		videoID, err := cfg.Annotations.SaveSnapshot(r.Context(), body)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		logging.WithVideoID(cfg.Logger, videoID).Info("snapshot saved")
		WriteJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func capabilitiesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, err := cfg.Transcoder.Capabilities(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CapabilitiesToResponse(caps))
	}
}

func probeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		part, ok := uploadedFile(w, r)
		if !ok {
			return
		}
		defer part.Close()

		d, err := cfg.Transcoder.Probe(r.Context(), part, part.FileName())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, DurationResponse{Duration: d})
	}
}

func transcodeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		part, ok := uploadedFile(w, r)
		if !ok {
			return
		}
		defer part.Close()

		res, err := cfg.Transcoder.Transcode(r.Context(), part, part.FileName())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func transcodeStartHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		part, ok := uploadedFile(w, r)
		if !ok {
			return
		}
		defer part.Close()

		job, err := cfg.Transcoder.Start(r.Context(), part, part.FileName())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TranscodeStartResponse{Job: job.ID})
	}
}

func transcodeStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.URL.Query().Get("job"))
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job is required", CodeBadRequest)
			return
		}
		job, err := cfg.Transcoder.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", CodeNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, JobToStatus(job))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Transcoder.Jobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", CodeInternal)
			return
		}
		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func transcodedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := cfg.Transcoder.OutputPath(chi.URLParam(r, "name"))
		if err != nil {
			WriteError(w, http.StatusNotFound, "not found", CodeNotFound)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			WriteError(w, http.StatusNotFound, "not found", CodeNotFound)
			return
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, stat.Name(), stat.ModTime(), f)
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := cfg.Annotations.List(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		resp := SessionsResponse{Sessions: make([]SessionSummary, len(recs))}
		for i, rec := range recs {
			resp.Sessions[i] = SnapshotToSummary(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Annotations.Get(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Annotations.Delete(r.Context(), chi.URLParam(r, "videoID")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func manualHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ManualRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		v, err := cfg.Annotations.Manual(r.Context(), chi.URLParam(r, "videoID"), req.Start, req.End, req.Step, req.Force)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func ingestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FilesRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		v, err := cfg.Annotations.Ingest(r.Context(), chi.URLParam(r, "videoID"), req.Filenames, req.Step, req.Force)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeGenerated(w, v)
	}
}

func addFilesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FilesRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		v, err := cfg.Annotations.AddFiles(r.Context(), chi.URLParam(r, "videoID"), req.Filenames, req.Force)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeGenerated(w, v)
	}
}

// writeGenerated adds the coverage-gap code when ingestion produced no
// windows. It is still a 200.
func writeGenerated(w http.ResponseWriter, v annotations.View) {
	resp := GeneratedResponse{View: v}
	if v.Report != nil && v.Report.Notice != "" {
		resp.Notice, resp.Code = v.Report.Notice, CodeCoverageGap
	}
	WriteJSON(w, http.StatusOK, resp)
}

func discardCheckHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dirty, err := cfg.Annotations.WouldDiscard(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, DiscardCheckResponse{WouldDiscard: dirty})
	}
}

func selectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Index == nil {
			WriteError(w, http.StatusBadRequest, "index is required", CodeBadRequest)
			return
		}
		v, err := cfg.Annotations.Select(r.Context(), chi.URLParam(r, "videoID"), *req.Index)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func stepHandler(cfg ServerConfig, delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Annotations.Step(r.Context(), chi.URLParam(r, "videoID"), delta)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func actionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := windowIndex(w, r)
		if !ok {
			return
		}
		var req ActionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		action := session.Action(strings.ToLower(strings.TrimSpace(req.Action)))
		v, err := cfg.Annotations.Apply(r.Context(), chi.URLParam(r, "videoID"), index, action)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func notesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := windowIndex(w, r)
		if !ok {
			return
		}
		var req NotesRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		v, err := cfg.Annotations.SetNotes(r.Context(), chi.URLParam(r, "videoID"), index, req.Notes)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := export.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		videoID := chi.URLParam(r, "videoID")

		var buf bytes.Buffer
		if _, err := cfg.Annotations.Export(r.Context(), videoID, kind, &buf); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(videoID, kind)+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return false
	}
	return true
}

func windowIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "window index must be an integer", CodeBadRequest)
		return 0, false
	}
	return index, true
}

// uploadedFile streams the multipart part named "file" without buffering
// the whole upload.
func uploadedFile(w http.ResponseWriter, r *http.Request) (*multipart.Part, bool) {
	mr, err := r.MultipartReader()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "multipart form required", CodeBadRequest)
		return nil, false
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, "file is required", CodeBadRequest)
			return nil, false
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart body", CodeBadRequest)
			return nil, false
		}
		if part.FormName() == "file" {
			return part, true
		}
		part.Close()
	}
}
