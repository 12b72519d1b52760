package api

import (
	"time"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/store"
)

const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidation       = "VALIDATION_FAILED"
	CodeInvalidState     = "INVALID_STATE"
	CodeNotFound         = "NOT_FOUND"
	CodePendingEntries   = "PENDING_ENTRIES"
	CodeUnavailable      = "CAPABILITY_UNAVAILABLE"
	CodeCoverageGap      = "COVERAGE_GAP"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	maxSnapshotBodyBytes = 16 << 20
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ToolErrorResponse is the body for a failed ffprobe/ffmpeg run.
type ToolErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type DurationResponse struct {
	Duration float64 `json:"duration"`
}

type TranscodeStartResponse struct {
	Job string `json:"job"`
}

// TranscodeStatusResponse carries progress while running, url/duration when
// done and message on error.
type TranscodeStatusResponse struct {
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Message  string   `json:"message,omitempty"`
	URL      string   `json:"url,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

type JobResponse struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Progress  float64  `json:"progress"`
	Message   string   `json:"message,omitempty"`
	URL       string   `json:"url,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	InputName string   `json:"input_name,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CapabilitiesResponse struct {
	FFmpeg   bool   `json:"ffmpeg"`
	FFprobe  bool   `json:"ffprobe"`
	ProbedAt string `json:"probed_at,omitempty"`
}

type SessionSummary struct {
	VideoID   string `json:"videoId"`
	Windows   int    `json:"windows"`
	Pending   int    `json:"pending"`
	UpdatedAt string `json:"updatedAt"`
}

type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

type ManualRequest struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Step  int64 `json:"step,omitempty"`
	Force bool  `json:"force,omitempty"`
}

type FilesRequest struct {
	Filenames []string `json:"filenames"`
	Step      int64    `json:"step,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

// GeneratedResponse is the session view after window generation.
type GeneratedResponse struct {
	annotations.View
	Notice string `json:"notice,omitempty"`
	Code   string `json:"code,omitempty"`
}

type DiscardCheckResponse struct {
	WouldDiscard bool `json:"wouldDiscard"`
}

type SelectRequest struct {
	Index *int `json:"index"`
}

type ActionRequest struct {
	Action string `json:"action"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

func JobToResponse(j *store.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		URL:       j.URL,
		Duration:  j.Duration,
		InputName: j.InputName,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToStatus(j *store.Job) TranscodeStatusResponse {
	resp := TranscodeStatusResponse{Status: j.Status, Progress: j.Progress}
	switch j.Status {
	case store.JobStatusDone:
		resp.URL, resp.Duration = j.URL, j.Duration
	case store.JobStatusError:
		resp.Message = j.Message
	}
	return resp
}

func CapabilitiesToResponse(c *media.Capabilities) CapabilitiesResponse {
	resp := CapabilitiesResponse{FFmpeg: c.FFmpeg, FFprobe: c.FFprobe}
	if !c.ProbedAt.IsZero() {
		resp.ProbedAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func SnapshotToSummary(r *store.SnapshotRecord) SessionSummary {
	return SessionSummary{
		VideoID:   r.VideoID,
		Windows:   r.Windows,
		Pending:   r.Pending,
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}
