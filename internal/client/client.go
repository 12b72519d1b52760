// Package client talks to a running annotator server over HTTP. The CLI uses
// it for pull/push of snapshots and for remote probe and transcode.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/heimdex/window-annotator/internal/logging"
)

const (
	DefaultPollInterval = time.Second
	requestTimeout      = 60 * time.Second
	maxErrorBody        = 4096
)

// ErrCapabilityUnavailable is matched by a RemoteError for HTTP 501, which
// the server returns when ffmpeg or ffprobe is missing.
var ErrCapabilityUnavailable = errors.New("capability unavailable on server")

// RemoteError is a non-2xx answer from the server.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.StatusCode == http.StatusNotImplemented {
		return ErrCapabilityUnavailable
	}
	return nil
}

// IsRetryable returns true for server errors (5xx other than 501).
func (e *RemoteError) IsRetryable() bool {
	return e.StatusCode >= 500 && e.StatusCode != http.StatusNotImplemented
}

// JobFailedError is returned by WaitTranscode when the job ends in error.
type JobFailedError struct {
	Job     string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("transcode job %s failed: %s", e.Job, e.Message)
}

// JobStatus mirrors GET /api/transcode-status.
type JobStatus struct {
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Message  string   `json:"message,omitempty"`
	URL      string   `json:"url,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

func (s *JobStatus) Terminal() bool {
	return s.Status == "done" || s.Status == "error"
}

// TranscodeResult mirrors POST /api/transcode.
type TranscodeResult struct {
	URL      string   `json:"url"`
	Duration *float64 `json:"duration"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	// PollInterval is how often WaitTranscode asks for status.
	PollInterval time.Duration
}

// New returns a client for the server at baseURL. An empty token sends no
// Authorization header.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{},
		logger:       logging.WithComponent(logger, "client"),
		PollInterval: DefaultPollInterval,
	}
}

// SaveSnapshot posts a snapshot document. The server derives the video id
// from the body.
func (c *Client) SaveSnapshot(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/api/annotations", "application/json", bytes.NewReader(body), nil)
}

// LoadSnapshot fetches the stored snapshot for videoID. It returns nil, nil
// when the server has none.
func (c *Client) LoadSnapshot(ctx context.Context, videoID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var raw json.RawMessage
	path := "/api/annotations?video_id=" + url.QueryEscape(videoID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &raw); err != nil {
		return nil, err
	}
	if isEmptyObject(raw) {
		return nil, nil
	}
	return raw, nil
}

// ProbeDuration uploads media and returns its duration in seconds.
func (c *Client) ProbeDuration(ctx context.Context, media io.Reader, name string) (float64, error) {
	var resp struct {
		Duration float64 `json:"duration"`
	}
	if err := c.upload(ctx, "/api/probe-duration", media, name, &resp); err != nil {
		return 0, err
	}
	return resp.Duration, nil
}

// Transcode uploads media and blocks until the server has converted it.
func (c *Client) Transcode(ctx context.Context, media io.Reader, name string) (*TranscodeResult, error) {
	var resp TranscodeResult
	if err := c.upload(ctx, "/api/transcode", media, name, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartTranscode uploads media and returns the id of the background job.
func (c *Client) StartTranscode(ctx context.Context, media io.Reader, name string) (string, error) {
	var resp struct {
		Job string `json:"job"`
	}
	if err := c.upload(ctx, "/api/transcode-start", media, name, &resp); err != nil {
		return "", err
	}
	if resp.Job == "" {
		return "", errors.New("server returned no job id")
	}
	return resp.Job, nil
}

func (c *Client) TranscodeStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var status JobStatus
	if err := c.do(ctx, http.MethodGet, "/api/transcode-status?job="+url.QueryEscape(jobID), "", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitTranscode polls until the job is done or failed, reporting progress
// after every poll. A failed job yields its status and a *JobFailedError.
func (c *Client) WaitTranscode(ctx context.Context, jobID string, onProgress func(float64)) (*JobStatus, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.TranscodeStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(status.Progress)
		}
		if status.Terminal() {
			if status.Status == "error" {
				return status, &JobFailedError{Job: jobID, Message: status.Message}
			}
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) upload(ctx context.Context, path string, media io.Reader, name string, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, media)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	c.logger.Info("uploading media", "path", path, "name", name)
	err := c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), pr, out)
	pr.Close()
	return err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id, err := nanoid.New(); err == nil {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	rerr := &RemoteError{StatusCode: resp.StatusCode}

	var env struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		rerr.Code = env.Code
		rerr.Message = env.Error
		if env.Message != "" {
			// Tool failures put the tool code in "error" and stderr in "message".
			rerr.Code = env.Error
			rerr.Message = env.Message
		}
		return rerr
	}
	rerr.Message = strings.TrimSpace(string(body))
	return rerr
}

func isEmptyObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var m map[string]json.RawMessage
	return json.Unmarshal(trimmed, &m) == nil && len(m) == 0
}
