package store

import (
	"encoding/json"
	"time"
)

const (
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// SnapshotRecord is a stored session snapshot. Body is the snapshot JSON as
// received; Windows and Pending are denormalised for listing.
type SnapshotRecord struct {
	VideoID   string          `json:"video_id"`
	Body      json.RawMessage `json:"-"`
	Windows   int             `json:"windows"`
	Pending   int             `json:"pending"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Job is an asynchronous transcode.
type Job struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	URL       string    `json:"url,omitempty"`
	Duration  *float64  `json:"duration,omitempty"`
	InputName string    `json:"input_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job will not change again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
