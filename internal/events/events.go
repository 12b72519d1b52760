// Package events publishes annotator activity (snapshot saves, window
// regeneration, finished transcodes) to NATS so other services can follow
// along. When no NATS URL is configured a NoopPublisher is used.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	TopicSnapshotSaved     = "annotator.snapshot.saved"
	TopicWindowsGenerated  = "annotator.windows.generated"
	TopicTranscodeFinished = "annotator.transcode.finished"
)

// Publisher sends JSON-encoded events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// SnapshotSaved follows every stored snapshot.
type SnapshotSaved struct {
	VideoID string    `json:"video_id"`
	Windows int       `json:"windows"`
	Pending int       `json:"pending"`
	At      time.Time `json:"at"`
}

// WindowsGenerated follows manual setup, file ingestion and incremental adds.
type WindowsGenerated struct {
	VideoID string    `json:"video_id"`
	Mode    string    `json:"mode"`
	Windows int       `json:"windows"`
	Gaps    int       `json:"gaps"`
	Notice  string    `json:"notice,omitempty"`
	At      time.Time `json:"at"`
}

// TranscodeFinished follows a job reaching done or error.
type TranscodeFinished struct {
	JobID    string    `json:"job_id"`
	Status   string    `json:"status"`
	URL      string    `json:"url,omitempty"`
	Duration *float64  `json:"duration,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// Recorder keeps published events in memory. Tests use it in place of NATS.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Topic string
	Event any
}

func (r *Recorder) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	r.Events = append(r.Events, Recorded{Topic: topic, Event: event})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Topics returns the recorded topics in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Topic
	}
	return out
}
