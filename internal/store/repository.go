// Package store persists session snapshots, transcode jobs and config
// entries in SQLite.
package store

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error
	GetSnapshot(ctx context.Context, videoID string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context) ([]*SnapshotRecord, error)
	DeleteSnapshot(ctx context.Context, videoID string) error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	FinishJob(ctx context.Context, id, url string, duration *float64) error
	FailJob(ctx context.Context, id, message string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SaveSnapshot stores rec, replacing any previous snapshot for the video.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (video_id, body, windows, pending, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			body = excluded.body,
			windows = excluded.windows,
			pending = excluded.pending,
			updated_at = excluded.updated_at
	`, rec.VideoID, string(rec.Body), rec.Windows, rec.Pending, rec.UpdatedAt.Format(time.RFC3339))
	return err
}

// GetSnapshot returns nil, nil when the video has no snapshot.
func (r *SQLiteRepository) GetSnapshot(ctx context.Context, videoID string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var body, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT video_id, body, windows, pending, updated_at FROM snapshots WHERE video_id = ?
	`, videoID).Scan(&rec.VideoID, &body, &rec.Windows, &rec.Pending, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Body = []byte(body)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// ListSnapshots returns records without bodies, newest first.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context) ([]*SnapshotRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT video_id, windows, pending, updated_at FROM snapshots ORDER BY updated_at DESC, video_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var updatedAt string
		if err := rows.Scan(&rec.VideoID, &rec.Windows, &rec.Pending, &updatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE video_id = ?", videoID)
	return err
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	now := r.now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, message, url, duration, input_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.Progress, nullString(j.Message), nullString(j.URL), nullFloat(j.Duration),
		nullString(j.InputName), j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

// GetJob returns nil, nil for an unknown id.
func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, progress, message, url, duration, input_name, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, progress, message, url, duration, input_name, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = 'running'
	`, progress, r.now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) FinishJob(ctx context.Context, id, url string, duration *float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', progress = 1, url = ?, duration = ?, message = NULL, updated_at = ? WHERE id = ?
	`, url, nullFloat(duration), r.now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) FailJob(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'error', message = ?, updated_at = ? WHERE id = ?
	`, nullString(message), r.now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var message, url, inputName sql.NullString
	var duration sql.NullFloat64
	var createdAt, updatedAt string

	if err := s.Scan(&j.ID, &j.Status, &j.Progress, &message, &url, &duration, &inputName, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Message = message.String
	j.URL = url.String
	j.InputName = inputName.String
	if duration.Valid {
		d := duration.Float64
		j.Duration = &d
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
