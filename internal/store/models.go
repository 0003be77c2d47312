// Package store persists the editor's media library, saved project documents
// and export job history in sqlite.
package store

import (
	"encoding/json"
	"time"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"

	// ConfigLastProject remembers the project reopened on startup.
	ConfigLastProject = "last_project_id"
)

// Asset is a media library entry. Its id is the id the asset carries on every
// timeline it is placed on.
type Asset struct {
	ID            string             `json:"id"`
	Kind          timeline.AssetKind `json:"kind"`
	Name          string             `json:"name"`
	Path          string             `json:"path"`
	DurationMs    int64              `json:"duration_ms"`
	Width         int                `json:"width,omitempty"`
	Height        int                `json:"height,omitempty"`
	SizeBytes     int64              `json:"size_bytes"`
	Fingerprint   string             `json:"fingerprint,omitempty"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// AssetFromTimeline converts a timeline asset into a library row.
func AssetFromTimeline(a timeline.Asset) *Asset {
	return &Asset{
		ID:            a.ID,
		Kind:          a.Kind,
		Name:          a.Name,
		Path:          a.Path,
		DurationMs:    a.DurationMs,
		Width:         a.Width,
		Height:        a.Height,
		SizeBytes:     a.SizeBytes,
		Fingerprint:   a.Fingerprint,
		ThumbnailPath: a.ThumbnailPath,
		CreatedAt:     time.Now().UTC(),
	}
}

// Timeline converts the row back; url is the locally served address.
func (a *Asset) Timeline(url string) timeline.Asset {
	return timeline.Asset{
		ID:            a.ID,
		Kind:          a.Kind,
		Name:          a.Name,
		Path:          a.Path,
		URL:           url,
		ThumbnailPath: a.ThumbnailPath,
		DurationMs:    a.DurationMs,
		Width:         a.Width,
		Height:        a.Height,
		SizeBytes:     a.SizeBytes,
		Fingerprint:   a.Fingerprint,
	}
}

// Project is a saved timeline document.
type Project struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExportJob is the persisted state of one export run.
type ExportJob struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id,omitempty"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase,omitempty"`
	Progress      int       `json:"progress"`
	OutputPath    string    `json:"output_path"`
	FileSizeBytes int64     `json:"file_size_bytes,omitempty"`
	Segments      int       `json:"segments,omitempty"`
	Error         string    `json:"error,omitempty"`
	PublishedURL  string    `json:"published_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Finished reports whether the job reached a terminal status.
func (j *ExportJob) Finished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
