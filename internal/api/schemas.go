package api

import (
	"encoding/json"
	"time"

	"github.com/heimdex/heimdex-editor/internal/ingest"
	"github.com/heimdex/heimdex-editor/internal/session"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State          string          `json:"state"`
	Playback       session.State   `json:"playback"`
	AssetsCount    int             `json:"assets_count"`
	ClipsCount     int             `json:"clips_count"`
	ExportsRunning int             `json:"exports_running"`
	LastError      string          `json:"last_error,omitempty"`
	Tools          *ToolsResponse  `json:"tools,omitempty"`
	Constraints    ConstraintsInfo `json:"constraints"`
}

type ToolsResponse struct {
	FFmpeg      bool   `json:"ffmpeg"`
	FFprobe     bool   `json:"ffprobe"`
	CanProbe    bool   `json:"can_probe"`
	CanExport   bool   `json:"can_export"`
	Version     string `json:"version,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type ConstraintsInfo struct {
	MinClipMs       int64 `json:"min_clip_ms"`
	ImageDurationMs int64 `json:"image_duration_ms"`
	CanvasWidth     int   `json:"canvas_width"`
	CanvasHeight    int   `json:"canvas_height"`
}

type IngestRequest struct {
	Paths []string `json:"paths"`
}

type IngestResponse struct {
	Results  []ingest.Result `json:"results"`
	Imported int             `json:"imported"`
	Failed   int             `json:"failed"`
}

type AssetsResponse struct {
	Assets []timeline.Asset `json:"assets"`
}

type LibraryResponse struct {
	Assets []*store.Asset `json:"assets"`
}

type RemoveAssetResponse struct {
	RemovedClipIDs []string `json:"removed_clip_ids"`
}

type ProjectResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Document timeline.Document `json:"document"`
}

type LoadProjectRequest struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Document json.RawMessage `json:"document"`
}

type RenameProjectRequest struct {
	Name string `json:"name"`
}

type ProjectSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

type AddTrackRequest struct {
	Kind timeline.TrackKind `json:"kind"`
	Name string             `json:"name"`
}

type UpdateTrackRequest struct {
	Visible *bool `json:"visible,omitempty"`
	Locked  *bool `json:"locked,omitempty"`
}

type TracksResponse struct {
	Tracks []timeline.Track `json:"tracks"`
}

// DropRequest positions a clip. PointerMs defaults to StartMs.
type DropRequest struct {
	TrackID   string `json:"track_id"`
	StartMs   int64  `json:"start_ms"`
	PointerMs *int64 `json:"pointer_ms,omitempty"`
	NoShift   bool   `json:"no_shift,omitempty"`
}

func (d DropRequest) Drop() timeline.Drop {
	drop := timeline.DropAt(d.TrackID, d.StartMs)
	if d.PointerMs != nil {
		drop.PointerMs = *d.PointerMs
	}
	drop.NoShift = d.NoShift
	return drop
}

type PlaceClipRequest struct {
	AssetID string `json:"asset_id"`
	DropRequest
}

type ClipResponse struct {
	Clip      timeline.Clip       `json:"clip"`
	Transform *timeline.Transform `json:"transform,omitempty"`
}

type ClipsResponse struct {
	Clips []timeline.Clip `json:"clips"`
}

type TrimRequest struct {
	Side    timeline.Side `json:"side"`
	DeltaMs int64         `json:"delta_ms"`
}

type TrimResponse struct {
	AppliedMs int64         `json:"applied_ms"`
	Clip      timeline.Clip `json:"clip"`
}

type SplitRequest struct {
	AtMs int64 `json:"at_ms"`
}

type SplitResponse struct {
	Left  timeline.Clip `json:"left"`
	Right timeline.Clip `json:"right"`
}

type BeginTrimRequest struct {
	ClipID string        `json:"clip_id"`
	Side   timeline.Side `json:"side"`
}

type BeginTrimResponse struct {
	GestureID string `json:"gesture_id"`
}

type UpdateTrimRequest struct {
	TotalMs int64 `json:"total_ms"`
}

type PlacementResponse struct {
	Clip       timeline.Clip      `json:"clip"`
	Asset      timeline.Asset     `json:"asset"`
	Transform  timeline.Transform `json:"transform"`
	TrackIndex int                `json:"track_index"`
	Base       bool               `json:"base"`
}

type VisibleResponse struct {
	TimeMs     int64               `json:"time_ms"`
	Placements []PlacementResponse `json:"placements"`
}

type SeekRequest struct {
	Ms int64 `json:"ms"`
}

type VolumeRequest struct {
	Volume *float64 `json:"volume,omitempty"`
	Muted  *bool    `json:"muted,omitempty"`
}

type StartExportRequest struct {
	Name      string `json:"name"`
	OutputDir string `json:"output_dir,omitempty"`
}

type ExportJobsResponse struct {
	Jobs []*store.ExportJob `json:"jobs"`
}

type EDLRequest struct {
	Name      string  `json:"name"`
	OutputDir string  `json:"output_dir,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToSummary(p *store.Project) ProjectSummary {
	return ProjectSummary{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func PlacementToResponse(p timeline.Placement) PlacementResponse {
	return PlacementResponse{
		Clip:       p.Clip,
		Asset:      p.Asset,
		Transform:  p.Transform,
		TrackIndex: p.TrackIndex,
		Base:       p.Base,
	}
}
