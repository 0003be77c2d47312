// Package probe wraps the ffprobe and ffmpeg command-line tools used at ingest
// time: stream metadata, poster thumbnails and tool availability checks.
package probe

import (
	"context"
	"time"
)

// FFmpeg is the ingest-side tool boundary.
type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*Result, error)
	GenerateThumbnail(ctx context.Context, filePath, outputPath string, atMs int64) error
}

// Result is the metadata ingest needs from one media file.
type Result struct {
	FormatName string  `json:"format_name"`
	DurationMs int64   `json:"duration_ms"`
	Bitrate    int64   `json:"bitrate,omitempty"`
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// DepInfo represents the availability status of a single external tool.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities summarises which editor features the installed tools support.
type Capabilities struct {
	FFmpeg    DepInfo   `json:"ffmpeg"`
	FFprobe   DepInfo   `json:"ffprobe"`
	CanProbe  bool      `json:"can_probe"`
	CanThumb  bool      `json:"can_thumbnail"`
	CanExport bool      `json:"can_export"`
	ProbedAt  time.Time `json:"probed_at"`
}
