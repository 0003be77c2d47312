// Package timeline implements the editor's timeline model: assets, tracks, trimmed
// clips and their transform nodes, kept in an id-keyed arena. Every edit is a
// validated transition that either applies completely or is rejected with an error
// and leaves the arena untouched.
package timeline

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrCollision       = errors.New("placement collides with existing clips")
	ErrTrackLocked     = errors.New("track is locked")
	ErrKindMismatch    = errors.New("asset kind does not match track kind")
	ErrOutOfRange      = errors.New("time out of range")
	ErrTooShort        = errors.New("clip shorter than minimum duration")
	ErrInvalidAsset    = errors.New("invalid asset")
	ErrInvalidDocument = errors.New("invalid project document")
)

type AssetKind string

const (
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
	AssetImage AssetKind = "image"
)

// Visual reports whether the asset draws onto the output canvas.
func (k AssetKind) Visual() bool {
	return k == AssetVideo || k == AssetImage
}

// Audible reports whether the asset can carry an audio stream.
func (k AssetKind) Audible() bool {
	return k == AssetVideo || k == AssetAudio
}

// TrackKind returns the kind of track the asset may be placed on.
func (k AssetKind) TrackKind() TrackKind {
	if k == AssetAudio {
		return TrackAudio
	}
	return TrackVideo
}

func (k AssetKind) valid() bool {
	return k == AssetVideo || k == AssetAudio || k == AssetImage
}

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Asset is an immutable reference to a decodable source file.
type Asset struct {
	ID            string    `json:"id"`
	Kind          AssetKind `json:"kind"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	URL           string    `json:"url,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

// Track is an ordered lane of clips. Track order is compositing z-order.
type Track struct {
	ID      string    `json:"id"`
	Kind    TrackKind `json:"kind"`
	Name    string    `json:"name"`
	ClipIDs []string  `json:"clip_ids"`
	Visible bool      `json:"visible"`
	Locked  bool      `json:"locked"`
}

// Clip is a placed, trimmed instance of an asset. The timeline interval
// [StartMs, EndMs) always has the same length as the source interval
// [TrimStartMs, TrimEndMs).
type Clip struct {
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	TrackID     string `json:"track_id"`
	StartMs     int64  `json:"start_ms"`
	EndMs       int64  `json:"end_ms"`
	TrimStartMs int64  `json:"trim_start_ms"`
	TrimEndMs   int64  `json:"trim_end_ms"`
	Layer       int    `json:"layer"`
}

func (c Clip) DurationMs() int64 {
	return c.EndMs - c.StartMs
}

// Contains reports whether t falls inside [StartMs, EndMs).
func (c Clip) Contains(t int64) bool {
	return c.StartMs <= t && t < c.EndMs
}

// Overlaps reports whether [start, end) intersects the clip's timeline interval.
func (c Clip) Overlaps(start, end int64) bool {
	return start < c.EndMs && end > c.StartMs
}

// SourceTime maps a timeline time onto the clip's source media time.
func (c Clip) SourceTime(t int64) int64 {
	return c.TrimStartMs + (t - c.StartMs)
}

// Transform places a clip on the output canvas, in canvas pixels.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Opacity  float64 `json:"opacity"`
}

type Canvas struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Limits holds the numeric floors and caps enforced on clips.
type Limits struct {
	MinClipMs          int64
	ImageDurationMs    int64
	MaxImageDurationMs int64
	MinTimelineMs      int64
	// PIPScale is the overlay width as a fraction of the canvas width.
	PIPScale float64
	// PIPMargin is the overlay inset from the bottom-right corner, in pixels.
	PIPMargin float64
}

func DefaultLimits() Limits {
	return Limits{
		MinClipMs:          100,
		ImageDurationMs:    5000,
		MaxImageDurationMs: 60 * 60 * 1000,
		MinTimelineMs:      60 * 1000,
		PIPScale:           0.3,
		PIPMargin:          24,
	}
}

func DefaultCanvas() Canvas {
	return Canvas{Width: 1920, Height: 1080}
}

// Placement is a clip resolved against its asset, transform and track position.
type Placement struct {
	Clip       Clip
	Asset      Asset
	Transform  Transform
	TrackIndex int
	Base       bool
}
