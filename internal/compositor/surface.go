package compositor

import (
	"sync"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Layer is one source drawn onto the output surface.
type Layer struct {
	ClipID    string             `json:"clip_id"`
	AssetID   string             `json:"asset_id"`
	Kind      timeline.AssetKind `json:"kind"`
	SourceMs  int64              `json:"source_ms"`
	Transform timeline.Transform `json:"transform"`
	Base      bool               `json:"base"`
	// Ready is false while the source is still loading; the layer is skipped.
	Ready bool `json:"ready"`
}

// Frame is a composed output frame, back-to-front.
type Frame struct {
	TimeMs int64           `json:"time_ms"`
	Canvas timeline.Canvas `json:"canvas"`
	Layers []Layer         `json:"layers"`
}

// Surface is the single output target. Only the compositor draws on it.
type Surface interface {
	Begin(timeMs int64, canvas timeline.Canvas)
	Draw(layer Layer)
	End()
}

// SnapshotSurface records the last composed frame so other goroutines can read it.
type SnapshotSurface struct {
	mu      sync.Mutex
	pending Frame
	last    Frame
	frames  int
}

func NewSnapshotSurface() *SnapshotSurface {
	return &SnapshotSurface{}
}

func (s *SnapshotSurface) Begin(timeMs int64, canvas timeline.Canvas) {
	s.pending = Frame{TimeMs: timeMs, Canvas: canvas}
}

func (s *SnapshotSurface) Draw(layer Layer) {
	s.pending.Layers = append(s.pending.Layers, layer)
}

func (s *SnapshotSurface) End() {
	s.mu.Lock()
	s.last = s.pending
	s.frames++
	s.mu.Unlock()
}

// Frame returns the most recently completed frame.
func (s *SnapshotSurface) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.last
	f.Layers = append([]Layer(nil), s.last.Layers...)
	return f
}

// Frames counts completed frames.
func (s *SnapshotSurface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
