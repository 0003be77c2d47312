package timeline

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Timeline is the arena of assets, tracks, clips and transforms. It is not safe for
// concurrent use; the owning session serialises access.
type Timeline struct {
	canvas     Canvas
	limits     Limits
	assets     map[string]Asset
	assetOrder []string
	tracks     []Track
	clips      map[string]Clip
	transforms map[string]Transform
}

// New creates an empty timeline. Zero-valued canvas or limits fields take defaults.
func New(canvas Canvas, limits Limits) *Timeline {
	return &Timeline{
		canvas:     normalizeCanvas(canvas),
		limits:     normalizeLimits(limits),
		assets:     make(map[string]Asset),
		clips:      make(map[string]Clip),
		transforms: make(map[string]Transform),
	}
}

func normalizeCanvas(c Canvas) Canvas {
	def := DefaultCanvas()
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	return c
}

func normalizeLimits(l Limits) Limits {
	def := DefaultLimits()
	if l.MinClipMs <= 0 {
		l.MinClipMs = def.MinClipMs
	}
	if l.ImageDurationMs <= 0 {
		l.ImageDurationMs = def.ImageDurationMs
	}
	if l.MaxImageDurationMs < l.ImageDurationMs {
		l.MaxImageDurationMs = def.MaxImageDurationMs
		if l.MaxImageDurationMs < l.ImageDurationMs {
			l.MaxImageDurationMs = l.ImageDurationMs
		}
	}
	if l.MinTimelineMs <= 0 {
		l.MinTimelineMs = def.MinTimelineMs
	}
	if l.PIPScale <= 0 || l.PIPScale > 1 {
		l.PIPScale = def.PIPScale
	}
	if l.PIPMargin <= 0 {
		l.PIPMargin = def.PIPMargin
	}
	return l
}

func newID() string {
	return uuid.NewString()
}

func (t *Timeline) Canvas() Canvas { return t.canvas }

func (t *Timeline) Limits() Limits { return t.limits }

// AddAsset registers an asset. An empty ID is assigned; images without a
// duration take the configured default.
func (t *Timeline) AddAsset(a Asset) (Asset, error) {
	if !a.Kind.valid() {
		return Asset{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAsset, a.Kind)
	}
	if a.Kind == AssetImage && a.DurationMs <= 0 {
		a.DurationMs = t.limits.ImageDurationMs
	}
	if a.DurationMs <= 0 {
		return Asset{}, fmt.Errorf("%w: %s has no duration", ErrInvalidAsset, a.Path)
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if _, exists := t.assets[a.ID]; exists {
		return Asset{}, fmt.Errorf("%w: duplicate asset id %s", ErrInvalidAsset, a.ID)
	}
	t.assets[a.ID] = a
	t.assetOrder = append(t.assetOrder, a.ID)
	return a, nil
}

func (t *Timeline) Asset(id string) (Asset, bool) {
	a, ok := t.assets[id]
	return a, ok
}

// Assets returns assets in the order they were added.
func (t *Timeline) Assets() []Asset {
	out := make([]Asset, 0, len(t.assetOrder))
	for _, id := range t.assetOrder {
		out = append(out, t.assets[id])
	}
	return out
}

// AddTrack appends a track, which paints over every track added before it.
func (t *Timeline) AddTrack(kind TrackKind, name string) Track {
	tr := Track{ID: newID(), Kind: kind, Name: name, Visible: true}
	t.tracks = append(t.tracks, tr)
	return copyTrack(tr)
}

func (t *Timeline) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = copyTrack(tr)
	}
	return out
}

func (t *Timeline) Track(id string) (Track, bool) {
	idx := t.trackIndex(id)
	if idx < 0 {
		return Track{}, false
	}
	return copyTrack(t.tracks[idx]), true
}

func (t *Timeline) SetTrackVisible(id string, visible bool) error {
	idx := t.trackIndex(id)
	if idx < 0 {
		return fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	t.tracks[idx].Visible = visible
	return nil
}

func (t *Timeline) SetTrackLocked(id string, locked bool) error {
	idx := t.trackIndex(id)
	if idx < 0 {
		return fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	t.tracks[idx].Locked = locked
	return nil
}

// BaseTrackID returns the first video track, whose clips fill the output frame.
func (t *Timeline) BaseTrackID() string {
	for _, tr := range t.tracks {
		if tr.Kind == TrackVideo {
			return tr.ID
		}
	}
	return ""
}

func (t *Timeline) Clip(id string) (Clip, bool) {
	c, ok := t.clips[id]
	return c, ok
}

// Clips returns every clip, grouped by track order and sorted by start time.
func (t *Timeline) Clips() []Clip {
	out := make([]Clip, 0, len(t.clips))
	for _, tr := range t.tracks {
		out = append(out, t.ClipsOnTrack(tr.ID)...)
	}
	return out
}

// ClipsOnTrack returns the track's clips sorted by start time.
func (t *Timeline) ClipsOnTrack(trackID string) []Clip {
	idx := t.trackIndex(trackID)
	if idx < 0 {
		return nil
	}
	out := make([]Clip, 0, len(t.tracks[idx].ClipIDs))
	for _, id := range t.tracks[idx].ClipIDs {
		out = append(out, t.clips[id])
	}
	return out
}

// ClipsForAsset returns every clip that references the asset.
func (t *Timeline) ClipsForAsset(assetID string) []Clip {
	var out []Clip
	for _, c := range t.Clips() {
		if c.AssetID == assetID {
			out = append(out, c)
		}
	}
	return out
}

func (t *Timeline) Transform(clipID string) (Transform, bool) {
	tr, ok := t.transforms[clipID]
	return tr, ok
}

// SetTransform replaces the transform node of a clip on a video track.
func (t *Timeline) SetTransform(clipID string, tr Transform) error {
	if _, ok := t.transforms[clipID]; !ok {
		return fmt.Errorf("transform for clip %s: %w", clipID, ErrNotFound)
	}
	if tr.Width <= 0 || tr.Height <= 0 {
		return fmt.Errorf("transform size must be positive: %w", ErrOutOfRange)
	}
	if tr.Opacity < 0 || tr.Opacity > 1 {
		return fmt.Errorf("opacity must be within [0,1]: %w", ErrOutOfRange)
	}
	t.transforms[clipID] = tr
	return nil
}

// Duration is the latest clip end time, floored so an empty project still scrolls.
func (t *Timeline) Duration() int64 {
	end := t.limits.MinTimelineMs
	for _, c := range t.clips {
		if c.EndMs > end {
			end = c.EndMs
		}
	}
	return end
}

// ContentEnd is the latest clip end time without the scroll floor.
func (t *Timeline) ContentEnd() int64 {
	var end int64
	for _, c := range t.clips {
		if c.EndMs > end {
			end = c.EndMs
		}
	}
	return end
}

// VisibleAt returns the visual clips drawn at time ms, back-to-front: by track
// order, then by layer.
func (t *Timeline) VisibleAt(ms int64) []Placement {
	base := t.BaseTrackID()
	var out []Placement
	for i, tr := range t.tracks {
		if tr.Kind != TrackVideo || !tr.Visible {
			continue
		}
		for _, id := range tr.ClipIDs {
			c := t.clips[id]
			if !c.Contains(ms) {
				continue
			}
			a := t.assets[c.AssetID]
			if !a.Kind.Visual() {
				continue
			}
			out = append(out, Placement{
				Clip:       c,
				Asset:      a,
				Transform:  t.transforms[id],
				TrackIndex: i,
				Base:       tr.ID == base,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TrackIndex != out[j].TrackIndex {
			return out[i].TrackIndex < out[j].TrackIndex
		}
		return out[i].Clip.Layer < out[j].Clip.Layer
	})
	return out
}

// AudibleAt returns the audio-bearing clips active at time ms: video clips on a
// visible base track (embedded audio) and clips on visible audio tracks.
func (t *Timeline) AudibleAt(ms int64) []Placement {
	var out []Placement
	for _, p := range t.AudioBindings() {
		if p.Clip.Contains(ms) {
			out = append(out, p)
		}
	}
	return out
}

// AudioBindings returns every clip whose source audio the synchronizer manages,
// regardless of the current time.
func (t *Timeline) AudioBindings() []Placement {
	base := t.BaseTrackID()
	var out []Placement
	for i, tr := range t.tracks {
		isBase := tr.ID == base
		if !tr.Visible || (!isBase && tr.Kind != TrackAudio) {
			continue
		}
		for _, id := range tr.ClipIDs {
			c := t.clips[id]
			a := t.assets[c.AssetID]
			if !a.Kind.Audible() {
				continue
			}
			out = append(out, Placement{Clip: c, Asset: a, TrackIndex: i, Base: isBase})
		}
	}
	return out
}

// SourceLimit returns the longest source interval a clip of the asset may expose.
// Still images can be stretched up to the configured cap.
func (t *Timeline) SourceLimit(a Asset) int64 {
	if a.Kind == AssetImage {
		return t.limits.MaxImageDurationMs
	}
	return a.DurationMs
}

// Clone returns a deep copy usable as an immutable snapshot.
func (t *Timeline) Clone() *Timeline {
	c := &Timeline{
		canvas:     t.canvas,
		limits:     t.limits,
		assets:     make(map[string]Asset, len(t.assets)),
		assetOrder: append([]string(nil), t.assetOrder...),
		tracks:     make([]Track, len(t.tracks)),
		clips:      make(map[string]Clip, len(t.clips)),
		transforms: make(map[string]Transform, len(t.transforms)),
	}
	for k, v := range t.assets {
		c.assets[k] = v
	}
	for i, tr := range t.tracks {
		c.tracks[i] = copyTrack(tr)
	}
	for k, v := range t.clips {
		c.clips[k] = v
	}
	for k, v := range t.transforms {
		c.transforms[k] = v
	}
	return c
}

func (t *Timeline) trackIndex(id string) int {
	for i, tr := range t.tracks {
		if tr.ID == id {
			return i
		}
	}
	return -1
}

func copyTrack(tr Track) Track {
	tr.ClipIDs = append([]string(nil), tr.ClipIDs...)
	return tr
}

// sortTrack keeps a track's clip list ordered by start time.
func (t *Timeline) sortTrack(idx int) {
	ids := t.tracks[idx].ClipIDs
	sort.SliceStable(ids, func(i, j int) bool {
		return t.clips[ids[i]].StartMs < t.clips[ids[j]].StartMs
	})
}

func (t *Timeline) nextLayer(trackIdx int) int {
	layer := 0
	for _, id := range t.tracks[trackIdx].ClipIDs {
		if l := t.clips[id].Layer + 1; l > layer {
			layer = l
		}
	}
	return layer
}

// defaultTransform is full-frame on the base track and a bottom-right
// picture-in-picture elsewhere, keeping the source aspect ratio.
func (t *Timeline) defaultTransform(a Asset, base bool) Transform {
	cw, ch := float64(t.canvas.Width), float64(t.canvas.Height)
	if base {
		return Transform{Width: cw, Height: ch, Opacity: 1}
	}
	w := cw * t.limits.PIPScale
	aspect := ch / cw
	if a.Width > 0 && a.Height > 0 {
		aspect = float64(a.Height) / float64(a.Width)
	}
	h := w * aspect
	return Transform{
		X:       cw - w - t.limits.PIPMargin,
		Y:       ch - h - t.limits.PIPMargin,
		Width:   w,
		Height:  h,
		Opacity: 1,
	}
}
