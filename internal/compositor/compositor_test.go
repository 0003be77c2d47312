package compositor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-editor/internal/media"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const tick = 16 * time.Millisecond

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	tl      *timeline.Timeline
	pool    *media.Pool
	surface *SnapshotSurface
	comp    *Compositor
	clock   *fakeClock
	base    timeline.Clip
	pip     timeline.Clip
	sources map[string]*media.ClockSource
}

// newHarness builds a base video clip on [0,10000) and a picture-in-picture
// still on [2000,7000), with the video source running at rate.
func newHarness(t *testing.T, rate float64) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{t: time.Unix(0, 0)}, sources: make(map[string]*media.ClockSource)}
	var mu sync.Mutex
	loader := media.LoaderFunc(func(ctx context.Context, a timeline.Asset) (media.Source, error) {
		r := 1.0
		if a.Kind == timeline.AssetVideo {
			r = rate
		}
		src := media.NewClockSource(a.ID, a.DurationMs, a.Kind.Audible(), media.WithClock(h.clock.Now), media.WithRate(r))
		mu.Lock()
		h.sources[a.ID] = src
		mu.Unlock()
		return src, nil
	})

	h.tl = timeline.New(timeline.Canvas{}, timeline.Limits{})
	v1 := h.tl.AddTrack(timeline.TrackVideo, "V1")
	v2 := h.tl.AddTrack(timeline.TrackVideo, "V2")
	video, _ := h.tl.AddAsset(timeline.Asset{Kind: timeline.AssetVideo, DurationMs: 20000, Width: 1920, Height: 1080})
	still, _ := h.tl.AddAsset(timeline.Asset{Kind: timeline.AssetImage})

	var err error
	if h.base, err = h.tl.Place(video.ID, timeline.DropAt(v1.ID, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err = h.tl.Trim(h.base.ID, timeline.SideLeft, 3000); err != nil {
		t.Fatal(err)
	}
	if _, err = h.tl.Move(h.base.ID, timeline.DropAt(v1.ID, 0)); err != nil {
		t.Fatal(err)
	}
	h.base, _ = h.tl.Clip(h.base.ID)
	if h.pip, err = h.tl.Place(still.ID, timeline.DropAt(v2.ID, 2000)); err != nil {
		t.Fatal(err)
	}

	h.pool = media.NewPool(loader, nil)
	t.Cleanup(func() { h.pool.Close() })
	for _, a := range h.tl.Assets() {
		if _, err := h.pool.EnsureLoaded(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	h.surface = NewSnapshotSurface()
	h.comp = New(h.pool, h.surface, Options{}, nil)
	return h
}

func (h *harness) video() *media.ClockSource { return h.sources[h.base.AssetID] }
func (h *harness) still() *media.ClockSource { return h.sources[h.pip.AssetID] }

func TestRender_BackToFront(t *testing.T) {
	h := newHarness(t, 1)
	frame := h.comp.Render(h.tl, 2500, 0)

	if len(frame.Layers) != 2 {
		t.Fatalf("frame has %d layers, want 2", len(frame.Layers))
	}
	if frame.Layers[0].ClipID != h.base.ID || !frame.Layers[0].Base {
		t.Errorf("first layer = %+v, want base clip", frame.Layers[0])
	}
	if frame.Layers[1].ClipID != h.pip.ID {
		t.Errorf("second layer = %+v, want pip clip", frame.Layers[1])
	}
	if frame.Layers[0].SourceMs != 5500 {
		t.Errorf("base SourceMs = %d, want 5500 (trim offset applied)", frame.Layers[0].SourceMs)
	}
	if got := h.surface.Frame(); len(got.Layers) != 2 || got.TimeMs != 2500 {
		t.Errorf("surface frame = %+v", got)
	}
	if h.video().PositionMs() != 5500 {
		t.Errorf("source repositioned to %d, want 5500", h.video().PositionMs())
	}
}

func TestRender_SmoothPlaybackDoesNotReseek(t *testing.T) {
	h := newHarness(t, 1)
	h.comp.Render(h.tl, 0, 0)
	h.comp.Play(h.tl, 0)
	seeks := h.video().Seeks()

	var playhead int64
	for i := 0; i < 60; i++ {
		h.clock.Advance(tick)
		playhead += tick.Milliseconds()
		h.comp.Render(h.tl, playhead, tick)
	}
	if got := h.video().Seeks(); got != seeks {
		t.Errorf("smooth playback issued %d seeks", got-seeks)
	}
}

func TestRender_JumpRepositions(t *testing.T) {
	h := newHarness(t, 1)
	h.comp.Render(h.tl, 0, 0)
	seeks := h.video().Seeks()

	h.comp.Render(h.tl, 6000, tick)
	if h.video().Seeks() != seeks+1 {
		t.Errorf("jump issued %d seeks, want 1", h.video().Seeks()-seeks)
	}
	if h.video().PositionMs() != 9000 {
		t.Errorf("PositionMs() = %d, want 9000", h.video().PositionMs())
	}

	h.comp.Seek()
	h.comp.Render(h.tl, 6000, 0)
	if h.video().Seeks() != seeks+2 {
		t.Error("explicit Seek() did not force a reposition")
	}
}

func TestRender_NudgesDriftingSource(t *testing.T) {
	h := newHarness(t, 1.2)
	h.comp.Render(h.tl, 0, 0)
	h.comp.Play(h.tl, 0)

	var playhead int64
	var maxDrift int64
	for i := 0; i < 200; i++ {
		h.clock.Advance(tick)
		playhead += tick.Milliseconds()
		h.comp.Render(h.tl, playhead, tick)
		drift := h.video().PositionMs() - h.base.SourceTime(playhead)
		if drift > maxDrift {
			maxDrift = drift
		}
	}
	if h.video().Seeks() < 3 {
		t.Errorf("drifting source nudged %d times, want several", h.video().Seeks())
	}
	if maxDrift > DefaultOptions().DriftMs {
		t.Errorf("drift reached %dms after render, want <= %d", maxDrift, DefaultOptions().DriftMs)
	}
}

func TestPlayPause_Modes(t *testing.T) {
	h := newHarness(t, 1)
	h.comp.Play(h.tl, 1000)
	if h.comp.Mode() != ModePlaying {
		t.Fatalf("Mode() = %s", h.comp.Mode())
	}
	if h.video().Paused() {
		t.Error("visible source not started")
	}
	if !h.still().Paused() {
		t.Error("source of a clip not visible yet was started")
	}

	h.comp.Pause()
	if h.comp.Mode() != ModePaused || !h.video().Paused() {
		t.Error("Pause() must pause every source")
	}
}

func TestRender_PausesSourcesLeavingView(t *testing.T) {
	h := newHarness(t, 1)
	h.comp.Play(h.tl, 2500)
	h.comp.Render(h.tl, 2500, 0)
	if h.still().Paused() {
		t.Fatal("visible still not playing")
	}
	h.comp.Render(h.tl, 8000, tick)
	if !h.still().Paused() {
		t.Error("source left running after its clip left the visible set")
	}
	if h.video().Paused() {
		t.Error("base source paused while still visible")
	}
}

func TestRender_UnloadedSourceIsRequested(t *testing.T) {
	tl := timeline.New(timeline.Canvas{}, timeline.Limits{})
	v1 := tl.AddTrack(timeline.TrackVideo, "V1")
	a, _ := tl.AddAsset(timeline.Asset{Kind: timeline.AssetVideo, DurationMs: 1000})
	if _, err := tl.Place(a.ID, timeline.DropAt(v1.ID, 0)); err != nil {
		t.Fatal(err)
	}
	loaded := make(chan struct{})
	pool := media.NewPool(media.LoaderFunc(func(ctx context.Context, a timeline.Asset) (media.Source, error) {
		defer close(loaded)
		return media.NewClockSource(a.ID, a.DurationMs, true), nil
	}), nil)
	defer pool.Close()

	surface := NewSnapshotSurface()
	comp := New(pool, surface, Options{}, nil)
	frame := comp.Render(tl, 100, 0)
	if len(frame.Layers) != 1 || frame.Layers[0].Ready {
		t.Errorf("frame = %+v, want one layer not ready", frame)
	}
	if len(surface.Frame().Layers) != 0 {
		t.Error("unready layer was drawn")
	}
	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("render did not request the missing source")
	}
}
