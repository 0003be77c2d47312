package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-editor/internal/media"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestSession(t *testing.T) (*Session, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Options{Loader: media.ClockLoader{Now: clk.Now}}, nil)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func mediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func trackID(t *testing.T, s *Session, name string) string {
	t.Helper()
	var id string
	s.View(func(tl *timeline.Timeline) {
		for _, tr := range tl.Tracks() {
			if tr.Name == name {
				id = tr.ID
			}
		}
	})
	if id == "" {
		t.Fatalf("track %s not found", name)
	}
	return id
}

// addClip registers an asset backed by a real file, waits for its source and
// places it.
func addClip(t *testing.T, s *Session, kind timeline.AssetKind, track string, startMs, durMs int64) (timeline.Asset, timeline.Clip) {
	t.Helper()
	a, err := s.AddAsset(timeline.Asset{Kind: kind, Name: string(kind), Path: mediaFile(t, string(kind)+".bin"), DurationMs: durMs})
	if err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Preload(ctx, a.ID); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	c, err := s.Place(a.ID, timeline.DropAt(trackID(t, s, track), startMs))
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	return a, c
}

func TestNew_DefaultTracks(t *testing.T) {
	s, _ := newTestSession(t)
	var kinds []timeline.TrackKind
	s.View(func(tl *timeline.Timeline) {
		for _, tr := range tl.Tracks() {
			kinds = append(kinds, tr.Kind)
		}
	})
	want := []timeline.TrackKind{timeline.TrackVideo, timeline.TrackVideo, timeline.TrackAudio}
	if len(kinds) != len(want) {
		t.Fatalf("tracks = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("track %d kind = %s, want %s", i, kinds[i], want[i])
		}
	}
	if st := s.State(); st.ProjectID == "" || st.ProjectName != defaultProjectName || st.Playing {
		t.Errorf("State() = %+v", st)
	}
}

func TestControls_SafeBeforeAnyAsset(t *testing.T) {
	s, clk := newTestSession(t)
	s.SetVolume(0.4)
	s.SetMuted(true)
	s.Play()
	s.Tick(clk.Advance(time.Second/30), time.Second/30)
	s.Pause()
	if got := s.Seek(1500); got != 1500 {
		t.Errorf("Seek() = %d", got)
	}
	st := s.State()
	if st.Volume != 0.4 || !st.Muted || st.Playing {
		t.Errorf("State() = %+v", st)
	}
}

func TestTick_PlaysToEndOfContent(t *testing.T) {
	s, clk := newTestSession(t)
	addClip(t, s, timeline.AssetVideo, "V1", 0, 2000)

	s.Play()
	var last TickResult
	for i := 0; i < 30 && !last.Ended; i++ {
		last = s.Tick(clk.Advance(100*time.Millisecond), 100*time.Millisecond)
	}
	if !last.Ended || last.PlayheadMs != 2000 {
		t.Fatalf("last tick = %+v, want ended at 2000", last)
	}
	if s.State().Playing {
		t.Error("still playing after the end of content")
	}

	// Play from the end restarts at zero.
	s.Play()
	if st := s.State(); st.PlayheadMs != 0 || !st.Playing {
		t.Errorf("State() after replay = %+v", st)
	}
}

func TestTick_SubMillisecondDeltasAccumulate(t *testing.T) {
	s, clk := newTestSession(t)
	addClip(t, s, timeline.AssetVideo, "V1", 0, 5000)

	s.Play()
	frame := time.Second / 60
	for i := 0; i < 60; i++ {
		s.Tick(clk.Advance(frame), frame)
	}
	if got := s.State().PlayheadMs; got < 999 || got > 1000 {
		t.Errorf("playhead after 60 frames at 60Hz = %d, want ~1000", got)
	}
}

func TestSeek_ClampsAndRendersFrame(t *testing.T) {
	s, _ := newTestSession(t)
	_, c := addClip(t, s, timeline.AssetVideo, "V1", 1000, 3000)

	if got := s.Seek(-20); got != 0 {
		t.Errorf("Seek(-20) = %d", got)
	}
	if got := s.Seek(1 << 40); got != s.State().DurationMs {
		t.Errorf("Seek(huge) = %d, want duration %d", got, s.State().DurationMs)
	}

	s.Seek(2500)
	f := s.Frame()
	if f.TimeMs != 2500 || len(f.Layers) != 1 || f.Layers[0].ClipID != c.ID {
		t.Fatalf("frame = %+v", f)
	}
	if !f.Layers[0].Ready || f.Layers[0].SourceMs != 1500 {
		t.Errorf("layer = %+v, want ready at source 1500", f.Layers[0])
	}
}

func TestPlayback_AudioStaysWithinCoarseThreshold(t *testing.T) {
	s, clk := newTestSession(t)
	addClip(t, s, timeline.AssetVideo, "V1", 0, 8000)
	addClip(t, s, timeline.AssetAudio, "A1", 500, 6000)

	s.Seek(200)
	s.Play()
	step := 40 * time.Millisecond
	for i := 0; i < 125; i++ {
		res := s.Tick(clk.Advance(step), step)
		for clipID, off := range res.Sync.OffsetsMs {
			if off > 50 || off < -50 {
				t.Fatalf("tick %d: clip %s offset %dms exceeds coarse threshold", i, clipID, off)
			}
		}
	}
	if got := s.State().PlayheadMs; got != 5200 {
		t.Errorf("playhead = %d, want 5200", got)
	}
}

func TestEditsDuringPlayback(t *testing.T) {
	s, clk := newTestSession(t)
	_, c := addClip(t, s, timeline.AssetVideo, "V1", 0, 4000)
	s.Play()
	s.Tick(clk.Advance(100*time.Millisecond), 100*time.Millisecond)

	right, err := s.Split(c.ID, 2000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	applied, err := s.Trim(right.ID, timeline.SideRight, -500)
	if err != nil || applied != -500 {
		t.Fatalf("Trim() = %d, %v", applied, err)
	}
	if err := s.Delete(c.ID); err != nil {
		t.Fatal(err)
	}
	res := s.Tick(clk.Advance(100*time.Millisecond), 100*time.Millisecond)
	if !res.Rendered {
		t.Error("tick while playing did not render")
	}
	if f := s.Frame(); len(f.Layers) != 0 {
		t.Errorf("frame at %d still shows %d layers after delete", f.TimeMs, len(f.Layers))
	}
}

func TestRemoveAsset_ReleasesSourceAndClips(t *testing.T) {
	s, _ := newTestSession(t)
	a, c := addClip(t, s, timeline.AssetVideo, "V1", 0, 3000)
	if _, ok := s.Pool().Get(a.ID); !ok {
		t.Fatal("source not loaded")
	}

	removed, err := s.RemoveAsset(a.ID)
	if err != nil {
		t.Fatalf("RemoveAsset() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != c.ID {
		t.Errorf("removed = %v, want [%s]", removed, c.ID)
	}
	if _, ok := s.Pool().Get(a.ID); ok {
		t.Error("source still in pool")
	}
	if _, err := s.RemoveAsset(a.ID); !errors.Is(err, timeline.ErrNotFound) {
		t.Errorf("second RemoveAsset() error = %v", err)
	}
}

func TestSnapshot_IndependentOfLaterEdits(t *testing.T) {
	s, _ := newTestSession(t)
	_, c := addClip(t, s, timeline.AssetVideo, "V1", 0, 3000)

	snap := s.Snapshot()
	if err := s.Delete(c.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Clip(c.ID); !ok {
		t.Error("snapshot lost a clip deleted from the live timeline")
	}
}

func TestTrimGesture(t *testing.T) {
	s, _ := newTestSession(t)
	_, c := addClip(t, s, timeline.AssetVideo, "V1", 0, 3000)

	id, err := s.BeginTrim(c.ID, timeline.SideRight)
	if err != nil {
		t.Fatalf("BeginTrim() error = %v", err)
	}
	if got, err := s.UpdateTrim(id, -1000); err != nil || got != -1000 {
		t.Fatalf("UpdateTrim(-1000) = %d, %v", got, err)
	}
	// The source ends at 3000: extending beyond it clamps and freezes.
	if got, _ := s.UpdateTrim(id, 500); got != 0 {
		t.Errorf("UpdateTrim(500) = %d, want 0", got)
	}
	if err := s.EndTrim(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateTrim(id, 0); !errors.Is(err, timeline.ErrNotFound) {
		t.Errorf("UpdateTrim() after end error = %v", err)
	}
}

func TestLoad_ReplacesProject(t *testing.T) {
	s, _ := newTestSession(t)
	old, _ := addClip(t, s, timeline.AssetVideo, "V1", 0, 3000)

	other := timeline.New(timeline.Canvas{}, timeline.Limits{})
	v := other.AddTrack(timeline.TrackVideo, "Main")
	a, err := other.AddAsset(timeline.Asset{Kind: timeline.AssetImage, Name: "card", Path: mediaFile(t, "card.png")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Place(a.ID, timeline.DropAt(v.ID, 0)); err != nil {
		t.Fatal(err)
	}

	if err := s.Load("p-2", "Second", other.Document()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	st := s.State()
	if st.ProjectID != "p-2" || st.ProjectName != "Second" || st.PlayheadMs != 0 {
		t.Errorf("State() = %+v", st)
	}
	if _, ok := s.Pool().Get(old.ID); ok {
		t.Error("source of the previous project still in pool")
	}

	bad := other.Document()
	bad.Version = 99
	if err := s.Load("p-3", "Bad", bad); !errors.Is(err, timeline.ErrInvalidDocument) {
		t.Errorf("Load(bad) error = %v", err)
	}
	if s.State().ProjectID != "p-2" {
		t.Error("failed load replaced the project")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}
}
