// Package session owns one open project: the timeline, the media pool, the
// compositor, the audio synchronizer and the playhead. Every mutation and every
// scheduler tick runs under a single mutex, so the render and sync passes
// always observe a consistent timeline.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/audiosync"
	"github.com/heimdex/heimdex-editor/internal/compositor"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/media"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const defaultProjectName = "Untitled"

type Options struct {
	Canvas     timeline.Canvas
	Limits     timeline.Limits
	Compositor compositor.Options
	Sync       audiosync.Options
	// Loader opens media sources; nil uses a ClockLoader on the wall clock.
	Loader media.Loader
	// Surface receives composed frames in addition to the session's snapshot.
	Surface compositor.Surface
}

// State is the playback state reported to the UI.
type State struct {
	ProjectID   string  `json:"project_id"`
	ProjectName string  `json:"project_name"`
	Playing     bool    `json:"playing"`
	PlayheadMs  int64   `json:"playhead_ms"`
	DurationMs  int64   `json:"duration_ms"`
	ContentMs   int64   `json:"content_ms"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
}

// TickResult describes one scheduler tick.
type TickResult struct {
	PlayheadMs int64
	Rendered   bool
	Ended      bool
	Sync       audiosync.Report
}

type Session struct {
	opts   Options
	logger *slog.Logger

	pool     *media.Pool
	snapshot *compositor.SnapshotSurface
	comp     *compositor.Compositor
	sync     *audiosync.Synchronizer

	mu          sync.Mutex
	tl          *timeline.Timeline
	projectID   string
	projectName string
	playing     bool
	playhead    int64
	// carry holds the sub-millisecond remainder of tick deltas.
	carry    time.Duration
	dirty    bool
	gestures map[string]*timeline.TrimGesture
}

// New opens an empty project with a base video track, an overlay track and
// one audio track.
func New(opts Options, logger *slog.Logger) *Session {
	logger = logging.WithComponent(logging.OrDiscard(logger), "session")
	if opts.Loader == nil {
		opts.Loader = media.ClockLoader{}
	}

	pool := media.NewPool(opts.Loader, logger)
	snapshot := compositor.NewSnapshotSurface()
	var surface compositor.Surface = snapshot
	if opts.Surface != nil {
		surface = teeSurface{snapshot, opts.Surface}
	}

	s := &Session{
		opts:     opts,
		logger:   logger,
		pool:     pool,
		snapshot: snapshot,
		comp:     compositor.New(pool, surface, opts.Compositor, logger),
		sync:     audiosync.New(pool, opts.Sync, logger),
		gestures: make(map[string]*timeline.TrimGesture),
	}
	s.reset(newProject(opts.Canvas, opts.Limits), uuid.NewString(), defaultProjectName)
	return s
}

func newProject(canvas timeline.Canvas, limits timeline.Limits) *timeline.Timeline {
	tl := timeline.New(canvas, limits)
	tl.AddTrack(timeline.TrackVideo, "V1")
	tl.AddTrack(timeline.TrackVideo, "V2")
	tl.AddTrack(timeline.TrackAudio, "A1")
	return tl
}

// reset swaps in a timeline. Callers hold mu or own s exclusively.
func (s *Session) reset(tl *timeline.Timeline, id, name string) {
	s.tl = tl
	s.projectID = id
	s.projectName = name
	s.playing = false
	s.playhead = 0
	s.carry = 0
	s.dirty = true
	s.gestures = make(map[string]*timeline.TrimGesture)
	s.comp.Pause()
	s.sync.Pause()
	s.comp.Seek()
	s.sync.Seek()
	for _, a := range tl.Assets() {
		s.pool.Request(a)
	}
	s.renderLocked(0)
}

// Close pauses playback and releases every media source.
func (s *Session) Close() error {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	return s.pool.Close()
}

// Pool exposes the media pool for preload status queries.
func (s *Session) Pool() *media.Pool { return s.pool }

// Tick advances the playhead by dt while playing, renders the frame when
// playing or after a change, and runs the audio synchronization pass at now.
// Playback stops at the end of the last clip.
func (s *Session) Tick(now time.Time, dt time.Duration) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res TickResult
	if s.playing && dt > 0 {
		s.carry += dt
		step := s.carry / time.Millisecond
		s.carry -= step * time.Millisecond
		s.playhead += int64(step)

		if end := s.tl.ContentEnd(); s.playhead >= end {
			s.playhead = end
			s.pauseLocked()
			s.dirty = true
			res.Ended = true
			s.logger.Debug("playback reached end", "playhead_ms", end)
		}
	}

	if s.playing || s.dirty {
		s.renderLocked(dt)
		res.Rendered = true
	}
	res.Sync = s.sync.Tick(s.tl, now, s.playhead)
	res.PlayheadMs = s.playhead
	return res
}

// Run ticks the session every interval until ctx ends.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second / 60
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(now, now.Sub(last))
			last = now
		}
	}
}

func (s *Session) renderLocked(dt time.Duration) {
	s.comp.Render(s.tl, s.playhead, dt)
	s.dirty = false
}

// Play starts playback from the playhead, or from zero when the playhead sits
// at the end of the content. It is a user-initiated play: sources whose play
// was rejected earlier are retried.
func (s *Session) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	if end := s.tl.ContentEnd(); end > 0 && s.playhead >= end {
		s.playhead = 0
		s.comp.Seek()
		s.sync.Seek()
	}
	s.playing = true
	s.carry = 0
	s.comp.Play(s.tl, s.playhead)
	s.sync.Play()
	s.dirty = true
	s.logger.Debug("playback started", "playhead_ms", s.playhead)
}

func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.pauseLocked()
	s.renderLocked(0)
}

func (s *Session) pauseLocked() {
	s.playing = false
	s.carry = 0
	s.comp.Pause()
	s.sync.Pause()
}

// Seek moves the playhead, clamped to the timeline duration, and renders the
// frame there immediately.
func (s *Session) Seek(ms int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms < 0 {
		ms = 0
	}
	if d := s.tl.Duration(); ms > d {
		ms = d
	}
	s.playhead = ms
	s.carry = 0
	s.comp.Seek()
	s.sync.Seek()
	s.renderLocked(0)
	return ms
}

func (s *Session) SetVolume(v float64) { s.sync.SetVolume(v) }

func (s *Session) SetMuted(muted bool) { s.sync.SetMuted(muted) }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	vol, muted := s.sync.Levels()
	return State{
		ProjectID:   s.projectID,
		ProjectName: s.projectName,
		Playing:     s.playing,
		PlayheadMs:  s.playhead,
		DurationMs:  s.tl.Duration(),
		ContentMs:   s.tl.ContentEnd(),
		Volume:      vol,
		Muted:       muted,
	}
}

// Frame returns the last composed frame.
func (s *Session) Frame() compositor.Frame {
	return s.snapshot.Frame()
}

// Snapshot returns an independent copy of the timeline, safe to hand to an
// export running concurrently with further edits.
func (s *Session) Snapshot() *timeline.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.Clone()
}

// View runs fn with the live timeline under the session lock. fn must not
// retain the timeline or call back into the session.
func (s *Session) View(fn func(tl *timeline.Timeline)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tl)
}

func (s *Session) Document() timeline.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.Document()
}

// Load replaces the open project with doc. The document is validated before
// anything changes; sources of the previous project are released.
func (s *Session) Load(id, name string, doc timeline.Document) error {
	limits := s.opts.Limits
	tl, err := timeline.FromDocument(doc, limits)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = defaultProjectName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]bool)
	for _, a := range tl.Assets() {
		keep[a.ID] = true
	}
	for _, a := range s.tl.Assets() {
		if !keep[a.ID] {
			if err := s.pool.Release(a.ID); err != nil {
				s.logger.Warn("failed to release source", "asset_id", a.ID, "error", err)
			}
		}
	}
	s.reset(tl, id, name)
	s.logger.Info("project loaded", "project_id", id, "assets", len(tl.Assets()), "clips", len(tl.Clips()))
	return nil
}

// NewProject discards the open project and starts an empty one.
func (s *Session) NewProject(name string) string {
	if name == "" {
		name = defaultProjectName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.tl.Assets() {
		_ = s.pool.Release(a.ID)
	}
	id := uuid.NewString()
	s.reset(newProject(s.opts.Canvas, s.opts.Limits), id, name)
	return id
}

func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.projectName = name
	}
}

func (s *Session) Asset(id string) (timeline.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.Asset(id)
}

// Preload waits until the asset's source is ready and reports load failures.
func (s *Session) Preload(ctx context.Context, assetID string) error {
	s.mu.Lock()
	a, ok := s.tl.Asset(assetID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("asset %s: %w", assetID, timeline.ErrNotFound)
	}
	_, err := s.pool.EnsureLoaded(ctx, a)
	return err
}

// teeSurface draws every frame onto two surfaces.
type teeSurface struct {
	a, b compositor.Surface
}

func (t teeSurface) Begin(timeMs int64, canvas timeline.Canvas) {
	t.a.Begin(timeMs, canvas)
	t.b.Begin(timeMs, canvas)
}

func (t teeSurface) Draw(layer compositor.Layer) {
	t.a.Draw(layer)
	t.b.Draw(layer)
}

func (t teeSurface) End() {
	t.a.End()
	t.b.End()
}
