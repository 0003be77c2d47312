// Package compositor renders the visible clips at the playhead onto a single
// output surface and keeps the visual sources positioned while playing.
package compositor

import (
	"errors"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/media"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type Mode string

const (
	ModePaused  Mode = "paused"
	ModePlaying Mode = "playing"
)

type Options struct {
	// FrameInterval is one output frame. A playhead jump larger than this
	// relative to the expected advance counts as a seek.
	FrameInterval time.Duration
	// DriftMs is how far a playing source may wander before it is nudged.
	DriftMs int64
}

func DefaultOptions() Options {
	return Options{FrameInterval: time.Second / 30, DriftMs: 150}
}

// Compositor is driven from a single goroutine: the owning session's tick.
type Compositor struct {
	pool    *media.Pool
	surface Surface
	opts    Options
	logger  *slog.Logger

	mode     Mode
	rendered bool
	lastT    int64
	// active maps the clips drawn last frame to their asset ids.
	active map[string]string
	// rejected holds assets whose play was refused; retried on the next Play.
	rejected map[string]bool
	forced   bool
}

func New(pool *media.Pool, surface Surface, opts Options, logger *slog.Logger) *Compositor {
	def := DefaultOptions()
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = def.FrameInterval
	}
	if opts.DriftMs <= 0 {
		opts.DriftMs = def.DriftMs
	}
	return &Compositor{
		pool:     pool,
		surface:  surface,
		opts:     opts,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "compositor"),
		mode:     ModePaused,
		active:   make(map[string]string),
		rejected: make(map[string]bool),
	}
}

func (c *Compositor) Mode() Mode { return c.mode }

// Play enters the playing mode and starts every source whose clip is visible at t.
func (c *Compositor) Play(tl *timeline.Timeline, t int64) {
	c.mode = ModePlaying
	c.rejected = make(map[string]bool)
	for _, p := range tl.VisibleAt(t) {
		src, ok := c.pool.Get(p.Asset.ID)
		if !ok {
			c.pool.Request(p.Asset)
			continue
		}
		if p.Asset.Kind == timeline.AssetVideo {
			src.Seek(p.Clip.SourceTime(t))
		}
		c.start(src)
	}
}

// Pause enters the paused mode and pauses every source.
func (c *Compositor) Pause() {
	c.mode = ModePaused
	c.pool.PauseAll()
}

// Seek marks the next render as a discontinuity regardless of the time step.
func (c *Compositor) Seek() {
	c.forced = true
}

// Render draws the frame at playhead t, dt after the previous render.
func (c *Compositor) Render(tl *timeline.Timeline, t int64, dt time.Duration) Frame {
	expected := c.lastT + dt.Milliseconds()
	jump := t - expected
	if jump < 0 {
		jump = -jump
	}
	discontinuity := c.forced || !c.rendered || time.Duration(jump)*time.Millisecond > c.opts.FrameInterval

	visible := tl.VisibleAt(t)
	frame := Frame{TimeMs: t, Canvas: tl.Canvas(), Layers: make([]Layer, 0, len(visible))}
	now := make(map[string]string, len(visible))
	shown := make(map[string]bool, len(visible))

	for _, p := range visible {
		now[p.Clip.ID] = p.Asset.ID
		shown[p.Asset.ID] = true

		layer := Layer{
			ClipID:    p.Clip.ID,
			AssetID:   p.Asset.ID,
			Kind:      p.Asset.Kind,
			SourceMs:  p.Clip.SourceTime(t),
			Transform: p.Transform,
			Base:      p.Base,
		}
		src, ok := c.pool.Get(p.Asset.ID)
		if !ok {
			c.pool.Request(p.Asset)
			frame.Layers = append(frame.Layers, layer)
			continue
		}
		layer.Ready = true

		if p.Asset.Kind == timeline.AssetVideo {
			_, wasActive := c.active[p.Clip.ID]
			switch {
			case discontinuity || !wasActive:
				src.Seek(layer.SourceMs)
			case c.mode == ModePlaying:
				if drift := src.PositionMs() - layer.SourceMs; drift > c.opts.DriftMs || drift < -c.opts.DriftMs {
					c.logger.Debug("nudging source", "clip_id", p.Clip.ID, "drift_ms", drift)
					src.Seek(layer.SourceMs)
				}
			}
			layer.SourceMs = src.PositionMs()
		}
		if c.mode == ModePlaying && src.Paused() && !c.rejected[p.Asset.ID] {
			c.start(src)
		}
		frame.Layers = append(frame.Layers, layer)
	}

	// Clips that left the visible set stop consuming time.
	for clipID, assetID := range c.active {
		if _, still := now[clipID]; still || shown[assetID] {
			continue
		}
		if src, ok := c.pool.Get(assetID); ok {
			src.Pause()
		}
	}

	c.surface.Begin(t, frame.Canvas)
	for _, l := range frame.Layers {
		if l.Ready {
			c.surface.Draw(l)
		}
	}
	c.surface.End()

	c.active = now
	c.lastT = t
	c.rendered = true
	c.forced = false
	return frame
}

func (c *Compositor) start(src media.Source) {
	if err := src.Play(); err != nil {
		if errors.Is(err, media.ErrPlayRejected) {
			c.rejected[src.AssetID()] = true
			c.logger.Debug("play rejected", "asset_id", src.AssetID())
			return
		}
		c.logger.Warn("play failed", "asset_id", src.AssetID(), "error", err)
	}
}
