// Package audiosync keeps every audio-bearing source within a bounded offset of
// the playhead. Seeks and clip-boundary crossings snap sources that are off by
// more than the coarse threshold; during playback a low-rate pass nudges any
// source that drifted past the finer drift threshold.
package audiosync

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/media"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type Options struct {
	CoarseThresholdMs int64
	DriftThresholdMs  int64
	// Interval is the cadence of the drift correction pass.
	Interval time.Duration
}

func DefaultOptions() Options {
	return Options{CoarseThresholdMs: 50, DriftThresholdMs: 20, Interval: 100 * time.Millisecond}
}

type Regime string

const (
	RegimeNone   Regime = ""
	RegimeCoarse Regime = "coarse"
	RegimeDrift  Regime = "drift"
)

// Report describes one tick.
type Report struct {
	Regime Regime
	// OffsetsMs holds each managed clip's source offset from the playhead
	// mapping, measured before any correction this tick.
	OffsetsMs map[string]int64
	Corrected []string
}

// Synchronizer is driven from the owning session's tick goroutine. Volume and
// mute may be changed at any time.
type Synchronizer struct {
	pool   *media.Pool
	opts   Options
	logger *slog.Logger

	playing        bool
	coarsePending  bool
	lastCorrection time.Time
	active         map[string]string
	rejected       map[string]bool

	mu     sync.Mutex
	volume float64
	muted  bool
}

func New(pool *media.Pool, opts Options, logger *slog.Logger) *Synchronizer {
	def := DefaultOptions()
	if opts.CoarseThresholdMs <= 0 {
		opts.CoarseThresholdMs = def.CoarseThresholdMs
	}
	if opts.DriftThresholdMs <= 0 {
		opts.DriftThresholdMs = def.DriftThresholdMs
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	s := &Synchronizer{
		pool:          pool,
		opts:          opts,
		logger:        logging.WithComponent(logging.OrDiscard(logger), "audiosync"),
		coarsePending: true,
		active:        make(map[string]string),
		rejected:      make(map[string]bool),
		volume:        1,
	}
	pool.OnLoad(s.applyLevels)
	return s
}

func (s *Synchronizer) Options() Options { return s.opts }

// Play resumes correction and clears earlier play rejections so they are retried.
func (s *Synchronizer) Play() {
	s.playing = true
	s.coarsePending = true
	s.rejected = make(map[string]bool)
}

func (s *Synchronizer) Pause() {
	s.playing = false
	for _, assetID := range s.active {
		if src, ok := s.pool.Get(assetID); ok {
			src.Pause()
		}
	}
}

// Seek requests a coarse pass on the next tick.
func (s *Synchronizer) Seek() {
	s.coarsePending = true
}

// SetVolume applies v, clamped to [0,1], to every source now and to every
// source loaded later.
func (s *Synchronizer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	s.applyAll()
}

func (s *Synchronizer) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	s.applyAll()
}

// Levels returns the master volume and mute state.
func (s *Synchronizer) Levels() (volume float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume, s.muted
}

func (s *Synchronizer) applyAll() {
	for _, src := range s.pool.Sources() {
		s.applyLevels(src)
	}
}

func (s *Synchronizer) applyLevels(src media.Source) {
	volume, muted := s.Levels()
	src.SetVolume(volume)
	src.SetMuted(muted)
}

// Tick aligns the audio sources to playhead at wall time now.
func (s *Synchronizer) Tick(tl *timeline.Timeline, now time.Time, playhead int64) Report {
	bindings := tl.AudibleAt(playhead)
	current := make(map[string]string, len(bindings))
	assets := make(map[string]bool, len(bindings))
	for _, p := range bindings {
		current[p.Clip.ID] = p.Asset.ID
		assets[p.Asset.ID] = true
	}

	boundary := len(current) != len(s.active)
	for id := range current {
		if _, ok := s.active[id]; !ok {
			boundary = true
		}
	}

	report := Report{OffsetsMs: make(map[string]int64, len(bindings))}
	switch {
	case s.coarsePending || boundary:
		report.Regime = RegimeCoarse
	case s.playing && now.Sub(s.lastCorrection) >= s.opts.Interval:
		report.Regime = RegimeDrift
	}

	for _, p := range bindings {
		src, ok := s.pool.Get(p.Asset.ID)
		if !ok {
			s.pool.Request(p.Asset)
			continue
		}
		if !src.HasAudio() {
			continue
		}
		expected := p.Clip.SourceTime(playhead)
		offset := src.PositionMs() - expected
		report.OffsetsMs[p.Clip.ID] = offset

		threshold := int64(-1)
		switch report.Regime {
		case RegimeCoarse:
			threshold = s.opts.CoarseThresholdMs
		case RegimeDrift:
			threshold = s.opts.DriftThresholdMs
		}
		if threshold >= 0 && (offset > threshold || offset < -threshold) {
			src.Seek(expected)
			report.Corrected = append(report.Corrected, p.Clip.ID)
		}

		switch {
		case s.playing && src.Paused() && !s.rejected[p.Asset.ID]:
			if err := src.Play(); err != nil {
				s.rejected[p.Asset.ID] = true
				if !errors.Is(err, media.ErrPlayRejected) {
					s.logger.Warn("play failed", "asset_id", p.Asset.ID, "error", err)
				}
			}
		case !s.playing && !src.Paused():
			src.Pause()
		}
	}

	// Sources whose clip no longer contains the playhead.
	for clipID, assetID := range s.active {
		if _, still := current[clipID]; still || assets[assetID] {
			continue
		}
		if src, ok := s.pool.Get(assetID); ok {
			src.Pause()
		}
	}

	if report.Regime != RegimeNone {
		s.lastCorrection = now
		s.coarsePending = false
		if len(report.Corrected) > 0 {
			s.logger.Debug("audio corrected", "regime", string(report.Regime), "clips", len(report.Corrected))
		}
	}
	s.active = current
	return report
}
