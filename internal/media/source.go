// Package media owns the decodable source handles the compositor and audio
// synchronizer read from. Handles are created lazily, one per asset, and only
// the Pool may create or release them.
package media

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrPlayRejected is returned by Source.Play when host policy refuses playback.
// It is not fatal; callers retry on the next user-initiated play.
var ErrPlayRejected = errors.New("play rejected by host policy")

// ErrReleased is returned to waiters whose source was released while loading.
var ErrReleased = errors.New("source released")

// Source is a decodable handle for one asset.
type Source interface {
	AssetID() string
	DurationMs() int64
	PositionMs() int64
	Seek(ms int64)
	Play() error
	Pause()
	Paused() bool
	SetVolume(v float64)
	SetMuted(muted bool)
	HasAudio() bool
	Close() error
}

// LoadError reports an asset that could not be located or decoded.
type LoadError struct {
	AssetID string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load asset %s (%s): %v", e.AssetID, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ClockSource is a headless Source whose position advances on a clock at a
// fixed rate while playing. A rate other than 1 models a drifting decoder.
type ClockSource struct {
	mu       sync.Mutex
	assetID  string
	duration int64
	hasAudio bool
	now      func() time.Time
	rate     float64
	policy   func() error

	anchorPos float64
	anchorAt  time.Time
	paused    bool
	volume    float64
	muted     bool
	seeks     int
	closed    bool
}

type ClockOption func(*ClockSource)

// WithClock sets the time source used to advance the position.
func WithClock(now func() time.Time) ClockOption {
	return func(s *ClockSource) { s.now = now }
}

// WithRate sets how many source milliseconds elapse per wall millisecond.
func WithRate(rate float64) ClockOption {
	return func(s *ClockSource) { s.rate = rate }
}

// WithPlayPolicy installs a check consulted on every Play call.
func WithPlayPolicy(policy func() error) ClockOption {
	return func(s *ClockSource) { s.policy = policy }
}

func NewClockSource(assetID string, durationMs int64, hasAudio bool, opts ...ClockOption) *ClockSource {
	s := &ClockSource{
		assetID:  assetID,
		duration: durationMs,
		hasAudio: hasAudio,
		now:      time.Now,
		rate:     1,
		paused:   true,
		volume:   1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ClockSource) AssetID() string { return s.assetID }

func (s *ClockSource) DurationMs() int64 { return s.duration }

func (s *ClockSource) HasAudio() bool { return s.hasAudio }

func (s *ClockSource) PositionMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.position()))
}

func (s *ClockSource) position() float64 {
	pos := s.anchorPos
	if !s.paused {
		elapsed := float64(s.now().Sub(s.anchorAt)) / float64(time.Millisecond)
		pos += elapsed * s.rate
	}
	return s.clamp(pos)
}

func (s *ClockSource) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if d := float64(s.duration); s.duration > 0 && pos > d {
		return d
	}
	return pos
}

func (s *ClockSource) Seek(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchorPos = s.clamp(float64(ms))
	s.anchorAt = s.now()
	s.seeks++
}

func (s *ClockSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrReleased
	}
	if s.policy != nil {
		if err := s.policy(); err != nil {
			return fmt.Errorf("%w: %v", ErrPlayRejected, err)
		}
	}
	if s.paused {
		s.anchorAt = s.now()
		s.paused = false
	}
	return nil
}

func (s *ClockSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.anchorPos = s.position()
	s.paused = true
}

func (s *ClockSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *ClockSource) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *ClockSource) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Levels returns the volume and mute state last applied.
func (s *ClockSource) Levels() (volume float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume, s.muted
}

// Seeks counts explicit repositions since creation.
func (s *ClockSource) Seeks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks
}

func (s *ClockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.anchorPos = s.position()
		s.paused = true
	}
	s.closed = true
	return nil
}
