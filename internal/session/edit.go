package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Edits go through the session so they serialize with ticks. Each marks the
// frame dirty; a paused session re-renders on the next tick.

// AddAsset registers an asset and starts loading its source in the background.
func (s *Session) AddAsset(a timeline.Asset) (timeline.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.tl.AddAsset(a)
	if err != nil {
		return timeline.Asset{}, err
	}
	s.pool.Request(added)
	return added, nil
}

// RemoveAsset releases the asset's source, then drops the asset with every clip
// and transform that references it. The removed clip ids are returned.
func (s *Session) RemoveAsset(assetID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tl.Asset(assetID); !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, timeline.ErrNotFound)
	}
	if err := s.pool.Release(assetID); err != nil {
		s.logger.Warn("failed to release source", "asset_id", assetID, "error", err)
	}
	removed, err := s.tl.RemoveAsset(assetID)
	if err != nil {
		return nil, err
	}
	for id, g := range s.gestures {
		for _, clipID := range removed {
			if g.ClipID() == clipID {
				delete(s.gestures, id)
			}
		}
	}
	s.dirty = true
	return removed, nil
}

func (s *Session) AddTrack(kind timeline.TrackKind, name string) timeline.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	return s.tl.AddTrack(kind, name)
}

func (s *Session) SetTrackVisible(trackID string, visible bool) error {
	return s.edit(func(tl *timeline.Timeline) error { return tl.SetTrackVisible(trackID, visible) })
}

func (s *Session) SetTrackLocked(trackID string, locked bool) error {
	return s.edit(func(tl *timeline.Timeline) error { return tl.SetTrackLocked(trackID, locked) })
}

func (s *Session) Place(assetID string, d timeline.Drop) (timeline.Clip, error) {
	var c timeline.Clip
	err := s.edit(func(tl *timeline.Timeline) (err error) {
		c, err = tl.Place(assetID, d)
		return err
	})
	return c, err
}

func (s *Session) Move(clipID string, d timeline.Drop) (timeline.Clip, error) {
	var c timeline.Clip
	err := s.edit(func(tl *timeline.Timeline) (err error) {
		c, err = tl.Move(clipID, d)
		return err
	})
	return c, err
}

// Trim applies a one-shot trim and returns the delta actually applied.
func (s *Session) Trim(clipID string, side timeline.Side, deltaMs int64) (int64, error) {
	var applied int64
	err := s.edit(func(tl *timeline.Timeline) (err error) {
		applied, err = tl.Trim(clipID, side, deltaMs)
		return err
	})
	return applied, err
}

func (s *Session) Split(clipID string, atMs int64) (timeline.Clip, error) {
	var c timeline.Clip
	err := s.edit(func(tl *timeline.Timeline) (err error) {
		c, err = tl.Split(clipID, atMs)
		return err
	})
	return c, err
}

func (s *Session) Delete(clipID string) error {
	return s.edit(func(tl *timeline.Timeline) error {
		if err := tl.Delete(clipID); err != nil {
			return err
		}
		for id, g := range s.gestures {
			if g.ClipID() == clipID {
				delete(s.gestures, id)
			}
		}
		return nil
	})
}

func (s *Session) SetTransform(clipID string, tr timeline.Transform) error {
	return s.edit(func(tl *timeline.Timeline) error { return tl.SetTransform(clipID, tr) })
}

// BeginTrim opens a drag gesture on a clip edge and returns its id.
func (s *Session) BeginTrim(clipID string, side timeline.Side) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.tl.BeginTrim(clipID, side)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.gestures[id] = g
	return id, nil
}

// UpdateTrim moves an open gesture to totalMs from its start and returns the
// cumulative delta applied.
func (s *Session) UpdateTrim(gestureID string, totalMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gestures[gestureID]
	if !ok {
		return 0, fmt.Errorf("trim gesture %s: %w", gestureID, timeline.ErrNotFound)
	}
	applied, err := g.Update(totalMs)
	s.dirty = true
	return applied, err
}

// EndTrim closes a gesture. Applied trims stay in place.
func (s *Session) EndTrim(gestureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gestures[gestureID]; !ok {
		return fmt.Errorf("trim gesture %s: %w", gestureID, timeline.ErrNotFound)
	}
	delete(s.gestures, gestureID)
	return nil
}

// VisibleAt lists the placements drawn at ms, back to front.
func (s *Session) VisibleAt(ms int64) []timeline.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.VisibleAt(ms)
}

func (s *Session) edit(fn func(tl *timeline.Timeline) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.tl); err != nil {
		return err
	}
	s.dirty = true
	return nil
}
