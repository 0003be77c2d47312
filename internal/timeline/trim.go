package timeline

import (
	"fmt"
)

// Side selects the clip edge a trim adjusts.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Trim moves one edge of a clip by deltaMs, keeping the timeline and source
// intervals the same length. The delta is clamped to source bounds, neighbouring
// clips, time zero and the minimum duration; the delta actually applied is returned.
func (t *Timeline) Trim(clipID string, side Side, deltaMs int64) (int64, error) {
	c, ok := t.clips[clipID]
	if !ok {
		return 0, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	idx, err := t.editableTrack(c.TrackID)
	if err != nil {
		return 0, err
	}

	lo, hi, err := t.trimBounds(idx, c, side)
	if err != nil {
		return 0, err
	}
	applied := deltaMs
	if applied < lo {
		applied = lo
	}
	if applied > hi {
		applied = hi
	}
	if lo > hi {
		applied = 0
	}

	switch side {
	case SideLeft:
		c.StartMs += applied
		c.TrimStartMs += applied
	case SideRight:
		c.EndMs += applied
		c.TrimEndMs += applied
	}
	t.clips[clipID] = c
	return applied, nil
}

// trimBounds returns the legal delta range for trimming one edge of c.
func (t *Timeline) trimBounds(idx int, c Clip, side Side) (lo, hi int64, err error) {
	prevEnd, nextStart := int64(0), int64(-1)
	for _, id := range t.tracks[idx].ClipIDs {
		o := t.clips[id]
		if id == c.ID {
			continue
		}
		if o.EndMs <= c.StartMs && o.EndMs > prevEnd {
			prevEnd = o.EndMs
		}
		if o.StartMs >= c.EndMs && (nextStart < 0 || o.StartMs < nextStart) {
			nextStart = o.StartMs
		}
	}

	dur := c.DurationMs()
	switch side {
	case SideLeft:
		lo = -c.TrimStartMs
		if limit := prevEnd - c.StartMs; limit > lo {
			lo = limit
		}
		hi = dur - t.limits.MinClipMs
	case SideRight:
		lo = t.limits.MinClipMs - dur
		hi = t.SourceLimit(t.assets[c.AssetID]) - c.TrimEndMs
		if nextStart >= 0 {
			if limit := nextStart - c.EndMs; limit < hi {
				hi = limit
			}
		}
	default:
		return 0, 0, fmt.Errorf("unknown trim side %q: %w", side, ErrOutOfRange)
	}
	return lo, hi, nil
}

// TrimGesture tracks one edge drag. Once the drag is clamped at a boundary,
// further movement in that direction is ignored until the pointer reverses
// past the boundary point.
type TrimGesture struct {
	tl      *Timeline
	clipID  string
	side    Side
	applied int64
	// frozen is the sign of the clamped direction, or zero.
	frozen int
}

// BeginTrim starts a trim gesture on one edge of a clip.
func (t *Timeline) BeginTrim(clipID string, side Side) (*TrimGesture, error) {
	c, ok := t.clips[clipID]
	if !ok {
		return nil, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	if side != SideLeft && side != SideRight {
		return nil, fmt.Errorf("unknown trim side %q: %w", side, ErrOutOfRange)
	}
	if _, err := t.editableTrack(c.TrackID); err != nil {
		return nil, err
	}
	return &TrimGesture{tl: t, clipID: clipID, side: side}, nil
}

func (g *TrimGesture) ClipID() string { return g.clipID }

func (g *TrimGesture) Side() Side { return g.side }

// Applied is the cumulative delta applied since the gesture began.
func (g *TrimGesture) Applied() int64 { return g.applied }

// Update moves the drag to totalMs from where the gesture began and returns the
// cumulative delta actually applied.
func (g *TrimGesture) Update(totalMs int64) (int64, error) {
	switch {
	case g.frozen > 0 && totalMs >= g.applied:
		return g.applied, nil
	case g.frozen < 0 && totalMs <= g.applied:
		return g.applied, nil
	}
	g.frozen = 0

	step := totalMs - g.applied
	if step == 0 {
		return g.applied, nil
	}
	applied, err := g.tl.Trim(g.clipID, g.side, step)
	if err != nil {
		return g.applied, err
	}
	g.applied += applied
	if applied != step {
		if step > 0 {
			g.frozen = 1
		} else {
			g.frozen = -1
		}
	}
	return g.applied, nil
}

// Split cuts a clip at timeline time atMs, which must lie strictly inside it. The
// original keeps the left part; the returned clip holds the right part and
// inherits the original's transform and layer.
func (t *Timeline) Split(clipID string, atMs int64) (Clip, error) {
	c, ok := t.clips[clipID]
	if !ok {
		return Clip{}, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	idx, err := t.editableTrack(c.TrackID)
	if err != nil {
		return Clip{}, err
	}
	if atMs <= c.StartMs || atMs >= c.EndMs {
		return Clip{}, fmt.Errorf("split at %dms outside clip [%d,%d): %w", atMs, c.StartMs, c.EndMs, ErrOutOfRange)
	}
	if atMs-c.StartMs < t.limits.MinClipMs || c.EndMs-atMs < t.limits.MinClipMs {
		return Clip{}, fmt.Errorf("split at %dms: %w", atMs, ErrTooShort)
	}

	cut := c.SourceTime(atMs)
	right := Clip{
		ID:          newID(),
		AssetID:     c.AssetID,
		TrackID:     c.TrackID,
		StartMs:     atMs,
		EndMs:       c.EndMs,
		TrimStartMs: cut,
		TrimEndMs:   c.TrimEndMs,
		Layer:       c.Layer,
	}
	c.EndMs = atMs
	c.TrimEndMs = cut

	t.clips[c.ID] = c
	t.clips[right.ID] = right
	t.tracks[idx].ClipIDs = append(t.tracks[idx].ClipIDs, right.ID)
	t.sortTrack(idx)
	if tr, ok := t.transforms[c.ID]; ok {
		t.transforms[right.ID] = tr
	}
	return right, nil
}
