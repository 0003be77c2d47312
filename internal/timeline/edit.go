package timeline

import (
	"fmt"
)

// Drop describes where a dragged clip was released.
type Drop struct {
	TrackID string `json:"track_id"`
	StartMs int64  `json:"start_ms"`
	// PointerMs is the timeline time under the pointer that initiated the drag. It
	// decides which side of an overlapped clip the drop lands on.
	PointerMs int64 `json:"pointer_ms"`
	// NoShift forbids pushing existing clips later to make room at time zero.
	NoShift bool `json:"no_shift,omitempty"`
}

// DropAt is a drop whose pointer sits at the requested start.
func DropAt(trackID string, startMs int64) Drop {
	return Drop{TrackID: trackID, StartMs: startMs, PointerMs: startMs}
}

// resolution is the outcome of collision resolution on one track.
type resolution struct {
	start int64
	// shift moves every clip in shiftIDs later by this many ms.
	shift    int64
	shiftIDs []string
}

// Place creates a clip covering the whole asset on the drop's track.
func (t *Timeline) Place(assetID string, d Drop) (Clip, error) {
	a, ok := t.assets[assetID]
	if !ok {
		return Clip{}, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	idx, err := t.editableTrack(d.TrackID)
	if err != nil {
		return Clip{}, err
	}
	if a.Kind.TrackKind() != t.tracks[idx].Kind {
		return Clip{}, fmt.Errorf("%s asset on %s track: %w", a.Kind, t.tracks[idx].Kind, ErrKindMismatch)
	}

	dur := a.DurationMs
	if dur < t.limits.MinClipMs {
		return Clip{}, fmt.Errorf("asset %s lasts %dms: %w", assetID, dur, ErrTooShort)
	}
	res, err := t.resolve(idx, "", dur, d)
	if err != nil {
		return Clip{}, err
	}

	c := Clip{
		ID:          newID(),
		AssetID:     a.ID,
		TrackID:     t.tracks[idx].ID,
		StartMs:     res.start,
		EndMs:       res.start + dur,
		TrimStartMs: 0,
		TrimEndMs:   dur,
		Layer:       t.nextLayer(idx),
	}
	t.applyShift(res)
	t.clips[c.ID] = c
	t.tracks[idx].ClipIDs = append(t.tracks[idx].ClipIDs, c.ID)
	t.sortTrack(idx)
	if t.tracks[idx].Kind == TrackVideo {
		t.transforms[c.ID] = t.defaultTransform(a, t.tracks[idx].ID == t.BaseTrackID())
	}
	return c, nil
}

// Move repositions a clip, possibly onto another track of the same kind. A
// rejected move leaves the clip where it was.
func (t *Timeline) Move(clipID string, d Drop) (Clip, error) {
	c, ok := t.clips[clipID]
	if !ok {
		return Clip{}, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	srcIdx, err := t.editableTrack(c.TrackID)
	if err != nil {
		return Clip{}, err
	}
	dstIdx, err := t.editableTrack(d.TrackID)
	if err != nil {
		return Clip{}, err
	}
	if t.tracks[srcIdx].Kind != t.tracks[dstIdx].Kind {
		return Clip{}, fmt.Errorf("move to %s track: %w", t.tracks[dstIdx].Kind, ErrKindMismatch)
	}

	res, err := t.resolve(dstIdx, clipID, c.DurationMs(), d)
	if err != nil {
		return Clip{}, err
	}

	t.applyShift(res)
	dur := c.DurationMs()
	c.StartMs = res.start
	c.EndMs = res.start + dur
	if srcIdx != dstIdx {
		t.tracks[srcIdx].ClipIDs = removeID(t.tracks[srcIdx].ClipIDs, clipID)
		t.tracks[dstIdx].ClipIDs = append(t.tracks[dstIdx].ClipIDs, clipID)
		c.TrackID = t.tracks[dstIdx].ID
		c.Layer = t.nextLayer(dstIdx)

		base := t.BaseTrackID()
		if (t.tracks[srcIdx].ID == base) != (t.tracks[dstIdx].ID == base) {
			t.transforms[clipID] = t.defaultTransform(t.assets[c.AssetID], t.tracks[dstIdx].ID == base)
		}
	}
	t.clips[clipID] = c
	t.sortTrack(dstIdx)
	return c, nil
}

// Delete removes a clip and its transform node.
func (t *Timeline) Delete(clipID string) error {
	c, ok := t.clips[clipID]
	if !ok {
		return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	if _, err := t.editableTrack(c.TrackID); err != nil {
		return err
	}
	t.dropClip(c)
	return nil
}

// RemoveAsset drops an asset and cascades to every clip that references it,
// regardless of track locks. It returns the removed clip ids.
func (t *Timeline) RemoveAsset(assetID string) ([]string, error) {
	if _, ok := t.assets[assetID]; !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	var removed []string
	for _, c := range t.ClipsForAsset(assetID) {
		t.dropClip(c)
		removed = append(removed, c.ID)
	}
	delete(t.assets, assetID)
	t.assetOrder = removeID(t.assetOrder, assetID)
	return removed, nil
}

func (t *Timeline) dropClip(c Clip) {
	if idx := t.trackIndex(c.TrackID); idx >= 0 {
		t.tracks[idx].ClipIDs = removeID(t.tracks[idx].ClipIDs, c.ID)
	}
	delete(t.clips, c.ID)
	delete(t.transforms, c.ID)
}

func (t *Timeline) editableTrack(id string) (int, error) {
	idx := t.trackIndex(id)
	if idx < 0 {
		return -1, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if t.tracks[idx].Locked {
		return -1, fmt.Errorf("track %s: %w", id, ErrTrackLocked)
	}
	return idx, nil
}

// resolve finds a free start for a clip of length dur dropped on track idx.
// self is excluded from the overlap test when moving an existing clip.
//
// With no overlap the requested start (clamped at zero) wins. Otherwise the
// overlapped clip under the pointer decides: left of its midpoint inserts
// directly before it, right of its midpoint directly after it. Only the left
// side may shift clips, and only when insertion before would go negative.
func (t *Timeline) resolve(idx int, self string, dur int64, d Drop) (resolution, error) {
	start := d.StartMs
	if start < 0 {
		start = 0
	}

	others := make([]Clip, 0, len(t.tracks[idx].ClipIDs))
	for _, id := range t.tracks[idx].ClipIDs {
		if id != self {
			others = append(others, t.clips[id])
		}
	}

	var target *Clip
	for i := range others {
		if !others[i].Overlaps(start, start+dur) {
			continue
		}
		if target == nil || others[i].Contains(d.PointerMs) {
			target = &others[i]
			if target.Contains(d.PointerMs) {
				break
			}
		}
	}
	if target == nil {
		return resolution{start: start}, nil
	}

	free := func(s int64) bool {
		for _, o := range others {
			if o.Overlaps(s, s+dur) {
				return false
			}
		}
		return true
	}

	if d.PointerMs*2 < target.StartMs+target.EndMs {
		candidate := target.StartMs - dur
		if candidate >= 0 {
			if free(candidate) {
				return resolution{start: candidate}, nil
			}
			return resolution{}, fmt.Errorf("no room before clip %s: %w", target.ID, ErrCollision)
		}
		if d.NoShift {
			return resolution{}, fmt.Errorf("no room before clip %s: %w", target.ID, ErrCollision)
		}
		res := resolution{start: 0, shift: dur - target.StartMs}
		for _, o := range others {
			if o.StartMs < target.StartMs {
				return resolution{}, fmt.Errorf("clip %s blocks the start of the track: %w", o.ID, ErrCollision)
			}
			res.shiftIDs = append(res.shiftIDs, o.ID)
		}
		return res, nil
	}

	if free(target.EndMs) {
		return resolution{start: target.EndMs}, nil
	}
	return resolution{}, fmt.Errorf("no room after clip %s: %w", target.ID, ErrCollision)
}

func (t *Timeline) applyShift(res resolution) {
	for _, id := range res.shiftIDs {
		c := t.clips[id]
		c.StartMs += res.shift
		c.EndMs += res.shift
		t.clips[id] = c
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
