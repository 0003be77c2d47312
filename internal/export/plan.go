package export

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Plan turns every clip on the visible tracks of a timeline snapshot into
// ordered segments: by timeline start, then track order, then layer.
// Base-track clips form the program; wherever the base track is empty before
// the end of content a gap segment keeps the other tracks in sync. Segment
// files are named inside workDir.
func Plan(snap *timeline.Timeline, workDir string) ([]Segment, error) {
	base := snap.BaseTrackID()
	baseIdx := -1
	var segs, program []Segment
	var end int64

	for i, tr := range snap.Tracks() {
		if tr.ID == base {
			baseIdx = i
		}
		if !tr.Visible {
			continue
		}
		for _, c := range snap.ClipsOnTrack(tr.ID) {
			a, ok := snap.Asset(c.AssetID)
			if !ok {
				return nil, fmt.Errorf("clip %s references missing asset %s", c.ID, c.AssetID)
			}
			seg := Segment{
				Role:          RoleOverlay,
				ClipID:        c.ID,
				AssetID:       a.ID,
				Kind:          a.Kind,
				Source:        a.Path,
				SourceStartMs: c.TrimStartMs,
				StartMs:       c.StartMs,
				DurationMs:    c.DurationMs(),
				TrackIndex:    i,
				Layer:         c.Layer,
			}
			switch {
			case tr.Kind == timeline.TrackAudio:
				seg.Role = RoleAudio
			case tr.ID == base:
				seg.Role = RoleProgram
			default:
				seg.Transform, _ = snap.Transform(c.ID)
			}
			if seg.Role == RoleProgram {
				program = append(program, seg)
			} else {
				segs = append(segs, seg)
			}
			if c.EndMs > end {
				end = c.EndMs
			}
		}
	}
	if len(program)+len(segs) == 0 {
		return nil, ErrEmptyTimeline
	}

	var cursor int64
	gap := func(until int64) {
		if until > cursor {
			segs = append(segs, Segment{Role: RoleGap, StartMs: cursor, DurationMs: until - cursor, TrackIndex: baseIdx})
		}
	}
	for _, p := range program {
		gap(p.StartMs)
		segs = append(segs, p)
		cursor = p.StartMs + p.DurationMs
	}
	gap(end)

	sort.SliceStable(segs, func(i, j int) bool {
		a, b := segs[i], segs[j]
		if a.StartMs != b.StartMs {
			return a.StartMs < b.StartMs
		}
		if a.TrackIndex != b.TrackIndex {
			return a.TrackIndex < b.TrackIndex
		}
		return a.Layer < b.Layer
	})
	for i := range segs {
		ext := ".mp4"
		if segs[i].Role == RoleAudio {
			ext = ".m4a"
		}
		segs[i].Index = i
		segs[i].Output = filepath.Join(workDir, fmt.Sprintf("seg_%04d%s", i, ext))
	}
	return segs, nil
}

// splitProgram separates the concatenated program from the layered segments,
// keeping plan order in both.
func splitProgram(segs []Segment) (program, layers []Segment) {
	for _, s := range segs {
		if s.Layered() {
			layers = append(layers, s)
		} else {
			program = append(program, s)
		}
	}
	return program, layers
}
