package timeline

import (
	"encoding/json"
	"fmt"
)

// DocumentVersion is the current project document schema version.
const DocumentVersion = 1

// Document is the persisted project layout and the sole source of truth used to
// rebuild a timeline.
type Document struct {
	Version    int                  `json:"version"`
	Canvas     Canvas               `json:"canvas"`
	Assets     []Asset              `json:"assets"`
	Tracks     []Track              `json:"tracks"`
	Clips      map[string]Clip      `json:"clips"`
	Transforms map[string]Transform `json:"transforms"`
}

// Document captures the timeline as a persistable document.
func (t *Timeline) Document() Document {
	doc := Document{
		Version:    DocumentVersion,
		Canvas:     t.canvas,
		Assets:     t.Assets(),
		Tracks:     t.Tracks(),
		Clips:      make(map[string]Clip, len(t.clips)),
		Transforms: make(map[string]Transform, len(t.transforms)),
	}
	for id, c := range t.clips {
		doc.Clips[id] = c
	}
	for id, tr := range t.transforms {
		doc.Transforms[id] = tr
	}
	return doc
}

// ParseDocument decodes a JSON project document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// FromDocument rebuilds a timeline, validating every clip invariant. Video-track
// clips missing a transform node get the default one.
func FromDocument(doc Document, limits Limits) (*Timeline, error) {
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}
	t := New(doc.Canvas, limits)

	for _, a := range doc.Assets {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: asset without id", ErrInvalidDocument)
		}
		if _, err := t.AddAsset(a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	seenTracks := make(map[string]bool, len(doc.Tracks))
	seenClips := make(map[string]bool, len(doc.Clips))
	for _, tr := range doc.Tracks {
		if tr.ID == "" || seenTracks[tr.ID] {
			return nil, fmt.Errorf("%w: missing or duplicate track id %q", ErrInvalidDocument, tr.ID)
		}
		if tr.Kind != TrackVideo && tr.Kind != TrackAudio {
			return nil, fmt.Errorf("%w: track %s has kind %q", ErrInvalidDocument, tr.ID, tr.Kind)
		}
		seenTracks[tr.ID] = true
		idx := len(t.tracks)
		t.tracks = append(t.tracks, Track{ID: tr.ID, Kind: tr.Kind, Name: tr.Name, Visible: tr.Visible, Locked: tr.Locked})

		for _, id := range tr.ClipIDs {
			c, ok := doc.Clips[id]
			if !ok {
				return nil, fmt.Errorf("%w: track %s lists unknown clip %s", ErrInvalidDocument, tr.ID, id)
			}
			if seenClips[id] {
				return nil, fmt.Errorf("%w: clip %s listed twice", ErrInvalidDocument, id)
			}
			seenClips[id] = true
			c.ID = id
			c.TrackID = tr.ID
			if err := t.validateClip(c, tr.Kind); err != nil {
				return nil, err
			}
			for _, other := range t.tracks[idx].ClipIDs {
				if t.clips[other].Overlaps(c.StartMs, c.EndMs) {
					return nil, fmt.Errorf("%w: clips %s and %s overlap", ErrInvalidDocument, other, id)
				}
			}
			t.clips[id] = c
			t.tracks[idx].ClipIDs = append(t.tracks[idx].ClipIDs, id)
		}
		t.sortTrack(idx)
	}
	if len(seenClips) != len(doc.Clips) {
		return nil, fmt.Errorf("%w: clip map holds clips not listed on any track", ErrInvalidDocument)
	}

	base := t.BaseTrackID()
	for _, tr := range t.tracks {
		if tr.Kind != TrackVideo {
			continue
		}
		for _, id := range tr.ClipIDs {
			if node, ok := doc.Transforms[id]; ok {
				t.transforms[id] = node
				continue
			}
			t.transforms[id] = t.defaultTransform(t.assets[t.clips[id].AssetID], tr.ID == base)
		}
	}
	return t, nil
}

func (t *Timeline) validateClip(c Clip, kind TrackKind) error {
	a, ok := t.assets[c.AssetID]
	if !ok {
		return fmt.Errorf("%w: clip %s references unknown asset %s", ErrInvalidDocument, c.ID, c.AssetID)
	}
	if a.Kind.TrackKind() != kind {
		return fmt.Errorf("%w: clip %s: %v", ErrInvalidDocument, c.ID, ErrKindMismatch)
	}
	switch {
	case c.EndMs-c.StartMs != c.TrimEndMs-c.TrimStartMs:
		return fmt.Errorf("%w: clip %s timeline and source lengths differ", ErrInvalidDocument, c.ID)
	case c.StartMs < 0 || c.TrimStartMs < 0:
		return fmt.Errorf("%w: clip %s starts before zero", ErrInvalidDocument, c.ID)
	case c.TrimEndMs > t.SourceLimit(a):
		return fmt.Errorf("%w: clip %s trims past its source", ErrInvalidDocument, c.ID)
	case c.DurationMs() < t.limits.MinClipMs:
		return fmt.Errorf("%w: clip %s: %v", ErrInvalidDocument, c.ID, ErrTooShort)
	}
	return nil
}
