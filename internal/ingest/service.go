// Package ingest turns local media files into timeline assets: it classifies
// each file, probes its duration and dimensions, renders a poster thumbnail,
// records it in the library and registers it with the open session.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/mediaserver"
	"github.com/heimdex/heimdex-editor/internal/probe"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const (
	fingerprintSize = 64 * 1024
	thumbnailAtMs   = 1000
)

var (
	ErrUnsupported      = errors.New("unsupported media type")
	ErrProbeUnavailable = errors.New("ffprobe is not available")
	ErrNotAFile         = errors.New("path is not a regular file")
)

var kindByExt = map[string]timeline.AssetKind{
	".mp4": timeline.AssetVideo, ".mov": timeline.AssetVideo, ".mkv": timeline.AssetVideo,
	".webm": timeline.AssetVideo, ".m4v": timeline.AssetVideo, ".avi": timeline.AssetVideo,
	".mp3": timeline.AssetAudio, ".wav": timeline.AssetAudio, ".aac": timeline.AssetAudio,
	".m4a": timeline.AssetAudio, ".flac": timeline.AssetAudio, ".ogg": timeline.AssetAudio,
	".png": timeline.AssetImage, ".jpg": timeline.AssetImage, ".jpeg": timeline.AssetImage,
	".gif": timeline.AssetImage, ".webp": timeline.AssetImage, ".bmp": timeline.AssetImage,
}

// KindOf classifies a file by extension.
func KindOf(path string) (timeline.AssetKind, bool) {
	k, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	return k, ok
}

// Library is the slice of the store ingest writes to.
type Library interface {
	GetAssetByPath(ctx context.Context, path string) (*store.Asset, error)
	UpsertAsset(ctx context.Context, a *store.Asset) error
}

// Registrar receives ingested assets; the session implements it.
type Registrar interface {
	Asset(id string) (timeline.Asset, bool)
	AddAsset(a timeline.Asset) (timeline.Asset, error)
}

// Capabilities reports which tools are usable; probe.CachedDoctor implements it.
type Capabilities interface {
	Get(ctx context.Context) (*probe.Capabilities, error)
}

// Result is the outcome for one path. Exactly one of Asset and Err is set.
type Result struct {
	Path  string          `json:"path"`
	Asset *timeline.Asset `json:"asset,omitempty"`
	Err   error           `json:"-"`
	Error string          `json:"error,omitempty"`
}

type Service struct {
	tools    probe.FFmpeg
	doctor   Capabilities
	library  Library
	session  Registrar
	cacheDir string
	logger   *slog.Logger
}

// NewService wires the ingest collaborators. doctor and library may be nil.
func NewService(tools probe.FFmpeg, doctor Capabilities, library Library, session Registrar, cacheDir string, logger *slog.Logger) *Service {
	return &Service{
		tools:    tools,
		doctor:   doctor,
		library:  library,
		session:  session,
		cacheDir: cacheDir,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "ingest"),
	}
}

// Ingest processes every path in order. A failure is recorded on that path's
// result and never stops the others.
func (s *Service) Ingest(ctx context.Context, paths []string) []Result {
	results := make([]Result, 0, len(paths))

	var unavailable error
	if s.doctor != nil {
		caps, err := s.doctor.Get(ctx)
		switch {
		case err != nil:
			s.logger.Warn("tool check failed, probing anyway", "error", err)
		case !caps.CanProbe:
			unavailable = ErrProbeUnavailable
		}
	}

	for _, p := range paths {
		res := Result{Path: p}
		var a timeline.Asset
		var err error
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case unavailable != nil:
			err = unavailable
		default:
			a, err = s.ingestOne(ctx, p)
		}
		if err != nil {
			s.logger.Warn("ingest failed", "path", logging.SanitizePath(p), "error", err)
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Asset = &a
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) ingestOne(ctx context.Context, path string) (timeline.Asset, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return timeline.Asset{}, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return timeline.Asset{}, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return timeline.Asset{}, ErrNotAFile
	}
	kind, ok := KindOf(absPath)
	if !ok {
		return timeline.Asset{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(absPath))
	}

	id := uuid.NewString()
	if s.library != nil {
		existing, err := s.library.GetAssetByPath(ctx, absPath)
		if err != nil {
			return timeline.Asset{}, err
		}
		if existing != nil {
			id = existing.ID
		}
	}
	if a, ok := s.session.Asset(id); ok {
		return a, nil
	}

	meta, err := s.tools.Probe(ctx, absPath)
	if err != nil {
		return timeline.Asset{}, err
	}
	kind, err = reconcileKind(kind, meta)
	if err != nil {
		return timeline.Asset{}, err
	}

	fingerprint, err := computeFingerprint(absPath)
	if err != nil {
		return timeline.Asset{}, fmt.Errorf("fingerprint: %w", err)
	}

	a := timeline.Asset{
		ID:          id,
		Kind:        kind,
		Name:        strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)),
		Path:        absPath,
		URL:         mediaserver.AssetURL(id),
		Width:       meta.Width,
		Height:      meta.Height,
		SizeBytes:   info.Size(),
		Fingerprint: fingerprint,
	}
	if kind != timeline.AssetImage {
		a.DurationMs = meta.DurationMs
	}
	if kind.Visual() {
		a.ThumbnailPath = s.thumbnail(ctx, a, meta.DurationMs)
	}

	added, err := s.session.AddAsset(a)
	if err != nil {
		return timeline.Asset{}, err
	}
	if s.library != nil {
		if err := s.library.UpsertAsset(ctx, store.AssetFromTimeline(added)); err != nil {
			s.logger.Error("failed to record asset in library", "asset_id", added.ID, "error", err)
		}
	}

	s.logger.Info("asset ingested",
		"asset_id", added.ID,
		"kind", added.Kind,
		"duration_ms", added.DurationMs,
		"path", logging.SanitizePath(absPath),
	)
	return added, nil
}

// reconcileKind corrects the extension guess with what the probe found. A
// video container holding only audio becomes an audio asset.
func reconcileKind(kind timeline.AssetKind, meta *probe.Result) (timeline.AssetKind, error) {
	switch kind {
	case timeline.AssetVideo:
		if !meta.HasVideo {
			if meta.HasAudio {
				return timeline.AssetAudio, nil
			}
			return "", fmt.Errorf("%w: no video stream", ErrUnsupported)
		}
	case timeline.AssetAudio:
		if !meta.HasAudio {
			return "", fmt.Errorf("%w: no audio stream", ErrUnsupported)
		}
	case timeline.AssetImage:
		if !meta.HasVideo {
			return "", fmt.Errorf("%w: image has no picture", ErrUnsupported)
		}
	}
	if kind != timeline.AssetImage && meta.DurationMs <= 0 {
		return "", fmt.Errorf("%w: unknown duration", ErrUnsupported)
	}
	return kind, nil
}

// thumbnail renders a poster frame into the cache. Failures are logged and the
// asset is ingested without one.
func (s *Service) thumbnail(ctx context.Context, a timeline.Asset, durationMs int64) string {
	if s.cacheDir == "" {
		return ""
	}
	var at int64
	if a.Kind == timeline.AssetVideo {
		at = min(int64(thumbnailAtMs), durationMs/2)
	}
	out := filepath.Join(s.cacheDir, "thumbnails", a.ID+".jpg")
	if err := s.tools.GenerateThumbnail(ctx, a.Path, out, at); err != nil {
		s.logger.Warn("thumbnail failed", "asset_id", a.ID, "error", err)
		return ""
	}
	return out
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
