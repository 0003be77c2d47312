// Package mediaserver gives every library asset a locally addressable URL and
// serves the underlying file with byte-range support so players can seek.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/store"
)

// PathPrefix is where assets are mounted on the HTTP server.
const PathPrefix = "/media/"

var ErrAssetNotFound = errors.New("asset not found")

// AssetURL returns the local URL of an asset.
func AssetURL(id string) string {
	return PathPrefix + id
}

// ThumbnailURL returns the local URL of an asset's poster frame.
func ThumbnailURL(id string) string {
	return PathPrefix + id + "/thumbnail"
}

// AssetLookup resolves asset ids to library rows.
type AssetLookup interface {
	GetAsset(ctx context.Context, id string) (*store.Asset, error)
}

type Server struct {
	assets AssetLookup
	logger *slog.Logger
}

func NewServer(assets AssetLookup, logger *slog.Logger) *Server {
	return &Server{assets: assets, logger: logging.WithComponent(logging.OrDiscard(logger), "mediaserver")}
}

// ServeAsset writes the media file of asset id, honouring a Range header.
func (s *Server) ServeAsset(w http.ResponseWriter, r *http.Request, id string) error {
	a, err := s.lookup(r.Context(), id)
	if err != nil {
		return err
	}
	return s.ServeFile(w, r, a.Path)
}

// ServeThumbnail writes the asset's poster frame.
func (s *Server) ServeThumbnail(w http.ResponseWriter, r *http.Request, id string) error {
	a, err := s.lookup(r.Context(), id)
	if err != nil {
		return err
	}
	if a.ThumbnailPath == "" {
		return fmt.Errorf("asset %s has no thumbnail: %w", id, ErrAssetNotFound)
	}
	return s.ServeFile(w, r, a.ThumbnailPath)
}

func (s *Server) lookup(ctx context.Context, id string) (*store.Asset, error) {
	a, err := s.assets.GetAsset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup asset %s: %w", id, err)
	}
	if a == nil {
		return nil, fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
	}
	return a, nil
}

// ServeFile streams filePath. A missing file is reported as ErrAssetNotFound
// without writing a response; range errors are answered directly.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", logging.SanitizePath(filePath), ErrAssetNotFound)
		}
		return fmt.Errorf("failed to open media: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat media: %w", err)
	}
	size := stat.Size()

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	br, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole file is sent.
		br = nil
	}

	if br == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size)
		}
		return nil
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.Header().Set("Content-Range", br.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		s.copy(w, file, br.Length())
	}
	return nil
}

func (s *Server) copy(w io.Writer, r io.Reader, n int64) {
	// Clients abort mid-stream whenever the player seeks.
	if _, err := io.CopyN(w, r, n); err != nil {
		s.logger.Debug("media copy ended early", "error", err)
	}
}
