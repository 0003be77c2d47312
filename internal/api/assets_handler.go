package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/mediaserver"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		serveMedia(cfg, w, r, id, cfg.Media.ServeAsset(w, r, id))
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		serveMedia(cfg, w, r, id, cfg.Media.ServeThumbnail(w, r, id))
	}
}

// serveMedia answers the errors the media server returns before writing.
func serveMedia(cfg ServerConfig, w http.ResponseWriter, r *http.Request, id string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, mediaserver.ErrAssetNotFound) {
		WriteError(w, http.StatusNotFound, "media not found", "NOT_FOUND")
		return
	}
	cfg.Logger.Error("media error", "error", err, "asset_id", id)
	WriteError(w, http.StatusInternalServerError, "failed to serve media", "INTERNAL_ERROR")
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp AssetsResponse
		cfg.Session.View(func(tl *timeline.Timeline) {
			resp.Assets = tl.Assets()
		})
		if resp.Assets == nil {
			resp.Assets = []timeline.Asset{}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func ingestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ingest == nil {
			WriteError(w, http.StatusServiceUnavailable, "ingest is not configured", "UNAVAILABLE")
			return
		}

		var req IngestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Paths) == 0 {
			WriteError(w, http.StatusBadRequest, "paths must not be empty", "BAD_REQUEST")
			return
		}

		results := cfg.Ingest.Ingest(r.Context(), req.Paths)
		resp := IngestResponse{Results: results}
		for _, res := range results {
			if res.Err != nil {
				resp.Failed++
			} else {
				resp.Imported++
			}
		}

		status := http.StatusOK
		if resp.Imported == 0 {
			status = http.StatusUnprocessableEntity
		}
		WriteJSON(w, status, resp)
	}
}

func removeAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := cfg.Session.RemoveAsset(chi.URLParam(r, "id"))
		if err != nil {
			writeEditError(w, err)
			return
		}
		if removed == nil {
			removed = []string{}
		}
		WriteJSON(w, http.StatusOK, RemoveAssetResponse{RemovedClipIDs: removed})
	}
}

func listLibraryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := cfg.Repository.ListAssets(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list library", "INTERNAL_ERROR")
			return
		}
		if assets == nil {
			assets = []*store.Asset{}
		}
		WriteJSON(w, http.StatusOK, LibraryResponse{Assets: assets})
	}
}
