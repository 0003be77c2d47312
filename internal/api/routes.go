package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/export"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/media/{id}", mediaHandler(cfg))
		r.Head("/media/{id}", mediaHandler(cfg))
		r.Get("/media/{id}/thumbnail", thumbnailHandler(cfg))
		r.Head("/media/{id}/thumbnail", thumbnailHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/assets", ingestHandler(cfg))
		r.Delete("/assets/{id}", removeAssetHandler(cfg))
		r.Get("/library", listLibraryHandler(cfg))

		r.Get("/project", getProjectHandler(cfg))
		r.Put("/project", loadProjectHandler(cfg))
		r.Patch("/project", renameProjectHandler(cfg))
		r.Post("/project/new", newProjectHandler(cfg))
		r.Post("/project/save", saveProjectHandler(cfg))
		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects/{id}/open", openProjectHandler(cfg))
		r.Delete("/projects/{id}", deleteProjectHandler(cfg))

		r.Get("/tracks", listTracksHandler(cfg))
		r.Post("/tracks", addTrackHandler(cfg))
		r.Patch("/tracks/{id}", updateTrackHandler(cfg))

		r.Get("/clips", listClipsHandler(cfg))
		r.Post("/clips", placeClipHandler(cfg))
		r.Get("/clips/{id}", getClipHandler(cfg))
		r.Delete("/clips/{id}", deleteClipHandler(cfg))
		r.Post("/clips/{id}/move", moveClipHandler(cfg))
		r.Post("/clips/{id}/trim", trimClipHandler(cfg))
		r.Post("/clips/{id}/split", splitClipHandler(cfg))
		r.Put("/clips/{id}/transform", transformClipHandler(cfg))

		r.Post("/trims", beginTrimHandler(cfg))
		r.Patch("/trims/{id}", updateTrimHandler(cfg))
		r.Delete("/trims/{id}", endTrimHandler(cfg))

		r.Get("/visible", visibleHandler(cfg))

		r.Get("/playback", playbackStateHandler(cfg))
		r.Post("/playback/play", playHandler(cfg))
		r.Post("/playback/pause", pauseHandler(cfg))
		r.Post("/playback/seek", seekHandler(cfg))
		r.Post("/playback/volume", volumeHandler(cfg))
		r.Get("/playback/frame", frameHandler(cfg))

		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Post("/exports/edl", exportEDLHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Get("/exports/{id}/events", exportEventsHandler(cfg))
		r.Delete("/exports/{id}", cancelExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		playback := cfg.Session.State()

		resp := StatusResponse{
			State:    "idle",
			Playback: playback,
		}
		if playback.Playing {
			resp.State = "playing"
		}

		cfg.Session.View(func(tl *timeline.Timeline) {
			resp.AssetsCount = len(tl.Assets())
			resp.ClipsCount = len(tl.Clips())
			limits, canvas := tl.Limits(), tl.Canvas()
			resp.Constraints = ConstraintsInfo{
				MinClipMs:       limits.MinClipMs,
				ImageDurationMs: limits.ImageDurationMs,
				CanvasWidth:     canvas.Width,
				CanvasHeight:    canvas.Height,
			}
		})

		if cfg.Exports != nil {
			resp.ExportsRunning = cfg.Exports.ActiveCount()
			if resp.ExportsRunning > 0 {
				resp.State = "exporting"
			}
			jobs, _ := cfg.Exports.List(ctx, 10)
			for _, j := range jobs {
				if j.Status == store.JobStatusFailed {
					resp.LastError = j.Error
					break
				}
			}
		}

		// Peek does not run the tools.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				tools := &ToolsResponse{
					FFmpeg:    caps.FFmpeg.Available,
					FFprobe:   caps.FFprobe.Available,
					CanProbe:  caps.CanProbe,
					CanExport: caps.CanExport,
					Version:   caps.FFmpeg.Version,
				}
				if !caps.ProbedAt.IsZero() {
					tools.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Tools = tools
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// decodeBody decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// queryMs reads a millisecond query parameter.
func queryMs(r *http.Request, key string) (int64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// writeEditError maps a rejected edit onto an HTTP status.
func writeEditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeline.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, timeline.ErrCollision):
		WriteError(w, http.StatusConflict, err.Error(), "COLLISION")
	case errors.Is(err, timeline.ErrTrackLocked):
		WriteError(w, http.StatusLocked, err.Error(), "TRACK_LOCKED")
	case errors.Is(err, timeline.ErrKindMismatch):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "KIND_MISMATCH")
	case errors.Is(err, timeline.ErrOutOfRange):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "OUT_OF_RANGE")
	case errors.Is(err, timeline.ErrTooShort):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "TOO_SHORT")
	case errors.Is(err, timeline.ErrInvalidAsset), errors.Is(err, timeline.ErrInvalidDocument):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID")
	case errors.Is(err, export.ErrEmptyTimeline):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "EMPTY_TIMELINE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
