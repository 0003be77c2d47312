package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/export"
	"github.com/heimdex/heimdex-editor/internal/store"
)

const maxExportNameLen = 120

func exportsAvailable(w http.ResponseWriter, cfg ServerConfig) bool {
	if cfg.Exports == nil {
		WriteError(w, http.StatusServiceUnavailable, "export is not configured", "UNAVAILABLE")
		return false
	}
	return true
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !exportsAvailable(w, cfg) {
			return
		}
		var req StartExportRequest
		if !decodeBody(w, r, &req) {
			return
		}

		dir := req.OutputDir
		if dir == "" {
			dir = cfg.ExportDir
		}
		name := req.Name
		if name == "" {
			name = cfg.Session.State().ProjectName
		}
		outputPath, err := export.ResolveOutputPath(dir, name)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		snap := cfg.Session.Snapshot()
		if _, err := export.Plan(snap, ""); err != nil {
			writeEditError(w, err)
			return
		}

		job, err := cfg.Exports.Start(r.Context(), snap, cfg.Session.State().ProjectID, outputPath)
		if err != nil {
			cfg.Logger.Error("failed to start export", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to start export", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListExportJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}
		if jobs == nil {
			jobs = []*store.ExportJob{}
		}
		WriteJSON(w, http.StatusOK, ExportJobsResponse{Jobs: jobs})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !exportsAvailable(w, cfg) {
			return
		}
		job, err := cfg.Exports.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, export.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !exportsAvailable(w, cfg) {
			return
		}
		err := cfg.Exports.Cancel(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, export.ErrJobNotFound):
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
		case errors.Is(err, export.ErrJobFinished):
			WriteError(w, http.StatusConflict, "export job already finished", "JOB_FINISHED")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}
}

// exportEventsHandler streams a job's progress as server-sent events: the
// events so far, then live ones until the terminal event. A job that already
// finished gets one "job" event with its stored state.
func exportEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !exportsAvailable(w, cfg) {
			return
		}
		id := chi.URLParam(r, "id")
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		history, events, unsubscribe, err := cfg.Exports.Subscribe(id)
		if errors.Is(err, export.ErrJobNotFound) {
			job, gerr := cfg.Exports.Get(r.Context(), id)
			if gerr != nil {
				WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
				return
			}
			startStream(w)
			writeEvent(w, "job", job)
			flusher.Flush()
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		defer unsubscribe()

		startStream(w)
		for _, e := range history {
			writeEvent(w, "progress", e)
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				writeEvent(w, "progress", e)
				flusher.Flush()
			}
		}
	}
}

func startStream(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// exportEDLHandler writes a CMX3600 edit decision list of the base track.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if !decodeBody(w, r, &req) {
			return
		}

		dir := req.OutputDir
		if dir == "" {
			dir = cfg.ExportDir
		}
		if err := export.ValidateOutputDir(dir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		name := req.Name
		if name == "" {
			name = cfg.Session.State().ProjectName
		}
		title := export.SanitizeName(name, maxExportNameLen)
		if title == "" {
			title = "heimdex_export"
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = cfg.FrameRate
		}
		if frameRate <= 0 {
			frameRate = 30.0
		}

		snap := cfg.Session.Snapshot()
		clips := snap.ClipsOnTrack(snap.BaseTrackID())
		if len(clips) == 0 {
			writeEditError(w, export.ErrEmptyTimeline)
			return
		}

		edl := export.GenerateEDL(snap, title, frameRate)
		outputPath := filepath.Join(dir, title+".edl")
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, EDLResponse{
			Status:     "ok",
			Format:     "edl",
			OutputPath: outputPath,
			ClipCount:  len(clips),
		})
	}
}
