package api

import (
	"net/http"
)

func playbackStateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Play()
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Pause()
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cfg.Session.Seek(req.Ms)
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

func volumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VolumeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Volume == nil && req.Muted == nil {
			WriteError(w, http.StatusBadRequest, "volume or muted is required", "BAD_REQUEST")
			return
		}
		if req.Volume != nil {
			if v := *req.Volume; v < 0 || v > 1 {
				WriteError(w, http.StatusBadRequest, "volume must be between 0 and 1", "BAD_REQUEST")
				return
			}
			cfg.Session.SetVolume(*req.Volume)
		}
		if req.Muted != nil {
			cfg.Session.SetMuted(*req.Muted)
		}
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

// frameHandler returns the layers of the last composed frame.
func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Frame())
	}
}
