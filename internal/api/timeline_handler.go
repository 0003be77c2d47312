package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

func listTracksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp TracksResponse
		cfg.Session.View(func(tl *timeline.Timeline) {
			resp.Tracks = tl.Tracks()
		})
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddTrackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Kind != timeline.TrackVideo && req.Kind != timeline.TrackAudio {
			WriteError(w, http.StatusBadRequest, "kind must be video or audio", "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusCreated, cfg.Session.AddTrack(req.Kind, req.Name))
	}
}

func updateTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req UpdateTrackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Visible != nil {
			if err := cfg.Session.SetTrackVisible(id, *req.Visible); err != nil {
				writeEditError(w, err)
				return
			}
		}
		if req.Locked != nil {
			if err := cfg.Session.SetTrackLocked(id, *req.Locked); err != nil {
				writeEditError(w, err)
				return
			}
		}

		var track timeline.Track
		var ok bool
		cfg.Session.View(func(tl *timeline.Timeline) {
			track, ok = tl.Track(id)
		})
		if !ok {
			WriteError(w, http.StatusNotFound, "track not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, track)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trackID := r.URL.Query().Get("track_id")
		var resp ClipsResponse
		cfg.Session.View(func(tl *timeline.Timeline) {
			if trackID != "" {
				resp.Clips = tl.ClipsOnTrack(trackID)
			} else {
				resp.Clips = tl.Clips()
			}
		})
		if resp.Clips == nil {
			resp.Clips = []timeline.Clip{}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// clipResponse reads a clip and its transform node after an edit.
func clipResponse(cfg ServerConfig, id string) (ClipResponse, bool) {
	var resp ClipResponse
	var ok bool
	cfg.Session.View(func(tl *timeline.Timeline) {
		resp.Clip, ok = tl.Clip(id)
		if tr, has := tl.Transform(id); has {
			resp.Transform = &tr
		}
	})
	return resp, ok
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ok := clipResponse(cfg, chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func placeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlaceClipRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.AssetID == "" || req.TrackID == "" {
			WriteError(w, http.StatusBadRequest, "asset_id and track_id are required", "BAD_REQUEST")
			return
		}
		c, err := cfg.Session.Place(req.AssetID, req.Drop())
		if err != nil {
			writeEditError(w, err)
			return
		}
		resp, _ := clipResponse(cfg, c.ID)
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func moveClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DropRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TrackID == "" {
			WriteError(w, http.StatusBadRequest, "track_id is required", "BAD_REQUEST")
			return
		}
		c, err := cfg.Session.Move(chi.URLParam(r, "id"), req.Drop())
		if err != nil {
			writeEditError(w, err)
			return
		}
		resp, _ := clipResponse(cfg, c.ID)
		WriteJSON(w, http.StatusOK, resp)
	}
}

func validSide(s timeline.Side) bool {
	return s == timeline.SideLeft || s == timeline.SideRight
}

func trimClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req TrimRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validSide(req.Side) {
			WriteError(w, http.StatusBadRequest, "side must be left or right", "BAD_REQUEST")
			return
		}
		applied, err := cfg.Session.Trim(id, req.Side, req.DeltaMs)
		if err != nil {
			writeEditError(w, err)
			return
		}
		resp, _ := clipResponse(cfg, id)
		WriteJSON(w, http.StatusOK, TrimResponse{AppliedMs: applied, Clip: resp.Clip})
	}
}

func splitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req SplitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		right, err := cfg.Session.Split(id, req.AtMs)
		if err != nil {
			writeEditError(w, err)
			return
		}
		left, _ := clipResponse(cfg, id)
		WriteJSON(w, http.StatusOK, SplitResponse{Left: left.Clip, Right: right})
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Delete(chi.URLParam(r, "id")); err != nil {
			writeEditError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func transformClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var tr timeline.Transform
		if !decodeBody(w, r, &tr) {
			return
		}
		if err := cfg.Session.SetTransform(id, tr); err != nil {
			writeEditError(w, err)
			return
		}
		resp, _ := clipResponse(cfg, id)
		WriteJSON(w, http.StatusOK, resp)
	}
}

func beginTrimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BeginTrimRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validSide(req.Side) {
			WriteError(w, http.StatusBadRequest, "side must be left or right", "BAD_REQUEST")
			return
		}
		id, err := cfg.Session.BeginTrim(req.ClipID, req.Side)
		if err != nil {
			writeEditError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, BeginTrimResponse{GestureID: id})
	}
}

func updateTrimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateTrimRequest
		if !decodeBody(w, r, &req) {
			return
		}
		applied, err := cfg.Session.UpdateTrim(chi.URLParam(r, "id"), req.TotalMs)
		if err != nil {
			writeEditError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, TrimResponse{AppliedMs: applied})
	}
}

func endTrimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.EndTrim(chi.URLParam(r, "id")); err != nil {
			writeEditError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// visibleHandler lists what is drawn at ?t=ms, back to front. Without t the
// playhead is used.
func visibleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := queryMs(r, "t")
		if !ok {
			if r.URL.Query().Has("t") {
				WriteError(w, http.StatusBadRequest, "t must be an integer millisecond time", "BAD_REQUEST")
				return
			}
			t = cfg.Session.State().PlayheadMs
		}
		placements := cfg.Session.VisibleAt(t)
		resp := VisibleResponse{TimeMs: t, Placements: make([]PlacementResponse, len(placements))}
		for i, p := range placements {
			resp.Placements[i] = PlacementToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
