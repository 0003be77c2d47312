package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/mediaserver"
	"github.com/heimdex/heimdex-editor/internal/session"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// ErrNoProject is returned when there is no saved project to reopen.
var ErrNoProject = errors.New("no saved project")

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := cfg.Session.State()
		WriteJSON(w, http.StatusOK, ProjectResponse{
			ID:       state.ProjectID,
			Name:     state.ProjectName,
			Document: cfg.Session.Document(),
		})
	}
}

// loadProjectHandler replaces the open project with a posted document.
func loadProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoadProjectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Document) == 0 {
			WriteError(w, http.StatusBadRequest, "document is required", "BAD_REQUEST")
			return
		}
		doc, err := timeline.ParseDocument(req.Document)
		if err != nil {
			writeEditError(w, err)
			return
		}
		if err := loadDocument(r.Context(), cfg.Repository, cfg.Session, req.ID, req.Name, doc); err != nil {
			writeEditError(w, err)
			return
		}
		getProjectHandler(cfg)(w, r)
	}
}

func renameProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}
		cfg.Session.Rename(req.Name)
		WriteJSON(w, http.StatusOK, cfg.Session.State())
	}
}

func newProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		cfg.Session.NewProject(req.Name)
		getProjectHandler(cfg)(w, r)
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := SaveProject(r.Context(), cfg.Repository, cfg.Session)
		if err != nil {
			cfg.Logger.Error("failed to save project", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to save project", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToSummary(p))
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Repository.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}
		resp := ProjectsResponse{Projects: make([]ProjectSummary, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToSummary(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func openProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := OpenProject(r.Context(), cfg.Repository, cfg.Session, chi.URLParam(r, "id"))
		if errors.Is(err, ErrNoProject) {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}
		if err != nil {
			writeEditError(w, err)
			return
		}
		getProjectHandler(cfg)(w, r)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == cfg.Session.State().ProjectID {
			WriteError(w, http.StatusConflict, "cannot delete the open project", "PROJECT_OPEN")
			return
		}
		if err := cfg.Repository.DeleteProject(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SaveProject stores the open project's document and remembers it as the
// project to reopen on startup.
func SaveProject(ctx context.Context, repo store.Repository, sess *session.Session) (*store.Project, error) {
	state := sess.State()
	data, err := json.Marshal(sess.Document())
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	p := &store.Project{ID: state.ProjectID, Name: state.ProjectName, Document: data}
	if existing, err := repo.GetProject(ctx, p.ID); err == nil && existing != nil {
		p.CreatedAt = existing.CreatedAt
	}
	if err := repo.SaveProject(ctx, p); err != nil {
		return nil, err
	}
	if err := repo.SetConfig(ctx, store.ConfigLastProject, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenProject loads a saved project into the session. An empty id reopens the
// last saved project.
func OpenProject(ctx context.Context, repo store.Repository, sess *session.Session, id string) error {
	if id == "" {
		last, err := repo.GetConfig(ctx, store.ConfigLastProject)
		if err != nil {
			return err
		}
		if last == "" {
			return ErrNoProject
		}
		id = last
	}
	p, err := repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project %s: %w", id, ErrNoProject)
	}
	doc, err := timeline.ParseDocument(p.Document)
	if err != nil {
		return err
	}
	if err := loadDocument(ctx, repo, sess, p.ID, p.Name, doc); err != nil {
		return err
	}
	return repo.SetConfig(ctx, store.ConfigLastProject, p.ID)
}

// loadDocument swaps the document into the session and records assets the
// library has not seen, so their media can be served.
func loadDocument(ctx context.Context, repo store.Repository, sess *session.Session, id, name string, doc timeline.Document) error {
	for i, a := range doc.Assets {
		doc.Assets[i].URL = mediaserver.AssetURL(a.ID)
	}
	if err := sess.Load(id, name, doc); err != nil {
		return err
	}
	for _, a := range doc.Assets {
		existing, err := repo.GetAsset(ctx, a.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := repo.UpsertAsset(ctx, store.AssetFromTimeline(a)); err != nil {
				return err
			}
		}
	}
	return nil
}
