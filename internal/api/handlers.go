package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/burnline/burnline/internal/db"
	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/queue"
	"github.com/burnline/burnline/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	db    *db.DB
	queue *queue.Queue
	store *store.Store
}

func NewHandler(database *db.DB, q *queue.Queue, st *store.Store) *Handler {
	return &Handler{
		db:    database,
		queue: q,
		store: st,
	}
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if req.AudioKey == "" {
		respondError(w, http.StatusBadRequest, "Audio key is required")
		return
	}
	if err := models.ValidateTimeline(req.Segments); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid timeline: "+err.Error())
		return
	}

	// Create project
	project := &models.Project{
		ID:           uuid.New(),
		Title:        req.Title,
		AudioKey:     req.AudioKey,
		SegmentCount: len(req.Segments),
		Status:       models.ProjectStatusPending,
		Options:      req.Options,
	}

	if err := h.db.CreateProject(r.Context(), project); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	// Write the initial manifest before the job is visible to any worker.
	manifest := models.NewManifest(project.ID, project.AudioKey, req.Segments)
	if err := h.store.PutManifest(r.Context(), manifest); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to write manifest")
		return
	}

	// Create and enqueue job
	jobID := uuid.New()
	job := &models.Job{
		ID:        jobID,
		ProjectID: project.ID,
		Type:      "render_project",
		Status:    models.JobStatusQueued,
	}

	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueRenderProject(r.Context(), project.ID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateProjectResponse{
		ProjectID: project.ID,
		Status:    project.Status,
	})
}

// ListProjects handles GET /v1/projects
// Query params:
//   - status: filter by project status (pending, in_progress, partially_complete, complete, failed)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.ProjectStatus(statusFilter) {
		case models.ProjectStatusPending, models.ProjectStatusInProgress,
			models.ProjectStatusPartiallyDone, models.ProjectStatusComplete,
			models.ProjectStatusFailed:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: pending, in_progress, partially_complete, complete, failed")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountProjects(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count projects")
		return
	}

	projects, err := h.db.ListProjects(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: projects,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.db.GetProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}

	respondJSON(w, http.StatusOK, project)
}

// GetProjectManifest handles GET /v1/projects/{id}/manifest. The manifest is
// the per-segment render state, served straight from the result store.
func (h *Handler) GetProjectManifest(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	manifest, err := h.store.GetManifest(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Manifest not found")
		return
	}

	respondJSON(w, http.StatusOK, manifest)
}

// GetProjectDownload handles GET /v1/projects/{id}/download
func (h *Handler) GetProjectDownload(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.db.GetProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}

	if project.OutputKey == nil || *project.OutputKey == "" {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	http.Redirect(w, r, h.store.GetPublicURL(*project.OutputKey), http.StatusTemporaryRedirect)
}

// GetProjectJobs handles GET /v1/projects/{id}/debug/jobs
func (h *Handler) GetProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	jobs, err := h.db.GetProjectJobs(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
