package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sitewright/sitewright/pkg/engine"
	"github.com/sitewright/sitewright/pkg/logging"
	"github.com/sitewright/sitewright/pkg/models"
	"github.com/sitewright/sitewright/pkg/store"
)

// multipart briefs may carry up to MaxImages uploads plus form fields
const maxRequestBytes = int64(models.MaxImages*models.MaxImageBytes + 1<<20)

// Handler serves the HTTP API in front of the generation engine
type Handler struct {
	engine  *engine.Engine
	logger  *logging.Logger
	dataDir string
	version string
}

// NewHandler creates the API handler
func NewHandler(eng *engine.Engine, logger *logging.Logger, dataDir string) *Handler {
	return &Handler{
		engine:  eng,
		logger:  logger.WithField("component", "api"),
		dataDir: dataDir,
	}
}

// SetVersion sets the version string reported by the health endpoint
func (h *Handler) SetVersion(v string) { h.version = v }

// RegisterRoutes attaches all API routes to the router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generate", h.handleGenerate).Methods("POST")
	r.HandleFunc("/api/generation/{id}", h.handleStatus).Methods("GET")
	r.HandleFunc("/api/generation/{id}", h.handleCancel).Methods("DELETE")
	r.HandleFunc("/api/generations", h.handleList).Methods("GET")
	r.HandleFunc("/api/download/{id}", h.handleDownload).Methods("GET")
	r.HandleFunc("/api/templates", h.handleTemplates).Methods("GET")
	r.HandleFunc("/api/health", h.handleHealth).Methods("GET")
}

type generateResponse struct {
	GenerationID string           `json:"generation_id"`
	Status       models.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
}

// handleGenerate accepts a brief as multipart form data (with optional
// image uploads) or as a bare JSON document, and enqueues a job.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req *models.GenerationRequest
	var err error
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		req, err = parseMultipartBrief(r)
	case strings.HasPrefix(ct, "application/json"):
		req = &models.GenerationRequest{}
		err = json.NewDecoder(r.Body).Decode(req)
	default:
		h.writeError(w, http.StatusUnsupportedMediaType, "use multipart/form-data or application/json")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.engine.Submit(req)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("submit failed", map[string]interface{}{"error": err.Error()})
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue generation")
		return
	}

	status := http.StatusAccepted
	if job.Status == models.JobStatusCompleted {
		// identical brief already generated
		status = http.StatusOK
	}
	h.writeJSON(w, status, generateResponse{
		GenerationID: job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
	})
}

func parseMultipartBrief(r *http.Request) (*models.GenerationRequest, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("parsing form: %w", err)
	}

	req := &models.GenerationRequest{
		SiteName:    r.FormValue("site_name"),
		Description: r.FormValue("description"),
		Style:       models.Style(r.FormValue("style")),
		Theme:       models.Theme(r.FormValue("theme")),
	}
	if req.Style == "" {
		req.Style = models.StyleModern
	}
	if req.Theme == "" {
		req.Theme = models.ThemeLight
	}

	devices := r.FormValue("target_devices")
	if devices == "" {
		devices = "mobile,tablet,desktop"
	}
	for _, d := range strings.Split(devices, ",") {
		req.TargetDevices = append(req.TargetDevices, models.Breakpoint(strings.TrimSpace(d)))
	}

	req.SEOEnabled, _ = strconv.ParseBool(r.FormValue("seo_enabled"))
	req.MultiLanguage, _ = strconv.ParseBool(r.FormValue("multi_language"))
	if locales := r.FormValue("locales"); locales != "" {
		for _, l := range strings.Split(locales, ",") {
			req.Locales = append(req.Locales, strings.TrimSpace(l))
		}
	}

	if r.MultipartForm != nil {
		files := r.MultipartForm.File["images"]
		if len(files) > models.MaxImages {
			return nil, fmt.Errorf("too many images: %d (limit %d)", len(files), models.MaxImages)
		}
		for _, fh := range files {
			img, err := readUpload(fh)
			if err != nil {
				return nil, err
			}
			req.Images = append(req.Images, *img)
		}
	}
	return req, nil
}

func readUpload(fh *multipart.FileHeader) (*models.SourceImage, error) {
	if fh.Size > models.MaxImageBytes {
		return nil, fmt.Errorf("image %q exceeds %d bytes", fh.Filename, models.MaxImageBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, models.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload %q: %w", fh.Filename, err)
	}
	if len(data) > models.MaxImageBytes {
		return nil, fmt.Errorf("image %q exceeds %d bytes", fh.Filename, models.MaxImageBytes)
	}
	return &models.SourceImage{Filename: filepath.Base(fh.Filename), Data: data}, nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.engine.GetStatus(id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := h.engine.Cancel(id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation_id": id,
		"status":        status,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.engine.ListJobs()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// handleDownload streams the finished artifact. ?format=zip (default)
// returns the bundle; ?format=html returns the site's entry page.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format := r.URL.Query().Get("format")

	path, err := h.engine.GetArtifact(id, format)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, "generation not found")
		case errors.Is(err, engine.ErrNotReady):
			h.writeError(w, http.StatusConflict, "generation not finished yet")
		case errors.Is(err, engine.ErrJobFailed):
			h.writeError(w, http.StatusGone, err.Error())
		default:
			var verr *engine.ValidationError
			if errors.As(err, &verr) {
				h.writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	switch format {
	case "", "zip":
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="site-%s.zip"`, id))
		http.ServeFile(w, r, path)
	default:
		http.ServeFile(w, r, filepath.Join(path, "index.html"))
	}
}

func (h *Handler) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.engine.Templates()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(templates),
		"templates": templates,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
