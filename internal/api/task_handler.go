package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/phrazzld/taskboard-api/internal/api/shared"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// multipartOverhead covers form fields and part headers on top of the
// documents themselves.
const multipartOverhead = 1 << 20

// TaskHandler handles task and attached document requests.
type TaskHandler struct {
	tasks   service.TaskService
	maxBody int64
	logger  *slog.Logger
}

// NewTaskHandler creates a TaskHandler. maxFileSize is the per-document
// limit and bounds the accepted request size.
func NewTaskHandler(tasks service.TaskService, maxFileSize int64, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		tasks:   tasks,
		maxBody: maxFileSize*domain.MaxDocumentsPerUpload + multipartOverhead,
		logger:  log.With(slog.String("handler", "task")),
	}
}

// List handles GET /api/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	page, err := h.tasks.List(r.Context(), p, taskListParams(r))
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, page)
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	taskID, err := getPathUUID(r, "id", store.ErrTaskNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	task, err := h.tasks.Get(r.Context(), p, taskID)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// Create handles POST /api/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	defer req.Close()

	task, err := h.tasks.Create(r.Context(), p, req.Input, req.Uploads)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// Update handles PUT /api/tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	taskID, err := getPathUUID(r, "id", store.ErrTaskNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	defer req.Close()

	task, err := h.tasks.Update(r.Context(), p, taskID, req.Input, req.Uploads)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// Delete handles DELETE /api/tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	taskID, err := getPathUUID(r, "id", store.ErrTaskNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	if err := h.tasks.Delete(r.Context(), p, taskID); err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithMessage(w, r, http.StatusOK, "Task deleted successfully")
}

// RemoveDocument handles DELETE /api/tasks/{id}/documents/{docId}.
func (h *TaskHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	taskID, err := getPathUUID(r, "id", store.ErrTaskNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	docID, err := getPathUUID(r, "docId", store.ErrDocumentNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	if _, err := h.tasks.RemoveDocument(r.Context(), p, taskID, docID); err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithMessage(w, r, http.StatusOK, "Document removed successfully")
}

// DownloadDocument handles GET /api/tasks/{id}/documents/{docId}/download.
func (h *TaskHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	taskID, err := getPathUUID(r, "id", store.ErrTaskNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	docID, err := getPathUUID(r, "docId", store.ErrDocumentNotFound)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	doc, err := h.tasks.OpenDocument(r.Context(), p, taskID, docID)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	defer func() {
		if cerr := doc.File.Close(); cerr != nil {
			logger.FromContextOrDefault(r.Context(), h.logger).
				Warn("failed to close attachment file", slog.String("error", cerr.Error()))
		}
	}()

	w.Header().Set("Content-Type", doc.Document.FileType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": doc.Document.FileName}))
	http.ServeContent(w, r, doc.Document.FileName, doc.Document.CreatedAt, doc.File)
}

// parse decodes the task payload, writing the error response on failure.
func (h *TaskHandler) parse(w http.ResponseWriter, r *http.Request) (*taskRequest, bool) {
	req, err := parseTaskRequest(w, r, h.maxBody)
	if err != nil {
		if errors.Is(err, errMalformedBody) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		} else {
			HandleAPIError(w, r, err)
		}
		return nil, false
	}
	return req, true
}
