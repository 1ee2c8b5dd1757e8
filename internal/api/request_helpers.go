package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/api/shared"
	"github.com/phrazzld/taskboard-api/internal/attachment"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// documentsField is the multipart field carrying task attachments.
const documentsField = "documents"

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// principalFromRequest returns the authenticated caller placed in the
// context by the auth middleware, writing a 401 when there is none.
func principalFromRequest(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		logger.FromContextOrDefault(r.Context(), slog.Default()).
			Warn("principal not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Not authorized, no token")
		return domain.Principal{}, false
	}
	return p, true
}

// getPathUUID parses a UUID path parameter. A missing or malformed value is
// reported as notFound, since no entity can have such an ID.
func getPathUUID(r *http.Request, paramName string, notFound error) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	id, err := uuid.Parse(raw)
	if raw == "" || err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", notFound, domain.ErrInvalidID)
	}
	return id, nil
}

// taskListParams reads the listing query string.
func taskListParams(r *http.Request) store.TaskListParams {
	q := r.URL.Query()
	return store.TaskListParams{
		Page:       q.Get("page"),
		Limit:      q.Get("limit"),
		Status:     q.Get("status"),
		Priority:   q.Get("priority"),
		AssignedTo: q.Get("assignedTo"),
		FromDate:   q.Get("fromDate"),
		ToDate:     q.Get("toDate"),
		SortBy:     q.Get("sortBy"),
	}
}

// taskRequest is a decoded task create or update.
type taskRequest struct {
	Input   service.TaskInput
	Uploads []attachment.Upload
	form    *http.Request
}

// Close releases temporary files held by a multipart form.
func (t *taskRequest) Close() {
	if t.form != nil && t.form.MultipartForm != nil {
		_ = t.form.MultipartForm.RemoveAll()
	}
}

// parseTaskRequest decodes either a multipart form with up to maxBody bytes
// or a JSON body. An empty JSON body is an empty input.
func parseTaskRequest(w http.ResponseWriter, r *http.Request, maxBody int64) (*taskRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req TaskRequest
		if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			return nil, errMalformedBody
		}
		return &taskRequest{Input: req.input()}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewValidationError(documentsField, "Upload exceeds the maximum allowed size")
		}
		return nil, errMalformedBody
	}

	form := r.MultipartForm
	req := TaskRequest{
		Title:       formValue(form.Value, "title"),
		Description: formValue(form.Value, "description"),
		Status:      formValue(form.Value, "status"),
		Priority:    formValue(form.Value, "priority"),
		DueDate:     formValue(form.Value, "dueDate"),
		AssignedTo:  formValue(form.Value, "assignedTo"),
	}

	out := &taskRequest{Input: req.input(), form: r}
	for _, fh := range form.File[documentsField] {
		out.Uploads = append(out.Uploads, attachment.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return out, nil
}

var errMalformedBody = errors.New("malformed request body")

func formValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
