package attachment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/config"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/spf13/afero"
)

// ErrFileNotFound is returned by Open when a document's file is missing.
var ErrFileNotFound = errors.New("attachment file not found")

const (
	octetStream = "application/octet-stream"
	sniffLen    = 3072
)

// Upload describes one incoming file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Manager writes, opens and deletes attachment files.
type Manager struct {
	fs           afero.Fs
	root         string
	publicPrefix string
	maxFileSize  int64
	now          func() time.Time
	logger       *slog.Logger
}

// NewManager creates the uploads root if needed and returns a Manager using it.
func NewManager(fs afero.Fs, cfg config.StorageConfig, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	exists, err := afero.DirExists(fs, cfg.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect uploads directory %q: %w", cfg.UploadsDir, err)
	}
	if !exists {
		if err := fs.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create uploads directory %q: %w", cfg.UploadsDir, err)
		}
	}
	return &Manager{
		fs:           fs,
		root:         cfg.UploadsDir,
		publicPrefix: strings.TrimRight(cfg.PublicPrefix, "/"),
		maxFileSize:  cfg.MaxFileSize,
		now:          time.Now,
		logger:       log.With(slog.String("component", "attachments")),
	}, nil
}

// Save stores every upload and returns the resulting documents in order.
// At most domain.MaxDocumentsPerUpload files are accepted per call. If any
// file fails, files already written by this call are removed.
func (m *Manager) Save(ctx context.Context, uploads []Upload) ([]domain.AttachedDocument, error) {
	if len(uploads) > domain.MaxDocumentsPerUpload {
		return nil, domain.NewValidationError("documents",
			fmt.Sprintf("A maximum of %d documents can be uploaded at once", domain.MaxDocumentsPerUpload))
	}

	docs := make([]domain.AttachedDocument, 0, len(uploads))
	for _, u := range uploads {
		doc, err := m.saveOne(u)
		if err != nil {
			m.RemoveAll(ctx, docs)
			return nil, err
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		logger.FromContextOrDefault(ctx, m.logger).Debug("stored attachments", slog.Int("count", len(docs)))
	}
	return docs, nil
}

func (m *Manager) saveOne(u Upload) (domain.AttachedDocument, error) {
	name := filepath.Base(strings.ReplaceAll(u.FileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return domain.AttachedDocument{}, domain.NewValidationError("documents", "File name is required")
	}
	if m.maxFileSize > 0 && u.Size > m.maxFileSize {
		return domain.AttachedDocument{}, m.tooLarge(name)
	}

	src, err := u.Open()
	if err != nil {
		return domain.AttachedDocument{}, fmt.Errorf("failed to open upload %q: %w", name, err)
	}
	defer func() { _ = src.Close() }()

	now := m.now().UTC()
	key := fmt.Sprintf("%d-%s%s", now.UnixNano(), uuid.New(), strings.ToLower(filepath.Ext(name)))

	br := bufio.NewReaderSize(src, sniffLen)
	head, _ := br.Peek(sniffLen)
	fileType := resolveContentType(u.ContentType, head)

	dst, err := m.fs.OpenFile(m.pathFor(key), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return domain.AttachedDocument{}, fmt.Errorf("failed to create attachment file: %w", err)
	}

	var r io.Reader = br
	if m.maxFileSize > 0 {
		r = io.LimitReader(br, m.maxFileSize+1)
	}
	written, copyErr := io.Copy(dst, r)
	closeErr := dst.Close()

	switch {
	case copyErr != nil || closeErr != nil:
		_ = m.fs.Remove(m.pathFor(key))
		return domain.AttachedDocument{}, fmt.Errorf("failed to write attachment file: %w", errors.Join(copyErr, closeErr))
	case m.maxFileSize > 0 && written > m.maxFileSize:
		_ = m.fs.Remove(m.pathFor(key))
		return domain.AttachedDocument{}, m.tooLarge(name)
	}

	return domain.AttachedDocument{
		ID:        uuid.New(),
		FileName:  name,
		FilePath:  key,
		FileType:  fileType,
		FileSize:  written,
		CreatedAt: now,
	}, nil
}

func (m *Manager) tooLarge(name string) error {
	return domain.NewValidationError("documents",
		fmt.Sprintf("%s exceeds the maximum size of %s", name, domain.HumanFileSize(m.maxFileSize)))
}

// resolveContentType prefers the declared media type unless it is missing or
// the generic octet-stream, in which case the content is sniffed.
func resolveContentType(declared string, head []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != octetStream {
			return mediaType
		}
	}
	return mimetype.Detect(head).String()
}

// Remove deletes the file backing doc. Failures are logged and reported as
// false; a file that is already gone counts as removed.
func (m *Manager) Remove(ctx context.Context, doc domain.AttachedDocument) bool {
	log := logger.FromContextOrDefault(ctx, m.logger)

	err := m.fs.Remove(m.pathFor(doc.FilePath))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return true
	}
	log.Warn("failed to delete attachment file",
		slog.String("document_id", doc.ID.String()),
		slog.String("file_path", doc.FilePath),
		slog.String("error", err.Error()))
	return false
}

// RemoveAll deletes the files of all docs and returns how many were removed.
func (m *Manager) RemoveAll(ctx context.Context, docs []domain.AttachedDocument) int {
	removed := 0
	for _, d := range docs {
		if m.Remove(ctx, d) {
			removed++
		}
	}
	return removed
}

// Open returns the file backing doc, or ErrFileNotFound.
func (m *Manager) Open(ctx context.Context, doc domain.AttachedDocument) (afero.File, error) {
	f, err := m.fs.Open(m.pathFor(doc.FilePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open attachment file: %w", err)
	}
	return f, nil
}

// PublicURL is the static URL under which the file of doc is served.
func (m *Manager) PublicURL(doc domain.AttachedDocument) string {
	return m.publicPrefix + "/" + filepath.Base(doc.FilePath)
}

// Handler serves the uploads root read-only. Mount it under the public prefix.
func (m *Manager) Handler() http.Handler {
	return http.StripPrefix(m.publicPrefix, http.FileServer(afero.NewHttpFs(m.fs).Dir(m.root)))
}

// pathFor confines a storage key to the uploads root.
func (m *Manager) pathFor(key string) string {
	return filepath.Join(m.root, filepath.Base(key))
}
