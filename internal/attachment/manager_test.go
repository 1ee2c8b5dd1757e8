package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/taskboard-api/internal/config"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxSize int64) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	log, _ := logger.NewTestLogger()
	m, err := NewManager(fs, config.StorageConfig{
		UploadsDir:   "/data/uploads",
		PublicPrefix: "/uploads/",
		MaxFileSize:  maxSize,
	}, log)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Unix(1700000000, 42) }
	return m, fs
}

func upload(name, contentType, body string) Upload {
	return Upload{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestSave_StoresFilesUnderGeneratedKeys(t *testing.T) {
	m, fs := newTestManager(t, 1024)

	docs, err := m.Save(context.Background(), []Upload{
		upload("Report.PDF", "application/pdf", "%PDF-1.4 data"),
		upload("../../etc/notes.txt", "text/plain; charset=utf-8", "hello"),
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "Report.PDF", docs[0].FileName)
	assert.Equal(t, "application/pdf", docs[0].FileType)
	assert.Equal(t, int64(13), docs[0].FileSize)
	assert.True(t, strings.HasPrefix(docs[0].FilePath, "1700000000000000042-"))
	assert.True(t, strings.HasSuffix(docs[0].FilePath, ".pdf"))

	assert.Equal(t, "notes.txt", docs[1].FileName)
	assert.Equal(t, "text/plain", docs[1].FileType)
	assert.NotEqual(t, docs[0].FilePath, docs[1].FilePath)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)

	data, err := afero.ReadFile(fs, "/data/uploads/"+docs[1].FilePath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "/uploads/"+docs[1].FilePath, m.PublicURL(docs[1]))
}

func TestSave_SniffsGenericContentType(t *testing.T) {
	m, _ := newTestManager(t, 0)

	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32)
	docs, err := m.Save(context.Background(), []Upload{
		upload("image.bin", "application/octet-stream", png),
		upload("plain", "", "just some text"),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", docs[0].FileType)
	assert.True(t, strings.HasPrefix(docs[1].FileType, "text/plain"))
}

func TestSave_RejectsTooManyFiles(t *testing.T) {
	m, fs := newTestManager(t, 0)

	uploads := make([]Upload, domain.MaxDocumentsPerUpload+1)
	for i := range uploads {
		uploads[i] = upload("f.txt", "text/plain", "x")
	}
	_, err := m.Save(context.Background(), uploads)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	entries, err := afero.ReadDir(fs, "/data/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_OversizedFileRollsBackEarlierFiles(t *testing.T) {
	m, fs := newTestManager(t, 8)

	big := upload("big.txt", "text/plain", strings.Repeat("a", 20))
	big.Size = 0 // size unknown up front; enforced while copying

	_, err := m.Save(context.Background(), []Upload{
		upload("small.txt", "text/plain", "ok"),
		big,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	entries, err := afero.ReadDir(fs, "/data/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_OpenFailure(t *testing.T) {
	m, _ := newTestManager(t, 0)

	boom := errors.New("boom")
	_, err := m.Save(context.Background(), []Upload{{
		FileName: "a.txt",
		Open:     func() (io.ReadCloser, error) { return nil, boom },
	}})
	assert.ErrorIs(t, err, boom)
}

func TestRemoveAndOpen(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	docs, err := m.Save(ctx, []Upload{upload("a.txt", "text/plain", "abc")})
	require.NoError(t, err)

	f, err := m.Open(ctx, docs[0])
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "abc", string(data))

	assert.True(t, m.Remove(ctx, docs[0]))
	// already gone still counts as removed
	assert.Equal(t, 1, m.RemoveAll(ctx, docs))

	_, err = m.Open(ctx, docs[0])
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRemove_FailureIsLoggedNotReturned(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, buf := logger.NewTestLogger()
	m, err := NewManager(fs, config.StorageConfig{UploadsDir: "/u", PublicPrefix: "/uploads"}, log)
	require.NoError(t, err)

	docs, err := m.Save(context.Background(), []Upload{upload("a.txt", "text/plain", "abc")})
	require.NoError(t, err)

	m.fs = afero.NewReadOnlyFs(fs)
	assert.False(t, m.Remove(context.Background(), docs[0]))
	assert.Contains(t, buf.String(), "failed to delete attachment file")
}

func TestOpen_ConfinesKeysToRoot(t *testing.T) {
	m, fs := newTestManager(t, 0)
	require.NoError(t, afero.WriteFile(fs, "/data/secret.txt", []byte("nope"), 0o644))

	_, err := m.Open(context.Background(), domain.AttachedDocument{FilePath: "../secret.txt"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}
