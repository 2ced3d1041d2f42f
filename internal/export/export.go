// Package export writes accepted posts to timestamped text files.
package export

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

// Exporter writes posts under a directory.
type Exporter struct {
	dir string
	now func() time.Time
}

// New creates an exporter writing into dir. now defaults to time.Now.
func New(dir string, now func() time.Time) *Exporter {
	if now == nil {
		now = time.Now
	}
	return &Exporter{dir: dir, now: now}
}

// Export writes text to <dir>/socialmedia_post_<YYYYMMDD_HHMMSS>.txt and
// returns the path. A file from the same second is replaced.
func (e *Exporter) Export(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", pgerrors.NewInputError(pgerrors.CodeMissingInput, "nothing to export")
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to create export directory", err)
	}

	path := filepath.Join(e.dir, "socialmedia_post_"+e.now().Format("20060102_150405")+".txt")
	tmp, err := os.CreateTemp(e.dir, ".export-*")
	if err != nil {
		return "", pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to create export file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return "", pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to write export file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to write export file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to publish export file", err)
	}
	return path, nil
}
