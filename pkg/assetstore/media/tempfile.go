package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WithTempFile spills r into a temp file carrying the original extension
// (ffmpeg sniffs the container from it), invokes fn with the path, and
// removes the file on every exit path.
func WithTempFile(r io.Reader, filename string, fn func(path string) error) error {
	tmp, err := os.CreateTemp("", "assetstore-*"+filepath.Ext(filename))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return fn(path)
}

// TempOutputPath reserves a temp path for a tool that writes its own output
// file. The caller removes it via the returned cleanup func.
func TempOutputPath(ext string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "assetstore-out-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("create temp output: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	return path, func() { os.Remove(path) }, nil
}
