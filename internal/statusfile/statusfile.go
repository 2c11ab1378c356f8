// Package statusfile mirrors the reported door state into a file that other
// processes can poll.
package statusfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultPath is where the status file lives unless configured otherwise.
const DefaultPath = "/var/run/garagedoorstatus"

// Writer replaces the status file with a single token per write.
// Readers never observe a partially written file.
type Writer struct {
	path string
}

// New returns a Writer for path.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Write stores token followed by a newline.
func (w *Writer) Write(token string) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return errors.Wrap(err, "create status temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token + "\n"); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write status")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod status")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close status temp file")
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return errors.Wrapf(err, "replace %s", w.path)
	}
	return nil
}
