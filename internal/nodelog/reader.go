package nodelog

import (
	"os"
	"path/filepath"

	"github.com/loykin/nodevisor/internal/nodeerr"
)

// Reader returns the captured node log on demand. It keeps no position
// between calls; every Read returns the whole file as it is right now.
type Reader struct {
	path string
}

func NewReader(path string) *Reader { return &Reader{path: path} }

func (r *Reader) Path() string { return r.path }

func (r *Reader) Read() (string, error) {
	b, err := os.ReadFile(filepath.Clean(r.path))
	if err != nil {
		return "", nodeerr.FromIO(err)
	}
	return string(b), nil
}
