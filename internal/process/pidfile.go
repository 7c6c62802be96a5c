package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// pidMeta is the optional second line of a pid file.
type pidMeta struct {
	StartUnix int64  `json:"start_unix"`
	Program   string `json:"program,omitempty"`
}

// writePIDFile writes "<pid>\n{meta}\n" atomically via a temp file and rename.
func writePIDFile(path string, pid int, program string, started time.Time) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	meta, err := json.Marshal(pidMeta{StartUnix: started.Unix(), Program: program})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"+string(meta)+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadPIDFile returns the pid recorded in path. Files holding only the pid
// line are accepted.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	return pid, nil
}

// StalePID reports a live process left behind by an earlier supervisor,
// as recorded in path. A missing file is not an error.
func StalePID(path string) (int, bool, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pid, pidAlive(pid), nil
}

func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
