package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cursorFile persists the sequence number of the last replication log this
// replica has replayed (including the logs it wrote itself), so a restart
// resumes replay instead of replaying from the beginning. It uses the same
// write-temp/fsync/rename technique as memengine.Engine.Checkpoint.
const cursorFile = "last_revision"

func readCursor(dataDir string) (int64, error) {
	if dataDir == "" {
		return 0, nil
	}
	data, err := os.ReadFile(filepath.Join(dataDir, cursorFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("executor: parse cursor: %w", err)
	}
	return seq, nil
}

func writeCursor(dataDir string, seq int64) error {
	if dataDir == "" {
		return nil
	}
	path := filepath.Join(dataDir, cursorFile)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d", seq); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
