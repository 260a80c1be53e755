package timeshift

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RemoveOrphans deletes ring buffer files left behind by prior runs.
// Files whose names appear in inUse are skipped; everything else
// matching the naming prefix is removed. This recovers disk space, not
// data. Returns the number of files removed.
func RemoveOrphans(dir string, inUse map[string]struct{}, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("unable to scan timeshift directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, FilePrefix) {
			continue
		}
		if _, active := inUse[name]; active {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			logger.Warn("unable to remove orphaned timeshift file",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		logger.Info("removed orphaned timeshift file", slog.String("file", name))
		removed++
	}

	return removed
}
