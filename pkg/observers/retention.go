package observers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PurgeTimelines removes session timelines in dir last written before
// now-maxAge and reports how many went. A missing dir is not an error.
func PurgeTimelines(dir string, maxAge time.Duration, now time.Time) (int, error) {
	return purgeTimelines(dir, maxAge, now, nil)
}

// Purge is PurgeTimelines over the observer's dir, skipping the files of
// sessions that have not ended yet.
func (o *TimelineObserver) Purge(maxAge time.Duration, now time.Time) (int, error) {
	return purgeTimelines(o.dir, maxAge, now, func(name string) bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		_, open := o.files[strings.TrimSuffix(name, ".jsonl")]
		return open
	})
}

func purgeTimelines(dir string, maxAge time.Duration, now time.Time, inUse func(string) bool) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var (
		removed int
		errs    error
	)
	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".jsonl" || (inUse != nil && inUse(name)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
