package dictstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by PersistentStore.Open for an unknown build.
var ErrNotFound = errors.New("dictionary not found")

const (
	filePrefix = "dict_"
	fileExt    = ".duckdb"
)

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// PersistentStore manages one DuckDB file per finished build in a directory,
// named dict_<buildID>.duckdb. Files found on startup are picked up, so
// dictionaries outlive the process that built them.
type PersistentStore struct {
	dir  string
	opts Options
	log  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string // buildID -> db path, complete builds only
}

// Entry describes one persisted dictionary file.
type Entry struct {
	BuildID  string    `json:"buildId"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// NewPersistentStore creates the directory if needed and scans it for
// existing dictionaries.
func NewPersistentStore(dir string, opts Options) (*PersistentStore, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dictionaries dir: %w", err)
	}

	ps := &PersistentStore{
		dir:   dir,
		opts:  opts,
		log:   opts.Logger.With("component", "dictstore"),
		cache: make(map[string]string),
	}
	ps.scanExisting()
	return ps, nil
}

func (ps *PersistentStore) scanExisting() {
	entries, err := os.ReadDir(ps.dir)
	if err != nil {
		ps.log.Warn("failed to scan dictionaries directory", "dir", ps.dir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := buildIDFromName(entry.Name()); ok {
			ps.cache[id] = filepath.Join(ps.dir, entry.Name())
		}
	}
	ps.log.Info("scanned existing dictionaries", "count", len(ps.cache), "dir", ps.dir)
}

func buildIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != fileExt {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	return id, id != ""
}

// PathFor returns where the dictionary of buildID is (or would be) stored.
func (ps *PersistentStore) PathFor(buildID string) string {
	return filepath.Join(ps.dir, filePrefix+buildID+fileExt)
}

// Has reports whether a complete dictionary exists for buildID.
func (ps *PersistentStore) Has(buildID string) bool {
	ps.mu.RLock()
	path, ok := ps.cache[buildID]
	ps.mu.RUnlock()
	if !ok {
		return false
	}

	// The file may have been removed behind our back.
	if _, err := os.Stat(path); err != nil {
		ps.mu.Lock()
		delete(ps.cache, buildID)
		ps.mu.Unlock()
		return false
	}
	return true
}

// Create starts a new dictionary file for buildID. It only becomes visible
// to Open and List after MarkComplete.
func (ps *PersistentStore) Create(buildID string) (*Store, error) {
	ps.log.Debug("creating dictionary database", "build", shortID(buildID))
	store, err := Create(ps.PathFor(buildID), ps.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create dictionary DB: %w", err)
	}
	return store, nil
}

// MarkComplete publishes a fully saved dictionary.
func (ps *PersistentStore) MarkComplete(buildID string) {
	ps.mu.Lock()
	ps.cache[buildID] = ps.PathFor(buildID)
	ps.mu.Unlock()
	ps.log.Info("dictionary persisted", "build", shortID(buildID))
}

// Open opens a persisted dictionary read-only.
func (ps *PersistentStore) Open(buildID string) (*Store, error) {
	if !ps.Has(buildID) {
		return nil, ErrNotFound
	}
	store, err := OpenReadOnly(ps.PathFor(buildID), ps.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary DB: %w", err)
	}
	return store, nil
}

// Delete removes the dictionary of buildID. Deleting an unknown build is not an error.
func (ps *PersistentStore) Delete(buildID string) error {
	ps.mu.Lock()
	delete(ps.cache, buildID)
	ps.mu.Unlock()

	path := ps.PathFor(buildID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete dictionary DB: %w", err)
	}
	// DuckDB may leave a write-ahead log next to the file.
	os.Remove(path + ".wal")

	ps.log.Info("dictionary deleted", "build", shortID(buildID))
	return nil
}

// List returns the persisted dictionaries, newest first.
func (ps *PersistentStore) List() []Entry {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]Entry, 0, len(ps.cache))
	for id, path := range ps.cache {
		info, err := os.Stat(path)
		if err != nil {
			// File missing, remove from cache
			delete(ps.cache, id)
			continue
		}
		out = append(out, Entry{BuildID: id, Size: info.Size(), Modified: info.ModTime()})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return strings.Compare(a.BuildID, b.BuildID)
	})
	return out
}

// Stats returns statistics about the persisted dictionaries.
func (ps *PersistentStore) Stats() map[string]any {
	var total int64
	entries := ps.List()
	for _, e := range entries {
		total += e.Size
	}
	return map[string]any{
		"count":     len(entries),
		"totalSize": total,
		"dir":       ps.dir,
	}
}

// CleanupOrphaned removes dictionaries whose build is not in keep and
// returns how many were removed.
func (ps *PersistentStore) CleanupOrphaned(keep []string) int {
	valid := make(map[string]bool, len(keep))
	for _, id := range keep {
		valid[id] = true
	}

	ps.mu.RLock()
	var orphaned []string
	for id := range ps.cache {
		if !valid[id] {
			orphaned = append(orphaned, id)
		}
	}
	ps.mu.RUnlock()

	removed := 0
	for _, id := range orphaned {
		if err := ps.Delete(id); err == nil {
			removed++
		}
	}
	return removed
}
