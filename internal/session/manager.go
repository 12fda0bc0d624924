package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/dictstore"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/models"
	"github.com/logdict/backend/internal/parser"
	"github.com/logdict/backend/internal/storage"
)

// DefaultMaxSessions limits retained sessions to bound memory use.
const DefaultMaxSessions = 10

// SessionMaxAge is how long to keep finished sessions before cleanup
const SessionMaxAge = 30 * time.Minute

// ErrTooManyBuilds is returned when every retained session is still running.
var ErrTooManyBuilds = errors.New("too many builds in progress")

// ErrNotFound is returned for an unknown build id.
var ErrNotFound = errors.New("build not found")

// Progress bands of a build, in percent.
const (
	progressReadStart  = 5.0
	progressBuildStart = 40.0
	progressPersist    = 90.0
)

var activeBuilds = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "logdict_active_builds",
	Help: "Dictionary builds currently running",
})

// Config wires a Manager.
type Config struct {
	Workers           int
	MaxWorkers        int // per-request ceiling, at most dictionary.MaxWorkers
	Shards            int
	DefaultFormat     string
	TolerateMalformed bool
	Persist           bool
	MaxSessions       int

	Registry *parser.Registry
	Store    *dictstore.PersistentStore // nil disables persistence
	Files    storage.Store              // optional, receives file status updates
	Logger   *slog.Logger
}

// Manager runs dictionary builds in the background and keeps their results.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	pool     *dictionary.Pool
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

// SessionState holds the session metadata and, once complete, its dictionary.
type SessionState struct {
	Session      *models.BuildSession
	Result       *dictionary.Result
	Snapshot     *export.Snapshot
	LastAccessed time.Time
	done         chan struct{}
}

// NewManager creates a session manager with a worker pool shared by every
// build that uses the configured worker count.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Workers == 0 {
		cfg.Workers = dictionary.DefaultWorkers
	}
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > dictionary.MaxWorkers {
		cfg.MaxWorkers = dictionary.MaxWorkers
	}
	if cfg.Workers > cfg.MaxWorkers {
		return nil, &dictionary.ConfigurationError{Field: "workers", Value: cfg.Workers, Reason: fmt.Sprintf("must be at most %d", cfg.MaxWorkers)}
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Registry == nil {
		cfg.Registry = parser.GetGlobalRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pool, err := dictionary.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "session"),
		pool:     pool,
		sessions: make(map[string]*SessionState),
	}, nil
}

// Close stops the shared worker pool after running builds drain.
func (m *Manager) Close() {
	m.pool.Close()
}

// StartBuild validates req and begins building the dictionary of the file at
// filePath in a background goroutine.
func (m *Manager) StartBuild(fileID, filePath string, req models.BuildRequest) (*models.BuildSession, error) {
	if req.Workers < 0 {
		return nil, &dictionary.ConfigurationError{Field: "workers", Value: req.Workers, Reason: "must be at least 1"}
	}
	if req.Workers > m.cfg.MaxWorkers {
		return nil, &dictionary.ConfigurationError{Field: "workers", Value: req.Workers, Reason: fmt.Sprintf("must be at most %d", m.cfg.MaxWorkers)}
	}
	if req.Format == "" {
		req.Format = m.cfg.DefaultFormat
	}
	// Named formats are checked now; "auto" needs the file content.
	if !strings.EqualFold(strings.TrimSpace(req.Format), parser.FormatAuto) {
		if _, err := m.cfg.Registry.Resolve(req.Format, nil); err != nil {
			return nil, err
		}
	}

	if err := m.cleanupOldSessionsIfNeeded(); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	session := models.NewBuildSession(sessionID, fileID)
	session.Format = req.Format
	session.Workers = req.Workers
	if session.Workers == 0 {
		session.Workers = m.cfg.Workers
	}
	session.StartTime = time.Now().UnixMilli()

	state := &SessionState{
		Session:      session,
		LastAccessed: time.Now(),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	m.mu.Unlock()

	m.setFileStatus(fileID, models.FileStatusBuilding)

	// Run the build in a background goroutine
	go m.runBuild(state, filePath, req)

	return copySession(session), nil
}

func (m *Manager) runBuild(state *SessionState, filePath string, req models.BuildRequest) {
	sessionID := state.Session.ID
	fileID := state.Session.FileID
	log := m.log.With("build", shortID(sessionID))

	activeBuilds.Inc()
	defer activeBuilds.Dec()
	defer close(state.done)

	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			log.Error("build panicked", "panic", r)
			m.updateSessionError(sessionID, []models.BuildError{{Reason: fmt.Sprintf("build panicked: %v", r)}})
			m.setFileStatus(fileID, models.FileStatusError)
		}
	}()

	start := time.Now()
	log.Info("starting build", "path", filePath, "format", req.Format, "workers", state.Session.Workers)

	m.update(sessionID, func(s *models.BuildSession) {
		s.Status = models.BuildStatusReading
		s.Progress = progressReadStart
	})

	lines, readStats, err := parser.ReadLines(filePath, func(n int, bytesRead, totalBytes int64) {
		progress := progressReadStart
		if totalBytes > 0 {
			progress += float64(bytesRead) * (progressBuildStart - progressReadStart) / float64(totalBytes)
		}
		m.update(sessionID, func(s *models.BuildSession) {
			s.Progress = min(progress, progressBuildStart)
			s.LineCount = n
		})
	})
	if err != nil {
		log.Error("read failed", "error", err)
		m.fail(sessionID, fileID, fmt.Errorf("read failed: %w", err))
		return
	}
	if readStats.Dropped > 0 {
		log.Warn("dropped lines that are not valid UTF-8", "count", readStats.Dropped)
	}

	tok, err := m.cfg.Registry.Resolve(req.Format, lines)
	if err != nil {
		log.Error("no tokenizer", "error", err)
		m.fail(sessionID, fileID, err)
		return
	}
	formatName := parser.ResolvedName(tok)

	m.update(sessionID, func(s *models.BuildSession) {
		s.Status = models.BuildStatusBuilding
		s.Progress = progressBuildStart
		s.Format = formatName
		s.LineCount = len(lines)
		s.DroppedLines = readStats.Dropped
	})

	opts := dictionary.Options{
		Workers:           state.Session.Workers,
		Shards:            m.cfg.Shards,
		Tokenizer:         tok,
		TolerateMalformed: req.TolerateMalformed || m.cfg.TolerateMalformed,
		Logger:            log,
		OnChunkDone: func(done, total int) {
			progress := progressBuildStart + float64(done)*(progressPersist-progressBuildStart)/float64(total)
			m.update(sessionID, func(s *models.BuildSession) {
				s.Progress = max(s.Progress, progress)
			})
		},
	}
	if opts.Workers == m.pool.Size() {
		opts.Pool = m.pool
	}

	res, err := dictionary.Build(lines, opts)
	if err != nil {
		m.fail(sessionID, fileID, err)
		return
	}

	snap := export.FromResult(res)
	snap.BuildID = sessionID
	snap.Format = formatName

	var persistErr error
	persisted := false
	if m.shouldPersist(req) {
		m.update(sessionID, func(s *models.BuildSession) {
			s.Status = models.BuildStatusPersisting
			s.Progress = progressPersist
		})
		if persistErr = m.persist(sessionID, snap); persistErr != nil {
			log.Error("persist failed", "error", persistErr)
		} else {
			persisted = true
		}
	}

	elapsed := time.Since(start)
	stats := res.Stats()

	m.mu.Lock()
	state.Result = res
	state.Snapshot = snap
	s := state.Session
	s.Status = models.BuildStatusComplete
	s.Progress = 100
	s.SkippedLines = stats.Skipped
	s.TokenCount = stats.Tokens
	s.PairCount = res.PairLen()
	s.TripleCount = res.TripleLen()
	s.VocabularySize = res.VocabularyLen()
	s.Persisted = persisted
	s.ProcessingTimeMs = elapsed.Milliseconds()
	s.EndTime = time.Now().UnixMilli()
	if persistErr != nil {
		s.Errors = append(s.Errors, models.BuildError{Reason: fmt.Sprintf("persist failed: %v", persistErr)})
	}
	m.mu.Unlock()

	m.setFileStatus(fileID, models.FileStatusBuilt)
	log.Info("build complete",
		"lines", len(lines),
		"pairs", res.PairLen(),
		"triples", res.TripleLen(),
		"vocabulary", res.VocabularyLen(),
		"persisted", persisted,
		"elapsed", elapsed.Round(time.Millisecond))
}

func (m *Manager) shouldPersist(req models.BuildRequest) bool {
	if m.cfg.Store == nil {
		return false
	}
	if req.Persist != nil {
		return *req.Persist
	}
	return m.cfg.Persist
}

func (m *Manager) persist(buildID string, snap *export.Snapshot) error {
	store, err := m.cfg.Store.Create(buildID)
	if err != nil {
		return err
	}
	if err := store.Save(context.Background(), snap); err != nil {
		m.discardPartial(buildID, store)
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	m.cfg.Store.MarkComplete(buildID)
	return nil
}

// discardPartial closes and removes a dictionary whose save failed.
func (m *Manager) discardPartial(buildID string, store *dictstore.Store) {
	log := m.log.With("build", shortID(buildID))
	if err := store.Close(); err != nil {
		log.Warn("failed to close partial dictionary", "path", store.Path(), "error", err)
	}
	if err := m.cfg.Store.Delete(buildID); err != nil {
		log.Error("failed to remove partial dictionary", "path", m.cfg.Store.PathFor(buildID), "error", err)
	}
}

func (m *Manager) fail(sessionID, fileID string, err error) {
	m.updateSessionError(sessionID, buildErrors(err))
	m.setFileStatus(fileID, models.FileStatusError)
}

// buildErrors flattens a joined build error into one entry per failure.
func buildErrors(err error) []models.BuildError {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	out := make([]models.BuildError, 0, len(errs))
	for _, e := range errs {
		var taskErr *dictionary.WorkerTaskError
		if errors.As(e, &taskErr) {
			out = append(out, models.BuildError{Chunk: taskErr.Chunk, Line: taskErr.Line, Reason: taskErr.Err.Error()})
			continue
		}
		out = append(out, models.BuildError{Reason: e.Error()})
	}
	return out
}

func (m *Manager) update(sessionID string, fn func(*models.BuildSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.sessions[sessionID]; ok {
		fn(state.Session)
	}
}

func (m *Manager) updateSessionError(sessionID string, errs []models.BuildError) {
	m.update(sessionID, func(s *models.BuildSession) {
		s.Status = models.BuildStatusError
		s.EndTime = time.Now().UnixMilli()
		s.ProcessingTimeMs = s.EndTime - s.StartTime
		s.Errors = append(s.Errors, errs...)
	})
}

func (m *Manager) setFileStatus(fileID, status string) {
	if m.cfg.Files == nil {
		return
	}
	if err := m.cfg.Files.SetStatus(fileID, status); err != nil {
		m.log.Debug("file status not updated", "file", shortID(fileID), "error", err)
	}
}

// cleanupOldSessionsIfNeeded evicts the oldest finished sessions when the
// manager is at capacity.
func (m *Manager) cleanupOldSessionsIfNeeded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.cfg.MaxSessions {
		return nil
	}

	var finished []*SessionState
	for _, state := range m.sessions {
		if state.Session.Status.Done() {
			finished = append(finished, state)
		}
	}
	slices.SortFunc(finished, func(a, b *SessionState) int {
		return a.LastAccessed.Compare(b.LastAccessed)
	})

	toFree := len(m.sessions) - m.cfg.MaxSessions + 1
	if len(finished) < toFree {
		return fmt.Errorf("%w (limit %d)", ErrTooManyBuilds, m.cfg.MaxSessions)
	}
	for _, state := range finished[:toFree] {
		delete(m.sessions, state.Session.ID)
		m.log.Info("evicted session to free memory", "build", shortID(state.Session.ID))
	}
	return nil
}

// CleanupOldSessions removes finished sessions not accessed within maxAge.
// Persisted dictionaries stay on disk.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)

	removed := 0
	for id, state := range m.sessions {
		if !state.Session.Status.Done() {
			continue
		}
		// LastAccessed is bumped by every poll, so sessions in use never age out.
		if !state.LastAccessed.After(cutoff) {
			delete(m.sessions, id)
			removed++
			m.log.Info("cleaned up aged session", "build", shortID(id),
				"idle", now.Sub(state.LastAccessed).Round(time.Second))
		}
	}
	return removed
}

// RunJanitor calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

// GetSession returns a snapshot of the session metadata.
func (m *Manager) GetSession(id string) (*models.BuildSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(state.Session), true
}

// List returns every retained session, newest first.
func (m *Manager) List() []*models.BuildSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.BuildSession, 0, len(m.sessions))
	for _, state := range m.sessions {
		out = append(out, copySession(state.Session))
	}
	slices.SortFunc(out, func(a, b *models.BuildSession) int {
		return cmp.Compare(b.StartTime, a.StartTime)
	})
	return out
}

// TouchSession updates the last accessed time to keep a session alive.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// GetResult returns the dictionary of a complete build.
func (m *Manager) GetResult(id string) (*dictionary.Result, *export.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok || state.Session.Status != models.BuildStatusComplete {
		return nil, nil, false
	}
	state.LastAccessed = time.Now()
	return state.Result, state.Snapshot, true
}

// Wait blocks until the build finishes or ctx is done and returns the final
// session.
func (m *Manager) Wait(ctx context.Context, id string) (*models.BuildSession, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case <-state.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s, ok := m.GetSession(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func copySession(s *models.BuildSession) *models.BuildSession {
	cp := *s
	cp.Errors = slices.Clone(s.Errors)
	return &cp
}

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
