// Package dictstore persists finished dictionaries in DuckDB files.
package dictstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/export"
)

// ErrReadOnly is returned by Save on a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("dictionary store is read-only")

// Options tunes the DuckDB connection.
type Options struct {
	MemoryLimit string // e.g. "1GB"
	Threads     int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MemoryLimit == "" {
		o.MemoryLimit = "1GB"
	}
	if o.Threads <= 0 {
		o.Threads = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) pragmas() []string {
	return []string{
		fmt.Sprintf("PRAGMA memory_limit='%s'", o.MemoryLimit),
		fmt.Sprintf("PRAGMA threads=%d", o.Threads),
		"PRAGMA enable_progress_bar=false",
	}
}

var schema = []string{
	`CREATE TABLE meta (
		build_id   VARCHAR NOT NULL,
		format     VARCHAR,
		created_at TIMESTAMP NOT NULL,
		stats      VARCHAR NOT NULL
	)`,
	`CREATE TABLE pairs (
		a     VARCHAR NOT NULL,
		b     VARCHAR NOT NULL,
		count BIGINT NOT NULL
	)`,
	`CREATE TABLE triples (
		a     VARCHAR NOT NULL,
		b     VARCHAR NOT NULL,
		c     VARCHAR NOT NULL,
		count BIGINT NOT NULL
	)`,
	`CREATE TABLE vocabulary (
		token VARCHAR NOT NULL
	)`,
}

// Store is one dictionary in one DuckDB file.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	log      *slog.Logger
}

// Create makes a new, empty dictionary database at path. An existing file at
// path is replaced.
func Create(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	os.Remove(path)

	db, err := open(path, opts, true)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(path)
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	opts.Logger.Debug("dictionary database created", "path", path)
	return &Store{db: db, path: path, log: opts.Logger}, nil
}

// OpenReadOnly opens an existing dictionary database for queries.
func OpenReadOnly(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := open(path+"?access_mode=read_only", opts, false)
	if err != nil {
		return nil, err
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM meta").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("not a dictionary database: %w", err)
	}
	return &Store{db: db, path: path, readOnly: true, log: opts.Logger}, nil
}

func open(dsn string, opts Options, strict bool) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		for _, pragma := range opts.pragmas() {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				if strict {
					return err
				}
				// Non-fatal for readers
				opts.Logger.Warn("duckdb pragma failed", "pragma", pragma, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func (s *Store) Path() string { return s.path }

// Save bulk-loads snap through the DuckDB appender and indexes the tables.
func (s *Store) Save(ctx context.Context, snap *export.Snapshot) error {
	if s.readOnly {
		return ErrReadOnly
	}
	start := time.Now()

	stats, err := json.Marshal(snap.Stats)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (build_id, format, created_at, stats) VALUES (?, ?, ?, ?)",
		snap.BuildID, snap.Format, snap.CreatedAt.UTC(), string(stats)); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		if err := appendRows(dConn, "pairs", len(snap.Pairs), func(i int) []driver.Value {
			p := snap.Pairs[i]
			return []driver.Value{p.A, p.B, p.Count}
		}); err != nil {
			return err
		}
		if err := appendRows(dConn, "triples", len(snap.Triples), func(i int) []driver.Value {
			t := snap.Triples[i]
			return []driver.Value{t.A, t.B, t.C, t.Count}
		}); err != nil {
			return err
		}
		return appendRows(dConn, "vocabulary", len(snap.Vocabulary), func(i int) []driver.Value {
			return []driver.Value{snap.Vocabulary[i]}
		})
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	// Indexes are created after the bulk load; building them during inserts is slower.
	for _, stmt := range []string{
		"CREATE INDEX idx_pairs_key ON pairs(a, b)",
		"CREATE INDEX idx_triples_key ON triples(a, b, c)",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}

	s.log.Info("dictionary saved",
		"path", s.path,
		"pairs", len(snap.Pairs),
		"triples", len(snap.Triples),
		"vocabulary", len(snap.Vocabulary),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func appendRows(conn *duckdb.Conn, table string, n int, row func(int) []driver.Value) error {
	appender, err := duckdb.NewAppenderFromConn(conn, "", table)
	if err != nil {
		return fmt.Errorf("failed to create appender for %s: %w", table, err)
	}
	defer appender.Close()

	for i := 0; i < n; i++ {
		if err := appender.AppendRow(row(i)...); err != nil {
			return fmt.Errorf("failed to append %s row %d: %w", table, i, err)
		}
	}
	return appender.Flush()
}

// Meta describes the build a database was saved from.
type Meta struct {
	BuildID   string                `json:"buildId"`
	Format    string                `json:"format"`
	CreatedAt time.Time             `json:"createdAt"`
	Stats     dictionary.BuildStats `json:"stats"`
}

func (s *Store) Meta(ctx context.Context) (*Meta, error) {
	var (
		m      Meta
		format sql.NullString
		stats  string
	)
	err := s.db.QueryRowContext(ctx, "SELECT build_id, format, created_at, stats FROM meta LIMIT 1").
		Scan(&m.BuildID, &format, &m.CreatedAt, &stats)
	if err != nil {
		return nil, fmt.Errorf("meta query failed: %w", err)
	}
	m.Format = format.String
	if err := json.Unmarshal([]byte(stats), &m.Stats); err != nil {
		return nil, fmt.Errorf("corrupt stats: %w", err)
	}
	return &m, nil
}

// TopPairs returns the limit most frequent pairs with at least minCount
// occurrences, ordered like export snapshots. limit <= 0 returns them all.
func (s *Store) TopPairs(ctx context.Context, limit int, minCount int64) ([]export.PairEntry, error) {
	query, args := topQuery("SELECT a, b, count FROM pairs WHERE count >= ? ORDER BY count DESC, a, b", limit, minCount)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pairs query failed: %w", err)
	}
	defer rows.Close()

	out := []export.PairEntry{}
	for rows.Next() {
		var p export.PairEntry
		if err := rows.Scan(&p.A, &p.B, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TopTriples is TopPairs for triples.
func (s *Store) TopTriples(ctx context.Context, limit int, minCount int64) ([]export.TripleEntry, error) {
	query, args := topQuery("SELECT a, b, c, count FROM triples WHERE count >= ? ORDER BY count DESC, a, b, c", limit, minCount)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("triples query failed: %w", err)
	}
	defer rows.Close()

	out := []export.TripleEntry{}
	for rows.Next() {
		var t export.TripleEntry
		if err := rows.Scan(&t.A, &t.B, &t.C, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func topQuery(base string, limit int, minCount int64) (string, []any) {
	if limit <= 0 {
		return base, []any{minCount}
	}
	return base + " LIMIT ?", []any{minCount, limit}
}

// PairCount returns the count of (a, b), zero when absent.
func (s *Store) PairCount(ctx context.Context, a, b string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count FROM pairs WHERE a = ? AND b = ?", a, b).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// TripleCount returns the count of (a, b, c), zero when absent.
func (s *Store) TripleCount(ctx context.Context, a, b, c string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count FROM triples WHERE a = ? AND b = ? AND c = ?", a, b, c).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *Store) VocabularySize(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vocabulary").Scan(&n)
	return n, err
}

// Load reads the whole dictionary back into a snapshot.
func (s *Store) Load(ctx context.Context) (*export.Snapshot, error) {
	meta, err := s.Meta(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := s.TopPairs(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	triples, err := s.TopTriples(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT token FROM vocabulary ORDER BY token")
	if err != nil {
		return nil, fmt.Errorf("vocabulary query failed: %w", err)
	}
	defer rows.Close()
	vocab := []string{}
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		vocab = append(vocab, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &export.Snapshot{
		Version:    export.SnapshotVersion,
		BuildID:    meta.BuildID,
		Format:     meta.Format,
		CreatedAt:  meta.CreatedAt,
		Pairs:      pairs,
		Triples:    triples,
		Vocabulary: vocab,
		Stats:      meta.Stats,
	}, nil
}

// Close releases the database. The file is kept.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
