// Package runlog keeps a SQLite catalogue of conversion sessions: what was
// converted, with which settings, and what came out.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/rfoxkendo/mikumarimaker/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Session states.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

var ErrNotFound = errors.New("runlog: session not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Store is a session catalogue backed by a SQLite file.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalogue at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	// One connection keeps the PRAGMAs in force for every statement.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("run log %q: %w", p, err)
		}
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used to stamp sessions.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load run log migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied schema version and dirty flag.
func (s *Store) MigrationVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { diagf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Settings describes what a session converts and how.
type Settings struct {
	Source            string
	Sink              string
	Mode              string
	CoincidenceWindow uint64
	SourceID          uint32
	Strategy          string
}

// Counts are the results recorded when a session ends.
type Counts struct {
	Items     uint64
	Frames    uint64
	Words     uint64
	Edges     uint64
	Orphans   uint64
	BadFrames uint64
	Events    uint64
	Hits      uint64
	// EventSizes maps entries-per-event to number of events.
	EventSizes map[int]uint64
}

// Session is one catalogued conversion.
type Session struct {
	ID string
	Settings
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
	Counts     Counts
}

// Duration returns how long a finished session ran.
func (s Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// BeginSession records the start of a conversion and returns its id.
func (s *Store) BeginSession(ctx context.Context, st Settings) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, source, sink, mode, coincidence_window, source_id, strategy, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, st.Source, st.Sink, st.Mode, toInt64(st.CoincidenceWindow), int64(st.SourceID), st.Strategy,
		s.clock.Now().UnixNano(), StatusRunning)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	diagf("session %s started: %s -> %s", id, st.Source, st.Sink)
	return id, nil
}

// EndSession records the outcome of a conversion. A nil runErr marks the
// session ok.
func (s *Store) EndSession(ctx context.Context, id string, c Counts, runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET finished_at = ?, status = ?, error = ?,
			items = ?, frames = ?, words = ?, edges = ?, orphans = ?, bad_frames = ?, events = ?, hits = ?
		WHERE session_id = ?`,
		s.clock.Now().UnixNano(), status, nullString(msg),
		toInt64(c.Items), toInt64(c.Frames), toInt64(c.Words), toInt64(c.Edges),
		toInt64(c.Orphans), toInt64(c.BadFrames), toInt64(c.Events), toInt64(c.Hits),
		id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for size, count := range c.EventSizes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO event_sizes (session_id, size, count) VALUES (?, ?, ?)`,
			id, size, toInt64(count)); err != nil {
			return fmt.Errorf("record event sizes for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	tracef("session %s: %d event sizes recorded", id, len(c.EventSizes))
	if runErr != nil {
		opsf("session %s failed: %v", id, runErr)
	}
	diagf("session %s %s: %d events", id, status, c.Events)
	return nil
}

const sessionColumns = `session_id, source, sink, mode, coincidence_window, source_id, strategy,
	started_at, finished_at, status, error,
	items, frames, words, edges, orphans, bad_frames, events, hits`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s                   Session
		window, sid         int64
		started             int64
		finished            sql.NullInt64
		errMsg              sql.NullString
		items, frames       int64
		words, edges        int64
		orphans, badFrames  int64
		events, hitsScanned int64
	)
	err := r.Scan(&s.ID, &s.Source, &s.Sink, &s.Mode, &window, &sid, &s.Strategy,
		&started, &finished, &s.Status, &errMsg,
		&items, &frames, &words, &edges, &orphans, &badFrames, &events, &hitsScanned)
	if err != nil {
		return Session{}, err
	}
	s.CoincidenceWindow = uint64(window)
	s.SourceID = uint32(sid)
	s.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		s.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	s.Error = errMsg.String
	s.Counts = Counts{
		Items: uint64(items), Frames: uint64(frames), Words: uint64(words), Edges: uint64(edges),
		Orphans: uint64(orphans), BadFrames: uint64(badFrames), Events: uint64(events), Hits: uint64(hitsScanned),
	}
	return s, nil
}

// Session returns one session with its event size histogram.
func (s *Store) Session(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", id, err)
	}
	sizes, err := s.eventSizes(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.Counts.EventSizes = sizes
	return sess, nil
}

// Sessions returns the most recent sessions, newest first. limit <= 0
// returns all of them. Event size histograms are not loaded.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) eventSizes(ctx context.Context, id string) (map[int]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT size, count FROM event_sizes WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load event sizes for %s: %w", id, err)
	}
	defer rows.Close()

	sizes := make(map[int]uint64)
	for rows.Next() {
		var size int
		var count int64
		if err := rows.Scan(&size, &count); err != nil {
			return nil, err
		}
		sizes[size] = uint64(count)
	}
	return sizes, rows.Err()
}

// SizeStats summarizes an event size histogram.
type SizeStats struct {
	Events uint64
	Mean   float64
	StdDev float64
	Min    int
	Max    int
}

// Summarize computes the weighted mean and standard deviation of an event
// size histogram. The deviation is 0 for fewer than two events.
func Summarize(sizes map[int]uint64) SizeStats {
	var st SizeStats
	if len(sizes) == 0 {
		return st
	}
	keys := make([]int, 0, len(sizes))
	for k, n := range sizes {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return st
	}
	sort.Ints(keys)

	x := make([]float64, len(keys))
	w := make([]float64, len(keys))
	for i, k := range keys {
		x[i] = float64(k)
		w[i] = float64(sizes[k])
		st.Events += sizes[k]
	}
	st.Min, st.Max = keys[0], keys[len(keys)-1]
	st.Mean, st.StdDev = stat.MeanStdDev(x, w)
	if st.Events < 2 || math.IsNaN(st.StdDev) {
		st.StdDev = 0
	}
	return st
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
