// Package manifest persists the per-entry record of a completed snapshot in
// a SQLite sidecar so the next run can build its reference index without
// stat'ing the whole reference tree.
package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stored under MetaSchema and checked on Open.
const SchemaVersion = "1"

// Well-known meta keys.
const (
	MetaSchema    = "schema"
	MetaSource    = "source"
	MetaReference = "reference"
	MetaCompare   = "compare"
	MetaStarted   = "started"
	MetaFinished  = "finished"
	// Identity of the snapshot directory the manifest describes.
	MetaRootDev    = "root_dev"
	MetaRootIno    = "root_ino"
	MetaRootChange = "root_ctime_ns"
)

// ErrNoIdentity is returned by Identity when the manifest was never bound
// to a snapshot directory.
var ErrNoIdentity = errors.New("manifest has no root identity")

const (
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

// Entry types as stored in the type column.
const (
	TypeFile    = "file"
	TypeDir     = "dir"
	TypeSymlink = "symlink"
)

// Record is one snapshot entry.
type Record struct {
	Path    string
	Type    string
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	// Linked is true when the entry shares storage with the reference.
	Linked bool
	// Hash is the hex BLAKE3 digest of a regular file when it was computed
	// during the run; empty otherwise.
	Hash string
}

// PathFor returns the sidecar location for the snapshot at snapshotPath:
// a hidden file beside it, so that the snapshot tree itself stays a plain
// mirror of the source.
func PathFor(snapshotPath string) string {
	clean := filepath.Clean(snapshotPath)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".manifest.db")
}

// Store is a manifest database. Put is batched and flushed periodically;
// it is safe for concurrent use, though the engine writes from a single
// goroutine.
type Store struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	batch   []Record
	done    chan struct{}
	stopped bool
	// flushErr is the first error seen by the background flusher.
	flushErr error
}

// Create makes a new manifest at path. It fails if the file exists.
func Create(path string) (*Store, error) {
	if _, err := os.Lstat(path); err == nil {
		return nil, fmt.Errorf("create manifest %s: %w", path, fs.ErrExist)
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := s.init(); err != nil {
		s.db.Close()
		return nil, err
	}
	if err := s.SetMeta(MetaSchema, SchemaVersion); err != nil {
		s.db.Close()
		return nil, err
	}
	go s.flushLoop()
	return s, nil
}

// Open opens an existing manifest for reading and lookups.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	v, ok, err := s.Meta(MetaSchema)
	if err != nil {
		s.db.Close()
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	if !ok || v != SchemaVersion {
		s.db.Close()
		return nil, fmt.Errorf("open manifest %s: unsupported schema %q", path, v)
	}
	go s.flushLoop()
	return s, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{
		db:   db,
		path: path,
		done: make(chan struct{}),
	}, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			path     TEXT PRIMARY KEY,
			type     TEXT NOT NULL,
			size     INTEGER NOT NULL,
			mtime_ns INTEGER NOT NULL,
			mode     INTEGER NOT NULL,
			linked   INTEGER NOT NULL,
			hash     TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Put queues r for writing. A record for an existing path replaces it.
func (s *Store) Put(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, r)
	if len(s.batch) >= batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any pending records.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.flushErr
}

func (s *Store) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO entries
		(path, type, size, mtime_ns, mode, linked, hash) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.batch {
		_, err := stmt.Exec(r.Path, r.Type, r.Size, r.ModTime.UnixNano(), uint32(r.Mode), r.Linked, r.Hash)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.batch = s.batch[:0]
	return nil
}

func (s *Store) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if err := s.flushLocked(); err != nil && s.flushErr == nil {
				s.flushErr = err
			}
			s.mu.Unlock()
		}
	}
}

// SetMeta stores a key/value pair immediately.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("store meta %s: %w", key, err)
	}
	return nil
}

// Meta returns the value stored for key.
func (s *Store) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, true, nil
}

// Identity names the snapshot directory a manifest was written for. A
// directory recreated under the same name differs in inode or change time.
type Identity struct {
	Dev      uint64
	Ino      uint64
	ChangeNs int64
}

// SetIdentity binds the manifest to the directory described by id.
func (s *Store) SetIdentity(id Identity) error {
	for key, v := range map[string]string{
		MetaRootDev:    strconv.FormatUint(id.Dev, 10),
		MetaRootIno:    strconv.FormatUint(id.Ino, 10),
		MetaRootChange: strconv.FormatInt(id.ChangeNs, 10),
	} {
		if err := s.SetMeta(key, v); err != nil {
			return err
		}
	}
	return nil
}

// Identity returns what SetIdentity stored, or ErrNoIdentity.
func (s *Store) Identity() (Identity, error) {
	var id Identity
	for _, key := range []string{MetaRootDev, MetaRootIno, MetaRootChange} {
		v, ok, err := s.Meta(key)
		if err != nil {
			return Identity{}, err
		}
		if !ok {
			return Identity{}, ErrNoIdentity
		}
		switch key {
		case MetaRootDev:
			id.Dev, err = strconv.ParseUint(v, 10, 64)
		case MetaRootIno:
			id.Ino, err = strconv.ParseUint(v, 10, 64)
		case MetaRootChange:
			id.ChangeNs, err = strconv.ParseInt(v, 10, 64)
		}
		if err != nil {
			return Identity{}, fmt.Errorf("meta %s: %w", key, err)
		}
	}
	return id, nil
}

// Lookup returns the record for path. Pending records are flushed first.
func (s *Store) Lookup(path string) (Record, bool, error) {
	if err := s.Flush(); err != nil {
		return Record{}, false, err
	}
	row := s.db.QueryRow(`SELECT path, type, size, mtime_ns, mode, linked, hash
		FROM entries WHERE path = ?`, path)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	return r, true, nil
}

// Records calls fn for every record in path order, stopping at the first
// error fn returns.
func (s *Store) Records(fn func(Record) error) error {
	if err := s.Flush(); err != nil {
		return err
	}
	rows, err := s.db.Query(`SELECT path, type, size, mtime_ns, mode, linked, hash
		FROM entries ORDER BY path`)
	if err != nil {
		return fmt.Errorf("query entries: %w", err)
	}
	// The single connection is held until rows is closed, so collect first
	// and let fn call back into the store.
	var recs []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan entry: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	if err := s.Flush(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r      Record
		mtime  int64
		mode   int64
		linked bool
	)
	if err := sc.Scan(&r.Path, &r.Type, &r.Size, &mtime, &mode, &linked, &r.Hash); err != nil {
		return Record{}, err
	}
	r.ModTime = time.Unix(0, mtime)
	r.Mode = fs.FileMode(uint32(mode)) //nolint:gosec // G115: stored from a FileMode
	r.Linked = linked
	return r, nil
}

// Close flushes pending records and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	flushErr := s.flushLocked()
	if flushErr == nil {
		flushErr = s.flushErr
	}
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Remove deletes the database file along with any SQLite side files.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		_ = os.Remove(s.path + suffix)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
