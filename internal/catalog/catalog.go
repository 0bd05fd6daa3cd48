// Package catalog is a content-addressable index of written archives,
// backed by SQLite. The key is the archive's content digest, so two writes
// of the same (data, provenance) pair map to one entry and callers can use
// the catalog as a cache: look up the digest before recomputing.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"lattice/internal/archive"
)

// ErrNotFound is returned when no catalog entry matches a lookup.
var ErrNotFound = errors.New("catalog entry not found")

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Entry is one indexed archive.
type Entry struct {
	Digest    string
	UUID      string
	Path      string
	Type      string
	Format    string
	Size      int64
	WrittenAt time.Time
	AddedAt   time.Time
}

// Catalog indexes archives in a SQLite database.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path and runs migrations.
// The parent directory (e.g. .lattice) is created if it does not exist.
func Open(path string) (*Catalog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	var tableCount int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := c.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := c.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	var v int
	if err := c.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error { return c.db.Close() }

// Put inserts or refreshes an entry. The digest is the identity: putting
// the same content at a new path updates the stored path.
func (c *Catalog) Put(e Entry) error {
	if e.Digest == "" || e.UUID == "" || e.Path == "" {
		return fmt.Errorf("entry requires digest, uuid, and path")
	}
	_, err := c.db.Exec(
		`INSERT INTO archives(digest, uuid, path, type, format, size, written_at, added_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET
		   uuid = excluded.uuid,
		   path = excluded.path,
		   type = excluded.type,
		   format = excluded.format,
		   size = excluded.size,
		   written_at = excluded.written_at`,
		e.Digest, e.UUID, e.Path, e.Type, e.Format, e.Size,
		e.WrittenAt.UTC().Format(time.RFC3339), nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("insert archive entry: %w", err)
	}
	return nil
}

// Index peeks and digests the archive at path and records it. The archive
// is not fully verified; run archive.Validate first when integrity
// matters.
func (c *Catalog) Index(path string) (Entry, error) {
	meta, err := archive.Peek(path)
	if err != nil {
		return Entry{}, err
	}
	digest, err := archive.Digest(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("stat archive: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Digest:    digest,
		UUID:      meta.UUID,
		Path:      abs,
		Type:      meta.Type,
		Format:    meta.Format,
		Size:      info.Size(),
		WrittenAt: meta.WrittenAt,
	}
	if err := c.Put(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ByDigest returns the entry for one content digest.
func (c *Catalog) ByDigest(digest string) (Entry, error) {
	row := c.db.QueryRow(
		`SELECT digest, uuid, path, type, format, size, written_at, added_at
		 FROM archives WHERE digest = ?`, digest)
	return scanEntry(row)
}

// ByUUID returns the entries recorded for one Result identity, newest
// first. Distinct invocations share a UUID only if re-indexed; typically
// this returns zero or one entry.
func (c *Catalog) ByUUID(uuid string) ([]Entry, error) {
	rows, err := c.db.Query(
		`SELECT digest, uuid, path, type, format, size, written_at, added_at
		 FROM archives WHERE uuid = ? ORDER BY added_at DESC, digest`, uuid)
	if err != nil {
		return nil, fmt.Errorf("query by uuid: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// List returns every entry ordered by insertion time, newest first.
func (c *Catalog) List() ([]Entry, error) {
	rows, err := c.db.Query(
		`SELECT digest, uuid, path, type, format, size, written_at, added_at
		 FROM archives ORDER BY added_at DESC, digest`)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Remove deletes the entry for one digest. Removing an absent digest is a
// no-op.
func (c *Catalog) Remove(digest string) error {
	if _, err := c.db.Exec("DELETE FROM archives WHERE digest = ?", digest); err != nil {
		return fmt.Errorf("delete archive entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var writtenAt, addedAt string
	err := row.Scan(&e.Digest, &e.UUID, &e.Path, &e.Type, &e.Format, &e.Size, &writtenAt, &addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan archive entry: %w", err)
	}
	if e.WrittenAt, err = time.Parse(time.RFC3339, writtenAt); err != nil {
		return Entry{}, fmt.Errorf("parse written_at: %w", err)
	}
	if e.AddedAt, err = time.Parse(time.RFC3339, addedAt); err != nil {
		return Entry{}, fmt.Errorf("parse added_at: %w", err)
	}
	return e, nil
}

func collect(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
