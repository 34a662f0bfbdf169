// Package cache implements the repository's local metadata cache: a
// per-repository SQLite database recording which object keys are known
// to exist on the backend (so a `put` can skip re-uploading them) and
// which filesystem paths were already captured at a given mtime/size
// (so an unchanged file can skip re-chunking). Grounded directly on
// original_source's rk_Disk::InitCache (disk.cc).
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/oid"
)

// schemaVersion is the cache's own schema version, tracked via SQLite's
// PRAGMA user_version exactly as disk.cc's InitCache does.
const schemaVersion = 2

// Cache wraps the per-repository SQLite database.
type Cache struct {
	db *sql.DB
}

// Dir returns the cache directory for this engine, mirroring
// original_source's GetUserCachePath("rekord", ...).
func Dir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	return filepath.Join(base, "rekord"), nil
}

// Open opens (creating if necessary) the cache database for the
// repository whose public key is repoPub, applying schema migrations as
// needed. The filename is the repository's public key in hex, so
// distinct repositories never share a cache file.
func Open(repoPub [32]byte) (*Cache, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rekord.NewError("cache.Open", rekord.KindBackend, err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%x.db", repoPub[:]))
	return OpenFile(filename)
}

// OpenFile opens the cache database at an explicit path, primarily for
// tests.
func OpenFile(filename string) (*Cache, error) {
	db, err := sql.Open("sqlite3", filename+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, rekord.NewError("cache.OpenFile", rekord.KindBackend, err)
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	var version int
	if err := c.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return rekord.NewError("cache.migrate", rekord.KindBackend, err)
	}

	if version > schemaVersion {
		return rekord.NewError("cache.migrate", rekord.KindCorrupt,
			fmt.Errorf("cache schema is too recent (%d, expected %d)", version, schemaVersion))
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return rekord.NewError("cache.migrate", rekord.KindBackend, err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(`
			CREATE TABLE objects (
				key TEXT NOT NULL
			);
			CREATE UNIQUE INDEX objects_k ON objects (key);
		`); err != nil {
			return rekord.NewError("cache.migrate", rekord.KindBackend, err)
		}
	}
	if version < 2 {
		if _, err := tx.Exec(`
			CREATE TABLE stats (
				path  TEXT NOT NULL,
				mtime INTEGER NOT NULL,
				mode  INTEGER NOT NULL,
				size  INTEGER NOT NULL,
				id    BLOB NOT NULL
			);
			CREATE UNIQUE INDEX stats_p ON stats (path);
		`); err != nil {
			return rekord.NewError("cache.migrate", rekord.KindBackend, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return rekord.NewError("cache.migrate", rekord.KindBackend, err)
	}

	if err := tx.Commit(); err != nil {
		return rekord.NewError("cache.migrate", rekord.KindBackend, err)
	}
	return nil
}

// KnownObject reports whether id is recorded as already present on the
// backend, short-circuiting a write before the object is encrypted and
// uploaded.
func (c *Cache) KnownObject(ctx context.Context, id oid.ID) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM objects WHERE key = ?", id.String()).Scan(&n)
	if err != nil {
		return false, rekord.NewError("cache.KnownObject", rekord.KindBackend, err)
	}
	return n > 0, nil
}

// MarkObject records id as known-present on the backend.
func (c *Cache) MarkObject(ctx context.Context, id oid.ID) error {
	_, err := c.db.ExecContext(ctx, "INSERT OR IGNORE INTO objects (key) VALUES (?)", id.String())
	if err != nil {
		return rekord.NewError("cache.MarkObject", rekord.KindBackend, err)
	}
	return nil
}

// FileStat is the cached capture-time metadata for one filesystem path.
type FileStat struct {
	Mtime int64
	Mode  uint32
	Size  int64
	ID    oid.ID
}

// LookupStat returns the cached stat for path, and whether it existed.
func (c *Cache) LookupStat(ctx context.Context, path string) (FileStat, bool, error) {
	var st FileStat
	var idBytes []byte

	row := c.db.QueryRowContext(ctx,
		"SELECT mtime, mode, size, id FROM stats WHERE path = ?", path)
	if err := row.Scan(&st.Mtime, &st.Mode, &st.Size, &idBytes); err != nil {
		if err == sql.ErrNoRows {
			return FileStat{}, false, nil
		}
		return FileStat{}, false, rekord.NewError("cache.LookupStat", rekord.KindBackend, err)
	}

	id, err := oid.FromBytes(idBytes)
	if err != nil {
		return FileStat{}, false, rekord.NewError("cache.LookupStat", rekord.KindCorrupt, err)
	}
	st.ID = id
	return st, true, nil
}

// StoreStat records or updates the cached stat for path.
func (c *Cache) StoreStat(ctx context.Context, path string, st FileStat) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO stats (path, mtime, mode, size, id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime, mode = excluded.mode,
			size = excluded.size, id = excluded.id
	`, path, st.Mtime, st.Mode, st.Size, st.ID[:])
	if err != nil {
		return rekord.NewError("cache.StoreStat", rekord.KindBackend, err)
	}
	return nil
}

// StatEntry pairs a path with the FileStat to record for it, for use
// with StoreStats.
type StatEntry struct {
	Path string
	Stat FileStat
}

// StoreStats upserts every entry in a single transaction, matching
// spec.md §4.7's "cache updates happen in a single transaction at the
// end of each directory's processing, so a partial run never leaves the
// cache inconsistent."
func (c *Cache) StoreStats(ctx context.Context, entries []StatEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rekord.NewError("cache.StoreStats", rekord.KindBackend, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stats (path, mtime, mode, size, id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime, mode = excluded.mode,
			size = excluded.size, id = excluded.id
	`)
	if err != nil {
		return rekord.NewError("cache.StoreStats", rekord.KindBackend, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Path, e.Stat.Mtime, e.Stat.Mode, e.Stat.Size, e.Stat.ID[:]); err != nil {
			return rekord.NewError("cache.StoreStats", rekord.KindBackend, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rekord.NewError("cache.StoreStats", rekord.KindBackend, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
