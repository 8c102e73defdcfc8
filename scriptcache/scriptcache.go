/*
NAME
  scriptcache.go

DESCRIPTION
  Package scriptcache keeps a small on-disk catalog of validated ESMS
  scripts keyed by source path. Fresh answers from the recorded size and
  modification time alone, without reading the source file; cmd/bdmux
  still confirms the script it names with esms.Reader.Validate, and on a
  cache miss falls back to validating the script at its default path.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package scriptcache

import (
	"database/sql"
	"os"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	source_path  TEXT PRIMARY KEY,
	script_path  TEXT NOT NULL,
	crc          INTEGER NOT NULL,
	crc_n        INTEGER NOT NULL,
	size         INTEGER NOT NULL,
	mod_time_ns  INTEGER NOT NULL
);
`

// Entry is one catalog row: everything needed to decide, without
// touching the source file's contents, whether a previously built
// script can be reused.
type Entry struct {
	SourcePath string
	ScriptPath string
	CRC        uint32
	N          uint32
	Size       int64
	ModTime    time.Time
}

// Catalog is a sqlite-backed script cache.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "scriptcache: opening %q", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "scriptcache: creating schema")
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Lookup returns the catalog's row for sourcePath, if any.
func (c *Catalog) Lookup(sourcePath string) (Entry, bool, error) {
	row := c.db.QueryRow(
		`SELECT script_path, crc, crc_n, size, mod_time_ns FROM scripts WHERE source_path = ?`,
		sourcePath,
	)
	var e Entry
	var modTimeNs int64
	e.SourcePath = sourcePath
	if err := row.Scan(&e.ScriptPath, &e.CRC, &e.N, &e.Size, &modTimeNs); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, errors.Wrap(err, "scriptcache: querying catalog")
	}
	e.ModTime = time.Unix(0, modTimeNs)
	return e, true, nil
}

// Put inserts or replaces the catalog's row for e.SourcePath.
func (c *Catalog) Put(e Entry) error {
	_, err := c.db.Exec(
		`INSERT INTO scripts (source_path, script_path, crc, crc_n, size, mod_time_ns)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_path) DO UPDATE SET
		   script_path = excluded.script_path,
		   crc         = excluded.crc,
		   crc_n       = excluded.crc_n,
		   size        = excluded.size,
		   mod_time_ns = excluded.mod_time_ns`,
		e.SourcePath, e.ScriptPath, e.CRC, e.N, e.Size, e.ModTime.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "scriptcache: writing catalog")
	}
	return nil
}

// Record stats sourcePath and stores the result alongside scriptPath,
// crc and n in the catalog, ready for a future Fresh call to trust.
func (c *Catalog) Record(sourcePath, scriptPath string, crc, n uint32) error {
	fi, err := os.Stat(sourcePath)
	if err != nil {
		return errors.Wrapf(err, "scriptcache: statting %q", sourcePath)
	}
	return c.Put(Entry{
		SourcePath: sourcePath,
		ScriptPath: scriptPath,
		CRC:        crc,
		N:          n,
		Size:       fi.Size(),
		ModTime:    fi.ModTime(),
	})
}

// Fresh reports the cached script path for sourcePath, but only if the
// file's current size and modification time still match what was
// recorded at build time; a cache miss, a changed source, or a source
// that's been removed all report ok=false so the caller falls back to
// a full esms.Reader.Validate rebuild-or-reuse decision.
func (c *Catalog) Fresh(sourcePath string) (scriptPath string, ok bool, err error) {
	e, found, err := c.Lookup(sourcePath)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	fi, statErr := os.Stat(sourcePath)
	if statErr != nil {
		return "", false, nil
	}
	if fi.Size() != e.Size || !fi.ModTime().Equal(e.ModTime) {
		return "", false, nil
	}
	return e.ScriptPath, true, nil
}
