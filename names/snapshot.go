package names

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "modernc.org/sqlite"

	"github.com/xregistry/xrbridge/driver"
)

// snapshot is the durable on-disk projection of the name catalog: a sqlite
// database holding the full name set plus the refresh cursor.
//
// sqlite provides the single-writer file locking the refresher relies on;
// readers load once at open and afterwards serve from the in-memory index.
type snapshot struct {
	db *sql.DB
	gq goqu.DialectWrapper
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS names (
	key  TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

func openSnapshot(dir string) (*snapshot, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, "names.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &snapshot{
		db: db,
		gq: goqu.Dialect("sqlite3"),
	}, nil
}

func (s *snapshot) close() error { return s.db.Close() }

// load reads the full snapshot and its cursor.
func (s *snapshot) load(ctx context.Context) ([]string, driver.Fingerprint, error) {
	q, args, err := s.gq.From("names").Select("name").Order(goqu.C("key").Asc()).ToSQL()
	if err != nil {
		return nil, "", err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, "", err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var fp string
	q, args, err = s.gq.From("meta").Select("v").Where(goqu.C("k").Eq("fingerprint")).ToSQL()
	if err != nil {
		return nil, "", err
	}
	switch err := s.db.QueryRowContext(ctx, q, args...).Scan(&fp); err {
	case nil, sql.ErrNoRows:
	default:
		return nil, "", err
	}
	return names, driver.Fingerprint(fp), nil
}

// store atomically replaces the snapshot contents. keys and names are
// parallel slices.
func (s *snapshot) store(ctx context.Context, keys, names []string, fp driver.Fingerprint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM names`); err != nil {
		return err
	}
	const chunk = 500
	for i := 0; i < len(names); i += chunk {
		end := min(i+chunk, len(names))
		rows := make([]any, 0, end-i)
		for j := i; j < end; j++ {
			rows = append(rows, goqu.Record{"key": keys[j], "name": names[j]})
		}
		q, args, err := s.gq.Insert("names").Rows(rows...).Prepared(true).ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("inserting name chunk: %w", err)
		}
	}
	for k, v := range map[string]string{
		"fingerprint": string(fp),
		"lastUpdate":  time.Now().UTC().Format(time.RFC3339),
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v`,
			k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}
