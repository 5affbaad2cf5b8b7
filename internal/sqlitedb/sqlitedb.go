// Package sqlitedb drives the embedded SQLite engine used for dumping,
// loading and checking vault databases without a sqlite3 binary.
package sqlitedb

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

var ErrNotDatabase = errors.New("file is not a sqlite database")

var sqliteMagic = []byte("SQLite format 3\x00")

// Open opens path read-write, creating it when missing.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// OpenReadOnly never creates or writes path.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database read-only: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// IsDatabaseFile sniffs the sqlite header.
func IsDatabaseFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == string(sqliteMagic)
}

// RemoveWithSideFiles deletes a database and its -wal/-shm/-journal files.
func RemoveWithSideFiles(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type schemaObject struct {
	kind string
	name string
	tbl  string
	sql  string
}

var simpleIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func displayIdent(name string) string {
	if simpleIdent.MatchString(name) {
		return name
	}
	return quoteIdent(name)
}

func schema(ctx context.Context, db *sql.DB) ([]schemaObject, error) {
	rows, err := db.QueryContext(ctx, `SELECT type, name, tbl_name, sql FROM sqlite_master
		WHERE sql IS NOT NULL ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'view' THEN 2 ELSE 3 END, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var objs []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.kind, &o.name, &o.tbl, &o.sql); err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

func columns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Dump writes a logical dump compatible with `sqlite3 .dump` output.
// Values are rendered by the engine's quote() so text, reals and blobs
// round-trip exactly.
func Dump(ctx context.Context, db *sql.DB, w io.Writer) error {
	bw := bufio.NewWriter(w)

	objs, err := schema(ctx, db)
	if err != nil {
		return err
	}

	fmt.Fprintln(bw, "PRAGMA foreign_keys=OFF;")
	fmt.Fprintln(bw, "BEGIN TRANSACTION;")

	hasSequence := false
	for _, o := range objs {
		if o.kind != "table" {
			continue
		}
		if o.name == "sqlite_sequence" {
			hasSequence = true
			continue
		}
		if strings.HasPrefix(o.name, "sqlite_") {
			continue
		}
		fmt.Fprintf(bw, "%s;\n", o.sql)
		if err := dumpRows(ctx, db, bw, o.name); err != nil {
			return fmt.Errorf("failed to dump table %s: %w", o.name, err)
		}
	}

	if hasSequence {
		fmt.Fprintln(bw, "DELETE FROM sqlite_sequence;")
		if err := dumpRows(ctx, db, bw, "sqlite_sequence"); err != nil {
			return fmt.Errorf("failed to dump sqlite_sequence: %w", err)
		}
	}

	for _, o := range objs {
		if o.kind == "table" || strings.HasPrefix(o.name, "sqlite_") {
			continue
		}
		fmt.Fprintf(bw, "%s;\n", o.sql)
	}

	fmt.Fprintln(bw, "COMMIT;")
	return bw.Flush()
}

func dumpRows(ctx context.Context, db *sql.DB, w io.Writer, table string) error {
	cols, err := columns(ctx, db, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = "quote(" + quoteIdent(c) + ")"
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, " || ',' || "), quoteIdent(table))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	prefix := "INSERT INTO " + displayIdent(table) + " VALUES("
	for rows.Next() {
		var values string
		if err := rows.Scan(&values); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s%s);\n", prefix, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DumpFile dumps the database at dbPath, opened read-only, into out.
func DumpFile(ctx context.Context, dbPath string, out io.Writer) error {
	db, err := OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database not readable: %w", err)
	}
	return Dump(ctx, db, out)
}

// Load replays a logical dump into a fresh database at dbPath.
func Load(ctx context.Context, dbPath string, dump io.Reader) error {
	script, err := io.ReadAll(dump)
	if err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}

	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if strings.TrimSpace(stripComments(string(script))) == "" {
		// empty dump still has to leave a valid database behind
		_, err := db.ExecContext(ctx, "PRAGMA user_version = 0")
		return err
	}

	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("failed to load dump: %w", err)
	}
	return nil
}

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// IntegrityCheck returns "ok" for a sound database, otherwise the first
// problem the engine reports.
func IntegrityCheck(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return "", fmt.Errorf("integrity check failed to run: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", err
		}
		results = append(results, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("integrity check returned no rows")
	}
	return strings.Join(results, "; "), nil
}

func IntegrityCheckFile(ctx context.Context, path string) (string, error) {
	if !IsDatabaseFile(path) {
		return "", ErrNotDatabase
	}
	db, err := OpenReadOnly(path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	return IntegrityCheck(ctx, db)
}

// Tables lists user tables from the catalog.
func Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func CountRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
