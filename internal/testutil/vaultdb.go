// Package testutil builds small vault databases and deployment trees for
// tests across packages.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/stretchr/testify/require"
)

const VaultSchema = `
CREATE TABLE __diesel_schema_migrations (version VARCHAR(50) PRIMARY KEY NOT NULL, run_on TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP);
CREATE TABLE users (
	uuid TEXT NOT NULL PRIMARY KEY,
	created_at DATETIME NOT NULL,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	password_hash BLOB NOT NULL,
	akey TEXT NOT NULL
);
CREATE TABLE organizations (
	uuid TEXT NOT NULL PRIMARY KEY,
	name TEXT NOT NULL,
	billing_email TEXT NOT NULL
);
CREATE TABLE folders (
	uuid TEXT NOT NULL PRIMARY KEY,
	created_at DATETIME NOT NULL,
	user_uuid TEXT NOT NULL REFERENCES users (uuid),
	name TEXT NOT NULL
);
CREATE TABLE ciphers (
	uuid TEXT NOT NULL PRIMARY KEY,
	created_at DATETIME NOT NULL,
	user_uuid TEXT REFERENCES users (uuid),
	organization_uuid TEXT REFERENCES organizations (uuid),
	atype INTEGER NOT NULL,
	name TEXT NOT NULL,
	data TEXT NOT NULL,
	favorite BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX idx_ciphers_user ON ciphers (user_uuid);
`

// Vault describes how many rows to seed.
type Vault struct {
	Users   int
	Ciphers int
	Folders int
	Orgs    int
	// SkipTables leaves these tables out of the schema entirely.
	SkipTables []string
}

// CreateVaultDB writes a vault database at path and returns it.
func CreateVaultDB(t testing.TB, path string, v Vault) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	db, err := sqlitedb.Open(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	schema := VaultSchema
	for _, skip := range v.SkipTables {
		schema = dropFromSchema(schema, skip)
	}
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO __diesel_schema_migrations (version) VALUES ('20180114171611')`)
	require.NoError(t, err)

	seed := func(table string) bool { return !slices.Contains(v.SkipTables, table) }

	for i := 0; seed("users") && i < v.Users; i++ {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (uuid, created_at, email, name, password_hash, akey) VALUES (?, '2026-01-02 03:04:05.123456', ?, ?, ?, ?)`,
			fmt.Sprintf("user-%d", i), fmt.Sprintf("user%d@example.com", i), fmt.Sprintf("User 'Quoted' %d", i),
			[]byte{0x00, 0xff, byte(i)}, "2.akey|with|pipes")
		require.NoError(t, err)
	}
	for i := 0; seed("organizations") && i < v.Orgs; i++ {
		_, err := db.ExecContext(ctx, `INSERT INTO organizations (uuid, name, billing_email) VALUES (?, ?, ?)`,
			fmt.Sprintf("org-%d", i), fmt.Sprintf("Org %d", i), "billing@example.com")
		require.NoError(t, err)
	}
	for i := 0; seed("folders") && i < v.Folders; i++ {
		_, err := db.ExecContext(ctx, `INSERT INTO folders (uuid, created_at, user_uuid, name) VALUES (?, '2026-01-02 03:04:05', ?, ?)`,
			fmt.Sprintf("folder-%d", i), "user-0", fmt.Sprintf("Folder %d", i))
		require.NoError(t, err)
	}
	if seed("ciphers") {
		for i := 0; i < v.Ciphers; i++ {
			owner := "user-0"
			if v.Users > 0 {
				owner = fmt.Sprintf("user-%d", i%v.Users)
			}
			_, err := db.ExecContext(ctx,
				`INSERT INTO ciphers (uuid, created_at, user_uuid, atype, name, data) VALUES (?, '2026-01-02 03:04:05', ?, 1, ?, ?)`,
				fmt.Sprintf("cipher-%d", i), owner, fmt.Sprintf("2.cipher%d", i), `{"fields":null,"notes":"line1\nline2"}`)
			require.NoError(t, err)
		}
	}
	return path
}

// CountRows opens path and counts table rows.
func CountRows(t testing.TB, path, table string) int64 {
	t.Helper()
	db, err := sqlitedb.OpenReadOnly(path)
	require.NoError(t, err)
	defer db.Close()
	n, err := sqlitedb.CountRows(context.Background(), db, table)
	require.NoError(t, err)
	return n
}

func dropFromSchema(schema, table string) string {
	var b strings.Builder
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if strings.Contains(stmt, "TABLE "+table+" ") || strings.Contains(stmt, "ON "+table+" ") {
			continue
		}
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String()
}
