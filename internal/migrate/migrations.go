package migrate

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"vfxhub/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

// Migration is one embedded NNN_name.sql file.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Status reports the applied version against the embedded set.
type Status struct {
	Dialect db.Dialect `json:"dialect"`
	Current int        `json:"current"`
	Latest  int        `json:"latest"`
	Pending []string   `json:"pending"`
}

const historyTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`

func load(dialect db.Dialect) ([]Migration, error) {
	dir := path.Join("sql", string(dialect))
	files, err := fs.Glob(migrationsFS, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	migrations := make([]Migration, 0, len(files))
	seen := map[int]string{}
	for _, file := range files {
		name := path.Base(file)
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name
		data, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: version, Name: name, UpSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func current(conn *db.DB) (int, error) {
	if _, err := conn.Exec(historyTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	var v int
	if err := conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	return v, nil
}

// Migrate applies pending migrations for the connection's dialect, each in
// its own transaction together with its history row.
func Migrate(conn *db.DB) error {
	migrations, err := load(conn.Dialect)
	if err != nil {
		return err
	}
	applied, err := current(conn)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= applied {
			continue
		}
		if err := apply(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(conn *db.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.UpSQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(db.Rebind(conn.Dialect, `INSERT INTO schema_migrations(version, name, applied_at) VALUES (?,?,?)`),
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return tx.Commit()
}

// Inspect returns the migration status without applying anything.
func Inspect(conn *db.DB) (Status, error) {
	migrations, err := load(conn.Dialect)
	if err != nil {
		return Status{}, err
	}
	applied, err := current(conn)
	if err != nil {
		return Status{}, err
	}
	st := Status{Dialect: conn.Dialect, Current: applied, Pending: []string{}}
	for _, m := range migrations {
		st.Latest = m.Version
		if m.Version > applied {
			st.Pending = append(st.Pending, m.Name)
		}
	}
	return st, nil
}
