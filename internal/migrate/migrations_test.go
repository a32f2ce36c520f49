package migrate

import (
	"testing"

	"vfxhub/internal/db"
)

func TestEmbeddedSetsMatch(t *testing.T) {
	lite, err := load(db.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	pg, err := load(db.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	if len(lite) == 0 || len(lite) != len(pg) {
		t.Fatalf("sqlite %d migrations, postgres %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version || lite[i].Name != pg[i].Name {
			t.Fatalf("migration %d differs: %s vs %s", i, lite[i].Name, pg[i].Name)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	before, err := Inspect(conn)
	if err != nil {
		t.Fatal(err)
	}
	if before.Current != 0 || len(before.Pending) != before.Latest {
		t.Fatalf("fresh status = %+v", before)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	after, err := Inspect(conn)
	if err != nil {
		t.Fatal(err)
	}
	if after.Current != after.Latest || len(after.Pending) != 0 {
		t.Fatalf("migrated status = %+v", after)
	}
	if _, err := conn.Exec(`SELECT last_used_at FROM api_keys`); err != nil {
		t.Fatalf("api key column missing: %v", err)
	}
}
