//go:build integration

package migrator_test

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/archon-research/p2pwatch/db/migrations"
	"github.com/archon-research/p2pwatch/db/migrator"
	"github.com/archon-research/p2pwatch/internal/testutil"
)

func TestMigrator_ApplyAll(t *testing.T) {
	ctx := context.Background()

	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, testutil.DiscardLogger())
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'order_attempts')").Scan(&exists)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !exists {
		t.Error("order_attempts table was not created")
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	files, _ := migrator.MigrationFiles(migrations.FS)
	if len(applied) != len(files) {
		t.Errorf("applied %d migrations, want %d", len(applied), len(files))
	}

	// A second run is a no-op.
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("second ApplyAll: %v", err)
	}
}

func TestMigrator_DetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()

	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	original := fstest.MapFS{
		"001_init.sql": {Data: []byte("CREATE TABLE example (id INT);")},
	}
	if err := migrator.New(pool, original, testutil.DiscardLogger()).ApplyAll(ctx); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	modified := fstest.MapFS{
		"001_init.sql": {Data: []byte("CREATE TABLE example (id BIGINT);")},
	}
	err := migrator.New(pool, modified, testutil.DiscardLogger()).ApplyAll(ctx)
	if err == nil || !strings.Contains(err.Error(), "has been modified") {
		t.Fatalf("expected modified-migration error, got %v", err)
	}
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()

	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	broken := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok_table (id INT);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (id INT); SELECT * FROM missing_table;")},
	}
	m := migrator.New(pool, broken, testutil.DiscardLogger())
	if err := m.ApplyAll(ctx); err == nil {
		t.Fatal("expected error from broken migration")
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_ok.sql" {
		t.Errorf("applied = %v, want [001_ok.sql]", applied)
	}

	var exists bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'broken')").Scan(&exists); err != nil {
		t.Fatalf("query: %v", err)
	}
	if exists {
		t.Error("table from failed migration should have been rolled back")
	}
}
