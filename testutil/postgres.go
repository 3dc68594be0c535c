package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/danmaku-reactor/db"
)

// SetupTestDB connects to TEST_PG_DSN with a migrated, empty journal. Tests
// that call it are skipped when the variable is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect journal db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate journal db: %v", err)
	}
	if _, err := database.Exec(`TRUNCATE room_events, danmaku_sends RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate journal: %v", err)
	}
	return database
}
