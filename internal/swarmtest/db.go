// Package swarmtest provides shared helpers for agent and swarm tests: real
// databases with the production schemas applied, agent dependency bundles,
// and in-memory collaborator mocks.
package swarmtest

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/database"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/ledger"
)

// NewTestDB creates a temporary database with the embedded schema for the
// given name ("swarm", "ledger", or "cache") applied. The file and its WAL
// sidecars are removed on cleanup.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("novaos_test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	path := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{Path: path, Name: name})
	if err != nil {
		_ = os.Remove(path)
		t.Fatalf("Failed to open test database %s: %v", name, err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(path)
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
	})
	return db
}

// AgentDeps builds an agent dependency bundle over a fresh swarm database
// with a disabled logger and a live event bus.
func AgentDeps(t *testing.T) agent.Deps {
	t.Helper()

	deps, _ := AgentDepsConn(t)
	return deps
}

// AgentDepsConn is AgentDeps plus the underlying connection, for tests that
// plant rows directly.
func AgentDepsConn(t *testing.T) (agent.Deps, *sql.DB) {
	t.Helper()

	conn := NewTestDB(t, "swarm").Conn()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return agent.Deps{
		Messages:      bus.NewMessageRepository(conn, log),
		Heartbeats:    bus.NewHeartbeatRepository(conn, log),
		Registrations: bus.NewRegistrationRepository(conn, log),
		State:         bus.NewStateRepository(conn, log),
		Events:        events.NewBus(log),
		Log:           log,
	}, conn
}

// LedgerRepos builds the decision log and closed-position repositories over
// a fresh ledger database.
func LedgerRepos(t *testing.T) (*ledger.DecisionLogRepository, *ledger.ClosedPositionRepository) {
	t.Helper()

	conn := NewTestDB(t, "ledger").Conn()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return ledger.NewDecisionLogRepository(conn, log), ledger.NewClosedPositionRepository(conn, log)
}

// Conn is a convenience for tests that need raw SQL against a schema-less
// in-memory database.
func Conn(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
