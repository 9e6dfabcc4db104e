package audit

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// postgresWriter appends AuthzCheckEvents to a Postgres table, the optional
// durable sink alongside stdout/file/syslog for deployments that need
// queryable compliance history rather than just a log stream. Schema
// migrations run once at construction via golang-migrate.
type postgresWriter struct {
	db   *sql.DB
	mu   sync.Mutex
	stmt *sql.Stmt
}

// NewPostgresWriter opens dsn, runs pending migrations from the embedded
// migrations directory, and returns a Writer that inserts one row per
// AuthzCheckEvent. Other event values (startup/shutdown markers,
// policy-change events) are accepted and skipped: Write returns nil for
// them and stores no row.
func NewPostgresWriter(dsn string) (Writer, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO authz_check_events
			(event_id, request_id, occurred_at, principal_id, resource_kind, resource_id,
			 action, decision, determining, duration_us, cache_hit, hash, prev_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (event_id) DO NOTHING`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &postgresWriter{db: db, stmt: stmt}, nil
}

func (w *postgresWriter) Write(event interface{}) error {
	check, ok := event.(*AuthzCheckEvent)
	if !ok {
		return nil // non-decision events (startup/shutdown/policy-change) have no row shape here
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(check.Policies))
	for _, p := range check.Policies {
		if p.Matched {
			ids = append(ids, p.ID)
		}
	}
	determining, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal determining policies: %w", err)
	}

	_, err = w.stmt.Exec(
		check.EventID, check.RequestID, check.Timestamp,
		check.Principal.ID, check.Resource.Kind, check.Resource.ID,
		check.Action, string(check.Decision), determining,
		check.Performance.DurationUs, check.Performance.CacheHit,
		check.Hash, check.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("insert authz check event: %w", err)
	}
	return nil
}

func (w *postgresWriter) Close() error {
	w.stmt.Close()
	return w.db.Close()
}
