// Package tracestore persists a summary of every scheduled ScheduleItem
// to an optional SQL backend, selected by DSN scheme exactly the way
// the teacher's database module dispatches connection strings across
// drivers: sqlite (pure-Go default), postgres, mysql, and SQL Server.
// Writes happen off the scheduling hot path through a small worker
// pool, grounded on the teacher's concurrency module, so a slow or
// unreachable database can never stall create_schedule_with_vars.
package tracestore

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
	"golang.org/x/sync/errgroup"

	"lazysched/internal/costmodel"
	"lazysched/internal/ops"
)

// Record is one persisted summary row.
type Record struct {
	ASTDigest string
	Flops     int64
	MemBytes  int64
	Inputs    int
	Outputs   int
	ScheduledAt time.Time
}

// Store writes Records asynchronously to a SQL backend. A nil or
// unconfigured Store is a no-op sink, matching spec.md's "may be
// disabled" guidance for the optional ops log.
type Store struct {
	db     *sql.DB
	driver string
	jobs   chan Record
	group  *errgroup.Group
	closed chan struct{}
	once   sync.Once
}

// Open dials the backend named by dsn's scheme (sqlite://, postgres://,
// mysql://, sqlserver://) and starts a bounded worker pool draining
// Record writes. An empty dsn returns a disabled Store.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return &Store{}, nil
	}
	driver, conn, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("tracestore: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore: ping %s: %w", driver, err)
	}
	if err := ensureSchema(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, driver: driver, jobs: make(chan Record, 64), closed: make(chan struct{})}
	s.group = &errgroup.Group{}
	const workers = 2
	for i := 0; i < workers; i++ {
		s.group.Go(s.worker)
	}
	return s, nil
}

func driverFor(dsn string) (driver, conn string, err error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", "", fmt.Errorf("tracestore: dsn %q has no scheme", dsn)
	}
	switch scheme {
	case "sqlite":
		return "sqlite", rest, nil
	case "postgres", "postgresql":
		return "postgres", dsn, nil
	case "mysql":
		return "mysql", rest, nil
	case "sqlserver", "mssql":
		return "sqlserver", dsn, nil
	default:
		return "", "", fmt.Errorf("tracestore: unsupported dsn scheme %q", scheme)
	}
}

func ensureSchema(db *sql.DB, driver string) error {
	stmt := `CREATE TABLE IF NOT EXISTS schedule_traces (
		ast_digest TEXT,
		flops BIGINT,
		mem_bytes BIGINT,
		inputs INTEGER,
		outputs INTEGER,
		scheduled_at TIMESTAMP
	)`
	if driver == "sqlserver" {
		stmt = `IF NOT EXISTS (SELECT * FROM sysobjects WHERE name='schedule_traces' AND xtype='U')
			CREATE TABLE schedule_traces (
				ast_digest NVARCHAR(128), flops BIGINT, mem_bytes BIGINT,
				inputs INT, outputs INT, scheduled_at DATETIME2
			)`
	}
	_, err := db.Exec(stmt)
	return err
}

// insertStmt returns the insert statement with the parameter markers
// each driver's sql package expects: lib/pq needs $n, the rest accept
// the standard ? marker (go-sql-driver/mysql, modernc.org/sqlite and
// go-mssqldb all rewrite ? internally).
func (s *Store) insertStmt() string {
	base := "INSERT INTO schedule_traces (ast_digest, flops, mem_bytes, inputs, outputs, scheduled_at) VALUES (%s)"
	if s.driver == "postgres" {
		return fmt.Sprintf(base, "$1, $2, $3, $4, $5, $6")
	}
	return fmt.Sprintf(base, "?, ?, ?, ?, ?, ?")
}

func (s *Store) worker() error {
	stmt := s.insertStmt()
	for rec := range s.jobs {
		_, err := s.db.Exec(stmt,
			rec.ASTDigest, rec.Flops, rec.MemBytes, rec.Inputs, rec.Outputs, rec.ScheduledAt,
		)
		_ = err // best-effort: a write failure never surfaces to the scheduler
	}
	return nil
}

// RecordItem folds item's AST through the cost model and enqueues a
// Record for the write-behind worker pool. It never blocks the caller
// beyond the channel's buffer: on a full queue it drops the record
// rather than stalling scheduling.
func (s *Store) RecordItem(item *ops.ScheduleItem, scheduledAt time.Time) {
	if s == nil || s.db == nil {
		return
	}
	var flops, mem int64
	var digest []byte
	for _, ast := range item.AST {
		info := costmodel.GetLazyOpInfo(ast)
		flops += info.Flops
		mem += info.MemEstimate()
		digest = append(digest, ast.Key()...)
	}
	rec := Record{
		ASTDigest:   hex.EncodeToString(digest),
		Flops:       flops,
		MemBytes:    mem,
		Inputs:      len(item.Inputs),
		Outputs:     len(item.Outputs),
		ScheduledAt: scheduledAt,
	}
	select {
	case s.jobs <- rec:
	default:
	}
}

// Close drains and stops the worker pool, then closes the underlying
// connection. Safe to call on a disabled Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.once.Do(func() {
		close(s.jobs)
		s.group.Wait()
		close(s.closed)
	})
	return s.db.Close()
}
