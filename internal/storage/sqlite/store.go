// Package sqlite implements the usage and profile stores on SQLite,
// providing durable per-user counters for single-instance deployments.
// Counter increments are single UPDATE ... RETURNING statements, so
// concurrent requests cannot lose updates, and the under-limit check reads
// usage and plan ceilings in one query.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"limitgate/internal/storage"
)

// Config configures the SQLite store
type Config struct {
	// Path is the database file path
	Path string
	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// Store implements storage.UsageStore and storage.ProfileStore on SQLite
type Store struct {
	db        *sql.DB
	done      chan struct{}
	closeOnce sync.Once

	underLimitStmts map[storage.LimitType]*sql.Stmt
	incrementStmts  map[storage.LimitType]*sql.Stmt
	usageStmt       *sql.Stmt
	profileStmt     *sql.Stmt
	planStmt        *sql.Stmt
}

// NewStore opens (or creates) the database and prepares its statements
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:   db,
		done: make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	go s.checkpointLoop(cfg.CheckpointInterval)

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		email   TEXT NOT NULL DEFAULT '',
		role    TEXT NOT NULL DEFAULT 'user',
		plan    TEXT NOT NULL DEFAULT 'free'
	);

	CREATE TABLE IF NOT EXISTS usage_metrics (
		user_id          TEXT PRIMARY KEY REFERENCES profiles(user_id),
		scan_count       INTEGER NOT NULL DEFAULT 0,
		prompt_count     INTEGER NOT NULL DEFAULT 0,
		competitor_count INTEGER NOT NULL DEFAULT 0,
		report_count     INTEGER NOT NULL DEFAULT 0,
		last_reset       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_limits (
		plan            TEXT PRIMARY KEY,
		max_sites       INTEGER,
		max_prompts     INTEGER,
		max_scans       INTEGER,
		max_competitors INTEGER,
		max_reports     INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_usage_last_reset ON usage_metrics(last_reset);
	`

	_, err := s.db.Exec(schema)
	return err
}

// counterColumn maps a metered limit type to its usage counter column.
// Column names come from this fixed table, never from input.
func counterColumn(lt storage.LimitType) (string, bool) {
	switch lt {
	case storage.LimitScans:
		return "scan_count", true
	case storage.LimitPrompts:
		return "prompt_count", true
	case storage.LimitCompetitors:
		return "competitor_count", true
	case storage.LimitReports:
		return "report_count", true
	default:
		return "", false
	}
}

// limitColumn maps a limit type to its plan ceiling column
func limitColumn(lt storage.LimitType) string {
	switch lt {
	case storage.LimitScans:
		return "max_scans"
	case storage.LimitPrompts:
		return "max_prompts"
	case storage.LimitCompetitors:
		return "max_competitors"
	case storage.LimitReports:
		return "max_reports"
	case storage.LimitSites:
		return "max_sites"
	default:
		return ""
	}
}

func (s *Store) prepareStatements() error {
	s.underLimitStmts = make(map[storage.LimitType]*sql.Stmt)
	s.incrementStmts = make(map[storage.LimitType]*sql.Stmt)

	metered := []storage.LimitType{
		storage.LimitScans,
		storage.LimitPrompts,
		storage.LimitCompetitors,
		storage.LimitReports,
	}

	for _, lt := range metered {
		counter, _ := counterColumn(lt)
		ceiling := limitColumn(lt)

		// NULL ceiling means unlimited and always passes
		underLimit, err := s.db.Prepare(fmt.Sprintf(`
			SELECT CASE
				WHEN pl.%s IS NULL THEN 1
				WHEN um.%s < pl.%s THEN 1
				ELSE 0
			END
			FROM profiles p
			JOIN usage_metrics um ON um.user_id = p.user_id
			JOIN plan_limits pl ON pl.plan = p.plan
			WHERE p.user_id = ?
		`, ceiling, counter, ceiling))
		if err != nil {
			return fmt.Errorf("prepare under-limit for %s: %w", lt, err)
		}
		s.underLimitStmts[lt] = underLimit

		increment, err := s.db.Prepare(fmt.Sprintf(`
			UPDATE usage_metrics SET %s = %s + 1 WHERE user_id = ? RETURNING %s
		`, counter, counter, counter))
		if err != nil {
			return fmt.Errorf("prepare increment for %s: %w", lt, err)
		}
		s.incrementStmts[lt] = increment
	}

	var err error
	s.usageStmt, err = s.db.Prepare(`
		SELECT user_id, scan_count, prompt_count, competitor_count, report_count, last_reset
		FROM usage_metrics WHERE user_id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare usage: %w", err)
	}

	s.profileStmt, err = s.db.Prepare(`
		SELECT user_id, email, role, plan FROM profiles WHERE user_id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare profile: %w", err)
	}

	s.planStmt, err = s.db.Prepare(`
		SELECT plan, max_sites, max_prompts, max_scans, max_competitors, max_reports
		FROM plan_limits WHERE plan = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare plan limits: %w", err)
	}

	return nil
}

// UpsertProfile creates or updates a user profile and its usage row
func (s *Store) UpsertProfile(ctx context.Context, p *storage.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email, role, plan) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET email = excluded.email, role = excluded.role, plan = excluded.plan
	`, p.UserID, p.Email, p.Role, string(p.Plan))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_metrics (user_id, last_reset) VALUES (?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`, p.UserID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create usage row: %w", err)
	}

	return tx.Commit()
}

// UpsertPlanLimits creates or updates a plan's ceilings
func (s *Store) UpsertPlanLimits(ctx context.Context, limits *storage.PlanLimits) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_limits (plan, max_sites, max_prompts, max_scans, max_competitors, max_reports)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan) DO UPDATE SET
			max_sites = excluded.max_sites,
			max_prompts = excluded.max_prompts,
			max_scans = excluded.max_scans,
			max_competitors = excluded.max_competitors,
			max_reports = excluded.max_reports
	`, string(limits.Plan),
		nullable(limits.MaxSites),
		nullable(limits.MaxPrompts),
		nullable(limits.MaxScans),
		nullable(limits.MaxCompetitors),
		nullable(limits.MaxReports),
	)
	if err != nil {
		return fmt.Errorf("upsert plan limits: %w", err)
	}
	return nil
}

// UnderLimit reports whether the user's counter is below the plan ceiling
func (s *Store) UnderLimit(ctx context.Context, userID string, limitType storage.LimitType) (bool, error) {
	stmt, ok := s.underLimitStmts[limitType]
	if !ok {
		return false, storage.ErrNotMetered
	}

	var under int
	err := stmt.QueryRowContext(ctx, userID).Scan(&under)
	if err == sql.ErrNoRows {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("under-limit query: %w", err)
	}
	return under == 1, nil
}

// Increment atomically adds one to the user's counter and returns the new value
func (s *Store) Increment(ctx context.Context, userID string, limitType storage.LimitType) (int, error) {
	stmt, ok := s.incrementStmts[limitType]
	if !ok {
		return 0, storage.ErrNotMetered
	}

	var count int
	err := stmt.QueryRowContext(ctx, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment: %w", err)
	}
	return count, nil
}

// Usage returns the user's current usage metrics
func (s *Store) Usage(ctx context.Context, userID string) (*storage.UsageMetrics, error) {
	var m storage.UsageMetrics
	var lastReset int64

	err := s.usageStmt.QueryRowContext(ctx, userID).Scan(
		&m.UserID, &m.ScanCount, &m.PromptCount, &m.CompetitorCount, &m.ReportCount, &lastReset,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("usage query: %w", err)
	}

	m.LastReset = time.Unix(lastReset, 0)
	return &m, nil
}

// ResetUsage zeroes all counters for a user and stamps last_reset
func (s *Store) ResetUsage(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_metrics
		SET scan_count = 0, prompt_count = 0, competitor_count = 0, report_count = 0, last_reset = ?
		WHERE user_id = ?
	`, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ResetAllBefore zeroes counters for users whose last reset predates cutoff
func (s *Store) ResetAllBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_metrics
		SET scan_count = 0, prompt_count = 0, competitor_count = 0, report_count = 0, last_reset = ?
		WHERE last_reset < ?
	`, time.Now().Unix(), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("reset all: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// PlanLimits returns the ceilings for a plan
func (s *Store) PlanLimits(ctx context.Context, plan storage.Plan) (*storage.PlanLimits, error) {
	var (
		planName                                             string
		maxSites, maxPrompts, maxScans, maxComps, maxReports sql.NullInt64
	)

	err := s.planStmt.QueryRowContext(ctx, string(plan)).Scan(
		&planName, &maxSites, &maxPrompts, &maxScans, &maxComps, &maxReports,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("plan limits query: %w", err)
	}

	return &storage.PlanLimits{
		Plan:           storage.Plan(planName),
		MaxSites:       fromNullable(maxSites),
		MaxPrompts:     fromNullable(maxPrompts),
		MaxScans:       fromNullable(maxScans),
		MaxCompetitors: fromNullable(maxComps),
		MaxReports:     fromNullable(maxReports),
	}, nil
}

// Profile resolves a user id to its profile record
func (s *Store) Profile(ctx context.Context, userID string) (*storage.Profile, error) {
	var p storage.Profile
	var plan string

	err := s.profileStmt.QueryRowContext(ctx, userID).Scan(&p.UserID, &p.Email, &p.Role, &plan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile query: %w", err)
	}

	p.Plan = storage.Plan(plan)
	return &p, nil
}

// Analytics aggregates usage across all users in two queries
func (s *Store) Analytics(ctx context.Context) (*storage.AnalyticsSnapshot, error) {
	snapshot := &storage.AnalyticsSnapshot{
		UsersByPlan: make(map[string]int),
		GeneratedAt: time.Now(),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT plan, COUNT(*) FROM profiles GROUP BY plan")
	if err != nil {
		return nil, fmt.Errorf("analytics plan query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var plan string
		var count int
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("analytics plan scan: %w", err)
		}
		snapshot.UsersByPlan[plan] = count
		snapshot.TotalUsers += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics plan rows: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(scan_count), 0),
		       COALESCE(SUM(prompt_count), 0),
		       COALESCE(SUM(competitor_count), 0),
		       COALESCE(SUM(report_count), 0)
		FROM usage_metrics`).
		Scan(&snapshot.TotalScans, &snapshot.TotalPrompts, &snapshot.TotalCompetitors, &snapshot.TotalReports)
	if err != nil {
		return nil, fmt.Errorf("analytics usage query: %w", err)
	}

	return snapshot, nil
}

// Close releases statements and the database. Close is idempotent.
func (s *Store) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range s.underLimitStmts {
			stmt.Close()
		}
		for _, stmt := range s.incrementStmts {
			stmt.Close()
		}
		if s.usageStmt != nil {
			s.usageStmt.Close()
		}
		if s.profileStmt != nil {
			s.profileStmt.Close()
		}
		if s.planStmt != nil {
			s.planStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints
func (s *Store) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func nullable(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func fromNullable(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

var (
	_ storage.UsageStore     = (*Store)(nil)
	_ storage.ProfileStore   = (*Store)(nil)
	_ storage.AnalyticsStore = (*Store)(nil)
)
