package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// GetResource retrieves a resource by ID.
func (s *SQLiteStore) GetResource(ctx context.Context, resourceID string) (*engine.Resource, error) {
	query := `
		SELECT id, type, name, phase, status, config, state, labels, dependencies, version, created_at, updated_at
		FROM resources
		WHERE id = ?
	`

	var (
		res          engine.Resource
		phase        string
		state        sql.NullString
		labels       sql.NullString
		dependencies sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, resourceID).Scan(
		&res.ID,
		&res.Type,
		&res.Name,
		&phase,
		&res.Status,
		(*stringRawMessage)(&res.Config),
		&state,
		&labels,
		&dependencies,
		&res.Version,
		&res.CreatedAt,
		&res.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError(fmt.Sprintf("resource not found: %s", resourceID), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	res.Phase = engine.Phase(phase)
	if state.Valid {
		res.State = json.RawMessage(state.String)
	}
	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &res.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode resource labels: %w", err)
		}
	}
	if dependencies.Valid && dependencies.String != "" {
		if err := json.Unmarshal([]byte(dependencies.String), &res.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode resource dependencies: %w", err)
		}
	}

	return &res, nil
}

// SaveResource inserts or updates a resource record.
func (s *SQLiteStore) SaveResource(ctx context.Context, resource *engine.Resource) error {
	query := `
		INSERT INTO resources (
			id, type, name, phase, status, config, state, labels, dependencies, hash, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			phase = excluded.phase,
			status = excluded.status,
			config = excluded.config,
			state = excluded.state,
			labels = excluded.labels,
			dependencies = excluded.dependencies,
			hash = excluded.hash,
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	labels, err := marshalNullable(resource.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode resource labels: %w", err)
	}
	dependencies, err := marshalNullable(resource.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to encode resource dependencies: %w", err)
	}

	config := resource.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	var state *string
	if len(resource.State) > 0 {
		v := string(resource.State)
		state = &v
	}

	_, err = s.db.ExecContext(ctx, query,
		resource.ID,
		resource.Type,
		resource.Name,
		string(resource.Phase),
		resource.Status,
		string(config),
		state,
		labels,
		dependencies,
		StateHash(resource.State),
		resource.Version,
		resource.CreatedAt,
		resource.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}

	return nil
}

// DeleteResource removes a resource from state.
func (s *SQLiteStore) DeleteResource(ctx context.Context, resourceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewPermanentError(fmt.Sprintf("resource not found: %s", resourceID), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(resourceID)
	}

	return nil
}

// ListResources lists all resources whose labels match the selector.
// An empty selector matches everything.
func (s *SQLiteStore) ListResources(ctx context.Context, selector map[string]string) ([]engine.Resource, error) {
	query := `
		SELECT id, type, name, phase, status, config, state, labels, dependencies, version, created_at, updated_at
		FROM resources
		ORDER BY phase, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []engine.Resource{}
	for rows.Next() {
		var (
			res          engine.Resource
			phase        string
			state        sql.NullString
			labels       sql.NullString
			dependencies sql.NullString
		)

		err := rows.Scan(
			&res.ID,
			&res.Type,
			&res.Name,
			&phase,
			&res.Status,
			(*stringRawMessage)(&res.Config),
			&state,
			&labels,
			&dependencies,
			&res.Version,
			&res.CreatedAt,
			&res.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}

		res.Phase = engine.Phase(phase)
		if state.Valid {
			res.State = json.RawMessage(state.String)
		}
		if labels.Valid && labels.String != "" {
			if err := json.Unmarshal([]byte(labels.String), &res.Labels); err != nil {
				return nil, fmt.Errorf("failed to decode resource labels: %w", err)
			}
		}
		if dependencies.Valid && dependencies.String != "" {
			if err := json.Unmarshal([]byte(dependencies.String), &res.Dependencies); err != nil {
				return nil, fmt.Errorf("failed to decode resource dependencies: %w", err)
			}
		}

		if !matchesSelector(res.Labels, selector) {
			continue
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// GetPlan retrieves a plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (*engine.Plan, error) {
	query := `SELECT payload FROM plans WHERE id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError(fmt.Sprintf("plan not found: %s", planID), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	plan := &engine.Plan{}
	if err := json.Unmarshal([]byte(payload), plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	return plan, nil
}

// SavePlan persists a plan as a single JSON payload.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.Plan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	query := `
		INSERT INTO plans (id, environment, phase, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			environment = excluded.environment,
			phase = excluded.phase,
			payload = excluded.payload
	`

	_, err = s.db.ExecContext(ctx, query,
		plan.ID,
		plan.Environment,
		string(plan.Phase),
		string(payload),
		plan.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*engine.Run, error) {
	query := `
		SELECT id, plan_id, environment, phase, status, started_at, completed_at, duration_ms, user, summary
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError(fmt.Sprintf("run not found: %s", runID), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// SaveRun inserts or updates a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	query := `
		INSERT INTO runs (id, plan_id, environment, phase, status, started_at, completed_at, duration_ms, user, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			summary = excluded.summary
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		run.Environment,
		string(run.Phase),
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Duration.Milliseconds(),
		run.User,
		string(summary),
	)

	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// ListRuns lists runs for an environment, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, environment string, limit int) ([]engine.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, plan_id, environment, phase, status, started_at, completed_at, duration_ms, user, summary
		FROM runs
		WHERE environment = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends an event to the event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	details, err := marshalNullable(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}

	query := `
		INSERT INTO events (id, run_id, plan_unit_id, resource_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		nullable(event.PlanUnitID),
		nullable(event.ResourceID),
		string(event.Type),
		event.Level,
		event.Message,
		details,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves all events for a run in timeline order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]engine.Event, error) {
	query := `
		SELECT id, run_id, plan_unit_id, resource_id, type, level, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []engine.Event{}
	for rows.Next() {
		var (
			event      engine.Event
			planUnitID sql.NullString
			resourceID sql.NullString
			eventType  string
			details    sql.NullString
		)

		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&planUnitID,
			&resourceID,
			&eventType,
			&event.Level,
			&event.Message,
			&details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Type = engine.EventType(eventType)
		event.PlanUnitID = planUnitID.String
		event.ResourceID = resourceID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &event.Details); err != nil {
				return nil, fmt.Errorf("failed to decode event details: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SavePhaseOutputs persists the typed outputs of a completed phase.
func (s *SQLiteStore) SavePhaseOutputs(ctx context.Context, environment string, phase engine.Phase, outputs json.RawMessage) error {
	query := `
		INSERT INTO phase_outputs (environment, phase, outputs, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(environment, phase) DO UPDATE SET
			outputs = excluded.outputs,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, environment, string(phase), string(outputs), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save phase outputs: %w", err)
	}

	return nil
}

// GetPhaseOutputs retrieves the stored outputs of a phase.
func (s *SQLiteStore) GetPhaseOutputs(ctx context.Context, environment string, phase engine.Phase) (json.RawMessage, error) {
	query := `SELECT outputs FROM phase_outputs WHERE environment = ? AND phase = ?`

	var outputs string
	err := s.db.QueryRowContext(ctx, query, environment, string(phase)).Scan(&outputs)
	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("phase outputs not found: %s/%s", environment, phase), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get phase outputs: %w", err)
	}

	return json.RawMessage(outputs), nil
}

// RecordAudit creates a new audit trail entry.
func (s *SQLiteStore) RecordAudit(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans one run row.
func scanRun(row scanner) (*engine.Run, error) {
	var (
		run         engine.Run
		phase       string
		completedAt sql.NullTime
		durationMS  int64
		summary     string
	)

	err := row.Scan(
		&run.ID,
		&run.PlanID,
		&run.Environment,
		&phase,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&durationMS,
		&run.User,
		&summary,
	)
	if err != nil {
		return nil, err
	}

	run.Phase = engine.Phase(phase)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if summary != "" {
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
	}

	return &run, nil
}

// stringRawMessage scans a TEXT column into a json.RawMessage.
type stringRawMessage json.RawMessage

func (m *stringRawMessage) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		*m = stringRawMessage(v)
		return nil
	case []byte:
		*m = stringRawMessage(append([]byte(nil), v...))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into json.RawMessage", src)
	}
}

// marshalNullable marshals a value to a JSON string, or nil for empty input.
func marshalNullable(v interface{}) (*string, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// nullable converts an empty string to a NULL parameter.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// matchesSelector reports whether labels satisfy every selector entry.
func matchesSelector(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
