// Package sqlstore implements legatus/pkg/store.Store over database/sql,
// grounded on the teacher's v2/task.SQLTaskStore: dialect-aware UPSERT,
// JSON-serialized entity columns, one store per *sql.DB. It supports the
// same three dialects the teacher wires drivers for: postgres
// (github.com/lib/pq), mysql (github.com/go-sql-driver/mysql) and sqlite
// (github.com/mattn/go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/errs"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/task"
)

// Dialect identifies the SQL flavor in use, normalized the way the
// teacher's store.go normalizes "sqlite3" to "sqlite".
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// Store is a database/sql-backed legatus/pkg/store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// New wraps an open *sql.DB. dialect is normalized ("sqlite3" -> "sqlite")
// and validated against the three supported drivers.
func New(db *sql.DB, dialect string, logger *slog.Logger) (*Store, error) {
	if dialect == "sqlite3" {
		dialect = string(DialectSQLite)
	}
	d := Dialect(dialect)
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return nil, errs.New("sqlstore", "New", errs.ErrPreconditionFail, "unsupported dialect: "+dialect)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, dialect: d, logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, errs.Wrap("sqlstore", "New", errs.ErrUnavailable, "schema init failed", err)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS legatus_tasks (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	status TEXT NOT NULL,
	project TEXT,
	seq INTEGER,
	body TEXT NOT NULL,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS legatus_agents (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS legatus_checkpoints (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	seq INTEGER,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS legatus_activity (
	seq INTEGER PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS legatus_costs (
	id INTEGER PRIMARY KEY,
	project TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS legatus_flags (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// upsertSQL returns the dialect-specific UPSERT for a single-row-by-id
// table storing a JSON body column, matching the teacher's per-dialect
// branch in SQLTaskStore.Save.
func (s *Store) upsertSQL(table string, extraCols ...string) string {
	cols := append([]string{"id"}, extraCols...)
	cols = append(cols, "body")
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, join(cols), join(placeholders))

	switch s.dialect {
	case DialectMySQL:
		return insert + " ON DUPLICATE KEY UPDATE " + assignments(cols, "VALUES(%s)")
	case DialectPostgres, DialectSQLite:
		return insert + " ON CONFLICT (id) DO UPDATE SET " + assignments(cols, "excluded.%s")
	default:
		return insert
	}
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func assignments(cols []string, valueFmt string) string {
	out := ""
	first := true
	for _, c := range cols {
		if c == "id" {
			continue
		}
		if !first {
			out += ", "
		}
		out += c + " = " + fmt.Sprintf(valueFmt, c)
		first = false
	}
	return out
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	return s.saveTask(ctx, t)
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	return s.saveTask(ctx, t)
}

func (s *Store) saveTask(ctx context.Context, t *task.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return errs.Wrap("sqlstore", "saveTask", errs.ErrPreconditionFail, "marshal task", err)
	}
	q := s.upsertSQL("legatus_tasks", "parent_id", "status", "project", "seq", "created_at", "updated_at")
	_, err = s.db.ExecContext(ctx, rebind(s.dialect, q),
		t.ID, t.ParentID, string(t.Status), t.Project, t.CreatedAt.UnixNano(), t.CreatedAt, t.UpdatedAt, body)
	if err != nil {
		return errs.Wrap("sqlstore", "saveTask", errs.ErrUnavailable, "exec upsert", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_tasks WHERE id = ?"), id)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("sqlstore", "GetTask", "task "+id+" not found")
		}
		return nil, errs.Wrap("sqlstore", "GetTask", errs.ErrUnavailable, "query", err)
	}
	var t task.Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, errs.Wrap("sqlstore", "GetTask", errs.ErrPreconditionFail, "unmarshal", err)
	}
	return &t, nil
}

func (s *Store) ListAllTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM legatus_tasks ORDER BY seq ASC")
	if err != nil {
		return nil, errs.Wrap("sqlstore", "ListAllTasks", errs.ErrUnavailable, "query", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := t.WithStatus(to, actor, detail)
	if err != nil {
		return nil, err
	}
	if err := s.saveTask(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) GetByStatus(ctx context.Context, state task.State) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_tasks WHERE status = ? ORDER BY seq ASC"), string(state))
	if err != nil {
		return nil, errs.Wrap("sqlstore", "GetByStatus", errs.ErrUnavailable, "query", err)
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) GetNextReady(ctx context.Context, parentID string) (*task.Task, error) {
	parent, err := s.GetTask(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var best *task.Task
	for _, childID := range parent.SubtaskIDs {
		child, err := s.GetTask(ctx, childID)
		if err != nil || child.Status != task.StatePlanned {
			continue
		}
		satisfied := true
		for _, depID := range child.DependsOn {
			dep, err := s.GetTask(ctx, depID)
			if err != nil || dep.Status != task.StateDone {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		if best == nil || child.Priority > best.Priority {
			best = child
		}
	}
	return best, nil
}

// --- Agents ---

func (s *Store) SaveAgent(ctx context.Context, a *agentrec.AgentRecord) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	q := s.upsertSQL("legatus_agents", "task_id")
	_, err = s.db.ExecContext(ctx, rebind(s.dialect, q), a.ID, a.TaskID, body)
	return err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agentrec.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_agents WHERE id = ?"), id)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("sqlstore", "GetAgent", "agent "+id+" not found")
		}
		return nil, err
	}
	var a agentrec.AgentRecord
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*agentrec.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM legatus_agents")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*agentrec.AgentRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var a agentrec.AgentRecord
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, "DELETE FROM legatus_agents WHERE id = ?"), id)
	return err
}

func (s *Store) AgentForTask(ctx context.Context, taskID string) (*agentrec.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_agents WHERE task_id = ? LIMIT 1"), taskID)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var a agentrec.AgentRecord
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Checkpoints ---

func (s *Store) SaveCheckpoint(ctx context.Context, c *checkpoint.Checkpoint) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	q := s.upsertSQL("legatus_checkpoints", "status", "seq")
	_, err = s.db.ExecContext(ctx, rebind(s.dialect, q), c.ID, string(c.Status), c.CreatedAt.UnixNano(), body)
	return err
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_checkpoints WHERE id = ?"), id)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("sqlstore", "GetCheckpoint", "checkpoint "+id+" not found")
		}
		return nil, err
	}
	var c checkpoint.Checkpoint
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PendingCheckpoints(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_checkpoints WHERE status = ? ORDER BY seq ASC"), string(checkpoint.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var c checkpoint.Checkpoint
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- Activity log ---

func (s *Store) AppendActivity(ctx context.Context, msg pubsub.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO legatus_activity (seq, body) VALUES (?, ?)",
		time.Now().UnixNano(), body); err != nil {
		return err
	}
	// enforce the 1,000-entry cap (invariant I5) by trimming the oldest rows.
	_, err = s.db.ExecContext(ctx, `DELETE FROM legatus_activity WHERE seq NOT IN (
		SELECT seq FROM legatus_activity ORDER BY seq DESC LIMIT 1000)`)
	return err
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]pubsub.Message, error) {
	q := "SELECT body FROM legatus_activity ORDER BY seq DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, rebind(s.dialect, q+" LIMIT ?"), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pubsub.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m pubsub.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Cost ledger ---

func (s *Store) AddCost(ctx context.Context, e store.CostEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, rebind(s.dialect, "INSERT INTO legatus_costs (project, body) VALUES (?, ?)"), e.Project, body)
	return err
}

func (s *Store) CostSummary(ctx context.Context, project string) (store.CostSummary, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, "SELECT body FROM legatus_costs WHERE project = ?"), project)
	if err != nil {
		return store.CostSummary{}, err
	}
	defer rows.Close()

	summary := store.CostSummary{ByRole: make(map[string]float64)}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return store.CostSummary{}, err
		}
		var e store.CostEntry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return store.CostSummary{}, err
		}
		summary.Total += e.Cost
		summary.ByRole[e.AgentRole] += e.Cost
		summary.Entries = append(summary.Entries, e)
	}
	return summary, rows.Err()
}

// --- Paused flag ---

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	val := "false"
	if paused {
		val = "true"
	}
	q := s.upsertFlagSQL()
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, q), "paused", val)
	return err
}

func (s *Store) upsertFlagSQL() string {
	switch s.dialect {
	case DialectMySQL:
		return "INSERT INTO legatus_flags (name, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)"
	default:
		return "INSERT INTO legatus_flags (name, value) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET value = excluded.value"
	}
}

func (s *Store) IsPaused(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT value FROM legatus_flags WHERE name = ?"), "paused")
	var val string
	if err := row.Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return val == "true", nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders to "$1"-style for postgres; mysql and
// sqlite both accept "?" directly via their driver's query rewriting.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
