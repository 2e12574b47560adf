package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Queue persisted in a single-table SQLite database, so writes
// made while offline survive a restart.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the queue database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	db.SetMaxOpenConns(1)

	q := &SQLite{db: db}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	return q, nil
}

func (q *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pending_operations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			grp TEXT NOT NULL DEFAULT '',
			op TEXT NOT NULL CHECK(op IN ('create','update','delete')),
			collection TEXT NOT NULL,
			document_id TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			merge_fields INTEGER NOT NULL DEFAULT 0,
			queued_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			dead INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_live ON pending_operations(dead, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_grp ON pending_operations(grp)`,
	}
	for _, m := range migrations {
		if _, err := q.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (q *SQLite) Enqueue(ctx context.Context, entries ...Entry) ([]Entry, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	out := make([]Entry, len(entries))
	for i, e := range entries {
		payload := ""
		if e.Payload != nil {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal payload: %w", err)
			}
			payload = string(data)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_operations (grp, op, collection, document_id, payload, merge_fields, queued_at, attempts, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Group, string(e.Op), e.Collection, e.DocumentID, payload, boolInt(e.Merge),
			e.QueuedAt.UnixNano(), e.Attempts, e.LastError)
		if err != nil {
			return nil, fmt.Errorf("insert pending operation: %w", err)
		}
		e.Seq, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read seq: %w", err)
		}
		out[i] = e
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return out, nil
}

func (q *SQLite) Next(ctx context.Context) ([]Entry, error) {
	head, err := q.query(ctx, `WHERE dead = 0 ORDER BY seq LIMIT 1`)
	if err != nil || len(head) == 0 {
		return nil, err
	}
	if head[0].Group == "" {
		return head, nil
	}
	return q.query(ctx, `WHERE dead = 0 AND grp = ? ORDER BY seq`, head[0].Group)
}

func (q *SQLite) Ack(ctx context.Context, seqs ...int64) error {
	return q.exec(ctx, `DELETE FROM pending_operations WHERE seq IN (%s)`, nil, seqs)
}

func (q *SQLite) Fail(ctx context.Context, reason string, seqs ...int64) error {
	return q.exec(ctx, `UPDATE pending_operations SET attempts = attempts + 1, last_error = ? WHERE seq IN (%s)`,
		[]any{reason}, seqs)
}

func (q *SQLite) Bury(ctx context.Context, reason string, seqs ...int64) error {
	return q.exec(ctx, `UPDATE pending_operations SET attempts = attempts + 1, last_error = ?, dead = 1 WHERE seq IN (%s)`,
		[]any{reason}, seqs)
}

func (q *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE dead = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return n, nil
}

func (q *SQLite) List(ctx context.Context) ([]Entry, error) {
	return q.query(ctx, `WHERE dead = 0 ORDER BY seq`)
}

func (q *SQLite) Dead(ctx context.Context) ([]Entry, error) {
	return q.query(ctx, `WHERE dead = 1 ORDER BY seq`)
}

func (q *SQLite) Close() error {
	return q.db.Close()
}

func (q *SQLite) exec(ctx context.Context, stmt string, args []any, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	for _, s := range seqs {
		args = append(args, s)
	}
	if _, err := q.db.ExecContext(ctx, fmt.Sprintf(stmt, marks), args...); err != nil {
		return fmt.Errorf("update pending operations: %w", err)
	}
	return nil
}

func (q *SQLite) query(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, grp, op, collection, document_id, payload, merge_fields, queued_at, attempts, last_error
		 FROM pending_operations `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			op      string
			payload string
			merge   int
			queued  int64
		)
		if err := rows.Scan(&e.Seq, &e.Group, &op, &e.Collection, &e.DocumentID, &payload, &merge, &queued, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan pending operation: %w", err)
		}
		e.Op = Op(op)
		e.Merge = merge != 0
		e.QueuedAt = time.Unix(0, queued)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("parse payload of %d: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
