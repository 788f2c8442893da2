package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/store"
)

const taskColumns = `id, url, body, headers, status, attempts, due_at, claimed_until,
        last_status_code, last_error, timeout_seconds, backoff_policy, max_attempts,
        created_at, updated_at`

type TaskStore struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Insert(ctx context.Context, t *domain.Task) error {
	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO tasks (id, url, body, headers, status, attempts, due_at, claimed_until,
            last_status_code, last_error, timeout_seconds, backoff_policy, max_attempts,
            created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, '', $8, $9, $10, NOW(), NOW())
    `, t.ID, t.URL, t.Body, headers, t.Status, t.Attempts, t.DueAt,
		int(t.Timeout/time.Second), t.BackoffPolicy, t.MaxAttempts)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: 唯一键冲突
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// Claim 用单条带条件的 UPDATE ... RETURNING 完成认领，
// 行锁保证两个并发认领者不会都看到认领前的状态
func (s *TaskStore) Claim(ctx context.Context, id uuid.UUID, now time.Time, d time.Duration) (*domain.Task, error) {
	// executing 且 claimed_until 已过期的行同样可认领：
	// worker 中途死亡后，认领过期即视为未在执行
	row := s.db.QueryRow(ctx, `
        UPDATE tasks
        SET status=$4, claimed_until=$3, attempts=attempts+1, updated_at=NOW()
        WHERE id=$1
          AND due_at <= $2
          AND (
                (status IN ($5, $6) AND (claimed_until IS NULL OR claimed_until <= $2))
             OR (status = $4 AND claimed_until <= $2)
              )
        RETURNING `+taskColumns+`
    `, id, now, now.Add(d), domain.StatusExecuting, domain.StatusPending, domain.StatusRetry)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotClaimable
		}
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID, attempts int, code int) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET status=$3, claimed_until=NULL, last_status_code=$4, last_error='', updated_at=NOW()
        WHERE id=$1 AND status=$5 AND attempts=$2
    `, id, attempts, domain.StatusCompleted, code, domain.StatusExecuting)
	if err != nil {
		return err
	}
	return s.checkFenced(ctx, tag, id)
}

func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, attempts int, code *int, reason string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET status=$3, claimed_until=NULL, last_status_code=$4, last_error=$5, updated_at=NOW()
        WHERE id=$1 AND status=$6 AND attempts=$2
    `, id, attempts, domain.StatusFailed, code, reason, domain.StatusExecuting)
	if err != nil {
		return err
	}
	return s.checkFenced(ctx, tag, id)
}

func (s *TaskStore) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, dueAt time.Time, code *int, reason string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET status=$3, claimed_until=NULL, due_at=$4, last_status_code=$5, last_error=$6, updated_at=NOW()
        WHERE id=$1 AND status=$7 AND attempts=$2
    `, id, attempts, domain.StatusRetry, dueAt, code, reason, domain.StatusExecuting)
	if err != nil {
		return err
	}
	return s.checkFenced(ctx, tag, id)
}

// checkFenced 区分栅栏拒绝与任务不存在
func (s *TaskStore) checkFenced(ctx context.Context, tag pgconn.CommandTag, id uuid.UUID) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrStaleAttempt
}

func (s *TaskStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id FROM tasks
        WHERE due_at <= $1
          AND (
                (status IN ($2, $3) AND (claimed_until IS NULL OR claimed_until <= $1))
             OR (status = $4 AND claimed_until <= $1)
              )
        ORDER BY due_at
        LIMIT $5
    `, now, domain.StatusPending, domain.StatusRetry, domain.StatusExecuting, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *TaskStore) SweepTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
        DELETE FROM tasks
        WHERE status IN ($2, $3) AND updated_at < $1
    `, olderThan, domain.StatusCompleted, domain.StatusFailed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *TaskStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tasks`)
	return err
}

func (s *TaskStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var headers []byte
	var timeoutSeconds int
	if err := row.Scan(
		&t.ID, &t.URL, &t.Body, &headers, &t.Status, &t.Attempts, &t.DueAt, &t.ClaimedUntil,
		&t.LastStatusCode, &t.LastError, &timeoutSeconds, &t.BackoffPolicy, &t.MaxAttempts,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &t.Headers); err != nil {
			return nil, err
		}
	}
	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	return &t, nil
}
