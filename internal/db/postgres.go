package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Init(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	//连接测试
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
            id UUID PRIMARY KEY,
            url TEXT NOT NULL,
            body BYTEA NOT NULL DEFAULT ''::bytea,
            headers JSONB NOT NULL DEFAULT '{}'::jsonb,
            status TEXT NOT NULL,
            attempts INT NOT NULL DEFAULT 0,
            due_at TIMESTAMPTZ NOT NULL,
            claimed_until TIMESTAMPTZ,
            last_status_code INT,
            last_error TEXT NOT NULL DEFAULT '',
            timeout_seconds INT NOT NULL,
            backoff_policy TEXT NOT NULL,
            max_attempts INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// 派发筛选用索引
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_due_at ON tasks(status, due_at);`,
		// GC 扫描用索引
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_updated_at ON tasks(status, updated_at);`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
