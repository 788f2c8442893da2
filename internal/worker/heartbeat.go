package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thruflo/torque/internal/queue"
)

// StartHeartbeat 周期刷新 worker 心跳键（TTL=ttl，刷新间隔=interval），
// /stats 依据存活的心跳键统计在线 worker 数
func StartHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl, interval time.Duration) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	_ = rdb.Set(ctx, queue.HeartbeatKey(workerID), "1", ttl).Err()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			_ = rdb.Set(ctx, queue.HeartbeatKey(workerID), "1", ttl).Err()
		}
	}
}
