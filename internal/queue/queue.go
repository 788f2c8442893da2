package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoMessage 表示在等待窗口内没有消息可消费
var ErrNoMessage = errors.New("queue: no message")

// NotifyBus 是尽力而为的任务 id 推送通道，只作为轮询之上的优化：
// 消息丢失不丢任务，消费到 id 也不代表获得任务，仍须通过存储认领
type NotifyBus interface {
	// Publish 非阻塞发布，至多一次，允许丢失
	Publish(ctx context.Context, id uuid.UUID) error
	// Consume 阻塞等待一个 id，直到超时（ErrNoMessage）或 ctx 取消
	Consume(ctx context.Context, timeout time.Duration) (uuid.UUID, error)
}
