// Package queue 提供任务通知总线
// Redis 实现使用 List 数据结构做 FIFO 通道：生产者 RPUSH 任务 id，
// worker BLPOP 消费。通道不持久、不去重，丢消息由 Poller 兜底。
// 另提供 Poller 单例锁与 worker 心跳键。
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NotifyKey 通知队列的 Redis key
// 说明:
//
//	该 key 对应的 Redis List 存放待派发任务的 id 提示，
//	消费者取到 id 后仍须经存储认领，取到已被占用或已终态的 id 属正常现象
func NotifyKey() string {
	return "torque:notify"
}

// HeartbeatKey 生成 worker 心跳键
// 参数:
//
//	workerID: worker 唯一标识
//
// 返回:
//
//	Redis key 格式为 "torque:worker:{workerID}:heartbeat"
func HeartbeatKey(workerID string) string {
	return "torque:worker:" + workerID + ":heartbeat"
}

// Connect 建立 Redis 连接
// 流程:
//  1. 解析 Redis URL 获取连接配置
//  2. 创建 Redis 客户端实例
//  3. 通过 PING 命令验证连接是否正常
//  4. 连接失败时自动关闭客户端并返回错误
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisBus 是 NotifyBus 的 Redis List 实现
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// Publish 将任务 id 推入通知队列尾部
func (b *RedisBus) Publish(ctx context.Context, id uuid.UUID) error {
	return b.rdb.RPush(ctx, NotifyKey(), id.String()).Err()
}

// Consume 阻塞弹出一个任务 id
// 说明:
//
//	BLPOP 超时返回 ErrNoMessage，调用方以此为空闲信号转而轮询存储
func (b *RedisBus) Consume(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	res, err := b.rdb.BLPop(ctx, timeout, NotifyKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrNoMessage
		}
		return uuid.Nil, err
	}
	// BLPOP 返回 [key, value]
	if len(res) != 2 {
		return uuid.Nil, ErrNoMessage
	}
	id, err := uuid.Parse(res[1])
	if err != nil {
		// 队列里出现非法 id，丢弃
		return uuid.Nil, ErrNoMessage
	}
	return id, nil
}

// AcquireLock 尝试获取分布式锁（仅当不存在时成功），返回是否成功
// 使用场景:
//
//	多个 Poller 进程竞争单例锁，未持锁者跳过本轮扫描
func AcquireLock(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock 仅当持有者匹配时释放锁
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, owner string) (bool, error) {
	script := `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		else
			return 0
		end`

	cmd := rdb.Eval(ctx, script, []string{key}, owner)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	n, _ := cmd.Int()
	return n == 1, nil
}
