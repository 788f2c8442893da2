package poller

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store"
)

// LockKey Poller 单例锁的 Redis key
const LockKey = "torque:lock:poller"

// MetricsTicksKey / MetricsLastKey Poller 在 Redis 侧的运行指标
const (
	MetricsTicksKey = "torque:metrics:poller:ticks"
	MetricsLastKey  = "torque:metrics:poller:last"
)

// Poller 周期扫描存储，把到期任务的 id 重新发布到通知总线，
// 并按 GC 计划清理过期终态任务。
// 总线丢消息、延迟重试到期时，它与 worker 池的空闲轮询一起保证活性，
// 自身从不认领任务。
type Poller struct {
	store   store.TaskStore
	bus     queue.NotifyBus
	rdb     *redis.Client // 可为 nil：跳过单例锁与指标
	ownerID string

	interval  time.Duration
	batch     int
	gcSched   cron.Schedule
	retention time.Duration
}

// New 创建 Poller。gcSchedule 是 robfig/cron 表达式（支持 "@every 1m"）
func New(s store.TaskStore, bus queue.NotifyBus, rdb *redis.Client, ownerID string,
	interval time.Duration, batch int, gcSchedule string, retention time.Duration) (*Poller, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(gcSchedule)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Poller{
		store:     s,
		bus:       bus,
		rdb:       rdb,
		ownerID:   ownerID,
		interval:  interval,
		batch:     batch,
		gcSched:   sched,
		retention: retention,
	}, nil
}

// Run 阻塞运行到 ctx 取消
func (p *Poller) Run(ctx context.Context) {
	log.Printf("poller started, interval=%s batch=%d", p.interval, p.batch)
	tkr := time.NewTicker(p.interval)
	defer tkr.Stop()

	nextGC := p.gcSched.Next(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.Println("poller stopped")
			return
		case <-tkr.C:
			p.tick(ctx, &nextGC)
		}
	}
}

func (p *Poller) tick(ctx context.Context, nextGC *time.Time) {
	// 多进程部署时竞争单例锁，未持锁者跳过本轮；
	// 锁带 TTL，持有者死亡后自动让位
	if p.rdb != nil {
		got, err := queue.AcquireLock(ctx, p.rdb, LockKey, p.ownerID, 2*p.interval)
		if err != nil || !got {
			return
		}
		defer func() { _, _ = queue.ReleaseLock(ctx, p.rdb, LockKey, p.ownerID) }()
	}

	now := time.Now()
	ids, err := p.store.SelectDue(ctx, now, p.batch)
	if err != nil {
		log.Printf("poller select due failed: %v", err)
		return
	}
	published := 0
	for _, id := range ids {
		if err := p.bus.Publish(ctx, id); err != nil {
			// 发布失败不致命，worker 的轮询兜底会接手
			log.Printf("poller publish %s failed: %v", id, err)
			break
		}
		published++
	}

	var swept int64
	if !now.Before(*nextGC) {
		swept, err = p.store.SweepTerminal(ctx, now.Add(-p.retention))
		if err != nil {
			log.Printf("gc sweep failed: %v", err)
		} else if swept > 0 {
			log.Printf("gc swept %d terminal tasks", swept)
		}
		*nextGC = p.gcSched.Next(now)
	}

	if p.rdb != nil {
		_ = p.rdb.Incr(ctx, MetricsTicksKey).Err()
		_ = p.rdb.HSet(ctx, MetricsLastKey, map[string]any{
			"time":      now.Format(time.RFC3339),
			"due_count": len(ids),
			"published": published,
			"swept":     swept,
		}).Err()
	}
}
