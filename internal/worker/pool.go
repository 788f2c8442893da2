package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store"
)

// Pool 运行 N 个并发 worker。每个 worker 循环：
// 等总线消息 → 认领 → 派发；总线空闲或不可用时改为向存储要一批到期任务。
// 总线只影响延迟，不影响正确性。
type Pool struct {
	store  store.TaskStore
	bus    queue.NotifyBus
	runner *Runner

	size  int
	idle  time.Duration // Consume 等待窗口，也是轮询兜底的节拍
	batch int

	wg sync.WaitGroup
}

func NewPool(s store.TaskStore, bus queue.NotifyBus, runner *Runner, size int, idle time.Duration, batch int) *Pool {
	if size <= 0 {
		size = 1
	}
	if idle <= 0 {
		idle = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Pool{store: s, bus: bus, runner: runner, size: size, idle: idle, batch: batch}
}

// Run 启动所有 worker 并阻塞到 ctx 取消且在途派发全部结束。
// 停机时立即停止接收新 id，在途尝试由外呼超时兜底。
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := p.bus.Consume(ctx, p.idle)
		switch {
		case err == nil:
			// 派发用独立 context：认领成立后本次尝试要收尾，不随停机中断
			p.runner.Dispatch(context.Background(), id)

		case errors.Is(err, queue.ErrNoMessage):
			// 总线空闲，向存储要一批到期任务
			p.pollOnce(ctx)

		case ctx.Err() != nil:
			return

		default:
			// 总线不可用，退化为纯轮询
			log.Printf("bus consume failed, falling back to polling: %v", err)
			p.pollOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idle):
			}
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context) {
	ids, err := p.store.SelectDue(ctx, time.Now(), p.batch)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("select due failed: %v", err)
		}
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p.runner.Dispatch(context.Background(), id)
	}
}
