package backoff

import (
	"time"

	"github.com/thruflo/torque/internal/domain"
)

// Delay 计算第 attempts 次尝试失败后的重试延迟
//
//	linear:      base * attempts
//	exponential: base * 2^(attempts-1)
//
// 两种策略都钳制在 maxDelay 以内，保证 due_at 严格递增但间隔有界
func Delay(policy string, attempts int, base, maxDelay time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var d time.Duration
	switch policy {
	case domain.BackoffLinear:
		d = base * time.Duration(attempts)
	default:
		// 指数退避是默认策略
		shift := attempts - 1
		// 防溢出：延迟早已超过任何合理的 maxDelay
		if shift > 30 {
			shift = 30
		}
		d = base * time.Duration(1<<shift)
	}

	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	if d < base {
		d = base
	}
	return d
}
