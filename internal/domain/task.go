package domain

import (
	"time"

	"github.com/google/uuid"
)

// 任务状态
const (
	StatusPending   = "pending"   // 等待首次派发
	StatusExecuting = "executing" // 已被 worker 认领，claimed_until 之前有效
	StatusRetry     = "retry"     // 等待重试，due_at 到期后可再次认领
	StatusCompleted = "completed" // 终态：hook 返回 200
	StatusFailed    = "failed"    // 终态：永久失败或重试次数耗尽
)

// 退避策略
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Task 是核心唯一实体：一次待投递的 web hook 调用
type Task struct {
	ID             uuid.UUID         `json:"id"`                         // 唯一标识符ID
	URL            string            `json:"url"`                        // POST 的目标绝对 URL
	Body           []byte            `json:"body,omitempty"`             // 原样转发的请求体
	Headers        map[string]string `json:"headers,omitempty"`          // 转发的请求头（ingress 已清洗）
	Status         string            `json:"status"`                     // 任务状态
	Attempts       int               `json:"attempts"`                   // 派发尝试次数，只增不减
	DueAt          time.Time         `json:"due_at"`                     // 最早可派发时间
	ClaimedUntil   *time.Time        `json:"claimed_until,omitempty"`    // 认领到期时间，非空表示被占用
	LastStatusCode *int              `json:"last_status_code,omitempty"` // 最近一次响应状态码
	LastError      string            `json:"last_error,omitempty"`       // 最近一次失败原因
	Timeout        time.Duration     `json:"timeout"`                    // 单次外呼超时
	BackoffPolicy  string            `json:"backoff_policy"`             // linear/exponential
	MaxAttempts    *int              `json:"max_attempts,omitempty"`     // 重试上限，nil 表示无限重试
	CreatedAt      time.Time         `json:"created_at"`                 // 创建时间
	UpdatedAt      time.Time         `json:"updated_at"`                 // 更新时间
}

// Terminal 终态任务不再变更状态，只会被 GC 清理
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
