package hook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/thruflo/torque/internal/domain"
)

// TaskIDHeader 外呼请求携带的任务标识头
const TaskIDHeader = "X-Task-Id"

// DefaultMaxRedirects 重定向跟随上限
const DefaultMaxRedirects = 5

// ErrTooManyRedirects 跟随重定向超过上限，按瞬时错误处理
var ErrTooManyRedirects = errors.New("hook: too many redirects")

// Outcome 响应分类结果
type Outcome int

const (
	OutcomeCompleted Outcome = iota // 200
	OutcomeFailed                   // 其余状态码：目标已接收或拒绝，重试不会成功
	OutcomeRetry                    // 5xx 或传输层错误
)

// Classify 按最终响应分类派发结果
// 规则:
//
//	传输错误（网络、超时、TLS、DNS、重定向超限）→ retry
//	恰为 200 → completed
//	500..599 → retry
//	其余（含 199、201、3xx、4xx）→ failed
func Classify(code int, err error) Outcome {
	if err != nil {
		return OutcomeRetry
	}
	switch {
	case code == http.StatusOK:
		return OutcomeCompleted
	case code >= 500 && code <= 599:
		return OutcomeRetry
	default:
		return OutcomeFailed
	}
}

// Client 执行外呼 POST 的 HTTP 客户端
// TLS 证书校验走默认 Transport，不做放宽
type Client struct {
	hc *http.Client
}

func NewClient(maxRedirects int) *Client {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Client{
		hc: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// via 含首个请求，已跟随的重定向数为 len(via)-1
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

// Post 向任务的目标 URL 发送一次 POST
// 说明:
//
//	请求体与存储字节完全一致，转发存储的请求头并附加 X-Task-Id；
//	任务的 timeout 作为整次请求（含重定向）的截止时间。
//	返回最终响应状态码；传输层失败时返回错误，由 Classify 归为瞬时
func (c *Client) Post(ctx context.Context, t *domain.Task) (int, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(t.Body))
	if err != nil {
		return 0, err
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(TaskIDHeader, t.ID.String())

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// 响应体不关心内容，读完以复用连接
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}
