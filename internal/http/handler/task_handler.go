package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/thruflo/torque/internal/poller"
	"github.com/thruflo/torque/internal/service"
	"github.com/thruflo/torque/internal/store"
)

type Handler struct {
	svc *service.TaskService
	db  *pgxpool.Pool // 可为 nil，readyz 跳过检查
	rdb *redis.Client // 可为 nil，stats 不含 worker/poller 指标
}

func New(svc *service.TaskService, db *pgxpool.Pool, rdb *redis.Client) *Handler {
	return &Handler{svc: svc, db: db, rdb: rdb}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	// 简单就绪检查：DB、Redis 都能 ping
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "db ping failed"})
			return
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "redis ping failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}

// POST /
// 入队：query 带目标 url（可选 timeout 秒数），请求体原样透传给 hook
func (h *Handler) Enqueue(c *gin.Context) {
	rawURL := c.Query("url")

	var timeout time.Duration
	if v := c.Query("timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}

	id, err := h.svc.CreateTask(c.Request.Context(), service.CreateTaskParams{
		URL:     rawURL,
		Body:    body,
		Headers: forwardHeaders(c.Request.Header),
		Timeout: timeout,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid url"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// GET /tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	t, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get task failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// DELETE /tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err := h.svc.DeleteTask(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// DELETE /
func (h *Handler) Purge(c *gin.Context) {
	if err := h.svc.PurgeAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": true})
}

// GET /stats
// 按状态聚合的任务数以存储为准；有 Redis 时附带在线 worker 数与 Poller 指标
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.svc.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	resp := gin.H{"tasks": counts}

	if h.rdb != nil {
		keys, _, err := h.rdb.Scan(ctx, 0, "torque:worker:*:heartbeat", 1000).Result()
		if err == nil {
			resp["workers"] = len(keys)
		}
		if last, err := h.rdb.HGetAll(ctx, poller.MetricsLastKey).Result(); err == nil && len(last) > 0 {
			resp["poller"] = last
		}
	}
	c.JSON(http.StatusOK, resp)
}

// 不转发给 hook 的请求头：凭证、逐跳头和传输细节
var droppedHeaders = map[string]struct{}{
	"Authorization":     {},
	"Host":              {},
	"Connection":        {},
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Te":                {},
	"Trailer":           {},
	"Accept-Encoding":   {},
}

// forwardHeaders 清洗入站请求头，剩余的存储转发（含 Content-Type）；
// 同名头有多个值时只保留第一个
func forwardHeaders(in http.Header) map[string]string {
	out := make(map[string]string, len(in))
	for name, values := range in {
		if _, drop := droppedHeaders[name]; drop || len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return out
}
