package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/restoflife/ql_sink/logger"
	"github.com/restoflife/ql_sink/redis"
	"github.com/restoflife/ql_sink/sink"
)

// Writer 服务依赖的写入接口，*sink.Writer 与 *sink.SyncWriter 都满足
type Writer interface {
	Write(ctx context.Context, a redis.Action) error
	Flush(ctx context.Context, endOfInput bool) error
}

// tryWriter 支持非阻塞提交的写入器
type tryWriter interface {
	TryWrite(a redis.Action) error
}

// Pinger 健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActionRequest POST /v1/actions 的单个元素
type ActionRequest struct {
	Command       string `json:"command" binding:"required"`
	Key           string `json:"key" binding:"required"`
	Value         string `json:"value"`
	AdditionalKey string `json:"additional_key"`
	TTLMS         int64  `json:"ttl_ms"`
}

// Action 转换为 redis.Action
func (r ActionRequest) Action() (redis.Action, error) {
	cmd, err := redis.ParseCommand(r.Command)
	if err != nil {
		return redis.Action{}, err
	}
	if r.TTLMS < 0 {
		return redis.Action{}, fmt.Errorf("%w: negative ttl_ms", redis.ErrInvalidAction)
	}
	a := redis.NewAction(cmd, r.Key, r.Value,
		redis.WithAdditionalKey(r.AdditionalKey),
		redis.WithTTL(time.Duration(r.TTLMS)*time.Millisecond),
	)
	if err = a.Validate(); err != nil {
		return redis.Action{}, err
	}
	return a, nil
}

// Server HTTP 接入
type Server struct {
	writer   Writer
	pinger   Pinger
	gatherer prometheus.Gatherer
	blocking bool
	log      *zap.Logger

	engine *gin.Engine
	srv    *http.Server
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPinger /healthz 使用的探活
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithGatherer /metrics 暴露的指标来源，默认 prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithBlocking 缓冲区满时阻塞请求而不是返回 429
func WithBlocking(b bool) Option {
	return func(s *Server) { s.blocking = b }
}

func New(addr string, w Writer, opts ...Option) *Server {
	s := &Server{
		writer:   w,
		gatherer: prometheus.DefaultGatherer,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(logger.GinLogger(s.log), logger.Recovery(s.log))
	s.engine.POST("/v1/actions", s.writeActions)
	s.engine.POST("/v1/flush", s.flush)
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 用于测试或挂到其他服务上
func (s *Server) Handler() http.Handler { return s.engine }

// Run 阻塞直到 Shutdown
func (s *Server) Run() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeActions(c *gin.Context) {
	var reqs []ActionRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 先整体校验，避免写入一半
	actions := make([]redis.Action, 0, len(reqs))
	for i, r := range reqs {
		a, err := r.Action()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
		actions = append(actions, a)
	}

	for i, a := range actions {
		if err := s.write(c.Request.Context(), a); err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error(), "index": i, "accepted": i})
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(actions)})
}

func (s *Server) write(ctx context.Context, a redis.Action) error {
	if !s.blocking {
		if tw, ok := s.writer.(tryWriter); ok {
			return tw.TryWrite(a)
		}
	}
	return s.writer.Write(ctx, a)
}

func (s *Server) flush(c *gin.Context) {
	end := false
	if v := c.Query("end"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be a boolean"})
			return
		}
		end = b
	}
	if err := s.writer.Flush(c.Request.Context(), end); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true, "end": end})
}

func (s *Server) health(c *gin.Context) {
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

// statusOf 错误到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, redis.ErrUnsupportedCommand), errors.Is(err, redis.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, sink.ErrRecordTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, sink.ErrBufferFull):
		return http.StatusTooManyRequests
	case errors.Is(err, sink.ErrClosed), errors.Is(err, redis.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
