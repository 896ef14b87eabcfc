package logger

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// 使用 sync.Pool 复用堆栈缓冲
var (
	stackPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, 64<<10) // 64KB 缓冲区
		},
	}

	// 探活和指标抓取默认不记录
	notlogged = []string{"/healthz", "/metrics"}
)

// ConfigGin 配置 Gin 日志中间件的结构体
type ConfigGin struct {
	Output    io.Writer // 终端摘要的输出目标，为终端时额外打印一行便于人读的摘要
	SkipPaths []string  // 指定不记录日志的请求路径
}

// GinLogger 创建默认的访问日志中间件
func GinLogger(logger *zap.Logger) gin.HandlerFunc {
	return WithConfig(logger, ConfigGin{
		Output:    gin.DefaultWriter,
		SkipPaths: notlogged,
	})
}

// WithConfig 使用指定配置构建 Gin 日志中间件
func WithConfig(log *zap.Logger, conf ConfigGin) gin.HandlerFunc {
	out := conf.Output
	if out == nil {
		out = gin.DefaultWriter
	}

	// 判断输出是否为终端
	isTerm := true
	if w, ok := out.(*os.File); !ok || os.Getenv("TERM") == "dumb" ||
		(!isatty.IsTerminal(w.Fd()) && !isatty.IsCygwinTerminal(w.Fd())) {
		isTerm = false
	}

	skip := make(map[string]struct{}, len(conf.SkipPaths))
	for _, path := range conf.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()

		if _, ok := skip[path]; ok {
			return
		}
		if raw != "" {
			path = path + "?" + raw
		}
		latency := time.Since(start)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("path", path),
			zap.Int("code", status),
			zap.String("method", c.Request.Method),
			zap.String("ip", c.ClientIP()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("latency", latency),
		}

		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			log.Error("[gin]", append(fields, zap.String("error", errs))...)
		} else if status >= http.StatusInternalServerError {
			log.Warn("[gin]", fields...)
		} else {
			log.Info("[gin]", fields...)
		}

		if isTerm {
			_, _ = fmt.Fprintf(out, "[gin] %3d | %13v | %15s | %-7s %s\n",
				status, latency, c.ClientIP(), c.Request.Method, path)
		}
	}
}

// Recovery 是一个 panic 恢复中间件，避免进程崩溃，并记录堆栈信息
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stack := stackPool.Get().([]byte)
		defer stackPool.Put(stack[:cap(stack)])

		defer func() {
			if err := recover(); err != nil {
				var rawReq []byte
				if c.Request != nil {
					rawReq, _ = httputil.DumpRequest(c.Request, false)
				}
				stack = stack[:runtime.Stack(stack[:cap(stack)], false)]
				logger.Error("[recovery]",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.ByteString("request", rawReq),
					zap.String("stack", string(stack)),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()

		c.Next()
	}
}
