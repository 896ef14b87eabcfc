package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Executor 同步执行单个 Action，不做重试
type Executor struct {
	pool *Pool
	log  *zap.Logger
}

// ExecutorOption 执行器可选参数
type ExecutorOption func(*Executor)

// WithExecutorLogger 指定日志
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func NewExecutor(pool *Pool, opts ...ExecutorOption) *Executor {
	e := &Executor{pool: pool, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute 借连接、执行、归还
//
// 服务端返回的错误（如 WRONGTYPE）说明连接本身正常，连接照常归还；
// 其余 I/O 错误会让连接作废。所有失败都包装为 *ExecutionError。
func (e *Executor) Execute(ctx context.Context, a Action) (err error) {
	if err = a.Validate(); err != nil {
		return &ExecutionError{Action: a, Err: err}
	}

	cn, err := e.pool.Borrow(ctx)
	if err != nil {
		return &ExecutionError{Action: a, Err: err}
	}
	defer func() {
		if err != nil && !isReplyError(err) {
			e.pool.Invalidate(cn)
			return
		}
		e.pool.Release(cn)
	}()

	if err = cn.Do(ctx, a.args()...).Err(); err != nil {
		e.log.Debug("execute failed",
			zap.Stringer("command", a.Command()),
			zap.String("key", a.Key()),
			zap.Error(err),
		)
		return &ExecutionError{Action: a, Err: err}
	}

	if key, ok := a.expireKey(); ok {
		if err = cn.Do(ctx, "pexpire", key, a.TTL().Milliseconds()).Err(); err != nil {
			return &ExecutionError{Action: a, Err: err}
		}
	}
	return nil
}

// Close 关闭连接池
func (e *Executor) Close() error {
	return e.pool.Close()
}

// Pool 底层连接池
func (e *Executor) Pool() *Pool { return e.pool }

func isReplyError(err error) bool {
	var reply redis.Error
	return errors.As(err, &reply)
}
