package redis

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig 配置错误（构造阶段，致命）
	ErrConfig = errors.New("redis: invalid config")
	// ErrMissingValue 必填项缺失
	ErrMissingValue = errors.New("missing value")
	// ErrInvalidArgument 参数非法（如空集合、负数）
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPoolExhausted 在限定时间内没有可用连接（可重试）
	ErrPoolExhausted = errors.New("redis: connection pool exhausted")
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("redis: connection pool closed")

	// ErrUnsupportedCommand 不支持的命令
	ErrUnsupportedCommand = errors.New("redis: unsupported command")
	// ErrInvalidAction Action 字段不完整
	ErrInvalidAction = errors.New("redis: invalid action")
)

// configError 包装为 ErrConfig + 具体原因，两者都可以用 errors.Is 判断
func configError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrConfig, kind, fmt.Sprintf(format, args...))
}

// ConnectionError 建立或校验连接失败
type ConnectionError struct {
	Op  string // dial | ping
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("redis: connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError 执行单个 Action 失败，调用方负责重试
type ExecutionError struct {
	Action Action
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("redis: execute %s %q: %v", e.Action.Command(), e.Action.Key(), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
