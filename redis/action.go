package redis

import (
	"fmt"
	"strings"
	"time"
)

// Command 支持的写命令
type Command int

const (
	SET Command = iota + 1
	SETNX
	APPEND
	INCRBY
	DECRBY
	LPUSH
	RPUSH
	SADD
	SREM
	PFADD
	PUBLISH
	HSET
)

var commandNames = map[Command]string{
	SET:     "SET",
	SETNX:   "SETNX",
	APPEND:  "APPEND",
	INCRBY:  "INCRBY",
	DECRBY:  "DECRBY",
	LPUSH:   "LPUSH",
	RPUSH:   "RPUSH",
	SADD:    "SADD",
	SREM:    "SREM",
	PFADD:   "PFADD",
	PUBLISH: "PUBLISH",
	HSET:    "HSET",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Valid 是否为已知命令
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommand 不区分大小写地解析命令名
func ParseCommand(s string) (Command, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for c, name := range commandNames {
		if name == upper {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCommand, s)
}

// Action 一次写操作，构造后不可修改
type Action struct {
	command       Command
	key           string
	value         string
	additionalKey string
	ttl           time.Duration
}

// ActionOption 可选字段
type ActionOption func(*Action)

// WithAdditionalKey HSET 的哈希表名
func WithAdditionalKey(key string) ActionOption {
	return func(a *Action) { a.additionalKey = key }
}

// WithTTL 写入后设置过期时间，0 表示不过期
func WithTTL(ttl time.Duration) ActionOption {
	return func(a *Action) { a.ttl = ttl }
}

func NewAction(cmd Command, key, value string, opts ...ActionOption) Action {
	a := Action{command: cmd, key: key, value: value}
	for _, o := range opts {
		o(&a)
	}
	return a
}

func (a Action) Command() Command      { return a.command }
func (a Action) Key() string           { return a.key }
func (a Action) Value() string         { return a.value }
func (a Action) AdditionalKey() string { return a.additionalKey }
func (a Action) TTL() time.Duration    { return a.ttl }

// SizeInBytes 只统计 value 的字节数，key 和命令本身不计入
func (a Action) SizeInBytes() int64 { return int64(len(a.value)) }

// Validate 检查命令和必填字段
func (a Action) Validate() error {
	if !a.command.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedCommand, a.command)
	}
	if a.key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidAction)
	}
	if a.command == HSET && a.additionalKey == "" {
		return fmt.Errorf("%w: HSET requires an additional key", ErrInvalidAction)
	}
	if a.ttl < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalidAction)
	}
	// 过期时间按毫秒下发，不足 1ms 会变成 PX 0 / PEXPIRE 0
	if a.ttl > 0 && a.ttl < time.Millisecond {
		return fmt.Errorf("%w: ttl %v below 1ms", ErrInvalidAction, a.ttl)
	}
	return nil
}

// args 组装发送给服务端的参数
func (a Action) args() []any {
	switch a.command {
	case SET:
		if a.ttl > 0 {
			return []any{"set", a.key, a.value, "px", a.ttl.Milliseconds()}
		}
		return []any{"set", a.key, a.value}
	case HSET:
		return []any{"hset", a.additionalKey, a.key, a.value}
	default:
		return []any{strings.ToLower(a.command.String()), a.key, a.value}
	}
}

// expireKey 需要单独 PEXPIRE 的键，SET 已在命令里带上过期时间
func (a Action) expireKey() (string, bool) {
	if a.ttl <= 0 {
		return "", false
	}
	switch a.command {
	case SET, PUBLISH:
		return "", false
	case HSET:
		return a.additionalKey, true
	default:
		return a.key, true
	}
}
