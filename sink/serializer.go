package sink

import (
	"context"
	"time"

	"github.com/restoflife/ql_sink/redis"
)

// Serializer 从业务记录中提取命令、键和值
type Serializer[T any] interface {
	Command(record T) redis.Command
	Key(record T) string
	Value(record T) string
}

// AdditionalKeyer 可选，HSET 等命令需要的附加键
type AdditionalKeyer[T any] interface {
	AdditionalKey(record T) string
}

// TTLer 可选，单条记录的过期时间
type TTLer[T any] interface {
	TTL(record T) time.Duration
}

// Convert 把记录转换为 Action 并校验
func Convert[T any](s Serializer[T], record T) (redis.Action, error) {
	var opts []redis.ActionOption
	if ak, ok := s.(AdditionalKeyer[T]); ok {
		opts = append(opts, redis.WithAdditionalKey(ak.AdditionalKey(record)))
	}
	if t, ok := s.(TTLer[T]); ok {
		opts = append(opts, redis.WithTTL(t.TTL(record)))
	}
	a := redis.NewAction(s.Command(record), s.Key(record), s.Value(record), opts...)
	if err := a.Validate(); err != nil {
		return redis.Action{}, err
	}
	return a, nil
}

// RecordWriter 面向业务记录的写入器，底层可以是 Writer 或 SyncWriter
type RecordWriter[T any] struct {
	serializer Serializer[T]
	writer     ActionWriter
}

func NewRecordWriter[T any](s Serializer[T], w ActionWriter) *RecordWriter[T] {
	return &RecordWriter[T]{serializer: s, writer: w}
}

func (r *RecordWriter[T]) Write(ctx context.Context, record T) error {
	a, err := Convert(r.serializer, record)
	if err != nil {
		return err
	}
	return r.writer.Write(ctx, a)
}

func (r *RecordWriter[T]) Flush(ctx context.Context, endOfInput bool) error {
	return r.writer.Flush(ctx, endOfInput)
}

func (r *RecordWriter[T]) Close(ctx context.Context) error {
	return r.writer.Close(ctx)
}
