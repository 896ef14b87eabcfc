package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/restoflife/ql_sink/redis"
)

// SyncWriter 逐条同步执行，没有缓冲，失败直接返回给调用方
type SyncWriter struct {
	exec      Executor
	log       *zap.Logger
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewSyncWriter(exec Executor, log *zap.Logger) *SyncWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncWriter{exec: exec, log: log}
}

func (s *SyncWriter) Write(ctx context.Context, a redis.Action) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := a.Validate(); err != nil {
		return err
	}
	return s.exec.Execute(ctx, a)
}

// Flush 没有待提交的记录
func (s *SyncWriter) Flush(context.Context, bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *SyncWriter) Close(context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.exec.Close()
		s.log.Info("sync writer closed")
	})
	return s.closeErr
}
