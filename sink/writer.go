package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/restoflife/ql_sink/redis"
)

// Executor 同步执行单个 Action，*redis.Executor 是默认实现
type Executor interface {
	Execute(ctx context.Context, a redis.Action) error
	Close() error
}

// ActionWriter Writer 与 SyncWriter 的公共接口
type ActionWriter interface {
	Write(ctx context.Context, a redis.Action) error
	Flush(ctx context.Context, endOfInput bool) error
	Close(ctx context.Context) error
}

// DropHandler 记录被放弃时回调，reason 为 ErrRetriesExhausted 或 ErrAborted
type DropHandler func(a redis.Action, reason error)

type state int

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Stats 写入器快照
type Stats struct {
	Pending      int
	PendingBytes int64
	InFlight     int
	State        string
}

// Writer 异步批量写入器
//
// 单个调度协程把就绪批次交给最多 MaxInFlightRequests 个执行协程；
// 每个批次内按提交顺序逐条执行，失败的记录放回缓冲区队首再次参与触发。
// 重试会导致服务端看到的写入顺序与提交顺序不同，依赖命令本身的幂等性。
type Writer struct {
	cfg     BufferingConfig
	exec    Executor
	log     *zap.Logger
	metrics *Metrics
	onDrop  DropHandler

	mu       sync.Mutex
	buf      *Buffer
	retry    *retryPolicy
	inFlight int
	forcing  int // 进行中的 Flush(true) 数
	state    state
	changed  chan struct{} // 状态变化时关闭并替换

	workCtx    context.Context // 关闭超时时取消，执行协程在两条记录之间检查
	abort      context.CancelFunc
	workers    sync.WaitGroup
	dispatched chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Option 写入器可选参数
type Option func(*Writer)

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics 指定指标
func WithMetrics(m *Metrics) Option {
	return func(w *Writer) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithRetry 重试策略，默认无限重试且不退避
func WithRetry(cfg RetryConfig) Option {
	return func(w *Writer) { w.retry = newRetryPolicy(cfg) }
}

// WithDropHandler 记录被放弃时的回调
func WithDropHandler(h DropHandler) Option {
	return func(w *Writer) { w.onDrop = h }
}

// NewWriter 创建并启动写入器，写入器负责在 Close 时关闭 exec
func NewWriter(exec Executor, cfg BufferingConfig, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.New("sink: executor is nil")
	}
	w := &Writer{
		cfg:        cfg,
		exec:       exec,
		log:        zap.NewNop(),
		buf:        NewBuffer(cfg),
		retry:      newRetryPolicy(RetryConfig{}),
		changed:    make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil, "", "")
	}
	w.workCtx, w.abort = context.WithCancel(context.Background())

	go w.dispatch()
	return w, nil
}

// Write 提交一条记录
//
// 缓冲区满时阻塞，直到有空间、ctx 结束或写入器关闭。
// 超过单条上限或字段非法的记录立即返回错误，不会入队。
func (w *Writer) Write(ctx context.Context, a redis.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		err := w.submitLocked(a)
		if !errors.Is(err, ErrBufferFull) {
			return err
		}
		if err = w.waitLocked(ctx); err != nil {
			return err
		}
	}
}

// TryWrite 与 Write 相同，但缓冲区满时直接返回 ErrBufferFull
func (w *Writer) TryWrite(a redis.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitLocked(a)
}

func (w *Writer) submitLocked(a redis.Action) error {
	if w.state != stateOpen {
		return ErrClosed
	}
	if err := w.buf.Submit(a, time.Now()); err != nil {
		return err
	}
	w.metrics.Buffered.Set(float64(w.buf.Len()))
	w.notifyLocked()
	return nil
}

// Flush endOfInput 为 true 时立即提交所有记录，并等待包括重试在内的全部批次完成；
// 为 false 时只提交已就绪的批次，并等待执行中的批次完成。
func (w *Writer) Flush(ctx context.Context, endOfInput bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == stateClosed {
		return ErrClosed
	}
	return w.flushLocked(ctx, endOfInput)
}

func (w *Writer) flushLocked(ctx context.Context, endOfInput bool) error {
	if endOfInput {
		w.forcing++
		defer func() { w.forcing-- }()
	}
	w.notifyLocked()

	for {
		if w.inFlight == 0 {
			if endOfInput && w.buf.Len() == 0 {
				return nil
			}
			if !endOfInput && !w.buf.Ready(time.Now()) {
				return nil
			}
		}
		if err := w.waitLocked(ctx); err != nil {
			return err
		}
	}
}

// Close 拒绝新的写入，Flush(true) 后关闭执行器，可重复调用
//
// ctx 在 Flush 完成前结束时，执行协程在当前记录完成后停止，
// 剩余记录经 DropHandler 报告为 ErrAborted。
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closeErr = w.close(ctx)
	})
	return w.closeErr
}

func (w *Writer) close(ctx context.Context) error {
	w.mu.Lock()
	w.state = stateClosing
	flushErr := w.flushLocked(ctx, true)
	if flushErr != nil {
		w.log.Warn("close deadline exceeded, aborting in-flight batches", zap.Error(flushErr))
		w.abort()
	}
	w.state = stateClosed
	w.notifyLocked()
	w.mu.Unlock()

	// 调度协程退出后不会再有新的执行协程
	<-w.dispatched
	w.workers.Wait()
	w.abort()

	w.mu.Lock()
	abandoned := w.buf.takeAll()
	w.metrics.Buffered.Set(0)
	w.mu.Unlock()
	w.drop(abandoned, ErrAborted)

	execErr := w.exec.Close()
	w.log.Info("writer closed")
	return errors.Join(flushErr, execErr)
}

// Stats 当前快照，Flush(true) 返回后 Pending 与 InFlight 均为 0
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Pending:      w.buf.Len(),
		PendingBytes: w.buf.SizeInBytes(),
		InFlight:     w.inFlight,
		State:        w.state.String(),
	}
}

// notifyLocked 唤醒所有等待状态变化的协程
func (w *Writer) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// waitLocked 释放锁等待下一次状态变化，返回时重新持有锁
func (w *Writer) waitLocked(ctx context.Context) error {
	ch := w.changed
	w.mu.Unlock()
	defer w.mu.Lock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch 调度循环：有空闲执行名额且有就绪批次时启动执行协程，
// 否则等待状态变化或最早记录到期。
func (w *Writer) dispatch() {
	defer close(w.dispatched)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		w.mu.Lock()
		if w.state == stateClosed {
			w.mu.Unlock()
			return
		}

		now := time.Now()
		started := 0
		for w.inFlight < w.cfg.MaxInFlightRequests {
			batch := w.buf.Next(now, w.forcing > 0)
			if batch == nil {
				break
			}
			w.inFlight++
			started++
			w.workers.Add(1)
			go w.run(batch)
		}
		if started > 0 {
			w.metrics.InFlight.Set(float64(w.inFlight))
			w.metrics.Buffered.Set(float64(w.buf.Len()))
			// 缓冲区腾出了空间
			w.notifyLocked()
		}

		var expired <-chan time.Time
		if w.inFlight < w.cfg.MaxInFlightRequests {
			if deadline, ok := w.buf.Deadline(); ok {
				timer.Reset(max(deadline.Sub(now), 0))
				expired = timer.C
			}
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-expired:
		}
		timer.Stop()
	}
}

// run 执行一个批次，失败的记录按重试策略放回缓冲区
func (w *Writer) run(batch *Batch) {
	defer w.workers.Done()

	start := time.Now()
	var failed, aborted []entry
	for i, e := range batch.entries {
		if w.workCtx.Err() != nil {
			aborted = append(aborted, batch.entries[i:]...)
			break
		}
		// 已经开始的命令不随关闭中断
		if err := w.exec.Execute(context.Background(), e.action); err != nil {
			e.attempts++
			failed = append(failed, e)
			w.log.Debug("action failed, will retry",
				zap.Stringer("command", e.action.Command()),
				zap.String("key", e.action.Key()),
				zap.Int("attempts", e.attempts),
				zap.Error(err),
			)
		}
	}

	executed := len(batch.entries) - len(aborted)
	w.metrics.Batches.Inc()
	w.metrics.BatchSize.Observe(float64(len(batch.entries)))
	w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	w.metrics.Actions.WithLabelValues("ok").Add(float64(executed - len(failed)))
	w.metrics.Actions.WithLabelValues("failed").Add(float64(len(failed)))

	w.mu.Lock()
	retry, exhausted := w.retry.split(failed)
	delay := w.retry.delay(len(failed))
	w.mu.Unlock()

	if len(failed) > 0 {
		w.log.Warn("batch finished with failures",
			zap.Int("size", len(batch.entries)),
			zap.Int("failed", len(failed)),
			zap.Duration("backoff", delay),
		)
	}
	w.drop(exhausted, ErrRetriesExhausted)
	w.drop(aborted, ErrAborted)

	if delay > 0 && len(retry) > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-w.workCtx.Done():
		}
		t.Stop()
	}

	w.mu.Lock()
	if w.workCtx.Err() != nil {
		defer w.drop(retry, ErrAborted)
	} else {
		w.buf.requeue(retry, time.Now())
		w.metrics.Requeued.Add(float64(len(retry)))
	}
	w.inFlight--
	w.metrics.InFlight.Set(float64(w.inFlight))
	w.metrics.Buffered.Set(float64(w.buf.Len()))
	w.notifyLocked()
	w.mu.Unlock()
}

// drop 报告放弃的记录
func (w *Writer) drop(entries []entry, reason error) {
	if len(entries) == 0 {
		return
	}
	label := "aborted"
	if errors.Is(reason, ErrRetriesExhausted) {
		label = "retries_exhausted"
	}
	w.metrics.Dropped.WithLabelValues(label).Add(float64(len(entries)))
	for _, e := range entries {
		w.log.Error("action dropped",
			zap.Stringer("command", e.action.Command()),
			zap.String("key", e.action.Key()),
			zap.Int("attempts", e.attempts),
			zap.Error(reason),
		)
		if w.onDrop != nil {
			w.onDrop(e.action, reason)
		}
	}
}
