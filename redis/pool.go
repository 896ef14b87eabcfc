package redis

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PoolStats 连接池快照
type PoolStats struct {
	Active    int    // 已借出
	Idle      int    // 空闲
	Created   uint64 // 累计创建
	Destroyed uint64 // 累计销毁
}

// Pool 有界连接池
//
// 借出名额由信号量控制（活跃连接数 <= MaxTotal），空闲列表与计数由 mu 保护，
// 后台空闲检测与 Borrow/Release 共用同一把锁。
type Pool struct {
	cfg    *Config
	pc     PoolConfig
	shared io.Closer // 集群模式的共享客户端，其余模式为 nil
	dial   func() *Conn
	log    *zap.Logger
	slots  *semaphore.Weighted

	mu        sync.Mutex
	idle      []*Conn // 尾部最新
	active    int
	pending   int // 正在创建或正在空闲检测的连接
	closed    bool
	created   uint64
	destroyed uint64

	ctx       context.Context // Close 时取消
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// PoolOption 连接池的可选参数
type PoolOption func(*Pool)

// WithPoolLogger 指定日志
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPool 创建连接池，预热 MinIdle 条连接，必要时启动后台空闲检测
//
// 预热失败只记录日志，不影响构造；需要启动时探活请调用 Ping。
func NewPool(cfg *Config, opts ...PoolOption) (*Pool, error) {
	if cfg == nil || cfg.target == nil {
		return nil, configError(ErrMissingValue, "connection config should be presented")
	}
	shared, dial := newClient(cfg)
	p := &Pool{
		cfg:    cfg,
		pc:     cfg.pool,
		shared: shared,
		dial:   dial,
		log:    zap.NewNop(),
		slots:  semaphore.NewWeighted(int64(cfg.pool.MaxTotal)),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(zap.String("mode", string(cfg.Mode())))

	p.ensureMinIdle()

	if p.pc.EvictionInterval > 0 {
		p.wg.Add(1)
		go p.evictLoop()
	}
	return p, nil
}

// Config 连接池生效的参数
func (p *Pool) Config() PoolConfig { return p.pc }

// Mode 连接模式
func (p *Pool) Mode() Mode { return p.cfg.Mode() }

// Borrow 借出一条连接，用完必须 Release 或 Invalidate
func (p *Pool) Borrow(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if p.pc.MaxTotal == 0 {
		return nil, fmt.Errorf("%w: maxTotal is 0", ErrPoolExhausted)
	}

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.slots.Release(1)
			return nil, ErrPoolClosed
		}
		var cn *Conn
		if n := len(p.idle); n > 0 {
			cn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.active++
		p.mu.Unlock()

		if cn == nil {
			fresh, err := p.create(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				p.slots.Release(1)
				return nil, err
			}
			cn = fresh
		} else if p.pc.TestOnBorrow {
			if err := p.probe(cn); err != nil {
				// 校验失败的连接直接丢弃，继续取下一条或新建
				p.log.Warn("discard connection failed on borrow", zap.Error(err))
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				p.destroy(cn)
				continue
			}
		}

		p.mu.Lock()
		cn.leased = true
		p.mu.Unlock()
		return cn, nil
	}
}

// acquire 等待借出名额，池关闭时立即返回
func (p *Pool) acquire(ctx context.Context) error {
	acqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.pc.BorrowTimeout > 0 {
		acqCtx, cancel = context.WithTimeout(acqCtx, p.pc.BorrowTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.slots.Acquire(acqCtx, 1); err != nil {
		if p.isClosed() {
			return ErrPoolClosed
		}
		return fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}
	return nil
}

// Release 归还连接；超出 MaxIdle、校验失败或池已关闭时销毁
func (p *Pool) Release(cn *Conn) {
	if cn == nil {
		return
	}
	p.mu.Lock()
	if !cn.leased {
		p.mu.Unlock()
		p.log.Warn("release of a connection that is not borrowed")
		return
	}
	cn.leased = false
	p.mu.Unlock()

	keep := true
	if p.pc.TestOnReturn {
		if err := p.probe(cn); err != nil {
			p.log.Warn("discard connection failed on return", zap.Error(err))
			keep = false
		}
	}

	p.mu.Lock()
	p.active--
	if keep && !p.closed && len(p.idle) < p.pc.MaxIdle {
		cn.idleAt = time.Now()
		p.idle = append(p.idle, cn)
		cn = nil
	}
	p.mu.Unlock()
	p.slots.Release(1)

	if cn != nil {
		p.destroy(cn)
	}
}

// Invalidate 归还一条已损坏的连接，连接会被销毁
func (p *Pool) Invalidate(cn *Conn) {
	if cn == nil {
		return
	}
	p.mu.Lock()
	if !cn.leased {
		p.mu.Unlock()
		return
	}
	cn.leased = false
	p.active--
	p.mu.Unlock()
	p.slots.Release(1)
	p.destroy(cn)
}

// Ping 借一条连接做一次探活
func (p *Pool) Ping(ctx context.Context) error {
	cn, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	if err = cn.Ping(ctx); err != nil {
		p.Invalidate(cn)
		return &ConnectionError{Op: "ping", Err: err}
	}
	p.Release(cn)
	return nil
}

// Stats 当前计数快照
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active:    p.active,
		Idle:      len(p.idle),
		Created:   p.created,
		Destroyed: p.destroyed,
	}
}

// Close 关闭连接池，可重复调用，只有第一次生效
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		for _, cn := range idle {
			p.destroy(cn)
		}
		if p.shared != nil {
			err = p.shared.Close()
		}
		p.log.Info("connection pool closed", zap.Int("drained", len(idle)))
	})
	return err
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// create 新建连接并立即 PING，确保连接可用
func (p *Pool) create(ctx context.Context) (*Conn, error) {
	cn := p.dial()
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.probeTimeout())
	defer cancel()
	if err := cn.Ping(pingCtx); err != nil {
		_ = cn.close()
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	cn.createdAt = time.Now()

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return cn, nil
}

func (p *Pool) probe(cn *Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.probeTimeout())
	defer cancel()
	return cn.Ping(ctx)
}

func (p *Pool) destroy(cn *Conn) {
	if err := cn.close(); err != nil {
		p.log.Debug("close connection", zap.Error(err))
	}
	p.mu.Lock()
	p.destroyed++
	p.mu.Unlock()
}

// ensureMinIdle 补足 MinIdle 条空闲连接，不超过 MaxTotal
func (p *Pool) ensureMinIdle() {
	for {
		if !p.slots.TryAcquire(1) {
			return
		}
		p.mu.Lock()
		live := p.active + len(p.idle) + p.pending
		if p.closed || len(p.idle)+p.pending >= p.pc.MinIdle || live >= p.pc.MaxTotal ||
			len(p.idle)+p.pending >= p.pc.MaxIdle {
			p.mu.Unlock()
			p.slots.Release(1)
			return
		}
		p.pending++
		p.mu.Unlock()

		cn, err := p.create(context.Background())

		p.mu.Lock()
		p.pending--
		if err == nil && !p.closed {
			cn.idleAt = time.Now()
			p.idle = append(p.idle, cn)
			cn = nil
		}
		p.mu.Unlock()
		p.slots.Release(1)

		if err != nil {
			p.log.Warn("prewarm idle connection failed", zap.Error(err))
			return
		}
		if cn != nil {
			p.destroy(cn)
			return
		}
	}
}

func (p *Pool) evictLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pc.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.evict(time.Now())
			p.ensureMinIdle()
		}
	}
}

// evict 从最旧的空闲连接开始回收；TestWhileIdle 时对保留下来的连接做 PING
func (p *Pool) evict(now time.Time) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var evicted, probing []*Conn
	kept := make([]*Conn, 0, len(p.idle))
	remaining := len(p.idle)
	for _, cn := range p.idle {
		if p.pc.MinEvictableIdleTime > 0 && now.Sub(cn.idleAt) >= p.pc.MinEvictableIdleTime && remaining > p.pc.MinIdle {
			evicted = append(evicted, cn)
			remaining--
			continue
		}
		if p.pc.TestWhileIdle {
			probing = append(probing, cn)
			continue
		}
		kept = append(kept, cn)
	}
	p.idle = kept
	p.pending += len(probing)
	p.mu.Unlock()

	for _, cn := range evicted {
		p.destroy(cn)
	}

	var alive []*Conn
	for _, cn := range probing {
		if err := p.probe(cn); err != nil {
			p.log.Warn("discard idle connection failed validation", zap.Error(err))
			p.destroy(cn)
			continue
		}
		alive = append(alive, cn)
	}

	p.mu.Lock()
	p.pending -= len(probing)
	if p.closed {
		p.mu.Unlock()
		for _, cn := range alive {
			p.destroy(cn)
		}
		return
	}
	// 校验过的连接空闲时间更久，放回头部
	p.idle = append(alive, p.idle...)
	p.mu.Unlock()

	if len(evicted) > 0 {
		p.log.Debug("evicted idle connections", zap.Int("count", len(evicted)))
	}
}
