package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*miniredis.Miniredis, string, int) {
	t.Helper()
	m := miniredis.RunT(t)
	port, err := strconv.Atoi(m.Port())
	require.NoError(t, err)
	return m, m.Host(), port
}

func newTestPool(t *testing.T, opts ...Option) (*Pool, *miniredis.Miniredis) {
	t.Helper()
	m, host, port := newTestServer(t)
	cfg, err := NewStandaloneConfig(host, port, append([]Option{WithTimeout(time.Second)}, opts...)...)
	require.NoError(t, err)
	p, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, m
}

func TestPoolBorrowRelease(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	cn, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, PoolStats{Active: 1, Created: 1}, p.Stats())
	require.NoError(t, cn.Do(ctx, "set", "k", "v").Err())

	p.Release(cn)
	assert.Equal(t, PoolStats{Idle: 1, Created: 1}, p.Stats())

	// 空闲连接被复用
	again, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.Same(t, cn, again)
	v, err := again.Do(ctx, "get", "k").Text()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	p.Release(again)

	// 重复归还被忽略
	p.Release(again)
	assert.Equal(t, 1, p.Stats().Idle)
	assert.Zero(t, p.Stats().Active)
}

func TestPoolMaxIdleZeroDestroysOnRelease(t *testing.T) {
	p, m := newTestPool(t, WithMaxIdle(0))

	cn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.CurrentConnectionCount())
	p.Release(cn)
	assert.Equal(t, PoolStats{Created: 1, Destroyed: 1}, p.Stats())

	// 销毁会关闭底层套接字
	assert.Eventually(t, func() bool { return m.CurrentConnectionCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestPoolPrewarmMinIdle(t *testing.T) {
	p, m := newTestPool(t, WithMinIdle(2))

	stats := p.Stats()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, uint64(2), stats.Created)
	assert.Equal(t, 2, m.CurrentConnectionCount())
}

func TestPoolPrewarmBoundedByMaxTotal(t *testing.T) {
	p, _ := newTestPool(t, WithMaxTotal(1), WithMinIdle(3))
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPoolExhausted(t *testing.T) {
	p, _ := newTestPool(t, WithMaxTotal(1), WithBorrowTimeout(20*time.Millisecond))
	ctx := context.Background()

	cn, err := p.Borrow(ctx)
	require.NoError(t, err)

	_, err = p.Borrow(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	// ctx 先到期时同样报告耗尽
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Borrow(short)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 归还后可以再借
	p.Release(cn)
	cn, err = p.Borrow(ctx)
	require.NoError(t, err)
	p.Release(cn)
}

func TestPoolMaxTotalZero(t *testing.T) {
	p, _ := newTestPool(t, WithMaxTotal(0), WithMinIdle(1))
	_, err := p.Borrow(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Zero(t, p.Stats().Created)
}

func TestPoolClose(t *testing.T) {
	p, m := newTestPool(t, WithMaxTotal(1))
	ctx := context.Background()

	cn, err := p.Borrow(ctx)
	require.NoError(t, err)

	waiting := make(chan error, 1)
	go func() {
		_, err := p.Borrow(ctx)
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case err = <-waiting:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting borrower was not released by Close")
	}

	// 池关闭后归还的连接直接销毁
	p.Release(cn)
	assert.Equal(t, PoolStats{Created: 1, Destroyed: 1}, p.Stats())

	_, err = p.Borrow(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Close())
	assert.Eventually(t, func() bool { return m.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPoolCloseDrainsIdle(t *testing.T) {
	p, _ := newTestPool(t, WithMinIdle(3))
	require.Equal(t, 3, p.Stats().Idle)

	require.NoError(t, p.Close())
	stats := p.Stats()
	assert.Zero(t, stats.Idle)
	assert.Equal(t, uint64(3), stats.Destroyed)
}

func TestPoolDialFailure(t *testing.T) {
	m, host, port := newTestServer(t)
	m.Close()

	cfg, err := NewStandaloneConfig(host, port, WithTimeout(200*time.Millisecond))
	require.NoError(t, err)
	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Borrow(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "dial", connErr.Op)
	assert.Zero(t, p.Stats().Active)

	assert.Error(t, p.Ping(context.Background()))
}

func TestPoolTestOnBorrowReplacesBrokenConnection(t *testing.T) {
	p, m := newTestPool(t, WithTestOnBorrow(true))
	ctx := context.Background()

	require.NoError(t, p.Ping(ctx))
	require.Equal(t, 1, p.Stats().Idle)

	// 服务端不可用：空闲连接校验失败被丢弃，替换连接也建不起来
	m.Close()
	_, err := p.Borrow(ctx)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, PoolStats{Created: 1, Destroyed: 1}, p.Stats())

	require.NoError(t, m.Restart())
	cn, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.NoError(t, cn.Ping(ctx))
	p.Release(cn)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Created)
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Equal(t, 1, stats.Idle)
}

func TestPoolEvict(t *testing.T) {
	p, m := newTestPool(t, WithMinIdle(1), WithEviction(0, time.Minute))
	ctx := context.Background()

	a, err := p.Borrow(ctx)
	require.NoError(t, err)
	b, err := p.Borrow(ctx)
	require.NoError(t, err)
	p.Release(a)
	p.Release(b)
	require.Equal(t, 2, p.Stats().Idle)

	p.evict(time.Now())
	assert.Equal(t, 2, p.Stats().Idle)

	// 只回收到 MinIdle 为止
	p.evict(time.Now().Add(time.Hour))
	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Eventually(t, func() bool { return m.CurrentConnectionCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestPoolTestWhileIdle(t *testing.T) {
	p, m := newTestPool(t, WithTestWhileIdle(true), WithEviction(0, time.Hour))
	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	p.evict(time.Now())
	assert.Equal(t, 1, p.Stats().Idle)

	m.Close()
	p.evict(time.Now())
	stats := p.Stats()
	assert.Zero(t, stats.Idle)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestPoolBackgroundEviction(t *testing.T) {
	p, _ := newTestPool(t, WithEviction(10*time.Millisecond, time.Millisecond))
	require.NoError(t, p.Ping(context.Background()))

	assert.Eventually(t, func() bool {
		s := p.Stats()
		return s.Idle == 0 && s.Destroyed == 1
	}, 2*time.Second, 10*time.Millisecond)
}
