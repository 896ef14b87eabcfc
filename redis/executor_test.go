package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorCommands(t *testing.T) {
	p, m := newTestPool(t)
	exec := NewExecutor(p)
	ctx := context.Background()

	actions := []Action{
		NewAction(SET, "s", "v1"),
		NewAction(SETNX, "s", "v2"),
		NewAction(SET, "ttl", "v", WithTTL(time.Minute)),
		NewAction(APPEND, "ap", "ab"),
		NewAction(APPEND, "ap", "cd"),
		NewAction(INCRBY, "n", "5"),
		NewAction(DECRBY, "n", "2"),
		NewAction(RPUSH, "l", "a"),
		NewAction(RPUSH, "l", "b"),
		NewAction(LPUSH, "l", "z", WithTTL(time.Minute)),
		NewAction(SADD, "set", "x"),
		NewAction(SADD, "set", "y"),
		NewAction(SREM, "set", "x"),
		NewAction(PFADD, "hll", "u1"),
		NewAction(PUBLISH, "ch", "hello"),
		NewAction(HSET, "f", "v", WithAdditionalKey("h"), WithTTL(time.Minute)),
	}
	for _, a := range actions {
		require.NoError(t, exec.Execute(ctx, a), a.Command().String())
	}

	v, _ := m.Get("s")
	assert.Equal(t, "v1", v)
	assert.Equal(t, time.Minute, m.TTL("ttl"))
	v, _ = m.Get("ap")
	assert.Equal(t, "abcd", v)
	v, _ = m.Get("n")
	assert.Equal(t, "3", v)
	list, _ := m.List("l")
	assert.Equal(t, []string{"z", "a", "b"}, list)
	assert.Equal(t, time.Minute, m.TTL("l"))
	members, _ := m.Members("set")
	assert.Equal(t, []string{"y"}, members)
	count, _ := m.PfCount("hll")
	assert.Equal(t, 1, count)
	assert.Equal(t, "v", m.HGet("h", "f"))
	assert.Equal(t, time.Minute, m.TTL("h"))
	assert.Zero(t, m.TTL("s"))

	// 所有连接都已归还
	assert.Zero(t, p.Stats().Active)
}

func TestExecutorRejectsInvalidAction(t *testing.T) {
	p, _ := newTestPool(t)
	exec := NewExecutor(p)

	err := exec.Execute(context.Background(), NewAction(HSET, "f", "v"))
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, "f", execErr.Action.Key())
	assert.Zero(t, p.Stats().Created)
}

func TestExecutorRejectsSubMillisecondTTL(t *testing.T) {
	p, m := newTestPool(t)
	exec := NewExecutor(p)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, NewAction(RPUSH, "l", "a")))
	err := exec.Execute(ctx, NewAction(RPUSH, "l", "b", WithTTL(500*time.Microsecond)))
	assert.ErrorIs(t, err, ErrInvalidAction)
	// 列表不能被 PEXPIRE 0 删除
	list, err := m.List("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, list)

	err = exec.Execute(ctx, NewAction(SET, "s", "v", WithTTL(500*time.Microsecond)))
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.False(t, m.Exists("s"))
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestExecutorReplyErrorKeepsConnection(t *testing.T) {
	p, m := newTestPool(t)
	exec := NewExecutor(p)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, NewAction(SET, "k", "v")))
	require.Equal(t, 1, p.Stats().Idle)

	m.SetError("ERR injected failure")
	err := exec.Execute(ctx, NewAction(SET, "k", "v2"))
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "injected failure")

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Zero(t, stats.Destroyed)

	m.SetError("")
	require.NoError(t, exec.Execute(ctx, NewAction(SET, "k", "v3")))
	v, _ := m.Get("k")
	assert.Equal(t, "v3", v)
}

func TestExecutorWrongTypeIsReplyError(t *testing.T) {
	p, _ := newTestPool(t)
	exec := NewExecutor(p)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, NewAction(RPUSH, "l", "a")))
	err := exec.Execute(ctx, NewAction(INCRBY, "l", "1"))
	require.Error(t, err)
	assert.True(t, isReplyError(err))
	assert.Zero(t, p.Stats().Destroyed)
}

func TestExecutorIOErrorInvalidatesConnection(t *testing.T) {
	p, m := newTestPool(t)
	exec := NewExecutor(p)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, NewAction(SET, "k", "v")))
	m.Close()

	err := exec.Execute(ctx, NewAction(SET, "k", "v"))
	require.Error(t, err)
	assert.False(t, isReplyError(err))

	stats := p.Stats()
	assert.Zero(t, stats.Idle)
	assert.Zero(t, stats.Active)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestExecutorPoolExhausted(t *testing.T) {
	p, _ := newTestPool(t, WithMaxTotal(1), WithBorrowTimeout(10*time.Millisecond))
	exec := NewExecutor(p)

	cn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	defer p.Release(cn)

	err = exec.Execute(context.Background(), NewAction(SET, "k", "v"))
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestExecutorClose(t *testing.T) {
	p, _ := newTestPool(t)
	exec := NewExecutor(p)
	require.NoError(t, exec.Close())
	require.NoError(t, exec.Close())

	err := exec.Execute(context.Background(), NewAction(SET, "k", "v"))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Same(t, p, exec.Pool())
}

func TestExecutorCluster(t *testing.T) {
	m, _, _ := newTestServer(t)
	cfg, err := NewClusterConfig([]string{m.Addr()}, WithTimeout(time.Second))
	require.NoError(t, err)
	p, err := NewPool(cfg)
	require.NoError(t, err)
	exec := NewExecutor(p)
	defer exec.Close()

	assert.Equal(t, CLUSTER, p.Mode())
	require.NoError(t, exec.Execute(context.Background(), NewAction(SET, "k", "v", WithTTL(time.Minute))))
	require.NoError(t, exec.Execute(context.Background(), NewAction(SADD, "s", "m", WithTTL(time.Minute))))

	v, _ := m.Get("k")
	assert.Equal(t, "v", v)
	assert.Equal(t, time.Minute, m.TTL("s"))
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPoolSentinelConstruction(t *testing.T) {
	cfg, err := NewSentinelConfig("mymaster", []string{"127.0.0.1:26379"})
	require.NoError(t, err)
	p, err := NewPool(cfg)
	require.NoError(t, err)
	assert.Equal(t, SENTINEL, p.Mode())
	assert.Equal(t, cfg.Pool(), p.Config())
	assert.NoError(t, p.Close())
}
