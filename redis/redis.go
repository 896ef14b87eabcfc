package redis

import (
	"context"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// processor 单机/哨兵下的 *redis.Client 与 *redis.ClusterClient 都满足
type processor interface {
	Process(ctx context.Context, cmd redis.Cmder) error
}

// Conn 从连接池借出的一条连接，对调用方隐藏拓扑
type Conn struct {
	proc   processor
	closer func() error

	createdAt time.Time
	idleAt    time.Time
	leased    bool
}

// Do 在这条连接上执行任意命令
func (c *Conn) Do(ctx context.Context, args ...any) *redis.Cmd {
	cmd := redis.NewCmd(ctx, args...)
	_ = c.proc.Process(ctx, cmd)
	return cmd
}

// Ping 存活探测
func (c *Conn) Ping(ctx context.Context) error {
	return c.Do(ctx, "ping").Err()
}

func (c *Conn) close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// newClient 根据配置的模式返回共享客户端（可能为 nil）和创建单条连接的函数
//
// 单机和哨兵下每条 Conn 独占一个只有一个网络连接的客户端，销毁 Conn 即关闭套接字，
// 空闲上限和回收只由 Pool 负责；集群的槽位路由由共享的 *redis.ClusterClient 完成，
// Conn 只是对它的一次租用，各节点的空闲连接按同样的上限交给 go-redis 回收。
func newClient(c *Config) (io.Closer, func() *Conn) {
	switch t := c.target.(type) {
	case Sentinel:
		// 使用 Redis Sentinel 模式，主节点切换由客户端透明处理
		opt := &redis.FailoverOptions{
			MasterName:    t.MasterName,
			SentinelAddrs: t.Sentinels,
			Password:      c.password,
			DB:            t.DB,
			DialTimeout:   t.ConnectionTimeout,
			ReadTimeout:   t.SoTimeout,
			WriteTimeout:  t.SoTimeout,
			MaxRetries:    -1,
			PoolSize:      1,
			MaxIdleConns:  1,
		}
		return nil, func() *Conn {
			o := *opt
			client := redis.NewFailoverClient(&o)
			return &Conn{proc: client, closer: client.Close}
		}
	case Cluster:
		// 使用 Redis Cluster 模式
		client := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           t.Nodes,
			Password:        c.password,
			MaxRedirects:    t.MaxRedirections,
			DialTimeout:     t.Timeout,
			ReadTimeout:     t.Timeout,
			WriteTimeout:    t.Timeout,
			PoolSize:        max(c.pool.MaxTotal, 1),
			MaxIdleConns:    max(c.pool.MaxIdle, 1),
			ConnMaxIdleTime: c.pool.MinEvictableIdleTime,
		})
		return client, func() *Conn { return &Conn{proc: client} }
	default:
		// 默认使用 Standalone 模式
		s := c.target.(Standalone)
		opt := &redis.Options{
			Addr:         s.Addr(),
			Password:     c.password,
			DB:           s.DB,
			DialTimeout:  s.Timeout,
			ReadTimeout:  s.Timeout,
			WriteTimeout: s.Timeout,
			MaxRetries:   -1,
			PoolSize:     1,
			MaxIdleConns: 1,
		}
		// NewClient 会改写传入的 Options，每条连接用一份拷贝
		return nil, func() *Conn {
			o := *opt
			client := redis.NewClient(&o)
			return &Conn{proc: client, closer: client.Close}
		}
	}
}

// probeTimeout PING 使用的超时
func (c *Config) probeTimeout() time.Duration {
	var d time.Duration
	switch t := c.target.(type) {
	case Standalone:
		d = t.Timeout
	case Sentinel:
		d = t.SoTimeout
	case Cluster:
		d = t.Timeout
	}
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
