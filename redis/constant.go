package redis

import "time"

// Mode Redis 部署模式
type Mode string

const (
	// STANDALONE 单机模式
	STANDALONE Mode = "standalone"
	// SENTINEL 哨兵模式
	SENTINEL Mode = "sentinel"
	// CLUSTER 集群模式
	CLUSTER Mode = "cluster"
)

// 以下默认值与原 Jedis 客户端保持一致
const (
	DefaultPort    = 6379
	DefaultTimeout = 2 * time.Second
	DefaultDB      = 0

	DefaultMaxTotal = 8
	DefaultMaxIdle  = 8
	DefaultMinIdle  = 0

	DefaultMaxRedirections = 5

	// 开启 TestWhileIdle 时的空闲检测参数
	DefaultEvictionInterval     = 30 * time.Second
	DefaultMinEvictableIdleTime = 60 * time.Second
)
