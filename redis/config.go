package redis

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// FileConfig 配置文件中的 Redis 段，Build 之后得到不可变的 *Config
type FileConfig struct {
	Mode       string   `toml:"mode" yaml:"mode" json:"mode"`                      // Redis 模式：standalone（单机）、sentinel（哨兵）、cluster（集群）
	Addr       string   `toml:"addr" yaml:"addr" json:"addr"`                      // Redis 地址，单机模式下使用，例如：127.0.0.1:6379
	Password   string   `toml:"password" yaml:"password" json:"password"`          // Redis 认证密码
	DB         int      `toml:"db" yaml:"db" json:"db"`                            // Redis 数据库编号（仅单机和哨兵模式有效）
	MasterName string   `toml:"master_name" yaml:"master_name" json:"master_name"` // 哨兵模式下主节点名称
	Addrs      []string `toml:"addrs" yaml:"addrs" json:"addrs"`                   // 哨兵或集群模式下的节点地址列表
	Timeout    int      `toml:"timeout_ms" yaml:"timeout_ms" json:"timeout_ms"`    // 连接/读写超时（毫秒），0 使用默认值

	MaxTotal      int  `toml:"max_total" yaml:"max_total" json:"max_total"`                   // 最大连接数
	MaxIdle       int  `toml:"max_idle" yaml:"max_idle" json:"max_idle"`                      // 最大空闲连接数
	MinIdle       int  `toml:"min_idle" yaml:"min_idle" json:"min_idle"`                      // 最小空闲连接数
	TestOnBorrow  bool `toml:"test_on_borrow" yaml:"test_on_borrow" json:"test_on_borrow"`    // 借出前 PING
	TestOnReturn  bool `toml:"test_on_return" yaml:"test_on_return" json:"test_on_return"`    // 归还时 PING
	TestWhileIdle bool `toml:"test_while_idle" yaml:"test_while_idle" json:"test_while_idle"` // 空闲检测
}

// DefaultFileConfig 返回与 Jedis 默认值一致的单机配置
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Mode:     string(STANDALONE),
		Addr:     "127.0.0.1:6379",
		MaxTotal: DefaultMaxTotal,
		MaxIdle:  DefaultMaxIdle,
		MinIdle:  DefaultMinIdle,
	}
}

// Build 根据 mode 选择对应的构造函数
func (f FileConfig) Build() (*Config, error) {
	opts := []Option{
		WithPassword(f.Password),
		WithMaxTotal(f.MaxTotal),
		WithMaxIdle(f.MaxIdle),
		WithMinIdle(f.MinIdle),
		WithTestOnBorrow(f.TestOnBorrow),
		WithTestOnReturn(f.TestOnReturn),
		WithTestWhileIdle(f.TestWhileIdle),
	}
	if f.Timeout != 0 {
		opts = append(opts, WithTimeout(time.Duration(f.Timeout)*time.Millisecond))
	}

	switch Mode(strings.ToLower(f.Mode)) {
	case SENTINEL:
		return NewSentinelConfig(f.MasterName, f.Addrs, append(opts, WithDB(f.DB))...)
	case CLUSTER:
		return NewClusterConfig(f.Addrs, opts...)
	case STANDALONE, "":
		host, port, err := splitAddr(f.Addr)
		if err != nil {
			return nil, configError(ErrInvalidArgument, "addr %q: %v", f.Addr, err)
		}
		return NewStandaloneConfig(host, port, append(opts, WithDB(f.DB))...)
	default:
		return nil, configError(ErrInvalidArgument, "unknown redis mode %q", f.Mode)
	}
}

// Target 连接目标，只有 Standalone / Sentinel / Cluster 三种实现
type Target interface {
	Mode() Mode
	target()
}

// Standalone 单机：直连一个地址
type Standalone struct {
	Host    string
	Port    int
	DB      int
	Timeout time.Duration
}

func (Standalone) Mode() Mode { return STANDALONE }
func (Standalone) target()    {}

// Addr host:port
func (s Standalone) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Sentinel 哨兵：通过哨兵集合解析当前主节点
type Sentinel struct {
	MasterName        string
	Sentinels         []string
	DB                int
	ConnectionTimeout time.Duration
	SoTimeout         time.Duration
}

func (Sentinel) Mode() Mode { return SENTINEL }
func (Sentinel) target()    {}

// Cluster 集群：种子节点集合，槽位路由由客户端完成
type Cluster struct {
	Nodes           []string
	Timeout         time.Duration
	MaxRedirections int
}

func (Cluster) Mode() Mode { return CLUSTER }
func (Cluster) target()    {}

// PoolConfig 连接池参数，字段含义与 commons-pool 一致
type PoolConfig struct {
	MaxTotal      int  // 最大连接数（活跃 + 空闲），0 表示不允许任何连接
	MaxIdle       int  // 空闲连接上限
	MinIdle       int  // 预热的最小空闲连接数
	TestOnBorrow  bool // 借出前校验
	TestOnReturn  bool // 归还时校验
	TestWhileIdle bool // 空闲时由后台任务校验

	BorrowTimeout        time.Duration // 等待可用连接的时间，0 表示一直等到 ctx 结束
	EvictionInterval     time.Duration // 后台空闲检测间隔，0 表示不启动
	MinEvictableIdleTime time.Duration // 空闲超过该时长且多于 MinIdle 时回收
}

// Config 不可变的连接配置，只能通过 New*Config 构造
type Config struct {
	target   Target
	password string
	pool     PoolConfig
}

// Mode 当前生效的模式
func (c *Config) Mode() Mode { return c.target.Mode() }

// Target 返回目标副本，调用方修改不会影响配置本身
func (c *Config) Target() Target {
	switch t := c.target.(type) {
	case Sentinel:
		t.Sentinels = append([]string(nil), t.Sentinels...)
		return t
	case Cluster:
		t.Nodes = append([]string(nil), t.Nodes...)
		return t
	default:
		return t
	}
}

// Pool 连接池参数
func (c *Config) Pool() PoolConfig { return c.pool }

// Password 认证密码
func (c *Config) Password() string { return c.password }

type options struct {
	password        string
	db              int
	timeout         time.Duration
	soTimeout       time.Duration
	maxRedirections int
	pool            PoolConfig
}

// Option 是对连接配置的函数式配置
type Option func(*options)

func WithPassword(password string) Option { return func(o *options) { o.password = password } }

// WithDB 数据库编号，集群模式忽略
func WithDB(db int) Option { return func(o *options) { o.db = db } }

// WithTimeout 连接超时；单机和集群同时作为读写超时
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithSoTimeout 哨兵模式下的读写超时
func WithSoTimeout(d time.Duration) Option { return func(o *options) { o.soTimeout = d } }

func WithMaxRedirections(n int) Option { return func(o *options) { o.maxRedirections = n } }

func WithMaxTotal(n int) Option { return func(o *options) { o.pool.MaxTotal = n } }
func WithMaxIdle(n int) Option  { return func(o *options) { o.pool.MaxIdle = n } }
func WithMinIdle(n int) Option  { return func(o *options) { o.pool.MinIdle = n } }

func WithTestOnBorrow(b bool) Option { return func(o *options) { o.pool.TestOnBorrow = b } }
func WithTestOnReturn(b bool) Option { return func(o *options) { o.pool.TestOnReturn = b } }

// WithTestWhileIdle 开启后同时启用默认的空闲检测参数
func WithTestWhileIdle(b bool) Option {
	return func(o *options) {
		o.pool.TestWhileIdle = b
		if b {
			if o.pool.EvictionInterval == 0 {
				o.pool.EvictionInterval = DefaultEvictionInterval
			}
			if o.pool.MinEvictableIdleTime == 0 {
				o.pool.MinEvictableIdleTime = DefaultMinEvictableIdleTime
			}
		}
	}
}

func WithBorrowTimeout(d time.Duration) Option {
	return func(o *options) { o.pool.BorrowTimeout = d }
}

// WithEviction 自定义后台空闲检测间隔和可回收空闲时长
func WithEviction(interval, minEvictableIdle time.Duration) Option {
	return func(o *options) {
		o.pool.EvictionInterval = interval
		o.pool.MinEvictableIdleTime = minEvictableIdle
	}
}

func newOptions(opts ...Option) options {
	o := options{
		db:              DefaultDB,
		timeout:         DefaultTimeout,
		soTimeout:       DefaultTimeout,
		maxRedirections: DefaultMaxRedirections,
		pool: PoolConfig{
			MaxTotal: DefaultMaxTotal,
			MaxIdle:  DefaultMaxIdle,
			MinIdle:  DefaultMinIdle,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// validate 校验各模式共有的字段
func (o *options) validate() error {
	switch {
	case o.timeout < 0:
		return configError(ErrInvalidArgument, "timeout must not be negative")
	case o.soTimeout < 0:
		return configError(ErrInvalidArgument, "so timeout must not be negative")
	case o.db < 0:
		return configError(ErrInvalidArgument, "db must not be negative")
	case o.pool.MaxTotal < 0:
		return configError(ErrInvalidArgument, "maxTotal must not be negative")
	case o.pool.MaxIdle < 0:
		return configError(ErrInvalidArgument, "maxIdle must not be negative")
	case o.pool.MinIdle < 0:
		return configError(ErrInvalidArgument, "minIdle must not be negative")
	case o.pool.BorrowTimeout < 0, o.pool.EvictionInterval < 0, o.pool.MinEvictableIdleTime < 0:
		return configError(ErrInvalidArgument, "pool durations must not be negative")
	}
	return nil
}

// NewStandaloneConfig 单机配置
func NewStandaloneConfig(host string, port int, opts ...Option) (*Config, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}
	if host == "" {
		return nil, configError(ErrMissingValue, "host should be presented")
	}
	if port < 0 || port > 65535 {
		return nil, configError(ErrInvalidArgument, "port %d out of range", port)
	}
	return &Config{
		target:   Standalone{Host: host, Port: port, DB: o.db, Timeout: o.timeout},
		password: o.password,
		pool:     o.pool,
	}, nil
}

// NewSentinelConfig 哨兵配置，masterName 和 sentinels 必填
//
// sentinels 为 nil 视为缺失（ErrMissingValue），非 nil 但为空视为非法（ErrInvalidArgument）。
func NewSentinelConfig(masterName string, sentinels []string, opts ...Option) (*Config, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}
	if masterName == "" {
		return nil, configError(ErrMissingValue, "master name should be presented")
	}
	if sentinels == nil {
		return nil, configError(ErrMissingValue, "sentinels information should be presented")
	}
	if len(sentinels) == 0 {
		return nil, configError(ErrInvalidArgument, "sentinel hosts should not be empty")
	}
	return &Config{
		target: Sentinel{
			MasterName:        masterName,
			Sentinels:         dedupe(sentinels),
			DB:                o.db,
			ConnectionTimeout: o.timeout,
			SoTimeout:         o.soTimeout,
		},
		password: o.password,
		pool:     o.pool,
	}, nil
}

// NewClusterConfig 集群配置，nodes 必填且每一项都必须是 host:port
func NewClusterConfig(nodes []string, opts ...Option) (*Config, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.maxRedirections < 0 {
		return nil, configError(ErrInvalidArgument, "maxRedirections must not be negative")
	}
	if nodes == nil {
		return nil, configError(ErrMissingValue, "node information should be presented")
	}
	if len(nodes) == 0 {
		return nil, configError(ErrInvalidArgument, "cluster nodes should not be empty")
	}
	for _, n := range nodes {
		if _, _, err := splitAddr(n); err != nil {
			return nil, configError(ErrInvalidArgument, "node %q: %v", n, err)
		}
	}
	return &Config{
		target: Cluster{
			Nodes:           dedupe(nodes),
			Timeout:         o.timeout,
			MaxRedirections: o.maxRedirections,
		},
		password: o.password,
		pool:     o.pool,
	}, nil
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// dedupe 按首次出现顺序去重（集合语义）
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
