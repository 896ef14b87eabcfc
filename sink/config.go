package sink

import (
	"fmt"
	"time"
)

// 与原连接器一致的默认值
const (
	DefaultMaxBatchSize        = 10
	DefaultMaxInFlightRequests = 1
	DefaultMaxBufferedRequests = 100
	DefaultMaxBatchSizeInBytes = 110
	DefaultMaxTimeInBuffer     = time.Second
)

// BufferingConfig 缓冲与并发限制，构造后不再修改
type BufferingConfig struct {
	MaxBatchSize         int           // 单批最多记录数
	MaxInFlightRequests  int           // 同时执行的批次数
	MaxBufferedRequests  int           // 缓冲区最多记录数，超出即背压
	MaxBatchSizeInBytes  int64         // 单批最大字节数，也是按字节触发的阈值
	MaxTimeInBuffer      time.Duration // 最早一条记录的最长等待时间
	MaxRecordSizeInBytes int64         // 单条记录上限
}

// DefaultBufferingConfig 默认缓冲配置，单条上限等于单批字节上限
func DefaultBufferingConfig() BufferingConfig {
	return BufferingConfig{
		MaxBatchSize:         DefaultMaxBatchSize,
		MaxInFlightRequests:  DefaultMaxInFlightRequests,
		MaxBufferedRequests:  DefaultMaxBufferedRequests,
		MaxBatchSizeInBytes:  DefaultMaxBatchSizeInBytes,
		MaxTimeInBuffer:      DefaultMaxTimeInBuffer,
		MaxRecordSizeInBytes: DefaultMaxBatchSizeInBytes,
	}
}

// BufferingOption 缓冲配置的函数式参数
type BufferingOption func(*bufferingOptions)

type bufferingOptions struct {
	cfg           BufferingConfig
	recordSizeSet bool
}

func WithMaxBatchSize(n int) BufferingOption {
	return func(o *bufferingOptions) { o.cfg.MaxBatchSize = n }
}

func WithMaxInFlightRequests(n int) BufferingOption {
	return func(o *bufferingOptions) { o.cfg.MaxInFlightRequests = n }
}

func WithMaxBufferedRequests(n int) BufferingOption {
	return func(o *bufferingOptions) { o.cfg.MaxBufferedRequests = n }
}

func WithMaxBatchSizeInBytes(n int64) BufferingOption {
	return func(o *bufferingOptions) { o.cfg.MaxBatchSizeInBytes = n }
}

func WithMaxTimeInBuffer(d time.Duration) BufferingOption {
	return func(o *bufferingOptions) { o.cfg.MaxTimeInBuffer = d }
}

func WithMaxRecordSizeInBytes(n int64) BufferingOption {
	return func(o *bufferingOptions) {
		o.cfg.MaxRecordSizeInBytes = n
		o.recordSizeSet = true
	}
}

// NewBufferingConfig 在默认值上应用参数并校验
//
// 未显式设置 MaxRecordSizeInBytes 时取 MaxBatchSizeInBytes。
func NewBufferingConfig(opts ...BufferingOption) (BufferingConfig, error) {
	o := bufferingOptions{cfg: DefaultBufferingConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.recordSizeSet {
		o.cfg.MaxRecordSizeInBytes = o.cfg.MaxBatchSizeInBytes
	}
	if err := o.cfg.Validate(); err != nil {
		return BufferingConfig{}, err
	}
	return o.cfg, nil
}

// Validate 负数一律非法；计数和字节上限为 0 时写入器无法前进，同样拒绝
func (c BufferingConfig) Validate() error {
	switch {
	case c.MaxBatchSize <= 0:
		return fmt.Errorf("%w: maxBatchSize must be positive, got %d", ErrInvalidConfig, c.MaxBatchSize)
	case c.MaxInFlightRequests <= 0:
		return fmt.Errorf("%w: maxInFlightRequests must be positive, got %d", ErrInvalidConfig, c.MaxInFlightRequests)
	case c.MaxBufferedRequests <= 0:
		return fmt.Errorf("%w: maxBufferedRequests must be positive, got %d", ErrInvalidConfig, c.MaxBufferedRequests)
	case c.MaxBatchSizeInBytes <= 0:
		return fmt.Errorf("%w: maxBatchSizeInBytes must be positive, got %d", ErrInvalidConfig, c.MaxBatchSizeInBytes)
	case c.MaxRecordSizeInBytes <= 0:
		return fmt.Errorf("%w: maxRecordSizeInBytes must be positive, got %d", ErrInvalidConfig, c.MaxRecordSizeInBytes)
	case c.MaxTimeInBuffer < 0:
		return fmt.Errorf("%w: maxTimeInBuffer must not be negative", ErrInvalidConfig)
	case c.MaxBufferedRequests < c.MaxBatchSize:
		return fmt.Errorf("%w: maxBufferedRequests (%d) must not be less than maxBatchSize (%d)",
			ErrInvalidConfig, c.MaxBufferedRequests, c.MaxBatchSize)
	case c.MaxRecordSizeInBytes > c.MaxBatchSizeInBytes:
		return fmt.Errorf("%w: maxRecordSizeInBytes (%d) must not exceed maxBatchSizeInBytes (%d)",
			ErrInvalidConfig, c.MaxRecordSizeInBytes, c.MaxBatchSizeInBytes)
	}
	return nil
}

// RetryConfig 失败重试策略
//
// 零值即原有行为：无限重试，没有退避。
type RetryConfig struct {
	MaxAttempts    int           // 每条记录最多执行次数，0 表示不限
	InitialBackoff time.Duration // 首次退避，0 表示不退避
	MaxBackoff     time.Duration // 退避上限，0 表示不设上限
	Multiplier     float64       // 退避倍数，<=1 时取 2
}

func (r RetryConfig) Validate() error {
	switch {
	case r.MaxAttempts < 0:
		return fmt.Errorf("%w: maxAttempts must not be negative", ErrInvalidConfig)
	case r.InitialBackoff < 0, r.MaxBackoff < 0:
		return fmt.Errorf("%w: backoff must not be negative", ErrInvalidConfig)
	case r.MaxBackoff > 0 && r.MaxBackoff < r.InitialBackoff:
		return fmt.Errorf("%w: maxBackoff must not be less than initialBackoff", ErrInvalidConfig)
	}
	return nil
}

// FileConfig 配置文件中的 sink 段
type FileConfig struct {
	MaxBatchSize         int   `yaml:"max_batch_size" json:"max_batch_size"`
	MaxInFlightRequests  int   `yaml:"max_in_flight_requests" json:"max_in_flight_requests"`
	MaxBufferedRequests  int   `yaml:"max_buffered_requests" json:"max_buffered_requests"`
	MaxBatchSizeInBytes  int64 `yaml:"max_batch_size_in_bytes" json:"max_batch_size_in_bytes"`
	MaxTimeInBufferMS    int64 `yaml:"max_time_in_buffer_ms" json:"max_time_in_buffer_ms"`
	MaxRecordSizeInBytes int64 `yaml:"max_record_size_in_bytes" json:"max_record_size_in_bytes"` // 0 表示与 max_batch_size_in_bytes 相同

	Retry struct {
		MaxAttempts      int     `yaml:"max_attempts" json:"max_attempts"`
		InitialBackoffMS int64   `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
		MaxBackoffMS     int64   `yaml:"max_backoff_ms" json:"max_backoff_ms"`
		Multiplier       float64 `yaml:"multiplier" json:"multiplier"`
	} `yaml:"retry" json:"retry"`
}

// DefaultFileConfig 与 DefaultBufferingConfig 对应
func DefaultFileConfig() FileConfig {
	d := DefaultBufferingConfig()
	return FileConfig{
		MaxBatchSize:        d.MaxBatchSize,
		MaxInFlightRequests: d.MaxInFlightRequests,
		MaxBufferedRequests: d.MaxBufferedRequests,
		MaxBatchSizeInBytes: d.MaxBatchSizeInBytes,
		MaxTimeInBufferMS:   d.MaxTimeInBuffer.Milliseconds(),
	}
}

// Build 转换为校验过的 BufferingConfig 与 RetryConfig
func (f FileConfig) Build() (BufferingConfig, RetryConfig, error) {
	opts := []BufferingOption{
		WithMaxBatchSize(f.MaxBatchSize),
		WithMaxInFlightRequests(f.MaxInFlightRequests),
		WithMaxBufferedRequests(f.MaxBufferedRequests),
		WithMaxBatchSizeInBytes(f.MaxBatchSizeInBytes),
		WithMaxTimeInBuffer(time.Duration(f.MaxTimeInBufferMS) * time.Millisecond),
	}
	if f.MaxRecordSizeInBytes != 0 {
		opts = append(opts, WithMaxRecordSizeInBytes(f.MaxRecordSizeInBytes))
	}
	cfg, err := NewBufferingConfig(opts...)
	if err != nil {
		return BufferingConfig{}, RetryConfig{}, err
	}
	retry := RetryConfig{
		MaxAttempts:    f.Retry.MaxAttempts,
		InitialBackoff: time.Duration(f.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(f.Retry.MaxBackoffMS) * time.Millisecond,
		Multiplier:     f.Retry.Multiplier,
	}
	if err = retry.Validate(); err != nil {
		return BufferingConfig{}, RetryConfig{}, err
	}
	return cfg, retry, nil
}
