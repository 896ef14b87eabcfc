package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/restoflife/ql_sink/logger"
	"github.com/restoflife/ql_sink/redis"
	"github.com/restoflife/ql_sink/sink"
)

// HTTPConfig 接入服务
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"` // 监听地址，例如 :8080
	// Blocking 为 true 时缓冲区满会阻塞请求，否则立即返回 429
	Blocking bool `yaml:"blocking" json:"blocking"`
	// ShutdownTimeoutMS 退出时等待请求处理和最后一次 flush 的时间
	ShutdownTimeoutMS int64 `yaml:"shutdown_timeout_ms" json:"shutdown_timeout_ms"`
}

// MetricsConfig Prometheus 指标名前缀
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// Config 整个进程的配置
type Config struct {
	Log     logger.Config    `yaml:"log" json:"log"`
	Redis   redis.FileConfig `yaml:"redis" json:"redis"`
	Sink    sink.FileConfig  `yaml:"sink" json:"sink"`
	HTTP    HTTPConfig       `yaml:"http" json:"http"`
	Metrics MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// Default 各段的默认值
func Default() *Config {
	return &Config{
		Log:   logger.DefaultConfig(),
		Redis: redis.DefaultFileConfig(),
		Sink:  sink.DefaultFileConfig(),
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ShutdownTimeoutMS: 10000,
		},
		Metrics: MetricsConfig{
			Namespace: "ql",
			Subsystem: "sink",
		},
	}
}

// Load 在默认值上覆盖 r 中的 YAML，r 为 nil 或内容为空时返回默认值
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile 读取配置文件，文件不存在时返回默认值
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
