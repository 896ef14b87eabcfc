package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志系统的配置结构体
type Config struct {
	Level      string `json:"level" yaml:"level"`             // 文件日志输出等级（如 "info"、"debug"）
	Filename   string `json:"file" yaml:"file"`               // 日志文件路径，为空时只输出到控制台
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 每个日志文件最大尺寸（MB）
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件个数
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 保留旧日志的最大天数
	Console    string `json:"console" yaml:"console"`         // 控制台输出的日志等级，为空时不输出
	Format     string `json:"format" yaml:"format"`           // 输出格式："json" 或 "text"
}

// DefaultConfig 只输出到控制台的 info 日志
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
		Console:    "info",
		Format:     "json",
	}
}

var (
	mu         sync.Mutex    // 互斥锁，确保并发安全
	allLoggers []*zap.Logger // 存储所有初始化过的 logger
	defaultLog *zap.Logger   // 默认 logger 实例
)

// New 初始化默认日志实例
func New(g *Config) *zap.Logger {
	l := g.NewLogger()
	mu.Lock()
	defaultLog = l
	mu.Unlock()
	return l
}

// NewLogger 基于当前配置创建新的 zap.Logger 实例
func (l *Config) NewLogger() *zap.Logger {
	cores := make([]zapcore.Core, 0, 2)

	// 文件输出 + 日志切割
	if l.Filename != "" {
		if enabler := createLevelEnablerFunc(l.Level); enabler != nil {
			cores = append(cores, zapcore.NewCore(
				createEncoder(l.Format, false),
				zapcore.AddSync(&lumberjack.Logger{
					Filename:   l.Filename,
					MaxSize:    l.MaxSize,
					MaxBackups: l.MaxBackups,
					MaxAge:     l.MaxAge,
					LocalTime:  true,
				}),
				enabler,
			))
		}
	}

	// 控制台输出到标准错误
	if enabler := createLevelEnablerFunc(l.Console); enabler != nil {
		cores = append(cores, zapcore.NewCore(
			createEncoder("text", true),
			zapcore.Lock(os.Stderr),
			enabler,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	mu.Lock()
	allLoggers = append(allLoggers, logger)
	mu.Unlock()

	return logger
}

// Logger 返回默认 logger 实例，未初始化时返回 Nop
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if defaultLog == nil {
		return zap.NewNop()
	}
	return defaultLog
}

// Named 默认 logger 的子 logger，name 见 constant.go
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// createLevelEnablerFunc 根据字符串日志级别创建 zap.LevelEnablerFunc，无法解析时返回 nil
func createLevelEnablerFunc(input string) zap.LevelEnablerFunc {
	if input == "" {
		return nil
	}
	var lv = new(zapcore.Level)
	if err := lv.UnmarshalText([]byte(input)); err != nil {
		return nil
	}
	return func(lev zapcore.Level) bool {
		return lev >= *lv
	}
}

// createEncoder 创建日志编码器：支持 JSON 或 控制台格式
func createEncoder(format string, isConsole bool) zapcore.Encoder {
	var cfg zapcore.EncoderConfig
	if isConsole {
		cfg = zap.NewDevelopmentEncoderConfig()
	} else {
		cfg = zap.NewProductionEncoderConfig()
		cfg.CallerKey = "func"
	}
	cfg.EncodeTime = timeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder // 批次耗时以毫秒计
	cfg.EncodeCaller = zapcore.ShortCallerEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(cfg)
	default:
		return zapcore.NewConsoleEncoder(cfg)
	}
}

// timeEncoder 时间格式化函数（RFC3339 格式）
func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(time.RFC3339))
}

// 以下是对默认 logger 的简化调用封装

func Info(msg string, fields ...zapcore.Field)  { Logger().Info(msg, fields...) }
func Debug(msg string, fields ...zapcore.Field) { Logger().Debug(msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { Logger().Warn(msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { Logger().Error(msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { Logger().Fatal(msg, fields...) }

func Infof(format string, args ...any)  { Logger().Sugar().Infof(format, args...) }
func Warnf(format string, args ...any)  { Logger().Sugar().Warnf(format, args...) }
func Errorf(format string, args ...any) { Logger().Sugar().Errorf(format, args...) }

// SyncAll 刷新所有日志缓冲（写入磁盘或终端）
func SyncAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range allLoggers {
		if l != nil {
			_ = l.Sync() // 输出到 stderr 时 Sync 可能返回 error，忽略
		}
	}
}
