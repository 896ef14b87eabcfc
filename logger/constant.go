package logger

// 各组件 logger 的名称，Named 之后出现在日志的 logger 字段里
const (
	// POOL 连接池
	POOL = "pool"
	// EXECUTOR 同步执行器
	EXECUTOR = "executor"
	// SINK 批量写入器
	SINK = "sink"
	// HTTP 接入层
	HTTP = "http"
)
