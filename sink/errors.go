package sink

import "errors"

var (
	// ErrClosed 写入器已关闭（或正在关闭），拒绝新的调用
	ErrClosed = errors.New("sink: writer closed")
	// ErrBufferFull 缓冲区已满，调用方需要暂停后重试
	ErrBufferFull = errors.New("sink: buffer full")
	// ErrRecordTooLarge 单条记录超过 MaxRecordSizeInBytes，不会重试
	ErrRecordTooLarge = errors.New("sink: record too large")
	// ErrInvalidConfig 缓冲配置非法
	ErrInvalidConfig = errors.New("sink: invalid config")

	// ErrRetriesExhausted 达到 MaxAttempts 后放弃
	ErrRetriesExhausted = errors.New("sink: retry attempts exhausted")
	// ErrAborted 关闭超时，未送达的记录被放弃
	ErrAborted = errors.New("sink: writer aborted before delivery")
)
