package sink

import (
	"fmt"
	"time"

	"github.com/restoflife/ql_sink/redis"
)

// entry 缓冲区中的一条记录
type entry struct {
	action   redis.Action
	size     int64
	enqueued time.Time
	attempts int // 已执行失败的次数
}

// Batch 一次提交执行的一组记录，顺序与提交顺序一致
type Batch struct {
	entries []entry
	bytes   int64
}

// Actions 批次中的记录
func (b *Batch) Actions() []redis.Action {
	out := make([]redis.Action, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.action
	}
	return out
}

func (b *Batch) Len() int { return len(b.entries) }

func (b *Batch) SizeInBytes() int64 { return b.bytes }

// Buffer 待提交记录的暂存区
//
// 非并发安全，由 Writer 在自己的锁内独占使用。
type Buffer struct {
	cfg     BufferingConfig
	pending []entry
	bytes   int64
}

func NewBuffer(cfg BufferingConfig) *Buffer {
	return &Buffer{cfg: cfg}
}

// Submit 追加一条记录
//
// 超过单条上限返回 ErrRecordTooLarge，缓冲区满返回 ErrBufferFull，两种情况都不会入队。
func (b *Buffer) Submit(a redis.Action, now time.Time) error {
	size := a.SizeInBytes()
	if size > b.cfg.MaxRecordSizeInBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrRecordTooLarge, size, b.cfg.MaxRecordSizeInBytes)
	}
	if len(b.pending) >= b.cfg.MaxBufferedRequests {
		return ErrBufferFull
	}
	b.pending = append(b.pending, entry{action: a, size: size, enqueued: now})
	b.bytes += size
	return nil
}

// requeue 把失败的记录放回队首，重新参与各项触发条件
//
// 重试记录不受 MaxBufferedRequests 限制，缓冲区因此可能暂时超出上限，
// 此时新的 Submit 会一直返回 ErrBufferFull 直到缓冲区降下来。
func (b *Buffer) requeue(entries []entry, now time.Time) {
	if len(entries) == 0 {
		return
	}
	merged := make([]entry, 0, len(entries)+len(b.pending))
	for _, e := range entries {
		e.enqueued = now
		merged = append(merged, e)
		b.bytes += e.size
	}
	b.pending = append(merged, b.pending...)
}

// takeAll 清空缓冲区并返回全部记录
func (b *Buffer) takeAll() []entry {
	out := b.pending
	b.pending = nil
	b.bytes = 0
	return out
}

func (b *Buffer) Len() int { return len(b.pending) }

func (b *Buffer) SizeInBytes() int64 { return b.bytes }

// Deadline 最早入队记录的到期时间
func (b *Buffer) Deadline() (time.Time, bool) {
	if len(b.pending) == 0 {
		return time.Time{}, false
	}
	oldest := b.pending[0].enqueued
	for _, e := range b.pending[1:] {
		if e.enqueued.Before(oldest) {
			oldest = e.enqueued
		}
	}
	return oldest.Add(b.cfg.MaxTimeInBuffer), true
}

// Ready 条数、字节数或等待时间任一达到阈值
func (b *Buffer) Ready(now time.Time) bool {
	if len(b.pending) == 0 {
		return false
	}
	if len(b.pending) >= b.cfg.MaxBatchSize || b.bytes >= b.cfg.MaxBatchSizeInBytes {
		return true
	}
	deadline, _ := b.Deadline()
	return !now.Before(deadline)
}

// Next 取出下一个就绪的批次，force 时忽略触发条件；没有就绪批次返回 nil
//
// 批次按 FIFO 取记录，不超过 MaxBatchSize 条和 MaxBatchSizeInBytes 字节，至少一条。
func (b *Buffer) Next(now time.Time, force bool) *Batch {
	if len(b.pending) == 0 || (!force && !b.Ready(now)) {
		return nil
	}

	n := 0
	var bytes int64
	for n < len(b.pending) && n < b.cfg.MaxBatchSize {
		size := b.pending[n].size
		if n > 0 && bytes+size > b.cfg.MaxBatchSizeInBytes {
			break
		}
		bytes += size
		n++
	}

	batch := &Batch{entries: make([]entry, n), bytes: bytes}
	copy(batch.entries, b.pending[:n])

	if n == len(b.pending) {
		b.pending = nil
	} else {
		b.pending = b.pending[n:]
	}
	b.bytes -= bytes
	return batch
}

// Drain 取出当前所有就绪批次
func (b *Buffer) Drain(now time.Time, force bool) []*Batch {
	var out []*Batch
	for {
		batch := b.Next(now, force)
		if batch == nil {
			return out
		}
		out = append(out, batch)
	}
}
