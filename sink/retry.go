package sink

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryPolicy 决定失败记录是否继续重试以及重新入队前等待多久
//
// 退避状态由整个写入器共享：任一批次全部成功即重置，批次出现失败则前进一步。
// 非并发安全，由 Writer 加锁调用。
type retryPolicy struct {
	maxAttempts int
	bo          *backoff.ExponentialBackOff // nil 表示不退避
}

func newRetryPolicy(cfg RetryConfig) *retryPolicy {
	p := &retryPolicy{maxAttempts: cfg.MaxAttempts}
	if cfg.InitialBackoff > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = cfg.InitialBackoff
		bo.MaxInterval = cfg.MaxBackoff
		if bo.MaxInterval == 0 {
			bo.MaxInterval = time.Duration(math.MaxInt64)
		}
		if cfg.Multiplier > 1 {
			bo.Multiplier = cfg.Multiplier
		} else {
			bo.Multiplier = 2
		}
		bo.Reset()
		p.bo = bo
	}
	return p
}

// split 把失败记录分为继续重试和已用尽次数两组
func (p *retryPolicy) split(failed []entry) (retry, exhausted []entry) {
	if p.maxAttempts <= 0 {
		return failed, nil
	}
	for _, e := range failed {
		if e.attempts >= p.maxAttempts {
			exhausted = append(exhausted, e)
		} else {
			retry = append(retry, e)
		}
	}
	return retry, exhausted
}

// delay 批次结束后的等待时间
func (p *retryPolicy) delay(failures int) time.Duration {
	if p.bo == nil {
		return 0
	}
	if failures == 0 {
		p.bo.Reset()
		return 0
	}
	return p.bo.NextBackOff()
}
