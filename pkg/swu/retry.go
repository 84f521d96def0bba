package swu

import (
	"context"
	"time"

	"github.com/vowifi/ikev2client/pkg/logger"
)

// RetryContext 驱动阻塞式的请求-重传循环：connectOnce 的 IKE_SA_INIT 循环，
// 以及经 sendEncryptedWithRetry 发出的全部加密请求 (IKE_AUTH、Rekey、DPD、
// Delete)。每次只有一个请求在途；Session 不创建 TaskManager。
type RetryContext struct {
	ctx    context.Context
	config *RetryConfig
}

// NewRetryContext 创建一个重传上下文；config 为 nil 时使用 DefaultRetryConfig。
func NewRetryContext(ctx context.Context, config *RetryConfig) *RetryContext {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryContext{ctx: ctx, config: config}
}

// SendWithRetry 反复调用 send 发出 data，并通过 recv 等待响应，每次超时后
// 按 BackoffFactor 放大等待时间，直至收到响应、达到 MaxRetries 或 ctx 被取消。
func (r *RetryContext) SendWithRetry(send func([]byte) error, recv func(timeout time.Duration) ([]byte, error), data []byte) ([]byte, error) {
	timeout := r.config.InitialTimeout

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}

		if err := send(data); err != nil {
			return nil, err
		}

		resp, err := recv(timeout)
		if err == nil {
			return resp, nil
		}
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}

		logger.Debug("握手请求超时，准备重传",
			logger.Int("attempt", attempt+1),
			logger.Duration("timeout", timeout))

		timeout = time.Duration(float64(timeout) * r.config.BackoffFactor)
		if r.config.MaxTimeout > 0 && timeout > r.config.MaxTimeout {
			timeout = r.config.MaxTimeout
		}
	}

	return nil, ErrWindowTimeout
}
