// Package dispatch 实现异步业务分发。
// 协议层解析完成后将业务数据投递到工作池，立即拿到Future，
// 业务处理结果通过Future异步获取，协议层不被慢业务阻塞。
package dispatch

import (
	"context"
	"sync"

	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
)

// Result 业务处理结果
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Code    apperrors.ErrorCode    `json:"code,omitempty"`
	Err     error                  `json:"-"`
}

// Future 异步结果占位符。完成后结果不可变，重复完成被忽略
type Future struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete 写入结果并唤醒等待方，只有第一次调用生效
func (f *Future) complete(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done 返回完成信号通道，可用于select
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get 阻塞等待结果，ctx取消时提前返回
func (f *Future) Get(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryGet 非阻塞获取结果，未完成时第二个返回值为false
func (f *Future) TryGet() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}
