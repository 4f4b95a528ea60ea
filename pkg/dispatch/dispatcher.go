package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
)

// Task 一次业务分发任务
type Task struct {
	TaskID       string
	DeviceID     string
	ProtocolType string
	Domain       constants.BusinessDomain
	BusinessType string
	Operation    string
	Data         map[string]interface{}
	EnqueuedAt   time.Time
}

// Handler 业务处理器接口，由业务协作方实现
type Handler interface {
	Handle(ctx context.Context, task *Task) (map[string]interface{}, error)
}

// HandlerFunc 函数形式的业务处理器
type HandlerFunc func(ctx context.Context, task *Task) (map[string]interface{}, error)

// Handle 实现Handler接口
func (f HandlerFunc) Handle(ctx context.Context, task *Task) (map[string]interface{}, error) {
	return f(ctx, task)
}

// RetryPolicy 重试策略，只对幂等业务类型生效
type RetryPolicy struct {
	MaxAttempts   int           // 总尝试次数（含首次）
	BaseDelay     time.Duration // 首次重试延迟
	BackoffFactor int           // 退避倍数
}

// Config 分发器配置
type Config struct {
	WorkerCount  int
	QueueSize    int
	Backpressure constants.BackpressurePolicy
	Timeout      time.Duration // 单次业务处理超时
	Retry        RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Backpressure == "" {
		c.Backpressure = constants.BackpressureRejectNew
	}
	if c.Timeout <= 0 {
		c.Timeout = constants.DefaultDispatchTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.BackoffFactor <= 0 {
		c.Retry.BackoffFactor = 2
	}
}

type queueItem struct {
	task   *Task
	future *Future
}

// Dispatcher 业务分发器，有界队列加固定工作池
type Dispatcher struct {
	cfg Config

	handlerMu sync.RWMutex
	handlers  map[constants.BusinessDomain]Handler

	queueMu     sync.Mutex
	queue       chan *queueItem
	queueClosed bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	stateMu sync.Mutex
	started bool
	stopped bool
}

// NewDispatcher 创建分发器
func NewDispatcher(cfg Config) *Dispatcher {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:        cfg,
		handlers:   make(map[constants.BusinessDomain]Handler),
		queue:      make(chan *queueItem, cfg.QueueSize),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// RegisterHandler 注册业务域处理器，同域重复注册时后者覆盖前者
func (d *Dispatcher) RegisterHandler(domain constants.BusinessDomain, h Handler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.handlers[domain] = h
}

// Start 启动工作池。重复启动是幂等的
func (d *Dispatcher) Start() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	logger.WithFields(logrus.Fields{
		"workerCount": d.cfg.WorkerCount,
		"queueSize":   d.cfg.QueueSize,
	}).Info("业务分发器启动")
}

// Dispatch 投递业务任务，立即返回Future。
// 分发器已停止时拒绝投递；队列满时按背压策略处理
func (d *Dispatcher) Dispatch(task *Task) (*Future, error) {
	d.stateMu.Lock()
	if d.stopped || !d.started {
		d.stateMu.Unlock()
		return nil, apperrors.New(apperrors.ErrDispatchCancelled, "分发器未运行，拒绝投递")
	}
	d.stateMu.Unlock()

	if task == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParameter, "任务为空")
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	task.EnqueuedAt = time.Now()
	item := &queueItem{task: task, future: newFuture()}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if d.queueClosed {
		return nil, apperrors.New(apperrors.ErrDispatchCancelled, "分发器停机，拒绝投递")
	}

	select {
	case d.queue <- item:
		return item.future, nil
	default:
	}

	// 队列已满
	switch d.cfg.Backpressure {
	case constants.BackpressureDropOldest:
		select {
		case oldest := <-d.queue:
			oldest.future.complete(Result{
				Success: false,
				Code:    apperrors.ErrDispatchQueueFull,
				Err:     apperrors.New(apperrors.ErrDispatchQueueFull, "队列满，任务被挤出"),
			})
			metrics.IncDispatch(oldest.task.ProtocolType, oldest.task.BusinessType, "failure")
			logger.WithFields(logrus.Fields{
				"deviceId":     oldest.task.DeviceID,
				"businessType": oldest.task.BusinessType,
			}).Warn("队列满，最旧任务被丢弃")
		default:
		}
		select {
		case d.queue <- item:
			return item.future, nil
		default:
			return nil, apperrors.New(apperrors.ErrDispatchQueueFull, "队列满，投递失败")
		}
	default: // reject-new
		metrics.IncDispatch(task.ProtocolType, task.BusinessType, "failure")
		return nil, apperrors.New(apperrors.ErrDispatchQueueFull, "队列满，拒绝新任务")
	}
}

// Shutdown 优雅停机。停止接收新任务，在宽限期内等待在途任务完成，
// 宽限期耗尽后剩余任务全部以CANCELLED结束。重复调用是幂等的
func (d *Dispatcher) Shutdown(grace time.Duration) {
	d.stateMu.Lock()
	if d.stopped {
		d.stateMu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.stateMu.Unlock()

	logger.WithField("grace", grace.String()).Info("业务分发器开始停机")

	if !started {
		d.baseCancel()
		return
	}

	// 不再有新任务进入，关闭队列让空闲worker退出
	d.queueMu.Lock()
	d.queueClosed = true
	close(d.queue)
	d.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("业务分发器停机完成，全部任务已处理")
	case <-time.After(grace):
		// 宽限期耗尽，取消在途任务
		d.baseCancel()
		<-done
		logger.Warn("业务分发器停机宽限期耗尽，在途任务已取消")
	}
	d.baseCancel()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		select {
		case <-d.baseCtx.Done():
			d.cancelItem(item)
		default:
			d.runTask(item)
		}
	}
}

func (d *Dispatcher) cancelItem(item *queueItem) {
	item.future.complete(Result{
		Success: false,
		Code:    apperrors.ErrDispatchCancelled,
		Err:     apperrors.New(apperrors.ErrDispatchCancelled, "分发器停机，任务取消"),
	})
	metrics.IncDispatch(item.task.ProtocolType, item.task.BusinessType, "cancelled")
}

// runTask 执行任务，幂等业务类型允许重试
func (d *Dispatcher) runTask(item *queueItem) {
	task := item.task
	start := time.Now()

	d.handlerMu.RLock()
	handler, ok := d.handlers[task.Domain]
	d.handlerMu.RUnlock()
	if !ok {
		item.future.complete(Result{
			Success: false,
			Code:    apperrors.ErrBusinessTypeUnknown,
			Err:     apperrors.Newf(apperrors.ErrBusinessTypeUnknown, "业务域 %s 无处理器", task.Domain),
		})
		metrics.IncDispatch(task.ProtocolType, task.BusinessType, "failure")
		return
	}

	maxAttempts := 1
	if constants.IsIdempotentBusinessType(task.BusinessType) {
		maxAttempts = d.cfg.Retry.MaxAttempts
	}

	var lastErr error
	delay := d.cfg.Retry.BaseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := d.runOnce(handler, task)
		if err == nil {
			item.future.complete(Result{Success: true, Data: data})
			metrics.IncDispatch(task.ProtocolType, task.BusinessType, "success")
			metrics.ObserveDispatchDuration(task.ProtocolType, time.Since(start).Seconds())
			return
		}
		lastErr = err

		// 停机取消不重试
		if apperrors.IsErrCode(err, apperrors.ErrDispatchCancelled) {
			break
		}

		if attempt < maxAttempts {
			logger.WithFields(logrus.Fields{
				"deviceId":     task.DeviceID,
				"businessType": task.BusinessType,
				"attempt":      attempt,
				"error":        err.Error(),
			}).Warn("业务处理失败，准备重试")
			select {
			case <-time.After(delay):
			case <-d.baseCtx.Done():
				lastErr = apperrors.New(apperrors.ErrDispatchCancelled, "分发器停机，重试中止")
				attempt = maxAttempts
			}
			delay *= time.Duration(d.cfg.Retry.BackoffFactor)
		}
	}

	code := apperrors.ErrBusinessHandlerFailed
	outcome := "failure"
	switch {
	case apperrors.IsErrCode(lastErr, apperrors.ErrDispatchTimeout):
		code = apperrors.ErrDispatchTimeout
		outcome = "timeout"
	case apperrors.IsErrCode(lastErr, apperrors.ErrDispatchCancelled):
		code = apperrors.ErrDispatchCancelled
		outcome = "cancelled"
	}

	item.future.complete(Result{Success: false, Code: code, Err: lastErr})
	metrics.IncDispatch(task.ProtocolType, task.BusinessType, outcome)
	metrics.ObserveDispatchDuration(task.ProtocolType, time.Since(start).Seconds())

	logger.WithFields(logrus.Fields{
		"taskId":       task.TaskID,
		"deviceId":     task.DeviceID,
		"businessType": task.BusinessType,
		"outcome":      outcome,
		"error":        fmt.Sprintf("%v", lastErr),
	}).Error("业务处理最终失败")
}

// runOnce 单次执行，带超时控制。处理器不响应ctx时超时仍然生效，
// 处理器goroutine被放弃而不是被打断
func (d *Dispatcher) runOnce(handler Handler, task *Task) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.Timeout)
	defer cancel()

	type outcome struct {
		data map[string]interface{}
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: apperrors.Newf(apperrors.ErrBusinessHandlerFailed, "业务处理器panic: %v", r)}
			}
		}()
		data, err := handler.Handle(ctx, task)
		ch <- outcome{data: data, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			if d.baseCtx.Err() != nil && errors.Is(out.err, context.Canceled) {
				return nil, apperrors.New(apperrors.ErrDispatchCancelled, "分发器停机，任务取消")
			}
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, apperrors.Newf(apperrors.ErrDispatchTimeout, "业务处理超时(%s)", d.cfg.Timeout)
			}
		}
		return out.data, out.err
	case <-ctx.Done():
		if d.baseCtx.Err() != nil {
			return nil, apperrors.New(apperrors.ErrDispatchCancelled, "分发器停机，任务取消")
		}
		return nil, apperrors.Newf(apperrors.ErrDispatchTimeout, "业务处理超时(%s)", d.cfg.Timeout)
	}
}

// QueueDepth 返回当前队列深度
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}
