// Package app 装配网关的业务协作方。
// 网关本身不做业务决策，解析后的业务记录统一发布到Redis Stream，
// 由外部业务系统消费。
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
)

// 业务流的最大长度，超过后按近似策略裁剪
const businessStreamMaxLen = 100000

// BusinessEventHandler 业务事件处理器。
// 将业务记录写入按业务域划分的Redis Stream，client为nil时退化为仅记录日志
type BusinessEventHandler struct {
	client *redis.Client
}

// NewBusinessEventHandler 创建业务事件处理器
func NewBusinessEventHandler(client *redis.Client) *BusinessEventHandler {
	return &BusinessEventHandler{client: client}
}

// Handle 实现dispatch.Handler
func (h *BusinessEventHandler) Handle(ctx context.Context, task *dispatch.Task) (map[string]interface{}, error) {
	payload, err := json.Marshal(task.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBusinessHandlerFailed, "业务数据序列化失败", err)
	}

	if h.client == nil {
		logger.WithFields(logrus.Fields{
			"deviceID":     task.DeviceID,
			"protocol":     task.ProtocolType,
			"domain":       task.Domain,
			"businessType": task.BusinessType,
		}).Info("Redis未启用，业务记录仅落日志")
		return nil, nil
	}

	streamKey := fmt.Sprintf("gateway:business:%s", strings.ToLower(string(task.Domain)))
	err = h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: businessStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"taskId":       task.TaskID,
			"deviceId":     task.DeviceID,
			"protocol":     task.ProtocolType,
			"businessType": task.BusinessType,
			"operation":    task.Operation,
			"payload":      string(payload),
			"enqueuedAt":   task.EnqueuedAt.UnixMilli(),
			"publishedAt":  time.Now().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRedisOperationFailed, "业务记录发布失败", err)
	}

	logger.WithFields(logrus.Fields{
		"deviceID":     task.DeviceID,
		"businessType": task.BusinessType,
		"stream":       streamKey,
	}).Debug("业务记录已发布")
	return nil, nil
}
