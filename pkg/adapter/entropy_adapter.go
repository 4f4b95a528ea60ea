package adapter

import (
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

// 熵基门禁协议默认支持的设备型号
var entropyDefaultModels = []string{"X100", "X200", "HE-AC2000", "HE-FACE7"}

// EntropyAdapter 熵基门禁协议适配器
type EntropyAdapter struct {
	*BaseAdapter
}

// NewEntropyAdapter 创建熵基门禁协议适配器
func NewEntropyAdapter(opts Options) *EntropyAdapter {
	opts.Codec = protocol.NewEntropyCodec()
	opts.Manufacturer = "熵基科技"
	opts.Version = "V4.8"
	if len(opts.Models) == 0 {
		opts.Models = entropyDefaultModels
	}
	return &EntropyAdapter{BaseAdapter: NewBaseAdapter(opts)}
}

// ProcessInboundMessage 入站消息路由。
// 注册与心跳走会话生命周期，业务消息分发到门禁域，
// 设备错误上报走错误翻译。返回的Future对生命周期消息为nil
func (a *EntropyAdapter) ProcessInboundMessage(msg *protocol.Message) (*dispatch.Future, error) {
	if result := a.ValidateMessage(msg); !result.Valid {
		return nil, apperrors.Newf(apperrors.ErrInvalidParameter,
			"消息校验失败: %s (%s)", result.ErrorCode, result.Reason)
	}

	switch msg.MessageName {
	case "REGISTER":
		_, err := a.HandleDeviceRegistration(msg)
		return nil, err
	case "HEARTBEAT":
		_, err := a.HandleDeviceHeartbeat(msg.DeviceID)
		return nil, err
	case "ERROR_REPORT":
		var vendorCode uint32
		if v, ok := msg.Get("errorCode"); ok {
			if code, ok := v.(uint32); ok {
				vendorCode = code
			}
		}
		info := a.HandleProtocolError(vendorCode, msg.GetString("errorDescription"), msg.DeviceID)
		return a.ProcessAccessBusiness(msg.DeviceID, constants.BusinessTypeAlarmEvent,
			map[string]interface{}{
				"internalCode":      info.InternalCode,
				"severity":          string(info.Severity),
				"description":       info.Description,
				"recommendedAction": info.RecommendedAction,
				"vendorCode":        info.VendorCode,
			})
	}

	businessType := protocol.EntropyBusinessType(msg.MessageType)
	if businessType == "" {
		return nil, apperrors.Newf(apperrors.ErrProtocolInvalidCommand,
			"消息 %s 不携带业务语义", msg.MessageName)
	}

	if perm := a.ValidateDevicePermission(msg.DeviceID, constants.OperationUploadEvent); !perm.Permitted {
		return nil, apperrors.Newf(apperrors.ErrDeviceNotOnline,
			"设备 %s 无权上报业务: %s", msg.DeviceID, perm.Reason)
	}
	return a.ProcessAccessBusiness(msg.DeviceID, businessType, msg.BusinessData())
}

var _ ProtocolAdapter = (*EntropyAdapter)(nil)
