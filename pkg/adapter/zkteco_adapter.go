package adapter

import (
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

// 中控消费协议默认支持的设备型号
var zktecoDefaultModels = []string{"ZK-POS100", "ZK-POS200", "CM60", "CM108"}

// ZktecoAdapter 中控消费协议适配器
type ZktecoAdapter struct {
	*BaseAdapter
}

// NewZktecoAdapter 创建中控消费协议适配器
func NewZktecoAdapter(opts Options) *ZktecoAdapter {
	opts.Codec = protocol.NewZktecoCodec()
	opts.Manufacturer = "中控智慧"
	opts.Version = "V1.0"
	if len(opts.Models) == 0 {
		opts.Models = zktecoDefaultModels
	}
	return &ZktecoAdapter{BaseAdapter: NewBaseAdapter(opts)}
}

// ProcessInboundMessage 入站消息路由。
// 消费类报文分发到消费域，金额字段全程以分为单位传递
func (a *ZktecoAdapter) ProcessInboundMessage(msg *protocol.Message) (*dispatch.Future, error) {
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
		return a.ProcessConsumeBusiness(msg.DeviceID, constants.BusinessTypeAlarmEvent,
			map[string]interface{}{
				"internalCode":      info.InternalCode,
				"severity":          string(info.Severity),
				"description":       info.Description,
				"recommendedAction": info.RecommendedAction,
				"vendorCode":        info.VendorCode,
			})
	}

	businessType := protocol.ZktecoBusinessType(msg.MessageType)
	if businessType == "" {
		return nil, apperrors.Newf(apperrors.ErrProtocolInvalidCommand,
			"消息 %s 不携带业务语义", msg.MessageName)
	}

	operation := constants.OperationUploadRecord
	if businessType == constants.BusinessTypeAccountQuery {
		operation = constants.OperationQueryAccount
	}
	if perm := a.ValidateDevicePermission(msg.DeviceID, operation); !perm.Permitted {
		return nil, apperrors.Newf(apperrors.ErrDeviceNotOnline,
			"设备 %s 无权上报业务: %s", msg.DeviceID, perm.Reason)
	}
	return a.ProcessConsumeBusiness(msg.DeviceID, businessType, msg.BusinessData())
}

var _ ProtocolAdapter = (*ZktecoAdapter)(nil)
