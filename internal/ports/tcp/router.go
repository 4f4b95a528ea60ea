package tcp

import (
	"context"
	"time"

	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

// 应答码
const (
	ackCodeOK          uint8 = 0x00
	nakCodeParseError  uint8 = 0x01
	nakCodeProcessFail uint8 = 0x02
)

// 等待异步业务结果的最长时间，超过后只记录日志不再回写设备
const businessResultWait = 15 * time.Second

// DeviceFrameRouter 设备帧路由器。拆包器按协议魔数分配MsgID，
// 每种协议一个路由器实例，持有对应的协议适配器完成解析与业务处理
type DeviceFrameRouter struct {
	znet.BaseRouter

	protocolType string
	registry     *adapter.Registry
}

// NewDeviceFrameRouter 创建指定协议的帧路由器
func NewDeviceFrameRouter(protocolType string, registry *adapter.Registry) *DeviceFrameRouter {
	return &DeviceFrameRouter{
		protocolType: protocolType,
		registry:     registry,
	}
}

// Handle 处理一条完整设备帧：解析、入站路由、应答
func (r *DeviceFrameRouter) Handle(request ziface.IRequest) {
	conn := request.GetConnection()

	gatewayMsg, ok := request.GetMessage().(*GatewayMessage)
	if !ok {
		logger.WithFields(logrus.Fields{
			"connID": conn.GetConnID(),
			"msgID":  request.GetMessage().GetMsgID(),
		}).Error("消息类型异常，期望GatewayMessage")
		return
	}
	frame := gatewayMsg.FullFrame()

	proc, err := r.inboundProcessor()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"connID":   conn.GetConnID(),
			"protocol": r.protocolType,
		}).WithError(err).Error("协议适配器不可用")
		return
	}

	deviceID := connDeviceID(conn)

	msg, err := proc.ParseDeviceMessage(frame, deviceID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"connID":     conn.GetConnID(),
			"remoteAddr": conn.RemoteAddr().String(),
			"protocol":   r.protocolType,
			"frameLen":   len(frame),
		}).WithError(err).Warn("设备帧解析失败")
		r.reply(conn, proc, gatewayMsg.GetMsgID(), deviceID, protocol.MessageNameNak, map[string]interface{}{
			"nakCode": nakCodeParseError,
		})
		return
	}

	// 解析成功即可将设备号绑定到连接，断线时据此下线会话
	if msg.DeviceID != "" {
		conn.SetProperty(PropKeyDeviceID, msg.DeviceID)
		conn.SetProperty(PropKeyProtocolType, msg.ProtocolType)
	}

	future, err := proc.ProcessInboundMessage(msg)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"connID":   conn.GetConnID(),
			"deviceID": msg.DeviceID,
			"message":  msg.MessageName,
			"protocol": r.protocolType,
		}).WithError(err).Warn("入站消息处理失败")
		r.reply(conn, proc, gatewayMsg.GetMsgID(), msg.DeviceID, protocol.MessageNameNak, map[string]interface{}{
			"nakCode":        nakCodeProcessFail,
			"sequenceNumber": msg.Sequence,
		})
		return
	}

	r.reply(conn, proc, gatewayMsg.GetMsgID(), msg.DeviceID, protocol.MessageNameAck, map[string]interface{}{
		"ackCode":        ackCodeOK,
		"sequenceNumber": msg.Sequence,
	})

	if future != nil {
		go r.awaitBusinessResult(conn, proc, gatewayMsg.GetMsgID(), msg, future)
	}
}

// awaitBusinessResult 等待异步业务结果。账户查询需要把结果回写给设备，
// 其余业务只记录处理结论
func (r *DeviceFrameRouter) awaitBusinessResult(conn ziface.IConnection, proc adapter.InboundProcessor, msgID uint32, msg *protocol.Message, future *dispatch.Future) {
	ctx, cancel := context.WithTimeout(context.Background(), businessResultWait)
	defer cancel()

	result, err := future.Get(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"deviceID": msg.DeviceID,
			"message":  msg.MessageName,
			"protocol": r.protocolType,
		}).WithError(err).Warn("等待业务结果超时或失败")
		return
	}

	if !result.Success {
		logger.WithFields(logrus.Fields{
			"deviceID": msg.DeviceID,
			"message":  msg.MessageName,
			"protocol": r.protocolType,
			"code":     result.Code,
		}).WithError(result.Err).Warn("业务处理返回失败")
		return
	}

	if msg.MessageName == constants.BusinessTypeAccountQuery && result.Data != nil {
		data := make(map[string]interface{}, len(result.Data)+1)
		for k, v := range result.Data {
			data[k] = v
		}
		data["sequenceNumber"] = msg.Sequence
		r.reply(conn, proc, msgID, msg.DeviceID, protocol.MessageNameAccountResponse, data)
	}
}

// reply 构造并下发应答帧，失败只记录日志
func (r *DeviceFrameRouter) reply(conn ziface.IConnection, proc adapter.InboundProcessor, msgID uint32, deviceID, messageType string, data map[string]interface{}) {
	frame, err := proc.BuildDeviceResponse(messageType, data, deviceID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"deviceID": deviceID,
			"message":  messageType,
			"protocol": r.protocolType,
		}).WithError(err).Error("应答帧构造失败")
		return
	}
	if err := conn.SendMsg(msgID, frame); err != nil {
		logger.WithFields(logrus.Fields{
			"connID":   conn.GetConnID(),
			"deviceID": deviceID,
			"message":  messageType,
		}).WithError(err).Warn("应答帧发送失败")
	}
}

func (r *DeviceFrameRouter) inboundProcessor() (adapter.InboundProcessor, error) {
	a, err := r.registry.Get(r.protocolType)
	if err != nil {
		return nil, err
	}
	proc, ok := a.(adapter.InboundProcessor)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrProtocolUnsupported, "协议 %s 的适配器不支持入站处理", r.protocolType)
	}
	return proc, nil
}

func connDeviceID(conn ziface.IConnection) string {
	if val, err := conn.GetProperty(PropKeyDeviceID); err == nil && val != nil {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}
