package tcp

import (
	"encoding/binary"

	"github.com/aceld/zinx/ziface"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

// Zinx路由用的消息ID，按协议类型划分
const (
	MsgIDEntropy uint32 = 1
	MsgIDZkteco  uint32 = 2
)

// 两种协议的帧头都是 魔数(2) + 帧长(2)
const frameHeadLen = 4

// GatewayMessage 实现ziface.IMessage，携带拆包时截走的帧头，
// 路由处理器用它还原完整帧交给编解码器
type GatewayMessage struct {
	msgID   uint32
	dataLen uint32
	data    []byte
	head    [frameHeadLen]byte
}

func (m *GatewayMessage) GetMsgID() uint32   { return m.msgID }
func (m *GatewayMessage) GetDataLen() uint32 { return m.dataLen }
func (m *GatewayMessage) GetData() []byte    { return m.data }
func (m *GatewayMessage) GetRawData() []byte { return m.data }

func (m *GatewayMessage) SetMsgID(id uint32)     { m.msgID = id }
func (m *GatewayMessage) SetDataLen(l uint32)    { m.dataLen = l }
func (m *GatewayMessage) SetData(data []byte)    { m.data = data }
func (m *GatewayMessage) SetRawData(data []byte) { m.data = data }

// FullFrame 还原完整的线缆帧
func (m *GatewayMessage) FullFrame() []byte {
	frame := make([]byte, 0, frameHeadLen+len(m.data))
	frame = append(frame, m.head[:]...)
	frame = append(frame, m.data...)
	return frame
}

// GatewayDataPack 实现Zinx框架的IDataPack接口，
// 按帧头的魔数和长度字段拆包，两种厂商协议共用
type GatewayDataPack struct{}

// NewGatewayDataPack 创建拆包器
func NewGatewayDataPack() *GatewayDataPack {
	return &GatewayDataPack{}
}

// GetHeadLen 帧头长度
func (dp *GatewayDataPack) GetHeadLen() uint32 {
	return frameHeadLen
}

// Pack 封包。下行帧由编解码器生成完整字节，这里直接透传
func (dp *GatewayDataPack) Pack(msg ziface.IMessage) ([]byte, error) {
	if gm, ok := msg.(*GatewayMessage); ok {
		return gm.FullFrame(), nil
	}
	return msg.GetData(), nil
}

// Unpack 解析帧头，识别协议并声明剩余帧长。
// 魔数未知视为协议违规，连接层据此断开
func (dp *GatewayDataPack) Unpack(binaryData []byte) (ziface.IMessage, error) {
	if len(binaryData) < frameHeadLen {
		return nil, apperrors.Newf(apperrors.ErrProtocolParseFailed,
			"帧头不完整: %d字节", len(binaryData))
	}

	protocolType, ok := protocol.SniffProtocolType(binaryData)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrProtocolUnsupported,
			"未知协议魔数: %02X%02X", binaryData[0], binaryData[1])
	}

	frameLen := int(binary.LittleEndian.Uint16(binaryData[2:4]))
	if frameLen < frameHeadLen || frameLen > constants.MaxFrameSize {
		return nil, apperrors.Newf(apperrors.ErrProtocolFrameTooLarge,
			"帧长度字段非法: %d", frameLen)
	}

	msg := &GatewayMessage{dataLen: uint32(frameLen - frameHeadLen)}
	copy(msg.head[:], binaryData[:frameHeadLen])

	switch protocolType {
	case constants.ProtocolTypeAccessEntropy:
		msg.msgID = MsgIDEntropy
	default:
		msg.msgID = MsgIDZkteco
	}
	return msg, nil
}
