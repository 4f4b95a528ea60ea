package protocol

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/ioe-dream/device-gateway/pkg/constants"
)

// 中控智慧消费协议V1.0编解码器
//
// 帧结构（小端）:
//   魔数(2, 0x5A4B "ZK") + 帧长(2, 含校验) + 版本(2, 0x0100) +
//   设备ID(12) + 消息类型(1) + 命令(1) + 序列号(4) + 时间戳(8) +
//   载荷(n) + 累加和校验(2)
//
// 金额字段一律以分为单位传输

const (
	zktecoProtocolType = constants.ProtocolTypeConsumeZkteco

	zktecoMagic   uint16 = 0x5A4B // "ZK"标识
	zktecoVersion uint16 = 0x0100 // V1.0

	zktecoHeaderLen   = 32
	zktecoChecksumLen = 2
	zktecoMinFrameLen = zktecoHeaderLen + zktecoChecksumLen
)

// 消息类型代码
const (
	ZktecoMsgConsumeRecord   uint8 = 0x01 // 消费记录上传
	ZktecoMsgDeviceStatus    uint8 = 0x02 // 设备状态上报
	ZktecoMsgHeartbeat       uint8 = 0x03 // 心跳包
	ZktecoMsgAccountQuery    uint8 = 0x04 // 账户查询请求
	ZktecoMsgAccountResponse uint8 = 0x05 // 账户查询响应
	ZktecoMsgRechargeRecord  uint8 = 0x06 // 充值记录上传
	ZktecoMsgSubsidyRecord   uint8 = 0x07 // 补贴记录上传
	ZktecoMsgErrorReport     uint8 = 0x08 // 错误报告
	ZktecoMsgRegister        uint8 = 0x0B // 设备注册
	ZktecoMsgAck             uint8 = 0x81 // ACK响应
	ZktecoMsgNak             uint8 = 0x82 // NAK响应
)

var zktecoMsgNames = map[uint8]string{
	ZktecoMsgConsumeRecord:   "CONSUME_RECORD",
	ZktecoMsgDeviceStatus:    "DEVICE_STATUS",
	ZktecoMsgHeartbeat:       "HEARTBEAT",
	ZktecoMsgAccountQuery:    "ACCOUNT_QUERY",
	ZktecoMsgAccountResponse: "ACCOUNT_RESPONSE",
	ZktecoMsgRechargeRecord:  "RECHARGE_RECORD",
	ZktecoMsgSubsidyRecord:   "SUBSIDY_RECORD",
	ZktecoMsgErrorReport:     "ERROR_REPORT",
	ZktecoMsgRegister:        "REGISTER",
	ZktecoMsgAck:             "ACK",
	ZktecoMsgNak:             "NAK",
}

var zktecoMsgCodes = func() map[string]uint8 {
	m := make(map[string]uint8, len(zktecoMsgNames))
	for code, name := range zktecoMsgNames {
		m[name] = code
	}
	return m
}()

// ZktecoCodec 中控消费协议编解码器
type ZktecoCodec struct{}

// NewZktecoCodec 创建中控消费协议编解码器
func NewZktecoCodec() *ZktecoCodec {
	return &ZktecoCodec{}
}

// ProtocolType 返回协议类型标识
func (c *ZktecoCodec) ProtocolType() string {
	return zktecoProtocolType
}

// Parse 解析中控消费协议帧
func (c *ZktecoCodec) Parse(raw []byte, deviceID string) (*Message, error) {
	if len(raw) < zktecoMinFrameLen {
		return nil, NewParseErrorf(zktecoProtocolType,
			"数据长度不足，无法解析协议头: 最小 %d, 实际 %d", zktecoMinFrameLen, len(raw))
	}
	if len(raw) > constants.MaxFrameSize {
		return nil, NewParseErrorf(zktecoProtocolType, "帧长度超过上限: %d", len(raw))
	}

	if binary.LittleEndian.Uint16(raw[0:2]) != zktecoMagic {
		return nil, NewParseError(zktecoProtocolType, "协议标识不匹配")
	}

	frameLen := binary.LittleEndian.Uint16(raw[2:4])
	if int(frameLen) != len(raw) {
		return nil, NewParseErrorf(zktecoProtocolType,
			"消息长度不匹配: 长度字段 %d, 实际 %d", frameLen, len(raw))
	}

	if version := binary.LittleEndian.Uint16(raw[4:6]); version != zktecoVersion {
		return nil, NewParseErrorf(zktecoProtocolType, "协议版本不匹配: 0x%04X", version)
	}

	devID := readFixedString(raw[6:18])
	if devID == "" {
		devID = deviceID
	}

	msgType := raw[18]
	msgName, known := zktecoMsgNames[msgType]
	if !known {
		return nil, NewParseErrorf(zktecoProtocolType, "未知消息类型: 0x%02X", msgType)
	}

	cmdCode := raw[19]
	seq := binary.LittleEndian.Uint32(raw[20:24])
	ts := int64(binary.LittleEndian.Uint64(raw[24:32]))

	payloadEnd := len(raw) - zktecoChecksumLen

	// 累加和校验覆盖校验码之前的全部字节，校验通过后才解析载荷，
	// 保证损坏帧统一归为校验失败并计入失败计数
	if !bytes.Equal(Sum16Checksum(raw[:payloadEnd]), raw[payloadEnd:]) {
		return nil, &ParseError{
			ProtocolType:     zktecoProtocolType,
			Reason:           "校验和验证失败",
			ChecksumMismatch: true,
		}
	}

	fields, err := parseZktecoPayload(msgType, raw[zktecoHeaderLen:payloadEnd])
	if err != nil {
		return nil, err
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &Message{
		ProtocolType:  zktecoProtocolType,
		DeviceID:      devID,
		MessageType:   msgType,
		MessageName:   msgName,
		CommandCode:   cmdCode,
		Sequence:      seq,
		Timestamp:     time.Unix(ts, 0),
		Fields:        fields,
		Raw:           rawCopy,
		ChecksumValid: true,
		ReceivedAt:    time.Now(),
	}, nil
}

// Build 构建中控消费协议帧
func (c *ZktecoCodec) Build(messageType string, businessData map[string]interface{}, deviceID string) ([]byte, error) {
	msgCode, ok := zktecoMsgCodes[messageType]
	if !ok {
		return nil, NewBuildErrorf(zktecoProtocolType, "未知响应消息类型: %s", messageType)
	}

	payload, err := buildZktecoPayload(msgCode, businessData)
	if err != nil {
		return nil, err
	}

	var seq uint32
	if v, ok := businessData["sequenceNumber"]; ok {
		if seq, ok = asUint32(v); !ok {
			return nil, NewBuildError(zktecoProtocolType, "序列号字段无法序列化")
		}
	}
	ts := time.Now().Unix()
	if v, ok := businessData["timestamp"]; ok {
		if ts, ok = asInt64(v); !ok {
			return nil, NewBuildError(zktecoProtocolType, "时间戳字段无法序列化")
		}
	}

	var cmdCode uint8
	if v, ok := businessData["commandCode"]; ok {
		if cmdCode, ok = asUint8(v); !ok {
			return nil, NewBuildError(zktecoProtocolType, "命令代码字段无法序列化")
		}
	}

	frameLen := zktecoHeaderLen + len(payload) + zktecoChecksumLen
	if frameLen > constants.MaxFrameSize {
		return nil, NewBuildErrorf(zktecoProtocolType, "帧长度超过上限: %d", frameLen)
	}

	frame := make([]byte, frameLen)
	binary.LittleEndian.PutUint16(frame[0:2], zktecoMagic)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(frameLen))
	binary.LittleEndian.PutUint16(frame[4:6], zktecoVersion)
	writeFixedString(frame[6:18], deviceID)
	frame[18] = msgCode
	frame[19] = cmdCode
	binary.LittleEndian.PutUint32(frame[20:24], seq)
	binary.LittleEndian.PutUint64(frame[24:32], uint64(ts))
	copy(frame[zktecoHeaderLen:], payload)

	checksumAt := frameLen - zktecoChecksumLen
	copy(frame[checksumAt:], Sum16Checksum(frame[:checksumAt]))
	return frame, nil
}

// parseZktecoPayload 按消息类型解析业务载荷
func parseZktecoPayload(msgType uint8, payload []byte) ([]Field, error) {
	r := newFieldReader(zktecoProtocolType, payload)

	switch msgType {
	case ZktecoMsgConsumeRecord:
		// 消费记录上传，金额以分为单位
		r.fixedString("recordNumber", 20)
		r.uint32("userId")
		r.fixedString("cardNumber", 20)
		r.uint8("consumeMethod")
		r.int64("amountCents")
		r.uint8("transactionType")
		r.uint8("transactionStatus")
		r.uint32("merchantId")
		r.int64("balanceCents")
		r.int64("consumeTime")

	case ZktecoMsgDeviceStatus:
		r.uint8("deviceStatus")
		r.uint8("workMode")
		r.uint8("cardReaderStatus")
		r.uint8("onlineStatus")
		r.uint8("batteryLevel")
		r.uint8("signalStrength")
		r.uint16("cpuUsage")
		r.uint16("memoryUsage")
		r.uint32("storageSpace")
		r.uint32("errorCode")

	case ZktecoMsgHeartbeat:
		r.uint16("heartbeatInterval")
		r.uint32("uptime")
		r.uint8("connectionStatus")
		r.int16("temperature")
		r.int16("humidity")

	case ZktecoMsgAccountQuery:
		// 账户查询请求（只读，幂等）
		r.uint32("userId")
		r.fixedString("cardNumber", 20)
		r.uint8("queryType")

	case ZktecoMsgAccountResponse:
		r.uint32("userId")
		r.int64("balanceCents")
		r.int64("subsidyCents")
		r.uint8("accountStatus")

	case ZktecoMsgRechargeRecord:
		r.fixedString("recordNumber", 20)
		r.uint32("userId")
		r.int64("amountCents")
		r.uint8("rechargeMethod")
		r.uint32("operatorId")
		r.int64("rechargeTime")

	case ZktecoMsgSubsidyRecord:
		r.fixedString("recordNumber", 20)
		r.uint32("userId")
		r.int64("amountCents")
		r.uint8("subsidyType")
		r.int64("grantTime")

	case ZktecoMsgErrorReport:
		r.uint32("errorCode")
		r.uint8("errorLevel")
		r.varString("errorDescription")

	case ZktecoMsgRegister:
		r.fixedString("deviceModel", 16)
		r.fixedString("firmwareVersion", 16)
		r.uint32("capabilities")

	case ZktecoMsgAck:
		r.uint8("ackCode")

	case ZktecoMsgNak:
		r.uint8("nakCode")
	}

	return r.finish()
}

// buildZktecoPayload 按消息类型构建业务载荷
func buildZktecoPayload(msgType uint8, data map[string]interface{}) ([]byte, error) {
	w := newFieldWriter(zktecoProtocolType, data)

	switch msgType {
	case ZktecoMsgConsumeRecord:
		w.fixedString("recordNumber", 20)
		w.uint32("userId")
		w.fixedString("cardNumber", 20)
		w.uint8("consumeMethod")
		w.int64("amountCents")
		w.uint8("transactionType")
		w.uint8("transactionStatus")
		w.uint32("merchantId")
		w.int64("balanceCents")
		w.int64("consumeTime")

	case ZktecoMsgDeviceStatus:
		w.uint8("deviceStatus")
		w.uint8("workMode")
		w.uint8("cardReaderStatus")
		w.uint8("onlineStatus")
		w.uint8("batteryLevel")
		w.uint8("signalStrength")
		w.uint16("cpuUsage")
		w.uint16("memoryUsage")
		w.uint32("storageSpace")
		w.uint32("errorCode")

	case ZktecoMsgHeartbeat:
		w.uint16("heartbeatInterval")
		w.uint32("uptime")
		w.uint8("connectionStatus")
		w.int16("temperature")
		w.int16("humidity")

	case ZktecoMsgAccountQuery:
		w.uint32("userId")
		w.fixedString("cardNumber", 20)
		w.uint8("queryType")

	case ZktecoMsgAccountResponse:
		w.uint32("userId")
		w.int64("balanceCents")
		w.int64("subsidyCents")
		w.uint8("accountStatus")

	case ZktecoMsgRechargeRecord:
		w.fixedString("recordNumber", 20)
		w.uint32("userId")
		w.int64("amountCents")
		w.uint8("rechargeMethod")
		w.uint32("operatorId")
		w.int64("rechargeTime")

	case ZktecoMsgSubsidyRecord:
		w.fixedString("recordNumber", 20)
		w.uint32("userId")
		w.int64("amountCents")
		w.uint8("subsidyType")
		w.int64("grantTime")

	case ZktecoMsgErrorReport:
		w.uint32("errorCode")
		w.uint8("errorLevel")
		w.varString("errorDescription")

	case ZktecoMsgRegister:
		w.fixedString("deviceModel", 16)
		w.fixedString("firmwareVersion", 16)
		w.uint32("capabilities")

	case ZktecoMsgAck:
		w.uint8("ackCode")

	case ZktecoMsgNak:
		w.uint8("nakCode")
	}

	return w.finish()
}

// ZktecoBusinessType 消息类型对应的业务类型。
// 不属于业务分发范畴的消息（心跳、注册、响应）返回空
func ZktecoBusinessType(msgType uint8) string {
	switch msgType {
	case ZktecoMsgConsumeRecord:
		return constants.BusinessTypeConsumeRecord
	case ZktecoMsgRechargeRecord:
		return constants.BusinessTypeRechargeRec
	case ZktecoMsgSubsidyRecord:
		return constants.BusinessTypeSubsidyRecord
	case ZktecoMsgAccountQuery:
		return constants.BusinessTypeAccountQuery
	case ZktecoMsgDeviceStatus:
		return constants.BusinessTypeStatusReport
	case ZktecoMsgErrorReport:
		return constants.BusinessTypeAlarmEvent
	default:
		return ""
	}
}

// 保证接口实现
var _ Codec = (*ZktecoCodec)(nil)
