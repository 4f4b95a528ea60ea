package protocol

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/ioe-dream/device-gateway/pkg/constants"
)

// 熵基科技门禁协议V4.8编解码器
//
// 帧结构（小端）:
//   魔数(2, 0x4845 "HE") + 帧长(2, 含校验) + 版本(2, 0x0480) +
//   设备SN(16) + 消息类型(1) + 命令(1) + 序列号(4) + 时间戳(8) +
//   载荷(n) + CRC32校验(4)

const (
	entropyProtocolType = constants.ProtocolTypeAccessEntropy

	entropyMagic   uint16 = 0x4845 // "HE"标识
	entropyVersion uint16 = 0x0480 // V4.8

	entropyHeaderLen   = 36
	entropyChecksumLen = 4
	entropyMinFrameLen = entropyHeaderLen + entropyChecksumLen
)

// 消息类型代码
const (
	EntropyMsgRealTimeEvent  uint8 = 0x01 // 实时事件上传
	EntropyMsgDeviceStatus   uint8 = 0x02 // 设备状态上报
	EntropyMsgHeartbeat      uint8 = 0x03 // 心跳包
	EntropyMsgPermissionReq  uint8 = 0x04 // 权限请求
	EntropyMsgVerifyResult   uint8 = 0x05 // 验证结果
	EntropyMsgErrorReport    uint8 = 0x06 // 错误报告
	EntropyMsgRegister       uint8 = 0x07 // 设备注册
	EntropyMsgAck            uint8 = 0x81 // ACK响应
	EntropyMsgNak            uint8 = 0x82 // NAK响应
	EntropyMsgPermissionResp uint8 = 0x83 // 权限响应
	EntropyMsgDeviceConfig   uint8 = 0x84 // 设备配置下发
)

var entropyMsgNames = map[uint8]string{
	EntropyMsgRealTimeEvent:  "REAL_TIME_EVENT",
	EntropyMsgDeviceStatus:   "DEVICE_STATUS",
	EntropyMsgHeartbeat:      "HEARTBEAT",
	EntropyMsgPermissionReq:  "PERMISSION_REQUEST",
	EntropyMsgVerifyResult:   "VERIFY_RESULT",
	EntropyMsgErrorReport:    "ERROR_REPORT",
	EntropyMsgRegister:       "REGISTER",
	EntropyMsgAck:            "ACK",
	EntropyMsgNak:            "NAK",
	EntropyMsgPermissionResp: "PERMISSION_RESPONSE",
	EntropyMsgDeviceConfig:   "DEVICE_CONFIG",
}

var entropyMsgCodes = func() map[string]uint8 {
	m := make(map[string]uint8, len(entropyMsgNames))
	for code, name := range entropyMsgNames {
		m[name] = code
	}
	return m
}()

// EntropyCodec 熵基门禁协议编解码器
type EntropyCodec struct{}

// NewEntropyCodec 创建熵基门禁协议编解码器
func NewEntropyCodec() *EntropyCodec {
	return &EntropyCodec{}
}

// ProtocolType 返回协议类型标识
func (c *EntropyCodec) ProtocolType() string {
	return entropyProtocolType
}

// Parse 解析熵基门禁协议帧
func (c *EntropyCodec) Parse(raw []byte, deviceID string) (*Message, error) {
	if len(raw) < entropyMinFrameLen {
		return nil, NewParseErrorf(entropyProtocolType,
			"数据长度不足，无法解析协议头: 最小 %d, 实际 %d", entropyMinFrameLen, len(raw))
	}
	if len(raw) > constants.MaxFrameSize {
		return nil, NewParseErrorf(entropyProtocolType, "帧长度超过上限: %d", len(raw))
	}

	if binary.LittleEndian.Uint16(raw[0:2]) != entropyMagic {
		return nil, NewParseError(entropyProtocolType, "协议标识不匹配")
	}

	frameLen := binary.LittleEndian.Uint16(raw[2:4])
	if int(frameLen) != len(raw) {
		return nil, NewParseErrorf(entropyProtocolType,
			"消息长度不匹配: 长度字段 %d, 实际 %d", frameLen, len(raw))
	}

	if version := binary.LittleEndian.Uint16(raw[4:6]); version != entropyVersion {
		return nil, NewParseErrorf(entropyProtocolType, "协议版本不匹配: 0x%04X", version)
	}

	deviceSN := readFixedString(raw[6:22])
	if deviceSN == "" {
		deviceSN = deviceID
	}

	msgType := raw[22]
	msgName, known := entropyMsgNames[msgType]
	if !known {
		return nil, NewParseErrorf(entropyProtocolType, "未知消息类型: 0x%02X", msgType)
	}

	cmdCode := raw[23]
	seq := binary.LittleEndian.Uint32(raw[24:28])
	ts := int64(binary.LittleEndian.Uint64(raw[28:36]))

	payloadEnd := len(raw) - entropyChecksumLen

	// CRC32校验覆盖校验码之前的全部字节，校验通过后才解析载荷，
	// 保证损坏帧统一归为校验失败并计入失败计数
	expected := crc32.ChecksumIEEE(raw[:payloadEnd])
	actual := binary.LittleEndian.Uint32(raw[payloadEnd:])
	if expected != actual {
		return nil, &ParseError{
			ProtocolType:     entropyProtocolType,
			Reason:           "CRC校验失败",
			ChecksumMismatch: true,
		}
	}

	fields, err := parseEntropyPayload(msgType, raw[entropyHeaderLen:payloadEnd])
	if err != nil {
		return nil, err
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &Message{
		ProtocolType:  entropyProtocolType,
		DeviceID:      deviceSN,
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

// Build 构建熵基门禁协议帧
func (c *EntropyCodec) Build(messageType string, businessData map[string]interface{}, deviceID string) ([]byte, error) {
	msgCode, ok := entropyMsgCodes[messageType]
	if !ok {
		return nil, NewBuildErrorf(entropyProtocolType, "未知响应消息类型: %s", messageType)
	}

	payload, err := buildEntropyPayload(msgCode, businessData)
	if err != nil {
		return nil, err
	}

	var seq uint32
	if v, ok := businessData["sequenceNumber"]; ok {
		if seq, ok = asUint32(v); !ok {
			return nil, NewBuildError(entropyProtocolType, "序列号字段无法序列化")
		}
	}
	ts := time.Now().Unix()
	if v, ok := businessData["timestamp"]; ok {
		if ts, ok = asInt64(v); !ok {
			return nil, NewBuildError(entropyProtocolType, "时间戳字段无法序列化")
		}
	}

	var cmdCode uint8
	if v, ok := businessData["commandCode"]; ok {
		if cmdCode, ok = asUint8(v); !ok {
			return nil, NewBuildError(entropyProtocolType, "命令代码字段无法序列化")
		}
	}

	frameLen := entropyHeaderLen + len(payload) + entropyChecksumLen
	if frameLen > constants.MaxFrameSize {
		return nil, NewBuildErrorf(entropyProtocolType, "帧长度超过上限: %d", frameLen)
	}

	frame := make([]byte, frameLen)
	binary.LittleEndian.PutUint16(frame[0:2], entropyMagic)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(frameLen))
	binary.LittleEndian.PutUint16(frame[4:6], entropyVersion)
	writeFixedString(frame[6:22], deviceID)
	frame[22] = msgCode
	frame[23] = cmdCode
	binary.LittleEndian.PutUint32(frame[24:28], seq)
	binary.LittleEndian.PutUint64(frame[28:36], uint64(ts))
	copy(frame[entropyHeaderLen:], payload)

	checksumAt := frameLen - entropyChecksumLen
	binary.LittleEndian.PutUint32(frame[checksumAt:], crc32.ChecksumIEEE(frame[:checksumAt]))
	return frame, nil
}

// parseEntropyPayload 按消息类型解析业务载荷
func parseEntropyPayload(msgType uint8, payload []byte) ([]Field, error) {
	r := newFieldReader(entropyProtocolType, payload)

	switch msgType {
	case EntropyMsgRealTimeEvent:
		// 实时事件上传
		eventType := r.uint8("eventType")
		r.int64("eventNumber")
		r.uint32("userId")
		r.fixedString("cardNumber", 20)
		r.uint8("verifyMethod")
		r.uint8("verifyResult")
		r.uint16("faceConfidence")
		r.uint8("livenessResult")
		r.uint16("livenessConfidence")
		r.uint32("accessPointId")
		r.uint8("direction")
		r.int64("accessTime")
		if r.err == nil {
			r.derived("eventTypeName", entropyEventTypeName(eventType))
		}

	case EntropyMsgDeviceStatus:
		// 设备状态上报
		r.uint8("deviceStatus")
		r.uint8("doorStatus")
		r.uint8("lockStatus")
		r.uint8("onlineStatus")
		r.uint8("batteryLevel")
		r.uint8("signalStrength")
		r.uint16("cpuUsage")
		r.uint16("memoryUsage")
		r.uint32("storageSpace")
		r.uint32("errorCode")

	case EntropyMsgHeartbeat:
		// 心跳包
		r.uint16("heartbeatInterval")
		r.uint32("uptime")
		r.uint8("connectionStatus")
		r.int16("temperature")
		r.int16("humidity")

	case EntropyMsgPermissionReq:
		// 权限请求
		r.uint32("userId")
		r.uint8("accessLevel")
		r.uint32("permissionGroupId")
		r.int64("validStartTime")
		r.int64("validEndTime")
		r.uint8("multiFactorRequired")
		r.uint8("antiPassbackEnabled")

	case EntropyMsgVerifyResult:
		// 验证结果
		r.uint8("verifyResult")
		r.uint16("matchScore")
		r.uint8("failureReason")
		r.uint32("processTime")
		r.fixedString("sessionId", 16)

	case EntropyMsgErrorReport:
		// 错误报告
		r.uint32("errorCode")
		r.uint8("errorLevel")
		r.varString("errorDescription")

	case EntropyMsgRegister:
		// 设备注册
		r.fixedString("deviceModel", 16)
		r.fixedString("firmwareVersion", 16)
		r.uint32("capabilities")

	case EntropyMsgAck:
		r.uint8("ackCode")

	case EntropyMsgNak:
		r.uint8("nakCode")

	case EntropyMsgPermissionResp:
		r.uint8("permitted")
		r.uint32("userId")
		r.int64("validEndTime")

	case EntropyMsgDeviceConfig:
		r.uint16("heartbeatInterval")
		r.uint16("clockSkewSeconds")
		r.uint8("volume")
	}

	return r.finish()
}

// buildEntropyPayload 按消息类型构建业务载荷，必填字段缺失返回BuildError
func buildEntropyPayload(msgType uint8, data map[string]interface{}) ([]byte, error) {
	w := newFieldWriter(entropyProtocolType, data)

	switch msgType {
	case EntropyMsgRealTimeEvent:
		w.uint8("eventType")
		w.int64("eventNumber")
		w.uint32("userId")
		w.fixedString("cardNumber", 20)
		w.uint8("verifyMethod")
		w.uint8("verifyResult")
		w.uint16("faceConfidence")
		w.uint8("livenessResult")
		w.uint16("livenessConfidence")
		w.uint32("accessPointId")
		w.uint8("direction")
		w.int64("accessTime")

	case EntropyMsgDeviceStatus:
		w.uint8("deviceStatus")
		w.uint8("doorStatus")
		w.uint8("lockStatus")
		w.uint8("onlineStatus")
		w.uint8("batteryLevel")
		w.uint8("signalStrength")
		w.uint16("cpuUsage")
		w.uint16("memoryUsage")
		w.uint32("storageSpace")
		w.uint32("errorCode")

	case EntropyMsgHeartbeat:
		w.uint16("heartbeatInterval")
		w.uint32("uptime")
		w.uint8("connectionStatus")
		w.int16("temperature")
		w.int16("humidity")

	case EntropyMsgPermissionReq:
		w.uint32("userId")
		w.uint8("accessLevel")
		w.uint32("permissionGroupId")
		w.int64("validStartTime")
		w.int64("validEndTime")
		w.uint8("multiFactorRequired")
		w.uint8("antiPassbackEnabled")

	case EntropyMsgVerifyResult:
		w.uint8("verifyResult")
		w.uint16("matchScore")
		w.uint8("failureReason")
		w.uint32("processTime")
		w.fixedString("sessionId", 16)

	case EntropyMsgErrorReport:
		w.uint32("errorCode")
		w.uint8("errorLevel")
		w.varString("errorDescription")

	case EntropyMsgRegister:
		w.fixedString("deviceModel", 16)
		w.fixedString("firmwareVersion", 16)
		w.uint32("capabilities")

	case EntropyMsgAck:
		w.uint8("ackCode")

	case EntropyMsgNak:
		w.uint8("nakCode")

	case EntropyMsgPermissionResp:
		w.uint8("permitted")
		w.uint32("userId")
		w.int64("validEndTime")

	case EntropyMsgDeviceConfig:
		w.uint16("heartbeatInterval")
		w.uint16("clockSkewSeconds")
		w.uint8("volume")
	}

	return w.finish()
}

// entropyEventTypeName 事件类型代码转名称
func entropyEventTypeName(code uint8) string {
	switch code {
	case 0x01:
		return "CARD"
	case 0x02:
		return "FACE"
	case 0x03:
		return "FINGERPRINT"
	case 0x04:
		return "PASSWORD"
	case 0x05:
		return "QR_CODE"
	case 0x06:
		return "DURESS"
	case 0x07:
		return "TAILGATING"
	case 0x08:
		return "ANTI_PASSBACK"
	case 0x09:
		return "DOOR_MAGNETIC"
	case 0x0A:
		return "ALARM"
	default:
		return "UNKNOWN"
	}
}

// EntropyBusinessType 消息类型对应的业务类型。
// 不属于业务分发范畴的消息（心跳、注册、响应）返回空
func EntropyBusinessType(msgType uint8) string {
	switch msgType {
	case EntropyMsgRealTimeEvent:
		return constants.BusinessTypeRealTimeEvent
	case EntropyMsgPermissionReq:
		return constants.BusinessTypeAccessVerify
	case EntropyMsgVerifyResult:
		return constants.BusinessTypeAccessVerify
	case EntropyMsgDeviceStatus:
		return constants.BusinessTypeStatusReport
	case EntropyMsgErrorReport:
		return constants.BusinessTypeAlarmEvent
	default:
		return ""
	}
}

// 保证接口实现
var _ Codec = (*EntropyCodec)(nil)
