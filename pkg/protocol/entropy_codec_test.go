package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildEntropyTestFrame 构建一帧合法的熵基协议消息
func buildEntropyTestFrame(t *testing.T, messageType string, data map[string]interface{}) []byte {
	t.Helper()
	codec := NewEntropyCodec()
	frame, err := codec.Build(messageType, data, "SN20251216001")
	require.NoError(t, err, "构建测试帧失败")
	return frame
}

func entropyHeartbeatData() map[string]interface{} {
	return map[string]interface{}{
		"sequenceNumber":    uint32(42),
		"timestamp":         time.Now().Unix(),
		"commandCode":       uint8(0x00),
		"heartbeatInterval": uint16(30),
		"uptime":            uint32(86400),
		"connectionStatus":  uint8(1),
		"temperature":       int16(365),
		"humidity":          int16(55),
	}
}

func TestEntropyCodec_ParseBuildRoundTrip(t *testing.T) {
	codec := NewEntropyCodec()

	testCases := []struct {
		name        string
		messageType string
		data        map[string]interface{}
	}{
		{
			name:        "心跳包",
			messageType: "HEARTBEAT",
			data:        entropyHeartbeatData(),
		},
		{
			name:        "实时事件上传",
			messageType: "REAL_TIME_EVENT",
			data: map[string]interface{}{
				"sequenceNumber":     uint32(7),
				"timestamp":          int64(1767072000),
				"commandCode":        uint8(0x01),
				"eventType":          uint8(0x02),
				"eventNumber":        int64(900001),
				"userId":             uint32(10086),
				"cardNumber":         "8800123456",
				"verifyMethod":       uint8(0x02),
				"verifyResult":       uint8(0x00),
				"faceConfidence":     uint16(9870),
				"livenessResult":     uint8(0x01),
				"livenessConfidence": uint16(9500),
				"accessPointId":      uint32(3),
				"direction":          uint8(0x01),
				"accessTime":         int64(1767072000),
			},
		},
		{
			name:        "设备注册",
			messageType: "REGISTER",
			data: map[string]interface{}{
				"sequenceNumber":  uint32(1),
				"timestamp":       int64(1767072000),
				"commandCode":     uint8(0x00),
				"deviceModel":     "SC705",
				"firmwareVersion": "4.8.12",
				"capabilities":    uint32(0x0F),
			},
		},
		{
			name:        "错误报告",
			messageType: "ERROR_REPORT",
			data: map[string]interface{}{
				"sequenceNumber":   uint32(9),
				"timestamp":        int64(1767072000),
				"commandCode":      uint8(0x06),
				"errorCode":        uint32(0x2001),
				"errorLevel":       uint8(0x03),
				"errorDescription": "读卡器通讯异常",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := codec.Build(tc.messageType, tc.data, "SN20251216001")
			require.NoError(t, err)

			msg, err := codec.Parse(frame, "")
			require.NoError(t, err)
			assert.True(t, msg.ChecksumValid, "校验和应当有效")
			assert.Equal(t, tc.messageType, msg.MessageName)
			assert.Equal(t, "SN20251216001", msg.DeviceID)

			// 重新编码应当得到线缆等价的字节
			rebuilt, err := codec.Build(tc.messageType, msg.BusinessData(), msg.DeviceID)
			require.NoError(t, err)
			assert.Equal(t, frame, rebuilt, "重新编码结果与原始帧不一致")
		})
	}
}

func TestEntropyCodec_ParseErrors(t *testing.T) {
	codec := NewEntropyCodec()
	valid := buildEntropyTestFrame(t, "HEARTBEAT", entropyHeartbeatData())

	t.Run("数据长度不足", func(t *testing.T) {
		_, err := codec.Parse(valid[:10], "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.False(t, parseErr.ChecksumMismatch)
	})

	t.Run("协议标识不匹配", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[0] = 0xFF
		_, err := codec.Parse(bad, "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("长度字段与实际不符", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[2] = bad[2] + 1
		_, err := codec.Parse(bad, "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("未知消息类型", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[22] = 0x7F
		_, err := codec.Parse(bad, "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("载荷截断", func(t *testing.T) {
		// 截掉载荷尾部但维持长度字段自洽，
		// 校验先于载荷解析，损坏帧统一报校验失败
		truncated := append([]byte{}, valid[:len(valid)-8]...)
		truncated[2] = byte(len(truncated))
		truncated[3] = byte(len(truncated) >> 8)
		_, err := codec.Parse(truncated, "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.True(t, parseErr.ChecksumMismatch, "载荷结构损坏也应归为校验失败")
	})

	t.Run("校验和损坏", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[len(bad)-1] ^= 0xFF
		_, err := codec.Parse(bad, "")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.True(t, parseErr.ChecksumMismatch, "应识别为校验和错误")
	})

	t.Run("随机垃圾数据不会panic", func(t *testing.T) {
		garbage := []byte{0x45, 0x48, 0x28, 0x00, 0x80, 0x04, 0x01, 0x02, 0x03}
		for i := 0; i < len(garbage); i++ {
			_, err := codec.Parse(garbage[:i], "")
			assert.Error(t, err)
		}
	})
}

func TestEntropyCodec_BuildErrors(t *testing.T) {
	codec := NewEntropyCodec()

	t.Run("未知消息类型", func(t *testing.T) {
		_, err := codec.Build("NOT_A_TYPE", map[string]interface{}{}, "SN1")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
	})

	t.Run("缺少必填字段", func(t *testing.T) {
		data := entropyHeartbeatData()
		delete(data, "uptime")
		out, err := codec.Build("HEARTBEAT", data, "SN1")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Nil(t, out, "失败时不应产生部分输出")
	})

	t.Run("字段类型无法序列化", func(t *testing.T) {
		data := entropyHeartbeatData()
		data["uptime"] = "不是数字"
		_, err := codec.Build("HEARTBEAT", data, "SN1")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
	})

	t.Run("定长字段超长", func(t *testing.T) {
		data := map[string]interface{}{
			"deviceModel":     "一个远远超过十六字节定长限制的设备型号名称",
			"firmwareVersion": "1.0",
			"capabilities":    uint32(0),
		}
		_, err := codec.Build("REGISTER", data, "SN1")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
	})
}

func TestEntropyBusinessType(t *testing.T) {
	assert.Equal(t, "REAL_TIME_EVENT", EntropyBusinessType(EntropyMsgRealTimeEvent))
	assert.Equal(t, "STATUS_REPORT", EntropyBusinessType(EntropyMsgDeviceStatus))
	assert.Equal(t, "", EntropyBusinessType(EntropyMsgHeartbeat), "心跳不进入业务分发")
	assert.Equal(t, "", EntropyBusinessType(EntropyMsgRegister), "注册不进入业务分发")
}

func TestParseErrorUnwrap(t *testing.T) {
	cause := errors.New("底层错误")
	err := &ParseError{ProtocolType: "X", Reason: "r", Cause: cause}
	assert.ErrorIs(t, err, cause)
}
