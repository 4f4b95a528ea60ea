package errmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioe-dream/device-gateway/pkg/constants"
)

func TestMapper_Handle(t *testing.T) {
	m := NewMapper(constants.ProtocolTypeAccessEntropy)

	t.Run("已知错误码返回内置映射", func(t *testing.T) {
		info := m.Handle(0x0005, "", "DEV001")
		require.NotNil(t, info)
		assert.Equal(t, "TAMPER_ALARM", info.InternalCode)
		assert.Equal(t, SeverityCritical, info.Severity)
		assert.Equal(t, "security-alert", info.RecommendedAction)
		assert.Equal(t, "DEV001", info.DeviceID)
	})

	t.Run("厂商消息覆盖默认描述", func(t *testing.T) {
		info := m.Handle(0x0006, "door 3 held open 120s", "DEV001")
		require.NotNil(t, info)
		assert.Equal(t, "door 3 held open 120s", info.Description)
		assert.Equal(t, "DOOR_HELD_OPEN", info.InternalCode)
	})

	t.Run("未知错误码落入兜底映射", func(t *testing.T) {
		info := m.Handle(0xDEAD, "vendor specific", "DEV002")
		require.NotNil(t, info)
		assert.Equal(t, "UNKNOWN_ERROR", info.InternalCode)
		assert.Equal(t, SeverityError, info.Severity)
		assert.Equal(t, "manual-investigate", info.RecommendedAction)
		assert.Equal(t, uint32(0xDEAD), info.VendorCode)
	})

	t.Run("翻译结果是副本不影响映射表", func(t *testing.T) {
		first := m.Handle(0x0001, "自定义描述", "DEV003")
		second := m.Handle(0x0001, "", "DEV004")
		assert.Equal(t, "自定义描述", first.Description)
		assert.Equal(t, "门磁传感器故障", second.Description)
	})
}

func TestMapper_Put(t *testing.T) {
	m := NewMapper(constants.ProtocolTypeConsumeZkteco)

	m.Put(0x2001, ErrorInfo{
		InternalCode:      "CUSTOM_FAULT",
		Severity:          SeverityWarning,
		Description:       "现场配置的错误码",
		RecommendedAction: "notify-operator",
	})

	info := m.Handle(0x2001, "", "POS001")
	require.NotNil(t, info)
	assert.Equal(t, "CUSTOM_FAULT", info.InternalCode)

	// 覆盖内置项
	m.Put(0x1002, ErrorInfo{
		InternalCode:      "BALANCE_TOO_LOW",
		Severity:          SeverityInfo,
		RecommendedAction: "none",
	})
	info = m.Handle(0x1002, "", "POS001")
	assert.Equal(t, "BALANCE_TOO_LOW", info.InternalCode)
}

func TestMapper_UnknownProtocolStillWorks(t *testing.T) {
	m := NewMapper("SOME_FUTURE_PROTOCOL")
	info := m.Handle(1, "boom", "DEV")
	require.NotNil(t, info)
	assert.Equal(t, "UNKNOWN_ERROR", info.InternalCode)
}

func TestMapper_Mapping(t *testing.T) {
	m := NewMapper(constants.ProtocolTypeConsumeZkteco)
	table := m.Mapping()
	assert.Len(t, table, len(zktecoErrorTable))

	// 副本修改不影响映射器
	table[0x1001] = ErrorInfo{InternalCode: "MUTATED"}
	info := m.Handle(0x1001, "", "POS")
	assert.Equal(t, "CARD_READ_FAULT", info.InternalCode)
}
