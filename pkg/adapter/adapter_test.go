package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

func newRunningEntropyAdapter(t *testing.T, store *session.Store) *EntropyAdapter {
	t.Helper()
	a := NewEntropyAdapter(Options{
		Store:    store,
		Dispatch: dispatch.Config{WorkerCount: 2, Timeout: time.Second},
	})
	require.NoError(t, a.Initialize())
	t.Cleanup(a.Destroy)
	return a
}

// registerFrame 构造一帧合法的注册报文
func registerFrame(t *testing.T, a *EntropyAdapter, deviceID, model string) []byte {
	t.Helper()
	raw, err := a.BuildDeviceResponse("REGISTER", map[string]interface{}{
		"deviceModel":     model,
		"firmwareVersion": "4.8.1",
		"capabilities":    uint32(0x0F),
		"sequenceNumber":  uint32(1),
		"timestamp":       time.Now().Unix(),
	}, deviceID)
	require.NoError(t, err)
	return raw
}

func heartbeatFrame(t *testing.T, a *EntropyAdapter, deviceID string) []byte {
	t.Helper()
	raw, err := a.BuildDeviceResponse("HEARTBEAT", map[string]interface{}{
		"heartbeatInterval": uint16(30),
		"uptime":            uint32(3600),
		"connectionStatus":  uint8(1),
		"temperature":       int16(36),
		"humidity":          int16(40),
		"sequenceNumber":    uint32(2),
		"timestamp":         time.Now().Unix(),
	}, deviceID)
	require.NoError(t, err)
	return raw
}

func TestAdapter_Identity(t *testing.T) {
	a := NewEntropyAdapter(Options{Store: session.NewStore()})

	assert.Equal(t, constants.ProtocolTypeAccessEntropy, a.ProtocolType())
	assert.Equal(t, "熵基科技", a.Manufacturer())
	assert.Equal(t, "V4.8", a.Version())
	assert.NotEmpty(t, a.SupportedDeviceModels())

	t.Run("型号匹配不区分大小写", func(t *testing.T) {
		assert.True(t, a.IsDeviceModelSupported("X100"))
		assert.True(t, a.IsDeviceModelSupported("x100"))
		assert.True(t, a.IsDeviceModelSupported("he-ac2000"))
	})

	t.Run("空型号返回false而非报错", func(t *testing.T) {
		assert.False(t, a.IsDeviceModelSupported(""))
		assert.False(t, a.IsDeviceModelSupported("UNKNOWN-MODEL"))
	})

	t.Run("型号列表是副本", func(t *testing.T) {
		models := a.SupportedDeviceModels()
		models[0] = "MUTATED"
		assert.True(t, a.IsDeviceModelSupported("X100"))
	})
}

func TestAdapter_Lifecycle(t *testing.T) {
	t.Run("未初始化的适配器拒绝处理消息", func(t *testing.T) {
		a := NewEntropyAdapter(Options{Store: session.NewStore()})
		assert.Equal(t, constants.AdapterStatusInitialized, a.AdapterStatus())

		_, err := a.ParseDeviceMessage([]byte{0x45, 0x48}, "DEV001")
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrAdapterNotRunning))
	})

	t.Run("缺少会话存储时初始化失败并进入ERROR", func(t *testing.T) {
		a := NewEntropyAdapter(Options{})
		err := a.Initialize()
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrAdapterInitFailed))
		assert.Equal(t, constants.AdapterStatusError, a.AdapterStatus())
	})

	t.Run("初始化后RUNNING销毁后STOPPED", func(t *testing.T) {
		a := NewEntropyAdapter(Options{Store: session.NewStore()})
		require.NoError(t, a.Initialize())
		assert.Equal(t, constants.AdapterStatusRunning, a.AdapterStatus())

		// 重复初始化幂等
		require.NoError(t, a.Initialize())

		a.Destroy()
		assert.Equal(t, constants.AdapterStatusStopped, a.AdapterStatus())
		// 重复销毁幂等
		a.Destroy()

		_, err := a.InitializeDevice("DEV001")
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrAdapterNotRunning))
	})
}

func TestAdapter_RegistrationScenario(t *testing.T) {
	store := session.NewStore()
	a := newRunningEntropyAdapter(t, store)

	t.Run("支持型号X100的注册使会话上线", func(t *testing.T) {
		raw := registerFrame(t, a, "DEV001", "X100")
		msg, err := a.ParseDeviceMessage(raw, "DEV001")
		require.NoError(t, err)

		snap, err := a.HandleDeviceRegistration(msg)
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
		assert.Equal(t, "X100", snap.DeviceModel)

		status, err := a.GetDeviceStatus("DEV001")
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, status)
	})

	t.Run("心跳保持在线", func(t *testing.T) {
		snap, err := a.HandleDeviceHeartbeat("DEV001")
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
	})

	t.Run("不支持的型号被拒绝", func(t *testing.T) {
		raw := registerFrame(t, a, "DEV002", "ROGUE-9000")
		msg, err := a.ParseDeviceMessage(raw, "DEV002")
		require.NoError(t, err)

		_, err = a.HandleDeviceRegistration(msg)
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrDeviceNotAuthorized))
	})
}

func TestAdapter_ValidateMessage(t *testing.T) {
	a := newRunningEntropyAdapter(t, session.NewStore())

	valid := &protocol.Message{
		ProtocolType:  constants.ProtocolTypeAccessEntropy,
		DeviceID:      "DEV001",
		MessageName:   "HEARTBEAT",
		Timestamp:     time.Now(),
		ChecksumValid: true,
	}

	tests := []struct {
		name      string
		mutate    func(m *protocol.Message)
		errorCode string
	}{
		{"空消息", nil, ValidationMsgNull},
		{"设备标识为空", func(m *protocol.Message) { m.DeviceID = "" }, ValidationDeviceSNEmpty},
		{"未知消息类型", func(m *protocol.Message) { m.MessageName = "" }, ValidationMsgTypeInvalid},
		{"校验和不匹配", func(m *protocol.Message) { m.ChecksumValid = false }, ValidationChecksumMismatch},
		{"时间戳过期", func(m *protocol.Message) { m.Timestamp = time.Now().Add(-time.Hour) }, ValidationTimestampOutOfRange},
		{"时间戳超前", func(m *protocol.Message) { m.Timestamp = time.Now().Add(time.Hour) }, ValidationTimestampOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg *protocol.Message
			if tt.mutate != nil {
				clone := *valid
				tt.mutate(&clone)
				msg = &clone
			}
			result := a.ValidateMessage(msg)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.errorCode, result.ErrorCode)
		})
	}

	t.Run("合法消息通过", func(t *testing.T) {
		result := a.ValidateMessage(valid)
		assert.True(t, result.Valid)
		assert.Empty(t, result.ErrorCode)
	})
}

func TestAdapter_ValidateDevicePermission(t *testing.T) {
	store := session.NewStore()
	a := newRunningEntropyAdapter(t, store)

	t.Run("未注册设备无权限", func(t *testing.T) {
		perm := a.ValidateDevicePermission("GHOST", constants.OperationUploadEvent)
		assert.False(t, perm.Permitted)
		assert.False(t, perm.Online)
	})

	raw := registerFrame(t, a, "DEV001", "X100")
	msg, err := a.ParseDeviceMessage(raw, "DEV001")
	require.NoError(t, err)
	_, err = a.HandleDeviceRegistration(msg)
	require.NoError(t, err)

	t.Run("在线设备的已知操作放行", func(t *testing.T) {
		perm := a.ValidateDevicePermission("DEV001", constants.OperationUploadEvent)
		assert.True(t, perm.Permitted)
		assert.True(t, perm.Online)
	})

	t.Run("未知操作被拒绝", func(t *testing.T) {
		perm := a.ValidateDevicePermission("DEV001", "FORMAT_DISK")
		assert.False(t, perm.Permitted)
		assert.True(t, perm.Online)
	})

	t.Run("离线设备被拒绝", func(t *testing.T) {
		store.MarkOffline("DEV001", "test")
		perm := a.ValidateDevicePermission("DEV001", constants.OperationUploadEvent)
		assert.False(t, perm.Permitted)
		assert.False(t, perm.Online)
	})
}

func TestAdapter_ChecksumFailureEscalation(t *testing.T) {
	store := session.NewStore()
	a := newRunningEntropyAdapter(t, store)

	raw := registerFrame(t, a, "DEV001", "X100")
	msg, err := a.ParseDeviceMessage(raw, "DEV001")
	require.NoError(t, err)
	_, err = a.HandleDeviceRegistration(msg)
	require.NoError(t, err)

	// 构造校验和损坏的心跳帧
	corrupt := heartbeatFrame(t, a, "DEV001")
	corrupt[len(corrupt)-1] ^= 0xFF

	for i := 0; i < constants.DefaultChecksumFailureThreshold; i++ {
		_, err := a.ParseDeviceMessage(corrupt, "DEV001")
		require.Error(t, err)
	}

	status, err := a.GetDeviceStatus("DEV001")
	require.NoError(t, err)
	assert.Equal(t, constants.DeviceStatusError, status)

	// 合法报文清零失败计数
	store2 := session.NewStore()
	a2 := newRunningEntropyAdapter(t, store2)
	raw2 := registerFrame(t, a2, "DEV001", "X100")
	msg2, err := a2.ParseDeviceMessage(raw2, "DEV001")
	require.NoError(t, err)
	_, err = a2.HandleDeviceRegistration(msg2)
	require.NoError(t, err)

	corrupt2 := heartbeatFrame(t, a2, "DEV001")
	corrupt2[len(corrupt2)-1] ^= 0xFF
	for i := 0; i < constants.DefaultChecksumFailureThreshold-1; i++ {
		_, err := a2.ParseDeviceMessage(corrupt2, "DEV001")
		require.Error(t, err)
	}
	_, err = a2.ParseDeviceMessage(heartbeatFrame(t, a2, "DEV001"), "DEV001")
	require.NoError(t, err)
	_, err = a2.ParseDeviceMessage(corrupt2, "DEV001")
	require.Error(t, err)

	status, err = a2.GetDeviceStatus("DEV001")
	require.NoError(t, err)
	assert.Equal(t, constants.DeviceStatusOnline, status)
}

func TestAdapter_ProcessBusiness(t *testing.T) {
	store := session.NewStore()
	a := newRunningEntropyAdapter(t, store)

	a.Dispatcher().RegisterHandler(constants.DomainAccess, dispatch.HandlerFunc(
		func(ctx context.Context, task *dispatch.Task) (map[string]interface{}, error) {
			return map[string]interface{}{"accepted": true}, nil
		}))

	future, err := a.ProcessAccessBusiness("DEV001", constants.BusinessTypeRealTimeEvent,
		map[string]interface{}{"eventType": uint8(1)})
	require.NoError(t, err)

	result, err := future.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)

	t.Run("业务类型为空被拒绝", func(t *testing.T) {
		_, err := a.ProcessAccessBusiness("DEV001", "", nil)
		require.Error(t, err)
	})
}

func TestAdapter_ProtocolConfig(t *testing.T) {
	a := newRunningEntropyAdapter(t, session.NewStore())
	ctx := context.Background()

	cfg, err := a.GetProtocolConfig(ctx, "DEV001")
	require.NoError(t, err)
	assert.Empty(t, cfg)

	require.NoError(t, a.UpdateProtocolConfig(ctx, "DEV001", map[string]string{
		"heartbeatInterval": "60",
	}))
	require.NoError(t, a.UpdateProtocolConfig(ctx, "DEV001", map[string]string{
		"doorOpenTimeout": "5",
	}))

	cfg, err = a.GetProtocolConfig(ctx, "DEV001")
	require.NoError(t, err)
	assert.Equal(t, "60", cfg["heartbeatInterval"])
	assert.Equal(t, "5", cfg["doorOpenTimeout"])
}

func TestAdapter_ErrorMapping(t *testing.T) {
	a := newRunningEntropyAdapter(t, session.NewStore())

	info := a.HandleProtocolError(0x0005, "", "DEV001")
	require.NotNil(t, info)
	assert.Equal(t, "TAMPER_ALARM", info.InternalCode)

	info = a.HandleProtocolError(0xFFFF, "奇怪的故障", "DEV001")
	require.NotNil(t, info)
	assert.Equal(t, "UNKNOWN_ERROR", info.InternalCode)

	assert.NotEmpty(t, a.ErrorCodeMapping())
}

func TestEntropyAdapter_ProcessInboundMessage(t *testing.T) {
	store := session.NewStore()
	a := newRunningEntropyAdapter(t, store)

	a.Dispatcher().RegisterHandler(constants.DomainAccess, dispatch.HandlerFunc(
		func(ctx context.Context, task *dispatch.Task) (map[string]interface{}, error) {
			return map[string]interface{}{"handled": task.BusinessType}, nil
		}))

	t.Run("注册报文走生命周期不产生Future", func(t *testing.T) {
		msg, err := a.ParseDeviceMessage(registerFrame(t, a, "DEV001", "X100"), "DEV001")
		require.NoError(t, err)
		future, err := a.ProcessInboundMessage(msg)
		require.NoError(t, err)
		assert.Nil(t, future)

		status, _ := a.GetDeviceStatus("DEV001")
		assert.Equal(t, constants.DeviceStatusOnline, status)
	})

	t.Run("心跳报文刷新会话", func(t *testing.T) {
		msg, err := a.ParseDeviceMessage(heartbeatFrame(t, a, "DEV001"), "DEV001")
		require.NoError(t, err)
		future, err := a.ProcessInboundMessage(msg)
		require.NoError(t, err)
		assert.Nil(t, future)
	})

	t.Run("业务报文分发到门禁域", func(t *testing.T) {
		raw, err := a.BuildDeviceResponse("REAL_TIME_EVENT", map[string]interface{}{
			"eventType":          uint8(1),
			"eventNumber":        int64(42),
			"userId":             uint32(1001),
			"cardNumber":         "6226000012345678",
			"verifyMethod":       uint8(2),
			"verifyResult":       uint8(1),
			"faceConfidence":     uint16(98),
			"livenessResult":     uint8(1),
			"livenessConfidence": uint16(97),
			"accessPointId":      uint32(3),
			"direction":          uint8(1),
			"accessTime":         time.Now().Unix(),
			"sequenceNumber":     uint32(7),
			"timestamp":          time.Now().Unix(),
		}, "DEV001")
		require.NoError(t, err)

		msg, err := a.ParseDeviceMessage(raw, "DEV001")
		require.NoError(t, err)
		future, err := a.ProcessInboundMessage(msg)
		require.NoError(t, err)
		require.NotNil(t, future)

		result, err := future.Get(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, constants.BusinessTypeRealTimeEvent, result.Data["handled"])
	})

	t.Run("未注册设备的业务报文被拒绝", func(t *testing.T) {
		raw := heartbeatFrame(t, a, "DEV009")
		msg, err := a.ParseDeviceMessage(raw, "DEV009")
		require.NoError(t, err)
		// 心跳在无会话时报会话错误
		_, err = a.ProcessInboundMessage(msg)
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrDeviceNotFound))
	})
}

func TestRegistry(t *testing.T) {
	store := session.NewStore()

	t.Run("注册与查找", func(t *testing.T) {
		r := NewRegistry(store)
		entropy := NewEntropyAdapter(Options{Store: store})
		require.NoError(t, r.Register(entropy))

		got, err := r.Get(constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		assert.Same(t, entropy, got)

		assert.ElementsMatch(t, []string{constants.ProtocolTypeAccessEntropy}, r.ProtocolTypes())
	})

	t.Run("同协议重复注册被拒绝", func(t *testing.T) {
		r := NewRegistry(store)
		require.NoError(t, r.Register(NewEntropyAdapter(Options{Store: store})))
		err := r.Register(NewEntropyAdapter(Options{Store: store}))
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrProtocolUnsupported))
	})

	t.Run("未知协议返回类型化错误", func(t *testing.T) {
		r := NewRegistry(store)
		_, err := r.Get("PROTO_FROM_THE_FUTURE")
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrProtocolUnsupported))
	})

	t.Run("按帧头解析适配器", func(t *testing.T) {
		r := NewRegistry(store)
		entropy := NewEntropyAdapter(Options{Store: store})
		zkteco := NewZktecoAdapter(Options{Store: store})
		require.NoError(t, r.Register(entropy))
		require.NoError(t, r.Register(zkteco))

		got, err := r.ResolveByFrame([]byte{0x45, 0x48, 0x00, 0x00})
		require.NoError(t, err)
		assert.Equal(t, constants.ProtocolTypeAccessEntropy, got.ProtocolType())

		got, err = r.ResolveByFrame([]byte{0x4B, 0x5A, 0x00, 0x00})
		require.NoError(t, err)
		assert.Equal(t, constants.ProtocolTypeConsumeZkteco, got.ProtocolType())

		_, err = r.ResolveByFrame([]byte{0xDE, 0xAD})
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrProtocolUnsupported))
	})

	t.Run("按设备会话解析适配器", func(t *testing.T) {
		localStore := session.NewStore()
		r := NewRegistry(localStore)
		require.NoError(t, r.Register(NewZktecoAdapter(Options{Store: localStore})))

		_, err := localStore.Register("POS001", constants.ProtocolTypeConsumeZkteco, "ZK-POS100", nil)
		require.NoError(t, err)

		got, err := r.ResolveByDevice("POS001")
		require.NoError(t, err)
		assert.Equal(t, constants.ProtocolTypeConsumeZkteco, got.ProtocolType())

		_, err = r.ResolveByDevice("GHOST")
		require.Error(t, err)
	})

	t.Run("初始化失败快速上抛", func(t *testing.T) {
		r := NewRegistry(store)
		broken := NewEntropyAdapter(Options{}) // 缺少会话存储
		require.NoError(t, r.Register(broken))

		err := r.InitializeAll()
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrAdapterInitFailed))
	})

	t.Run("InitializeAll与DestroyAll", func(t *testing.T) {
		localStore := session.NewStore()
		r := NewRegistry(localStore)
		entropy := NewEntropyAdapter(Options{Store: localStore})
		zkteco := NewZktecoAdapter(Options{Store: localStore})
		require.NoError(t, r.Register(entropy))
		require.NoError(t, r.Register(zkteco))

		require.NoError(t, r.InitializeAll())
		assert.Equal(t, constants.AdapterStatusRunning, entropy.AdapterStatus())
		assert.Equal(t, constants.AdapterStatusRunning, zkteco.AdapterStatus())

		r.DestroyAll()
		assert.Equal(t, constants.AdapterStatusStopped, entropy.AdapterStatus())
		assert.Equal(t, constants.AdapterStatusStopped, zkteco.AdapterStatus())
	})
}
