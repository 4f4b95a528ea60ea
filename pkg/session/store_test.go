package session

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
)

// recordingListener 记录收到的事件，监听器回调是异步的，用锁保护
type recordingListener struct {
	mu      sync.Mutex
	online  []TransitionEvent
	offline []TransitionEvent
}

func (l *recordingListener) OnDeviceOnline(event TransitionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, event)
}

func (l *recordingListener) OnDeviceOffline(event TransitionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, event)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.offline)
}

// waitCounts 等待异步监听器回调落地
func (l *recordingListener) waitCounts(t *testing.T, online, offline int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		on, off := l.counts()
		if on == online && off == offline {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	on, off := l.counts()
	t.Fatalf("事件数量不符: online=%d(期望%d) offline=%d(期望%d)", on, online, off, offline)
}

func TestStore_GetOrCreate(t *testing.T) {
	store := NewStore()

	t.Run("新会话处于INITIALIZED状态", func(t *testing.T) {
		snap, err := store.GetOrCreate("DEV001", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusInitialized, snap.Status)
		assert.Equal(t, constants.ProtocolTypeAccessEntropy, snap.ProtocolType)
		assert.NotEmpty(t, snap.SessionID)
	})

	t.Run("重复获取返回同一会话", func(t *testing.T) {
		first, err := store.GetOrCreate("DEV001", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		second, err := store.GetOrCreate("DEV001", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)
		assert.Equal(t, 1, store.Count())
	})

	t.Run("协议类型终身绑定", func(t *testing.T) {
		_, err := store.GetOrCreate("DEV001", constants.ProtocolTypeConsumeZkteco)
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrSessionStateConflict))
	})

	t.Run("设备ID为空报错", func(t *testing.T) {
		_, err := store.GetOrCreate("", constants.ProtocolTypeAccessEntropy)
		require.Error(t, err)
	})
}

func TestStore_Register(t *testing.T) {
	t.Run("注册使会话上线并触发一次上线事件", func(t *testing.T) {
		store := NewStore()
		listener := &recordingListener{}
		store.AddListener(listener)

		snap, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000",
			map[string]string{"firmwareVersion": "4.8.1"})
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
		assert.Equal(t, "HE-AC2000", snap.DeviceModel)
		assert.Equal(t, "4.8.1", snap.RegistrationMeta["firmwareVersion"])
		assert.False(t, snap.RegisteredAt.IsZero())

		listener.waitCounts(t, 1, 0)
	})

	t.Run("上线事件从初始状态直达ONLINE", func(t *testing.T) {
		store := NewStore()
		listener := &recordingListener{}
		store.AddListener(listener)

		_, err := store.GetOrCreate("DEV010", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		snap, err := store.Register("DEV010", constants.ProtocolTypeAccessEntropy, "X100", nil)
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)

		listener.waitCounts(t, 1, 0)
		listener.mu.Lock()
		event := listener.online[0]
		listener.mu.Unlock()
		assert.Equal(t, constants.DeviceStatusInitialized, event.From)
		assert.Equal(t, constants.DeviceStatusOnline, event.To)
	})

	t.Run("并发注册只有一次上线事件", func(t *testing.T) {
		store := NewStore()
		listener := &recordingListener{}
		store.AddListener(listener)

		const workers = 32
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		snap, ok := store.Get("DEV001")
		require.True(t, ok)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
		listener.waitCounts(t, 1, 0)
	})

	t.Run("协议不一致拒绝注册", func(t *testing.T) {
		store := NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		_, err = store.Register("DEV001", constants.ProtocolTypeConsumeZkteco, "ZK-POS100", nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrSessionStateConflict))
	})

	t.Run("ERROR会话可通过重新注册恢复", func(t *testing.T) {
		store := NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		// 连续校验失败进入ERROR
		for i := 0; i < constants.DefaultChecksumFailureThreshold; i++ {
			store.RecordChecksumFailure("DEV001", constants.DefaultChecksumFailureThreshold)
		}
		snap, ok := store.Get("DEV001")
		require.True(t, ok)
		require.Equal(t, constants.DeviceStatusError, snap.Status)

		snap, err = store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
		assert.Equal(t, 0, snap.FailureCount)
	})
}

func TestStore_Heartbeat(t *testing.T) {
	t.Run("无会话的心跳返回会话错误", func(t *testing.T) {
		store := NewStore()
		_, err := store.Heartbeat("GHOST")
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrDeviceNotFound))
	})

	t.Run("在线设备的心跳幂等刷新", func(t *testing.T) {
		store := NewStore()
		listener := &recordingListener{}
		store.AddListener(listener)

		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		before, _ := store.Get("DEV001")
		time.Sleep(10 * time.Millisecond)
		snap, err := store.Heartbeat("DEV001")
		require.NoError(t, err)
		assert.True(t, snap.LastHeartbeatAt.After(before.LastHeartbeatAt))
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)

		// 只有注册触发的一次上线事件
		listener.waitCounts(t, 1, 0)
	})

	t.Run("离线设备的心跳提升回在线", func(t *testing.T) {
		store := NewStore()
		listener := &recordingListener{}
		store.AddListener(listener)

		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		require.True(t, store.MarkOffline("DEV001", "missed-heartbeats"))

		snap, err := store.Heartbeat("DEV001")
		require.NoError(t, err)
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
		assert.Zero(t, snap.ConsecutiveMissedHeartbeats)

		listener.waitCounts(t, 2, 1)
	})

	t.Run("ERROR会话的心跳被拒绝", func(t *testing.T) {
		store := NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		for i := 0; i < constants.DefaultChecksumFailureThreshold; i++ {
			store.RecordChecksumFailure("DEV001", constants.DefaultChecksumFailureThreshold)
		}

		_, err = store.Heartbeat("DEV001")
		require.Error(t, err)
		assert.True(t, apperrors.IsErrCode(err, apperrors.ErrSessionStateConflict))
	})
}

func TestStore_MarkOffline(t *testing.T) {
	store := NewStore()
	listener := &recordingListener{}
	store.AddListener(listener)

	_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
	require.NoError(t, err)

	assert.True(t, store.MarkOffline("DEV001", "missed-heartbeats"))

	// 重复离线不再触发事件
	assert.False(t, store.MarkOffline("DEV001", "missed-heartbeats"))
	assert.False(t, store.MarkOffline("UNKNOWN", "missed-heartbeats"))

	listener.waitCounts(t, 1, 1)
	snap, ok := store.Get("DEV001")
	require.True(t, ok)
	assert.Equal(t, constants.DeviceStatusOffline, snap.Status)
}

func TestStore_RecordChecksumFailure(t *testing.T) {
	store := NewStore()
	_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
	require.NoError(t, err)

	count, entered := store.RecordChecksumFailure("DEV001", 3)
	assert.Equal(t, 1, count)
	assert.False(t, entered)

	// 合法消息清零计数
	store.ResetChecksumFailures("DEV001")
	count, entered = store.RecordChecksumFailure("DEV001", 3)
	assert.Equal(t, 1, count)
	assert.False(t, entered)

	store.RecordChecksumFailure("DEV001", 3)
	count, entered = store.RecordChecksumFailure("DEV001", 3)
	assert.Equal(t, 3, count)
	assert.True(t, entered)

	snap, ok := store.Get("DEV001")
	require.True(t, ok)
	assert.Equal(t, constants.DeviceStatusError, snap.Status)

	// 已在ERROR状态不会重复进入
	_, entered = store.RecordChecksumFailure("DEV001", 3)
	assert.False(t, entered)
}

func TestStore_Remove(t *testing.T) {
	store := NewStore()
	_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
	require.NoError(t, err)

	assert.True(t, store.Remove("DEV001"))
	assert.False(t, store.Remove("DEV001"))
	_, ok := store.Get("DEV001")
	assert.False(t, ok)

	// 注销后可以用新协议重新接入
	snap, err := store.GetOrCreate("DEV001", constants.ProtocolTypeConsumeZkteco)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtocolTypeConsumeZkteco, snap.ProtocolType)
}

func TestStore_SnapshotsAndCounts(t *testing.T) {
	store := NewStore()
	_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
	require.NoError(t, err)
	_, err = store.Register("DEV002", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
	require.NoError(t, err)
	_, err = store.Register("POS001", constants.ProtocolTypeConsumeZkteco, "ZK-POS100", nil)
	require.NoError(t, err)
	store.MarkOffline("DEV002", "missed-heartbeats")

	assert.Equal(t, 3, store.Count())
	assert.Equal(t, 1, store.OnlineCount(constants.ProtocolTypeAccessEntropy))
	assert.Equal(t, 1, store.OnlineCount(constants.ProtocolTypeConsumeZkteco))
	assert.Equal(t, 2, store.OnlineCount(""))

	assert.Len(t, store.Snapshots(""), 3)
	assert.Len(t, store.Snapshots(constants.ProtocolTypeAccessEntropy), 2)
	assert.True(t, store.IsOnline("DEV001"))
	assert.False(t, store.IsOnline("DEV002"))
}

func TestStore_ConcurrentMixedOperations(t *testing.T) {
	store := NewStore()
	devices := []string{"DEV001", "DEV002", "DEV003", "DEV004"}
	for _, id := range devices {
		_, err := store.Register(id, constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := devices[i%len(devices)]
			for j := 0; j < 100; j++ {
				switch j % 4 {
				case 0:
					_, _ = store.Heartbeat(id)
				case 1:
					store.MarkOffline(id, "test")
				case 2:
					store.Get(id)
				case 3:
					store.Snapshots("")
				}
			}
		}(i)
	}
	wg.Wait()

	// 所有会话仍然存在且状态合法
	for _, id := range devices {
		snap, ok := store.Get(id)
		require.True(t, ok)
		assert.Contains(t, []constants.DeviceStatus{
			constants.DeviceStatusOnline,
			constants.DeviceStatusOffline,
		}, snap.Status)
	}
}

func TestStore_OnlineDevicesGauge(t *testing.T) {
	store := NewStore()

	scrape := func() string {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}

	t.Run("注册后指标计入本设备所在分片", func(t *testing.T) {
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, store.OnlineCount(constants.ProtocolTypeAccessEntropy))
		assert.Contains(t, scrape(), `gateway_online_devices{protocol="ACCESS_ENTROPY_V4_8"} 1`)

		_, err = store.Register("DEV002", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)
		assert.Contains(t, scrape(), `gateway_online_devices{protocol="ACCESS_ENTROPY_V4_8"} 2`)
	})

	t.Run("离线与注销后指标同步下降", func(t *testing.T) {
		assert.True(t, store.MarkOffline("DEV002", "missed-heartbeats"))
		assert.Contains(t, scrape(), `gateway_online_devices{protocol="ACCESS_ENTROPY_V4_8"} 1`)

		assert.True(t, store.Remove("DEV001"))
		assert.Contains(t, scrape(), `gateway_online_devices{protocol="ACCESS_ENTROPY_V4_8"} 0`)
	})
}
