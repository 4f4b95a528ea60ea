package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

func newTestSweeper(store *session.Store) *Sweeper {
	return NewSweeper(Config{
		ProtocolType:    constants.ProtocolTypeAccessEntropy,
		Interval:        30 * time.Second,
		MissedThreshold: 3,
		SweepInterval:   10 * time.Second,
		StartupGrace:    60 * time.Second,
	}, store)
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Run("心跳超时的设备判定离线", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		// 时钟拨到超时之后（90秒阈值+宽限期之外）
		sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

		assert.Equal(t, 1, sw.SweepOnce())
		snap, ok := store.Get("DEV001")
		require.True(t, ok)
		assert.Equal(t, constants.DeviceStatusOffline, snap.Status)
	})

	t.Run("再次巡检不重复判定", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

		assert.Equal(t, 1, sw.SweepOnce())
		assert.Equal(t, 0, sw.SweepOnce())
	})

	t.Run("宽限期内不判定离线", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		// 注册后30秒：心跳阈值是90秒，也在宽限期60秒内
		sw.now = func() time.Time { return time.Now().Add(30 * time.Second) }

		assert.Equal(t, 0, sw.SweepOnce())
		snap, _ := store.Get("DEV001")
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
	})

	t.Run("心跳正常的设备不受影响", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		sw.now = func() time.Time { return time.Now().Add(80 * time.Second) }

		// 80秒 < 90秒阈值
		assert.Equal(t, 0, sw.SweepOnce())
	})

	t.Run("只巡检本协议的会话", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("POS001", constants.ProtocolTypeConsumeZkteco, "ZK-POS100", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		sw.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

		assert.Equal(t, 0, sw.SweepOnce())
		snap, _ := store.Get("POS001")
		assert.Equal(t, constants.DeviceStatusOnline, snap.Status)
	})

	t.Run("离线设备心跳恢复后重新纳入巡检", func(t *testing.T) {
		store := session.NewStore()
		_, err := store.Register("DEV001", constants.ProtocolTypeAccessEntropy, "HE-AC2000", nil)
		require.NoError(t, err)

		sw := newTestSweeper(store)
		sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		require.Equal(t, 1, sw.SweepOnce())

		// 心跳提升回在线，LastHeartbeatAt刷新为当前真实时间
		_, err = store.Heartbeat("DEV001")
		require.NoError(t, err)

		// 宽限期按注册时间算，已过期，但心跳是新鲜的
		sw.now = func() time.Time { return time.Now().Add(80 * time.Second) }
		assert.Equal(t, 0, sw.SweepOnce())

		sw.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
		assert.Equal(t, 1, sw.SweepOnce())
	})
}

func TestSweeper_StartStop(t *testing.T) {
	store := session.NewStore()
	sw := NewSweeper(Config{
		ProtocolType:  constants.ProtocolTypeAccessEntropy,
		SweepInterval: 10 * time.Millisecond,
	}, store)

	sw.Start()
	assert.True(t, sw.Running())

	// 重复启动幂等
	sw.Start()
	assert.True(t, sw.Running())

	sw.Stop()
	assert.False(t, sw.Running())

	// 重复停止幂等，不会panic或阻塞
	sw.Stop()
	assert.False(t, sw.Running())

	// 停止后可以重新启动
	sw.Start()
	assert.True(t, sw.Running())
	sw.Stop()
}

func TestSweeper_Defaults(t *testing.T) {
	sw := NewSweeper(Config{ProtocolType: constants.ProtocolTypeAccessEntropy}, session.NewStore())
	assert.Equal(t, constants.DefaultHeartbeatInterval, sw.cfg.Interval)
	assert.Equal(t, constants.DefaultMissedHeartbeatThreshold, sw.cfg.MissedThreshold)
	assert.Equal(t, constants.DefaultSweepInterval, sw.cfg.SweepInterval)
	assert.Equal(t, constants.DefaultSweepGrace, sw.cfg.StartupGrace)
}
