// Package heartbeat 实现心跳巡检。
// 每个协议适配器持有一个巡检器，周期性扫描本协议的会话，
// 依据墙钟时间差判定离线。离线判定只依赖最后心跳时间，
// 不依赖巡检次数，巡检延迟不会误判。
package heartbeat

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// Config 巡检器配置
type Config struct {
	ProtocolType    string        // 巡检的协议类型
	Interval        time.Duration // 设备心跳周期
	MissedThreshold int           // 连续丢失多少个心跳判定离线
	SweepInterval   time.Duration // 巡检周期
	StartupGrace    time.Duration // 新上线会话的宽限期
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = constants.DefaultHeartbeatInterval
	}
	if c.MissedThreshold <= 0 {
		c.MissedThreshold = constants.DefaultMissedHeartbeatThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = constants.DefaultSweepInterval
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = constants.DefaultSweepGrace
	}
}

// Sweeper 心跳巡检器
type Sweeper struct {
	cfg   Config
	store *session.Store

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	// 测试注入用的时钟
	now func() time.Time
}

// NewSweeper 创建巡检器
func NewSweeper(cfg Config, store *session.Store) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Start 启动巡检循环。重复启动是幂等的
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logger.WithFields(logrus.Fields{
		"protocolType":    s.cfg.ProtocolType,
		"sweepInterval":   s.cfg.SweepInterval.String(),
		"missedThreshold": s.cfg.MissedThreshold,
	}).Info("心跳巡检器启动")

	go s.loop(s.stopCh, s.doneCh)
}

// Stop 停止巡检并等待循环退出。重复停止是幂等的
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	logger.WithField("protocolType", s.cfg.ProtocolType).Info("心跳巡检器已停止")
}

// Running 返回巡检器是否在运行
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce 执行一轮巡检，返回本轮判定离线的设备数
func (s *Sweeper) SweepOnce() int {
	now := s.now()
	deadline := s.cfg.Interval * time.Duration(s.cfg.MissedThreshold)
	offlineCount := 0

	for _, snap := range s.store.Snapshots(s.cfg.ProtocolType) {
		if snap.Status != constants.DeviceStatusOnline {
			continue
		}

		// 新上线的会话在宽限期内不判定
		last := snap.LastHeartbeatAt
		if last.IsZero() {
			last = snap.RegisteredAt
		}
		if now.Sub(snap.RegisteredAt) < s.cfg.StartupGrace {
			continue
		}

		elapsed := now.Sub(last)
		if elapsed <= deadline {
			continue
		}

		missed := s.store.RecordMissedHeartbeat(snap.DeviceID)
		if s.store.MarkOffline(snap.DeviceID, "missed-heartbeats") {
			offlineCount++
			logger.WithFields(logrus.Fields{
				"deviceId":     snap.DeviceID,
				"protocolType": s.cfg.ProtocolType,
				"elapsed":      elapsed.String(),
				"missedCount":  missed,
			}).Warn("心跳超时，设备判定离线")
		}
	}
	return offlineCount
}
