package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
)

// 分片数量，按设备ID哈希分片降低锁竞争
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*DeviceSession
}

// Store 设备会话存储，按设备ID分片加锁。
// 同一设备的操作串行化，不同设备的操作可并行
type Store struct {
	shards [shardCount]*shard

	listenerMu sync.RWMutex
	listeners  []Listener

	mirrorMu sync.RWMutex
	mirror   Mirror
}

// NewStore 创建会话存储
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*DeviceSession)}
	}
	return s
}

func (s *Store) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return s.shards[h.Sum32()%shardCount]
}

// AddListener 注册状态转换监听器（追加式，不支持移除）
func (s *Store) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetMirror 设置会话镜像（Redis），可选
func (s *Store) SetMirror(m Mirror) {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	s.mirror = m
}

// GetOrCreate 获取或创建会话。新会话处于INITIALIZED状态，
// 首次接触时绑定协议类型，之后不允许变更
func (s *Store) GetOrCreate(deviceID, protocolType string) (Snapshot, error) {
	if deviceID == "" {
		return Snapshot{}, apperrors.New(apperrors.ErrInvalidParameter, "设备ID为空")
	}
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if exists {
		if protocolType != "" && sess.ProtocolType != protocolType {
			return Snapshot{}, apperrors.Newf(apperrors.ErrSessionStateConflict,
				"设备 %s 已绑定协议 %s，拒绝以协议 %s 访问", deviceID, sess.ProtocolType, protocolType)
		}
		return sess.snapshot(), nil
	}

	now := time.Now()
	sess = &DeviceSession{
		DeviceID:     deviceID,
		ProtocolType: protocolType,
		Status:       constants.DeviceStatusInitialized,
		SessionID:    generateSessionID(deviceID),
		CreatedAt:    now,
	}
	sh.sessions[deviceID] = sess

	logger.WithFields(logrus.Fields{
		"deviceId":     deviceID,
		"protocolType": protocolType,
		"sessionId":    sess.SessionID,
	}).Debug("创建设备会话")

	snap := sess.snapshot()
	s.mirrorSnapshot(snap)
	return snap, nil
}

// Register 设备注册。并发注册同一设备时恰好一个调用执行完整的
// 注册流程并使会话上线，其余调用观察到已在线的会话并直接成功，
// 不重复注册。注册在分片锁内一步完成，REGISTERING不对外暴露。
// ERROR状态的会话允许通过重新注册恢复（开启新的注册周期）
func (s *Store) Register(deviceID, protocolType, deviceModel string, meta map[string]string) (Snapshot, error) {
	if deviceID == "" {
		return Snapshot{}, apperrors.New(apperrors.ErrInvalidParameter, "设备ID为空")
	}
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	sess, exists := sh.sessions[deviceID]
	if !exists {
		sess = &DeviceSession{
			DeviceID:     deviceID,
			ProtocolType: protocolType,
			Status:       constants.DeviceStatusInitialized,
			SessionID:    generateSessionID(deviceID),
			CreatedAt:    now,
		}
		sh.sessions[deviceID] = sess
	}

	if sess.ProtocolType != protocolType {
		return Snapshot{}, apperrors.Newf(apperrors.ErrSessionStateConflict,
			"设备 %s 已绑定协议 %s，变更协议需先注销会话", deviceID, sess.ProtocolType)
	}

	// 已在线：并发注册的失败方走到这里，观察即成功
	if sess.Status == constants.DeviceStatusOnline {
		return sess.snapshot(), nil
	}

	from := sess.Status
	sess.Status = constants.DeviceStatusOnline
	sess.DeviceModel = deviceModel
	sess.RegisteredAt = now
	sess.LastHeartbeatAt = now
	sess.ConsecutiveMissedHeartbeats = 0
	sess.FailureCount = 0
	if len(meta) > 0 {
		if sess.RegistrationMeta == nil {
			sess.RegistrationMeta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			sess.RegistrationMeta[k] = v
		}
	}

	logger.WithFields(logrus.Fields{
		"deviceId":     deviceID,
		"protocolType": protocolType,
		"deviceModel":  deviceModel,
		"fromStatus":   from,
	}).Info("设备注册成功，会话上线")

	snap := sess.snapshot()
	s.notifyOnline(TransitionEvent{
		DeviceID:     deviceID,
		ProtocolType: protocolType,
		From:         from,
		To:           constants.DeviceStatusOnline,
		Reason:       "register",
		Timestamp:    now,
	})
	s.mirrorSnapshot(snap)
	s.refreshOnlineGauge(sh, protocolType)
	return snap, nil
}

// Heartbeat 处理设备心跳。心跳对在线设备是幂等的刷新操作；
// 到达OFFLINE会话的心跳将其提升回ONLINE并触发上线事件；
// 会话不存在时返回会话错误，迫使设备重新注册
func (s *Store) Heartbeat(deviceID string) (Snapshot, error) {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if !exists {
		return Snapshot{}, apperrors.Newf(apperrors.ErrDeviceNotFound,
			"设备 %s 无会话，需先注册", deviceID)
	}
	if sess.Status == constants.DeviceStatusError {
		return Snapshot{}, apperrors.Newf(apperrors.ErrSessionStateConflict,
			"设备 %s 会话处于ERROR状态，需重新注册恢复", deviceID)
	}

	now := time.Now()
	sess.LastHeartbeatAt = now
	sess.ConsecutiveMissedHeartbeats = 0

	if sess.Status == constants.DeviceStatusOffline ||
		sess.Status == constants.DeviceStatusInitialized ||
		sess.Status == constants.DeviceStatusRegistering {
		from := sess.Status
		sess.Status = constants.DeviceStatusOnline
		logger.WithFields(logrus.Fields{
			"deviceId":   deviceID,
			"fromStatus": from,
		}).Info("心跳到达，设备会话恢复在线")
		snap := sess.snapshot()
		s.notifyOnline(TransitionEvent{
			DeviceID:     deviceID,
			ProtocolType: sess.ProtocolType,
			From:         from,
			To:           constants.DeviceStatusOnline,
			Reason:       "heartbeat",
			Timestamp:    now,
		})
		s.mirrorSnapshot(snap)
		s.refreshOnlineGauge(sh, sess.ProtocolType)
		return snap, nil
	}

	snap := sess.snapshot()
	s.mirrorSnapshot(snap)
	return snap, nil
}

// MarkOffline 将设备标记为离线。仅ONLINE会话会发生转换，
// 重复调用不会重复触发离线事件。返回是否实际发生了转换
func (s *Store) MarkOffline(deviceID, reason string) bool {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if !exists || sess.Status != constants.DeviceStatusOnline {
		return false
	}

	now := time.Now()
	sess.Status = constants.DeviceStatusOffline

	logger.WithFields(logrus.Fields{
		"deviceId": deviceID,
		"reason":   reason,
	}).Warn("设备会话离线")

	snap := sess.snapshot()
	s.notifyOffline(TransitionEvent{
		DeviceID:     deviceID,
		ProtocolType: sess.ProtocolType,
		From:         constants.DeviceStatusOnline,
		To:           constants.DeviceStatusOffline,
		Reason:       reason,
		Timestamp:    now,
	})
	s.mirrorSnapshot(snap)
	s.refreshOnlineGauge(sh, sess.ProtocolType)
	return true
}

// RecordMissedHeartbeat 累加连续丢失心跳计数，返回累加后的值。
// 由心跳巡检器调用，判定离线由巡检器依据阈值决定
func (s *Store) RecordMissedHeartbeat(deviceID string) int {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if !exists {
		return 0
	}
	sess.ConsecutiveMissedHeartbeats++
	return sess.ConsecutiveMissedHeartbeats
}

// RecordChecksumFailure 累加校验失败计数。达到阈值时会话进入
// ERROR状态并停止处理后续消息，直至重新注册。
// 返回累加后的计数以及本次是否进入了ERROR状态
func (s *Store) RecordChecksumFailure(deviceID string, threshold int) (int, bool) {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if !exists {
		return 0, false
	}
	sess.FailureCount++
	if threshold > 0 && sess.FailureCount >= threshold && sess.Status != constants.DeviceStatusError {
		from := sess.Status
		sess.Status = constants.DeviceStatusError
		logger.WithFields(logrus.Fields{
			"deviceId":     deviceID,
			"failureCount": sess.FailureCount,
			"fromStatus":   from,
		}).Error("连续校验失败超过阈值，设备会话进入ERROR状态")
		s.mirrorSnapshot(sess.snapshot())
		if from == constants.DeviceStatusOnline {
			s.refreshOnlineGauge(sh, sess.ProtocolType)
		}
		return sess.FailureCount, true
	}
	return sess.FailureCount, false
}

// ResetChecksumFailures 清零校验失败计数（收到合法消息后调用）
func (s *Store) ResetChecksumFailures(deviceID string) {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess, exists := sh.sessions[deviceID]; exists {
		sess.FailureCount = 0
	}
}

// Remove 删除设备会话。会话删除仅限管理操作（注销设备），
// 协议层不会自行删除会话。返回是否删除了会话
func (s *Store) Remove(deviceID string) bool {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, exists := sh.sessions[deviceID]
	if !exists {
		return false
	}
	delete(sh.sessions, deviceID)

	logger.WithFields(logrus.Fields{
		"deviceId":     deviceID,
		"protocolType": sess.ProtocolType,
	}).Info("设备会话已注销")

	s.mirrorRemove(deviceID)
	if sess.Status == constants.DeviceStatusOnline {
		s.refreshOnlineGauge(sh, sess.ProtocolType)
	}
	return true
}

// Get 查询设备会话快照
func (s *Store) Get(deviceID string) (Snapshot, bool) {
	sh := s.shardFor(deviceID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, exists := sh.sessions[deviceID]
	if !exists {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// IsOnline 判断设备是否在线
func (s *Store) IsOnline(deviceID string) bool {
	snap, ok := s.Get(deviceID)
	return ok && snap.Status == constants.DeviceStatusOnline
}

// Snapshots 返回指定协议的全部会话快照，protocolType为空时返回全部
func (s *Store) Snapshots(protocolType string) []Snapshot {
	var result []Snapshot
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if protocolType == "" || sess.ProtocolType == protocolType {
				result = append(result, sess.snapshot())
			}
		}
		sh.mu.RUnlock()
	}
	return result
}

// Count 返回会话总数
func (s *Store) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

// OnlineCount 返回指定协议的在线会话数
func (s *Store) OnlineCount(protocolType string) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if sess.Status == constants.DeviceStatusOnline &&
				(protocolType == "" || sess.ProtocolType == protocolType) {
				total++
			}
		}
		sh.mu.RUnlock()
	}
	return total
}

// refreshOnlineGauge 在已持有held分片写锁时刷新在线设备数指标。
// held分片已被调用方锁定，直接遍历；其余分片加读锁
func (s *Store) refreshOnlineGauge(held *shard, protocolType string) {
	total := 0
	for _, sh := range s.shards {
		if sh != held {
			sh.mu.RLock()
		}
		for _, sess := range sh.sessions {
			if sess.Status == constants.DeviceStatusOnline && sess.ProtocolType == protocolType {
				total++
			}
		}
		if sh != held {
			sh.mu.RUnlock()
		}
	}
	metrics.SetOnlineDevices(protocolType, total)
}

// notifyOnline 异步通知监听器，监听器panic不影响存储
func (s *Store) notifyOnline(event TransitionEvent) {
	s.listenerMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		go func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{"panic": r}).Error("上线事件监听器panic")
				}
			}()
			l.OnDeviceOnline(event)
		}(l)
	}
	s.mirrorTransition(event)
}

func (s *Store) notifyOffline(event TransitionEvent) {
	s.listenerMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		go func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{"panic": r}).Error("离线事件监听器panic")
				}
			}()
			l.OnDeviceOffline(event)
		}(l)
	}
	s.mirrorTransition(event)
}
