package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
)

// Mirror 会话镜像接口。镜像是尽力而为的观察通道，
// 写入失败只记日志，不影响内存中的会话状态
type Mirror interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	RemoveSnapshot(ctx context.Context, deviceID string) error
	PublishTransition(ctx context.Context, event TransitionEvent) error
}

// Redis键与频道
const (
	sessionKeyPrefix   = "session:"
	deviceEventChannel = "device:events"
	sessionKeyTTL      = 24 * time.Hour
	mirrorOpTimeout    = 2 * time.Second
)

// RedisMirror 基于Redis的会话镜像，供外部系统观察设备状态
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror 创建Redis会话镜像
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

// SaveSnapshot 以JSON形式写入 session:<deviceId>
func (m *RedisMirror) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, sessionKeyPrefix+snap.DeviceID, data, sessionKeyTTL).Err()
}

// RemoveSnapshot 删除镜像键（设备注销时）
func (m *RedisMirror) RemoveSnapshot(ctx context.Context, deviceID string) error {
	return m.client.Del(ctx, sessionKeyPrefix+deviceID).Err()
}

// PublishTransition 将上下线事件发布到 device:events 频道
func (m *RedisMirror) PublishTransition(ctx context.Context, event TransitionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, deviceEventChannel, data).Err()
}

// mirrorSnapshot 异步写镜像，失败只记日志
func (s *Store) mirrorSnapshot(snap Snapshot) {
	s.mirrorMu.RLock()
	m := s.mirror
	s.mirrorMu.RUnlock()
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		if err := m.SaveSnapshot(ctx, snap); err != nil {
			logger.WithFields(logrus.Fields{
				"deviceId": snap.DeviceID,
				"error":    err.Error(),
			}).Warn("会话镜像写入失败")
		}
	}()
}

func (s *Store) mirrorRemove(deviceID string) {
	s.mirrorMu.RLock()
	m := s.mirror
	s.mirrorMu.RUnlock()
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		if err := m.RemoveSnapshot(ctx, deviceID); err != nil {
			logger.WithFields(logrus.Fields{
				"deviceId": deviceID,
				"error":    err.Error(),
			}).Warn("会话镜像删除失败")
		}
	}()
}

func (s *Store) mirrorTransition(event TransitionEvent) {
	s.mirrorMu.RLock()
	m := s.mirror
	s.mirrorMu.RUnlock()
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		if err := m.PublishTransition(ctx, event); err != nil {
			logger.WithFields(logrus.Fields{
				"deviceId": event.DeviceID,
				"error":    err.Error(),
			}).Warn("设备事件发布失败")
		}
	}()
}
