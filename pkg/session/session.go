// Package session 实现设备会话存储。
// 会话是协议层唯一的共享可变结构，全部修改必须经过Store的API，
// 适配器不得直接持有可变会话引用。
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ioe-dream/device-gateway/pkg/constants"
)

// DeviceSession 设备会话。仅在分片锁内修改
type DeviceSession struct {
	DeviceID     string                 // 设备ID（主键）
	ProtocolType string                 // 协议类型，会话生命周期内不变
	Status       constants.DeviceStatus // 会话状态

	SessionID        string            // 会话唯一标识
	DeviceModel      string            // 设备型号（注册时上报）
	RegistrationMeta map[string]string // 注册元数据

	CreatedAt       time.Time // 会话创建时间（首次接触）
	RegisteredAt    time.Time // 最近一次注册成功时间
	LastHeartbeatAt time.Time // 最后心跳时间

	ConsecutiveMissedHeartbeats int // 连续丢失心跳次数
	FailureCount                int // 连续校验失败次数
}

// Snapshot 会话的只读快照，供状态查询与外部观察使用
type Snapshot struct {
	DeviceID                    string                 `json:"device_id"`
	ProtocolType                string                 `json:"protocol_type"`
	Status                      constants.DeviceStatus `json:"status"`
	SessionID                   string                 `json:"session_id"`
	DeviceModel                 string                 `json:"device_model"`
	RegistrationMeta            map[string]string      `json:"registration_meta"`
	CreatedAt                   time.Time              `json:"created_at"`
	RegisteredAt                time.Time              `json:"registered_at"`
	LastHeartbeatAt             time.Time              `json:"last_heartbeat_at"`
	ConsecutiveMissedHeartbeats int                    `json:"consecutive_missed_heartbeats"`
	FailureCount                int                    `json:"failure_count"`
}

// snapshot 在分片锁内生成快照
func (s *DeviceSession) snapshot() Snapshot {
	meta := make(map[string]string, len(s.RegistrationMeta))
	for k, v := range s.RegistrationMeta {
		meta[k] = v
	}
	return Snapshot{
		DeviceID:                    s.DeviceID,
		ProtocolType:                s.ProtocolType,
		Status:                      s.Status,
		SessionID:                   s.SessionID,
		DeviceModel:                 s.DeviceModel,
		RegistrationMeta:            meta,
		CreatedAt:                   s.CreatedAt,
		RegisteredAt:                s.RegisteredAt,
		LastHeartbeatAt:             s.LastHeartbeatAt,
		ConsecutiveMissedHeartbeats: s.ConsecutiveMissedHeartbeats,
		FailureCount:                s.FailureCount,
	}
}

// String 返回会话的字符串表示
func (s Snapshot) String() string {
	return fmt.Sprintf("DeviceSession{DeviceID:%s, Protocol:%s, Status:%s}",
		s.DeviceID, s.ProtocolType, s.Status)
}

// TransitionEvent 设备状态转换事件，推送给告警协作方
type TransitionEvent struct {
	DeviceID     string                 `json:"device_id"`
	ProtocolType string                 `json:"protocol_type"`
	From         constants.DeviceStatus `json:"from"`
	To           constants.DeviceStatus `json:"to"`
	Reason       string                 `json:"reason"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Listener 设备上下线事件监听器（告警协作方接口）
type Listener interface {
	OnDeviceOnline(event TransitionEvent)
	OnDeviceOffline(event TransitionEvent)
}

// 生成会话ID
func generateSessionID(deviceID string) string {
	return fmt.Sprintf("%s_%d_%s", deviceID, time.Now().Unix(), uuid.NewString()[:8])
}
