// Package constants 定义了项目中使用的各种常量
package constants

// DeviceStatus 设备会话状态类型
// 会话生命周期：INITIALIZED -> REGISTERING -> ONLINE <-> OFFLINE，
// 协议严重违规时进入 ERROR，需要重新注册才能恢复
type DeviceStatus string

const (
	DeviceStatusInitialized DeviceStatus = "INITIALIZED" // 首次接触，已建立会话
	DeviceStatusRegistering DeviceStatus = "REGISTERING" // 注册流程进行中
	DeviceStatusOnline      DeviceStatus = "ONLINE"      // 注册成功，心跳正常
	DeviceStatusOffline     DeviceStatus = "OFFLINE"     // 心跳超时，等待恢复
	DeviceStatusError       DeviceStatus = "ERROR"       // 协议违规，需重新注册
)

// 状态转换规则定义
var DeviceStateTransitions = map[DeviceStatus][]DeviceStatus{
	DeviceStatusInitialized: {
		DeviceStatusRegistering, // 收到注册请求
		DeviceStatusError,       // 协议违规
	},
	DeviceStatusRegistering: {
		DeviceStatusOnline, // 注册成功
		DeviceStatusError,  // 注册过程中协议违规
	},
	DeviceStatusOnline: {
		DeviceStatusOffline, // 心跳超时
		DeviceStatusError,   // 协议违规（如连续校验失败）
	},
	DeviceStatusOffline: {
		DeviceStatusOnline, // 心跳恢复
		DeviceStatusError,  // 协议违规
	},
	DeviceStatusError: {
		DeviceStatusRegistering, // 显式重新注册
	},
}

// IsValidTransition 检查状态转换是否有效
func (s DeviceStatus) IsValidTransition(newState DeviceStatus) bool {
	if validStates, exists := DeviceStateTransitions[s]; exists {
		for _, validState := range validStates {
			if validState == newState {
				return true
			}
		}
	}
	return false
}

// IsActive 判断状态是否为活跃状态（可以进行业务操作）
func (s DeviceStatus) IsActive() bool {
	return s == DeviceStatusOnline
}

// String 返回状态的字符串表示
func (s DeviceStatus) String() string {
	return string(s)
}

// AdapterStatus 协议适配器生命周期状态
type AdapterStatus string

const (
	AdapterStatusInitialized AdapterStatus = "INITIALIZED" // 已创建，尚未启动
	AdapterStatusRunning     AdapterStatus = "RUNNING"     // 初始化完成，可处理消息
	AdapterStatusStopped     AdapterStatus = "STOPPED"     // 已销毁
	AdapterStatusError       AdapterStatus = "ERROR"       // 初始化失败
)

// String 返回状态的字符串表示
func (s AdapterStatus) String() string {
	return string(s)
}
