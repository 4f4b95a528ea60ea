// Package adapter 实现协议适配器层。
// 每种厂商协议对应一个适配器实例，适配器封装该协议的编解码、
// 设备生命周期处理和业务分发入口。适配器自身不持有持久状态，
// 设备状态在会话存储，配置在外部配置存储。
package adapter

import (
	"context"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	"github.com/ioe-dream/device-gateway/pkg/errmap"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// ValidationResult 消息校验结果
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	ErrorCode string `json:"error_code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PermissionResult 设备权限校验结果
type PermissionResult struct {
	Permitted bool   `json:"permitted"`
	Online    bool   `json:"online"`
	Reason    string `json:"reason,omitempty"`
}

// ProtocolAdapter 协议适配器接口
type ProtocolAdapter interface {
	// 身份操作，纯函数无副作用
	ProtocolType() string
	Manufacturer() string
	Version() string
	SupportedDeviceModels() []string
	IsDeviceModelSupported(model string) bool

	// 编解码
	ParseDeviceMessage(raw []byte, deviceID string) (*protocol.Message, error)
	ParseDeviceMessageHex(hexStr string, deviceID string) (*protocol.Message, error)
	BuildDeviceResponse(messageType string, businessData map[string]interface{}, deviceID string) ([]byte, error)
	BuildDeviceResponseHex(messageType string, businessData map[string]interface{}, deviceID string) (string, error)

	// 校验
	ValidateMessage(msg *protocol.Message) ValidationResult
	ValidateDevicePermission(deviceID, operation string) PermissionResult

	// 设备生命周期
	InitializeDevice(deviceID string) (session.Snapshot, error)
	HandleDeviceRegistration(msg *protocol.Message) (session.Snapshot, error)
	HandleDeviceHeartbeat(deviceID string) (session.Snapshot, error)
	GetDeviceStatus(deviceID string) (constants.DeviceStatus, error)

	// 业务处理，立即返回Future，不阻塞调用方
	ProcessAccessBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error)
	ProcessAttendanceBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error)
	ProcessConsumeBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error)

	// 设备协议配置，由外部配置存储支撑
	GetProtocolConfig(ctx context.Context, deviceID string) (map[string]string, error)
	UpdateProtocolConfig(ctx context.Context, deviceID string, cfg map[string]string) error

	// 厂商错误翻译
	HandleProtocolError(vendorCode uint32, vendorMessage, deviceID string) *errmap.ErrorInfo
	ErrorCodeMapping() map[uint32]errmap.ErrorInfo

	// 适配器生命周期
	Initialize() error
	Destroy()
	AdapterStatus() constants.AdapterStatus
	PerformanceStatistics() metrics.ProtocolStats
}

// InboundProcessor 支持整条入站消息处理的协议适配器。
// TCP接入层解析出规范化消息后交给它完成注册、心跳与业务路由。
type InboundProcessor interface {
	ProtocolAdapter

	ProcessInboundMessage(msg *protocol.Message) (*dispatch.Future, error)
}
