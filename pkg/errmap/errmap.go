// Package errmap 将厂商私有错误码翻译为平台统一的错误信息。
// 每种协议维护一张映射表，未知错误码落入兜底项并记录日志，
// 保证翻译永远有结果。
package errmap

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/constants"
)

// Severity 错误严重级别
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ErrorInfo 平台统一错误信息
type ErrorInfo struct {
	InternalCode      string   `json:"internal_code"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	RecommendedAction string   `json:"recommended_action"`
	VendorCode        uint32   `json:"vendor_code"`
	DeviceID          string   `json:"device_id,omitempty"`
}

// 未知错误码的兜底项
const (
	unknownInternalCode = "UNKNOWN_ERROR"
	unknownAction       = "manual-investigate"
)

// Mapper 厂商错误码映射器
type Mapper struct {
	mu           sync.RWMutex
	protocolType string
	table        map[uint32]ErrorInfo
}

// NewMapper 创建映射器并装载内置映射表
func NewMapper(protocolType string) *Mapper {
	m := &Mapper{
		protocolType: protocolType,
		table:        make(map[uint32]ErrorInfo),
	}
	switch protocolType {
	case constants.ProtocolTypeAccessEntropy:
		m.seed(entropyErrorTable)
	case constants.ProtocolTypeConsumeZkteco:
		m.seed(zktecoErrorTable)
	}
	return m
}

func (m *Mapper) seed(entries map[uint32]ErrorInfo) {
	for code, info := range entries {
		info.VendorCode = code
		m.table[code] = info
	}
}

// Put 注册或覆盖一条映射（配置下发时使用）
func (m *Mapper) Put(vendorCode uint32, info ErrorInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.VendorCode = vendorCode
	m.table[vendorCode] = info
}

// Handle 翻译厂商错误码，永不返回nil。
// 未知错误码落入UNKNOWN_ERROR兜底并记录原始码便于排查
func (m *Mapper) Handle(vendorCode uint32, vendorMessage, deviceID string) *ErrorInfo {
	m.mu.RLock()
	info, ok := m.table[vendorCode]
	m.mu.RUnlock()

	if !ok {
		logger.WithFields(logrus.Fields{
			"protocolType":  m.protocolType,
			"vendorCode":    vendorCode,
			"vendorMessage": vendorMessage,
			"deviceId":      deviceID,
		}).Warn("未知厂商错误码，使用兜底映射")
		return &ErrorInfo{
			InternalCode:      unknownInternalCode,
			Severity:          SeverityError,
			Description:       vendorMessage,
			RecommendedAction: unknownAction,
			VendorCode:        vendorCode,
			DeviceID:          deviceID,
		}
	}

	info.DeviceID = deviceID
	if vendorMessage != "" {
		info.Description = vendorMessage
	}

	if info.Severity == SeverityCritical {
		logger.WithFields(logrus.Fields{
			"protocolType": m.protocolType,
			"vendorCode":   vendorCode,
			"internalCode": info.InternalCode,
			"deviceId":     deviceID,
		}).Error("设备上报严重错误")
	}
	return &info
}

// Mapping 返回当前映射表的副本（配置查询时使用）
func (m *Mapper) Mapping() map[uint32]ErrorInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[uint32]ErrorInfo, len(m.table))
	for code, info := range m.table {
		result[code] = info
	}
	return result
}
