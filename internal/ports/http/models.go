package httpapi

import (
	"time"

	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// StandardResponse 标准API响应格式
type StandardResponse struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
	Success bool        `json:"success"`
	Time    int64       `json:"time"`
}

// ErrorResponse 错误响应格式
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success"`
	Time    int64  `json:"time"`
}

// AdapterInfo 协议适配器信息
type AdapterInfo struct {
	ProtocolType    string                `json:"protocol_type"`
	Manufacturer    string                `json:"manufacturer"`
	Version         string                `json:"version"`
	SupportedModels []string              `json:"supported_models"`
	Status          string                `json:"status"`
	Statistics      metrics.ProtocolStats `json:"statistics"`
}

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Sessions   []session.Snapshot `json:"sessions"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"total_pages"`
}

// SessionQuery 会话查询参数
type SessionQuery struct {
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
	Protocol string `form:"protocol"`
	Status   string `form:"status"`
}

// GatewayStatistics 网关汇总统计
type GatewayStatistics struct {
	TotalSessions int                     `json:"total_sessions"`
	OnlineDevices int                     `json:"online_devices"`
	Protocols     []metrics.ProtocolStats `json:"protocols"`
	Timestamp     int64                   `json:"timestamp"`
}

// ConfigUpdateRequest 设备协议配置更新请求
type ConfigUpdateRequest struct {
	Config map[string]string `json:"config" binding:"required"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// NewStandardResponse 创建标准响应
func NewStandardResponse(data interface{}, message string, code int) StandardResponse {
	return StandardResponse{
		Code:    code,
		Data:    data,
		Message: message,
		Success: code == 0,
		Time:    time.Now().Unix(),
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(message string, code int) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Success: false,
		Time:    time.Now().Unix(),
	}
}
