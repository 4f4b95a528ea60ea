package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// GatewayAPI 网关管理API
type GatewayAPI struct {
	registry *adapter.Registry
	store    *session.Store
}

// NewGatewayAPI 创建网关管理API
func NewGatewayAPI(registry *adapter.Registry, store *session.Store) *GatewayAPI {
	return &GatewayAPI{
		registry: registry,
		store:    store,
	}
}

// GetAdaptersGin 获取协议适配器列表
func (api *GatewayAPI) GetAdaptersGin(c *gin.Context) {
	adapters := api.registry.All()
	result := make([]AdapterInfo, 0, len(adapters))
	for _, a := range adapters {
		result = append(result, AdapterInfo{
			ProtocolType:    a.ProtocolType(),
			Manufacturer:    a.Manufacturer(),
			Version:         a.Version(),
			SupportedModels: a.SupportedDeviceModels(),
			Status:          a.AdapterStatus().String(),
			Statistics:      a.PerformanceStatistics(),
		})
	}
	c.JSON(http.StatusOK, NewStandardResponse(result, "success", 0))
}

// GetSessionsGin 获取设备会话列表
func (api *GatewayAPI) GetSessionsGin(c *gin.Context) {
	var query SessionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("参数错误: "+err.Error(), 400))
		return
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 1000 {
		query.Limit = 1000
	}

	snapshots := api.store.Snapshots(query.Protocol)
	if query.Status != "" {
		filtered := snapshots[:0]
		for _, snap := range snapshots {
			if string(snap.Status) == query.Status {
				filtered = append(filtered, snap)
			}
		}
		snapshots = filtered
	}

	total := len(snapshots)
	start := (query.Page - 1) * query.Limit
	end := start + query.Limit
	if start >= total {
		snapshots = []session.Snapshot{}
	} else {
		if end > total {
			end = total
		}
		snapshots = snapshots[start:end]
	}
	totalPages := (total + query.Limit - 1) / query.Limit

	result := SessionListResponse{
		Sessions:   snapshots,
		Total:      total,
		Page:       query.Page,
		Limit:      query.Limit,
		TotalPages: totalPages,
	}
	c.JSON(http.StatusOK, NewStandardResponse(result, "success", 0))
}

// GetSessionGin 获取单个设备会话
func (api *GatewayAPI) GetSessionGin(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("device_id参数是必需的", 400))
		return
	}

	snap, ok := api.store.Get(deviceID)
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse("设备会话不存在", 404))
		return
	}
	c.JSON(http.StatusOK, NewStandardResponse(snap, "success", 0))
}

// DeregisterDeviceGin 管理端注销设备会话
func (api *GatewayAPI) DeregisterDeviceGin(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("device_id参数是必需的", 400))
		return
	}

	if !api.store.Remove(deviceID) {
		c.JSON(http.StatusNotFound, NewErrorResponse("设备会话不存在", 404))
		return
	}

	logger.WithFields(logrus.Fields{
		"deviceID": deviceID,
		"clientIP": c.ClientIP(),
	}).Info("管理端注销设备会话")
	c.JSON(http.StatusOK, NewStandardResponse(gin.H{"device_id": deviceID}, "设备会话已注销", 0))
}

// GetDeviceConfigGin 获取设备协议配置
func (api *GatewayAPI) GetDeviceConfigGin(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("device_id参数是必需的", 400))
		return
	}

	a, err := api.adapterForDevice(c, deviceID)
	if err != nil {
		return
	}

	cfg, err := a.GetProtocolConfig(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("读取设备配置失败: "+err.Error(), 500))
		return
	}
	c.JSON(http.StatusOK, NewStandardResponse(cfg, "success", 0))
}

// UpdateDeviceConfigGin 更新设备协议配置
func (api *GatewayAPI) UpdateDeviceConfigGin(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("device_id参数是必需的", 400))
		return
	}

	var req ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("请求参数错误: "+err.Error(), 400))
		return
	}

	a, err := api.adapterForDevice(c, deviceID)
	if err != nil {
		return
	}

	if err := a.UpdateProtocolConfig(c.Request.Context(), deviceID, req.Config); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("更新设备配置失败: "+err.Error(), 500))
		return
	}

	logger.WithFields(logrus.Fields{
		"deviceID": deviceID,
		"keys":     len(req.Config),
		"clientIP": c.ClientIP(),
	}).Info("管理端更新设备协议配置")
	c.JSON(http.StatusOK, NewStandardResponse(gin.H{"device_id": deviceID}, "设备配置已更新", 0))
}

// GetStatisticsGin 获取网关汇总统计
func (api *GatewayAPI) GetStatisticsGin(c *gin.Context) {
	result := GatewayStatistics{
		TotalSessions: api.store.Count(),
		OnlineDevices: api.store.OnlineCount(""),
		Protocols:     metrics.GetAllStats(),
		Timestamp:     time.Now().Unix(),
	}
	c.JSON(http.StatusOK, NewStandardResponse(result, "success", 0))
}

// ResetStatisticsGin 清零指定协议的统计
func (api *GatewayAPI) ResetStatisticsGin(c *gin.Context) {
	protocolType := c.Query("protocol")
	if protocolType == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("protocol参数是必需的", 400))
		return
	}
	if _, err := api.registry.Get(protocolType); err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("协议不存在: "+protocolType, 404))
		return
	}

	metrics.ResetProtocolStats(protocolType)
	c.JSON(http.StatusOK, NewStandardResponse(gin.H{"protocol": protocolType}, "统计已清零", 0))
}

// GetHealthGin 健康检查
func (api *GatewayAPI) GetHealthGin(c *gin.Context) {
	services := map[string]string{
		"session_store": "healthy",
	}
	status := "healthy"
	for _, a := range api.registry.All() {
		key := "adapter_" + a.ProtocolType()
		if a.AdapterStatus() == constants.AdapterStatusRunning {
			services[key] = "healthy"
		} else {
			services[key] = string(a.AdapterStatus())
			status = "degraded"
		}
	}

	result := HealthResponse{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Version:   "1.0.0",
		Services:  services,
	}
	c.JSON(http.StatusOK, NewStandardResponse(result, "success", 0))
}

// PingGin 存活检测
func (api *GatewayAPI) PingGin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// adapterForDevice 按设备会话解析协议适配器，失败时已写入响应
func (api *GatewayAPI) adapterForDevice(c *gin.Context, deviceID string) (adapter.ProtocolAdapter, error) {
	a, err := api.registry.ResolveByDevice(deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("设备会话不存在或协议未注册", 404))
		return nil, err
	}
	return a, nil
}
