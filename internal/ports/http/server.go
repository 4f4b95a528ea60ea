// Package httpapi 实现网关的HTTP管理API。
// 提供适配器状态、设备会话、协议配置与统计的管理入口，
// 并暴露Prometheus指标端点。
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// GinHTTPServer 基于Gin的管理API服务器
type GinHTTPServer struct {
	server     *http.Server
	router     *gin.Engine
	gatewayAPI *GatewayAPI
}

// NewGinHTTPServer 创建管理API服务器
func NewGinHTTPServer(addr string, registry *adapter.Registry, store *session.Store) *GinHTTPServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	gatewayAPI := NewGatewayAPI(registry, store)
	registerRoutes(router, gatewayAPI)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &GinHTTPServer{
		server:     server,
		router:     router,
		gatewayAPI: gatewayAPI,
	}
}

// registerRoutes 注册所有路由
func registerRoutes(router *gin.Engine, gatewayAPI *GatewayAPI) {
	v1 := router.Group("/api/v1")
	{
		// 协议适配器
		v1.GET("/adapters", gatewayAPI.GetAdaptersGin)

		// 设备会话管理
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", gatewayAPI.GetSessionsGin)
		}
		device := v1.Group("/session")
		{
			device.GET("", gatewayAPI.GetSessionGin)
			device.DELETE("", gatewayAPI.DeregisterDeviceGin)
			device.GET("/config", gatewayAPI.GetDeviceConfigGin)
			device.PUT("/config", gatewayAPI.UpdateDeviceConfigGin)
		}

		// 统计
		statistics := v1.Group("/statistics")
		{
			statistics.GET("", gatewayAPI.GetStatisticsGin)
			statistics.POST("/reset", gatewayAPI.ResetStatisticsGin)
		}

		v1.GET("/health", gatewayAPI.GetHealthGin)
	}

	// Prometheus指标端点
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/health", gatewayAPI.GetHealthGin)
	router.GET("/ping", gatewayAPI.PingGin)
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Start 启动HTTP服务器
func (s *GinHTTPServer) Start() error {
	logger.WithField("address", s.server.Addr).Info("启动HTTP管理API服务器")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP服务器启动失败: %w", err)
	}
	return nil
}

// Stop 停止HTTP服务器
func (s *GinHTTPServer) Stop(ctx context.Context) error {
	logger.Info("停止HTTP管理API服务器")
	return s.server.Shutdown(ctx)
}

// Router 获取Gin路由器，测试用
func (s *GinHTTPServer) Router() *gin.Engine {
	return s.router
}
