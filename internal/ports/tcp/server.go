// Package tcp 实现设备侧TCP接入层。基于Zinx框架，
// 按协议魔数拆包后路由到对应的协议适配器。
package tcp

import (
	"path/filepath"

	"github.com/aceld/zinx/zconf"
	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/config"
	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// Server 设备接入TCP服务器
type Server struct {
	registry *adapter.Registry
	store    *session.Store
	server   ziface.IServer
}

// NewServer 创建TCP服务器
func NewServer(registry *adapter.Registry, store *session.Store) *Server {
	return &Server{
		registry: registry,
		store:    store,
	}
}

// Start 配置并启动Zinx TCP服务器
func (s *Server) Start() error {
	cfg := config.GetConfig()
	zinxCfg := cfg.TCPServer.Zinx

	// 直接设置Zinx全局对象配置
	zconf.GlobalObject.Name = zinxCfg.Name
	zconf.GlobalObject.Host = cfg.TCPServer.Host
	zconf.GlobalObject.TCPPort = cfg.TCPServer.Port
	zconf.GlobalObject.Version = zinxCfg.Version
	zconf.GlobalObject.MaxConn = zinxCfg.MaxConn
	zconf.GlobalObject.MaxPacketSize = uint32(zinxCfg.MaxPacketSize)
	zconf.GlobalObject.WorkerPoolSize = uint32(zinxCfg.WorkerPoolSize)
	zconf.GlobalObject.MaxWorkerTaskLen = uint32(zinxCfg.MaxWorkerTaskLen)

	if len(cfg.Logger.FilePath) > 0 {
		zconf.GlobalObject.LogDir = filepath.Dir(cfg.Logger.FilePath)
		zconf.GlobalObject.LogFile = filepath.Base(cfg.Logger.FilePath)
	}

	switch cfg.Logger.Level {
	case "debug":
		zconf.GlobalObject.LogIsolationLevel = 0
	case "info":
		zconf.GlobalObject.LogIsolationLevel = 1
	case "warn":
		zconf.GlobalObject.LogIsolationLevel = 2
	case "error":
		zconf.GlobalObject.LogIsolationLevel = 3
	default:
		zconf.GlobalObject.LogIsolationLevel = 0
	}

	server := znet.NewServer()

	// 自定义拆包器，按协议魔数和帧长度字段切帧
	server.SetPacket(NewGatewayDataPack())

	server.SetOnConnStart(s.OnConnectionStart)
	server.SetOnConnStop(s.OnConnectionStop)

	server.AddRouter(MsgIDEntropy, NewDeviceFrameRouter(constants.ProtocolTypeAccessEntropy, s.registry))
	server.AddRouter(MsgIDZkteco, NewDeviceFrameRouter(constants.ProtocolTypeConsumeZkteco, s.registry))

	logger.WithField("tcpPort", cfg.TCPServer.Port).Info("正在启动设备接入TCP服务器...")
	logger.WithField("serverName", server.ServerName()).Info("服务器名称")

	s.server = server
	go server.Serve()

	return nil
}

// Stop 停止TCP服务器
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Stop()
		logger.Info("设备接入TCP服务器已停止")
	}
}
