package tcp

import (
	"net"
	"time"

	"github.com/aceld/zinx/ziface"
	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
)

// 连接属性键
const (
	PropKeyDeviceID     = "deviceID"
	PropKeyProtocolType = "protocolType"
	PropKeyRemoteAddr   = "remoteAddr"
	PropKeyConnectedAt  = "connectedAt"
)

// TCP连接参数
const (
	tcpReadDeadline    = 5 * time.Minute
	tcpWriteDeadline   = 5 * time.Minute
	tcpKeepAlivePeriod = 30 * time.Second
)

// OnConnectionStart 连接建立钩子，设置TCP参数并初始化连接属性
func (s *Server) OnConnectionStart(conn ziface.IConnection) {
	remoteAddr := conn.RemoteAddr().String()

	if tcpConn, ok := conn.GetConnection().(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(tcpKeepAlivePeriod)
		_ = tcpConn.SetReadDeadline(time.Now().Add(tcpReadDeadline))
		_ = tcpConn.SetWriteDeadline(time.Now().Add(tcpWriteDeadline))
	}

	conn.SetProperty(PropKeyRemoteAddr, remoteAddr)
	conn.SetProperty(PropKeyConnectedAt, time.Now().Unix())

	logger.WithFields(logrus.Fields{
		"connID":     conn.GetConnID(),
		"remoteAddr": remoteAddr,
	}).Info("新连接已建立")
}

// OnConnectionStop 连接断开钩子。若连接已绑定设备，将其会话标记离线
func (s *Server) OnConnectionStop(conn ziface.IConnection) {
	connID := conn.GetConnID()
	remoteAddr := conn.RemoteAddr().String()

	var deviceID string
	if val, err := conn.GetProperty(PropKeyDeviceID); err == nil && val != nil {
		deviceID, _ = val.(string)
	}

	if deviceID != "" && s.store != nil {
		if s.store.MarkOffline(deviceID, "连接断开") {
			logger.WithFields(logrus.Fields{
				"connID":   connID,
				"deviceID": deviceID,
			}).Info("设备随连接断开转为离线")
		}
	}

	logger.WithFields(logrus.Fields{
		"connID":     connID,
		"remoteAddr": remoteAddr,
		"deviceID":   deviceID,
	}).Info("连接已关闭")
}
