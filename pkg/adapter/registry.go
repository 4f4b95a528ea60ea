package adapter

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// Registry 协议适配器注册表。
// 注册只在启动期（或显式管理操作）发生，查找可并发执行。
// 每种协议类型同一时刻只有一个适配器实例
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ProtocolAdapter
	store    *session.Store
}

// NewRegistry 创建注册表
func NewRegistry(store *session.Store) *Registry {
	return &Registry{
		adapters: make(map[string]ProtocolAdapter),
		store:    store,
	}
}

// Register 注册适配器。同协议类型重复注册被拒绝
func (r *Registry) Register(a ProtocolAdapter) error {
	if a == nil {
		return apperrors.New(apperrors.ErrInvalidParameter, "适配器为空")
	}
	protocolType := a.ProtocolType()
	if protocolType == "" {
		return apperrors.New(apperrors.ErrInvalidParameter, "适配器协议类型为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[protocolType]; exists {
		return apperrors.Newf(apperrors.ErrProtocolUnsupported,
			"协议 %s 已注册适配器，拒绝重复注册", protocolType)
	}
	r.adapters[protocolType] = a

	logger.WithFields(logrus.Fields{
		"protocolType": protocolType,
		"manufacturer": a.Manufacturer(),
		"version":      a.Version(),
	}).Info("协议适配器注册成功")
	return nil
}

// Get 按协议类型查找适配器
func (r *Registry) Get(protocolType string) (ProtocolAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[protocolType]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrProtocolUnsupported,
			"不支持的协议类型: %s", protocolType)
	}
	return a, nil
}

// ResolveByFrame 通过帧头的协议标识解析适配器（握手与注册报文）
func (r *Registry) ResolveByFrame(raw []byte) (ProtocolAdapter, error) {
	protocolType, ok := protocol.SniffProtocolType(raw)
	if !ok {
		return nil, apperrors.New(apperrors.ErrProtocolUnsupported,
			"无法从帧头识别协议类型")
	}
	return r.Get(protocolType)
}

// ResolveByDevice 通过已有会话的协议绑定解析适配器（后续报文）
func (r *Registry) ResolveByDevice(deviceID string) (ProtocolAdapter, error) {
	snap, ok := r.store.Get(deviceID)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrDeviceNotFound,
			"设备 %s 无会话，无法推断协议", deviceID)
	}
	return r.Get(snap.ProtocolType)
}

// Resolve 先按帧头识别，失败时回退到设备会话
func (r *Registry) Resolve(raw []byte, deviceID string) (ProtocolAdapter, error) {
	if a, err := r.ResolveByFrame(raw); err == nil {
		return a, nil
	}
	if deviceID != "" {
		return r.ResolveByDevice(deviceID)
	}
	return nil, apperrors.New(apperrors.ErrProtocolUnsupported,
		"无法从帧头识别协议类型")
}

// ProtocolTypes 返回已注册的协议类型列表
func (r *Registry) ProtocolTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for pt := range r.adapters {
		types = append(types, pt)
	}
	return types
}

// All 返回全部已注册适配器
func (r *Registry) All() []ProtocolAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ProtocolAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		result = append(result, a)
	}
	return result
}

// InitializeAll 初始化全部适配器。任一适配器失败立即返回错误，
// 由启动监督者决定终止进程，不允许带着残废的适配器继续运行
func (r *Registry) InitializeAll() error {
	for _, a := range r.All() {
		if err := a.Initialize(); err != nil {
			logger.WithFields(logrus.Fields{
				"protocolType": a.ProtocolType(),
				"error":        err.Error(),
			}).Error("协议适配器初始化失败")
			return err
		}
	}
	return nil
}

// DestroyAll 销毁全部适配器
func (r *Registry) DestroyAll() {
	for _, a := range r.All() {
		a.Destroy()
	}
}
