package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	"github.com/ioe-dream/device-gateway/pkg/errmap"
	apperrors "github.com/ioe-dream/device-gateway/pkg/errors"
	"github.com/ioe-dream/device-gateway/pkg/heartbeat"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

// 消息校验错误码
const (
	ValidationMsgNull             = "MSG_NULL"
	ValidationDeviceSNEmpty       = "DEVICE_SN_EMPTY"
	ValidationMsgTypeInvalid      = "MSG_TYPE_INVALID"
	ValidationModelUnsupported    = "DEVICE_MODEL_UNSUPPORTED"
	ValidationTimestampOutOfRange = "TIMESTAMP_OUT_OF_RANGE"
	ValidationChecksumMismatch    = "CHECKSUM_MISMATCH"
)

// 已知的设备操作集合，权限校验拒绝未知操作
var knownOperations = map[string]bool{
	constants.OperationUploadEvent:   true,
	constants.OperationUploadRecord:  true,
	constants.OperationQueryAccount:  true,
	constants.OperationUpdateConfig:  true,
	constants.OperationRemoteControl: true,
}

// Options 适配器装配参数
type Options struct {
	Codec        protocol.Codec
	Manufacturer string
	Version      string
	Models       []string

	Store       *session.Store
	ConfigStore ConfigStore
	ErrorMapper *errmap.Mapper

	ClockSkew         time.Duration // 时间戳新鲜度容忍
	ChecksumThreshold int           // 连续校验失败进入ERROR的阈值
	DestroyGrace      time.Duration // 销毁时等待在途分发的宽限期

	Dispatch  dispatch.Config  // 业务分发配置
	Heartbeat heartbeat.Config // 心跳巡检配置
}

// BaseAdapter 适配器通用实现，厂商适配器在其上装配编解码器与身份信息
type BaseAdapter struct {
	codec        protocol.Codec
	manufacturer string
	version      string
	models       []string

	store       *session.Store
	configStore ConfigStore
	mapper      *errmap.Mapper
	dispatcher  *dispatch.Dispatcher
	sweeper     *heartbeat.Sweeper

	clockSkew         time.Duration
	checksumThreshold int
	destroyGrace      time.Duration

	statusMu sync.RWMutex
	status   constants.AdapterStatus
}

// NewBaseAdapter 创建适配器通用实现
func NewBaseAdapter(opts Options) *BaseAdapter {
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = constants.DefaultClockSkewTolerance
	}
	if opts.ChecksumThreshold <= 0 {
		opts.ChecksumThreshold = constants.DefaultChecksumFailureThreshold
	}
	if opts.DestroyGrace <= 0 {
		opts.DestroyGrace = constants.DefaultDestroyGrace
	}
	if opts.ConfigStore == nil {
		opts.ConfigStore = NewMemoryConfigStore()
	}

	protocolType := ""
	if opts.Codec != nil {
		protocolType = opts.Codec.ProtocolType()
	}
	if opts.ErrorMapper == nil {
		opts.ErrorMapper = errmap.NewMapper(protocolType)
	}
	opts.Heartbeat.ProtocolType = protocolType

	return &BaseAdapter{
		codec:             opts.Codec,
		manufacturer:      opts.Manufacturer,
		version:           opts.Version,
		models:            opts.Models,
		store:             opts.Store,
		configStore:       opts.ConfigStore,
		mapper:            opts.ErrorMapper,
		dispatcher:        dispatch.NewDispatcher(opts.Dispatch),
		sweeper:           heartbeat.NewSweeper(opts.Heartbeat, opts.Store),
		clockSkew:         opts.ClockSkew,
		checksumThreshold: opts.ChecksumThreshold,
		destroyGrace:      opts.DestroyGrace,
		status:            constants.AdapterStatusInitialized,
	}
}

// ProtocolType 协议类型标识
func (a *BaseAdapter) ProtocolType() string {
	if a.codec == nil {
		return ""
	}
	return a.codec.ProtocolType()
}

// Manufacturer 厂商名称
func (a *BaseAdapter) Manufacturer() string { return a.manufacturer }

// Version 协议版本
func (a *BaseAdapter) Version() string { return a.version }

// SupportedDeviceModels 支持的设备型号列表
func (a *BaseAdapter) SupportedDeviceModels() []string {
	models := make([]string, len(a.models))
	copy(models, a.models)
	return models
}

// IsDeviceModelSupported 判断设备型号是否支持。
// 匹配不区分大小写，空输入返回false而不是报错
func (a *BaseAdapter) IsDeviceModelSupported(model string) bool {
	if model == "" {
		return false
	}
	for _, m := range a.models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// Dispatcher 暴露分发器供业务处理器注册
func (a *BaseAdapter) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// ParseDeviceMessage 解析原始报文。
// 校验失败计入会话的失败计数，达到阈值后会话进入ERROR状态
func (a *BaseAdapter) ParseDeviceMessage(raw []byte, deviceID string) (*protocol.Message, error) {
	if err := a.ensureRunning(); err != nil {
		return nil, err
	}

	logger.HexDump("收到设备报文", raw)
	msg, err := a.codec.Parse(raw, deviceID)
	if err != nil {
		metrics.IncParseError(a.ProtocolType())
		if pe, ok := err.(*protocol.ParseError); ok && pe.ChecksumMismatch {
			metrics.IncChecksumError(a.ProtocolType())
			if deviceID != "" {
				count, entered := a.store.RecordChecksumFailure(deviceID, a.checksumThreshold)
				if entered {
					logger.WithFields(logrus.Fields{
						"deviceId":     deviceID,
						"protocolType": a.ProtocolType(),
						"failureCount": count,
					}).Error("连续校验失败，会话已进入ERROR状态")
				}
			}
		}
		return nil, err
	}

	metrics.IncMessageReceived(a.ProtocolType(), msg.MessageName)
	if msg.DeviceID != "" {
		a.store.ResetChecksumFailures(msg.DeviceID)
	}
	return msg, nil
}

// ParseDeviceMessageHex 解析十六进制形式的报文
func (a *BaseAdapter) ParseDeviceMessageHex(hexStr string, deviceID string) (*protocol.Message, error) {
	raw, err := protocol.HexToBytes(hexStr)
	if err != nil {
		metrics.IncParseError(a.ProtocolType())
		return nil, &protocol.ParseError{ProtocolType: a.ProtocolType(), Reason: "十六进制字符串非法", Cause: err}
	}
	return a.ParseDeviceMessage(raw, deviceID)
}

// BuildDeviceResponse 构造下行报文
func (a *BaseAdapter) BuildDeviceResponse(messageType string, businessData map[string]interface{}, deviceID string) ([]byte, error) {
	if err := a.ensureRunning(); err != nil {
		return nil, err
	}
	raw, err := a.codec.Build(messageType, businessData, deviceID)
	if err != nil {
		return nil, err
	}
	logger.HexDump("发送设备报文", raw)
	return raw, nil
}

// BuildDeviceResponseHex 构造十六进制形式的下行报文
func (a *BaseAdapter) BuildDeviceResponseHex(messageType string, businessData map[string]interface{}, deviceID string) (string, error) {
	raw, err := a.BuildDeviceResponse(messageType, businessData, deviceID)
	if err != nil {
		return "", err
	}
	return protocol.BytesToHex(raw), nil
}

// ValidateMessage 消息业务级校验，包括校验和复核与时间戳新鲜度
func (a *BaseAdapter) ValidateMessage(msg *protocol.Message) ValidationResult {
	if msg == nil {
		return ValidationResult{Valid: false, ErrorCode: ValidationMsgNull, Reason: "消息为空"}
	}
	if msg.DeviceID == "" {
		return ValidationResult{Valid: false, ErrorCode: ValidationDeviceSNEmpty, Reason: "设备标识为空"}
	}
	if msg.MessageName == "" {
		return ValidationResult{Valid: false, ErrorCode: ValidationMsgTypeInvalid, Reason: "未知消息类型"}
	}
	if !msg.ChecksumValid {
		return ValidationResult{Valid: false, ErrorCode: ValidationChecksumMismatch, Reason: "校验和不匹配"}
	}
	if !msg.Timestamp.IsZero() {
		skew := time.Since(msg.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > a.clockSkew {
			return ValidationResult{
				Valid:     false,
				ErrorCode: ValidationTimestampOutOfRange,
				Reason:    "消息时间戳超出容忍范围，疑似重放",
			}
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateDevicePermission 设备权限校验。
// 设备不在线或操作未知都返回permitted=false，迫使设备重新注册
func (a *BaseAdapter) ValidateDevicePermission(deviceID, operation string) PermissionResult {
	snap, ok := a.store.Get(deviceID)
	if !ok {
		return PermissionResult{Permitted: false, Online: false, Reason: "设备未注册"}
	}
	if snap.Status != constants.DeviceStatusOnline {
		return PermissionResult{Permitted: false, Online: false, Reason: "设备不在线: " + string(snap.Status)}
	}
	if !knownOperations[operation] {
		return PermissionResult{Permitted: false, Online: true, Reason: "未知操作: " + operation}
	}
	return PermissionResult{Permitted: true, Online: true}
}

// InitializeDevice 首次接触时创建会话
func (a *BaseAdapter) InitializeDevice(deviceID string) (session.Snapshot, error) {
	if err := a.ensureRunning(); err != nil {
		return session.Snapshot{}, err
	}
	return a.store.GetOrCreate(deviceID, a.ProtocolType())
}

// HandleDeviceRegistration 处理注册消息。
// 型号不支持的设备被拒绝，注册成功后会话上线
func (a *BaseAdapter) HandleDeviceRegistration(msg *protocol.Message) (session.Snapshot, error) {
	if err := a.ensureRunning(); err != nil {
		return session.Snapshot{}, err
	}
	if result := a.ValidateMessage(msg); !result.Valid {
		return session.Snapshot{}, apperrors.Newf(apperrors.ErrInvalidParameter,
			"注册消息校验失败: %s", result.ErrorCode)
	}

	model := msg.GetString("deviceModel")
	if !a.IsDeviceModelSupported(model) {
		return session.Snapshot{}, apperrors.Newf(apperrors.ErrDeviceNotAuthorized,
			"设备型号 %q 不在支持列表中", model)
	}

	meta := make(map[string]string)
	for _, f := range msg.Fields {
		if s, ok := f.Value.(string); ok {
			meta[f.Key] = s
		}
	}
	return a.store.Register(msg.DeviceID, a.ProtocolType(), model, meta)
}

// HandleDeviceHeartbeat 处理心跳。同周期内的重复心跳是幂等的，
// 除刷新lastHeartbeatAt外无其他副作用
func (a *BaseAdapter) HandleDeviceHeartbeat(deviceID string) (session.Snapshot, error) {
	if err := a.ensureRunning(); err != nil {
		return session.Snapshot{}, err
	}
	return a.store.Heartbeat(deviceID)
}

// GetDeviceStatus 查询设备状态
func (a *BaseAdapter) GetDeviceStatus(deviceID string) (constants.DeviceStatus, error) {
	snap, ok := a.store.Get(deviceID)
	if !ok {
		return "", apperrors.Newf(apperrors.ErrDeviceNotFound, "设备 %s 无会话", deviceID)
	}
	return snap.Status, nil
}

// ProcessAccessBusiness 分发门禁业务
func (a *BaseAdapter) ProcessAccessBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error) {
	return a.submitBusiness(constants.DomainAccess, deviceID, businessType, data)
}

// ProcessAttendanceBusiness 分发考勤业务
func (a *BaseAdapter) ProcessAttendanceBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error) {
	return a.submitBusiness(constants.DomainAttendance, deviceID, businessType, data)
}

// ProcessConsumeBusiness 分发消费业务
func (a *BaseAdapter) ProcessConsumeBusiness(deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error) {
	return a.submitBusiness(constants.DomainConsume, deviceID, businessType, data)
}

func (a *BaseAdapter) submitBusiness(domain constants.BusinessDomain, deviceID, businessType string, data map[string]interface{}) (*dispatch.Future, error) {
	if err := a.ensureRunning(); err != nil {
		return nil, err
	}
	if businessType == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParameter, "业务类型为空")
	}
	return a.dispatcher.Dispatch(&dispatch.Task{
		DeviceID:     deviceID,
		ProtocolType: a.ProtocolType(),
		Domain:       domain,
		BusinessType: businessType,
		Operation:    constants.OperationUploadRecord,
		Data:         data,
	})
}

// GetProtocolConfig 读取设备协议配置
func (a *BaseAdapter) GetProtocolConfig(ctx context.Context, deviceID string) (map[string]string, error) {
	return a.configStore.Get(ctx, a.ProtocolType(), deviceID)
}

// UpdateProtocolConfig 写入设备协议配置
func (a *BaseAdapter) UpdateProtocolConfig(ctx context.Context, deviceID string, cfg map[string]string) error {
	return a.configStore.Update(ctx, a.ProtocolType(), deviceID, cfg)
}

// HandleProtocolError 翻译厂商错误码
func (a *BaseAdapter) HandleProtocolError(vendorCode uint32, vendorMessage, deviceID string) *errmap.ErrorInfo {
	return a.mapper.Handle(vendorCode, vendorMessage, deviceID)
}

// ErrorCodeMapping 返回当前错误码映射表
func (a *BaseAdapter) ErrorCodeMapping() map[uint32]errmap.ErrorInfo {
	return a.mapper.Mapping()
}

// Initialize 启动适配器。失败时适配器停留在ERROR状态，
// 错误必须上抛给启动监督者，不允许吞掉
func (a *BaseAdapter) Initialize() error {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	if a.status == constants.AdapterStatusRunning {
		return nil
	}
	if a.codec == nil {
		a.status = constants.AdapterStatusError
		return apperrors.New(apperrors.ErrAdapterInitFailed, "适配器缺少编解码器")
	}
	if a.store == nil {
		a.status = constants.AdapterStatusError
		return apperrors.New(apperrors.ErrAdapterInitFailed, "适配器缺少会话存储")
	}

	a.dispatcher.Start()
	a.sweeper.Start()
	a.status = constants.AdapterStatusRunning

	logger.WithFields(logrus.Fields{
		"protocolType": a.ProtocolType(),
		"manufacturer": a.manufacturer,
		"version":      a.version,
	}).Info("协议适配器初始化完成")
	return nil
}

// Destroy 销毁适配器。停止心跳巡检，在宽限期内等待在途业务完成，
// 宽限期耗尽后剩余业务以CANCELLED结束。重复销毁是幂等的
func (a *BaseAdapter) Destroy() {
	a.statusMu.Lock()
	if a.status == constants.AdapterStatusStopped {
		a.statusMu.Unlock()
		return
	}
	a.status = constants.AdapterStatusStopped
	a.statusMu.Unlock()

	a.sweeper.Stop()
	a.dispatcher.Shutdown(a.destroyGrace)
	logger.WithField("protocolType", a.ProtocolType()).Info("协议适配器已销毁")
}

// AdapterStatus 返回适配器生命周期状态
func (a *BaseAdapter) AdapterStatus() constants.AdapterStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// PerformanceStatistics 返回本协议的性能统计快照
func (a *BaseAdapter) PerformanceStatistics() metrics.ProtocolStats {
	return metrics.GetProtocolStats(a.ProtocolType())
}

func (a *BaseAdapter) ensureRunning() error {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	if a.status != constants.AdapterStatusRunning {
		return apperrors.Newf(apperrors.ErrAdapterNotRunning,
			"适配器未运行(当前状态 %s)", a.status)
	}
	return nil
}
