package constants

import "time"

// 协议类型标识
const (
	ProtocolTypeAccessEntropy = "ACCESS_ENTROPY_V4_8" // 熵基科技门禁协议V4.8
	ProtocolTypeConsumeZkteco = "CONSUME_ZKTECO_V1_0" // 中控智慧消费协议V1.0
)

// 协议层默认参数
const (
	// DefaultClockSkewTolerance 消息时间戳允许的时钟偏移，超出视为重放风险
	DefaultClockSkewTolerance = 5 * time.Minute

	// DefaultChecksumFailureThreshold 连续校验失败阈值，超过后会话进入 ERROR 状态
	DefaultChecksumFailureThreshold = 3

	// DefaultHeartbeatInterval 默认心跳间隔
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMissedHeartbeatThreshold 允许的连续丢失心跳次数
	DefaultMissedHeartbeatThreshold = 3

	// DefaultSweepInterval 心跳巡检周期
	DefaultSweepInterval = 10 * time.Second

	// DefaultSweepGrace 新会话宽限期，期间不做离线判定
	DefaultSweepGrace = 60 * time.Second

	// DefaultDispatchTimeout 单次业务分发超时
	DefaultDispatchTimeout = 10 * time.Second

	// DefaultDestroyGrace 适配器销毁时等待在途分发完成的宽限期
	DefaultDestroyGrace = 5 * time.Second

	// MaxFrameSize 单帧最大长度，超过视为协议违规
	MaxFrameSize = 4096
)

// BackpressurePolicy 入站队列背压策略
type BackpressurePolicy string

const (
	BackpressureRejectNew  BackpressurePolicy = "reject-new"  // 队列满时拒绝新消息
	BackpressureDropOldest BackpressurePolicy = "drop-oldest" // 队列满时丢弃最旧消息
)

// 时间格式
const TimeFormatDefault = "2006-01-02 15:04:05"
