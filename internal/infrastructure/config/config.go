package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ioe-dream/device-gateway/pkg/constants"
)

// Config 是网关配置的结构体
type Config struct {
	TCPServer     TCPServerConfig           `mapstructure:"tcpServer"`
	HTTPAPIServer HTTPAPIServerConfig       `mapstructure:"httpApiServer"`
	Redis         RedisConfig               `mapstructure:"redis"`
	Logger        LoggerConfig              `mapstructure:"logger"`
	Heartbeat     HeartbeatConfig           `mapstructure:"heartbeat"`
	Dispatch      DispatchConfig            `mapstructure:"dispatch"`
	Protocols     map[string]ProtocolConfig `mapstructure:"protocols"`
}

// TCPServerConfig TCP服务器配置
type TCPServerConfig struct {
	Host string     `mapstructure:"host" yaml:"host"`
	Port int        `mapstructure:"port" yaml:"port"`
	Zinx ZinxConfig `mapstructure:"zinx" yaml:"zinx"`
}

// ZinxConfig Zinx框架配置
type ZinxConfig struct {
	Name             string `mapstructure:"name"`
	Version          string `mapstructure:"version"`
	MaxConn          int    `mapstructure:"maxConn"`
	WorkerPoolSize   int    `mapstructure:"workerPoolSize"`
	MaxWorkerTaskLen int    `mapstructure:"maxWorkerTaskLen"`
	MaxPacketSize    uint32 `mapstructure:"maxPacketSize"`
}

// HTTPAPIServerConfig HTTP管理API配置
type HTTPAPIServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"poolSize"`
	MinIdleConns int    `mapstructure:"minIdleConns"`
	DialTimeout  int    `mapstructure:"dialTimeout"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	FilePath      string `mapstructure:"filePath"`
	MaxSizeMB     int    `mapstructure:"maxSizeMB"`
	MaxBackups    int    `mapstructure:"maxBackups"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays"`
	LogHexDump    bool   `mapstructure:"logHexDump"`
	EnableConsole bool   `mapstructure:"enableConsole"`
}

// HeartbeatConfig 心跳巡检配置
type HeartbeatConfig struct {
	IntervalSeconds    int `mapstructure:"intervalSeconds"`    // 设备心跳周期
	MissedThreshold    int `mapstructure:"missedThreshold"`    // 连续丢失多少个心跳判定离线
	SweepSeconds       int `mapstructure:"sweepSeconds"`       // 巡检周期
	StartupGraceSecond int `mapstructure:"startupGraceSecond"` // 启动宽限期
}

// DispatchConfig 业务分发配置
type DispatchConfig struct {
	WorkerCount         int    `mapstructure:"workerCount"`
	QueueSize           int    `mapstructure:"queueSize"`
	BackpressurePolicy  string `mapstructure:"backpressurePolicy"` // reject-new / drop-oldest
	TimeoutSeconds      int    `mapstructure:"timeoutSeconds"`
	DestroyGraceSeconds int    `mapstructure:"destroyGraceSeconds"`
	RetryMaxAttempts    int    `mapstructure:"retryMaxAttempts"`
	RetryBaseDelayMs    int    `mapstructure:"retryBaseDelayMs"`
	RetryBackoffFactor  int    `mapstructure:"retryBackoffFactor"`
}

// ProtocolConfig 单协议适配器配置
type ProtocolConfig struct {
	ClockSkewSeconds         int      `mapstructure:"clockSkewSeconds"`
	ChecksumFailureThreshold int      `mapstructure:"checksumFailureThreshold"`
	SupportedModels          []string `mapstructure:"supportedModels"`
}

// 全局配置实例
var GlobalConfig Config

// Load 加载配置文件
func Load(configPath string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(&GlobalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	GlobalConfig.applyDefaults()
	return nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return &GlobalConfig
}

// FormatHTTPAddress 格式化HTTP服务器地址为host:port格式
func FormatHTTPAddress() string {
	cfg := GetConfig().HTTPAPIServer
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// applyDefaults 为缺省项填入默认值
func (c *Config) applyDefaults() {
	if c.Heartbeat.IntervalSeconds <= 0 {
		c.Heartbeat.IntervalSeconds = int(constants.DefaultHeartbeatInterval.Seconds())
	}
	if c.Heartbeat.MissedThreshold <= 0 {
		c.Heartbeat.MissedThreshold = constants.DefaultMissedHeartbeatThreshold
	}
	if c.Heartbeat.SweepSeconds <= 0 {
		c.Heartbeat.SweepSeconds = int(constants.DefaultSweepInterval.Seconds())
	}
	if c.Heartbeat.StartupGraceSecond <= 0 {
		c.Heartbeat.StartupGraceSecond = int(constants.DefaultSweepGrace.Seconds())
	}
	if c.Dispatch.WorkerCount <= 0 {
		c.Dispatch.WorkerCount = 8
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 1024
	}
	if c.Dispatch.BackpressurePolicy == "" {
		c.Dispatch.BackpressurePolicy = string(constants.BackpressureRejectNew)
	}
	if c.Dispatch.TimeoutSeconds <= 0 {
		c.Dispatch.TimeoutSeconds = int(constants.DefaultDispatchTimeout.Seconds())
	}
	if c.Dispatch.DestroyGraceSeconds <= 0 {
		c.Dispatch.DestroyGraceSeconds = int(constants.DefaultDestroyGrace.Seconds())
	}
	if c.Dispatch.RetryMaxAttempts <= 0 {
		c.Dispatch.RetryMaxAttempts = 3
	}
	if c.Dispatch.RetryBaseDelayMs <= 0 {
		c.Dispatch.RetryBaseDelayMs = 100
	}
	if c.Dispatch.RetryBackoffFactor <= 0 {
		c.Dispatch.RetryBackoffFactor = 2
	}
}

// ProtocolOrDefault 返回指定协议的配置，缺省时返回默认值
func (c *Config) ProtocolOrDefault(protocolType string) ProtocolConfig {
	if pc, ok := c.Protocols[protocolType]; ok {
		if pc.ClockSkewSeconds <= 0 {
			pc.ClockSkewSeconds = int(constants.DefaultClockSkewTolerance.Seconds())
		}
		if pc.ChecksumFailureThreshold <= 0 {
			pc.ChecksumFailureThreshold = constants.DefaultChecksumFailureThreshold
		}
		return pc
	}
	return ProtocolConfig{
		ClockSkewSeconds:         int(constants.DefaultClockSkewTolerance.Seconds()),
		ChecksumFailureThreshold: constants.DefaultChecksumFailureThreshold,
	}
}
