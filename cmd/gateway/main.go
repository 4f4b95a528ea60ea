package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ioe-dream/device-gateway/internal/app"
	"github.com/ioe-dream/device-gateway/internal/infrastructure/config"
	"github.com/ioe-dream/device-gateway/internal/infrastructure/logger"
	"github.com/ioe-dream/device-gateway/internal/infrastructure/redis"
	httpapi "github.com/ioe-dream/device-gateway/internal/ports/http"
	"github.com/ioe-dream/device-gateway/internal/ports/tcp"
	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/dispatch"
	"github.com/ioe-dream/device-gateway/pkg/heartbeat"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

var configFile = flag.String("config", "configs/gateway.yaml", "配置文件路径")

func main() {
	flag.Parse()

	if err := config.Load(*configFile); err != nil {
		fmt.Printf("加载配置文件失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.GetConfig()

	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("初始化日志系统失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("异构设备协议网关启动中...")

	// Redis为可选依赖，连接失败时网关退化为纯内存模式
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		if err := redis.InitClient(); err != nil {
			logger.Errorf("初始化Redis连接失败，会话镜像与业务发布不可用: %v", err)
		} else {
			redisClient = redis.GetClient()
		}
	}

	store := session.NewStore()
	var configStore adapter.ConfigStore
	if redisClient != nil {
		store.SetMirror(session.NewRedisMirror(redisClient))
		configStore = adapter.NewRedisConfigStore(redisClient)
	} else {
		configStore = adapter.NewMemoryConfigStore()
	}

	dispatchCfg := dispatch.Config{
		WorkerCount:  cfg.Dispatch.WorkerCount,
		QueueSize:    cfg.Dispatch.QueueSize,
		Backpressure: constants.BackpressurePolicy(cfg.Dispatch.BackpressurePolicy),
		Timeout:      time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
		Retry: dispatch.RetryPolicy{
			MaxAttempts:   cfg.Dispatch.RetryMaxAttempts,
			BaseDelay:     time.Duration(cfg.Dispatch.RetryBaseDelayMs) * time.Millisecond,
			BackoffFactor: cfg.Dispatch.RetryBackoffFactor,
		},
	}
	heartbeatCfg := heartbeat.Config{
		Interval:        time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
		MissedThreshold: cfg.Heartbeat.MissedThreshold,
		SweepInterval:   time.Duration(cfg.Heartbeat.SweepSeconds) * time.Second,
		StartupGrace:    time.Duration(cfg.Heartbeat.StartupGraceSecond) * time.Second,
	}
	destroyGrace := time.Duration(cfg.Dispatch.DestroyGraceSeconds) * time.Second

	registry := adapter.NewRegistry(store)
	adapters := []adapter.ProtocolAdapter{
		newAdapter(constants.ProtocolTypeAccessEntropy, cfg, store, configStore, dispatchCfg, heartbeatCfg, destroyGrace),
		newAdapter(constants.ProtocolTypeConsumeZkteco, cfg, store, configStore, dispatchCfg, heartbeatCfg, destroyGrace),
	}

	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			logger.Fatalf("注册协议适配器失败: %v", err)
		}
	}
	registerBusinessHandlers(adapters, app.NewBusinessEventHandler(redisClient))

	if err := registry.InitializeAll(); err != nil {
		logger.Fatalf("初始化协议适配器失败: %v", err)
	}

	// 先启动HTTP管理API，保证设备接入前管理入口已可用
	httpServer := httpapi.NewGinHTTPServer(config.FormatHTTPAddress(), registry, store)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Errorf("HTTP管理API服务器异常退出: %v", err)
		}
	}()

	tcpServer := tcp.NewServer(registry, store)
	if err := tcpServer.Start(); err != nil {
		logger.Fatalf("启动TCP服务器失败: %v", err)
	}

	logger.Info("异构设备协议网关启动完成，等待设备连接...")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	logger.Info("收到退出信号，开始关闭网关...")

	tcpServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Errorf("关闭HTTP服务器失败: %v", err)
	}

	registry.DestroyAll()

	if redisClient != nil {
		if err := redis.Close(); err != nil {
			logger.Errorf("关闭Redis连接失败: %v", err)
		}
	}

	logger.Info("异构设备协议网关已安全关闭")
}

// newAdapter 按协议类型装配适配器
func newAdapter(protocolType string, cfg *config.Config, store *session.Store, configStore adapter.ConfigStore,
	dispatchCfg dispatch.Config, heartbeatCfg heartbeat.Config, destroyGrace time.Duration) adapter.ProtocolAdapter {
	pc := cfg.ProtocolOrDefault(protocolType)
	opts := adapter.Options{
		Models:            pc.SupportedModels,
		Store:             store,
		ConfigStore:       configStore,
		ClockSkew:         time.Duration(pc.ClockSkewSeconds) * time.Second,
		ChecksumThreshold: pc.ChecksumFailureThreshold,
		DestroyGrace:      destroyGrace,
		Dispatch:          dispatchCfg,
		Heartbeat:         heartbeatCfg,
	}
	if protocolType == constants.ProtocolTypeConsumeZkteco {
		return adapter.NewZktecoAdapter(opts)
	}
	return adapter.NewEntropyAdapter(opts)
}

// registerBusinessHandlers 为每个适配器的分发器挂接业务协作方
func registerBusinessHandlers(adapters []adapter.ProtocolAdapter, handler dispatch.Handler) {
	domains := []constants.BusinessDomain{
		constants.DomainAccess,
		constants.DomainAttendance,
		constants.DomainConsume,
	}
	for _, a := range adapters {
		base, ok := a.(interface{ Dispatcher() *dispatch.Dispatcher })
		if !ok {
			continue
		}
		for _, domain := range domains {
			base.Dispatcher().RegisterHandler(domain, handler)
		}
	}
}
