package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConfigStore 设备协议配置的外部存储接口。
// 适配器不持有配置的持久副本，读写都穿透到存储
type ConfigStore interface {
	Get(ctx context.Context, protocolType, deviceID string) (map[string]string, error)
	Update(ctx context.Context, protocolType, deviceID string, cfg map[string]string) error
}

// RedisConfigStore 基于Redis Hash的配置存储
type RedisConfigStore struct {
	client *redis.Client
}

// NewRedisConfigStore 创建Redis配置存储
func NewRedisConfigStore(client *redis.Client) *RedisConfigStore {
	return &RedisConfigStore{client: client}
}

func configKey(protocolType, deviceID string) string {
	return fmt.Sprintf("device:config:%s:%s", protocolType, deviceID)
}

// Get 读取设备配置，不存在时返回空映射
func (s *RedisConfigStore) Get(ctx context.Context, protocolType, deviceID string) (map[string]string, error) {
	result, err := s.client.HGetAll(ctx, configKey(protocolType, deviceID)).Result()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update 合并写入设备配置，只更新给定的键
func (s *RedisConfigStore) Update(ctx context.Context, protocolType, deviceID string, cfg map[string]string) error {
	if len(cfg) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		fields[k] = v
	}
	return s.client.HSet(ctx, configKey(protocolType, deviceID), fields).Err()
}

// MemoryConfigStore 进程内配置存储，用于无Redis的部署和测试
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]string
}

// NewMemoryConfigStore 创建进程内配置存储
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]map[string]string)}
}

// Get 读取设备配置副本
func (s *MemoryConfigStore) Get(_ context.Context, protocolType, deviceID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.configs[configKey(protocolType, deviceID)]
	result := make(map[string]string, len(cfg))
	for k, v := range cfg {
		result[k] = v
	}
	return result, nil
}

// Update 合并写入设备配置
func (s *MemoryConfigStore) Update(_ context.Context, protocolType, deviceID string, cfg map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := configKey(protocolType, deviceID)
	if s.configs[key] == nil {
		s.configs[key] = make(map[string]string, len(cfg))
	}
	for k, v := range cfg {
		s.configs[key][k] = v
	}
	return nil
}
