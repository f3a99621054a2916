// 包 utils：连接工具；Redis 仅作为地址解析结果的二级缓存
package utils

import (
	"gis-fillers/internal/config"
	"gis-fillers/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：使用地址、密码与库号打开 Redis 客户端
// 背景：保留直接传参的能力，用于测试与手工注入场景；地址为空返回 nil
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenRedisFromConfig：按配置打开 Redis 客户端
// 约束：REDIS_ENABLED 未开启时返回 nil，调用方据此跳过缓存层
func OpenRedisFromConfig(cfg config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	logger.L().Debug("redis_open", "addr", cfg.RedisAddr(), "db", cfg.RedisDB)
	return OpenRedis(cfg.RedisAddr(), cfg.RedisPass, cfg.RedisDB)
}
