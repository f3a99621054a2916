// 包 logger：进程级日志器，编排器、填充器、解析器与命令行共用同一实例
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// 默认日志器：进程内复用，保证流水线各阶段输出格式一致
var defaultLogger *slog.Logger

// Setup：按 LOG_LEVEL / LOG_FORMAT 初始化默认日志器
// 背景：流水线运行时间长，级别与格式需要按部署环境统一调整
// 约束：输出目标固定为标准错误；标准输出留给命令行的结果输出
func Setup() *slog.Logger {
	return SetupWith(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)
}

// SetupWith：以显式参数初始化默认日志器，同时设为 slog 的全局默认
// 参数：
// - level：debug/info/warn/error，其他值按 info 处理；
// - format：json 输出 JSON，其余输出文本；
// - w：输出目标，测试中可传入缓冲区。
func SetupWith(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// ParseLevel：将环境变量中的级别文本转换为 slog.Level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L：获取默认日志器；若未初始化则回退到 Setup
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}
