// 包 config：集中读取 .env 与环境变量，供命令行与各作业共享
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config：流水线运行所需的全部外部配置
// 约束：只在启动时读取一次；运行中不再感知环境变量变化
type Config struct {
	PGDriver   string
	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDB       string
	PGSSLMode  string
	PGMaxOpen  int
	PGMaxIdle  int

	DataFolder string

	RedisEnabled bool
	RedisHost    string
	RedisPort    string
	RedisPass    string
	RedisDB      int

	Geocoder           string
	NominatimURL       string
	NominatimUserAgent string
	GeocodeRPS         float64
	AMapKey            string
	GeoIPDB            string

	HashAlgo    string
	ExecInfo    bool
	MetricsAddr string
}

// Load：先尝试加载工作目录下的 .env（缺失时忽略），再读取环境变量
func Load() Config {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// LoadFile：加载指定的 env 文件；文件不存在时返回错误
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, err
	}
	return FromEnv(), nil
}

// FromEnv：仅从当前进程环境构建配置，未设置的键使用默认值
func FromEnv() Config {
	return Config{
		PGDriver:   envOr("PG_DRIVER", "postgres"),
		PGHost:     envOr("PG_HOST", "localhost"),
		PGPort:     envOr("PG_PORT", "5432"),
		PGUser:     envOr("PG_USER", "postgres"),
		PGPassword: os.Getenv("PG_PASSWORD"),
		PGDB:       envOr("PG_DB", "gis"),
		PGSSLMode:  envOr("PG_SSLMODE", "disable"),
		PGMaxOpen:  envInt("PG_MAX_OPEN_CONNS", 4),
		PGMaxIdle:  envInt("PG_MAX_IDLE_CONNS", 2),

		DataFolder: envOr("DATA_FOLDER", "./data"),

		RedisEnabled: envBool("REDIS_ENABLED", false),
		RedisHost:    envOr("REDIS_HOST", "127.0.0.1"),
		RedisPort:    envOr("REDIS_PORT", "6379"),
		RedisPass:    os.Getenv("REDIS_PASS"),
		RedisDB:      envInt("REDIS_DB", 0),

		Geocoder:           envOr("GEOCODER", "nominatim"),
		NominatimURL:       envOr("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: envOr("NOMINATIM_USER_AGENT", "gis-fillers"),
		GeocodeRPS:         envFloat("GEOCODE_RPS", 1),
		AMapKey:            os.Getenv("AMAP_KEY"),
		GeoIPDB:            os.Getenv("GEOIP_DB"),

		HashAlgo:    envOr("HASH_ALGO", "sha256"),
		ExecInfo:    envBool("EXEC_INFO", true),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}
}

// PostgresDSN：按 URL 形式拼接连接串
func (c Config) PostgresDSN() string {
	dsn := "postgres://" + c.PGUser
	if c.PGPassword != "" {
		dsn += ":" + c.PGPassword
	}
	dsn += "@" + c.PGHost + ":" + c.PGPort + "/" + c.PGDB + "?sslmode=" + c.PGSSLMode
	return dsn
}

// RedisAddr：host:port
func (c Config) RedisAddr() string { return c.RedisHost + ":" + c.RedisPort }

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	return def
}
