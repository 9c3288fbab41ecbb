package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
	"github.com/joho/godotenv"
)

// DefaultFiles 按顺序读取，后面的覆盖前面的；不存在的文件会被跳过
var DefaultFiles = []string{"./config.hcl", "./config.local.hcl"}

type Config struct {
	AppPort string `hcl:"app_port" env:"APP_PORT" default:"9000"`

	PostgresDSN string `hcl:"postgres_dsn" env:"POSTGRES_DSN" default:"host=localhost user=contenthub password=contenthub dbname=contenthub port=5432 sslmode=disable TimeZone=UTC"`
	RedisAddr   string `hcl:"redis_addr" env:"REDIS_ADDR" default:"localhost:6379"`

	CronSpec   string `hcl:"cron_spec" env:"CRON_SPEC" default:"*/30 * * * *"`
	RunOnStart bool   `hcl:"run_on_start" env:"RUN_ON_START" default:"true"`
	// CronSecret 非空时，触发采集的接口需要携带该密钥
	CronSecret string `hcl:"cron_secret" env:"CRON_SECRET"`

	BasicAuthUser string `hcl:"basic_user" env:"APP_BASIC_USER"`
	BasicAuthPass string `hcl:"basic_pass" env:"APP_BASIC_PASS"`

	LogLevel      string        `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	SourceLockTTL time.Duration `hcl:"source_lock_ttl" env:"SOURCE_LOCK_TTL" default:"10m"`
	HTTPTimeout   time.Duration `hcl:"http_timeout" env:"HTTP_TIMEOUT" default:"30s"`
}

// Load 依次读取 .env、配置文件与环境变量，环境变量优先
func Load() (*Config, error) {
	return LoadFiles(DefaultFiles...)
}

func LoadFiles(files ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		// 命令行参数由各个 cmd 自己解析
		SkipFlags:          true,
		AllowUnknownEnvs:   true,
		AllowUnknownFields: true,
		Files:              files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// BasicAuthEnabled 用户名和密码都配置时才启用
func (c *Config) BasicAuthEnabled() bool {
	return c.BasicAuthUser != "" && c.BasicAuthPass != ""
}
