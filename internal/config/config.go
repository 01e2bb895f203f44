package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Security SecurityConfig `json:"security"`
	Storage  StorageConfig  `json:"storage"`
	Email    EmailConfig    `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env               string        `json:"env"`                 // 运行环境: local / prod
	LogLevel          string        `json:"log_level"`           // 日志级别: debug / info / warn / error
	HTTPAddr          string        `json:"http_addr"`           // API 服务监听地址
	MaxUploadBytes    int64         `json:"max_upload_bytes"`    // 单次上传请求最大字节数
	RouteRateInterval time.Duration `json:"route_rate_interval"` // 限流路由的最小请求间隔（如 "2s"）
	MailWorkers       int           `json:"mail_workers"`        // 邮件发送 worker 数
	MailQueueCapacity int           `json:"mail_queue_capacity"` // 邮件队列容量
	TrustedProxies    []string      `json:"trusted_proxies"`     // 可信反向代理 IP/CIDR，为空时不信任 X-Forwarded-For
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（限流使用）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string        `json:"jwt_secret"`     // JWT 签名密钥
	TokenTTL      time.Duration `json:"token_ttl"`      // 访问令牌有效期
	BcryptCost    int           `json:"bcrypt_cost"`    // bcrypt 计算强度
	AdminEmail    string        `json:"admin_email"`    // 启动时创建的管理员邮箱（为空则跳过）
	AdminPassword string        `json:"admin_password"` // 管理员初始密码
}

// StorageConfig 对象存储（S3 兼容）配置。
type StorageConfig struct {
	Bucket          string `json:"bucket"`            // 存储桶名称
	Region          string `json:"region"`            // 区域
	AccessKeyID     string `json:"access_key_id"`     // 访问密钥 ID
	SecretAccessKey string `json:"secret_access_key"` // 访问密钥
	Endpoint        string `json:"endpoint"`          // 自定义端点（MinIO 等），为空使用 AWS
	PathPrefix      string `json:"path_prefix"`       // 对象键前缀
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 无论是否存在配置文件，环境变量都会覆盖最终结果。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("security.token_ttl must be positive")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:               "local",
			LogLevel:          "info",
			HTTPAddr:          ":4000",
			MaxUploadBytes:    10 << 20,
			RouteRateInterval: 2 * time.Second,
			MailWorkers:       2,
			MailQueueCapacity: 100,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/bookstore?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Security: SecurityConfig{
			JWTSecret:  "dev_secret_change_me",
			TokenTTL:   3 * time.Hour,
			BcryptCost: 10,
		},
		Storage: StorageConfig{
			Bucket:     "books",
			Region:     "us-east-1",
			PathPrefix: "books",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MaxUploadBytes == 0 {
		cfg.App.MaxUploadBytes = defaults.App.MaxUploadBytes
	}
	if cfg.App.RouteRateInterval == 0 {
		cfg.App.RouteRateInterval = defaults.App.RouteRateInterval
	}
	if cfg.App.MailWorkers == 0 {
		cfg.App.MailWorkers = defaults.App.MailWorkers
	}
	if cfg.App.MailQueueCapacity == 0 {
		cfg.App.MailQueueCapacity = defaults.App.MailQueueCapacity
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = defaults.Storage.Bucket
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = defaults.Storage.Region
	}
	if cfg.Storage.PathPrefix == "" {
		cfg.Storage.PathPrefix = defaults.Storage.PathPrefix
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("jwt_expires", "JWT_EXPIRES")
	_ = v.BindEnv("aws_access_key_id", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws_secret_key", "AWS_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("aws_bucket", "AWS_S3_BUCKET_NAME")
	_ = v.BindEnv("smtp_pass", "SMTP_PASS")
	_ = v.BindEnv("admin_password", "ADMIN_PASSWORD")
	_ = v.BindEnv("trusted_proxies", "APP_TRUSTED_PROXIES", "TRUSTED_PROXIES")

	if e := os.Getenv("APP_ENV"); e != "" {
		cfg.App.Env = e
	}
	if e := os.Getenv("APP_LOG_LEVEL"); e != "" {
		cfg.App.LogLevel = e
	}
	if e := os.Getenv("APP_HTTP_ADDR"); e != "" {
		cfg.App.HTTPAddr = e
	} else if e := os.Getenv("PORT"); e != "" {
		cfg.App.HTTPAddr = ":" + strings.TrimPrefix(e, ":")
	}
	if e := os.Getenv("APP_MAX_UPLOAD_BYTES"); e != "" {
		if i, err := strconv.ParseInt(e, 10, 64); err == nil {
			cfg.App.MaxUploadBytes = i
		}
	}
	if e := os.Getenv("APP_ROUTE_RATE_INTERVAL"); e != "" {
		if d, err := time.ParseDuration(e); err == nil {
			cfg.App.RouteRateInterval = d
		}
	}
	if e := os.Getenv("APP_MAIL_WORKERS"); e != "" {
		if i, err := strconv.Atoi(e); err == nil {
			cfg.App.MailWorkers = i
		}
	}
	if e := os.Getenv("APP_MAIL_QUEUE_CAPACITY"); e != "" {
		if i, err := strconv.Atoi(e); err == nil {
			cfg.App.MailQueueCapacity = i
		}
	}

	if s := v.GetString("trusted_proxies"); s != "" {
		cfg.App.TrustedProxies = splitList(s)
	}
	if s := v.GetString("jwt_secret"); s != "" {
		cfg.Security.JWTSecret = s
	}
	if s := v.GetString("jwt_expires"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.Security.TokenTTL = d
		}
	}
	if e := os.Getenv("BCRYPT_COST"); e != "" {
		if i, err := strconv.Atoi(e); err == nil {
			cfg.Security.BcryptCost = i
		}
	}
	if e := os.Getenv("ADMIN_EMAIL"); e != "" {
		cfg.Security.AdminEmail = e
	}
	if s := v.GetString("admin_password"); s != "" {
		cfg.Security.AdminPassword = s
	}

	// DB_URI 与原部署保持一致，优先级最高
	if e := os.Getenv("DB_URI"); e != "" {
		cfg.MySQL.DSN = e
	} else if e := os.Getenv("DB_DSN"); e != "" {
		cfg.MySQL.DSN = e
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if h := v.GetString("db_host"); h != "" {
			parsed.Addr = h + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
		} else if p := os.Getenv("DB_PORT"); p != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + p
		}
		if u := os.Getenv("DB_USER"); u != "" {
			parsed.User = u
		}
		if p := v.GetString("db_password"); p != "" {
			parsed.Passwd = p
		}
		if n := os.Getenv("DB_NAME"); n != "" {
			parsed.DBName = n
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if s := v.GetString("redis_addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}

	if s := v.GetString("aws_bucket"); s != "" {
		cfg.Storage.Bucket = s
	}
	if s := v.GetString("aws_access_key_id"); s != "" {
		cfg.Storage.AccessKeyID = s
	}
	if s := v.GetString("aws_secret_key"); s != "" {
		cfg.Storage.SecretAccessKey = s
	}
	if e := os.Getenv("AWS_REGION"); e != "" {
		cfg.Storage.Region = e
	}
	if e := os.Getenv("AWS_S3_ENDPOINT"); e != "" {
		cfg.Storage.Endpoint = e
	}

	if e := os.Getenv("SMTP_HOST"); e != "" {
		cfg.Email.SMTPHost = e
	}
	if e := os.Getenv("SMTP_PORT"); e != "" {
		if i, err := strconv.Atoi(e); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if e := os.Getenv("SMTP_USER"); e != "" {
		cfg.Email.SMTPUser = e
	}
	if s := v.GetString("smtp_pass"); s != "" {
		cfg.Email.SMTPPass = s
	}
	if e := os.Getenv("SMTP_FROM"); e != "" {
		cfg.Email.FromEmail = e
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		c := mysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "bookstore"
		c.ParseTime = true
		return c
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// UnmarshalJSON 支持 Duration 字符串（如 "2s"）。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		RouteRateInterval string `json:"route_rate_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.RouteRateInterval != "" {
		d, err := time.ParseDuration(aux.RouteRateInterval)
		if err != nil {
			return fmt.Errorf("invalid route_rate_interval format: %w", err)
		}
		a.RouteRateInterval = d
	}
	return nil
}

// UnmarshalJSON 支持 token_ttl 使用 Duration 字符串（如 "3h"）。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		s.TokenTTL = d
	}
	return nil
}

// splitList 解析逗号分隔的列表，忽略空项。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
