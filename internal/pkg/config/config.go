package config

import (
	"errors"
	"log"
	"os"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	App      AppConfig      `mapstructure:"app"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Tabby    TabbyConfig    `mapstructure:"tabby"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Currency string `mapstructure:"currency"` // 默认币种，如 AED
}

// StripeConfig 卡支付通道配置
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"` // 验签密钥，来自 Stripe Dashboard
	Timeout       int    `mapstructure:"timeout"`        // 请求超时（秒）
}

// TabbyConfig 先买后付（BNPL）通道配置
type TabbyConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SecretKey     string `mapstructure:"secret_key"`
	MerchantCode  string `mapstructure:"merchant_code"`
	WebhookSecret string `mapstructure:"webhook_secret"` // 回调 HMAC 密钥
	Timeout       int    `mapstructure:"timeout"`
}

// RecoveryConfig 对账/补单配置
type RecoveryConfig struct {
	WindowHours int `mapstructure:"window_hours"` // 默认扫描窗口
	Workers     int `mapstructure:"workers"`      // 补单 worker 数量
	QueueSize   int `mapstructure:"queue_size"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	// Redis 配置验证
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	// 至少要有一个支付通道可用
	if c.Stripe.SecretKey == "" && c.Tabby.SecretKey == "" {
		return errors.New("at least one payment gateway must be configured")
	}
	// 配置了通道但缺验签密钥是危险的（回调将全部被拒）
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required when stripe is enabled")
	}
	if c.Tabby.SecretKey != "" && c.Tabby.WebhookSecret == "" {
		return errors.New("tabby webhook secret is required when tabby is enabled")
	}

	return nil
}

// LoadConfig 加载配置
func LoadConfig() {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "" && env != "dev" {
		configName = "config." + env
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("jwt.expire", 24)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("app.env", "dev")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.currency", "AED")
	viper.SetDefault("stripe.timeout", 15)
	viper.SetDefault("tabby.timeout", 15)
	viper.SetDefault("tabby.base_url", "https://api.tabby.ai")
	viper.SetDefault("recovery.window_hours", 24)
	viper.SetDefault("recovery.workers", 3)
	viper.SetDefault("recovery.queue_size", 500)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if sk := os.Getenv("STRIPE_SECRET_KEY"); sk != "" {
		GlobalConfig.Stripe.SecretKey = sk
	}
	if ws := os.Getenv("STRIPE_WEBHOOK_SECRET"); ws != "" {
		GlobalConfig.Stripe.WebhookSecret = ws
	}
	if tk := os.Getenv("TABBY_SECRET_KEY"); tk != "" {
		GlobalConfig.Tabby.SecretKey = tk
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
