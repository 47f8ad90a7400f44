package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Upload    UploadConfig
	AI        AIConfig
	Broker    BrokerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	PublicBaseURL   string                `mapstructure:"publicBaseUrl"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIp"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	SendQueueSize int           `mapstructure:"sendQueueSize"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTtl"`
}

type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

type UploadConfig struct {
	Dir         string `mapstructure:"dir"`
	TempDir     string `mapstructure:"tempDir"`
	MaxFileSize int64  `mapstructure:"maxFileSize"`
}

type AIConfig struct {
	APIKey  string        `mapstructure:"apiKey"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
}

type BrokerConfig struct {
	// RedisAddr switches the pubsub broker from in-process to Redis when set.
	RedisAddr string `mapstructure:"redisAddr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
