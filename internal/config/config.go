package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	ISE    ISEConfig
	Batch  BatchConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ise, err := loadISEConfig()
	if err != nil {
		return nil, err
	}

	batch, err := loadBatchConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, ISE: ise, Batch: batch, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ISEConfig 描述讯飞语音评测相关配置
type ISEConfig struct {
	AppID            string
	APIKey           string
	APISecret        string
	HostURL          string
	FrameSize        int
	FrameInterval    time.Duration
	GracePeriod      time.Duration
	HandshakeTimeout time.Duration
	Group            string
	AudioEncoding    string
	Enabled          bool
}

// Model 转换为评测服务使用的配置
func (c ISEConfig) Model() model.Config {
	return model.Config{
		Credentials: model.Credentials{
			AppID:     c.AppID,
			APIKey:    c.APIKey,
			APISecret: c.APISecret,
		},
		HostURL:          c.HostURL,
		FrameSize:        c.FrameSize,
		FrameInterval:    c.FrameInterval,
		GracePeriod:      c.GracePeriod,
		HandshakeTimeout: c.HandshakeTimeout,
		Group:            c.Group,
		AudioEncoding:    c.AudioEncoding,
	}.WithDefaults()
}

func loadISEConfig() (ISEConfig, error) {
	frameSize, err := parseIntEnv("ISE_FRAME_SIZE", model.DefaultFrameSize)
	if err != nil {
		return ISEConfig{}, err
	}
	if frameSize <= 0 {
		return ISEConfig{}, fmt.Errorf("invalid ISE_FRAME_SIZE value %d: must be positive", frameSize)
	}

	intervalMs, err := parseIntEnv("ISE_FRAME_INTERVAL_MS", int(model.DefaultFrameInterval/time.Millisecond))
	if err != nil {
		return ISEConfig{}, err
	}

	graceSeconds, err := parseIntEnv("ISE_GRACE_SECONDS", int(model.DefaultGracePeriod/time.Second))
	if err != nil {
		return ISEConfig{}, err
	}

	handshakeSeconds, err := parseIntEnv("ISE_HANDSHAKE_TIMEOUT_SECONDS", int(model.DefaultHandshakeTimeout/time.Second))
	if err != nil {
		return ISEConfig{}, err
	}

	encoding := strings.ToLower(getEnvOrDefault("ISE_AUDIO_ENCODING", model.DefaultAudioEncoding))
	if encoding != "lame" && encoding != "raw" {
		return ISEConfig{}, fmt.Errorf("invalid ISE_AUDIO_ENCODING value %q: expected lame or raw", encoding)
	}

	appID := strings.TrimSpace(os.Getenv("ISE_APP_ID"))
	apiKey := strings.TrimSpace(os.Getenv("ISE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("ISE_API_SECRET"))

	return ISEConfig{
		AppID:            appID,
		APIKey:           apiKey,
		APISecret:        apiSecret,
		HostURL:          getEnvOrDefault("ISE_HOST_URL", model.DefaultHostURL),
		FrameSize:        frameSize,
		FrameInterval:    time.Duration(intervalMs) * time.Millisecond,
		GracePeriod:      time.Duration(graceSeconds) * time.Second,
		HandshakeTimeout: time.Duration(handshakeSeconds) * time.Second,
		Group:            getEnvOrDefault("ISE_GROUP", model.DefaultGroup),
		AudioEncoding:    encoding,
		Enabled:          appID != "" && apiKey != "" && apiSecret != "",
	}, nil
}

// BatchConfig 批量评测策略
type BatchConfig struct {
	Concurrency int
	Retries     int
	ItemDelay   time.Duration
}

func loadBatchConfig() (BatchConfig, error) {
	concurrency, err := parseIntEnv("BATCH_CONCURRENCY", 1)
	if err != nil {
		return BatchConfig{}, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	retries, err := parseIntEnv("BATCH_RETRIES", 0)
	if err != nil {
		return BatchConfig{}, err
	}

	delayMs, err := parseIntEnv("BATCH_ITEM_DELAY_MS", 1000)
	if err != nil {
		return BatchConfig{}, err
	}

	return BatchConfig{
		Concurrency: concurrency,
		Retries:     retries,
		ItemDelay:   time.Duration(delayMs) * time.Millisecond,
	}, nil
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

// SetupLogging 按配置初始化全局 logrus
func SetupLogging(cfg LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, fallback to info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
