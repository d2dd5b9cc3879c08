package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"haccp-core/common/config"
	"haccp-core/internal/consumer"
	"haccp-core/internal/domain"
	"haccp-core/internal/ncclient"
	"haccp-core/internal/risk"

	"gopkg.in/yaml.v3"
)

// Config HACCP 监控服务配置
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	// Risk 产品未配置风险参数时的默认值
	Risk RiskConfig `yaml:"risk"`

	NC    ncclient.Config      `yaml:"nc"`
	Probe consumer.ProbeConfig `yaml:"probe"`

	Streams struct {
		Notifications string `yaml:"notifications"`
		Audit         string `yaml:"audit"`
		MaxLen        int64  `yaml:"max_len"`
	} `yaml:"streams"`

	Monitor struct {
		// OverdueScanInterval 逾期计划扫描周期
		OverdueScanInterval time.Duration `yaml:"overdue_scan_interval"`
		MetricsAddr         string        `yaml:"metrics_addr"`
	} `yaml:"monitor"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// RiskConfig 默认风险参数
type RiskConfig struct {
	Method          string `yaml:"method"`
	LikelihoodScale int    `yaml:"likelihood_scale"`
	SeverityScale   int    `yaml:"severity_scale"`
	Low             int    `yaml:"low"`
	Medium          int    `yaml:"medium"`
	High            int    `yaml:"high"`
}

// ToRisk 转成计算器配置
func (r RiskConfig) ToRisk() risk.Config {
	return risk.Config{
		Method:          domain.RiskCalculationMethod(r.Method),
		LikelihoodScale: r.LikelihoodScale,
		SeverityScale:   r.SeverityScale,
		Low:             r.Low,
		Medium:          r.Medium,
		High:            r.High,
	}
}

// Load 加载配置：默认值，HACCP_CONFIG_FILE 指定的 YAML，最后是环境变量
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("HACCP_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Risk.Method = getEnv("RISK_METHOD", cfg.Risk.Method)
	cfg.Risk.Low = getEnvInt("RISK_LOW_THRESHOLD", cfg.Risk.Low)
	cfg.Risk.Medium = getEnvInt("RISK_MEDIUM_THRESHOLD", cfg.Risk.Medium)
	cfg.Risk.High = getEnvInt("RISK_HIGH_THRESHOLD", cfg.Risk.High)

	cfg.NC.BaseURL = getEnv("NC_BASE_URL", cfg.NC.BaseURL)
	cfg.NC.Token = getEnv("NC_TOKEN", cfg.NC.Token)

	cfg.Probe.Topic = getEnv("PROBE_TOPIC", cfg.Probe.Topic)
	cfg.Probe.ServiceUserID = getEnv("PROBE_SERVICE_USER_ID", cfg.Probe.ServiceUserID)

	cfg.Streams.Notifications = getEnv("NOTIFICATION_STREAM", cfg.Streams.Notifications)
	cfg.Streams.Audit = getEnv("AUDIT_STREAM", cfg.Streams.Audit)

	cfg.Monitor.MetricsAddr = getEnv("METRICS_ADDR", cfg.Monitor.MetricsAddr)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Risk.ToRisk().Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk defaults: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "haccp"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "haccp-monitor"
	cfg.MQTT.QoS = 1

	d := risk.DefaultConfig
	cfg.Risk = RiskConfig{
		Method:          string(d.Method),
		LikelihoodScale: d.LikelihoodScale,
		SeverityScale:   d.SeverityScale,
		Low:             d.Low,
		Medium:          d.Medium,
		High:            d.High,
	}

	cfg.NC.BaseURL = "http://localhost:8080"
	cfg.NC.Timeout = 10 * time.Second
	cfg.NC.RetryCount = 3
	cfg.NC.RetryWaitTime = 500 * time.Millisecond

	cfg.Probe.Topic = "haccp/probe/+/reading"
	cfg.Probe.ServiceUserID = "probe-gateway"
	cfg.Probe.Timeout = 10 * time.Second

	cfg.Streams.Notifications = "haccp:notifications"
	cfg.Streams.Audit = "haccp:audit"
	cfg.Streams.MaxLen = 10000

	cfg.Monitor.OverdueScanInterval = time.Minute
	cfg.Monitor.MetricsAddr = ":9102"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
