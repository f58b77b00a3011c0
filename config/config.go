package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Basket   BasketConfig   `yaml:"basket"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	StatusUpdatedTopicName   string `yaml:"status_updated_topic_name"`
	CourierPositionTopicName string `yaml:"courier_position_topic_name"`
}

func (k KafkaConfig) Broker() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type BasketConfig struct {
	HTTPAddr           string   `yaml:"http_addr"`
	AuthSecret         string   `yaml:"auth_secret"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	SnapshotTTLSeconds       int `yaml:"snapshot_ttl_seconds"`
	RatingRateLimitPerMinute int `yaml:"rating_rate_limit_per_minute"`

	// Настройки order-watch.
	APIBaseURL               string `yaml:"api_base_url"`
	WatchPollIntervalSeconds int    `yaml:"watch_poll_interval_seconds"`
	WatchFetchTimeoutSeconds int    `yaml:"watch_fetch_timeout_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
