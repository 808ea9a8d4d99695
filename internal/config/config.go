package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/imrishuroy/go-engagement-orderflow/internal/catalog"
)

// Store backends
const (
	StoreDynamoDB = "dynamodb"
	StoreBolt     = "bolt"
)

// Notification backends
const (
	NotifyNone  = "none"
	NotifySQS   = "sqs"
	NotifyKafka = "kafka"
)

// Config is the service configuration. Every key is read from the upper-cased environment
// variable of the same name (ORDERS_TABLE, GATEWAY_TIMEOUT, ...); CONFIG_FILE may point at a YAML
// file providing the same keys plus catalog_overrides.
type Config struct {
	RunLocal bool   `mapstructure:"run_local"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	StoreBackend    string `mapstructure:"store_backend"`
	BoltPath        string `mapstructure:"bolt_path"`
	OrdersTable     string `mapstructure:"orders_table"`
	ReferencesTable string `mapstructure:"references_table"`

	GatewayBaseURL        string        `mapstructure:"gateway_base_url"`
	GatewayConsumerKey    string        `mapstructure:"gateway_consumer_key"`
	GatewayConsumerSecret string        `mapstructure:"gateway_consumer_secret"`
	GatewayCallbackURL    string        `mapstructure:"gateway_callback_url"`
	GatewayNotificationID string        `mapstructure:"gateway_notification_id"`
	GatewayTimeout        time.Duration `mapstructure:"gateway_timeout"`

	SupplierBaseURL string        `mapstructure:"supplier_base_url"`
	SupplierAPIKey  string        `mapstructure:"supplier_api_key"`
	SupplierTimeout time.Duration `mapstructure:"supplier_timeout"`
	SupplierRPS     float64       `mapstructure:"supplier_rps"`

	PaymentTimeout         time.Duration `mapstructure:"payment_timeout"`
	PaymentGrace           time.Duration `mapstructure:"payment_grace"`
	MaxRegistrationRetries int           `mapstructure:"max_registration_retries"`
	MaxSupplierRetries     int           `mapstructure:"max_supplier_retries"`
	ClaimTTL               time.Duration `mapstructure:"claim_ttl"`
	RefreshInterval        time.Duration `mapstructure:"refresh_interval"`

	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatch       int           `mapstructure:"sweep_batch"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	SweepLeaseKey    string        `mapstructure:"sweep_lease_key"`

	NotifyBackend  string   `mapstructure:"notify_backend"`
	OrdersQueueURL string   `mapstructure:"orders_queue_url"`
	KafkaBrokers   []string `mapstructure:"kafka_brokers"`
	KafkaTopic     string   `mapstructure:"kafka_topic"`

	MetricsBackend   string `mapstructure:"metrics_backend"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	CatalogOverrides []catalog.Override `mapstructure:"catalog_overrides"`
}

var defaults = map[string]interface{}{
	"run_local":                false,
	"http_addr":                ":8080",
	"log_level":                "info",
	"store_backend":            StoreDynamoDB,
	"bolt_path":                "orders.db",
	"orders_table":             "",
	"references_table":         "",
	"gateway_base_url":         "",
	"gateway_consumer_key":     "",
	"gateway_consumer_secret":  "",
	"gateway_callback_url":     "",
	"gateway_notification_id":  "",
	"gateway_timeout":          "12s",
	"supplier_base_url":        "",
	"supplier_api_key":         "",
	"supplier_timeout":         "15s",
	"supplier_rps":             5.0,
	"payment_timeout":          "30m",
	"payment_grace":            "2m",
	"max_registration_retries": 3,
	"max_supplier_retries":     3,
	"claim_ttl":                "10m",
	"refresh_interval":         "15m",
	"sweep_interval":           "5m",
	"sweep_batch":              50,
	"sweep_concurrency":        8,
	"redis_addr":               "",
	"sweep_lease_key":          "engagement-orderflow:sweep",
	"notify_backend":           NotifyNone,
	"orders_queue_url":         "",
	"kafka_brokers":            []string{},
	"kafka_topic":              "order-status",
	"metrics_backend":          "none",
	"metrics_namespace":        "EngagementOrders",
}

// Load reads configuration from the environment and, when CONFIG_FILE is set, from that file.
// Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend selections and the keys they require.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreDynamoDB:
		if c.OrdersTable == "" || c.ReferencesTable == "" {
			return fmt.Errorf("config: ORDERS_TABLE and REFERENCES_TABLE are required for the dynamodb store")
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("config: BOLT_PATH is required for the bolt store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.NotifyBackend {
	case NotifyNone, "":
	case NotifySQS:
		if c.OrdersQueueURL == "" {
			return fmt.Errorf("config: ORDERS_QUEUE_URL is required for sqs notifications")
		}
	case NotifyKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("config: KAFKA_BROKERS is required for kafka notifications")
		}
	default:
		return fmt.Errorf("config: unknown NOTIFY_BACKEND %q", c.NotifyBackend)
	}

	switch c.MetricsBackend {
	case "none", "", "cloudwatch":
	default:
		return fmt.Errorf("config: unknown METRICS_BACKEND %q", c.MetricsBackend)
	}
	return nil
}

// splitList accepts both a YAML list and a comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
