// Package config loads the exchange process configuration. Sources apply in
// order of increasing precedence: built-in defaults, the optional YAML file,
// command line flags given explicitly, EXCHANGO_* environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EXCHANGO"

// Result publishers
const (
	PublisherKafkaGo = "kafka-go"
	PublisherSarama  = "sarama"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		GRPCAddr  string `yaml:"grpc_addr"`
		HTTPAddr  string `yaml:"http_addr"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"server"`

	Exchange struct {
		Brokers           []string      `yaml:"brokers"`
		Workers           int           `yaml:"workers"`
		MaxGap            int           `yaml:"max_gap"`
		StallWarnInterval time.Duration `yaml:"stall_warn_interval"`
	} `yaml:"exchange"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled     bool   `yaml:"enabled"`
		BrokerAddr  string `yaml:"broker_addr"`
		InputTopic  string `yaml:"input_topic"`
		ResultTopic string `yaml:"result_topic"`
		Publisher   string `yaml:"publisher"`
	} `yaml:"kafka"`

	OTel struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"otel"`
}

// Command line flags
var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	grpcPort   = flag.Int("grpc_port", 50051, "The gRPC health server port")
	httpPort   = flag.Int("http_port", 8080, "The HTTP server port")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "console", "Log format: json, console")
	brokers    = flag.String("brokers", "", "Comma separated broker feeds")
	workers    = flag.Int("workers", 0, "Worker pool size (default: number of CPUs)")
)

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Server.GRPCAddr = ":50051"
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.LogLevel = "info"
	cfg.Server.LogFormat = "console"
	cfg.Exchange.Workers = runtime.NumCPU()
	cfg.Exchange.MaxGap = 100000
	cfg.Exchange.StallWarnInterval = 5 * time.Second
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Prefix = "exchango"
	cfg.Kafka.BrokerAddr = "localhost:9092"
	cfg.Kafka.InputTopic = "exchango-events"
	cfg.Kafka.ResultTopic = "exchango-results"
	cfg.Kafka.Publisher = PublisherKafkaGo
	cfg.OTel.Endpoint = "localhost:4317"
	return cfg
}

// LoadConfig loads the configuration from command line flags and optionally from a config file.
// Flags left at their defaults do not override the file.
func LoadConfig() (*Config, error) {
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	return load(Default(), *configFile, func(cfg *Config) { applyFlags(cfg, set) })
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(Default(), path, nil)
}

// load layers the file, then overrides (if any), then the environment onto cfg
func load(cfg *Config, path string, overrides func(*Config)) (*Config, error) {
	if path != "" {
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Info().Str("path", path).Msg("Loaded configuration file")
	}

	if overrides != nil {
		overrides(cfg)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies the flags named in set onto cfg
func applyFlags(cfg *Config, set map[string]bool) {
	if set["grpc_port"] {
		cfg.Server.GRPCAddr = fmt.Sprintf(":%d", *grpcPort)
	}
	if set["http_port"] {
		cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
	}
	if set["log_level"] {
		cfg.Server.LogLevel = *logLevel
	}
	if set["log_format"] {
		cfg.Server.LogFormat = *logFormat
	}
	if set["brokers"] {
		cfg.Exchange.Brokers = splitList(*brokers)
	}
	if set["workers"] && *workers > 0 {
		cfg.Exchange.Workers = *workers
	}
}

func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("grpc_addr", &cfg.Server.GRPCAddr)
	setString("http_addr", &cfg.Server.HTTPAddr)
	setString("log_level", &cfg.Server.LogLevel)
	setString("log_format", &cfg.Server.LogFormat)

	if v.IsSet("brokers") {
		cfg.Exchange.Brokers = splitList(v.GetString("brokers"))
	}
	setInt("workers", &cfg.Exchange.Workers)
	setInt("max_gap", &cfg.Exchange.MaxGap)
	if v.IsSet("stall_warn_interval") {
		d, err := time.ParseDuration(v.GetString("stall_warn_interval"))
		if err != nil {
			return fmt.Errorf("invalid %s_STALL_WARN_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Exchange.StallWarnInterval = d
	}

	setBool("redis_enabled", &cfg.Redis.Enabled)
	setString("redis_addr", &cfg.Redis.Addr)
	setString("redis_password", &cfg.Redis.Password)
	setInt("redis_db", &cfg.Redis.DB)
	setString("redis_prefix", &cfg.Redis.Prefix)

	setBool("kafka_enabled", &cfg.Kafka.Enabled)
	setString("kafka_broker_addr", &cfg.Kafka.BrokerAddr)
	setString("kafka_input_topic", &cfg.Kafka.InputTopic)
	setString("kafka_result_topic", &cfg.Kafka.ResultTopic)
	setString("kafka_publisher", &cfg.Kafka.Publisher)

	setBool("otel_enabled", &cfg.OTel.Enabled)
	setString("otel_endpoint", &cfg.OTel.Endpoint)
	return nil
}

// Validate checks values the exchange cannot run without
func (c *Config) Validate() error {
	var errs []error
	if len(c.Exchange.Brokers) == 0 {
		errs = append(errs, errors.New("exchange.brokers must not be empty"))
	}
	seen := make(map[string]bool, len(c.Exchange.Brokers))
	for _, b := range c.Exchange.Brokers {
		if seen[b] {
			errs = append(errs, fmt.Errorf("exchange.brokers lists %q twice", b))
		}
		seen[b] = true
	}
	if c.Exchange.Workers <= 0 {
		errs = append(errs, errors.New("exchange.workers must be positive"))
	}
	if c.Exchange.MaxGap < 0 {
		errs = append(errs, errors.New("exchange.max_gap must not be negative"))
	}
	if c.Kafka.Publisher != PublisherKafkaGo && c.Kafka.Publisher != PublisherSarama {
		errs = append(errs, fmt.Errorf("kafka.publisher must be %q or %q", PublisherKafkaGo, PublisherSarama))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
