package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/pkg/helper"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// CoordinatorConfig represents the coordinator configuration
	CoordinatorConfig struct {
		PID      string         `yaml:"pid" toml:"pid"`
		Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
		Store    StoreConfig    `yaml:"store" toml:"store"`
		Auth     AuthConfig     `yaml:"auth" toml:"auth"`
		Logger   LoggerConfig   `yaml:"logger" toml:"logger"`
		Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
		Presence PresenceConfig `yaml:"presence" toml:"presence"`
		Tracing  TracingConfig  `yaml:"tracing" toml:"tracing"`
	}

	// GatewayConfig represents the client-facing listener configuration
	GatewayConfig struct {
		Addr               string             `yaml:"addr" toml:"addr"`
		TLS                TLSConfig          `yaml:"tls" toml:"tls"`
		Handshake          cnst.HandshakeMode `yaml:"handshake" toml:"handshake"`                       // single or split
		SessionIDByteOrder ByteOrder          `yaml:"session_id_byte_order" toml:"session_id_byte_order"` // big or little
		StoreWaitTimeout   time.Duration      `yaml:"store_wait_timeout" toml:"store_wait_timeout"`     // how long a client waits for the store link, 0 rejects at once
		ReadBufferSize     int                `yaml:"read_buffer_size" toml:"read_buffer_size"`
		WriteBufferSize    int                `yaml:"write_buffer_size" toml:"write_buffer_size"`
		AllowedOrigins     []string           `yaml:"allowed_origins" toml:"allowed_origins"` // empty allows every origin
	}

	// TLSConfig holds certificate material loaded once at startup
	TLSConfig struct {
		CertFile string `yaml:"cert_file" toml:"cert_file"`
		KeyFile  string `yaml:"key_file" toml:"key_file"`
	}

	// StoreConfig represents the store link listener configuration
	StoreConfig struct {
		Addr               string             `yaml:"addr" toml:"addr"`
		SessionIDByteOrder ByteOrder          `yaml:"session_id_byte_order" toml:"session_id_byte_order"`
		InboundFormat      cnst.InboundFormat `yaml:"inbound_format" toml:"inbound_format"` // implicit or typed
		MaxFrameSize       int                `yaml:"max_frame_size" toml:"max_frame_size"` // 0 means unlimited
		ReadBufferSize     int                `yaml:"read_buffer_size" toml:"read_buffer_size"`
	}

	// AuthConfig defines how client credentials are verified and issued
	AuthConfig struct {
		Mode      cnst.AuthMode `yaml:"mode" toml:"mode"` // unsigned or jwt
		Delimiter string        `yaml:"delimiter" toml:"delimiter"`
		JWT       JWTConfig     `yaml:"jwt" toml:"jwt"`
	}

	// JWTConfig holds the shared secret for the jwt auth mode
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key" toml:"secret_key"`
		Duration  time.Duration `yaml:"duration" toml:"duration"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`       // whether to compress backup files
		Color      bool   `yaml:"color" toml:"color"`             // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`   // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`     // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format" toml:"time_format"` // default is "2006-01-02 15:04:05"
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Path      string    `yaml:"path" toml:"path"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}

	// PresenceConfig represents the presence mirror configuration
	PresenceConfig struct {
		Type  cnst.PresenceType   `yaml:"type" toml:"type"` // none or redis
		Redis PresenceRedisConfig `yaml:"redis" toml:"redis"`
	}

	// PresenceRedisConfig represents the Redis connection used by the presence mirror
	PresenceRedisConfig struct {
		Addr     string        `yaml:"addr" toml:"addr"`
		Username string        `yaml:"username" toml:"username"`
		Password string        `yaml:"password" toml:"password"`
		DB       int           `yaml:"db" toml:"db"`
		Prefix   string        `yaml:"prefix" toml:"prefix"`
		Topic    string        `yaml:"topic" toml:"topic"`
		TTL      time.Duration `yaml:"ttl" toml:"ttl"`
		Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
	}

	// TracingConfig represents OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled" toml:"enabled"`
		ServiceName string            `yaml:"service_name" toml:"service_name"`
		Endpoint    string            `yaml:"endpoint" toml:"endpoint"` // e.g. localhost:4317 or http://localhost:4318
		Protocol    string            `yaml:"protocol" toml:"protocol"` // grpc or http
		Insecure    bool              `yaml:"insecure" toml:"insecure"`
		SamplerRate float64           `yaml:"sampler_rate" toml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment" toml:"environment"`
		Headers     map[string]string `yaml:"headers" toml:"headers"`
	}
)

// ByteOrder names the byte order of a u64 session id on one transport
type ByteOrder string

const (
	BigEndian    ByteOrder = "big"
	LittleEndian ByteOrder = "little"
)

// Order returns the encoding/binary order, big-endian unless set to little
func (o ByteOrder) Order() binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// LoadConfig loads configuration from a YAML or TOML file with environment variable support
func LoadConfig(filename string) (*CoordinatorConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(data, filepath.Ext(cfgPath))
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes raw configuration content. ext selects the decoder, ".toml" for TOML and
// anything else for YAML.
func Parse(data []byte, ext string) (*CoordinatorConfig, error) {
	// Resolve environment variables
	data = resolveEnv(data)

	var cfg CoordinatorConfig
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every unset field with its default
func (c *CoordinatorConfig) SetDefaults() {
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":443"
	}
	if c.Gateway.Handshake == "" {
		c.Gateway.Handshake = cnst.HandshakeSingle
	}
	if c.Gateway.SessionIDByteOrder == "" {
		c.Gateway.SessionIDByteOrder = BigEndian
	}
	if c.Gateway.ReadBufferSize == 0 {
		c.Gateway.ReadBufferSize = 4096
	}
	if c.Gateway.WriteBufferSize == 0 {
		c.Gateway.WriteBufferSize = 4096
	}

	if c.Store.Addr == "" {
		c.Store.Addr = ":7147"
	}
	if c.Store.SessionIDByteOrder == "" {
		c.Store.SessionIDByteOrder = BigEndian
	}
	if c.Store.InboundFormat == "" {
		c.Store.InboundFormat = cnst.InboundImplicit
	}
	if c.Store.ReadBufferSize == 0 {
		c.Store.ReadBufferSize = 32 * 1024
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = cnst.AuthModeUnsigned
	}
	if c.Auth.Delimiter == "" {
		c.Auth.Delimiter = "."
	}
	if c.Auth.JWT.Duration == 0 {
		c.Auth.JWT.Duration = 24 * time.Hour
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "coordinator"
	}
	if len(c.Metrics.Buckets) == 0 {
		c.Metrics.Buckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	}

	if c.Presence.Type == "" {
		c.Presence.Type = cnst.PresenceNone
	}
	if c.Presence.Redis.Prefix == "" {
		c.Presence.Redis.Prefix = "coordinator"
	}
	if c.Presence.Redis.Topic == "" {
		c.Presence.Redis.Topic = "coordinator:presence"
	}
	if c.Presence.Redis.TTL == 0 {
		c.Presence.Redis.TTL = time.Hour
	}
	if c.Presence.Redis.Timeout == 0 {
		c.Presence.Redis.Timeout = time.Second
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = cnst.AppName
	}
}

// resolveEnv replaces environment variable placeholders in config content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
