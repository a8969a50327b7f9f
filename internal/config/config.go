// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendEtcd   = "etcd"
)

// Config holds all configuration for the dispatch daemon.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	StoreBackend      string        `mapstructure:"store_backend" validate:"oneof=memory etcd"`
	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints" validate:"required_if=StoreBackend etcd,dive,required"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	HttpListenAddr    string        `mapstructure:"http_listen_addr" validate:"required"`
	GrpcListenAddr    string        `mapstructure:"grpc_listen_addr" validate:"required"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1000000000"`
	LogLevel          string        `mapstructure:"log_level" validate:"oneof=debug info warn warning error critical"`
	LogFormat         string        `mapstructure:"log_format" validate:"oneof=json text"`
	SlowTaskThreshold time.Duration `mapstructure:"slow_task_threshold" validate:"gt=0"`
	ServiceName       string        `mapstructure:"service_name" validate:"required"`
	// NodeID identifies this process in elections and history; empty means generate one.
	NodeID string `mapstructure:"node_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", ":50051")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("slow_task_threshold", "1s")
	v.SetDefault("service_name", "timed-dispatch")
	v.SetDefault("node_id", "")
}

// Load reads config.yaml from the given directories (./configs and . when none
// are given), then environment variables, over the defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// defaults and env vars are enough
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
