package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys may only come from the environment.
var secretKeys = []string{
	"hmac_secret",
	"api_key",
	"server.hmac_secret",
	"client.api_key",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned struct.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.timeout", d.Client.Timeout.String())
	v.SetDefault("validator.debounce", d.Validator.Debounce.String())
	v.SetDefault("rules.admit_stale_values", false)
	v.SetDefault("catalog.path", "")

	// MK_SERVER_PORT, MK_VALIDATOR_DEBOUNCE, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// InConfig looks at file keys only, so env secrets pass
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MaxBodyBytes:   v.GetInt64("server.max_body_bytes"),
			DataDir:        v.GetString("server.data_dir"),
		},
		Client: ClientConfig{
			BaseURL: v.GetString("client.base_url"),
			Timeout: v.GetDuration("client.timeout"),
		},
		Validator: ValidatorConfig{Debounce: v.GetDuration("validator.debounce")},
		Rules:     RulesConfig{AdmitStaleValues: v.GetBool("rules.admit_stale_values")},
		Catalog:   CatalogConfig{Path: v.GetString("catalog.path")},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks port ranges and positive durations.
func Validate(cfg *Config) error {
	for name, port := range map[string]int{"server.port": cfg.Server.Port, "server.grpc_port": cfg.Server.GRPCPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if cfg.Server.Port == cfg.Server.GRPCPort {
		return fmt.Errorf("server.port and server.grpc_port must differ, both are %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive, got %v", cfg.Client.Timeout)
	}
	if cfg.Validator.Debounce < 0 {
		return fmt.Errorf("validator.debounce must not be negative, got %v", cfg.Validator.Debounce)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files: %s (use %s_HMAC_SECRET / %s_API_KEY environment variables)", key, EnvPrefix, EnvPrefix)
		}
	}
	return nil
}
