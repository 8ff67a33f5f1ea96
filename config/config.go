// Package config loads the broker configuration. Values come from an
// optional YAML file with NETSEL_-prefixed environment overrides; every
// field has a default, so an empty config is a runnable broker.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the construction-time configuration surface. It is not
// runtime-reloadable.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Registry struct {
		ListenAddr        string        `mapstructure:"listen_addr"`
		PortRangeStart    int           `mapstructure:"port_range_start"`
		PortRangeEnd      int           `mapstructure:"port_range_end"`
		LeaseSeconds      int           `mapstructure:"lease_seconds"`
		ReadTimeout       time.Duration `mapstructure:"read_timeout"`
		RegistrationRate  float64       `mapstructure:"registration_rate"`
		RegistrationBurst int           `mapstructure:"registration_burst"`
	} `mapstructure:"registry"`

	Proxy struct {
		TCPListenAddr  string        `mapstructure:"tcp_listen_addr"`
		HTTPListenAddr string        `mapstructure:"http_listen_addr"`
		BackendHost    string        `mapstructure:"backend_host"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"proxy"`

	DNS struct {
		ListenAddr string `mapstructure:"listen_addr"`
		Domain     string `mapstructure:"domain"`
	} `mapstructure:"dns"`

	Admin struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"admin"`

	Network struct {
		Subnet    string `mapstructure:"subnet"`
		FirstHost string `mapstructure:"first_host"`
	} `mapstructure:"network"`

	Health struct {
		CheckInterval   time.Duration `mapstructure:"check_interval"`
		MaxHeartbeatAge time.Duration `mapstructure:"max_heartbeat_age"`
	} `mapstructure:"health"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("registry.listen_addr", "0.0.0.0:9000")
	v.SetDefault("registry.port_range_start", 9000)
	v.SetDefault("registry.port_range_end", 9999)
	v.SetDefault("registry.lease_seconds", 86400)
	v.SetDefault("registry.read_timeout", 5*time.Second)
	v.SetDefault("registry.registration_rate", 50.0)
	v.SetDefault("registry.registration_burst", 100)
	v.SetDefault("proxy.tcp_listen_addr", "0.0.0.0:8080")
	v.SetDefault("proxy.http_listen_addr", "0.0.0.0:8081")
	v.SetDefault("proxy.backend_host", "127.0.0.1")
	v.SetDefault("proxy.dial_timeout", 5*time.Second)
	v.SetDefault("dns.listen_addr", "127.0.0.1:5353")
	v.SetDefault("dns.domain", "netsel.local.")
	v.SetDefault("admin.listen_addr", "0.0.0.0:8082")
	v.SetDefault("network.subnet", "10.0.0.0/24")
	v.SetDefault("network.first_host", "10.0.0.100")
	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("health.max_heartbeat_age", 60*time.Second)
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults cannot fail validation.
		panic(err)
	}
	return cfg
}

// Load reads the configuration from path. An empty path skips the file and
// yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NETSEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Registry.PortRangeStart > c.Registry.PortRangeEnd {
		return fmt.Errorf("config: empty port range [%d, %d]",
			c.Registry.PortRangeStart, c.Registry.PortRangeEnd)
	}
	if _, _, err := net.ParseCIDR(c.Network.Subnet); err != nil {
		return fmt.Errorf("config: bad subnet %q: %w", c.Network.Subnet, err)
	}
	if net.ParseIP(c.Network.FirstHost) == nil {
		return fmt.Errorf("config: bad first host %q", c.Network.FirstHost)
	}
	if c.Health.MaxHeartbeatAge <= 0 {
		return fmt.Errorf("config: max heartbeat age must be positive")
	}
	if !strings.HasSuffix(c.DNS.Domain, ".") {
		c.DNS.Domain += "."
	}
	return nil
}
