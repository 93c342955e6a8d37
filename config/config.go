package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"godiscover/pkg/discover"
)

// Config represents the application configuration
type Config struct {
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DiscoveryConfig mirrors the instance option surface. Intervals and
// timeouts are milliseconds.
type DiscoveryConfig struct {
	HelloInterval   int      `mapstructure:"hello_interval"`
	CheckInterval   int      `mapstructure:"check_interval"`
	NodeTimeout     int      `mapstructure:"node_timeout"`
	MasterTimeout   int      `mapstructure:"master_timeout"`
	Address         string   `mapstructure:"address"`
	Port            int      `mapstructure:"port"`
	Broadcast       string   `mapstructure:"broadcast"`
	Multicast       string   `mapstructure:"multicast"`
	MulticastTTL    int      `mapstructure:"multicast_ttl"`
	Unicast         string   `mapstructure:"unicast"`
	Key             string   `mapstructure:"key"`
	MastersRequired int      `mapstructure:"masters_required"`
	Weight          *float64 `mapstructure:"weight"`
	Client          bool     `mapstructure:"client"`
	ReuseAddr       bool     `mapstructure:"reuse_addr"`
	IgnoreProcess   bool     `mapstructure:"ignore_process"`
	IgnoreInstance  bool     `mapstructure:"ignore_instance"`
	Hostname        string   `mapstructure:"hostname"`
	Advertisement   string   `mapstructure:"advertisement"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/godiscover")
	}

	// Set defaults
	setDefaults()

	// Read environment variables
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DISCO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("discovery.hello_interval", 1000)
	viper.SetDefault("discovery.check_interval", 2000)
	viper.SetDefault("discovery.node_timeout", 2000)
	viper.SetDefault("discovery.master_timeout", 2000)
	viper.SetDefault("discovery.address", "0.0.0.0")
	viper.SetDefault("discovery.port", 12345)
	viper.SetDefault("discovery.broadcast", "255.255.255.255")
	viper.SetDefault("discovery.multicast", "")
	viper.SetDefault("discovery.multicast_ttl", 1)
	viper.SetDefault("discovery.unicast", "")
	viper.SetDefault("discovery.key", "")
	viper.SetDefault("discovery.masters_required", 1)
	viper.SetDefault("discovery.client", false)
	viper.SetDefault("discovery.reuse_addr", true)
	viper.SetDefault("discovery.ignore_process", true)
	viper.SetDefault("discovery.ignore_instance", true)
	viper.SetDefault("discovery.hostname", "")
	viper.SetDefault("discovery.advertisement", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", ":9390")
	viper.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration invariants shared with the instance.
func Validate(config *Config) error {
	dc := config.Discovery
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("discovery.port must be between 1 and 65535")
	}
	if dc.MulticastTTL < 0 || dc.MulticastTTL > 255 {
		return fmt.Errorf("discovery.multicast_ttl must be between 0 and 255")
	}
	if dc.CheckInterval > dc.NodeTimeout {
		return fmt.Errorf("discovery.check_interval must not exceed discovery.node_timeout")
	}
	if dc.NodeTimeout > dc.MasterTimeout {
		return fmt.Errorf("discovery.node_timeout must not exceed discovery.master_timeout")
	}
	return nil
}

// Warnings reports configurations that are legal but almost certainly not
// what the operator wanted.
func (c *Config) Warnings() []string {
	var out []string
	if c.Discovery.MastersRequired == 0 {
		out = append(out, "discovery.masters_required is 0: no instance will ever promote itself")
	}
	if c.Discovery.NodeTimeout < 1000 {
		out = append(out, "discovery.node_timeout below 1000ms rounds to zero seconds on the expiry comparison")
	}
	return out
}

// ApplyTo routes every configured value to the instance option surface.
func (c *Config) ApplyTo(d *discover.Instance) error {
	dc := c.Discovery

	if err := applyIntervals(d, dc.CheckInterval, dc.NodeTimeout, dc.MasterTimeout); err != nil {
		return err
	}
	if err := d.SetOption("helloInterval", dc.HelloInterval); err != nil {
		return err
	}
	if err := d.SetOption("address", dc.Address); err != nil {
		return err
	}
	if err := d.SetOption("port", dc.Port); err != nil {
		return err
	}
	if err := d.SetOption("broadcast", dc.Broadcast); err != nil {
		return err
	}
	if dc.Multicast != "" {
		if err := d.SetOption("multicast", dc.Multicast); err != nil {
			return err
		}
		if err := d.SetOption("multicastTTL", dc.MulticastTTL); err != nil {
			return err
		}
	}
	if dc.Unicast != "" {
		if err := d.SetOption("unicast", dc.Unicast); err != nil {
			return err
		}
	}
	if dc.Key != "" {
		if err := d.SetOption("key", dc.Key); err != nil {
			return err
		}
	}
	if err := d.SetOption("mastersRequired", dc.MastersRequired); err != nil {
		return err
	}
	if dc.Weight != nil {
		if err := d.SetOption("weight", *dc.Weight); err != nil {
			return err
		}
	}
	if err := d.SetOption("client", dc.Client); err != nil {
		return err
	}
	if err := d.SetOption("reuseAddr", dc.ReuseAddr); err != nil {
		return err
	}
	if err := d.SetOption("ignoreProcess", dc.IgnoreProcess); err != nil {
		return err
	}
	if err := d.SetOption("ignoreInstance", dc.IgnoreInstance); err != nil {
		return err
	}
	if dc.Hostname != "" {
		if err := d.SetOption("hostname", dc.Hostname); err != nil {
			return err
		}
	}
	if dc.Advertisement != "" {
		if err := d.SetOption("advertisement", []byte(dc.Advertisement)); err != nil {
			return err
		}
	}
	return nil
}

// applyIntervals orders the three interval writes so no intermediate state
// violates checkInterval <= nodeTimeout <= masterTimeout.
func applyIntervals(d *discover.Instance, check, node, master int) error {
	cur, _ := d.Option("nodeTimeout")
	curNode, _ := cur.(int)
	if err := d.SetOption("masterTimeout", maxInt(master, curNode)); err != nil {
		return err
	}
	if err := d.SetOption("nodeTimeout", node); err != nil {
		// The new nodeTimeout sits below the current checkInterval; settle
		// the checkInterval first and retry.
		if err := d.SetOption("checkInterval", check); err != nil {
			return err
		}
		if err := d.SetOption("nodeTimeout", node); err != nil {
			return err
		}
	}
	if err := d.SetOption("masterTimeout", master); err != nil {
		return err
	}
	return d.SetOption("checkInterval", check)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
