// Package config loads and validates the bridge configuration.
//
// Configuration is read from a JSON file, then overridden by PHASE_*
// environment variables. The broker password and the shared secret token are
// never logged; use Redacted for anything that ends up in a log line.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultPort is the default AMQP broker port.
	DefaultPort = 5672
	// DefaultVHost is the default broker virtual host.
	DefaultVHost = "/"
	// DefaultSubExchange is the fanout exchange this instance consumes from.
	DefaultSubExchange = "phase_out"
	// DefaultPubExchange is the fanout exchange this instance publishes to.
	DefaultPubExchange = "phase_in"
	// DefaultHealthHost binds the health endpoints to loopback only.
	DefaultHealthHost = "127.0.0.1"
	// DefaultHealthPort is where /health and /ready are served.
	DefaultHealthPort = 8787
)

// Config captures all runtime tunables for a bridge instance.
type Config struct {
	Broker BrokerConfig `json:"broker"`
	Health HealthConfig `json:"health"`
	// OriginServer names this instance in relayed chat lines.
	OriginServer string `json:"origin_server" env:"ORIGIN_SERVER"`
}

// BrokerConfig holds broker credentials and exchange names.
type BrokerConfig struct {
	Username    string `json:"username" env:"BROKER_USERNAME"`
	Password    string `json:"password" env:"BROKER_PASSWORD"`
	Host        string `json:"host" env:"BROKER_HOST"`
	Port        int    `json:"port" env:"BROKER_PORT"`
	VHost       string `json:"vhost" env:"BROKER_VHOST"`
	SubExchange string `json:"sub_exchange" env:"SUB_EXCHANGE"` // inbound events/commands
	PubExchange string `json:"pub_exchange" env:"PUB_EXCHANGE"` // outbound events/responses
	Token       string `json:"token" env:"TOKEN"`               // shared secret, not cryptographic
}

// HealthConfig holds the health endpoint listen address.
type HealthConfig struct {
	Host string `json:"host" env:"HEALTH_HOST"`
	Port int    `json:"port" env:"HEALTH_PORT"`
}

// DefaultConfig returns a config with defaults applied and no credentials.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:        "localhost",
			Port:        DefaultPort,
			VHost:       DefaultVHost,
			SubExchange: DefaultSubExchange,
			PubExchange: DefaultPubExchange,
		},
		Health: HealthConfig{
			Host: DefaultHealthHost,
			Port: DefaultHealthPort,
		},
		OriginServer: "phase",
	}
}

// LoadConfig reads the JSON config at path, applies PHASE_* environment
// overrides, and validates the result. A missing file is not an error as long
// as the environment supplies the required values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "PHASE_"}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects all configuration problems and reports them together.
func (c *Config) Validate() error {
	var problems []string

	if c.Broker.Username == "" {
		problems = append(problems, "broker username is required")
	}
	if c.Broker.Host == "" {
		problems = append(problems, "broker host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		problems = append(problems, fmt.Sprintf("broker port %d out of range", c.Broker.Port))
	}
	if c.Broker.SubExchange == "" {
		problems = append(problems, "subscribe exchange name is required")
	}
	if c.Broker.PubExchange == "" {
		problems = append(problems, "publish exchange name is required")
	}
	if c.Broker.Token == "" {
		problems = append(problems, "shared secret token is required")
	}
	if c.OriginServer == "" {
		problems = append(problems, "origin server name is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AMQPURI builds the broker connection URI. The password is percent-encoded
// so credentials with reserved characters survive the round trip.
func (c *BrokerConfig) AMQPURI() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	return u.String()
}

// Redacted returns loggable connection details with secrets removed.
func (c *BrokerConfig) Redacted() map[string]any {
	return map[string]any{
		"username":     c.Username,
		"host":         c.Host,
		"port":         c.Port,
		"vhost":        c.VHost,
		"sub_exchange": c.SubExchange,
		"pub_exchange": c.PubExchange,
	}
}
