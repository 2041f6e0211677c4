// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mudproxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/mudproxy/pkg/negotiation"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by NewConfig.
const EnvPrefix = "MUDPROXY_"

var (
	errMissingHost    = errors.New("host name is required")
	errInvalidPort    = errors.New("port out of range")
	errInvalidFormat  = errors.New("log format must be json or text")
	errIncompleteCert = errors.New("both cert and key files are required for TLS")
)

// Config holds the proxy process configuration.
type Config struct {
	// Session
	ProxyPort    int    `env:"PROXY_PORT"    envDefault:"4000"`
	HostName     string `env:"HOST_NAME"`
	HostPort     int    `env:"HOST_PORT"`
	EnableMCCP   bool   `env:"ENABLE_MCCP"   envDefault:"false"`
	EnableMXP    bool   `env:"ENABLE_MXP"    envDefault:"false"`
	TerminalType string `env:"TERMINAL_TYPE" envDefault:"mudproxy"`
	AutoConnect  bool   `env:"AUTO_CONNECT"  envDefault:"false"`

	// Listeners, zero disables
	WSPort      int `env:"WS_PORT"      envDefault:"0"`
	MetricsPort int `env:"METRICS_PORT" envDefault:"0"`
	HealthPort  int `env:"HEALTH_PORT"  envDefault:"0"`

	// Client listener TLS
	CertFile string `env:"CERT_FILE"`
	KeyFile  string `env:"KEY_FILE"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Connections
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"30s"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT"       envDefault:"10s"`
	ReadBufferSize    int           `env:"READ_BUFFER_SIZE"   envDefault:"4096"`
	ClientQueueSize   int           `env:"CLIENT_QUEUE_SIZE"  envDefault:"256"`
	MaxSubnegotiation int           `env:"MAX_SUBNEGOTIATION" envDefault:"65536"`

	// Accept rate limiting per remote IP, zero capacity disables
	AcceptRateCapacity int64 `env:"ACCEPT_RATE_CAPACITY" envDefault:"0"`
	AcceptRateRefill   int64 `env:"ACCEPT_RATE_REFILL"   envDefault:"1"`

	// Event publishing, empty address disables
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"      envDefault:"0"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"mudproxy.events"`
}

// NewConfig parses the configuration from the environment. An empty
// opts.Prefix selects EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings needed to run. It is separate from NewConfig
// so that command line flags can fill in what the environment left out.
func (c Config) Validate() error {
	var errs []error
	if c.HostName == "" {
		errs = append(errs, errMissingHost)
	}
	ports := []struct {
		name     string
		port     int
		optional bool
	}{
		{"proxy port", c.ProxyPort, false},
		{"host port", c.HostPort, false},
		{"websocket port", c.WSPort, true},
		{"metrics port", c.MetricsPort, true},
		{"health port", c.HealthPort, true},
	}
	for _, p := range ports {
		if p.optional && p.port == 0 {
			continue
		}
		if p.port < 1 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d: %w", p.name, p.port, errInvalidPort))
		}
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, errInvalidFormat)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errIncompleteCert)
	}
	return errors.Join(errs...)
}

// Negotiation returns the options used to answer Telnet negotiation.
func (c Config) Negotiation() negotiation.Config {
	return negotiation.Config{
		EnableCompression: c.EnableMCCP,
		EnableMXP:         c.EnableMXP,
		TerminalType:      c.TerminalType,
	}
}

// TLSConfig loads the client listener certificate. It returns nil when TLS
// is not configured.
func (c Config) TLSConfig() (*tls.Config, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
