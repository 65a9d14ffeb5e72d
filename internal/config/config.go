package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates every setting of the broker process.
type Config struct {
	Server  ServerConfig
	Broker  BrokerConfig
	Gateway GatewayConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	broker, err := loadBrokerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Broker:  broker,
		Gateway: loadGatewayConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// BrokerConfig describes the session lifecycle policy and the credential
// scratch area.
type BrokerConfig struct {
	DataDir                   string
	MaxSessionAge             time.Duration
	SweepInterval             time.Duration
	AdapterSettleDelay        time.Duration
	CodeWaitWindow            time.Duration
	PostConnectTeardownDelay  time.Duration
	PostRetrievalCleanupDelay time.Duration
}

func loadBrokerConfig() (BrokerConfig, error) {
	cfg := BrokerConfig{
		DataDir:                   getEnvOrDefault("BROKER_DATA_DIR", "sessions"),
		MaxSessionAge:             5 * time.Minute,
		SweepInterval:             time.Minute,
		AdapterSettleDelay:        2 * time.Second,
		CodeWaitWindow:            3 * time.Second,
		PostConnectTeardownDelay:  2 * time.Second,
		PostRetrievalCleanupDelay: 5 * time.Second,
	}

	overrides := []struct {
		key string
		dst *time.Duration
	}{
		{"BROKER_MAX_SESSION_AGE", &cfg.MaxSessionAge},
		{"BROKER_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"BROKER_SETTLE_DELAY", &cfg.AdapterSettleDelay},
		{"BROKER_CODE_WAIT_WINDOW", &cfg.CodeWaitWindow},
		{"BROKER_TEARDOWN_DELAY", &cfg.PostConnectTeardownDelay},
		{"BROKER_CLEANUP_DELAY", &cfg.PostRetrievalCleanupDelay},
	}
	for _, o := range overrides {
		val, err := parseOptionalDurationEnv(o.key)
		if err != nil {
			return BrokerConfig{}, err
		}
		if val != nil {
			*o.dst = *val
		}
	}

	return cfg, nil
}

// GatewayConfig describes the upstream pairing gateway connection.
type GatewayConfig struct {
	URL string
}

func loadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		URL: getEnvOrDefault("GATEWAY_URL", "wss://gateway.nexlink.dev/pair"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val <= 0 {
		return nil, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return &val, nil
}
