package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = "none"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "V0.3"
)

const defaultCollectors = "domain_stats,qemu_proc"

type Config struct {
	ConfigFile            string
	NodeID                string
	Hostname              string
	LibvirtURI            string
	ProbeListenAddr       string
	MetricsListenAddr     string
	GuestIntervalSeconds  int
	GuestManagerInterval  time.Duration
	GuestCollectors       []string
	PlotDir               string
	PlotColumns           []string
	HealthInterval        time.Duration
	ReconnectInterval     time.Duration
	ShutdownTimeout       time.Duration
	StreamMode            StreamMode
	BackendGRPCAddr       string
	BackendWSURL          string
	BackendToken          string
	StreamBufferSize      int
	StreamSendTimeout     time.Duration
	AgentVersion          string
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	LogJSON               bool
	LogLevel              string
	GRPCGuestStreamMethod string
	WebSocketWriteTimeout time.Duration
	WebSocketPingInterval time.Duration
	MaxReconnectJitter    time.Duration
}

// Load builds the config from defaults, then the optional YAML file named by
// AURORA_CONFIG_FILE, then AURORA_* environment variables.
func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := defaults(hostname)
	if path := env("AURORA_CONFIG_FILE", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults(hostname string) Config {
	return Config{
		NodeID:                hostname,
		Hostname:              hostname,
		LibvirtURI:            "qemu+unix:///system",
		ProbeListenAddr:       "0.0.0.0:7443",
		MetricsListenAddr:     "",
		GuestIntervalSeconds:  5,
		GuestManagerInterval:  10 * time.Second,
		GuestCollectors:       splitList(defaultCollectors),
		HealthInterval:        10 * time.Second,
		ReconnectInterval:     4 * time.Second,
		ShutdownTimeout:       20 * time.Second,
		StreamMode:            StreamModeNone,
		BackendGRPCAddr:       "127.0.0.1:3001",
		BackendWSURL:          "ws://127.0.0.1:3001/ws/guests",
		StreamBufferSize:      1024,
		StreamSendTimeout:     10 * time.Second,
		AgentVersion:          HardcodedVersion,
		LogJSON:               true,
		LogLevel:              "info",
		GRPCGuestStreamMethod: "/aurora.guests.v1.GuestService/StreamGuestSamples",
		WebSocketWriteTimeout: 5 * time.Second,
		WebSocketPingInterval: 10 * time.Second,
		MaxReconnectJitter:    900 * time.Millisecond,
	}
}

func applyEnv(c *Config) {
	c.NodeID = env("AURORA_NODE_ID", c.NodeID)
	c.LibvirtURI = env("AURORA_LIBVIRT_URI", c.LibvirtURI)
	c.ProbeListenAddr = env("AURORA_AGENT_PROBE_ADDR", c.ProbeListenAddr)
	c.MetricsListenAddr = env("AURORA_METRICS_ADDR", c.MetricsListenAddr)
	c.GuestIntervalSeconds = envInt("AURORA_GUEST_INTERVAL", c.GuestIntervalSeconds)
	c.GuestManagerInterval = envDuration("AURORA_GUEST_MANAGER_INTERVAL", c.GuestManagerInterval)
	c.GuestCollectors = envList("AURORA_GUEST_COLLECTORS", c.GuestCollectors)
	c.PlotDir = env("AURORA_PLOT_DIR", c.PlotDir)
	c.PlotColumns = envList("AURORA_PLOT_COLUMNS", c.PlotColumns)
	c.HealthInterval = envDuration("AURORA_HEALTH_INTERVAL", c.HealthInterval)
	c.ReconnectInterval = envDuration("AURORA_RECONNECT_INTERVAL", c.ReconnectInterval)
	c.ShutdownTimeout = envDuration("AURORA_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.StreamMode = StreamMode(strings.ToLower(env("AURORA_STREAM_MODE", string(c.StreamMode))))
	c.BackendGRPCAddr = env("AURORA_BACKEND_GRPC_ADDR", c.BackendGRPCAddr)
	c.BackendWSURL = env("AURORA_BACKEND_WS_URL", c.BackendWSURL)
	c.BackendToken = env("AURORA_BACKEND_TOKEN", c.BackendToken)
	c.StreamBufferSize = envInt("AURORA_STREAM_BUFFER_SIZE", c.StreamBufferSize)
	c.StreamSendTimeout = envDuration("AURORA_STREAM_SEND_TIMEOUT", c.StreamSendTimeout)
	c.TLSEnabled = envBool("AURORA_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("AURORA_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("AURORA_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("AURORA_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("AURORA_TLS_KEY_PATH", c.TLSKeyPath)
	c.LogJSON = envBool("AURORA_LOG_JSON", c.LogJSON)
	c.LogLevel = strings.ToLower(env("AURORA_LOG_LEVEL", c.LogLevel))
	c.GRPCGuestStreamMethod = env("AURORA_GRPC_GUEST_STREAM_METHOD", c.GRPCGuestStreamMethod)
	c.WebSocketWriteTimeout = envDuration("AURORA_WS_WRITE_TIMEOUT", c.WebSocketWriteTimeout)
	c.WebSocketPingInterval = envDuration("AURORA_WS_PING_INTERVAL", c.WebSocketPingInterval)
	c.MaxReconnectJitter = envDuration("AURORA_RECONNECT_MAX_JITTER", c.MaxReconnectJitter)
}

// GuestInterval is the per-guest polling period.
func (c Config) GuestInterval() time.Duration {
	return time.Duration(c.GuestIntervalSeconds) * time.Second
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("AURORA_NODE_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.LibvirtURI == "" {
		return errors.New("AURORA_LIBVIRT_URI is required")
	}
	if strings.TrimSpace(c.ProbeListenAddr) == "" {
		return errors.New("AURORA_AGENT_PROBE_ADDR is required")
	}
	if c.GuestIntervalSeconds <= 0 {
		return errors.New("AURORA_GUEST_INTERVAL must be a positive number of seconds")
	}
	if c.GuestManagerInterval <= 0 {
		return errors.New("AURORA_GUEST_MANAGER_INTERVAL must be > 0")
	}
	if len(c.GuestCollectors) == 0 {
		return errors.New("AURORA_GUEST_COLLECTORS must name at least one collector")
	}
	if c.HealthInterval <= 0 || c.ReconnectInterval <= 0 {
		return errors.New("health and reconnect intervals must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("AURORA_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.StreamBufferSize <= 0 {
		return errors.New("AURORA_STREAM_BUFFER_SIZE must be > 0")
	}
	if c.StreamSendTimeout <= 0 {
		return errors.New("AURORA_STREAM_SEND_TIMEOUT must be > 0")
	}
	switch c.StreamMode {
	case StreamModeNone, StreamModeGRPC, StreamModeWebSocket:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.BackendGRPCAddr == "" {
			return errors.New("AURORA_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCGuestStreamMethod) == "" {
			return errors.New("AURORA_GRPC_GUEST_STREAM_METHOD is required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.BackendWSURL == "" {
		return errors.New("AURORA_BACKEND_WS_URL is required for websocket mode")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return splitList(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
