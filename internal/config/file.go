package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Unset fields keep the value below them.
type fileConfig struct {
	NodeID      string `yaml:"node_id"`
	LibvirtURI  string `yaml:"libvirt_uri"`
	ProbeAddr   string `yaml:"probe_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	Guest struct {
		IntervalSeconds int      `yaml:"interval_seconds"`
		ManagerInterval string   `yaml:"manager_interval"`
		Collectors      []string `yaml:"collectors"`
		PlotDir         string   `yaml:"plot_dir"`
		PlotColumns     []string `yaml:"plot_columns"`
	} `yaml:"guest"`

	Stream struct {
		Mode           string `yaml:"mode"`
		GRPCAddr       string `yaml:"grpc_addr"`
		GRPCMethod     string `yaml:"grpc_method"`
		WSURL          string `yaml:"ws_url"`
		Token          string `yaml:"token"`
		BufferSize     int    `yaml:"buffer_size"`
		SendTimeout    string `yaml:"send_timeout"`
		WSWriteTimeout string `yaml:"ws_write_timeout"`
		WSPingInterval string `yaml:"ws_ping_interval"`
	} `yaml:"stream"`

	TLS struct {
		Enabled    *bool  `yaml:"enabled"`
		SkipVerify *bool  `yaml:"skip_verify"`
		CAPath     string `yaml:"ca_path"`
		CertPath   string `yaml:"cert_path"`
		KeyPath    string `yaml:"key_path"`
	} `yaml:"tls"`

	Log struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`

	HealthInterval    string `yaml:"health_interval"`
	ReconnectInterval string `yaml:"reconnect_interval"`
	ReconnectJitter   string `yaml:"reconnect_jitter"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.NodeID, fc.NodeID)
	setString(&c.LibvirtURI, fc.LibvirtURI)
	setString(&c.ProbeListenAddr, fc.ProbeAddr)
	setString(&c.MetricsListenAddr, fc.MetricsAddr)
	if fc.Guest.IntervalSeconds != 0 {
		c.GuestIntervalSeconds = fc.Guest.IntervalSeconds
	}
	if len(fc.Guest.Collectors) > 0 {
		c.GuestCollectors = splitList(strings.Join(fc.Guest.Collectors, ","))
	}
	setString(&c.PlotDir, fc.Guest.PlotDir)
	if len(fc.Guest.PlotColumns) > 0 {
		c.PlotColumns = splitList(strings.Join(fc.Guest.PlotColumns, ","))
	}

	if fc.Stream.Mode != "" {
		c.StreamMode = StreamMode(strings.ToLower(fc.Stream.Mode))
	}
	setString(&c.BackendGRPCAddr, fc.Stream.GRPCAddr)
	setString(&c.GRPCGuestStreamMethod, fc.Stream.GRPCMethod)
	setString(&c.BackendWSURL, fc.Stream.WSURL)
	setString(&c.BackendToken, fc.Stream.Token)
	if fc.Stream.BufferSize != 0 {
		c.StreamBufferSize = fc.Stream.BufferSize
	}

	if fc.TLS.Enabled != nil {
		c.TLSEnabled = *fc.TLS.Enabled
	}
	if fc.TLS.SkipVerify != nil {
		c.TLSSkipVerify = *fc.TLS.SkipVerify
	}
	setString(&c.TLSCAPath, fc.TLS.CAPath)
	setString(&c.TLSCertPath, fc.TLS.CertPath)
	setString(&c.TLSKeyPath, fc.TLS.KeyPath)

	if fc.Log.Level != "" {
		c.LogLevel = strings.ToLower(fc.Log.Level)
	}
	if fc.Log.JSON != nil {
		c.LogJSON = *fc.Log.JSON
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"guest.manager_interval", fc.Guest.ManagerInterval, &c.GuestManagerInterval},
		{"stream.send_timeout", fc.Stream.SendTimeout, &c.StreamSendTimeout},
		{"stream.ws_write_timeout", fc.Stream.WSWriteTimeout, &c.WebSocketWriteTimeout},
		{"stream.ws_ping_interval", fc.Stream.WSPingInterval, &c.WebSocketPingInterval},
		{"health_interval", fc.HealthInterval, &c.HealthInterval},
		{"reconnect_interval", fc.ReconnectInterval, &c.ReconnectInterval},
		{"reconnect_jitter", fc.ReconnectJitter, &c.MaxReconnectJitter},
		{"shutdown_timeout", fc.ShutdownTimeout, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
