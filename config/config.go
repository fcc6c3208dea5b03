// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads flight-store server settings. Values are resolved
// in order: built-in defaults, an optional config file, FLIGHTSTORE_*
// environment variables, then explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Query-farm/flight-store/flightstore"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "FLIGHTSTORE"

// Keys, shared by the config file, environment and flags.
const (
	KeyRoot                 = "root"
	KeyListen               = "listen"
	KeyAdvertise            = "advertise"
	KeyHTTPListen           = "http_listen"
	KeyHTTPPrefix           = "http_prefix"
	KeyHTTPCompressionLevel = "http_compression_level"
	KeyCompression          = "compression"
	KeyLogLevel             = "log_level"
	KeyLogFormat            = "log_format"
	KeyServerID             = "server_id"
	KeyOtelStdout           = "otel_stdout"
)

// Config holds the resolved server settings.
type Config struct {
	Root                 string `mapstructure:"root"`
	Listen               string `mapstructure:"listen"`
	Advertise            string `mapstructure:"advertise"`
	HTTPListen           string `mapstructure:"http_listen"`
	HTTPPrefix           string `mapstructure:"http_prefix"`
	HTTPCompressionLevel int    `mapstructure:"http_compression_level"`
	Compression          string `mapstructure:"compression"`
	LogLevel             string `mapstructure:"log_level"`
	LogFormat            string `mapstructure:"log_format"`
	ServerID             string `mapstructure:"server_id"`
	OtelStdout           bool   `mapstructure:"otel_stdout"`
}

var defaults = map[string]any{
	KeyRoot:                 "./flight_datasets",
	KeyListen:               "0.0.0.0:33000",
	KeyAdvertise:            "",
	KeyHTTPListen:           "",
	KeyHTTPPrefix:           "/flight",
	KeyHTTPCompressionLevel: 0,
	KeyCompression:          "snappy",
	KeyLogLevel:             "INFO",
	KeyLogFormat:            "text",
	KeyServerID:             "",
	KeyOtelStdout:           false,
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// flagName maps a key to its command-line spelling.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds one flag per key to fs. Flags only override other
// sources when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(flagName(KeyRoot), defaults[KeyRoot].(string), "directory holding dataset files")
	fs.String(flagName(KeyListen), defaults[KeyListen].(string), "Flight gRPC listen address")
	fs.String(flagName(KeyAdvertise), "", "location URI advertised in FlightInfo endpoints (default derived from the bound port)")
	fs.String(flagName(KeyHTTPListen), "", "HTTP gateway listen address (empty disables the gateway)")
	fs.String(flagName(KeyHTTPPrefix), defaults[KeyHTTPPrefix].(string), "HTTP gateway URL prefix")
	fs.Int(flagName(KeyHTTPCompressionLevel), 0, "zstd level for HTTP responses, 0 disables, 1-4 fastest to best")
	fs.String(flagName(KeyCompression), defaults[KeyCompression].(string), "parquet compression codec: snappy, zstd, gzip, uncompressed")
	fs.String(flagName(KeyLogLevel), defaults[KeyLogLevel].(string), "log level: EXCEPTION, ERROR, WARN, INFO, DEBUG, TRACE")
	fs.String(flagName(KeyLogFormat), defaults[KeyLogFormat].(string), "log format: text or json")
	fs.String(flagName(KeyServerID), "", "server identifier reported in listings and traces (default random)")
	fs.Bool(flagName(KeyOtelStdout), false, "export OpenTelemetry traces and metrics to stdout")
}

// Load resolves configuration. path may be empty; when set, the file type
// is inferred from its extension. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if flags != nil {
		for k := range defaults {
			f := flags.Lookup(flagName(k))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(k, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", f.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	}
	if c.HTTPListen != "" {
		if _, _, err := net.SplitHostPort(c.HTTPListen); err != nil {
			errs = append(errs, fmt.Errorf("http_listen %q: %w", c.HTTPListen, err))
		}
		if c.HTTPListen == c.Listen {
			errs = append(errs, fmt.Errorf("http_listen and listen are both %q", c.Listen))
		}
	}
	if c.HTTPCompressionLevel < 0 || c.HTTPCompressionLevel > 4 {
		errs = append(errs, fmt.Errorf("http_compression_level %d out of range 0-4", c.HTTPCompressionLevel))
	}
	if _, err := flightstore.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := flightstore.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// AbsRoot returns Root as an absolute path.
func (c *Config) AbsRoot() (string, error) {
	return filepath.Abs(c.Root)
}
