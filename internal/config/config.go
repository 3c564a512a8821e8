package config

import (
	"path/filepath"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// DataDir anchors the relative storage paths below.
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LayoutsDir   string `mapstructure:"layouts_dir" yaml:"layouts_dir"`

	RatesURL             string        `mapstructure:"rates_url" yaml:"rates_url"`
	RatesCachePath       string        `mapstructure:"rates_cache_path" yaml:"rates_cache_path"`
	RatesRefreshInterval time.Duration `mapstructure:"rates_refresh_interval" yaml:"rates_refresh_interval"`

	// ReplayWindow bounds how old a persisted paid message may be and
	// still be replayed into history at startup.
	ReplayWindow time.Duration `mapstructure:"replay_window" yaml:"replay_window"`
	// HistoryLimit bounds each channel's rolling history.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":1350",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		DataDir:              "data",
		DatabasePath:         "paid_messages.db",
		LayoutsDir:           "layouts",
		RatesURL:             "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml",
		RatesCachePath:       "exchange_rates.xml",
		RatesRefreshInterval: 24 * time.Hour,
		ReplayWindow:         24 * time.Hour,
		HistoryLimit:         100,
	}
}

// ResolvedDatabasePath anchors DatabasePath under DataDir unless absolute.
func (c Config) ResolvedDatabasePath() string {
	return c.anchor(c.DatabasePath)
}

// ResolvedLayoutsDir anchors LayoutsDir under DataDir unless absolute.
func (c Config) ResolvedLayoutsDir() string {
	return c.anchor(c.LayoutsDir)
}

// ResolvedRatesCachePath anchors RatesCachePath under DataDir unless
// absolute.
func (c Config) ResolvedRatesCachePath() string {
	return c.anchor(c.RatesCachePath)
}

func (c Config) anchor(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
