// Package config loads the daemon's layered configuration (flags >
// env > defaults) as a single typed struct of tunables, sourced
// through github.com/spf13/viper. No configuration file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable this daemon exposes.
type Config struct {
	// Schedulers is the fixed number of scheduler goroutines in the
	// actor pool. Zero means "use the host's logical CPU count" (§4.E).
	Schedulers int `mapstructure:"schedulers"`

	// Listener (§4.H, §6)
	ListenAddr     string        `mapstructure:"listen_addr"`
	ListenPort     int           `mapstructure:"listen_port"`
	Backlog        int           `mapstructure:"backlog"`
	AllowMultiConn bool          `mapstructure:"allow_multi_conn"`
	NagleEnabled   bool          `mapstructure:"nagle_enabled"`
	PartialFrames  bool          `mapstructure:"partial_frames"`
	AcceptCooldown time.Duration `mapstructure:"accept_cooldown"`

	// Shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Metrics
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Default returns a Config populated with sane defaults.
func Default() Config {
	return Config{
		Schedulers:      0,
		ListenAddr:      "0.0.0.0",
		ListenPort:      7777,
		Backlog:         128,
		AllowMultiConn:  false,
		NagleEnabled:    false,
		PartialFrames:   false,
		AcceptCooldown:  2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		MetricsAddr:     ":9090",
	}
}

// BindFlags registers every Config field as a pflag on fs and binds it
// through v under its mapstructure key (the flag name with "-"
// replaced by "_"), so the effective precedence is flag > env
// (LOOMRT_<KEY>) > default. No configuration file is consulted.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Default()

	fs.Int("schedulers", d.Schedulers, "number of scheduler goroutines (0 = NumCPU)")
	fs.String("listen-addr", d.ListenAddr, "IPv4 address to bind the listener to")
	fs.Int("listen-port", d.ListenPort, "TCP port to bind the listener to")
	fs.Int("backlog", d.Backlog, "pending-connection backlog")
	fs.Bool("allow-multi-conn", d.AllowMultiConn, "admit multiple simultaneous connections from the same remote address")
	fs.Bool("nagle-enabled", d.NagleEnabled, "enable Nagle's algorithm on accepted sockets (restart to take effect)")
	fs.Bool("partial-frames", d.PartialFrames, "forward incremental bytes instead of buffering until a full frame decodes")
	fs.Duration("accept-cooldown", d.AcceptCooldown, "cooldown the accept loop's circuit breaker waits after tripping")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "maximum time to wait for graceful shutdown")
	fs.String("log-level", d.LogLevel, "zerolog level (trace, debug, info, warn, error)")
	fs.String("metrics-addr", d.MetricsAddr, "address to serve /metrics on")

	v.SetEnvPrefix("LOOMRT")
	v.AutomaticEnv()

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	return err
}

// Load unmarshals v into a Config, applying defaults for anything
// neither flag nor env set.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
