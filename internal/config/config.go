// Package config binds vtrt's small typed configuration surface from the
// process environment via struct-tag binding, plus the live VT_DEBUG_*
// flag set with scoped enable/restore.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the complete environment-derived configuration for one vtrt
// node process.
type Config struct {
	// NodeID is this process's rank in the fixed job.
	NodeID int `env:"VT_NODE_ID" envDefault:"0"`
	// NumNodes is the fixed job size N.
	NumNodes int `env:"VT_NUM_NODES" envDefault:"1"`
	// ListenAddr is where transport/rpc listens for inbound frames.
	ListenAddr string `env:"VT_LISTEN_ADDR" envDefault:":9100"`
	// Peers maps "node=addr" pairs, one per peer, comma separated.
	Peers string `env:"VT_PEERS" envDefault:""`

	// HopCap bounds location-lookup forward chasing; 0 means "compute the
	// 3 * log2(N) default".
	HopCap int `env:"VT_HOP_CAP" envDefault:"0"`

	// Debug flags.
	DebugAll     bool `env:"VT_DEBUG_ALL" envDefault:"false"`
	DebugTermDS  bool `env:"VT_DEBUG_TERMDS" envDefault:"false"`
	DebugParam   bool `env:"VT_DEBUG_PARAM" envDefault:"false"`
	DebugScatter bool `env:"VT_DEBUG_SCATTER" envDefault:"false"`
	DebugNone    bool `env:"VT_DEBUG_NONE" envDefault:"false"`
	DebugActive  bool `env:"VT_DEBUG_ACTIVE" envDefault:"false"`
	DebugReduce  bool `env:"VT_DEBUG_REDUCE" envDefault:"false"`
	DebugContext bool `env:"VT_DEBUG_CONTEXT" envDefault:"false"`

	// MetricsAddr, if non-empty, serves Prometheus metrics (internal/telemetry).
	MetricsAddr string `env:"VT_METRICS_ADDR" envDefault:""`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("vtrt/config: %w", err)
	}
	return c, nil
}

// MustLoad is Load, panicking on a malformed environment. Used at process
// startup in cmd/vtnode and cmd/vtrun where there is no caller to hand an
// error back to.
func MustLoad() Config {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}
