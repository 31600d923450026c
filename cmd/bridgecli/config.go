package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the optional TOML configuration file.
//
//	log_level = "info"       # bridge log level: debug, info, warn, error
//	max_log_level = 3        # engine-side log verbosity, 0..5
//
//	[[chain]]
//	name = "main"
//	spec_file = "chain.json"
//	database_file = "db.json"     # optional
//	disable_json_rpc = false
//	max_pending_requests = 128    # 0 = unlimited
//	max_subscriptions = 0         # 0 = unlimited
type fileConfig struct {
	LogLevel    string        `toml:"log_level"`
	MaxLogLevel uint32        `toml:"max_log_level"`
	Chains      []chainConfig `toml:"chain"`
}

type chainConfig struct {
	Name               string `toml:"name"`
	SpecFile           string `toml:"spec_file"`
	DatabaseFile       string `toml:"database_file"`
	DisableJSONRPC     bool   `toml:"disable_json_rpc"`
	MaxPendingRequests int64  `toml:"max_pending_requests"`
	MaxSubscriptions   int64  `toml:"max_subscriptions"`
}

func loadConfig(path string) (fileConfig, error) {
	cfg := fileConfig{
		LogLevel:    "info",
		MaxLogLevel: 3,
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, ch := range cfg.Chains {
		if ch.SpecFile == "" {
			return cfg, fmt.Errorf("%s: chain %d has no spec_file", path, i)
		}
	}
	return cfg, nil
}

func (ch chainConfig) readSpec() (spec, database string, err error) {
	specBytes, err := os.ReadFile(ch.SpecFile)
	if err != nil {
		return "", "", fmt.Errorf("read chain spec: %w", err)
	}
	if ch.DatabaseFile != "" {
		dbBytes, err := os.ReadFile(ch.DatabaseFile)
		if err != nil {
			return "", "", fmt.Errorf("read database: %w", err)
		}
		database = string(dbBytes)
	}
	return string(specBytes), database, nil
}
