// Package config centralizes runtime configuration for hpd. It loads a
// JSON configuration file and exposes a process-wide configuration with
// sensible defaults. Tests and development builds will use defaults when the
// file is not present. Production operators should place a JSON file at
// /etc/hpd/config.json or specify a different path via the CONFIG_FILE env var.
package config

import (
	"encoding/json"
	"os"
)

// LedgerConfig describes the shared base-ledger parameters every hydra-node
// in every network is launched with.
type LedgerConfig struct {
	GenesisFile        string `json:"genesis_file"`
	ProtocolParamsFile string `json:"protocol_params_file"`
	NetworkMagic       int    `json:"network_magic"`
	NodeSocket         string `json:"node_socket"`
	HydraScriptsTxID   string `json:"hydra_scripts_tx_id"`
}

// Config holds configurable options for the hpd service.
type Config struct {
	Port              int          `json:"port"`
	KeyDir            string       `json:"key_dir"`
	NodeLogDir        string       `json:"node_log_dir"`
	DBFile            string       `json:"db_file"`
	HydraNodeBin      string       `json:"hydra_node_bin"`
	CardanoCLIBin     string       `json:"cardano_cli_bin"`
	HydraToolsBin     string       `json:"hydra_tools_bin"`
	CLITimeoutSeconds int          `json:"cli_timeout_seconds"`
	Ledger            LedgerConfig `json:"ledger"`
}

var cfg *Config

// LoadConfig reads a JSON file at path. If the file does not exist or
// cannot be parsed, LoadConfig returns defaults (and no error) so that the
// application can run in development with minimal friction.
func LoadConfig(path string) (*Config, error) {
	// sensible defaults
	def := &Config{
		Port:              8010,
		KeyDir:            "keys",
		NodeLogDir:        "node-logs",
		DBFile:            "hpd.db",
		HydraNodeBin:      "hydra-node",
		CardanoCLIBin:     "cardano-cli",
		HydraToolsBin:     "hydra-tools",
		CLITimeoutSeconds: 60,
		Ledger: LedgerConfig{
			GenesisFile:        "devnet/genesis-shelley.json",
			ProtocolParamsFile: "devnet/protocol-parameters.json",
			NetworkMagic:       42,
			NodeSocket:         "devnet/node.socket",
		},
	}

	// if no file path provided, return defaults
	if path == "" {
		cfg = def
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		// file missing or unreadable -> use defaults
		cfg = def
		return cfg, nil
	}

	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		// parse error -> use defaults
		cfg = def
		return cfg, nil
	}

	// merge defaults for any zero-value fields
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.KeyDir == "" {
		c.KeyDir = def.KeyDir
	}
	if c.NodeLogDir == "" {
		c.NodeLogDir = def.NodeLogDir
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.HydraNodeBin == "" {
		c.HydraNodeBin = def.HydraNodeBin
	}
	if c.CardanoCLIBin == "" {
		c.CardanoCLIBin = def.CardanoCLIBin
	}
	if c.HydraToolsBin == "" {
		c.HydraToolsBin = def.HydraToolsBin
	}
	if c.CLITimeoutSeconds == 0 {
		c.CLITimeoutSeconds = def.CLITimeoutSeconds
	}
	if c.Ledger.GenesisFile == "" {
		c.Ledger.GenesisFile = def.Ledger.GenesisFile
	}
	if c.Ledger.ProtocolParamsFile == "" {
		c.Ledger.ProtocolParamsFile = def.Ledger.ProtocolParamsFile
	}
	if c.Ledger.NetworkMagic == 0 {
		c.Ledger.NetworkMagic = def.Ledger.NetworkMagic
	}
	if c.Ledger.NodeSocket == "" {
		c.Ledger.NodeSocket = def.Ledger.NodeSocket
	}

	cfg = &c
	return cfg, nil
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		// initialize with defaults
		LoadConfig("")
	}
	return cfg
}
