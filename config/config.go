// Package config loads facilitator configuration from the environment.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/vitwit/x402-facilitator/types"
)

// Defaults for the Base mainnet deployment. Every value can be
// overridden through the environment.
const (
	DefaultPort            = "3000"
	DefaultProjectID       = "127"
	DefaultTerminalAddress = "0xdb9644369c79c3633cde70d2df50d827d7dc7dbc"
	DefaultUSDCAddress     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultEscrowAddress   = "0xAbEa4e7a139FAdBDb2B76179C24f0ff76753C800"
)

// Config holds everything the facilitator needs to run.
type Config struct {
	Port string `validate:"required,numeric"`

	// Hex-encoded private key of the escrow signer, without 0x prefix.
	PrivateKey string `validate:"required,hexadecimal"`

	ProjectID       string `validate:"required,numeric"`
	TerminalAddress string `validate:"required,eth_addr"`
	USDCAddress     string `validate:"required,eth_addr"`
	EscrowAddress   string `validate:"required,eth_addr"`

	// Optional per-network RPC overrides.
	RPCURLs map[types.Network]string

	LogLevel string `validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load reads configuration from a .env file (if present) and the
// process environment. Missing optional values fall back to defaults.
func Load() (*Config, error) {
	// A missing .env file is not an error; environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenv("PORT", DefaultPort),
		PrivateKey:      trimHexPrefix(os.Getenv("EVM_PRIVATE_KEY")),
		ProjectID:       getenv("REVNET_PROJECT_ID", DefaultProjectID),
		TerminalAddress: getenv("JB_MULTI_TERMINAL_ADDRESS", DefaultTerminalAddress),
		USDCAddress:     getenv("USDC_CONTRACT_ADDRESS", DefaultUSDCAddress),
		EscrowAddress:   getenv("ESCROW_ADDRESS", DefaultEscrowAddress),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		RPCURLs:         make(map[types.Network]string),
	}

	if url := os.Getenv("BASE_RPC_URL"); url != "" {
		cfg.RPCURLs[types.NetworkBase] = url
	}
	if url := os.Getenv("BASE_SEPOLIA_RPC_URL"); url != "" {
		cfg.RPCURLs[types.NetworkBaseSepolia] = url
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectIDInt parses the configured project ID.
func (c *Config) ProjectIDInt() (*big.Int, error) {
	id, ok := new(big.Int).SetString(c.ProjectID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid project id %q", c.ProjectID)
	}
	return id, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
