// Package config defines all configuration for the defense agent.
// Every key has a default and can be overridden by an environment variable
// of the same name in upper case (SEPOLIA_RPC_URL, AGENT_PRIVATE_KEY, ...).
// An optional YAML file can be supplied for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Keys are flat so the environment
// variable surface stays stable even if fields are regrouped.
type Config struct {
	// Chain connection. PrivateKey signs defensive transactions and may
	// carry an optional 0x prefix.
	RPCURL     string `mapstructure:"sepolia_rpc_url"`
	PrivateKey string `mapstructure:"agent_private_key"`
	ChainID    int64  `mapstructure:"chain_id"`

	// Monitored contract addresses.
	WethAddress         string `mapstructure:"weth_address"`
	UsdcAddress         string `mapstructure:"usdc_address"`
	OracleAddress       string `mapstructure:"oracle_address"`
	AMMPoolAddress      string `mapstructure:"amm_pool_address"`
	LendingVaultAddress string `mapstructure:"lending_vault_address"`

	// LLM analysis. LLMMaxCallsPerMin bounds outbound model calls; the
	// reasoner blocks rather than skips when the budget is exhausted.
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	GeminiModel       string `mapstructure:"gemini_model"`
	LLMMaxCallsPerMin int    `mapstructure:"llm_max_calls_per_min"`

	// Agent behavior.
	//
	//   - PollInterval: delay between observation cycles (Go duration, e.g. "3s").
	//   - PriceDeviationThreshold: oracle/AMM divergence fraction that marks
	//     a snapshot anomalous (0.03 = 3%).
	//   - PauseConfidenceThreshold: assessment confidence above which a
	//     flash-loan verdict pauses the whole protocol.
	//   - BlockLiquidationThreshold: confidence above which liquidations
	//     are blocked.
	//   - ProactivePauseDeviation: deviation fraction that triggers the
	//     immediate AMM pause without waiting for analysis (0.30 = 30%).
	//   - RapidResponseMode: enables the proactive fast path.
	//   - PriceHistoryWindow: oracle history points fetched per snapshot.
	PollInterval              time.Duration `mapstructure:"poll_interval"`
	PriceDeviationThreshold   float64       `mapstructure:"price_deviation_threshold"`
	PauseConfidenceThreshold  float64       `mapstructure:"pause_confidence_threshold"`
	BlockLiquidationThreshold float64       `mapstructure:"block_liquidation_threshold"`
	ProactivePauseDeviation   float64       `mapstructure:"proactive_pause_deviation"`
	RapidResponseMode         bool          `mapstructure:"rapid_response_mode"`
	PriceHistoryWindow        int           `mapstructure:"price_history_window"`

	// Integration.
	BackendURL string `mapstructure:"backend_url"`
	HealthPort int    `mapstructure:"health_port"`
	DataDir    string `mapstructure:"data_dir"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads config from the environment, with defaults for every key.
// If path is non-empty, the YAML file there is read first and env vars
// override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sepolia_rpc_url", "")
	v.SetDefault("agent_private_key", "")
	v.SetDefault("chain_id", 11155111)
	v.SetDefault("weth_address", "")
	v.SetDefault("usdc_address", "")
	v.SetDefault("oracle_address", "")
	v.SetDefault("amm_pool_address", "")
	v.SetDefault("lending_vault_address", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-1.5-pro")
	v.SetDefault("llm_max_calls_per_min", 20)
	v.SetDefault("poll_interval", 3*time.Second)
	v.SetDefault("price_deviation_threshold", 0.03)
	v.SetDefault("pause_confidence_threshold", 0.65)
	v.SetDefault("block_liquidation_threshold", 0.50)
	v.SetDefault("proactive_pause_deviation", 0.30)
	v.SetDefault("rapid_response_mode", true)
	v.SetDefault("price_history_window", 20)
	v.SetDefault("backend_url", "http://localhost:8080")
	v.SetDefault("health_port", 8000)
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_level", "INFO")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("sepolia_rpc_url is required (set SEPOLIA_RPC_URL)")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("agent_private_key is required (set AGENT_PRIVATE_KEY)")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be > 0 (11155111 for Sepolia)")
	}
	for _, addr := range []struct{ name, value string }{
		{"weth_address", c.WethAddress},
		{"usdc_address", c.UsdcAddress},
		{"oracle_address", c.OracleAddress},
		{"amm_pool_address", c.AMMPoolAddress},
		{"lending_vault_address", c.LendingVaultAddress},
	} {
		if addr.value == "" {
			return fmt.Errorf("%s is required (set %s)", addr.name, strings.ToUpper(addr.name))
		}
		if !common.IsHexAddress(addr.value) {
			return fmt.Errorf("%s is not a valid hex address: %q", addr.name, addr.value)
		}
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("gemini_api_key is required (set GEMINI_API_KEY)")
	}
	if c.LLMMaxCallsPerMin <= 0 {
		return fmt.Errorf("llm_max_calls_per_min must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.PriceHistoryWindow <= 0 {
		return fmt.Errorf("price_history_window must be > 0")
	}
	if c.PriceDeviationThreshold <= 0 || c.PriceDeviationThreshold > 1 {
		return fmt.Errorf("price_deviation_threshold must be in (0, 1]")
	}
	if c.PauseConfidenceThreshold <= 0 || c.PauseConfidenceThreshold > 1 {
		return fmt.Errorf("pause_confidence_threshold must be in (0, 1]")
	}
	if c.BlockLiquidationThreshold <= 0 || c.BlockLiquidationThreshold > 1 {
		return fmt.Errorf("block_liquidation_threshold must be in (0, 1]")
	}
	if c.ProactivePauseDeviation <= 0 || c.ProactivePauseDeviation > 1 {
		return fmt.Errorf("proactive_pause_deviation must be in (0, 1]")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("health_port must be a valid TCP port")
	}
	return nil
}
