package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// SeedConfig models the card programme seed file: bank identity, the two
// fixed-point scales and the oracle wiring.
type SeedConfig struct {
	Bank    string `json:"bank"`
	Scaling struct {
		// LimitScale multiplies card limits at creation; ValueScale
		// converts requested amounts to custodied units at completion.
		// Observed values: 100 and 1000.
		LimitScale int64 `json:"limitScale"`
		ValueScale int64 `json:"valueScale"`
	} `json:"scaling"`
	Oracle struct {
		ProviderID      string `json:"providerId"`
		EndpointID      string `json:"endpointId"`
		RelayAddress    string `json:"relayAddress"`
		RequesterIndex  uint64 `json:"requesterIndex"`
		FundingFloorWei string `json:"fundingFloorWei"`
		TopUpWei        string `json:"topUpWei"`
	} `json:"oracle"`
	Secrets struct {
		BankWebhookSecret string `json:"bankWebhookSecret"`
	} `json:"secrets"`
	Timeouts struct {
		FulfillmentTimeoutSecs int `json:"fulfillmentTimeoutSeconds"`
	} `json:"timeouts"`
}

// AppConfig ties together seed + service + chain values.
type AppConfig struct {
	Seed    SeedConfig
	Service ServiceConfig
	Chain   ChainConfig
}

type ServiceConfig struct {
	HTTPPort           int
	HMACClockSkew      time.Duration
	RegistryPath       string
	RegistryDSN        string
	FulfillmentTimeout time.Duration
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
}

const (
	defaultSeedPath = "../seed.json"

	defaultLimitScale      = 100
	defaultValueScale      = 1000
	defaultFundingFloorWei = "100000000000000"  // 0.0001 ether
	defaultTopUpWei        = "1000000000000000" // 0.001 ether
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	seedPath := envOr("SEED_PATH", defaultSeedPath)

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:           envOrInt("API_HTTP_PORT", 3000),
		HMACClockSkew:      time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		RegistryPath:       envOr("REGISTRY_PATH", filepath.Join(os.TempDir(), "cardinal-registry")),
		RegistryDSN:        envOr("REGISTRY_DSN", ""),
		FulfillmentTimeout: time.Duration(seedCfg.Timeouts.FulfillmentTimeoutSecs) * time.Second,
	}
	if serviceCfg.FulfillmentTimeout <= 0 {
		serviceCfg.FulfillmentTimeout = 2 * time.Minute
	}

	chainCfg := ChainConfig{
		RPCURL:     envOr("CHAIN_RPC_URL", ""),
		PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
	}

	return &AppConfig{
		Seed:    *seedCfg,
		Service: serviceCfg,
		Chain:   chainCfg,
	}, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	applySeedDefaults(&cfg)
	return &cfg, nil
}

func applySeedDefaults(cfg *SeedConfig) {
	if cfg.Scaling.LimitScale <= 0 {
		cfg.Scaling.LimitScale = defaultLimitScale
	}
	if cfg.Scaling.ValueScale <= 0 {
		cfg.Scaling.ValueScale = defaultValueScale
	}
	if cfg.Oracle.FundingFloorWei == "" {
		cfg.Oracle.FundingFloorWei = defaultFundingFloorWei
	}
	if cfg.Oracle.TopUpWei == "" {
		cfg.Oracle.TopUpWei = defaultTopUpWei
	}
}

// FundingFloor parses the relay funding floor as wei.
func (s *SeedConfig) FundingFloor() (*big.Int, error) {
	return parseWei("fundingFloorWei", s.Oracle.FundingFloorWei)
}

// TopUp parses the relay top-up amount as wei.
func (s *SeedConfig) TopUp() (*big.Int, error) {
	return parseWei("topUpWei", s.Oracle.TopUpWei)
}

func parseWei(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, value)
	}
	return amount, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
