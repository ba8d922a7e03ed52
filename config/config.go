// Package config loads the protocol's operator-tunable parameters from a
// TOML file, autogenerating a default file on first run.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the operator-tunable protocol parameters. Most values are
// e8s-scaled integers rather than floats so they round-trip exactly through
// TOML and the event log.
type Config struct {
	DataDir string `toml:"DataDir"`

	LedgerCanister      string `toml:"LedgerCanister"`
	PriceOracleCanister string `toml:"PriceOracleCanister"`
	DeveloperFeeAccount string `toml:"DeveloperFeeAccount"`
	ProtocolAccount     string `toml:"ProtocolAccount"`

	MinCollateralRatioGeneralBps uint64 `toml:"MinCollateralRatioGeneralBps"`
	MinCollateralRatioRecoveryBps uint64 `toml:"MinCollateralRatioRecoveryBps"`
	CriticalTCRBps                uint64 `toml:"CriticalTCRBps"`
	LiquidationBonusBps            uint64 `toml:"LiquidationBonusBps"`

	MinBorrowFeeBps   uint64 `toml:"MinBorrowFeeBps"`
	MaxBorrowFeeBps   uint64 `toml:"MaxBorrowFeeBps"`
	MinRedemptionFeeBps uint64 `toml:"MinRedemptionFeeBps"`
	MaxRedemptionFeeBps uint64 `toml:"MaxRedemptionFeeBps"`

	PriceStalenessSeconds uint64 `toml:"PriceStalenessSeconds"`
	MinVaultDebtE8s       uint64 `toml:"MinVaultDebtE8s"`
	MinVaultCollateralE8s uint64 `toml:"MinVaultCollateralE8s"`
	MinRedeemE8s          uint64 `toml:"MinRedeemE8s"`

	TransferRetryBaseMillis uint64 `toml:"TransferRetryBaseMillis"`
	TransferRetryMaxMillis  uint64 `toml:"TransferRetryMaxMillis"`
	TransferRetryMaxAttempts int   `toml:"TransferRetryMaxAttempts"`
}

// PriceStaleness returns the configured staleness threshold as a duration.
func (c *Config) PriceStaleness() time.Duration {
	return time.Duration(c.PriceStalenessSeconds) * time.Second
}

// Default returns the parameter set a freshly installed canister starts
// with absent an explicit upgrade argument.
func Default() *Config {
	return &Config{
		DataDir:                       "./icusd-data",
		MinCollateralRatioGeneralBps:  13300, // 133%
		MinCollateralRatioRecoveryBps: 15000, // 150%
		CriticalTCRBps:                15000, // 150%
		LiquidationBonusBps:           1000,  // 10%
		MinBorrowFeeBps:               50,    // 0.5%
		MaxBorrowFeeBps:               500,   // 5%
		MinRedemptionFeeBps:           50,
		MaxRedemptionFeeBps:           500,
		PriceStalenessSeconds:         900, // 15 minutes
		MinVaultDebtE8s:               2000 * 1_0000_0000,
		MinVaultCollateralE8s:         100_000,
		MinRedeemE8s:                  5 * 1_0000_0000,
		TransferRetryBaseMillis:       500,
		TransferRetryMaxMillis:        60_000,
		TransferRetryMaxAttempts:      8,
	}
}

// Load reads the configuration from path, writing and returning the
// defaults when the file does not yet exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, Save(path, cfg)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
