package cdp

import (
	"math/big"
	"testing"
)

func TestConfigNormalizeDefaults(t *testing.T) {
	cfg := Config{}.Normalize()
	if cfg.DebtTokenSymbol != "DUSD" {
		t.Fatalf("default symbol: %q", cfg.DebtTokenSymbol)
	}
	if cfg.LiquidationDelaySeconds != DefaultLiquidationDelay {
		t.Fatalf("default delay: %d", cfg.LiquidationDelaySeconds)
	}
	cfg = Config{DebtTokenSymbol: "XUSD", LiquidationDelaySeconds: 120}.Normalize()
	if cfg.DebtTokenSymbol != "XUSD" || cfg.LiquidationDelaySeconds != 120 {
		t.Fatalf("explicit values overwritten: %q %d", cfg.DebtTokenSymbol, cfg.LiquidationDelaySeconds)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		DebtTokenSymbol:         "DUSD",
		MaxDebtSupplyWei:        big.NewInt(1_000_000),
		LiquidationDelaySeconds: 3_600,
		Collateral: []CollateralParams{{
			Symbol:                "ATOM",
			Active:                true,
			LiquidationRatioBps:   15_000,
			LiquidationPenaltyBps: 1_300,
			DebtCeilingWei:        big.NewInt(500_000),
		}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	over := valid
	over.LiquidationDelaySeconds = MaxLiquidationDelay + 1
	if err := over.Validate(); err == nil {
		t.Fatalf("over-limit delay accepted")
	}

	negative := valid
	negative.MaxDebtSupplyWei = big.NewInt(-1)
	if err := negative.Validate(); err == nil {
		t.Fatalf("negative supply cap accepted")
	}

	duplicate := valid
	duplicate.Collateral = append(append([]CollateralParams(nil), valid.Collateral...), CollateralParams{
		Symbol:              "atom",
		LiquidationRatioBps: 15_000,
	})
	if err := duplicate.Validate(); err == nil {
		t.Fatalf("duplicate collateral symbol accepted")
	}

	badRatio := valid
	badRatio.Collateral = []CollateralParams{{Symbol: "OSMO", LiquidationRatioBps: 9_000}}
	if err := badRatio.Validate(); err == nil {
		t.Fatalf("sub-par liquidation ratio accepted")
	}
}

func TestCollateralParamsConversion(t *testing.T) {
	params := CollateralParams{
		Symbol:                "atom",
		Active:                true,
		LiquidationRatioBps:   15_000,
		StabilityFeeBps:       200,
		LiquidationPenaltyBps: 1_300,
	}
	cfg := params.CollateralConfig()
	if cfg.DebtCeiling == nil || cfg.DebtCeiling.Sign() != 0 {
		t.Fatalf("nil ceiling not defaulted: %v", cfg.DebtCeiling)
	}
	if cfg.AggregateDebt == nil || cfg.AggregateDebt.Sign() != 0 {
		t.Fatalf("aggregate not zeroed: %v", cfg.AggregateDebt)
	}
	sanitized, err := SanitizeCollateralConfig(cfg)
	if err != nil {
		t.Fatalf("sanitize converted config: %v", err)
	}
	if sanitized.Symbol != "ATOM" {
		t.Fatalf("symbol not canonicalised: %q", sanitized.Symbol)
	}
}
