package cdp

import "math/big"

var basisPoints = big.NewInt(10_000)

// RequiredCollateral returns the minimum collateral backing the supplied debt
// at the given liquidation ratio. The division rounds up so a position can
// never sit exactly on the boundary with less collateral than an exact-ratio
// computation would demand.
func RequiredCollateral(debt *big.Int, ratioBps uint64) *big.Int {
	if debt == nil || debt.Sign() <= 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(debt, new(big.Int).SetUint64(ratioBps))
	quo, rem := new(big.Int).QuoRem(product, basisPoints, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// IsSafe reports whether the collateral covers the debt at the given ratio.
// Zero debt is always safe. The comparison cross-multiplies instead of
// dividing so no truncation can misjudge a position near the boundary.
func IsSafe(collateral, debt *big.Int, ratioBps uint64) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(collateral, basisPoints)
	rhs := new(big.Int).Mul(debt, new(big.Int).SetUint64(ratioBps))
	return lhs.Cmp(rhs) >= 0
}

// PenaltyAmount returns the liquidator's cut of seized collateral. The
// division rounds down, the opposite bias from RequiredCollateral, and the
// result is clamped so the cut never exceeds the collateral on hand.
func PenaltyAmount(collateral *big.Int, penaltyBps uint64) *big.Int {
	if collateral == nil || collateral.Sign() <= 0 || penaltyBps == 0 {
		return big.NewInt(0)
	}
	cut := new(big.Int).Mul(collateral, new(big.Int).SetUint64(penaltyBps))
	cut.Quo(cut, basisPoints)
	if cut.Cmp(collateral) > 0 {
		return new(big.Int).Set(collateral)
	}
	return cut
}
