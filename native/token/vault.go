package token

import "math/big"

// Vault adapts a token ledger into the engine's collateral transfer contract:
// TransferIn pulls from a user into the vault account, TransferOut releases
// back out. One vault account per collateral symbol keeps locked collateral
// auditable on the ledger itself.
type Vault struct {
	ledger  *Ledger
	account [20]byte
}

// NewVault binds a vault account on the given ledger.
func NewVault(ledger *Ledger, account [20]byte) *Vault {
	return &Vault{ledger: ledger, account: account}
}

// Account returns the vault's ledger account.
func (v *Vault) Account() [20]byte { return v.account }

// TransferIn pulls collateral from the user into the vault.
func (v *Vault) TransferIn(from [20]byte, amount *big.Int) error {
	return v.ledger.Transfer(from, v.account, amount)
}

// TransferOut releases collateral from the vault to the recipient.
func (v *Vault) TransferOut(to [20]byte, amount *big.Int) error {
	return v.ledger.Transfer(v.account, to, amount)
}

// Balance returns the collateral currently locked in the vault.
func (v *Vault) Balance() (*big.Int, error) {
	return v.ledger.BalanceOf(v.account)
}
