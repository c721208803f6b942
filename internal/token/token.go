// Package token defines the external token-ledger collaborators the auction
// engine issues transfer instructions to: a fungible payment ledger and a
// non-fungible asset registry. Both are assumed to enforce their own
// correctness; the engine treats any failure they report as failure of the
// whole operation, with no retry.
package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// FungibleLedger moves balances of a fungible payment token.
type FungibleLedger interface {
	// Transfer moves amount from the caller's own balance to `to`.
	Transfer(ctx context.Context, token, from, to common.Address, amount domain.Amount) error
	// TransferFrom moves amount from `from` to `to` using an allowance
	// previously granted by `from` to `spender`.
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount domain.Amount) error
	// Approve grants `spender` an allowance over the owner's balance.
	Approve(ctx context.Context, token, owner, spender common.Address, amount domain.Amount) error
	// BalanceOf returns the current balance of the holder.
	BalanceOf(ctx context.Context, token, holder common.Address) (domain.Amount, error)
}

// AssetRegistry tracks ownership of non-fungible asset instances.
type AssetRegistry interface {
	// OwnerOf returns the current owner of the instance.
	OwnerOf(ctx context.Context, collection common.Address, instanceID *uint256.Int) (common.Address, error)
	// TransferFrom moves the instance from `from` to `to`; `operator` must
	// be the owner or approved for the instance.
	TransferFrom(ctx context.Context, collection common.Address, operator, from, to common.Address, instanceID *uint256.Int) error
	// Approve lets `approved` transfer the owner's instance once.
	Approve(ctx context.Context, collection common.Address, owner, approved common.Address, instanceID *uint256.Int) error
}
