package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// MemoryLedger is an in-process FungibleLedger with ERC-20-like semantics:
// balances, allowances, and hard failures on insufficient funds or
// allowance. It backs dev mode and the engine test suite.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[balanceKey]domain.Amount
	allowances map[allowanceKey]domain.Amount
}

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// NewMemoryLedger creates an empty in-memory fungible ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[balanceKey]domain.Amount),
		allowances: make(map[allowanceKey]domain.Amount),
	}
}

// Mint credits a holder's balance. Test and dev-mode setup helper.
func (l *MemoryLedger) Mint(token, holder common.Address, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{token, holder}
	next, err := l.balances[k].Add(amount)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	l.balances[k] = next
	return nil
}

// Transfer moves amount from `from` to `to`.
func (l *MemoryLedger) Transfer(ctx context.Context, token, from, to common.Address, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// TransferFrom moves amount from `from` to `to`, consuming the allowance
// granted to `spender`.
func (l *MemoryLedger) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ak := allowanceKey{token, from, spender}
	allowance := l.allowances[ak]
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer from %s: %w", from.Hex(), domain.ErrInsufficientAllowance)
	}

	if err := l.move(token, from, to, amount); err != nil {
		return err
	}

	remaining, err := allowance.Sub(amount)
	if err != nil {
		return fmt.Errorf("token: allowance underflow: %w", err)
	}
	l.allowances[ak] = remaining
	return nil
}

// Approve sets the allowance `owner` grants to `spender`.
func (l *MemoryLedger) Approve(ctx context.Context, token, owner, spender common.Address, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = amount
	return nil
}

// BalanceOf returns the holder's balance.
func (l *MemoryLedger) BalanceOf(ctx context.Context, token, holder common.Address) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{token, holder}], nil
}

// move debits `from` and credits `to` under the held lock.
func (l *MemoryLedger) move(token, from, to common.Address, amount domain.Amount) error {
	fromKey := balanceKey{token, from}
	balance := l.balances[fromKey]
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientBalance)
	}

	debited, err := balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("token: debit: %w", err)
	}

	toKey := balanceKey{token, to}
	credited, err := l.balances[toKey].Add(amount)
	if err != nil {
		return fmt.Errorf("token: credit: %w", err)
	}

	l.balances[fromKey] = debited
	l.balances[toKey] = credited
	return nil
}

// Compile-time interface check.
var _ FungibleLedger = (*MemoryLedger)(nil)

// MemoryRegistry is an in-process AssetRegistry with ERC-721-like semantics.
type MemoryRegistry struct {
	mu        sync.Mutex
	owners    map[assetKey]common.Address
	approvals map[assetKey]common.Address
}

type assetKey struct {
	collection common.Address
	instance   uint256.Int
}

// NewMemoryRegistry creates an empty in-memory asset registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		owners:    make(map[assetKey]common.Address),
		approvals: make(map[assetKey]common.Address),
	}
}

// Mint assigns a fresh asset instance to an owner. Test and dev-mode helper.
func (r *MemoryRegistry) Mint(collection common.Address, instanceID *uint256.Int, owner common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[newAssetKey(collection, instanceID)] = owner
}

// OwnerOf returns the current owner, or domain.ErrNotFound for an unknown
// instance.
func (r *MemoryRegistry) OwnerOf(ctx context.Context, collection common.Address, instanceID *uint256.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[newAssetKey(collection, instanceID)]
	if !ok {
		return common.Address{}, fmt.Errorf("token: owner of %s: %w", collection.Hex(), domain.ErrNotFound)
	}
	return owner, nil
}

// TransferFrom moves the instance. The operator must be the owner or hold a
// single-use approval for the instance; the approval is cleared on transfer.
func (r *MemoryRegistry) TransferFrom(ctx context.Context, collection common.Address, operator, from, to common.Address, instanceID *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := newAssetKey(collection, instanceID)
	owner, ok := r.owners[k]
	if !ok {
		return fmt.Errorf("token: transfer asset: %w", domain.ErrNotFound)
	}
	if owner != from {
		return fmt.Errorf("token: transfer asset: %w", domain.ErrTransferFailed)
	}
	if operator != owner && r.approvals[k] != operator {
		return fmt.Errorf("token: transfer asset: operator %s: %w", operator.Hex(), domain.ErrSellerNotAuthorized)
	}

	r.owners[k] = to
	delete(r.approvals, k)
	return nil
}

// Approve grants a single-use transfer approval for the instance.
func (r *MemoryRegistry) Approve(ctx context.Context, collection common.Address, owner, approved common.Address, instanceID *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := newAssetKey(collection, instanceID)
	actual, ok := r.owners[k]
	if !ok || actual != owner {
		return fmt.Errorf("token: approve: %w", domain.ErrSellerNotAuthorized)
	}
	r.approvals[k] = approved
	return nil
}

func newAssetKey(collection common.Address, instanceID *uint256.Int) assetKey {
	k := assetKey{collection: collection}
	if instanceID != nil {
		k.instance = *instanceID
	}
	return k
}

// Compile-time interface check.
var _ AssetRegistry = (*MemoryRegistry)(nil)
