package domain

import "errors"

// Sentinel errors for every caller-visible failure of an engine operation.
// Each operation either completes fully or fails with one of these (possibly
// wrapped) and no partial state mutation.
var (
	// Creation-time failures.
	ErrInvalidWindow       = errors.New("invalid auction time window")
	ErrSellerNotAuthorized = errors.New("seller not authorized for asset")
	ErrSellerBlacklisted   = errors.New("seller is blacklisted")

	// Lifecycle gating failures.
	ErrAuctionNotInBiddingPeriod = errors.New("auction not in bidding period")
	ErrAuctionNotInRevealPeriod  = errors.New("auction not in reveal period")
	ErrAuctionNotYetEnded        = errors.New("auction not yet ended")
	ErrAlreadyEnded              = errors.New("auction already ended")

	// Bid store failures.
	ErrNoSuchAuction = errors.New("no such auction")
	ErrNoSuchBid     = errors.New("no such bid")
	ErrDuplicateBid  = errors.New("bid already committed")

	// Reveal-time failures.
	ErrCommitmentMismatch     = errors.New("commitment mismatch")
	ErrAlreadyRevealed        = errors.New("bid already revealed")
	ErrInsufficientCollateral = errors.New("bid exceeds escrowed collateral")

	// Withdrawal failures.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")

	// External token-ledger propagation.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrTransferFailed        = errors.New("token transfer failed")

	// Settlement-time arithmetic fault. The whole EndAuction call aborts;
	// amounts never wrap silently.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// Generic store / API failures.
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")

	// Distributed lock contention.
	ErrLockHeld = errors.New("lock already held")
)
