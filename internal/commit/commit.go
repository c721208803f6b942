// Package commit implements the bid commitment scheme: a Keccak-256 hash,
// truncated to 160 bits, binding a secret nonce and bid value to one specific
// auction instance. The encoding mirrors the settlement ledger's ABI layout
// (one 32-byte big-endian word per field) so commitments produced by external
// clients verify unchanged.
package commit

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// wordLen is the encoded width of each bound field.
const wordLen = 32

// Compute derives the commitment for a bid. It is pure and deterministic:
// the same five inputs always produce the same commitment, and any single-bit
// change to any input produces a different one (up to Keccak collision
// resistance). Binding the collection, instance id and auction index prevents
// replaying a commitment across assets or across re-auctions of the same
// asset.
func Compute(nonce domain.Nonce, bidValue domain.Amount, assetCollection common.Address, assetInstanceID *uint256.Int, auctionIndex uint64) domain.Commitment {
	buf := make([]byte, 0, 5*wordLen)

	// bytes32 nonce.
	buf = append(buf, nonce[:]...)

	// uint96 bid value, left-padded to a full word.
	bidWord := bidValue.Bytes32()
	buf = append(buf, bidWord[:]...)

	// address, left-padded to a full word.
	buf = append(buf, common.LeftPadBytes(assetCollection.Bytes(), wordLen)...)

	// uint256 asset instance id.
	var idWord [wordLen]byte
	if assetInstanceID != nil {
		idWord = assetInstanceID.Bytes32()
	}
	buf = append(buf, idWord[:]...)

	// uint64 auction index, left-padded to a full word.
	var idxWord [wordLen]byte
	binary.BigEndian.PutUint64(idxWord[wordLen-8:], auctionIndex)
	buf = append(buf, idxWord[:]...)

	digest := crypto.Keccak256(buf)

	var c domain.Commitment
	copy(c[:], digest[:domain.CommitmentLen])
	return c
}

// Verify recomputes the commitment from a claimed (nonce, bidValue) pair and
// reports whether it matches the stored one.
func Verify(stored domain.Commitment, nonce domain.Nonce, bidValue domain.Amount, assetCollection common.Address, assetInstanceID *uint256.Int, auctionIndex uint64) (domain.Commitment, bool) {
	recomputed := Compute(nonce, bidValue, assetCollection, assetInstanceID, auctionIndex)
	return recomputed, recomputed == stored
}
