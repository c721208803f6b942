package engine

import (
	"hash/fnv"
	"sync"

	"github.com/veilbid/auctiond/internal/domain"
)

// lockShards is the number of mutex shards. Operations against the same
// asset key always hash to the same shard, giving the single-writer-per-key
// guarantee without a global lock; operations against different keys contend
// only on hash collisions.
const lockShards = 64

// keyLocks serializes state-changing operations per asset key.
type keyLocks struct {
	shards [lockShards]sync.Mutex
}

// newKeyLocks creates the shard set.
func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

// lock acquires the shard for the key and returns the matching unlock.
func (k *keyLocks) lock(key domain.AuctionKey) func() {
	shard := &k.shards[k.shardFor(key)]
	shard.Lock()
	return shard.Unlock
}

// shardFor hashes the asset key onto a shard index.
func (k *keyLocks) shardFor(key domain.AuctionKey) uint32 {
	h := fnv.New32a()
	h.Write(key.AssetCollection.Bytes())
	id := key.AssetInstanceID.Bytes32()
	h.Write(id[:])
	return h.Sum32() % lockShards
}
