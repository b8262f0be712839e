package services

import "hash/fnv"

// Per-identity mutable security state (rate windows, block entries, lockout
// records) is spread over fixed shard arrays so unrelated requests never
// serialize on one lock. 32 shards keeps contention negligible at the
// request rates this pipeline sees.
const shardCount = 32

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
