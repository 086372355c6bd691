package common

import "hash/fnv"

// Hash32 returns the 32-bit FNV-1a hash of data.
func Hash32(data []byte) uint32 {
	h := fnv.New32a()

	h.Write(data)

	return h.Sum32()
}

// Shard maps a key onto one of n buckets.
func Shard(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(Hash32([]byte(key)) % uint32(n))
}
