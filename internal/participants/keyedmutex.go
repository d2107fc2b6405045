package participants

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes updates per (meeting, user) key with a fixed set of
// lock stripes. Two different keys may share a stripe; that only costs a
// little contention, never correctness.
type keyedMutex struct {
	stripes [64]sync.Mutex
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m
}
