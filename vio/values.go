package vio

import "sync"

// DefaultValueCount is the value store size used when none is configured.
const DefaultValueCount = 1

// ValueStore is a fixed-length scratch array of int32. Every method is total:
// out of range writes are dropped and out of range reads return 0.
type ValueStore struct {
	lock   sync.Mutex
	values []int32
}

func NewValueStore(n int) *ValueStore {
	if n < 0 {
		n = 0
	}
	return &ValueStore{values: make([]int32, n)}
}

func (vs *ValueStore) Set(index int, value int32) {
	vs.lock.Lock()
	defer vs.lock.Unlock()

	if index < 0 || index >= len(vs.values) {
		return
	}
	vs.values[index] = value
}

func (vs *ValueStore) Get(index int) int32 {
	vs.lock.Lock()
	defer vs.lock.Unlock()

	if index < 0 || index >= len(vs.values) {
		return 0
	}
	return vs.values[index]
}

func (vs *ValueStore) Len() int {
	return len(vs.values)
}

func (vs *ValueStore) Reset() {
	vs.lock.Lock()
	defer vs.lock.Unlock()

	for i := range vs.values {
		vs.values[i] = 0
	}
}

// Snapshot returns a copy of all values.
func (vs *ValueStore) Snapshot() []int32 {
	vs.lock.Lock()
	defer vs.lock.Unlock()

	return append([]int32(nil), vs.values...)
}
