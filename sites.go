package nanolog

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// StaticLogInfo describes one log call site. Sites are registered once,
// persisted to the output as dictionary entries and referenced by id from
// every record.
type StaticLogInfo struct {
	ID       uint32
	Level    Level
	File     string
	Line     int
	Function string
	Message  string
	Schema   []FieldType
}

// siteRegistry is the append-only table of call sites. Producers register
// under the mutex, the worker snapshots new entries under the mutex and
// then reads its shadow copy without locking.
type siteRegistry struct {
	mu    sync.Mutex
	byKey map[uint64]uint32
	sites []StaticLogInfo
	size  atomic.Uint32
}

func newSiteRegistry() *siteRegistry {
	return &siteRegistry{byKey: make(map[uint64]uint32)}
}

// siteKey builds the dedupe key for a call site
func siteKey(file string, line int, msg string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(file)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(strconv.Itoa(line))
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(msg)
	return d.Sum64()
}

// register adds a call site and returns its id. Registering the same
// site again returns the same id.
func (r *siteRegistry) register(info StaticLogInfo) uint32 {
	key := siteKey(info.File, info.Line, info.Message)

	r.mu.Lock()
	if id, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return id
	}

	id := uint32(len(r.sites))
	info.ID = id
	r.sites = append(r.sites, info)
	r.byKey[key] = id
	r.size.Store(uint32(len(r.sites)))
	r.mu.Unlock()
	return id
}

// pending reports whether entries past index from exist. Safe to call
// without the mutex.
func (r *siteRegistry) pending(from int) bool {
	return uint32(from) < r.size.Load()
}

// count returns the number of registered sites
func (r *siteRegistry) count() int {
	return int(r.size.Load())
}
