package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

// DefaultMemoryEntries bounds the in-memory cache when no size is given.
const DefaultMemoryEntries = 128

// Memory keeps the most recently used profiles in memory in front of an
// optional backing cache. Writes go through to the backing cache; loads
// that miss in memory fall back to it.
type Memory struct {
	sync.Mutex
	lru     *lru.Cache
	backing blecentral.GattCache

	// OnEvicted, when set, is called with the address of a profile pushed
	// out of memory.
	OnEvicted func(addr string)
}

// NewMemory returns an LRU profile cache holding at most entries profiles.
// backing may be nil.
func NewMemory(entries int, backing blecentral.GattCache) *Memory {
	if entries <= 0 {
		entries = DefaultMemoryEntries
	}
	m := &Memory{
		lru:     lru.New(entries),
		backing: backing,
	}
	m.lru.OnEvicted = func(key lru.Key, _ interface{}) {
		if m.OnEvicted != nil {
			m.OnEvicted(key.(string))
		}
	}
	return m
}

func (m *Memory) Store(a blecentral.Addr, p blecentral.Profile, replace bool) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.lru.Get(a.String()); ok && !replace {
		return errors.Errorf("cache already contains gatt db for %s", a.String())
	}
	if m.backing != nil {
		if err := m.backing.Store(a, p, replace); err != nil {
			return err
		}
	}
	m.lru.Add(a.String(), p)
	return nil
}

func (m *Memory) Load(a blecentral.Addr) (blecentral.Profile, error) {
	m.Lock()
	defer m.Unlock()

	if v, ok := m.lru.Get(a.String()); ok {
		return v.(blecentral.Profile), nil
	}
	if m.backing == nil {
		return blecentral.Profile{}, blecentral.NotFoundf("gatt db for %s in cache", a.String())
	}
	p, err := m.backing.Load(a)
	if err != nil {
		return blecentral.Profile{}, err
	}
	m.lru.Add(a.String(), p)
	return p, nil
}

func (m *Memory) Remove(a blecentral.Addr) error {
	m.Lock()
	defer m.Unlock()

	m.lru.Remove(a.String())
	if m.backing != nil {
		return m.backing.Remove(a)
	}
	return nil
}

func (m *Memory) Clear() error {
	m.Lock()
	defer m.Unlock()

	m.lru.Clear()
	if m.backing != nil {
		return m.backing.Clear()
	}
	return nil
}

// Len returns the number of profiles held in memory.
func (m *Memory) Len() int {
	m.Lock()
	defer m.Unlock()
	return m.lru.Len()
}
