// Package registry owns every peripheral known to a central.
//
// The map is guarded by the registry lock; each peripheral guards its own
// state, so operations on different peripherals never contend.
package registry

import (
	"sort"
	"sync"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/peripheral"
)

type Registry struct {
	sync.RWMutex
	m   map[string]*peripheral.Peripheral
	cfg peripheral.Config
}

func New(cfg peripheral.Config) *Registry {
	return &Registry{
		m:   make(map[string]*peripheral.Peripheral),
		cfg: cfg,
	}
}

func key(a blecentral.Addr) string {
	return blecentral.NewAddr(a.String()).String()
}

// Get returns the peripheral for a.
func (r *Registry) Get(a blecentral.Addr) (*peripheral.Peripheral, bool) {
	r.RLock()
	defer r.RUnlock()
	p, ok := r.m[key(a)]
	return p, ok
}

// GetOrCreate returns the peripheral for a, creating an unscanned entry
// if needed.
func (r *Registry) GetOrCreate(a blecentral.Addr, name string) *peripheral.Peripheral {
	k := key(a)

	r.Lock()
	defer r.Unlock()
	if p, ok := r.m[k]; ok {
		p.SetName(name)
		return p
	}
	p := peripheral.New(blecentral.NewAddr(k), name, r.cfg)
	r.m[k] = p
	return p
}

// Upsert records a scan sighting. first is true for a new entry or one
// that had never been scanned.
func (r *Registry) Upsert(rec blecentral.ScanRecord) (p *peripheral.Peripheral, first bool) {
	k := key(rec.Addr)

	r.Lock()
	p, ok := r.m[k]
	if !ok {
		p = peripheral.New(blecentral.NewAddr(k), rec.Name, r.cfg)
		r.m[k] = p
	}
	r.Unlock()

	first = !ok || !p.Scanned()
	p.Update(rec.Name, rec.RSSI, rec.Advertising)
	return p, first
}

// EvictIdle drops every peripheral that is neither connected nor
// connecting.
func (r *Registry) EvictIdle() int {
	r.Lock()
	defer r.Unlock()

	n := 0
	for k, p := range r.m {
		if p.Busy() {
			continue
		}
		delete(r.m, k)
		n++
	}
	return n
}

// Remove drops a's entry.
func (r *Registry) Remove(a blecentral.Addr) {
	r.Lock()
	delete(r.m, key(a))
	r.Unlock()
}

// List returns peripherals ordered by address, only scanned ones when
// scannedOnly is set.
func (r *Registry) List(scannedOnly bool) []*peripheral.Peripheral {
	r.RLock()
	out := make([]*peripheral.Peripheral, 0, len(r.m))
	for _, p := range r.m {
		out = append(out, p)
	}
	r.RUnlock()

	if scannedOnly {
		kept := out[:0]
		for _, p := range out {
			if p.Scanned() {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr().String() < out[j].Addr().String()
	})
	return out
}

// Connected returns the peripherals currently connected.
func (r *Registry) Connected() []*peripheral.Peripheral {
	var out []*peripheral.Peripheral
	for _, p := range r.List(false) {
		if p.IsConnected() {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.m)
}
