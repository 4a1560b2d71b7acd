// Package cache persists discovered GATT profiles so a reconnect can skip
// full discovery where the backend allows it.
package cache

import (
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

type gattCache struct {
	filename string
	lock     sync.RWMutex
}

// New returns a cache persisted as one JSON file keyed by address.
func New(filename string) blecentral.GattCache {
	gc := gattCache{
		filename: filename,
	}

	return &gc
}

func (gc *gattCache) Store(mac blecentral.Addr, profile blecentral.Profile, replace bool) error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	cache, err := gc.loadExisting()
	if err != nil {
		return err
	}

	_, ok := cache[mac.String()]
	if ok && !replace {
		return errors.Errorf("cache already contains gatt db for %s", mac.String())
	}

	cache[mac.String()] = profile

	return gc.storeCache(cache)
}

func (gc *gattCache) Load(mac blecentral.Addr) (blecentral.Profile, error) {
	gc.lock.RLock()
	defer gc.lock.RUnlock()

	cache, err := gc.loadExisting()
	if err != nil {
		return blecentral.Profile{}, err
	}

	p, ok := cache[mac.String()]
	if !ok {
		return blecentral.Profile{}, blecentral.NotFoundf("gatt db for %s in cache", mac.String())
	}

	return p, nil
}

func (gc *gattCache) Remove(mac blecentral.Addr) error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	cache, err := gc.loadExisting()
	if err != nil {
		return err
	}

	if _, ok := cache[mac.String()]; !ok {
		return nil
	}
	delete(cache, mac.String())

	return gc.storeCache(cache)
}

func (gc *gattCache) Clear() error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	err := os.Remove(gc.filename)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clear gatt cache")
	}

	return nil
}

func (gc *gattCache) loadExisting() (map[string]blecentral.Profile, error) {
	in, err := os.ReadFile(gc.filename)
	if os.IsNotExist(err) {
		return map[string]blecentral.Profile{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read gatt cache")
	}

	var cache map[string]blecentral.Profile
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, errors.Wrap(err, "decode gatt cache")
	}
	if cache == nil {
		cache = map[string]blecentral.Profile{}
	}

	return cache, nil
}

func (gc *gattCache) storeCache(cache map[string]blecentral.Profile) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return errors.Wrap(err, "encode gatt cache")
	}

	return os.WriteFile(gc.filename, out, 0644)
}
