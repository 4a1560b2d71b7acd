// Package bond records bonded peripherals for backends whose platform
// stack cannot list them.
package bond

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

const (
	bondFilename = "bonds.json"
)

type manager struct {
	lock     sync.RWMutex
	filename string
}

type bondInfo struct {
	Bonds []remoteInfo `json:"bonds"`
}

type remoteInfo struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// DefaultPath is bonds.json in $SNAP_DATA, or the working directory when unset.
func DefaultPath() string {
	return filepath.Join(os.Getenv("SNAP_DATA"), bondFilename)
}

// NewBondManager returns a store persisted in filename, DefaultPath when empty.
func NewBondManager(filename string) blecentral.BondStore {
	if filename == "" {
		filename = DefaultPath()
	}
	return &manager{filename: filename}
}

func (m *manager) Exists(a blecentral.Addr) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.loadBonds()
	if err != nil {
		blecentral.GetLogger().Errorf("bond store: %v", err)
		return false
	}

	return bonds.index(a.String()) >= 0
}

func (m *manager) Save(a blecentral.Addr, name string) error {
	if a == nil || a.String() == "" {
		return errors.New("invalid address")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	bonds, err := m.loadBonds()
	if err != nil {
		return err
	}

	ri := remoteInfo{Address: a.String(), Name: name}
	if i := bonds.index(ri.Address); i >= 0 {
		bonds.Bonds[i] = ri
	} else {
		bonds.Bonds = append(bonds.Bonds, ri)
	}

	return m.storeBonds(bonds)
}

func (m *manager) Delete(a blecentral.Addr) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	bonds, err := m.loadBonds()
	if err != nil {
		return err
	}

	i := bonds.index(a.String())
	if i < 0 {
		return blecentral.NotFoundf("bond information for %s", a.String())
	}
	bonds.Bonds = append(bonds.Bonds[:i], bonds.Bonds[i+1:]...)

	return m.storeBonds(bonds)
}

func (m *manager) List() ([]blecentral.Device, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.loadBonds()
	if err != nil {
		return nil, err
	}

	out := make([]blecentral.Device, 0, len(bonds.Bonds))
	for _, b := range bonds.Bonds {
		out = append(out, blecentral.Device{Addr: blecentral.NewAddr(b.Address), Name: b.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.String() < out[j].Addr.String() })
	return out, nil
}

func (b *bondInfo) index(addr string) int {
	for i, r := range b.Bonds {
		if r.Address == addr {
			return i
		}
	}
	return -1
}

func (m *manager) loadBonds() (*bondInfo, error) {
	fileData, err := os.ReadFile(m.filename)
	if os.IsNotExist(err) {
		return &bondInfo{Bonds: make([]remoteInfo, 0, 1)}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bond file information")
	}

	var bonds bondInfo
	if len(fileData) > 0 {
		err = jsoniter.Unmarshal(fileData, &bonds)
		if err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal current bond info")
		}
	}

	if len(bonds.Bonds) == 0 {
		bonds.Bonds = make([]remoteInfo, 0, 1)
	}

	return &bonds, nil
}

func (m *manager) storeBonds(bonds *bondInfo) error {
	out, err := jsoniter.Marshal(bonds)
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds to json")
	}

	err = os.WriteFile(m.filename, out, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to update bond information")
	}

	return nil
}
