// Package inventory resolves device IDs to connection metadata. The
// inventory is owned by the wider management platform; this engine only
// reads a JSON export of it.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
)

// ErrDeviceNotFound is returned when a device ID is not in the inventory.
var ErrDeviceNotFound = errors.New("device not found")

type inventoryFile struct {
	Devices []model.Device `json:"devices"`
}

// Inventory is a read-only device lookup table.
type Inventory struct {
	devices map[string]model.Device
	order   []string
}

// Load reads the device inventory from a JSON file. A missing file yields an
// empty inventory so the daemon can start before the first export lands.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Device inventory file not found, starting empty", "path", path)
			return FromDevices(nil), nil
		}
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}

	var f inventoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}

	inv := FromDevices(f.Devices)
	log.Info("Device inventory loaded", "path", path, "devices", len(inv.order))
	return inv, nil
}

// FromDevices builds an inventory from a device slice. Later duplicates win.
func FromDevices(devices []model.Device) *Inventory {
	inv := &Inventory{devices: make(map[string]model.Device, len(devices))}
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if _, seen := inv.devices[d.ID]; !seen {
			inv.order = append(inv.order, d.ID)
		}
		inv.devices[d.ID] = d
	}
	return inv
}

// Get returns the device with the given ID.
func (i *Inventory) Get(id string) (model.Device, error) {
	d, ok := i.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %q: %w", id, ErrDeviceNotFound)
	}
	return d, nil
}

// List returns all devices in file order.
func (i *Inventory) List() []model.Device {
	out := make([]model.Device, 0, len(i.order))
	for _, id := range i.order {
		out = append(out, i.devices[id])
	}
	return out
}
