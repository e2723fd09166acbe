// Package pci is a minimal PCI bus enumerator: just enough of a bus scan to
// hand a driver a bus/device/function handle with vendor/device identity
// and a base-address region. It knows nothing about any particular device;
// internal/nic attaches to the one Func whose vendor/device identity
// matches the e1000 it drives.
package pci

import (
	"fmt"

	"github.com/jaypipes/pcidb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BAR is one base-address region: a byte-addressable memory-mapped window
// sized to hold a device's register file.
type BAR struct {
	Size uint32
}

// Func is a single PCI bus/device/function entry — the handle the bus
// driver's scan hands to a matching driver's attach routine.
type Func struct {
	Bus, Device, Function int
	VendorID, DeviceID    uint16
	Bars                  [6]BAR

	enabled bool
}

// NewFunc constructs a Func as the bus enumerator would after walking
// config space.
func NewFunc(bus, device, function int, vendorID, deviceID uint16, bar0Size uint32) *Func {
	f := &Func{Bus: bus, Device: device, Function: function, VendorID: vendorID, DeviceID: deviceID}
	f.Bars[0].Size = bar0Size
	return f
}

// Enable is pci_func_enable: turns on bus mastering and memory decoding for
// the function so the driver can touch its BARs.
func (f *Func) Enable() error {
	if f == nil {
		return errors.New("pci: enable of nil function")
	}
	f.enabled = true
	return nil
}

// Enabled reports whether Enable has run.
func (f *Func) Enabled() bool { return f != nil && f.enabled }

// Describe returns a human-readable vendor/device string, used by the
// kernel monitor's kerninfo and by attach-time logging. It degrades to the
// raw numeric ids if the pcidb database can't be loaded (e.g. no network
// access to refresh its cache), which is expected in a sandboxed kernel
// build and not an attach failure.
func (f *Func) Describe(log *logrus.Logger) string {
	db, err := pcidb.New()
	if err != nil {
		if log != nil {
			log.WithError(err).Debug("pci: pcidb unavailable, falling back to numeric ids")
		}
		return fmt.Sprintf("%04x:%04x", f.VendorID, f.DeviceID)
	}
	vendorKey := fmt.Sprintf("%04x", f.VendorID)
	deviceKey := fmt.Sprintf("%04x", f.DeviceID)
	vendor, ok := db.Vendors[vendorKey]
	if !ok {
		return fmt.Sprintf("%04x:%04x", f.VendorID, f.DeviceID)
	}
	product, ok := vendor.Products[deviceKey]
	if !ok {
		return fmt.Sprintf("%s:%04x", vendor.Name, f.DeviceID)
	}
	return fmt.Sprintf("%s %s", vendor.Name, product.Name)
}
