// Package mmio is the memory-mapped I/O bus: a table of address ranges
// that dispatch loads and stores to device drivers, adapted from
// internal/vm's MMIO controller for byte-addressable ranges rather than
// single LC-3 register addresses.
package mmio

import (
	"errors"
	"fmt"

	"github.com/kvik-os/rv39kern/internal/log"
)

// Device names a driver for logging and error messages.
type Device interface {
	Name() string
}

// ReadDriver serves loads from its mapped range. off is the byte offset
// from the range's base address.
type ReadDriver interface {
	Device
	Read(off uint64, size int) (uint64, error)
}

// WriteDriver serves stores to its mapped range.
type WriteDriver interface {
	Device
	Write(off uint64, size int, val uint64) error
}

var (
	errMMIO = errors.New("mmio")

	// ErrNoDevice is returned when an address has no mapped device.
	ErrNoDevice = fmt.Errorf("%w: no device", errMMIO)
)

type region struct {
	base, size uint64
	dev        Device
}

// Bus is the memory-mapped I/O bus. Devices are mapped over fixed address
// ranges; Load/Store resolve an address to the owning device and its
// offset within the range.
type Bus struct {
	regions []region
	log     *log.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Bus{log: logger}
}

// Map installs dev to serve the address range [base, base+size).
func (b *Bus) Map(base, size uint64, dev Device) {
	b.regions = append(b.regions, region{base: base, size: size, dev: dev})
	b.log.Debug("mmio: mapped device",
		log.String("NAME", dev.Name()),
		log.String("BASE", fmt.Sprintf("%#x", base)),
		log.String("SIZE", fmt.Sprintf("%#x", size)))
}

func (b *Bus) find(addr uint64) (region, uint64, bool) {
	for _, r := range b.regions {
		if addr >= r.base && addr < r.base+r.size {
			return r, addr - r.base, true
		}
	}

	return region{}, 0, false
}

// Load reads a size-byte (1, 2, 4 or 8) value from addr.
func (b *Bus) Load(addr uint64, size int) (uint64, error) {
	r, off, ok := b.find(addr)
	if !ok {
		return 0, fmt.Errorf("%w: load: addr %#x", ErrNoDevice, addr)
	}

	driver, ok := r.dev.(ReadDriver)
	if !ok {
		return 0, fmt.Errorf("%w: load: %s is not readable", errMMIO, r.dev.Name())
	}

	val, err := driver.Read(off, size)
	if err != nil {
		return 0, fmt.Errorf("mmio: load: %s: %w", r.dev.Name(), err)
	}

	b.log.Debug("mmio: loaded",
		log.String("DEVICE", r.dev.Name()),
		log.String("ADDR", fmt.Sprintf("%#x", addr)),
		log.String("DATA", fmt.Sprintf("%#x", val)))

	return val, nil
}

// Store writes a size-byte value to addr.
func (b *Bus) Store(addr uint64, size int, val uint64) error {
	r, off, ok := b.find(addr)
	if !ok {
		return fmt.Errorf("%w: store: addr %#x", ErrNoDevice, addr)
	}

	driver, ok := r.dev.(WriteDriver)
	if !ok {
		return fmt.Errorf("%w: store: %s is not writable", errMMIO, r.dev.Name())
	}

	if err := driver.Write(off, size, val); err != nil {
		return fmt.Errorf("mmio: store: %s: %w", r.dev.Name(), err)
	}

	b.log.Debug("mmio: stored",
		log.String("DEVICE", r.dev.Name()),
		log.String("ADDR", fmt.Sprintf("%#x", addr)),
		log.String("DATA", fmt.Sprintf("%#x", val)))

	return nil
}
