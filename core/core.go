package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datascaled/hyperx-pilot/memorywriter"
	"github.com/datascaled/hyperx-pilot/protocol"
)

// Package core holds the device catalog and the command service: listing
// attached headsets and driving their feature switches over a transport
// bus, with at most one call in flight per device.
//
// The usb package is not imported here - it pulls in cgo through the
// hidapi bindings, which slows down builds of everything above it, so the
// transport is an abstract interface wired up in main.

// Bus* interfaces are implemented in the usb package.

type Bus interface {
	Enumerate() ([]BusInfo, error)
	Connect(path string) (BusDevice, error)
	Has(path string) bool
}

type BusInfo struct {
	Path      string
	VendorID  uint16
	ProductID uint16
}

// BusDevice is one open HID handle. It is owned by a single call at a
// time and must be closed on every exit path, or other processes get a
// device-busy lockout.
type BusDevice interface {
	SendFeature(data []byte) (int, error)
	GetFeature(reportID byte, length int) ([]byte, error)
	Close() error
}

// DeviceDescriptor is the catalog entry for one attached headset.
// Descriptors are rebuilt on every enumeration pass; the ID is stable
// only while the device stays on the bus.
type DeviceDescriptor struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Vendor  uint16         `json:"vendor"`
	Product uint16         `json:"product"`
	Model   protocol.Model `json:"model"`
}

type Descriptors []DeviceDescriptor

func (d Descriptors) Sort() {
	sort.Slice(d, func(i, j int) bool { return d[i].ID < d[j].ID })
}

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrOtherCall      = errors.New("other call in progress on this device")
	ErrEnumeration    = errors.New("transport enumeration failed")
	ErrIO             = errors.New("device i/o failed")
)

type Core struct {
	bus Bus

	// Per-device single-flight flags. The map is guarded by callsMutex;
	// each flag is flipped with CAS so the busy check and the claim are
	// one step.
	inFlight   map[string]*int32
	callsMutex sync.Mutex

	// Enumeration must not touch the bus while a call is in progress,
	// or hidapi re-enumeration races the open handle. While calls run,
	// the last known infos are served instead.
	callsInProgress int
	enumMutex       sync.Mutex
	lastInfos       []BusInfo

	log *memorywriter.MemoryWriter
}

func New(bus Bus, log *memorywriter.MemoryWriter) *Core {
	return &Core{
		bus:      bus,
		inFlight: make(map[string]*int32),
		log:      log,
	}
}

func (c *Core) Log(s string) {
	c.log.Log("core - " + s)
}

// Enumerate lists attached supported headsets. Unknown devices are
// silently skipped; no device at all is an empty list, not an error.
func (c *Core) Enumerate() (Descriptors, error) {
	c.Log("enumerate locking enumMutex")
	c.enumMutex.Lock()
	defer c.enumMutex.Unlock()

	infos := c.lastInfos
	if c.callsInProgress == 0 {
		c.Log("enumerate bus")
		busInfos, err := c.bus.Enumerate()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
		}
		infos = busInfos
		c.lastInfos = infos
	} else {
		c.Log(fmt.Sprintf("enumerate frozen, %d calls in progress", c.callsInProgress))
	}

	entries := make(Descriptors, 0, len(infos))
	for _, info := range infos {
		model, ok := protocol.Identify(info.VendorID, info.ProductID)
		if !ok {
			continue
		}
		entries = append(entries, DeviceDescriptor{
			ID:      info.Path,
			Label:   model.Label(),
			Vendor:  info.VendorID,
			Product: info.ProductID,
			Model:   model,
		})
	}
	entries.Sort()
	return entries, nil
}

// Listen blocks until the device list differs from entries, then returns
// the new list. Used by the UI to long-poll plug and unplug events.
func (c *Core) Listen(ctx context.Context, entries Descriptors) (Descriptors, error) {
	c.Log("listen starting")

	const (
		iterMax   = 600
		iterDelay = 500 * time.Millisecond
	)

	entries.Sort()

	for i := 0; i < iterMax; i++ {
		e, err := c.Enumerate()
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(entries, e) {
			c.Log("listen different")
			return e, nil
		}
		select {
		case <-ctx.Done():
			c.Log("listen request closed")
			return nil, nil
		case <-time.After(iterDelay):
		}
	}
	c.Log("listen timed out, returning unchanged")
	return entries, nil
}

// GetSidetone reads the current sidetone state from the device.
func (c *Core) GetSidetone(ctx context.Context, deviceID string) (bool, error) {
	var enabled bool
	err := c.call(ctx, deviceID, "sidetone get", func(model protocol.Model, dev BusDevice) error {
		reportID, length, err := protocol.SidetoneReadRequest(model)
		if err != nil {
			return err
		}
		report, err := dev.GetFeature(reportID, length)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		enabled, err = protocol.DecodeSidetoneRead(model, report)
		return err
	})
	return enabled, err
}

// SetSidetone switches sidetone on or off. The write is not confirmed
// here; a caller that wants certainty issues a follow-up GetSidetone.
func (c *Core) SetSidetone(ctx context.Context, deviceID string, enabled bool) error {
	return c.call(ctx, deviceID, "sidetone set", func(model protocol.Model, dev BusDevice) error {
		report, err := protocol.EncodeSidetoneWrite(model, enabled)
		if err != nil {
			return err
		}
		if _, err := dev.SendFeature(report); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	})
}

// GetSpatial reads the current spatial sound state from the device.
func (c *Core) GetSpatial(ctx context.Context, deviceID string) (bool, error) {
	var enabled bool
	err := c.call(ctx, deviceID, "spatial get", func(model protocol.Model, dev BusDevice) error {
		reportID, length, err := protocol.SpatialReadRequest(model)
		if err != nil {
			return err
		}
		report, err := dev.GetFeature(reportID, length)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		enabled, err = protocol.DecodeSpatialRead(model, report)
		return err
	})
	return enabled, err
}

// SetSpatial switches spatial sound on or off. The configuration report
// carries more than the switch, so the current report is read first and
// only the flag pair is patched.
func (c *Core) SetSpatial(ctx context.Context, deviceID string, enabled bool) error {
	return c.call(ctx, deviceID, "spatial set", func(model protocol.Model, dev BusDevice) error {
		reportID, length, err := protocol.SpatialReadRequest(model)
		if err != nil {
			return err
		}
		report, err := dev.GetFeature(reportID, length)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := protocol.PatchSpatialWrite(model, report, enabled); err != nil {
			return err
		}
		if _, err := dev.SendFeature(report); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	})
}

// call is the single round-trip every command goes through: resolve the
// id against the catalog, claim the per-device flag, open, run, close.
// No retries; a failed call is reported as-is and the user retries.
func (c *Core) call(ctx context.Context, deviceID, what string, fn func(protocol.Model, BusDevice) error) error {
	c.Log(what + " - start")

	if err := ctx.Err(); err != nil {
		return err
	}

	model, err := c.resolve(deviceID)
	if err != nil {
		return err
	}

	flag := c.flightFlag(deviceID)
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		return ErrOtherCall
	}
	defer atomic.StoreInt32(flag, 0)

	c.enumMutex.Lock()
	c.callsInProgress++
	c.enumMutex.Unlock()
	defer func() {
		c.enumMutex.Lock()
		c.callsInProgress--
		c.enumMutex.Unlock()
	}()

	c.Log(what + " - connecting")
	dev, err := c.tryConnect(deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() {
		if errClose := dev.Close(); errClose != nil {
			// handle is gone either way, just log
			c.Log(what + " - close error: " + errClose.Error())
		}
	}()

	err = fn(model, dev)
	c.Log(what + " - done")
	return err
}

// resolve maps a device id to its model using the catalog as the single
// source of truth for which ids are currently valid.
func (c *Core) resolve(deviceID string) (protocol.Model, error) {
	entries, err := c.Enumerate()
	if err != nil {
		return protocol.ModelUnknown, err
	}
	for _, e := range entries {
		if e.ID == deviceID {
			return e.Model, nil
		}
	}
	return protocol.ModelUnknown, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

func (c *Core) flightFlag(deviceID string) *int32 {
	c.callsMutex.Lock()
	defer c.callsMutex.Unlock()
	flag, ok := c.inFlight[deviceID]
	if !ok {
		flag = new(int32)
		c.inFlight[deviceID] = flag
	}
	return flag
}

// Some hosts need a moment between enumeration and open after a replug.
// Try 3 times with a 100ms delay before giving up.
func (c *Core) tryConnect(path string) (BusDevice, error) {
	tries := 0
	for {
		dev, err := c.bus.Connect(path)
		if err == nil {
			return dev, nil
		}
		if tries >= 3 {
			return nil, err
		}
		c.Log(fmt.Sprintf("tryConnect - try %d failed: %s", tries, err))
		tries++
		time.Sleep(100 * time.Millisecond)
	}
}
