package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/datascaled/hyperx-pilot/memorywriter"
	"github.com/datascaled/hyperx-pilot/protocol"
)

// fakeDevice emulates the feature report store of one Cloud III headset.
type fakeDevice struct {
	mu       sync.Mutex
	sidetone bool
	spatial  bool

	open    *int32 // concurrent-open counter shared with the bus
	failIO  bool
	badEcho bool // answer reads with a garbage selector
}

func (d *fakeDevice) SendFeature(data []byte) (int, error) {
	if d.failIO {
		return 0, errors.New("unplugged")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch data[0] {
	case 0x20:
		d.sidetone = data[2] == 1
	case 0x52:
		d.spatial = data[3] == 0x00 && data[4] == 0xFF
	}
	return len(data), nil
}

func (d *fakeDevice) GetFeature(reportID byte, length int) ([]byte, error) {
	if d.failIO {
		return nil, errors.New("unplugged")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	report := make([]byte, length)
	report[0] = reportID
	switch reportID {
	case 0x20:
		report[1] = 0x86
		if d.sidetone {
			report[2] = 1
		}
		if d.badEcho {
			report[1] = 0x13
		}
	case 0x52:
		report[3], report[4] = 0xFF, 0x00
		if d.spatial {
			report[3], report[4] = 0x00, 0xFF
		}
	}
	return report, nil
}

func (d *fakeDevice) Close() error {
	atomic.AddInt32(d.open, -1)
	return nil
}

type fakeBus struct {
	infos   []BusInfo
	devices map[string]*fakeDevice
	enumErr error

	opens int32 // currently open handles
}

func (b *fakeBus) Enumerate() ([]BusInfo, error) {
	if b.enumErr != nil {
		return nil, b.enumErr
	}
	return b.infos, nil
}

func (b *fakeBus) Connect(path string) (BusDevice, error) {
	dev, ok := b.devices[path]
	if !ok {
		return nil, errors.New("no such device")
	}
	if atomic.AddInt32(&b.opens, 1) > 1 {
		panic("second concurrent open on fake bus")
	}
	dev.open = &b.opens
	return dev, nil
}

func (b *fakeBus) Has(path string) bool {
	_, ok := b.devices[path]
	return ok
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		infos: []BusInfo{
			{Path: "hid-dev1", VendorID: 0x03F0, ProductID: 0x089D},
			{Path: "hid-mouse", VendorID: 0x1234, ProductID: 0x5678},
		},
		devices: map[string]*fakeDevice{
			"hid-dev1": {},
		},
	}
}

func newTestCore(bus Bus) *Core {
	return New(bus, memorywriter.New(1000, 10, false))
}

func TestEnumerateFiltersUnsupported(t *testing.T) {
	c := newTestCore(newFakeBus())
	entries, err := c.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(entries), entries)
	}
	e := entries[0]
	if e.ID != "hid-dev1" || e.Model != protocol.ModelCloudIIIWired {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Label == "" {
		t.Error("entry has no label")
	}
}

func TestEnumerateEmptyBusIsNotAnError(t *testing.T) {
	c := newTestCore(&fakeBus{})
	entries, err := c.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestEnumerateMapsBusFailure(t *testing.T) {
	c := newTestCore(&fakeBus{enumErr: errors.New("hid subsystem unavailable")})
	_, err := c.Enumerate()
	if !errors.Is(err, ErrEnumeration) {
		t.Errorf("got %v, want ErrEnumeration", err)
	}
}

func TestSidetoneSetThenGet(t *testing.T) {
	bus := newFakeBus()
	c := newTestCore(bus)
	ctx := context.Background()

	if err := c.SetSidetone(ctx, "hid-dev1", true); err != nil {
		t.Fatal(err)
	}
	enabled, err := c.GetSidetone(ctx, "hid-dev1")
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("sidetone not enabled after set")
	}

	if err := c.SetSidetone(ctx, "hid-dev1", false); err != nil {
		t.Fatal(err)
	}
	enabled, err = c.GetSidetone(ctx, "hid-dev1")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("sidetone still enabled after clear")
	}

	if got := atomic.LoadInt32(&bus.opens); got != 0 {
		t.Errorf("%d handles left open after calls", got)
	}
}

func TestSpatialSetPatchesReadBack(t *testing.T) {
	bus := newFakeBus()
	c := newTestCore(bus)
	ctx := context.Background()

	if err := c.SetSpatial(ctx, "hid-dev1", true); err != nil {
		t.Fatal(err)
	}
	enabled, err := c.GetSpatial(ctx, "hid-dev1")
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("spatial not enabled after set")
	}
}

func TestStaleIDIsDeviceNotFound(t *testing.T) {
	c := newTestCore(newFakeBus())
	_, err := c.GetSidetone(context.Background(), "hid-gone")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("got %v, want ErrDeviceNotFound", err)
	}
}

func TestMidCallUnplugIsIOError(t *testing.T) {
	bus := newFakeBus()
	bus.devices["hid-dev1"].failIO = true
	c := newTestCore(bus)

	_, err := c.GetSidetone(context.Background(), "hid-dev1")
	if !errors.Is(err, ErrIO) {
		t.Errorf("got %v, want ErrIO", err)
	}

	// the service survives the failed call
	bus.devices["hid-dev1"].failIO = false
	if _, err := c.GetSidetone(context.Background(), "hid-dev1"); err != nil {
		t.Errorf("call after failure: %v", err)
	}
	if got := atomic.LoadInt32(&bus.opens); got != 0 {
		t.Errorf("%d handles left open after failed call", got)
	}
}

func TestGarbageReadBackIsProtocolError(t *testing.T) {
	bus := newFakeBus()
	bus.devices["hid-dev1"].badEcho = true
	c := newTestCore(bus)

	_, err := c.GetSidetone(context.Background(), "hid-dev1")
	if !protocol.IsProtocolError(err) {
		t.Errorf("got %v, want a protocol error", err)
	}
}

func TestSingleFlightPerDevice(t *testing.T) {
	bus := newFakeBus()
	c := newTestCore(bus)

	// claim the device's flag as an in-flight call would
	flag := c.flightFlag("hid-dev1")
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		t.Fatal("flag already claimed")
	}
	defer atomic.StoreInt32(flag, 0)

	err := c.SetSidetone(context.Background(), "hid-dev1", true)
	if !errors.Is(err, ErrOtherCall) {
		t.Errorf("got %v, want ErrOtherCall", err)
	}
	if got := atomic.LoadInt32(&bus.opens); got != 0 {
		t.Errorf("busy call opened %d handles", got)
	}
}

func TestListenReturnsOnChange(t *testing.T) {
	bus := newFakeBus()
	c := newTestCore(bus)

	entries, err := c.Enumerate()
	if err != nil {
		t.Fatal(err)
	}

	// stale previous list differs immediately
	res, err := c.Listen(context.Background(), Descriptors{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != len(entries) {
		t.Errorf("listen returned %d entries, want %d", len(res), len(entries))
	}
}

func TestListenStopsOnClosedRequest(t *testing.T) {
	bus := newFakeBus()
	c := newTestCore(bus)

	entries, err := c.Enumerate()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Listen(ctx, entries)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("cancelled listen returned %v", res)
	}
}
