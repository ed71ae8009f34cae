package usb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	hidapi "github.com/sstallion/go-hid"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"
	"github.com/datascaled/hyperx-pilot/protocol"
)

const hidapiPrefix = "hid"

// HIDAPI is the hardware backend, a thin wrapper over the platform hidapi
// library. It filters enumeration down to supported headsets and exposes
// their control interface as feature-report devices. No retries here; all
// retry policy lives in core.
type HIDAPI struct {
	log *memorywriter.MemoryWriter
}

func InitHIDAPI(log *memorywriter.MemoryWriter) (*HIDAPI, error) {
	if err := hidapi.Init(); err != nil {
		return nil, err
	}
	return &HIDAPI{log: log}, nil
}

func (b *HIDAPI) Close() error {
	return hidapi.Exit()
}

func (b *HIDAPI) Enumerate() ([]core.BusInfo, error) {
	var infos []core.BusInfo

	// enumerate everything; match() narrows it down
	err := hidapi.Enumerate(0, 0, func(dev *hidapi.DeviceInfo) error {
		if b.match(dev) {
			infos = append(infos, core.BusInfo{
				Path:      b.identify(dev),
				VendorID:  dev.VendorID,
				ProductID: dev.ProductID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (b *HIDAPI) Has(path string) bool {
	return strings.HasPrefix(path, hidapiPrefix)
}

func (b *HIDAPI) Connect(path string) (core.BusDevice, error) {
	var osPath string
	err := hidapi.Enumerate(0, 0, func(dev *hidapi.DeviceInfo) error {
		if osPath == "" && b.match(dev) && b.identify(dev) == path {
			osPath = dev.Path
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if osPath == "" {
		return nil, ErrNotFound
	}

	d, err := hidapi.OpenPath(osPath)
	if err != nil {
		// most commonly a missing udev rule on Linux
		return nil, fmt.Errorf("opening %s (check device node permissions): %w", osPath, err)
	}
	b.log.Log("hidapi - connected " + path)
	return &hidDevice{dev: d}, nil
}

// match keeps exactly one hidraw node per headset: the interface carrying
// the vendor feature endpoint. A composite audio device exposes several
// nodes; the others never answer the control reports.
func (b *HIDAPI) match(d *hidapi.DeviceInfo) bool {
	model, ok := protocol.Identify(d.VendorID, d.ProductID)
	if !ok {
		return false
	}
	spec, err := protocol.Spec(model)
	if err != nil {
		return false
	}
	return d.InterfaceNbr == spec.Interface()
}

// identify derives the catalog id from the OS path. Hashing keeps ids
// uniform across platforms and avoids leaking bus topology to callers.
func (b *HIDAPI) identify(dev *hidapi.DeviceInfo) string {
	digest := sha256.Sum256([]byte(dev.Path))
	return hidapiPrefix + hex.EncodeToString(digest[:])
}

type hidDevice struct {
	dev *hidapi.Device
}

func (d *hidDevice) SendFeature(data []byte) (int, error) {
	return d.dev.SendFeatureReport(data)
}

func (d *hidDevice) GetFeature(reportID byte, length int) ([]byte, error) {
	buf := make([]byte, length)
	buf[0] = reportID
	n, err := d.dev.GetFeatureReport(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (d *hidDevice) Close() error {
	return d.dev.Close()
}
