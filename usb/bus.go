package usb

import (
	"fmt"

	"github.com/datascaled/hyperx-pilot/core"
)

var ErrNotFound = fmt.Errorf("device not found")

// USB fans a core.Bus out over several backends. Each backend owns a
// path prefix, so routing an open is a prefix check.
type USB struct {
	buses []core.Bus
}

func Init(buses ...core.Bus) *USB {
	return &USB{
		buses: buses,
	}
}

func (b *USB) Has(path string) bool {
	for _, b := range b.buses {
		if b.Has(path) {
			return true
		}
	}
	return false
}

func (b *USB) Enumerate() ([]core.BusInfo, error) {
	var infos []core.BusInfo

	for _, b := range b.buses {
		l, err := b.Enumerate()
		if err != nil {
			return nil, err
		}
		infos = append(infos, l...)
	}
	return infos, nil
}

func (b *USB) Connect(path string) (core.BusDevice, error) {
	for _, b := range b.buses {
		if b.Has(path) {
			return b.Connect(path)
		}
	}
	return nil, ErrNotFound
}
