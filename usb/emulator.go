package usb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/datascaled/hyperx-pilot/core"
)

// Emulator talks to a virtual headset over a local UDP socket, so the
// daemon and its callers can be exercised without hardware. One virtual
// device per configured port; a device is listed only while its socket
// answers the probe.
//
// Datagram format:
//
//	probe:        "PINGPING"              -> "PONGPONG"
//	send feature: 'W' + report bytes      -> "ACK"
//	get feature:  'R' + id + len (u16 LE) -> report bytes

const (
	emulatorPrefix  = "emulator"
	emulatorNetwork = "udp"
	emulatorTimeout = 500 * time.Millisecond
)

var (
	emulatorPing = []byte("PINGPING")
	emulatorPong = []byte("PONGPONG")
	emulatorAck  = []byte("ACK")
)

// EmulatorDevice is the identity a virtual headset presents on the
// emulated bus.
type EmulatorDevice struct {
	Port      int
	VendorID  uint16
	ProductID uint16
}

type Emulator struct {
	devices []EmulatorDevice
}

func InitEmulator(devices []EmulatorDevice) (*Emulator, error) {
	return &Emulator{devices: devices}, nil
}

func (b *Emulator) Enumerate() ([]core.BusInfo, error) {
	var infos []core.BusInfo

	for _, d := range b.devices {
		if b.alive(d.Port) {
			infos = append(infos, core.BusInfo{
				Path:      emulatorPrefix + strconv.Itoa(d.Port),
				VendorID:  d.VendorID,
				ProductID: d.ProductID,
			})
		}
	}
	return infos, nil
}

func (b *Emulator) Has(path string) bool {
	return strings.HasPrefix(path, emulatorPrefix)
}

func (b *Emulator) Connect(path string) (core.BusDevice, error) {
	port, err := strconv.Atoi(strings.TrimPrefix(path, emulatorPrefix))
	if err != nil {
		return nil, ErrNotFound
	}
	for _, d := range b.devices {
		if d.Port == port {
			return b.dial(port)
		}
	}
	return nil, ErrNotFound
}

func (b *Emulator) alive(port int) bool {
	dev, err := b.dial(port)
	if err != nil {
		return false
	}
	defer dev.Close()

	response, err := dev.exchange(emulatorPing, len(emulatorPong))
	if err != nil {
		return false
	}
	return bytes.Equal(response, emulatorPong)
}

func (b *Emulator) dial(port int) (*emulatorConn, error) {
	conn, err := net.Dial(emulatorNetwork, fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	return &emulatorConn{conn: conn}, nil
}

type emulatorConn struct {
	conn net.Conn
}

func (d *emulatorConn) exchange(request []byte, responseLen int) ([]byte, error) {
	if err := d.conn.SetDeadline(time.Now().Add(emulatorTimeout)); err != nil {
		return nil, err
	}
	if _, err := d.conn.Write(request); err != nil {
		return nil, err
	}
	response := make([]byte, responseLen)
	n, err := d.conn.Read(response)
	if err != nil {
		return nil, err
	}
	return response[:n], nil
}

func (d *emulatorConn) SendFeature(data []byte) (int, error) {
	request := append([]byte{'W'}, data...)
	response, err := d.exchange(request, len(emulatorAck))
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(response, emulatorAck) {
		return 0, fmt.Errorf("emulator rejected feature report")
	}
	return len(data), nil
}

func (d *emulatorConn) GetFeature(reportID byte, length int) ([]byte, error) {
	request := make([]byte, 4)
	request[0] = 'R'
	request[1] = reportID
	binary.LittleEndian.PutUint16(request[2:4], uint16(length))
	return d.exchange(request, length)
}

func (d *emulatorConn) Close() error {
	return d.conn.Close()
}
