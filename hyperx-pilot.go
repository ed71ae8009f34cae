package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"
	"github.com/datascaled/hyperx-pilot/server"
	"github.com/datascaled/hyperx-pilot/usb"
	"gopkg.in/natefinch/lumberjack.v2"
)

const version = "1.0.0"

type emulatorPorts []int

func (p *emulatorPorts) String() string {
	res := ""
	for i, port := range *p {
		if i > 0 {
			res = res + ","
		}
		res = res + strconv.Itoa(port)
	}
	return res
}

func (p *emulatorPorts) Set(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*p = append(*p, port)
	return nil
}

func main() {
	var logfile string
	var ports emulatorPorts
	var withusb bool

	flag.StringVar(&logfile, "l", "", "Log into a file, rotating after 5MB")
	flag.Var(&ports, "e", "Use UDP port for a virtual headset. Can be repeated for more ports. Example: hyperx-pilot -e 21790 -e 21792")
	flag.BoolVar(&withusb, "u", true, "Use USB devices. Can be disabled for testing environments. Example: hyperx-pilot -e 21790 -u=false")
	flag.Parse()

	var stderrWriter io.Writer
	if logfile != "" {
		stderrWriter = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
		}
	} else {
		stderrWriter = os.Stderr
	}

	stderrLogger := log.New(stderrWriter, "", log.LstdFlags)

	longMemoryWriter := memorywriter.New(90000, 200, true)

	stderrLogger.Print("hyperx-pilot is starting.")

	var buses []core.Bus
	if withusb {
		longMemoryWriter.Log("initing hidapi")
		h, err := usb.InitHIDAPI(longMemoryWriter)
		if err != nil {
			stderrLogger.Fatalf("hidapi: %s", err)
		}
		defer h.Close()
		buses = append(buses, h)
	}

	longMemoryWriter.Log(fmt.Sprintf("emulator port count - %d", len(ports)))

	if len(ports) > 0 {
		devices := make([]usb.EmulatorDevice, 0, len(ports))
		for _, port := range ports {
			devices = append(devices, usb.EmulatorDevice{
				Port:      port,
				VendorID:  0x03F0,
				ProductID: 0x089D,
			})
		}
		e, err := usb.InitEmulator(devices)
		if err != nil {
			stderrLogger.Fatalf("emulator: %s", err)
		}
		buses = append(buses, e)
	}

	if len(buses) == 0 {
		stderrLogger.Fatalf("No transports enabled")
	}

	b := usb.Init(buses...)
	c := core.New(b, longMemoryWriter)

	longMemoryWriter.Log("creating HTTP server")
	s, err := server.New(c, stderrWriter, longMemoryWriter, version)
	if err != nil {
		stderrLogger.Fatalf("https: %s", err)
	}

	longMemoryWriter.Log("running HTTP server")
	err = s.Run()
	if err != nil {
		stderrLogger.Fatalf("https: %s", err)
	}

	longMemoryWriter.Log("main ended successfully")
}
