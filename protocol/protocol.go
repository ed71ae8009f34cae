package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Package protocol translates between logical headset operations and the
// vendor HID feature reports that carry them. The report layouts were
// recovered from traffic captures, not a vendor document, so decoding is
// deliberately strict: any byte pattern that is not positively recognized
// is an error, never a guessed boolean.
//
// Buffers follow the hidapi convention: byte 0 is the report ID, the
// payload starts at byte 1.

// Model identifies a supported headset variant. Every model maps to
// exactly one CommandSpec; nothing outside this package needs to know
// report bytes.
type Model int

const (
	ModelUnknown Model = iota
	ModelCloudIIIWired
)

func (m Model) String() string {
	switch m {
	case ModelCloudIIIWired:
		return "cloud-iii-wired"
	default:
		return "unknown"
	}
}

// Label is the human-readable device name shown to users.
func (m Model) Label() string {
	switch m {
	case ModelCloudIIIWired:
		return "HyperX Cloud III (wired)"
	default:
		return "Unknown headset"
	}
}

var (
	ErrUnknownModel       = errors.New("unknown headset model")
	ErrUnsupportedFeature = errors.New("feature not supported on this model")

	// Decode failures. A selector or report ID mismatch means either a
	// wrong model match or a firmware variant we have not captured.
	ErrTruncatedReport    = errors.New("truncated feature report")
	ErrUnexpectedReportID = errors.New("unexpected report id")
	ErrUnexpectedSelector = errors.New("unexpected selector byte")
	ErrUnexpectedValue    = errors.New("unrecognized state value")
)

// IsProtocolError reports whether err is a decode failure, as opposed to
// a transport or lookup error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrTruncatedReport) ||
		errors.Is(err, ErrUnexpectedReportID) ||
		errors.Is(err, ErrUnexpectedSelector) ||
		errors.Is(err, ErrUnexpectedValue)
}

// sidetoneSpec is the layout of the sidetone switch report:
// [0] report ID, [1] selector, [2:4] uint16 LE (1 on, 0 off), zero padded.
type sidetoneSpec struct {
	reportID byte
	selector byte
	length   int
}

// spatialSpec is the layout of the spatial sound report. The switch is a
// byte pair at flagOffset: 00 ff means on, ff 00 means off. The rest of
// the report is opaque configuration, so writes must patch a read-back
// copy instead of composing a report from scratch.
type spatialSpec struct {
	reportID   byte
	length     int
	flagOffset int
}

// CommandSpec maps the logical operations of one model onto concrete
// feature reports. A nil member means the feature was never observed on
// that model.
type CommandSpec struct {
	sidetone *sidetoneSpec
	spatial  *spatialSpec

	// control interface of the HID feature endpoint, used to pick one
	// hidraw node among the several a composite device exposes
	controlInterface int
}

// Interface returns the HID interface number carrying the control
// endpoint for the model.
func (s CommandSpec) Interface() int {
	return s.controlInterface
}

var commandSpecs = map[Model]CommandSpec{
	ModelCloudIIIWired: {
		sidetone: &sidetoneSpec{
			reportID: 0x20,
			selector: 0x86,
			length:   62,
		},
		spatial: &spatialSpec{
			reportID:   0x52,
			length:     162,
			flagOffset: 3,
		},
		controlInterface: 3,
	},
}

// Spec looks up the CommandSpec for a model.
func Spec(m Model) (CommandSpec, error) {
	s, ok := commandSpecs[m]
	if !ok {
		return CommandSpec{}, fmt.Errorf("%w: %s", ErrUnknownModel, m)
	}
	return s, nil
}

// device signatures observed on the USB bus
const (
	vendorHP        = 0x03F0
	productCloudIII = 0x089D
)

// Identify maps a (vendor, product) pair to a supported model. The false
// return is the normal answer for every unrelated HID device on the bus.
func Identify(vendorID, productID uint16) (Model, bool) {
	if vendorID == vendorHP && productID == productCloudIII {
		return ModelCloudIIIWired, true
	}
	return ModelUnknown, false
}

// Supported lists all models this build knows how to drive.
func Supported() []Model {
	models := make([]Model, 0, len(commandSpecs))
	for m := range commandSpecs {
		models = append(models, m)
	}
	return models
}

// EncodeSidetoneWrite builds the full feature report switching sidetone
// on or off. Pure function, no I/O.
func EncodeSidetoneWrite(m Model, enabled bool) ([]byte, error) {
	spec, err := Spec(m)
	if err != nil {
		return nil, err
	}
	if spec.sidetone == nil {
		return nil, fmt.Errorf("%w: sidetone on %s", ErrUnsupportedFeature, m)
	}
	var value uint16
	if enabled {
		value = 1
	}
	buf := make([]byte, spec.sidetone.length)
	buf[0] = spec.sidetone.reportID
	buf[1] = spec.sidetone.selector
	binary.LittleEndian.PutUint16(buf[2:4], value)
	return buf, nil
}

// SidetoneReadRequest returns the report ID and length to request when
// reading the sidetone state back.
func SidetoneReadRequest(m Model) (reportID byte, length int, err error) {
	spec, err := Spec(m)
	if err != nil {
		return 0, 0, err
	}
	if spec.sidetone == nil {
		return 0, 0, fmt.Errorf("%w: sidetone on %s", ErrUnsupportedFeature, m)
	}
	return spec.sidetone.reportID, spec.sidetone.length, nil
}

// DecodeSidetoneRead extracts the sidetone state from a read-back report.
// The device echoes the report ID and selector of a valid response; only
// the exact values 0 and 1 are recognized as states.
func DecodeSidetoneRead(m Model, report []byte) (bool, error) {
	spec, err := Spec(m)
	if err != nil {
		return false, err
	}
	if spec.sidetone == nil {
		return false, fmt.Errorf("%w: sidetone on %s", ErrUnsupportedFeature, m)
	}
	if len(report) < 4 {
		return false, fmt.Errorf("%w: got %d bytes, want at least 4", ErrTruncatedReport, len(report))
	}
	if report[0] != spec.sidetone.reportID {
		return false, fmt.Errorf("%w: 0x%02X, want 0x%02X", ErrUnexpectedReportID, report[0], spec.sidetone.reportID)
	}
	if report[1] != spec.sidetone.selector {
		return false, fmt.Errorf("%w: 0x%02X, want 0x%02X", ErrUnexpectedSelector, report[1], spec.sidetone.selector)
	}
	switch binary.LittleEndian.Uint16(report[2:4]) {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%04X", ErrUnexpectedValue, binary.LittleEndian.Uint16(report[2:4]))
	}
}

// spatial flag pair values as captured: 00 ff enabled, ff 00 disabled
var (
	spatialOn  = [2]byte{0x00, 0xFF}
	spatialOff = [2]byte{0xFF, 0x00}
)

// SpatialReadRequest returns the report ID and length to request when
// reading the spatial sound configuration.
func SpatialReadRequest(m Model) (reportID byte, length int, err error) {
	spec, err := Spec(m)
	if err != nil {
		return 0, 0, err
	}
	if spec.spatial == nil {
		return 0, 0, fmt.Errorf("%w: spatial sound on %s", ErrUnsupportedFeature, m)
	}
	return spec.spatial.reportID, spec.spatial.length, nil
}

// DecodeSpatialRead extracts the spatial sound state from a configuration
// report.
func DecodeSpatialRead(m Model, report []byte) (bool, error) {
	spec, err := Spec(m)
	if err != nil {
		return false, err
	}
	if spec.spatial == nil {
		return false, fmt.Errorf("%w: spatial sound on %s", ErrUnsupportedFeature, m)
	}
	off := spec.spatial.flagOffset
	if len(report) < off+2 {
		return false, fmt.Errorf("%w: got %d bytes, want at least %d", ErrTruncatedReport, len(report), off+2)
	}
	if report[0] != spec.spatial.reportID {
		return false, fmt.Errorf("%w: 0x%02X, want 0x%02X", ErrUnexpectedReportID, report[0], spec.spatial.reportID)
	}
	pair := [2]byte{report[off], report[off+1]}
	switch pair {
	case spatialOn:
		return true, nil
	case spatialOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: flag pair %02X %02X", ErrUnexpectedValue, pair[0], pair[1])
	}
}

// PatchSpatialWrite flips the spatial flag pair inside a previously read
// configuration report, in place. The surrounding bytes carry settings we
// must not disturb, which is why there is no from-scratch spatial encode.
func PatchSpatialWrite(m Model, report []byte, enabled bool) error {
	spec, err := Spec(m)
	if err != nil {
		return err
	}
	if spec.spatial == nil {
		return fmt.Errorf("%w: spatial sound on %s", ErrUnsupportedFeature, m)
	}
	off := spec.spatial.flagOffset
	if len(report) < off+2 {
		return fmt.Errorf("%w: got %d bytes, want at least %d", ErrTruncatedReport, len(report), off+2)
	}
	if report[0] != spec.spatial.reportID {
		return fmt.Errorf("%w: 0x%02X, want 0x%02X", ErrUnexpectedReportID, report[0], spec.spatial.reportID)
	}
	pair := spatialOff
	if enabled {
		pair = spatialOn
	}
	report[off] = pair[0]
	report[off+1] = pair[1]
	return nil
}
