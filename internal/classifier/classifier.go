// Package classifier turns a VAPIX basicdeviceinfo.cgi property list into a
// device kind and firmware-support verdict.
package classifier

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Kind is the coarse device category derived from the product number prefix.
type Kind string

const (
	KindCamera        Kind = "camera"
	KindSpeaker       Kind = "speaker"
	KindIntercom      Kind = "intercom"
	KindAccessControl Kind = "access-control"
	KindUnknown       Kind = "unknown"
)

// DefaultMinFirmware is the floor applied when no override is configured.
const DefaultMinFirmware = "11.11.0"

// Properties is the subset of VAPIX getProperties fields the classifier
// consumes.
type Properties struct {
	Brand        string
	ProdType     string
	ProdNbr      string
	ProdFullName string
	SerialNumber string
	Version      string
}

// Device is the classified result for one responding camera.
type Device struct {
	Kind         Kind
	Model        string
	SerialNumber string
	ProductNbr   string
	Firmware     string
	Supported    bool
}

// Classifier evaluates properties against a configured minimum firmware
// version.
type Classifier struct {
	minFirmware *semver.Version
}

// New builds a Classifier with the given minimum firmware floor. An empty
// string falls back to DefaultMinFirmware.
func New(minFirmware string) (*Classifier, error) {
	if minFirmware == "" {
		minFirmware = DefaultMinFirmware
	}
	v, err := semver.NewVersion(minFirmware)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum firmware %q: %w", minFirmware, err)
	}
	return &Classifier{minFirmware: v}, nil
}

// Classify maps props onto a Device. Brand must already have been checked
// to equal "AXIS" by the caller (see scanner.Probe); Classify only derives
// kind and firmware support.
func (c *Classifier) Classify(props Properties) Device {
	return Device{
		Kind:         kindOf(props.ProdNbr),
		Model:        props.ProdFullName,
		SerialNumber: props.SerialNumber,
		ProductNbr:   props.ProdNbr,
		Firmware:     props.Version,
		Supported:    c.meetsFirmwareFloor(props.Version),
	}
}

// meetsFirmwareFloor treats a missing or unparseable Version as unsupported
// whatever the floor, per SPEC_FULL.md's resolution of the "missing Version"
// open question.
func (c *Classifier) meetsFirmwareFloor(version string) bool {
	if version == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return !v.LessThan(c.minFirmware)
}

func kindOf(prodNbr string) Kind {
	if prodNbr == "" {
		return KindUnknown
	}
	switch prodNbr[0] {
	case 'M', 'm', 'P', 'p', 'Q', 'q':
		return KindCamera
	case 'C', 'c':
		return KindSpeaker
	case 'I', 'i':
		return KindIntercom
	case 'A', 'a':
		return KindAccessControl
	default:
		return KindUnknown
	}
}
