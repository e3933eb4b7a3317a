// Package policy decides, once at startup, which services exist and which bits they
// may access. Everything depending on the number of services derives from a Policy.
package policy

import (
	"fmt"

	"github.com/BertoldVdb/gpiosrv/gpio"
)

// FirmVersion is a kernel version as found in the configuration memory
type FirmVersion uint32

// SystemVersion packs a version from its components
func SystemVersion(major, minor, revision uint8) FirmVersion {
	return FirmVersion(uint32(major)<<24 | uint32(minor)<<16 | uint32(revision)<<8)
}

// Threshold is the first version with the NFC and QTM services
var Threshold = SystemVersion(2, 44, 6)

// Kernel drops the low byte, which is not part of the version
func (v FirmVersion) Kernel() FirmVersion {
	return v &^ 0xFF
}

func (v FirmVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", uint8(v>>24), uint8(v>>16), uint8(v>>8))
}

// ParseVersion parses "major.minor.revision"
func ParseVersion(s string) (FirmVersion, error) {
	var major, minor, revision uint8
	_, err := fmt.Sscanf(s, "%d.%d.%d", &major, &minor, &revision)
	if err != nil {
		return 0, fmt.Errorf("Invalid firmware version %q: %w", s, err)
	}
	return SystemVersion(major, minor, revision), nil
}

// Service describes a named endpoint and the bits it may use
type Service struct {
	Name string
	Mask gpio.Mask
}

var servicesV0 = []Service{
	{"gpio:CDC", gpio.MaskCDC},
	{"gpio:MCU", gpio.MaskMCU},
	{"gpio:HID", gpio.MaskHID},
	{"gpio:NWM", gpio.MaskNWM},
	{"gpio:IR", gpio.MaskIRLegacy},
}

var servicesV2048 = []Service{
	{"gpio:CDC", gpio.MaskCDC},
	{"gpio:MCU", gpio.MaskMCU},
	{"gpio:HID", gpio.MaskHID},
	{"gpio:NWM", gpio.MaskNWM},
	{"gpio:IR", gpio.MaskIR},
	{"gpio:NFC", gpio.MaskNFC},
	{"gpio:QTM", gpio.MaskQTM},
}

// Policy is immutable after New
type Policy struct {
	version  FirmVersion
	services []Service
}

func New(version FirmVersion) *Policy {
	p := &Policy{version: version.Kernel()}

	if p.version < Threshold {
		p.services = servicesV0
	} else {
		p.services = servicesV2048
	}

	return p
}

func (p *Policy) Version() FirmVersion {
	return p.version
}

// Legacy reports whether the system predates Threshold
func (p *Policy) Legacy() bool {
	return p.version < Threshold
}

func (p *Policy) ServiceCount() int {
	return len(p.services)
}

// Service returns the service with index i, 0 <= i < ServiceCount
func (p *Policy) Service(i int) Service {
	return p.services[i]
}

// Services returns a copy of all services
func (p *Policy) Services() []Service {
	return append([]Service(nil), p.services...)
}

// RemoteSessionIndex is the first handle index used by accepted sessions. Index 0 is
// the notification semaphore, followed by one listening port per service.
func (p *Policy) RemoteSessionIndex() int {
	return p.ServiceCount() + 1
}

// IndexMax is the size of the handle table
func (p *Policy) IndexMax() int {
	return p.ServiceCount()*2 + 1
}

// SessionCapacity is the number of sessions that can be open at once
func (p *Policy) SessionCapacity() int {
	return p.IndexMax() - p.RemoteSessionIndex()
}
