// +build !linux

package regs

import "errors"

var ErrMMIOUnsupported = errors.New("Memory mapped registers are only supported on Linux")

type MMIO struct{}

func OpenMMIO(device string, base uint64, size int) (*MMIO, error) {
	return nil, ErrMMIOUnsupported
}

func (m *MMIO) Close() error                        { return nil }
func (m *MMIO) Read16(offset uint32) uint16         { return 0 }
func (m *MMIO) Read32(offset uint32) uint32         { return 0 }
func (m *MMIO) Write16(offset uint32, value uint16) {}
func (m *MMIO) Write32(offset uint32, value uint32) {}
