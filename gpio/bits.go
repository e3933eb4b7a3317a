// Package gpio describes the GPIO controller: the logical bits clients refer to, the
// physical registers backing them, the interrupt lines and the masks of each service.
package gpio

import (
	"fmt"
	"math/bits"
	"strings"
)

// Mask is a set of logical bits
type Mask uint32

// Bit returns the mask with only logical bit n set
func Bit(n uint) Mask {
	return Mask(1) << n
}

const (
	Mask0 Mask = 1 << iota
	Mask1
	Mask2
	Mask3
	Mask4
	Mask5
	Mask6
	Mask7
	Mask8
	Mask9
	Mask10
	Mask11
	Mask12
	Mask13
	Mask14
	Mask15
	Mask16
	Mask17
	Mask18
)

// Names known for some of the bits
const (
	HIDPad0   = Mask0
	IRSend    = Mask10
	IRReceive = Mask11
	HIDPad1   = Mask14
	WiFiState = Mask18
)

// BindMax is the number of logical bits, and thus of interrupt bind slots
const BindMax = 19

// Allowed bits per service
const (
	MaskCDC      = Mask6 | Mask3
	MaskMCU      = WiFiState | Mask15 | Mask5
	MaskHID      = HIDPad1 | Mask9 | Mask8 | HIDPad0
	MaskNWM      = WiFiState | Mask5
	MaskIRLegacy = IRReceive | IRSend | Mask7
	MaskIR       = IRReceive | IRSend | Mask9 | Mask7 | Mask6
	MaskNFC      = Mask16 | Mask13 | Mask12
	MaskQTM      = Mask17
)

// SubsetOf reports whether every bit of m is also in other
func (m Mask) SubsetOf(other Mask) bool {
	return m&^other == 0
}

// Single reports whether exactly one bit is set, and which one
func (m Mask) Single() (uint, bool) {
	if bits.OnesCount32(uint32(m)) != 1 {
		return 0, false
	}
	return uint(bits.TrailingZeros32(uint32(m))), true
}

// Each calls cb for every set bit, lowest first
func (m Mask) Each(cb func(bit uint)) {
	for v := uint32(m); v != 0; v &= v - 1 {
		cb(uint(bits.TrailingZeros32(v)))
	}
}

func (m Mask) String() string {
	var parts []string
	m.Each(func(bit uint) {
		parts = append(parts, fmt.Sprintf("%d", bit))
	})
	return "{" + strings.Join(parts, ",") + "}"
}
