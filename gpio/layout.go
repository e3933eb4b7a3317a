package gpio

import "github.com/BertoldVdb/gpiosrv/regs"

// Location of the register block
const (
	IOBase       = 0x1EC47000
	PhysicalBase = 0x10147000
	IOSize       = 0x2C
)

// Logical bits accessible through each register
const (
	AccessReg0 = Mask2 | Mask1 | HIDPad0
	AccessReg1 = Mask4 | Mask3
	AccessReg2 = Mask5
	AccessReg3 = Mask17 | Mask16 | Mask15 | HIDPad1 | Mask13 | Mask12 | IRReceive | IRSend | Mask9 | Mask8 | Mask7 | Mask6
	AccessReg4 = AccessReg3
	AccessReg5 = WiFiState
)

var (
	Reg0 = regs.Window{Name: "REG0", Offset: 0x00, Width: 16, AccessMask: uint32(AccessReg0)}
	Reg1 = regs.Window{Name: "REG1", Offset: 0x10, Width: 32, AccessMask: uint32(AccessReg1)}
	Reg2 = regs.Window{Name: "REG2", Offset: 0x14, Width: 16, AccessMask: uint32(AccessReg2)}
	Reg3 = regs.Window{Name: "REG3", Offset: 0x20, Width: 32, AccessMask: uint32(AccessReg3)}
	Reg4 = regs.Window{Name: "REG4", Offset: 0x24, Width: 32, AccessMask: uint32(AccessReg4)}
	Reg5 = regs.Window{Name: "REG5", Offset: 0x28, Width: 16, AccessMask: uint32(AccessReg5)}
)

// Logical registers as seen by clients. Shifts are read shifts.
var (
	RegPart1 = regs.Aggregate{Name: "RegPart1", Fields: []regs.Field{
		{Window: Reg1, Shift: -5},
		{Window: Reg3, Shift: -10},
	}}
	RegPart2 = regs.Aggregate{Name: "RegPart2", Fields: []regs.Field{
		{Window: Reg1, Shift: -13},
		{Window: Reg4, Shift: 6},
	}}
	InterruptMask = regs.Aggregate{Name: "InterruptMask", Fields: []regs.Field{
		{Window: Reg1, Shift: -21},
		{Window: Reg4, Shift: -10},
	}}
	IOData = regs.Aggregate{Name: "IOData", Fields: []regs.Field{
		{Window: Reg0, Shift: 0},
		{Window: Reg1, Shift: 3},
		{Window: Reg2, Shift: 5},
		{Window: Reg3, Shift: 6},
		{Window: Reg5, Shift: 18},
	}}
	// REG0 holds inputs only
	IODataOut = regs.Aggregate{Name: "IODataOut", Fields: IOData.Fields[1:]}
)

type interruptLine struct {
	line     uint8
	bindable bool
}

// Bits 1, 2 and 4 have interrupt lines (touchscreen, shell opened, unknown) but no
// service is allowed to use them.
var interruptLines = map[Mask]interruptLine{
	Mask1:  {0x63, false},
	Mask2:  {0x60, false},
	Mask3:  {0x64, true}, // Headphone jack
	Mask4:  {0x66, false},
	Mask6:  {0x68, true}, // IR
	Mask7:  {0x69, true},
	Mask8:  {0x6A, true},
	Mask9:  {0x6B, true},
	Mask10: {0x6C, true},
	Mask11: {0x6D, true},
	Mask12: {0x6E, true},
	Mask13: {0x6F, true},
	Mask14: {0x70, true},
	Mask15: {0x71, true}, // HOME/POWER buttons, WiFi switch
	Mask16: {0x72, true},
	Mask17: {0x73, true},
}

// InterruptLine returns the interrupt that can be bound for mask. mask must
// contain exactly one bit.
func InterruptLine(mask Mask) (uint8, bool) {
	l, ok := interruptLines[mask]
	if !ok || !l.bindable {
		return 0, false
	}
	return l.line, true
}

// InitIO prepares the controller before any client is served
func InitIO(bus regs.Bus) {
	v := bus.Read32(Reg3.Offset)
	v |= 1 << 23
	v &^= 1 << 7
	bus.Write32(Reg3.Offset, v)
}
