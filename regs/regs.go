package regs

import "fmt"

// Bus gives access to a block of memory mapped registers. Offsets are relative to the
// start of the block.
type Bus interface {
	Read16(offset uint32) uint16
	Read32(offset uint32) uint32
	Write16(offset uint32, value uint16)
	Write32(offset uint32, value uint32)
}

// Window is a single physical register backing a set of logical bits
type Window struct {
	Name       string
	Offset     uint32
	Width      int
	AccessMask uint32
}

func (w Window) read(bus Bus) uint32 {
	if w.Width == 16 {
		return uint32(bus.Read16(w.Offset))
	}
	return bus.Read32(w.Offset)
}

func (w Window) write(bus Bus, value uint32) {
	if w.Width == 16 {
		bus.Write16(w.Offset, uint16(value))
		return
	}
	bus.Write32(w.Offset, value)
}

func (w Window) String() string {
	return fmt.Sprintf("%s@0x%02x/%d", w.Name, w.Offset, w.Width)
}

// Field maps a window into the logical bit space. Shift converts physical bit
// positions to logical ones when reading: negative shifts right, positive shifts left.
// Writing uses the opposite shift.
type Field struct {
	Window Window
	Shift  int
}

func shift(value uint32, amount int) uint32 {
	if amount < 0 {
		return value >> uint(-amount)
	}
	return value << uint(amount)
}

// Read returns the logical bits in mask that are backed by the field
func Read(bus Bus, f Field, mask uint32) uint32 {
	mask &= f.Window.AccessMask
	return shift(f.Window.read(bus), f.Shift) & mask
}

// Write updates the logical bits in mask that are backed by the field. Other bits
// of the register are preserved.
func Write(bus Bus, f Field, mask uint32, value uint32) {
	mask &= f.Window.AccessMask
	value = shift(value, -f.Shift)
	mask = shift(mask, -f.Shift)

	f.Window.write(bus, (f.Window.read(bus)&^mask)|(value&mask))
}

// Aggregate is a logical register spread over multiple windows
type Aggregate struct {
	Name   string
	Fields []Field
}

// Bits returns all logical bits the aggregate gives access to
func (a Aggregate) Bits() uint32 {
	var bits uint32
	for _, f := range a.Fields {
		bits |= f.Window.AccessMask
	}
	return bits
}

// Read combines the bits of every window that backs part of mask. Windows
// that do not back any bit of mask are not accessed.
func (a Aggregate) Read(bus Bus, mask uint32) uint32 {
	var value uint32
	for _, f := range a.Fields {
		if mask&f.Window.AccessMask != 0 {
			value |= Read(bus, f, mask)
		}
	}
	return value
}

func (a Aggregate) Write(bus Bus, mask uint32, value uint32) {
	for _, f := range a.Fields {
		if mask&f.Window.AccessMask != 0 {
			Write(bus, f, mask, value)
		}
	}
}
