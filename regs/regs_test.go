package regs

import (
	"math/rand"
	"testing"
)

func check(t *testing.T, condition bool, reason ...interface{}) {
	if !condition {
		t.Error(reason...)
		t.FailNow()
	}
}

var win16 = Window{Name: "W16", Offset: 0x00, Width: 16, AccessMask: 1 << 18}
var win32 = Window{Name: "W32", Offset: 0x10, Width: 32, AccessMask: 0x3FFC0}

func TestReadShift(t *testing.T) {
	m := NewMemory(0x20)

	/* Physical bits 16..27 hold logical bits 6..17 */
	m.Poke(0x10, 32, 0x0ABC0000)
	f := Field{Window: win32, Shift: -10}

	check(t, Read(m, f, 0xFFFFFFFF) == 0x0ABC0000>>10, "Right shift read wrong", Read(m, f, 0xFFFFFFFF))
	check(t, Read(m, f, 1<<8) == (0x0ABC0000>>10)&(1<<8), "Masked read wrong")

	/* Physical bit 0 of a 16 bit register holds logical bit 18 */
	m.Poke(0x00, 16, 0xFFFF)
	f16 := Field{Window: win16, Shift: 18}
	check(t, Read(m, f16, 0xFFFFFFFF) == 1<<18, "Left shift read wrong", Read(m, f16, 0xFFFFFFFF))
}

func TestWritePreservesOtherBits(t *testing.T) {
	m := NewMemory(0x20)
	m.Poke(0x10, 32, 0xF000FFFF)

	f := Field{Window: win32, Shift: -10}
	Write(m, f, 1<<6|1<<7, 1<<6)

	check(t, m.Peek(0x10, 32) == 0xF001FFFF, "Write changed the wrong bits", m.Peek(0x10, 32))

	/* Bits outside the access mask are never written */
	Write(m, f, 0xFFFFFFFF, 0)
	check(t, m.Peek(0x10, 32) == 0xF000FFFF, "Write went outside access mask", m.Peek(0x10, 32))
}

func TestWrite16Truncates(t *testing.T) {
	m := NewMemory(0x20)
	m.Poke(0x00, 16, 0xFFFE)
	m.Poke(0x02, 16, 0x1234)

	Write(m, Field{Window: win16, Shift: 18}, 1<<18, 1<<18)
	check(t, m.Peek(0x00, 16) == 0xFFFF, "16 bit write wrong", m.Peek(0x00, 16))
	check(t, m.Peek(0x02, 16) == 0x1234, "16 bit write spilled into the next register")
}

func TestRoundTrip(t *testing.T) {
	windows := []Window{win16, win32, {Name: "Low", Offset: 0x18, Width: 32, AccessMask: 0x18}}

	for _, w := range windows {
		for _, s := range []int{-21, -13, -10, -5, 0, 3, 5, 6, 18} {
			m := NewMemory(0x20)
			f := Field{Window: w, Shift: s}
			for i := 0; i < 50; i++ {
				mask := rand.Uint32() & w.AccessMask
				value := rand.Uint32()

				/* Only test bits that physically exist in the window */
				physical := shift(shift(mask, -s), s)
				if w.Width == 16 {
					physical = shift(shift(mask, -s)&0xFFFF, s)
				}
				mask &= physical

				Write(m, f, mask, value)
				check(t, Read(m, f, mask) == value&mask, "Round trip failed", w, s, mask, value)
			}
		}
	}
}

func TestAggregateTouchesOnlyNeededWindows(t *testing.T) {
	m := NewMemory(0x20)
	a := Aggregate{
		Name:   "Test",
		Fields: []Field{{Window: win16, Shift: 18}, {Window: win32, Shift: -10}},
	}

	check(t, a.Bits() == win16.AccessMask|win32.AccessMask, "Bits wrong")

	a.Read(m, 1<<8)
	r16, _ := m.Accesses(0x00)
	r32, _ := m.Accesses(0x10)
	check(t, r16 == 0 && r32 == 1, "Wrong registers read", r16, r32)

	m.ResetAccesses()
	a.Write(m, 1<<18, 1<<18)
	_, w16 := m.Accesses(0x00)
	_, w32 := m.Accesses(0x10)
	check(t, w16 == 1 && w32 == 0, "Wrong registers written", w16, w32)
	check(t, a.Read(m, 1<<18|1<<8) == 1<<18, "Aggregate read wrong")
}
