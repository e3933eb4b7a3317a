package regs

import (
	"encoding/binary"
	"sync"
)

// Memory is a register block kept in ordinary memory. It is used to emulate the
// hardware. Accesses are counted so callers can verify which registers were touched.
type Memory struct {
	sync.Mutex

	buf    []byte
	reads  map[uint32]int
	writes map[uint32]int
}

func NewMemory(size int) *Memory {
	return &Memory{
		buf:    make([]byte, size),
		reads:  make(map[uint32]int),
		writes: make(map[uint32]int),
	}
}

func (m *Memory) Read16(offset uint32) uint16 {
	m.Lock()
	defer m.Unlock()

	m.reads[offset]++
	return binary.LittleEndian.Uint16(m.buf[offset:])
}

func (m *Memory) Read32(offset uint32) uint32 {
	m.Lock()
	defer m.Unlock()

	m.reads[offset]++
	return binary.LittleEndian.Uint32(m.buf[offset:])
}

func (m *Memory) Write16(offset uint32, value uint16) {
	m.Lock()
	defer m.Unlock()

	m.writes[offset]++
	binary.LittleEndian.PutUint16(m.buf[offset:], value)
}

func (m *Memory) Write32(offset uint32, value uint32) {
	m.Lock()
	defer m.Unlock()

	m.writes[offset]++
	binary.LittleEndian.PutUint32(m.buf[offset:], value)
}

// Poke sets a register without counting the access. Width is 16 or 32.
func (m *Memory) Poke(offset uint32, width int, value uint32) {
	m.Lock()
	defer m.Unlock()

	if width == 16 {
		binary.LittleEndian.PutUint16(m.buf[offset:], uint16(value))
	} else {
		binary.LittleEndian.PutUint32(m.buf[offset:], value)
	}
}

// Peek reads a register without counting the access
func (m *Memory) Peek(offset uint32, width int) uint32 {
	m.Lock()
	defer m.Unlock()

	if width == 16 {
		return uint32(binary.LittleEndian.Uint16(m.buf[offset:]))
	}
	return binary.LittleEndian.Uint32(m.buf[offset:])
}

// Accesses returns the number of reads and writes done at offset
func (m *Memory) Accesses(offset uint32) (int, int) {
	m.Lock()
	defer m.Unlock()

	return m.reads[offset], m.writes[offset]
}

func (m *Memory) ResetAccesses() {
	m.Lock()
	defer m.Unlock()

	m.reads = make(map[uint32]int)
	m.writes = make(map[uint32]int)
}
