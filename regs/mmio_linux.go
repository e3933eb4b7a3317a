package regs

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIO maps a physical register block through a memory device such as /dev/mem
type MMIO struct {
	mapping []byte
	regs    []byte
}

// OpenMMIO maps size bytes of physical memory starting at base
func OpenMMIO(device string, base uint64, size int) (*MMIO, error) {
	if size <= 0 {
		return nil, errors.New("Invalid mapping size")
	}

	file, err := os.OpenFile(device, syscall.O_RDWR|syscall.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pageSize := uint64(unix.Getpagesize())
	pageBase := base &^ (pageSize - 1)
	pageOffset := int(base - pageBase)

	mapping, err := unix.Mmap(int(file.Fd()), int64(pageBase), pageOffset+size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("Mmap of 0x%x failed: %w", base, err)
	}

	return &MMIO{
		mapping: mapping,
		regs:    mapping[pageOffset : pageOffset+size],
	}, nil
}

func (m *MMIO) Close() error {
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping = nil
	m.regs = nil
	return err
}

func (m *MMIO) ptr(offset uint32, width uint32) unsafe.Pointer {
	if offset%width != 0 || int(offset+width) > len(m.regs) {
		panic("Register access out of range or misaligned")
	}
	return unsafe.Pointer(&m.regs[offset])
}

func (m *MMIO) Read16(offset uint32) uint16 {
	return *(*uint16)(m.ptr(offset, 2))
}

func (m *MMIO) Read32(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(m.ptr(offset, 4)))
}

func (m *MMIO) Write16(offset uint32, value uint16) {
	*(*uint16)(m.ptr(offset, 2)) = value
}

func (m *MMIO) Write32(offset uint32, value uint32) {
	atomic.StoreUint32((*uint32)(m.ptr(offset, 4)), value)
}
