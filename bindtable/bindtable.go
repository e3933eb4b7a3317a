// Package bindtable tracks which interrupt lines are bound, and to which handle.
// There is one slot per logical bit. Handles passed to Bind and Unbind are always
// consumed: they are either stored in the table or closed before returning.
package bindtable

import (
	"fmt"

	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/sirupsen/logrus"
)

// LineFunc maps a single bit mask to its interrupt line
type LineFunc func(mask gpio.Mask) (uint8, bool)

type slot struct {
	handle   kernel.Handle
	occupied bool
}

type Table struct {
	log   *logrus.Entry
	kern  kernel.InterruptBinder
	lines LineFunc

	slots [gpio.BindMax]slot
	usage gpio.Mask
}

// New creates an empty table. If lines is nil, gpio.InterruptLine is used.
func New(kern kernel.InterruptBinder, lines LineFunc, log *logrus.Entry) *Table {
	if lines == nil {
		lines = gpio.InterruptLine
	}
	return &Table{
		log:   logrusconfig.Component(log, "bindtable"),
		kern:  kern,
		lines: lines,
	}
}

// Usage returns the bits that are currently bound
func (t *Table) Usage() gpio.Mask {
	return t.usage
}

// Handle returns the handle stored for bit
func (t *Table) Handle(bit uint) (kernel.Handle, bool) {
	if bit >= gpio.BindMax {
		return 0, false
	}
	s := t.slots[bit]
	return s.handle, s.occupied
}

func (t *Table) isFree(mask gpio.Mask) bool {
	return t.usage&mask == 0
}

func (t *Table) store(bit uint, h kernel.Handle) {
	t.slots[bit] = slot{handle: h, occupied: true}
	t.usage |= gpio.Bit(bit)
}

func (t *Table) release(bit uint) error {
	h := t.slots[bit].handle
	t.slots[bit] = slot{}
	t.usage &^= gpio.Bit(bit)

	if err := t.kern.CloseHandle(h); err != nil {
		return fmt.Errorf("Closing bound handle of bit %d failed: %w", bit, err)
	}
	return nil
}

func (t *Table) reject(h kernel.Handle, code result.Code) (result.Code, error) {
	if err := t.kern.CloseHandle(h); err != nil {
		return 0, fmt.Errorf("Closing rejected handle failed: %w", err)
	}
	return code, nil
}

// Bind connects the interrupt line of requested to h. The returned error is only set
// for kernel failures, which leave the table untouched and must be treated as fatal.
func (t *Table) Bind(serviceMask gpio.Mask, requested gpio.Mask, h kernel.Handle, priority int32) (result.Code, error) {
	if !t.isFree(requested) {
		return t.reject(h, result.Busy)
	}

	if !requested.SubsetOf(serviceMask) {
		return t.reject(h, result.NotAuthorized)
	}

	line, ok := t.lines(requested)
	if !ok {
		return t.reject(h, result.NotFound)
	}
	bit, ok := requested.Single()
	if !ok {
		return t.reject(h, result.NotFound)
	}

	if err := t.kern.BindInterrupt(line, h, priority, false); err != nil {
		return 0, fmt.Errorf("Binding interrupt 0x%02x failed: %w", line, err)
	}

	t.store(bit, h)
	t.log.WithFields(logrus.Fields{"bit": bit, "line": line, "priority": priority}).Debug("Interrupt bound")

	return result.Success, nil
}

// Unbind disconnects the interrupt line of requested. h is the caller's handle to the
// bound event; both it and the stored handle are closed.
func (t *Table) Unbind(serviceMask gpio.Mask, requested gpio.Mask, h kernel.Handle) (result.Code, error) {
	if t.isFree(requested) {
		return t.reject(h, result.Busy)
	}

	if !requested.SubsetOf(serviceMask) {
		return t.reject(h, result.NotAuthorized)
	}

	line, ok := t.lines(requested)
	if !ok {
		return t.reject(h, result.NotFound)
	}
	bit, ok := requested.Single()
	if !ok {
		return t.reject(h, result.NotFound)
	}

	if err := t.kern.UnbindInterrupt(line, h); err != nil {
		return 0, fmt.Errorf("Unbinding interrupt 0x%02x failed: %w", line, err)
	}

	if err := t.release(bit); err != nil {
		return 0, err
	}
	if err := t.kern.CloseHandle(h); err != nil {
		return 0, fmt.Errorf("Closing unbind handle failed: %w", err)
	}

	t.log.WithFields(logrus.Fields{"bit": bit, "line": line}).Debug("Interrupt unbound")

	return result.Success, nil
}

// ReleaseAll unbinds every bound bit of serviceMask. It is used when the session of
// a service ends. Any error is fatal.
func (t *Table) ReleaseAll(serviceMask gpio.Mask) error {
	for bit := uint(0); bit < gpio.BindMax; bit++ {
		mask := gpio.Bit(bit)
		if !mask.SubsetOf(serviceMask) || t.isFree(mask) {
			continue
		}

		line, ok := t.lines(mask)
		if !ok {
			continue
		}

		if err := t.kern.UnbindInterrupt(line, t.slots[bit].handle); err != nil {
			return fmt.Errorf("Unbinding interrupt 0x%02x failed: %w", line, err)
		}
		if err := t.release(bit); err != nil {
			return err
		}

		t.log.WithFields(logrus.Fields{"bit": bit, "line": line}).Debug("Interrupt released")
	}

	return nil
}
