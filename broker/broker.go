// Package broker executes client commands on behalf of a service, checking every
// requested bit against the bits the service may use.
package broker

import (
	"fmt"

	"github.com/BertoldVdb/gpiosrv/bindtable"
	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/BertoldVdb/gpiosrv/regs"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/sirupsen/logrus"
)

// Op is a command id
type Op uint16

const (
	OpGetRegPart1      Op = 0x1
	OpSetRegPart1      Op = 0x2
	OpGetRegPart2      Op = 0x3
	OpSetRegPart2      Op = 0x4
	OpGetInterruptMask Op = 0x5
	OpSetInterruptMask Op = 0x6
	OpGetIOData        Op = 0x7
	OpSetIOData        Op = 0x8
	OpBindInterrupt    Op = 0x9
	OpUnbindInterrupt  Op = 0xA
)

type kind int

const (
	kindGet kind = iota
	kindSet
	kindBind
	kindUnbind
)

type opInfo struct {
	name      string
	kind      kind
	aggregate regs.Aggregate

	// Expected request header
	normal    uint
	translate uint
}

var ops = map[Op]opInfo{
	OpGetRegPart1:      {"GetRegPart1", kindGet, gpio.RegPart1, 1, 0},
	OpSetRegPart1:      {"SetRegPart1", kindSet, gpio.RegPart1, 2, 0},
	OpGetRegPart2:      {"GetRegPart2", kindGet, gpio.RegPart2, 1, 0},
	OpSetRegPart2:      {"SetRegPart2", kindSet, gpio.RegPart2, 2, 0},
	OpGetInterruptMask: {"GetInterruptMask", kindGet, gpio.InterruptMask, 1, 0},
	OpSetInterruptMask: {"SetInterruptMask", kindSet, gpio.InterruptMask, 2, 0},
	OpGetIOData:        {"GetIOData", kindGet, gpio.IOData, 1, 0},
	OpSetIOData:        {"SetIOData", kindSet, gpio.IODataOut, 2, 0},
	OpBindInterrupt:    {"BindInterrupt", kindBind, regs.Aggregate{}, 2, 2},
	OpUnbindInterrupt:  {"UnbindInterrupt", kindUnbind, regs.Aggregate{}, 1, 2},
}

func (o Op) String() string {
	if info, ok := ops[o]; ok {
		return info.name
	}
	return fmt.Sprintf("Op(0x%x)", uint16(o))
}

// Bits returns the logical bits that have a meaning for a register operation
func (o Op) Bits() gpio.Mask {
	return gpio.Mask(ops[o].aggregate.Bits())
}

// Header returns the request header a well formed call of o carries
func (o Op) Header() ipc.Header {
	info := ops[o]
	return ipc.MakeHeader(uint16(o), info.normal, info.translate)
}

type Broker struct {
	log   *logrus.Entry
	bus   regs.Bus
	binds *bindtable.Table
}

func New(bus regs.Bus, binds *bindtable.Table, log *logrus.Entry) *Broker {
	return &Broker{
		log:   logrusconfig.Component(log, "broker"),
		bus:   bus,
		binds: binds,
	}
}

func validate(op Op, allowed gpio.Mask, mask gpio.Mask) result.Code {
	if !mask.SubsetOf(allowed) {
		return result.NotAuthorized
	}
	if !mask.SubsetOf(op.Bits()) {
		return result.NotFound
	}
	return result.Success
}

// Get reads the logical bits in mask. The value is zero if the request is rejected.
func (b *Broker) Get(op Op, allowed gpio.Mask, mask gpio.Mask) (uint32, result.Code) {
	info, ok := ops[op]
	if !ok || info.kind != kindGet {
		return 0, result.InvalidHeader
	}

	if code := validate(op, allowed, mask); code.Failed() {
		return 0, code
	}

	return info.aggregate.Read(b.bus, uint32(mask)), result.Success
}

// Set writes value to the logical bits in mask, leaving all other bits alone
func (b *Broker) Set(op Op, allowed gpio.Mask, mask gpio.Mask, value uint32) result.Code {
	info, ok := ops[op]
	if !ok || info.kind != kindSet {
		return result.InvalidHeader
	}

	if code := validate(op, allowed, mask); code.Failed() {
		return code
	}

	info.aggregate.Write(b.bus, uint32(mask), value)
	return result.Success
}

// Dispatch executes the request in cmd for a service with the allowed bits, and
// writes the reply to cmd. Rejected requests are answered with a failure code. The
// returned error is only set for kernel failures; these cannot be recovered. The
// fields are added to every log line of the request.
func (b *Broker) Dispatch(allowed gpio.Mask, cmd *ipc.CommandBuffer, fields logrus.Fields) error {
	log := b.log.WithFields(fields)
	header := cmd.Header()
	op := Op(header.ID())

	info, ok := ops[op]
	if !ok {
		b.reject(log, cmd, result.InvalidHeader)
		return nil
	}

	if header != op.Header() {
		b.reject(log, cmd, result.InvalidIPCParameter)
		return nil
	}

	switch info.kind {
	case kindGet:
		mask := gpio.Mask(cmd[1])
		value, code := b.Get(op, allowed, mask)
		b.trace(log, op, mask, code)

		cmd.SetHeader(ipc.MakeHeader(uint16(op), 2, 0))
		cmd[1] = uint32(code)
		cmd[2] = value

	case kindSet:
		value, mask := cmd[1], gpio.Mask(cmd[2])
		code := b.Set(op, allowed, mask, value)
		b.trace(log, op, mask, code)

		cmd.SetHeader(ipc.MakeHeader(uint16(op), 1, 0))
		cmd[1] = uint32(code)

	case kindBind:
		if cmd[3] != ipc.DescSharedHandles(1) {
			b.reject(log, cmd, result.InvalidIPCParameter)
			return nil
		}

		mask, priority, h := gpio.Mask(cmd[1]), int32(cmd[2]), kernel.Handle(cmd[4])
		code, err := b.binds.Bind(allowed, mask, h, priority)
		if err != nil {
			return err
		}
		b.trace(log, op, mask, code)

		cmd.SetHeader(ipc.MakeHeader(uint16(op), 1, 0))
		cmd[1] = uint32(code)

	case kindUnbind:
		if cmd[2] != ipc.DescSharedHandles(1) {
			b.reject(log, cmd, result.InvalidIPCParameter)
			return nil
		}

		mask, h := gpio.Mask(cmd[1]), kernel.Handle(cmd[3])
		code, err := b.binds.Unbind(allowed, mask, h)
		if err != nil {
			return err
		}
		b.trace(log, op, mask, code)

		cmd.SetHeader(ipc.MakeHeader(uint16(op), 1, 0))
		cmd[1] = uint32(code)
	}

	return nil
}

func (b *Broker) reject(log *logrus.Entry, cmd *ipc.CommandBuffer, code result.Code) {
	log.WithField("header", fmt.Sprintf("0x%08x", uint32(cmd.Header()))).Debugf("Malformed request: %v", code)

	cmd.SetHeader(ipc.MakeHeader(0, 1, 0))
	cmd[1] = uint32(code)
}

func (b *Broker) trace(log *logrus.Entry, op Op, mask gpio.Mask, code result.Code) {
	if code.Failed() {
		log.WithFields(logrus.Fields{"op": op, "mask": mask}).Debugf("Rejected: %v", code)
		return
	}
	log.WithFields(logrus.Fields{"op": op, "mask": mask}).Trace("Done")
}
