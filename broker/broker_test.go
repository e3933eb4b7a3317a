package broker

import (
	"math/rand"
	"testing"

	"github.com/BertoldVdb/gpiosrv/bindtable"
	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/policy"
	"github.com/BertoldVdb/gpiosrv/regs"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func check(t *testing.T, condition bool, reason ...interface{}) {
	if !condition {
		t.Error(reason...)
		t.FailNow()
	}
}

type nopKernel struct {
	closed []kernel.Handle
}

func (n *nopKernel) CloseHandle(h kernel.Handle) error {
	n.closed = append(n.closed, h)
	return nil
}
func (n *nopKernel) BindInterrupt(line uint8, h kernel.Handle, priority int32, manualClear bool) error {
	return nil
}
func (n *nopKernel) UnbindInterrupt(line uint8, h kernel.Handle) error { return nil }

func newBroker() (*Broker, *regs.Memory, *nopKernel) {
	m := regs.NewMemory(gpio.IOSize)
	k := &nopKernel{}
	return New(m, bindtable.New(k, nil, nil), nil), m, k
}

var registerOps = []Op{
	OpGetRegPart1, OpSetRegPart1, OpGetRegPart2, OpSetRegPart2,
	OpGetInterruptMask, OpSetInterruptMask, OpGetIOData, OpSetIOData,
}

func run(b *Broker, op Op, allowed gpio.Mask, mask gpio.Mask) result.Code {
	if ops[op].kind == kindGet {
		_, code := b.Get(op, allowed, mask)
		return code
	}
	return b.Set(op, allowed, mask, 0xFFFFFFFF)
}

func TestPermissionProperty(t *testing.T) {
	b, _, _ := newBroker()
	services := policy.New(policy.Threshold).Services()

	for i := 0; i < 2000; i++ {
		s := services[rand.Intn(len(services))]
		op := registerOps[rand.Intn(len(registerOps))]
		mask := gpio.Mask(rand.Uint32() & rand.Uint32() & 0x7FFFF)
		if rand.Intn(2) == 0 {
			mask &= s.Mask
		}

		code := run(b, op, s.Mask, mask)
		switch {
		case !mask.SubsetOf(s.Mask):
			check(t, code == result.NotAuthorized, "Expected NotAuthorized", s.Name, op, mask, code)
		case !mask.SubsetOf(op.Bits()):
			check(t, code == result.NotFound, "Expected NotFound", s.Name, op, mask, code)
		default:
			check(t, code == result.Success, "Expected Success", s.Name, op, mask, code)
		}
	}
}

func TestHIDGetIOData(t *testing.T) {
	b, m, _ := newBroker()
	m.Poke(gpio.Reg0.Offset, 16, 0xFFFF)
	m.Poke(gpio.Reg3.Offset, 32, 0xFFFFFFFF)

	value, code := b.Get(OpGetIOData, gpio.MaskHID, gpio.HIDPad0)
	check(t, code == result.Success && value == uint32(gpio.HIDPad0), "Pad read failed", value, code)

	m.ResetAccesses()
	value, code = b.Get(OpGetIOData, gpio.MaskHID, gpio.HIDPad0|gpio.Mask16)
	check(t, code == result.NotAuthorized && value == 0, "Foreign bit read", value, code)
	r0, _ := m.Accesses(gpio.Reg0.Offset)
	r3, _ := m.Accesses(gpio.Reg3.Offset)
	check(t, r0 == 0 && r3 == 0, "Registers read on rejected request")
}

func TestSetIODataInputOnly(t *testing.T) {
	b, m, _ := newBroker()

	/* Pad bits can be read but not written */
	code := b.Set(OpSetIOData, gpio.MaskHID, gpio.HIDPad0, 1)
	check(t, code == result.NotFound, "Input bit written", code)
	_, w0 := m.Accesses(gpio.Reg0.Offset)
	check(t, w0 == 0, "REG0 written")

	code = b.Set(OpSetIOData, gpio.MaskHID, gpio.HIDPad1, uint32(gpio.HIDPad1))
	check(t, code == result.Success, "Pad1 write failed", code)
	check(t, m.Peek(gpio.Reg3.Offset, 32) == 1<<8, "REG3 wrong", m.Peek(gpio.Reg3.Offset, 32))
}

func TestSetGetRoundTrip(t *testing.T) {
	b, _, _ := newBroker()
	all := gpio.Mask(0x7FFFF)

	pairs := [][2]Op{
		{OpSetRegPart1, OpGetRegPart1},
		{OpSetRegPart2, OpGetRegPart2},
		{OpSetInterruptMask, OpGetInterruptMask},
		{OpSetIOData, OpGetIOData},
	}
	for _, p := range pairs {
		mask := p[0].Bits()
		for i := 0; i < 20; i++ {
			value := rand.Uint32()
			check(t, b.Set(p[0], all, mask, value) == result.Success, "Set failed", p[0])
			got, code := b.Get(p[1], all, mask)
			check(t, code == result.Success && got == value&uint32(mask), "Round trip failed", p[0], got, value)
		}
	}
}

func TestDispatchGet(t *testing.T) {
	b, m, _ := newBroker()
	m.Poke(gpio.Reg5.Offset, 16, 1)

	var cmd ipc.CommandBuffer
	cmd.SetHeader(ipc.MakeHeader(0x7, 1, 0))
	cmd[1] = uint32(gpio.WiFiState)

	check(t, b.Dispatch(gpio.MaskNWM, &cmd, nil) == nil, "Dispatch failed")
	check(t, cmd.Header() == ipc.MakeHeader(0x7, 2, 0), "Reply header wrong", cmd.Header())
	check(t, cmd[1] == 0 && cmd[2] == uint32(gpio.WiFiState), "Reply wrong", cmd[1], cmd[2])
}

func TestDispatchSet(t *testing.T) {
	b, m, _ := newBroker()

	var cmd ipc.CommandBuffer
	cmd.SetHeader(ipc.MakeHeader(0x2, 2, 0))
	cmd[1] = uint32(gpio.Mask6)
	cmd[2] = uint32(gpio.Mask6)

	check(t, b.Dispatch(gpio.MaskCDC, &cmd, nil) == nil, "Dispatch failed")
	check(t, cmd.Header() == ipc.MakeHeader(0x2, 1, 0) && cmd[1] == 0, "Reply wrong", cmd[1])
	check(t, m.Peek(gpio.Reg3.Offset, 32) == 1<<16, "REG3 wrong", m.Peek(gpio.Reg3.Offset, 32))
}

func TestDispatchMalformed(t *testing.T) {
	b, m, k := newBroker()

	var cmd ipc.CommandBuffer
	cmd.SetHeader(ipc.MakeHeader(0xB, 1, 0))
	b.Dispatch(gpio.MaskHID, &cmd, nil)
	check(t, cmd.Header() == ipc.MakeHeader(0, 1, 0) && result.Code(cmd[1]) == result.InvalidHeader, "Unknown id accepted")

	/* Wrong shape of a known command */
	cmd.SetHeader(ipc.MakeHeader(0x8, 1, 0))
	cmd[1] = 0xFFFFFFFF
	b.Dispatch(gpio.MaskHID, &cmd, nil)
	check(t, result.Code(cmd[1]) == result.InvalidIPCParameter, "Short set accepted")
	_, w := m.Accesses(gpio.Reg3.Offset)
	check(t, w == 0, "Malformed request had side effects")

	cmd.SetHeader(ipc.MakeHeader(0x9, 2, 2))
	cmd[1] = uint32(gpio.Mask8)
	cmd[3] = 0x20
	cmd[4] = 55
	b.Dispatch(gpio.MaskHID, &cmd, nil)
	check(t, result.Code(cmd[1]) == result.InvalidIPCParameter, "Bind without handle descriptor accepted")
	check(t, b.binds.Usage() == 0, "Malformed bind changed table")
	check(t, len(k.closed) == 0, "Handle closed for malformed request")
}

func TestDispatchBindUnbind(t *testing.T) {
	b, _, k := newBroker()

	var cmd ipc.CommandBuffer
	cmd.SetHeader(OpBindInterrupt.Header())
	cmd[1] = uint32(gpio.IRSend)
	cmd[2] = 3
	cmd[3] = ipc.DescSharedHandles(1)
	cmd[4] = 77
	check(t, b.Dispatch(gpio.MaskIR, &cmd, nil) == nil, "Dispatch failed")
	check(t, cmd.Header() == ipc.MakeHeader(0x9, 1, 0) && cmd[1] == 0, "Bind failed", result.Code(cmd[1]))

	cmd.SetHeader(OpBindInterrupt.Header())
	cmd[1] = uint32(gpio.IRSend)
	cmd[3] = ipc.DescSharedHandles(1)
	cmd[4] = 78
	b.Dispatch(gpio.MaskIR, &cmd, nil)
	check(t, result.Code(cmd[1]) == result.Busy, "Rebind not busy")

	cmd.SetHeader(OpUnbindInterrupt.Header())
	cmd[1] = uint32(gpio.IRSend)
	cmd[2] = ipc.DescSharedHandles(1)
	cmd[3] = 79
	b.Dispatch(gpio.MaskIR, &cmd, nil)
	check(t, cmd.Header() == ipc.MakeHeader(0xA, 1, 0) && cmd[1] == 0, "Unbind failed", result.Code(cmd[1]))
	check(t, b.binds.Usage() == 0, "Slot still in use")
	check(t, len(k.closed) == 3, "Handles not closed", k.closed)
}

func TestDispatchLogsSession(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	m := regs.NewMemory(gpio.IOSize)
	b := New(m, bindtable.New(&nopKernel{}, nil, nil), logrus.NewEntry(logger))
	id := uuid.New()
	fields := logrus.Fields{"service": "gpio:HID", "session": id}

	var cmd ipc.CommandBuffer
	cmd.SetHeader(ipc.MakeHeader(0x7, 1, 0))
	cmd[1] = uint32(gpio.WiFiState)
	check(t, b.Dispatch(gpio.MaskHID, &cmd, fields) == nil, "Dispatch failed")
	check(t, result.Code(cmd[1]) == result.NotAuthorized, "Foreign bit read", result.Code(cmd[1]))

	e := hook.LastEntry()
	check(t, e != nil && e.Level == logrus.DebugLevel, "Rejection not logged")
	check(t, e.Data["session"] == id && e.Data["service"] == "gpio:HID", "Session missing", e.Data)
	check(t, e.Data["prefix"] == "broker" && e.Data["op"] == OpGetIOData, "Request fields missing", e.Data)

	cmd.SetHeader(ipc.MakeHeader(0xB, 1, 0))
	b.Dispatch(gpio.MaskHID, &cmd, fields)
	check(t, hook.LastEntry().Data["session"] == id, "Malformed request not tied to session")
	check(t, len(hook.Entries) == 2, "Unexpected log lines", len(hook.Entries))
}
