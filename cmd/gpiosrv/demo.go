package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/BertoldVdb/gpiosrv/broker"
	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/policy"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/BertoldVdb/gpiosrv/simkernel"
	"github.com/sirupsen/logrus"
)

var errDemoAborted = errors.New("Demo aborted before the services were registered")

type demoClient struct {
	log *logrus.Entry
	c   *simkernel.Client
}

func (d *demoClient) call(op broker.Op, words ...uint32) (result.Code, uint32, error) {
	var cmd ipc.CommandBuffer
	cmd.SetHeader(op.Header())
	copy(cmd[1:], words)

	if err := d.c.SendSyncRequest(&cmd); err != nil {
		return 0, 0, err
	}

	code := result.Code(cmd[1])
	d.log.WithFields(logrus.Fields{"op": op, "code": code}).Infof("Reply 0x%08x", cmd[2])
	return code, cmd[2], nil
}

func (d *demoClient) handleCall(op broker.Op, mask gpio.Mask, words []uint32, h kernel.Handle) (result.Code, error) {
	var cmd ipc.CommandBuffer
	cmd.SetHeader(op.Header())
	cmd[1] = uint32(mask)
	n := 2 + copy(cmd[2:], words)
	cmd[n] = ipc.DescSharedHandles(1)
	cmd[n+1] = uint32(h)

	if err := d.c.SendSyncRequest(&cmd); err != nil {
		return 0, err
	}

	code := result.Code(cmd[1])
	d.log.WithFields(logrus.Fields{"op": op, "mask": mask, "code": code}).Info("Reply")
	return code, nil
}

func connect(k *simkernel.Kernel, name string, log *logrus.Entry) (*demoClient, error) {
	c, err := k.Connect(name)
	if err != nil {
		return nil, fmt.Errorf("Connecting to %s failed: %w", name, err)
	}
	return &demoClient{log: log.WithField("service", name), c: c}, nil
}

/* The demo exercises each kind of request once from a few services */
func runDemo(k *simkernel.Kernel, p *policy.Policy, done <-chan (struct{}), log *logrus.Entry) error {
	last := p.Service(p.ServiceCount() - 1).Name
	if !k.WaitRegistered(last, done) {
		return errDemoAborted
	}

	hid, err := connect(k, "gpio:HID", log)
	if err != nil {
		return err
	}
	defer hid.c.Close()

	if _, _, err := hid.call(broker.OpGetIOData, uint32(gpio.HIDPad0|gpio.HIDPad1)); err != nil {
		return err
	}
	/* Not a HID bit */
	if _, _, err := hid.call(broker.OpGetIOData, uint32(gpio.WiFiState)); err != nil {
		return err
	}

	mcu, err := connect(k, "gpio:MCU", log)
	if err != nil {
		return err
	}
	defer mcu.c.Close()

	if _, _, err := mcu.call(broker.OpSetIOData, uint32(gpio.WiFiState), uint32(gpio.WiFiState)); err != nil {
		return err
	}
	if _, _, err := mcu.call(broker.OpGetIOData, uint32(gpio.WiFiState)); err != nil {
		return err
	}

	cdc, err := connect(k, "gpio:CDC", log)
	if err != nil {
		return err
	}
	defer cdc.c.Close()

	if _, _, err := cdc.call(broker.OpSetInterruptMask, uint32(gpio.Mask3), uint32(gpio.Mask3)); err != nil {
		return err
	}

	ev := cdc.c.CreateEvent()
	defer cdc.c.CloseHandle(ev)

	code, err := cdc.handleCall(broker.OpBindInterrupt, gpio.Mask3, []uint32{0}, ev)
	if err != nil {
		return err
	}
	if code.Succeeded() {
		line, _ := gpio.InterruptLine(gpio.Mask3)
		k.Raise(line)
		cdc.log.WithField("signalled", cdc.c.WaitEvent(ev, time.Second)).Info("Headphone jack interrupt")

		if _, err := cdc.handleCall(broker.OpUnbindInterrupt, gpio.Mask3, nil, ev); err != nil {
			return err
		}
	}

	return nil
}
