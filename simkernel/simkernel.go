// Package simkernel emulates the kernel and service manager calls used by the GPIO
// broker inside a single Go process. Clients run in their own goroutines and talk to
// the broker through Connect and Client.SendSyncRequest.
package simkernel

import (
	"sync"

	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/sirupsen/logrus"
)

// Failures reported by the emulated kernel
var (
	ErrInvalidHandle    = result.MakeResult(result.LevelPermanent, result.SummaryWrongArg, result.ModuleKernel, 0x3F7)
	ErrInvalidState     = result.MakeResult(result.LevelPermanent, result.SummaryInvalidState, result.ModuleKernel, 0x3F8)
	ErrInterruptBound   = result.MakeResult(result.LevelPermanent, result.SummaryInvalidState, result.ModuleKernel, 0x3F0)
	ErrNoPendingSession = result.MakeResult(result.LevelStatus, result.SummaryWouldBlock, result.ModuleKernel, 0x3EF)
	ErrSessionLimit     = result.MakeResult(result.LevelPermanent, result.SummaryOutOfResource, result.ModuleOS, 0x3E9)
	ErrServiceExists    = result.MakeResult(result.LevelPermanent, result.SummaryWrongArg, result.ModuleOS, 0x3FC)
	ErrServiceNotFound  = result.MakeResult(result.LevelPermanent, result.SummaryNotFound, result.ModuleOS, 0x3FA)
)

type objectKind int

const (
	kindPort objectKind = iota
	kindServerSession
	kindClientSession
	kindEvent
	kindSemaphore
)

type object struct {
	kind objectKind
	refs int

	// Port
	name        string
	maxSessions int
	sessions    int
	pending     []*session

	// Both ends of a session
	sess *session

	// Event or semaphore
	count int
}

type session struct {
	port *object

	serverClosed bool
	clientClosed bool
	done         chan (struct{})

	request       *ipc.CommandBuffer
	awaitingReply bool
	reply         chan (ipc.CommandBuffer)
}

func (s *session) closeDone() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Kernel implements kernel.Kernel, kernel.ServiceManager and kernel.FatalReporter
type Kernel struct {
	sync.Mutex
	log *logrus.Entry

	handles    map[kernel.Handle]*object
	nextHandle kernel.Handle

	services      map[string]*object
	notification  *object
	notifications []uint32
	interrupts    map[uint8]*object

	fatals []result.Code

	paused  bool
	changed chan (struct{})
}

func New(log *logrus.Entry) *Kernel {
	return &Kernel{
		log:        logrusconfig.Component(log, "simkernel"),
		handles:    make(map[kernel.Handle]*object),
		nextHandle: 0x100,
		services:   make(map[string]*object),
		interrupts: make(map[uint8]*object),
	}
}

func (k *Kernel) signal() {
	if k.changed != nil {
		close(k.changed)
		k.changed = nil
	}
}

func (k *Kernel) changedChan() <-chan (struct{}) {
	if k.changed == nil {
		k.changed = make(chan (struct{}))
	}
	return k.changed
}

func (k *Kernel) newHandle(obj *object) kernel.Handle {
	h := k.nextHandle
	k.nextHandle++
	k.handles[h] = obj
	obj.refs++
	return h
}

func (k *Kernel) lookup(h kernel.Handle, kinds ...objectKind) (*object, error) {
	obj, ok := k.handles[h]
	if !ok {
		return nil, ErrInvalidHandle
	}
	for _, kind := range kinds {
		if obj.kind == kind {
			return obj, nil
		}
	}
	return nil, ErrInvalidHandle
}

func (k *Kernel) unref(obj *object) {
	obj.refs--
	if obj.refs > 0 {
		return
	}

	switch obj.kind {
	case kindServerSession:
		obj.sess.serverClosed = true
		obj.sess.closeDone()
		k.sessionGone(obj.sess)
	case kindClientSession:
		obj.sess.clientClosed = true
		obj.sess.closeDone()
		k.sessionGone(obj.sess)
	case kindPort:
		for _, s := range obj.pending {
			s.serverClosed = true
			s.closeDone()
		}
		obj.pending = nil
	}
}

func (k *Kernel) sessionGone(s *session) {
	if s.serverClosed && s.clientClosed {
		s.port.sessions--
	}
}

func (k *Kernel) CloseHandle(h kernel.Handle) error {
	k.Lock()
	defer k.Unlock()

	obj, ok := k.handles[h]
	if !ok {
		return ErrInvalidHandle
	}
	delete(k.handles, h)
	k.unref(obj)
	k.signal()

	return nil
}

func (k *Kernel) AcceptSession(port kernel.Handle) (kernel.Handle, error) {
	k.Lock()
	defer k.Unlock()

	obj, err := k.lookup(port, kindPort)
	if err != nil {
		return 0, err
	}
	if len(obj.pending) == 0 {
		return 0, ErrNoPendingSession
	}

	s := obj.pending[0]
	obj.pending = obj.pending[1:]

	return k.newHandle(&object{kind: kindServerSession, sess: s}), nil
}

// translate duplicates the handles described in the translate parameters of cmd
func (k *Kernel) translate(cmd *ipc.CommandBuffer) error {
	h := cmd.Header()
	index := 1 + h.Normal()
	end := index + h.Translate()
	if end > uint(len(cmd)) {
		return result.InvalidIPCParameter
	}

	for index < end {
		ok, n := ipc.DescIsHandles(cmd[index])
		if !ok {
			return nil
		}
		index++
		for i := uint(0); i < n && index < end; i++ {
			obj, ok := k.handles[kernel.Handle(cmd[index])]
			if !ok {
				return ErrInvalidHandle
			}
			cmd[index] = uint32(k.newHandle(obj))
			index++
		}
	}

	return nil
}

func (k *Kernel) ReplyAndReceive(handles []kernel.Handle, target kernel.Handle, cmd *ipc.CommandBuffer) (int, error) {
	k.Lock()
	defer k.Unlock()

	if target != 0 {
		obj, err := k.lookup(target, kindServerSession)
		if err != nil {
			return -1, err
		}
		s := obj.sess
		if s.clientClosed {
			return -1, result.RemoteSessionClosed
		}
		if !s.awaitingReply {
			return -1, ErrInvalidState
		}
		s.awaitingReply = false
		s.reply <- *cmd
	}

	for {
		for k.paused {
			k.wait()
		}

		for i, h := range handles {
			obj, ok := k.handles[h]
			if !ok {
				return i, ErrInvalidHandle
			}

			switch obj.kind {
			case kindSemaphore, kindEvent:
				if obj.count > 0 {
					obj.count--
					return i, nil
				}

			case kindPort:
				if len(obj.pending) > 0 {
					return i, nil
				}

			case kindServerSession:
				s := obj.sess
				if s.clientClosed {
					return i, result.RemoteSessionClosed
				}
				if s.request != nil && !s.awaitingReply {
					*cmd = *s.request
					s.request = nil
					s.awaitingReply = true
					return i, nil
				}

			default:
				return i, ErrInvalidHandle
			}
		}

		k.wait()
	}
}

/* wait releases the lock until something changes. The caller holds the lock. */
func (k *Kernel) wait() {
	c := k.changedChan()
	k.Unlock()
	<-c
	k.Lock()
}

// Pause stops ReplyAndReceive from looking at its handles until Resume is called.
// Events that happen in between are all seen by the next scan, in handle order.
func (k *Kernel) Pause() {
	k.Lock()
	defer k.Unlock()

	k.paused = true
}

func (k *Kernel) Resume() {
	k.Lock()
	defer k.Unlock()

	k.paused = false
	k.signal()
}

func (k *Kernel) BindInterrupt(line uint8, h kernel.Handle, priority int32, manualClear bool) error {
	k.Lock()
	defer k.Unlock()

	obj, err := k.lookup(h, kindEvent, kindSemaphore)
	if err != nil {
		return err
	}
	if _, ok := k.interrupts[line]; ok {
		return ErrInterruptBound
	}

	k.interrupts[line] = obj
	obj.refs++
	k.log.WithFields(logrus.Fields{"line": line, "priority": priority}).Debug("Interrupt bound")

	return nil
}

func (k *Kernel) UnbindInterrupt(line uint8, h kernel.Handle) error {
	k.Lock()
	defer k.Unlock()

	obj, err := k.lookup(h, kindEvent, kindSemaphore)
	if err != nil {
		return err
	}
	if k.interrupts[line] != obj {
		return ErrInvalidState
	}

	delete(k.interrupts, line)
	k.unref(obj)
	k.log.WithField("line", line).Debug("Interrupt unbound")

	return nil
}

// Raise fires an interrupt line. It returns false if nothing is bound to it.
func (k *Kernel) Raise(line uint8) bool {
	k.Lock()
	defer k.Unlock()

	obj, ok := k.interrupts[line]
	if !ok {
		return false
	}
	obj.count = 1
	k.signal()
	return true
}

func (k *Kernel) RegisterService(name string, maxSessions int) (kernel.Handle, error) {
	k.Lock()
	defer k.Unlock()

	if _, ok := k.services[name]; ok {
		return 0, ErrServiceExists
	}

	port := &object{kind: kindPort, name: name, maxSessions: maxSessions}
	k.services[name] = port
	k.signal()
	return k.newHandle(port), nil
}

func (k *Kernel) UnregisterService(name string) error {
	k.Lock()
	defer k.Unlock()

	if _, ok := k.services[name]; !ok {
		return ErrServiceNotFound
	}
	delete(k.services, name)
	k.signal()
	return nil
}

func (k *Kernel) EnableNotification() (kernel.Handle, error) {
	k.Lock()
	defer k.Unlock()

	if k.notification != nil {
		return 0, ErrInvalidState
	}
	k.notification = &object{kind: kindSemaphore, count: len(k.notifications)}
	return k.newHandle(k.notification), nil
}

func (k *Kernel) ReceiveNotification() (uint32, error) {
	k.Lock()
	defer k.Unlock()

	if len(k.notifications) == 0 {
		return 0, nil
	}
	id := k.notifications[0]
	k.notifications = k.notifications[1:]
	return id, nil
}

// Notify publishes a notification to the process that enabled notifications
func (k *Kernel) Notify(id uint32) {
	k.Lock()
	defer k.Unlock()

	k.notifications = append(k.notifications, id)
	if k.notification != nil {
		k.notification.count++
	}
	k.signal()
}

func (k *Kernel) ThrowFatal(code result.Code) {
	k.Lock()
	defer k.Unlock()

	k.log.WithField("code", code).Error("Fatal error reported")
	k.fatals = append(k.fatals, code)
}

// Fatals returns all codes passed to ThrowFatal
func (k *Kernel) Fatals() []result.Code {
	k.Lock()
	defer k.Unlock()

	return append([]result.Code(nil), k.fatals...)
}

func (k *Kernel) IsOpen(h kernel.Handle) bool {
	k.Lock()
	defer k.Unlock()

	_, ok := k.handles[h]
	return ok
}

func (k *Kernel) OpenHandles() int {
	k.Lock()
	defer k.Unlock()

	return len(k.handles)
}

// IsBound reports whether an event is bound to line
func (k *Kernel) IsBound(line uint8) bool {
	k.Lock()
	defer k.Unlock()

	_, ok := k.interrupts[line]
	return ok
}

func (k *Kernel) IsRegistered(name string) bool {
	k.Lock()
	defer k.Unlock()

	_, ok := k.services[name]
	return ok
}

// WaitRegistered blocks until name is registered or done is closed
func (k *Kernel) WaitRegistered(name string, done <-chan (struct{})) bool {
	for {
		k.Lock()
		_, ok := k.services[name]
		c := k.changedChan()
		k.Unlock()

		if ok {
			return true
		}

		select {
		case <-c:
		case <-done:
			return false
		}
	}
}
