// Package kernel describes the narrow set of kernel and service manager calls the
// GPIO broker depends on. Implementations live outside of the broker: simkernel
// provides an in-process one.
package kernel

import (
	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/result"
)

// Handle refers to a kernel object owned by the calling process. Zero is never a valid handle.
type Handle uint32

// HandleCloser releases handles
type HandleCloser interface {
	CloseHandle(h Handle) error
}

// InterruptBinder connects hardware interrupt lines to events or semaphores
type InterruptBinder interface {
	HandleCloser

	BindInterrupt(line uint8, h Handle, priority int32, manualClear bool) error
	UnbindInterrupt(line uint8, h Handle) error
}

// Kernel is the full set of kernel calls used by the session multiplexer.
type Kernel interface {
	InterruptBinder

	// AcceptSession accepts a pending connection on a port.
	AcceptSession(port Handle) (Handle, error)

	// ReplyAndReceive replies to target (unless it is zero) using the contents of cmd
	// and then blocks until one of handles is signalled. A request received on a session
	// is copied into cmd. When a peer disconnected the error is result.RemoteSessionClosed;
	// index is -1 if it was the reply target that disconnected.
	ReplyAndReceive(handles []Handle, target Handle, cmd *ipc.CommandBuffer) (int, error)
}

// ServiceManager registers named services
type ServiceManager interface {
	RegisterService(name string, maxSessions int) (Handle, error)
	UnregisterService(name string) error
	EnableNotification() (Handle, error)
	ReceiveNotification() (uint32, error)
}

// FatalReporter reports unrecoverable failures. On real systems ThrowFatal does not return.
type FatalReporter interface {
	ThrowFatal(code result.Code)
}

// NotificationTermination asks all services to terminate
const NotificationTermination uint32 = 0x100
