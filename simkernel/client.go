package simkernel

import (
	"time"

	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/result"
)

// Client is the client end of a session to a registered service
type Client struct {
	k      *Kernel
	handle kernel.Handle
	sess   *session
}

// Connect opens a session to the named service. Unlike the real kernel it does not
// block when the port is at its session limit but fails with ErrSessionLimit.
func (k *Kernel) Connect(name string) (*Client, error) {
	k.Lock()
	defer k.Unlock()

	port, ok := k.services[name]
	if !ok {
		return nil, ErrServiceNotFound
	}
	if port.sessions >= port.maxSessions {
		return nil, ErrSessionLimit
	}

	s := &session{
		port:  port,
		done:  make(chan (struct{})),
		reply: make(chan (ipc.CommandBuffer), 1),
	}
	port.sessions++
	port.pending = append(port.pending, s)

	c := &Client{
		k:      k,
		handle: k.newHandle(&object{kind: kindClientSession, sess: s}),
		sess:   s,
	}
	k.signal()

	return c, nil
}

func (c *Client) Handle() kernel.Handle {
	return c.handle
}

// SendSyncRequest sends cmd and waits for the reply, which overwrites cmd. Handles
// following a shared handles descriptor are duplicated for the server.
func (c *Client) SendSyncRequest(cmd *ipc.CommandBuffer) error {
	c.k.Lock()
	if _, ok := c.k.handles[c.handle]; !ok {
		c.k.Unlock()
		return ErrInvalidHandle
	}
	if c.sess.serverClosed {
		c.k.Unlock()
		return result.RemoteSessionClosed
	}

	req := *cmd
	if err := c.k.translate(&req); err != nil {
		c.k.Unlock()
		return err
	}
	c.sess.request = &req
	c.k.signal()
	c.k.Unlock()

	select {
	case r := <-c.sess.reply:
		*cmd = r
		return nil
	case <-c.sess.done:
		select {
		case r := <-c.sess.reply:
			*cmd = r
			return nil
		default:
		}
		return result.RemoteSessionClosed
	}
}

// Close closes the client end of the session
func (c *Client) Close() error {
	return c.k.CloseHandle(c.handle)
}

// CreateEvent creates an event owned by the client
func (c *Client) CreateEvent() kernel.Handle {
	c.k.Lock()
	defer c.k.Unlock()

	return c.k.newHandle(&object{kind: kindEvent})
}

func (c *Client) CloseHandle(h kernel.Handle) error {
	return c.k.CloseHandle(h)
}

// WaitEvent waits until the event is signalled and clears it
func (c *Client) WaitEvent(h kernel.Handle, timeout time.Duration) bool {
	deadline := time.After(timeout)

	for {
		c.k.Lock()
		obj, err := c.k.lookup(h, kindEvent)
		if err != nil {
			c.k.Unlock()
			return false
		}
		if obj.count > 0 {
			obj.count = 0
			c.k.Unlock()
			return true
		}
		ch := c.k.changedChan()
		c.k.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}
