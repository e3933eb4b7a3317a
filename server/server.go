// Package server runs the GPIO services: it registers one port per service and serves
// all sessions from a single goroutine using ReplyAndReceive.
package server

import (
	"errors"
	"fmt"

	"github.com/BertoldVdb/gpiosrv/bindtable"
	"github.com/BertoldVdb/gpiosrv/broker"
	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/ipc"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/BertoldVdb/gpiosrv/policy"
	"github.com/BertoldVdb/gpiosrv/regs"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FatalError is returned by Run after an unrecoverable failure was passed to the
// fatal reporter
type FatalError struct {
	Code result.Code
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Fatal error %v: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("Fatal error %v", e.Code)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Config holds everything a Server needs
type Config struct {
	Policy   *policy.Policy
	Kernel   kernel.Kernel
	Services kernel.ServiceManager
	Fatal    kernel.FatalReporter
	Bus      regs.Bus
	Log      *logrus.Entry
}

type session struct {
	id      uuid.UUID
	service int
	fields  logrus.Fields
	log     *logrus.Entry
}

type Server struct {
	log    *logrus.Entry
	policy *policy.Policy
	kern   kernel.Kernel
	srv    kernel.ServiceManager
	fatal  kernel.FatalReporter
	bus    regs.Bus

	binds  *bindtable.Table
	broker *broker.Broker

	// handles holds the notification semaphore, one port per service and then the
	// accepted sessions. sessions[i] describes handles[RemoteSessionIndex+i].
	handles  []kernel.Handle
	sessions []session

	terminate   bool
	target      kernel.Handle
	targetIndex int
	cmd         ipc.CommandBuffer
}

func New(config Config) *Server {
	log := logrusconfig.Component(config.Log, "server")
	binds := bindtable.New(config.Kernel, nil, config.Log)

	return &Server{
		log:         log,
		policy:      config.Policy,
		kern:        config.Kernel,
		srv:         config.Services,
		fatal:       config.Fatal,
		bus:         config.Bus,
		binds:       binds,
		broker:      broker.New(config.Bus, binds, config.Log),
		handles:     make([]kernel.Handle, 0, config.Policy.IndexMax()),
		sessions:    make([]session, 0, config.Policy.SessionCapacity()),
		targetIndex: -1,
	}
}

func (s *Server) throw(code result.Code, err error) error {
	s.log.WithField("code", code).WithError(err).Error("Unrecoverable failure")
	s.fatal.ThrowFatal(code)
	return &FatalError{Code: code, Err: err}
}

func (s *Server) throwErr(err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return s.throw(result.Of(err), err)
}

func (s *Server) start() error {
	s.handles = append(s.handles[:0], 0)

	for i, svc := range s.policy.Services() {
		h, err := s.srv.RegisterService(svc.Name, 1)
		if err != nil {
			return s.throw(result.Of(err), fmt.Errorf("Registering %s failed: %w", svc.Name, err))
		}
		s.handles = append(s.handles, h)
		s.log.WithFields(logrus.Fields{"service": svc.Name, "index": i}).Debug("Service registered")
	}

	h, err := s.srv.EnableNotification()
	if err != nil {
		return s.throw(result.Of(err), fmt.Errorf("Enabling notifications failed: %w", err))
	}
	s.handles[0] = h

	return nil
}

func (s *Server) stop() error {
	for i, svc := range s.policy.Services() {
		if err := s.srv.UnregisterService(svc.Name); err != nil {
			return s.throw(result.Of(err), fmt.Errorf("Unregistering %s failed: %w", svc.Name, err))
		}
		s.kern.CloseHandle(s.handles[i+1])
	}

	s.kern.CloseHandle(s.handles[0])
	s.handles = s.handles[:0]

	s.log.Info("Stopped")
	return nil
}

// Run serves clients until a termination notification was received and all sessions
// are closed. It returns nil after a clean shutdown, or a *FatalError.
func (s *Server) Run() error {
	gpio.InitIO(s.bus)

	if err := s.start(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"version":  s.policy.Version(),
		"services": s.policy.ServiceCount(),
	}).Info("Serving")

	remote := s.policy.RemoteSessionIndex()

	for {
		if s.target == 0 {
			if s.terminate && len(s.handles) == remote {
				break
			}
			s.cmd.SetHeader(ipc.ReceiveOnly)
		}

		index, err := s.kern.ReplyAndReceive(s.handles, s.target, &s.cmd)
		lastTargetIndex := s.targetIndex
		s.target = 0
		s.targetIndex = -1

		if err != nil {
			if !errors.Is(err, result.RemoteSessionClosed) {
				return s.throw(result.Of(err), err)
			}

			if index == -1 {
				if lastTargetIndex == -1 {
					return s.throw(result.CanceledRange, errors.New("Closed session reported without reply target"))
				}
				index = lastTargetIndex
			} else if index < remote || index >= len(s.handles) {
				return s.throw(result.CanceledRange, fmt.Errorf("Closed session index %d out of range", index))
			}

			if err := s.closeSession(index); err != nil {
				return s.throwErr(err)
			}
			continue
		}

		switch {
		case index == 0:
			if err := s.handleNotification(); err != nil {
				return s.throwErr(err)
			}

		case index >= 1 && index < remote:
			if err := s.accept(index); err != nil {
				return s.throwErr(err)
			}

		case index >= remote && index < len(s.handles):
			if err := s.serve(index); err != nil {
				return s.throwErr(err)
			}

		default:
			return s.throw(result.InternalRange, fmt.Errorf("Index %d out of range", index))
		}
	}

	return s.stop()
}

func (s *Server) handleNotification() error {
	id, err := s.srv.ReceiveNotification()
	if err != nil {
		return fmt.Errorf("Receiving notification failed: %w", err)
	}

	s.log.WithField("id", fmt.Sprintf("0x%x", id)).Debug("Notification")
	if id == kernel.NotificationTermination {
		s.log.WithField("sessions", len(s.sessions)).Info("Termination requested")
		s.terminate = true
	}

	return nil
}

func (s *Server) accept(index int) error {
	h, err := s.kern.AcceptSession(s.handles[index])
	if err != nil {
		return fmt.Errorf("Accepting session failed: %w", err)
	}

	svc := s.policy.Service(index - 1)
	if len(s.handles) >= s.policy.IndexMax() {
		s.log.WithField("service", svc.Name).Warn("Session table full, rejecting connection")
		s.kern.CloseHandle(h)
		return nil
	}

	sess := session{
		id:      uuid.New(),
		service: index - 1,
	}
	sess.fields = logrus.Fields{"service": svc.Name, "session": sess.id}
	sess.log = s.log.WithFields(sess.fields)

	s.handles = append(s.handles, h)
	s.sessions = append(s.sessions, sess)

	sess.log.Debug("Session opened")
	return nil
}

func (s *Server) serve(index int) error {
	sess := s.sessions[index-s.policy.RemoteSessionIndex()]
	svc := s.policy.Service(sess.service)

	sess.log.WithField("header", fmt.Sprintf("0x%08x", uint32(s.cmd.Header()))).Trace("Request")
	if err := s.broker.Dispatch(svc.Mask, &s.cmd, sess.fields); err != nil {
		return err
	}

	s.target = s.handles[index]
	s.targetIndex = index
	return nil
}

func (s *Server) closeSession(index int) error {
	remote := s.policy.RemoteSessionIndex()
	sess := s.sessions[index-remote]
	svc := s.policy.Service(sess.service)

	s.kern.CloseHandle(s.handles[index])
	if err := s.binds.ReleaseAll(svc.Mask); err != nil {
		return err
	}

	copy(s.handles[index:], s.handles[index+1:])
	s.handles = s.handles[:len(s.handles)-1]
	copy(s.sessions[index-remote:], s.sessions[index-remote+1:])
	s.sessions = s.sessions[:len(s.sessions)-1]

	sess.log.Debug("Session closed")
	return nil
}

// SessionCount returns the number of open sessions. It must not be called while Run
// is executing in another goroutine.
func (s *Server) SessionCount() int {
	return len(s.sessions)
}
