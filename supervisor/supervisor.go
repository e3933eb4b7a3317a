// Package supervisor runs the parts of the gpiosrv process side by side and stops
// all of them when one fails or when the process is asked to terminate.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/sirupsen/logrus"
)

type Error string

func (e Error) Error() string { return string(e) }

const ErrClosed Error = "The supervisor was already closed"

// Runnable has a blocking Run method and a Close method that makes Run return
type Runnable interface {
	Run() error
	Close() error
}

type funcRunnable struct {
	run   func() error
	close func() error
}

func (f funcRunnable) Run() error {
	return f.run()
}

func (f funcRunnable) Close() error {
	if f.close == nil {
		return nil
	}
	return f.close()
}

type item struct {
	name string
	r    Runnable
}

type Supervisor struct {
	sync.Mutex
	log *logrus.Entry

	items     []item
	closed    bool
	closeChan chan (struct{})
}

func New(log *logrus.Entry) *Supervisor {
	return &Supervisor{
		log:       logrusconfig.Component(log, "supervisor"),
		closeChan: make(chan (struct{})),
	}
}

func (s *Supervisor) Add(name string, r Runnable) {
	s.items = append(s.items, item{name: name, r: r})
}

// AddFunc adds a Runnable made of two callbacks. close may be nil.
func (s *Supervisor) AddFunc(name string, run func() error, close func() error) {
	s.Add(name, funcRunnable{run: run, close: close})
}

// Done is closed once Close was called
func (s *Supervisor) Done() <-chan (struct{}) {
	return s.closeChan
}

// Run starts all items and waits for them to return. The first error returned by an
// item closes the others and is returned.
func (s *Supervisor) Run() error {
	var wg sync.WaitGroup
	var resultMutex sync.Mutex
	var result error

	for _, it := range s.items {
		wg.Add(1)

		go func(it item) {
			defer wg.Done()

			log := s.log.WithField("item", it.name)
			log.Debug("Started")

			err := it.r.Run()
			if err == nil {
				log.Debug("Finished")
				return
			}

			log.WithError(err).Error("Failed")
			resultMutex.Lock()
			if result == nil {
				result = fmt.Errorf("%s: %w", it.name, err)
			}
			resultMutex.Unlock()

			s.Close()
		}(it)
	}

	wg.Wait()
	return result
}

// Close calls Close on all items, in the reverse order they were added
func (s *Supervisor) Close() error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.closeChan)
	s.Unlock()

	var err error
	for i := len(s.items) - 1; i >= 0; i-- {
		if err2 := s.items[i].r.Close(); err == nil {
			err = err2
		}
	}

	return err
}

// HandleSignals closes the supervisor on SIGINT or SIGTERM. A second signal, or a
// shutdown that takes too long, exits the process.
func (s *Supervisor) HandleSignals(timeout time.Duration) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		s.log.Info("Termination requested")
		go func() {
			select {
			case <-c:
				fmt.Fprintln(os.Stderr, "Pressed ^C a second time, quitting right away.")
			case <-time.After(timeout):
				fmt.Fprintln(os.Stderr, "Timeout during shutdown, clients still connected.")
			}
			os.Exit(1)
		}()
		s.Close()
	}()
}
