package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func check(t *testing.T, condition bool, reason ...interface{}) {
	if !condition {
		t.Error(reason...)
		t.FailNow()
	}
}

type blocking struct {
	sync.Mutex
	c      chan (struct{})
	closed int
	err    error
}

func newBlocking(err error) *blocking {
	return &blocking{c: make(chan (struct{})), err: err}
}

func (b *blocking) Run() error {
	<-b.c
	return b.err
}

func (b *blocking) Close() error {
	b.Lock()
	defer b.Unlock()

	b.closed++
	if b.closed == 1 {
		close(b.c)
	}
	return nil
}

func runAsync(s *Supervisor) chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()
	return done
}

func wait(t *testing.T, done chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("Supervisor did not return")
		return nil
	}
}

func TestCloseStopsAll(t *testing.T) {
	s := New(nil)
	a, b := newBlocking(nil), newBlocking(nil)
	s.Add("a", a)
	s.Add("b", b)

	done := runAsync(s)
	check(t, s.Close() == nil, "Close failed")
	check(t, wait(t, done) == nil, "Clean stop returned an error")
	check(t, a.closed == 1 && b.closed == 1, "Items not closed once", a.closed, b.closed)

	check(t, s.Close() == ErrClosed, "Second close not detected")
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestFailureStopsOthers(t *testing.T) {
	s := New(nil)
	errFail := errors.New("fail")

	a := newBlocking(nil)
	s.Add("server", a)
	s.AddFunc("demo", func() error { return errFail }, nil)

	err := wait(t, runAsync(s))
	check(t, errors.Is(err, errFail), "Failure not returned", err)
	check(t, a.closed == 1, "Other item not closed")
}

func TestFinishWithoutClose(t *testing.T) {
	s := New(nil)
	s.AddFunc("short", func() error { return nil }, nil)

	check(t, wait(t, runAsync(s)) == nil, "Run failed")
}
