package rpc

import (
	"context"
	"sync"
)

// OnceActivateHandler runs exactly once, with shutdown paused, to activate an
// object. A non-nil return prevents activation and starts shutdown instead.
type OnceActivateHandler func() error

// OnceShutdownHandler is implemented by the object a ShutdownHelper manages.
// Shutdown is called exactly once, in its own goroutine, and never while
// shutdown is paused.
type OnceShutdownHandler interface {
	HandleOnceShutdown(completionError error) error
}

// AsyncShutdowner is implemented by objects that support asynchronous,
// idempotent shutdown. In this runtime Service satisfies it via an embedded
// ShutdownHelper; ServiceProxy and ObjectProxy do not embed one.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool
	WaitShutdown() error
}

// ShutdownHelper is an embeddable base that manages clean asynchronous
// shutdown for an object implementing OnceShutdownHandler. It mirrors the
// teacher runtime's own helper: pausable activation, a wait group for
// children, and one-shot shutdown semantics suitable for the cooperative
// suspension points named in spec.md §5.
type ShutdownHelper struct {
	Logger

	Lock sync.Mutex

	shutdownHandler OnceShutdownHandler

	shutdownPauseCount int
	isActivated        bool
	isScheduledShutdown bool
	isStartedShutdown   bool
	isDoneShutdown      bool
	shutdownErr         error

	shutdownStartedChan     chan struct{}
	shutdownHandlerDoneChan chan struct{}
	shutdownDoneChan        chan struct{}

	wg sync.WaitGroup
}

// InitShutdownHelper initializes a ShutdownHelper embedded by value.
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, shutdownHandler OnceShutdownHandler) {
	h.Logger = logger
	h.shutdownHandler = shutdownHandler
	h.shutdownStartedChan = make(chan struct{})
	h.shutdownHandlerDoneChan = make(chan struct{})
	h.shutdownDoneChan = make(chan struct{})
}

func (h *ShutdownHelper) asyncDoStartedShutdown() {
	h.DLogf("->shutdownStarted")
	close(h.shutdownStartedChan)
	go func() {
		h.shutdownErr = h.shutdownHandler.HandleOnceShutdown(h.shutdownErr)
		h.DLogf("->shutdownHandlerDone")
		close(h.shutdownHandlerDoneChan)
		h.wg.Wait()
		h.isDoneShutdown = true
		h.DLogf("->shutdownDone")
		close(h.shutdownDoneChan)
	}()
}

// PauseShutdown increments the pause count, preventing shutdown from
// actually starting (though it may still be scheduled). Must be matched by
// ResumeShutdown.
func (h *ShutdownHelper) PauseShutdown() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.isStartedShutdown {
		return h.Errorf("Shutdown already started; cannot pause")
	}
	h.shutdownPauseCount++
	return nil
}

// IsActivated reports whether Activate has succeeded.
func (h *ShutdownHelper) IsActivated() bool { return h.isActivated }

// Activate marks the helper activated. A no-op if already activated; fails
// if shutdown has already started.
func (h *ShutdownHelper) Activate() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if !h.isActivated {
		if h.isStartedShutdown {
			return h.Errorf("Cannot activate; shutdown already initiated")
		}
		h.isActivated = true
	}
	return nil
}

// DoOnceActivate activates the object exactly once: if already activated it
// is a no-op; otherwise it pauses shutdown, runs onceActivateHandler, and
// resumes. A failing handler starts shutdown with that error; waitOnFail
// then blocks for shutdown to finish before returning the error.
func (h *ShutdownHelper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.isActivated {
		h.Lock.Unlock()
		return nil
	}
	if h.isStartedShutdown {
		h.Lock.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("Shutdown already started; cannot Activate")
		}
		return err
	}
	h.shutdownPauseCount++
	h.Lock.Unlock()

	err := onceActivateHandler()
	if err == nil {
		err = h.Activate()
	}
	if err != nil {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// ResumeShutdown decrements the pause count; at zero, shutdown (if
// scheduled) actually begins.
func (h *ShutdownHelper) ResumeShutdown() {
	h.Lock.Lock()
	if h.shutdownPauseCount < 1 {
		h.Lock.Unlock()
		h.Panic("ResumeShutdown before PauseShutdown")
		return
	}
	h.shutdownPauseCount--
	doShutdownNow := h.shutdownPauseCount == 0 && h.isScheduledShutdown && !h.isStartedShutdown
	if doShutdownNow {
		h.isStartedShutdown = true
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// ShutdownOnContext begins background monitoring of ctx and starts shutdown
// with ctx.Err() if it completes before shutdown starts some other way.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.shutdownStartedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsScheduledShutdown reports whether StartShutdown has been called.
func (h *ShutdownHelper) IsScheduledShutdown() bool { return h.isScheduledShutdown }

// IsStartedShutdown reports whether shutdown has begun.
func (h *ShutdownHelper) IsStartedShutdown() bool { return h.isStartedShutdown }

// IsDoneShutdown reports whether shutdown is complete.
func (h *ShutdownHelper) IsDoneShutdown() bool { return h.isDoneShutdown }

// ShutdownWG exposes the wait group children can register against so that
// shutdown does not complete until they do.
func (h *ShutdownHelper) ShutdownWG() *sync.WaitGroup { return &h.wg }

// ShutdownDoneChan returns a channel closed once shutdown is fully complete.
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} { return h.shutdownDoneChan }

// WaitShutdown blocks until shutdown is complete and returns the final
// completion status. It does not itself initiate shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.shutdownDoneChan
	return h.shutdownErr
}

// Shutdown synchronously shuts down: initiates if not already started, waits
// for completion, and returns the final status.
func (h *ShutdownHelper) Shutdown(completionError error) error {
	h.StartShutdown(completionError)
	return h.WaitShutdown()
}

// StartShutdown schedules asynchronous shutdown. A no-op after the first
// call. completionErr is an advisory status later returned from
// WaitShutdown, subject to being overridden by HandleOnceShutdown's return.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	var doShutdownNow bool
	h.Lock.Lock()
	if !h.isScheduledShutdown {
		if h.isStartedShutdown {
			h.Lock.Unlock()
			h.Panic("shutdown started before scheduled")
			return
		}
		h.shutdownErr = completionErr
		h.isScheduledShutdown = true
		doShutdownNow = h.shutdownPauseCount == 0
		h.isStartedShutdown = doShutdownNow
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// Close shuts down with a nil advisory status and returns the final status.
func (h *ShutdownHelper) Close() error {
	h.DLogf("Close()")
	return h.Shutdown(nil)
}
