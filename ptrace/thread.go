package ptrace

import (
	"context"
	"runtime"
)

// Every ptrace request for a tracee, including the PTRACE_TRACEME issued by
// exec.Cmd.Start, must come from the same os thread.  osThread runs submitted
// functions on a single locked goroutine.
//
// https://github.com/golang/go/issues/7699
// https://github.com/golang/go/issues/43685
type osThread struct {
	ctx    context.Context
	cancel func()

	// Unbuffered.  A send only succeeds while the thread is serving.
	calls chan func()
}

func newOSThread() *osThread {
	ctx, cancel := context.WithCancel(context.Background())

	thread := &osThread{
		ctx:    ctx,
		cancel: cancel,
		calls:  make(chan func()),
	}

	go thread.serve()
	return thread
}

func (thread *osThread) serve() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-thread.ctx.Done():
			return
		case call := <-thread.calls:
			call()
		}
	}
}

// run executes call on the locked thread.  It returns false without running
// call if the thread has stopped.
func (thread *osThread) run(call func()) bool {
	ran := false
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		if thread.stopped() {
			return
		}

		ran = true
		call()
	}

	select {
	case <-thread.ctx.Done():
		return false
	case thread.calls <- wrapped:
		<-done
		return ran
	}
}

func (thread *osThread) stop() {
	thread.cancel()
}

func (thread *osThread) stopped() bool {
	select {
	case <-thread.ctx.Done():
		return true
	default:
		return false
	}
}
