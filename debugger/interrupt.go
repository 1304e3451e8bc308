package debugger

import (
	"context"
	"fmt"
	"os"
	osSignal "os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
)

// InterruptForwarder turns the debugger's SIGINT into a SIGSTOP for the
// traced process, so that a blocking continue returns with a stop instead of
// killing the debugger.
type InterruptForwarder struct {
	// Returns the pid of the currently traced process, or 0 if there is none.
	currentPid func() int

	kill   func(int, syscall.Signal) error
	logger *logrus.Entry

	ctx    context.Context
	cancel func()
}

func NewInterruptForwarder(
	currentPid func() int,
	logger *logrus.Entry,
) *InterruptForwarder {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &InterruptForwarder{
		currentPid: currentPid,
		kill:       syscall.Kill,
		logger:     logger.WithField("layer", "interrupt"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins forwarding until Close is called.
func (forwarder *InterruptForwarder) Start() {
	signalChan := make(chan os.Signal, 1)
	osSignal.Notify(signalChan, syscall.SIGINT)

	go func() {
		defer osSignal.Stop(signalChan)
		for {
			select {
			case <-forwarder.ctx.Done():
				return
			case <-signalChan:
				err := forwarder.Forward()
				if err != nil {
					forwarder.logger.WithError(err).Warn("failed to forward interrupt")
				}
			}
		}
	}()
}

// Forward stops the current process.  It's a no-op when nothing is traced.
func (forwarder *InterruptForwarder) Forward() error {
	pid := forwarder.currentPid()
	if pid == 0 {
		return nil
	}

	err := forwarder.kill(pid, syscall.SIGSTOP)
	if err != nil {
		return fmt.Errorf(
			"%w. failed to stop process %d: %w",
			ErrResource,
			pid,
			err)
	}

	forwarder.logger.WithField("pid", pid).Debug("forwarded interrupt")
	return nil
}

func (forwarder *InterruptForwarder) Close() error {
	forwarder.cancel()
	return nil
}
