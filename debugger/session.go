package debugger

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
)

const (
	DefaultSourceContext = 3
)

type SessionOptions struct {
	Options

	// Number of source lines displayed around the stop line.  < 0 disables
	// source snippets.
	SourceContext int

	// <= 0 means DefaultSourceCacheSize
	SourceCacheSize int

	// nil means Start / Attach
	Starter  func(string, []string, Options) (*Debugger, error)
	Attacher func(int, Options) (*Debugger, error)
}

// Session owns at most one Debugger at a time.  Break points are process
// scoped: replacing the debugger discards the previous debugger's break
// points.
type Session struct {
	Path     string
	Debugger *Debugger

	*SourceFiles

	options SessionOptions
	logger  *logrus.Entry

	start  func(string, []string, Options) (*Debugger, error)
	attach func(int, Options) (*Debugger, error)

	// Mirrors Debugger.Pid for readers outside the command loop.
	pid atomic.Int64
}

func NewSession(options SessionOptions) (*Session, error) {
	sourceFiles, err := NewSourceFiles(options.SourceCacheSize)
	if err != nil {
		return nil, err
	}

	start := options.Starter
	if start == nil {
		start = Start
	}

	attach := options.Attacher
	if attach == nil {
		attach = Attach
	}

	return &Session{
		SourceFiles: sourceFiles,
		options:     options,
		logger:      options.logger().WithField("layer", "session"),
		start:       start,
		attach:      attach,
	}, nil
}

// Active returns the session's debugger.  The debugger's process may have
// already terminated.
func (session *Session) Active() (*Debugger, error) {
	if session.Debugger == nil {
		return nil, fmt.Errorf("%w. no program running", ErrNoSession)
	}
	return session.Debugger, nil
}

// Running is true when the session's process has not terminated.
func (session *Session) Running() bool {
	return session.Debugger != nil && !session.Debugger.Status().Terminated()
}

// CurrentPid returns the traced process' pid, or 0 when there is no session.
// Safe to call from any goroutine.
func (session *Session) CurrentPid() int {
	return int(session.pid.Load())
}

func (session *Session) Start(path string, args []string) (*Debugger, error) {
	session.closeCurrent()

	db, err := session.start(path, args, session.options.Options)
	if err != nil {
		return nil, err
	}

	session.Path = path
	session.Debugger = db
	session.pid.Store(int64(db.Pid))
	return db, nil
}

func (session *Session) Attach(pid int) (*Debugger, error) {
	session.closeCurrent()

	db, err := session.attach(pid, session.options.Options)
	if err != nil {
		return nil, err
	}

	session.Path = db.LoadedElf.Path
	session.Debugger = db
	session.pid.Store(int64(db.Pid))
	return db, nil
}

func (session *Session) closeCurrent() {
	if session.Debugger == nil {
		return
	}

	db := session.Debugger
	session.Debugger = nil
	session.Path = ""
	session.pid.Store(0)

	discarded := db.Breakpoints.Len()
	err := db.Close()
	if err != nil {
		session.logger.WithError(err).Warn("failed to close previous session")
	}

	session.logger.WithFields(
		logrus.Fields{
			"pid":          db.Pid,
			"break-points": discarded,
		}).Info("closed previous session. break points discarded")
}

func (session *Session) Close() error {
	if session.Debugger == nil {
		return nil
	}

	db := session.Debugger
	session.Debugger = nil
	session.Path = ""
	session.pid.Store(0)
	return db.Close()
}

// Report describes a stop, including the surrounding source lines when
// available.
func (session *Session) Report(status ProcessStatus) string {
	result := status.String()
	if !status.Stopped ||
		status.File == "" ||
		session.options.SourceContext < 0 {

		return result
	}

	snippet, err := session.GetSnippet(
		status.File,
		int(status.Line),
		session.options.SourceContext)
	if err != nil {
		session.logger.WithError(err).Debug("source snippet unavailable")
		return result
	}

	return result + "\n" + snippet.String()
}
