package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	. "github.com/pattyshack/edb/debugger/common"
)

type sessionFixture struct {
	session   *Session
	hook      *test.Hook
	processes []*fakeProcess
}

func newSessionFixture(t *testing.T, sourceContext int) *sessionFixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	session, err := NewSession(
		SessionOptions{
			Options: Options{
				Logger: logrus.NewEntry(logger),
			},
			SourceContext: sourceContext,
		})
	expect.Nil(t, err)

	fixture := &sessionFixture{
		session: session,
		hook:    hook,
	}

	session.start = func(
		path string,
		args []string,
		options Options,
	) (
		*Debugger,
		error,
	) {
		if path == "missing" {
			return nil, ErrResource
		}

		proc := newFakeProcess(0x400000)
		proc.pid = 1000 + len(fixture.processes)
		fixture.processes = append(fixture.processes, proc)
		return newTestDebugger(t, proc, options.MaxBreakpoints), nil
	}

	return fixture
}

type SessionSuite struct{}

func TestSession(t *testing.T) {
	suite.RunTests(t, &SessionSuite{})
}

func (SessionSuite) TestNoSession(t *testing.T) {
	fixture := newSessionFixture(t, 0)

	_, err := fixture.session.Active()
	expect.True(t, errors.Is(err, ErrNoSession))
	expect.True(t, errors.Is(err, ErrState))
	expect.False(t, fixture.session.Running())
	expect.Nil(t, fixture.session.Close())
}

func (SessionSuite) TestRestartDiscardsBreakpoints(t *testing.T) {
	fixture := newSessionFixture(t, 0)

	first, err := fixture.session.Start("main", nil)
	expect.Nil(t, err)
	expect.True(t, fixture.session.Running())
	expect.Equal(t, "main", fixture.session.Path)

	_, err = first.AddBreakpoint("10")
	expect.Nil(t, err)
	_, err = first.AddBreakpoint("12")
	expect.Nil(t, err)

	expect.Equal(t, 1000, fixture.session.CurrentPid())

	second, err := fixture.session.Start("main", nil)
	expect.Nil(t, err)
	expect.Equal(t, 1001, second.Pid)
	expect.Equal(t, 1001, fixture.session.CurrentPid())
	expect.Equal(t, 0, second.Breakpoints.Len())

	// The previous process was restored and closed.
	oldProc := fixture.processes[0]
	expect.True(t, oldProc.closed)
	expect.Equal(t, byte(0x01), oldProc.mem[0x00])
	expect.Equal(t, byte(0x11), oldProc.mem[0x10])

	discarded := -1
	for _, entry := range fixture.hook.AllEntries() {
		count, ok := entry.Data["break-points"]
		if ok && entry.Data["pid"] == 1000 {
			discarded = count.(int)
		}
	}
	expect.Equal(t, 2, discarded)

	db, err := fixture.session.Active()
	expect.Nil(t, err)
	expect.Equal(t, second, db)
}

func (SessionSuite) TestFailedStartLeavesNoSession(t *testing.T) {
	fixture := newSessionFixture(t, 0)

	_, err := fixture.session.Start("main", nil)
	expect.Nil(t, err)

	_, err = fixture.session.Start("missing", nil)
	expect.True(t, errors.Is(err, ErrResource))
	expect.True(t, fixture.processes[0].closed)

	_, err = fixture.session.Active()
	expect.True(t, errors.Is(err, ErrNoSession))
	expect.Equal(t, 0, fixture.session.CurrentPid())
}

func (SessionSuite) TestReportWithSource(t *testing.T) {
	fixture := newSessionFixture(t, 1)

	dir := t.TempDir()
	source := filepath.Join(dir, "main.c")
	content := ""
	for i := 1; i <= 12; i++ {
		content += "line\n"
	}
	err := os.WriteFile(source, []byte(content), 0644)
	expect.Nil(t, err)

	db, err := fixture.session.Start("main", nil)
	expect.Nil(t, err)

	status := db.Status()
	status.File = source

	report := fixture.session.Report(status)
	expect.Equal(
		t,
		status.String()+"\n"+
			"   9 line\n"+
			"> 10 line\n"+
			"  11 line",
		report)

	status.File = filepath.Join(dir, "missing.c")
	expect.Equal(t, status.String(), fixture.session.Report(status))
}
