// Package command implements the debugger's interactive command surface.
package command

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/sirupsen/logrus"

	"github.com/pattyshack/edb/debugger"
	. "github.com/pattyshack/edb/debugger/common"
)

type Result int

const (
	Ok = Result(iota)
	NotRecognized
	Error
	SessionExit
)

func (result Result) String() string {
	switch result {
	case Ok:
		return "ok"
	case NotRecognized:
		return "not recognized"
	case Error:
		return "error"
	case SessionExit:
		return "session exit"
	default:
		return fmt.Sprintf("unknown result (%d)", int(result))
	}
}

type command struct {
	// The first alias is the command's canonical name.
	aliases []string
	usage   string
	helpMsg string
	run     func(args []string) (Result, error)
}

type Commands struct {
	session *debugger.Session
	out     io.Writer
	logger  *logrus.Entry

	cmds  []*command
	names *trie.Trie
}

func New(
	session *debugger.Session,
	out io.Writer,
	logger *logrus.Entry,
) *Commands {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	cmds := &Commands{
		session: session,
		out:     out,
		logger:  logger.WithField("layer", "command"),
		names:   trie.New(),
	}

	cmds.cmds = []*command{
		{
			aliases: []string{"run", "r"},
			usage:   "run [<path> [<args>...]]",
			helpMsg: "start (or restart) the program. break points are discarded",
			run:     cmds.run,
		},
		{
			aliases: []string{"continue", "c"},
			usage:   "continue",
			helpMsg: "resume the program until the next stop",
			run:     cmds.resume,
		},
		{
			aliases: []string{"stepi", "si"},
			usage:   "stepi",
			helpMsg: "execute a single instruction",
			run:     cmds.stepInstruction,
		},
		{
			aliases: []string{"break", "b"},
			usage:   "break <line | 0xaddress | file:line>",
			helpMsg: "set a break point",
			run:     cmds.setBreakpoint,
		},
		{
			aliases: []string{"delete", "del"},
			usage:   "delete <line | 0xaddress | file:line>",
			helpMsg: "remove a break point",
			run:     cmds.deleteBreakpoint,
		},
		{
			aliases: []string{"breakpoints", "bl"},
			usage:   "breakpoints",
			helpMsg: "list break points",
			run:     cmds.listBreakpoints,
		},
		{
			aliases: []string{"register"},
			usage:   "register read [<name>] | register write <name> <value>",
			helpMsg: "read / write general purpose registers",
			run:     cmds.register,
		},
		{
			aliases: []string{"memory", "x"},
			usage:   "memory <0xaddress> [<num bytes>]",
			helpMsg: "dump memory (break point traps are hidden)",
			run:     cmds.memory,
		},
		{
			aliases: []string{"help", "h"},
			usage:   "help",
			helpMsg: "list commands",
			run:     cmds.help,
		},
		{
			aliases: []string{"quit", "q", "exit"},
			usage:   "quit",
			helpMsg: "exit the debugger",
			run:     cmds.quit,
		},
	}

	for _, cmd := range cmds.cmds {
		for _, alias := range cmd.aliases {
			cmds.names.Add(alias, cmd)
		}
	}

	return cmds
}

// find matches an exact alias first, then a unique command name prefix.
func (cmds *Commands) find(name string) (*command, error) {
	node, ok := cmds.names.Find(name)
	if ok {
		return node.Meta().(*command), nil
	}

	matched := map[*command]struct{}{}
	candidates := []string{}
	for _, key := range cmds.names.PrefixSearch(name) {
		node, ok := cmds.names.Find(key)
		if !ok {
			continue
		}

		cmd := node.Meta().(*command)
		if _, ok := matched[cmd]; ok {
			continue
		}
		matched[cmd] = struct{}{}
		candidates = append(candidates, cmd.aliases[0])
	}

	if len(candidates) == 1 {
		for cmd := range matched {
			return cmd, nil
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("unknown command (%s)", name)
	}

	sort.Strings(candidates)
	return nil, fmt.Errorf(
		"ambiguous command (%s): %s",
		name,
		strings.Join(candidates, ", "))
}

func splitArgs(line string) ([]string, error) {
	pipeline, err := argv.Argv(
		line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, fmt.Errorf("%w. %v", ErrInvalidArgument, err)
	}

	if len(pipeline) == 0 {
		return nil, nil
	}

	if len(pipeline) > 1 {
		return nil, fmt.Errorf(
			"%w. pipe not supported (%s)",
			ErrInvalidArgument,
			line)
	}

	return pipeline[0], nil
}

// Execute runs a single command line.  Blank lines are no-ops.
func (cmds *Commands) Execute(line string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Ok, nil
	}

	args, err := splitArgs(line)
	if err != nil {
		return Error, err
	}

	if len(args) == 0 {
		return Ok, nil
	}

	cmd, err := cmds.find(args[0])
	if err != nil {
		return NotRecognized, err
	}

	result, err := cmd.run(args[1:])
	if err != nil {
		cmds.logger.WithError(err).WithField("command", line).Debug(
			"command failed")
		return Error, err
	}

	return result, nil
}

func (cmds *Commands) printf(format string, args ...interface{}) {
	fmt.Fprintf(cmds.out, format, args...)
}

func (cmds *Commands) println(args ...interface{}) {
	fmt.Fprintln(cmds.out, args...)
}

func expectArgs(args []string, min int, max int, usage string) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("%w. usage: %s", ErrInvalidArgument, usage)
	}
	return nil
}

func (cmds *Commands) help(args []string) (Result, error) {
	for _, cmd := range cmds.cmds {
		aliases := ""
		if len(cmd.aliases) > 1 {
			aliases = " (alias: " + strings.Join(cmd.aliases[1:], ", ") + ")"
		}
		cmds.printf("%s%s\n    %s\n", cmd.usage, aliases, cmd.helpMsg)
	}
	return Ok, nil
}

func (cmds *Commands) quit(args []string) (Result, error) {
	return SessionExit, nil
}
