package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/pattyshack/edb/config"
	"github.com/pattyshack/edb/debugger"
	"github.com/pattyshack/edb/debugger/command"
)

func repl(
	conf *config.Config,
	session *debugger.Session,
	logger *logrus.Entry,
) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          conf.Prompt,
		HistoryFile:     conf.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	cmds := command.New(session, rl.Stdout(), logger)

	lastLine := ""
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}

		// Repeat the previous command on empty input.
		line = strings.TrimSpace(line)
		if line == "" {
			line = lastLine
		}
		lastLine = line

		result, err := cmds.Execute(line)
		switch result {
		case command.SessionExit:
			return nil
		case command.NotRecognized:
			fmt.Fprintf(rl.Stderr(), "%v. type 'help' for commands\n", err)
		case command.Error:
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}
