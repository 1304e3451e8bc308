// Package logging constructs the debugger's logger.  Loggers are always
// passed down explicitly; the logrus standard logger is never configured.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/config"
)

// New creates a logger writing to out.  Colors are only enabled when out is a
// terminal.
func New(conf *config.Config, out io.Writer) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w. %v", ErrInvalidArgument, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch conf.LogFormat {
	case config.JSONLogFormat:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case config.TextLogFormat, "":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: !isTerminal(out),
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf(
			"%w. invalid log format (%s)",
			ErrInvalidArgument,
			conf.LogFormat)
	}

	return logrus.NewEntry(logger), nil
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(file.Fd())
}
