package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/config"
)

type LoggingSuite struct{}

func TestLogging(t *testing.T) {
	suite.RunTests(t, &LoggingSuite{})
}

func (LoggingSuite) TestTextFormat(t *testing.T) {
	conf := config.Default()
	conf.LogLevel = "info"

	out := &bytes.Buffer{}
	logger, err := New(conf, out)
	expect.Nil(t, err)
	expect.Equal(t, logrus.InfoLevel, logger.Logger.GetLevel())

	logger.WithField("layer", "test").Debug("hidden")
	expect.Equal(t, "", out.String())

	logger.WithField("layer", "test").Info("shown")
	line := out.String()
	expect.True(t, strings.Contains(line, "msg=shown"))
	expect.True(t, strings.Contains(line, "layer=test"))

	// Not a terminal.
	expect.False(t, strings.Contains(line, "\x1b["))
}

func (LoggingSuite) TestJSONFormat(t *testing.T) {
	conf := config.Default()
	conf.LogLevel = "debug"
	conf.LogFormat = config.JSONLogFormat

	out := &bytes.Buffer{}
	logger, err := New(conf, out)
	expect.Nil(t, err)

	logger.WithField("layer", "test").Debug("hello")

	entry := map[string]interface{}{}
	err = json.Unmarshal(out.Bytes(), &entry)
	expect.Nil(t, err)
	expect.Equal(t, "hello", entry["msg"])
	expect.Equal(t, "test", entry["layer"])
	expect.Equal(t, "debug", entry["level"])
}

func (LoggingSuite) TestNoGlobalState(t *testing.T) {
	before := logrus.StandardLogger().GetLevel()

	conf := config.Default()
	conf.LogLevel = "trace"
	_, err := New(conf, &bytes.Buffer{})
	expect.Nil(t, err)

	expect.Equal(t, before, logrus.StandardLogger().GetLevel())
}

func (LoggingSuite) TestInvalidLevel(t *testing.T) {
	conf := config.Default()
	conf.LogLevel = "loud"

	_, err := New(conf, &bytes.Buffer{})
	expect.True(t, errors.Is(err, ErrInvalidArgument))
}
