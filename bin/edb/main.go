package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pattyshack/edb/config"
	"github.com/pattyshack/edb/debugger"
	"github.com/pattyshack/edb/logging"
)

type options struct {
	pid        int
	configPath string
	logLevel   string
}

func loadConfig(opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		conf.LogLevel = opts.logLevel
	}

	return conf, nil
}

func run(opts options, args []string) error {
	if opts.pid != 0 && len(args) != 0 {
		return fmt.Errorf("cannot specify both --pid and a program to run")
	}

	conf, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(conf, os.Stderr)
	if err != nil {
		return err
	}

	session, err := debugger.NewSession(
		debugger.SessionOptions{
			Options: debugger.Options{
				MaxBreakpoints: conf.MaxBreakpoints,
				MaxLineRows:    conf.MaxLineRows,
				Logger:         logger,
			},
			SourceContext:   *conf.SourceContext,
			SourceCacheSize: conf.SourceCacheSize,
		})
	if err != nil {
		return err
	}

	defer func() {
		err := session.Close()
		if err != nil {
			logger.WithError(err).Error("failed to close session")
		}
	}()

	// Ctrl-C while the process runs stops the process rather than edb.
	interrupts := debugger.NewInterruptForwarder(session.CurrentPid, logger)
	interrupts.Start()
	defer interrupts.Close()

	var db *debugger.Debugger
	if opts.pid != 0 {
		db, err = session.Attach(opts.pid)
	} else if len(args) > 0 {
		db, err = session.Start(args[0], args[1:])
	}

	if err != nil {
		return err
	}

	if db != nil {
		fmt.Printf("attached to process %d\n", db.Pid)
		fmt.Println(session.Report(db.Status()))
	}

	return repl(conf, session, logger.WithField("layer", "repl"))
}

func main() {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "edb [<path> [<args>...]]",
		Short: "A minimal native debugger for linux/amd64 executables",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false) // everything after <path> belongs to the program
	flags.IntVarP(&opts.pid, "pid", "p", 0, "attach to existing process pid")
	flags.StringVar(
		&opts.configPath,
		"config",
		"",
		"config file path (default $HOME/.edb/config.yml)")
	flags.StringVar(
		&opts.logLevel,
		"log-level",
		"",
		"overrides the config file's log-level")

	err := cmd.Execute()
	if err != nil {
		logrus.Exit(1)
	}
}
