// Package main runs the privacy relayer: a service that watches an Aleo
// program for transfer intents and settles them as native-token transfers on
// the configured EVM test networks.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/privacybox/relayer/cmd/relayer/flags"
	"github.com/privacybox/relayer/relayer/node"
	"github.com/privacybox/relayer/shared/logutil"
)

var log = logrus.WithField("prefix", "main")

func startRelayer(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	relayer, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	relayer.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "relayer"
	app.Usage = "relays shielded Aleo transfer intents to EVM test networks"
	app.Flags = flags.Flags
	app.Action = startRelayer
	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(flags.LogFormatFlag.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// ANSI color codes read as gibberish in persistent log files.
			formatter.DisableColors = ctx.String(flags.LogFileFlag.Name) != ""
			logrus.SetFormatter(formatter)
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileFlag.Name)
		if logFileName != "" {
			if err := logutil.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configure logging to disk.")
			}
		}
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
