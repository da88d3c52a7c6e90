// Command liqi decodes liqi game-protocol traffic.
//
// Usage:
//
//	liqi [global options] <command> [options]
//
// Commands:
//   - decode: decode a capture file and print one JSON message per line
//   - serve: run the relay listener, archive, inspection API and console
//   - setup: interactively write the configuration file
//   - version: print version information
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/util"
)

// Set via ldflags at build time.
var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "liqi",
		Usage:   "Decode liqi game protocol frames",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "configuration directory",
				Value: config.DefaultConfigDir,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (trace, debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "write logs as JSON lines",
			},
		},
		Before: func(c *cli.Context) error {
			return util.InitLogger(util.LogConfig{
				Level:   c.String("log-level"),
				Console: true,
				JSON:    c.Bool("json"),
			})
		},
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			decodeCommand(),
			serveCommand(),
			setupCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler keeps exit codes from cli.Exit and maps everything else to 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Interactively create or update the configuration",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load configuration: %v", err), 2)
			}
			if err := config.RunSetupWizard(cfg, os.Stdin, c.App.Writer); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "liqi %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
