package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/network"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/schema"
)

func decodeCommand() *cli.Command {
	defaults := config.DefaultConfig()
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a capture file to JSON lines",
		ArgsUsage: "<capture>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "capture format: framed (u32 little-endian length prefix) or hex (one frame per line)",
				Value: string(network.FormatFramed),
			},
			&cli.StringFlag{
				Name:  "descriptor",
				Usage: "compiled FileDescriptorSet",
				Value: defaults.Schema.DescriptorSet,
			},
			&cli.StringFlag{
				Name:  "index",
				Usage: "service index JSON",
				Value: defaults.Schema.ServiceIndex,
			},
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "package applied to bare type names",
				Value: defaults.Schema.Namespace,
			},
			&cli.IntFlag{
				Name:  "max-frame",
				Usage: "largest accepted frame in bytes",
				Value: config.DefaultMaxFrame,
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "exit with status 1 when any frame fails to decode",
			},
		},
		Action: decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("decode requires exactly one capture file", 2)
	}
	format, err := network.ParseCaptureFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	resolver, err := schema.Load(c.String("descriptor"), c.String("index"), c.String("namespace"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load schema: %v", err), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dec := network.NewDecoder("decode", resolver, nil)
	result, err := network.ReplayFile(ctx, c.Args().First(), format, c.Int("max-frame"), dec,
		jsonLines(c.App.Writer, c.App.ErrWriter))

	fmt.Fprintf(c.App.ErrWriter, "frames=%d decoded=%d failed=%d\n", result.Frames, result.Decoded, result.Failed)
	if err != nil {
		return err
	}
	if c.Bool("strict") && result.Failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// jsonLines writes decoded messages to out and failures to errOut.
func jsonLines(out, errOut io.Writer) network.ReplayFunc {
	enc := json.NewEncoder(out)
	return func(index int, msg *protocol.Message, err error) error {
		if err != nil {
			fmt.Fprintf(errOut, "frame %d: %v\n", index, err)
			return nil
		}
		return enc.Encode(msg)
	}
}
