// Package cli implements the interactive console attached to `liqi serve`.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/liqi/internal/db"
	"github.com/energizer-project/liqi/internal/events"
	intnet "github.com/energizer-project/liqi/internal/network"
)

const (
	defaultRecent  = 20
	maxPreviewJSON = 60
	maxPreviewHex  = 24
)

// Archive is what the console reads archived traffic from.
type Archive interface {
	Recent(ctx context.Context, limit int) ([]db.MessageRecord, error)
	ByMethod(ctx context.Context, method string, limit int) ([]db.MessageRecord, error)
	Failures(ctx context.Context, limit int) ([]db.FailureRecord, error)
	Stats(ctx context.Context) (db.ArchiveStats, error)
}

// Sessions is the live session view.
type Sessions interface {
	Snapshot() []intnet.SessionInfo
	EvictPending(maxAge time.Duration) int
}

// Console reads commands line by line. Archive, Sessions and EventBus may
// be nil.
type Console struct {
	in       io.Reader
	out      io.Writer
	archive  Archive
	sessions Sessions
	eventBus *events.EventBus
	version  string
}

// NewConsole creates a console reading from in and writing to out.
func NewConsole(in io.Reader, out io.Writer, archive Archive, sessions Sessions, bus *events.EventBus, version string) *Console {
	return &Console{
		in:       in,
		out:      out,
		archive:  archive,
		sessions: sessions,
		eventBus: bus,
		version:  version,
	}
}

// Run processes commands until quit, end of input or ctx cancellation.
// It reports whether the user asked to quit.
func (c *Console) Run(ctx context.Context) bool {
	fmt.Fprintf(c.out, "\nliqi %s console. Type 'help' for available commands.\n", c.version)

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "liqi> ")
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.Execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return true
			}
		}
	}
}

// Execute runs a single command and reports whether it was quit.
func (c *Console) Execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "stats":
		return false, c.cmdStats(ctx)
	case "recent", "r":
		return false, c.cmdRecent(ctx, args)
	case "method", "m":
		return false, c.cmdMethod(ctx, args)
	case "failures", "f":
		return false, c.cmdFailures(ctx, args)
	case "sessions", "s":
		return false, c.cmdSessions()
	case "evict":
		return false, c.cmdEvict(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "console"})
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `
  stats                 Archive totals and the busiest methods
  recent [n]            Last n decoded messages (default 20)
  method <name> [n]     Last n messages of one method, e.g. .lq.Lobby.login
  failures [n]          Last n rejected frames
  sessions              Live relay sessions
  evict <seconds>       Drop unanswered requests older than <seconds>
  quit                  Stop the decoder
  help                  Show this help message

`)
}

func (c *Console) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *Console) cmdStats(ctx context.Context) error {
	if c.archive == nil {
		return fmt.Errorf("message archive is disabled")
	}
	stats, err := c.archive.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Messages: %d   Failures: %d\n", stats.Messages, stats.Failures)
	fmt.Fprintf(c.out, "  Notify: %d   Request: %d   Response: %d\n\n",
		stats.ByType["notify"], stats.ByType["request"], stats.ByType["response"])

	if len(stats.TopMethods) == 0 {
		return nil
	}
	tw := c.newTable("Method", "Count")
	for _, mc := range stats.TopMethods {
		tw.Append([]string{mc.Method, strconv.FormatInt(mc.Count, 10)})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) cmdRecent(ctx context.Context, args []string) error {
	if c.archive == nil {
		return fmt.Errorf("message archive is disabled")
	}
	n, err := countArg(args, 0)
	if err != nil {
		return err
	}
	records, err := c.archive.Recent(ctx, n)
	if err != nil {
		return err
	}
	c.printMessages(records)
	return nil
}

func (c *Console) cmdMethod(ctx context.Context, args []string) error {
	if c.archive == nil {
		return fmt.Errorf("message archive is disabled")
	}
	if len(args) < 1 {
		return fmt.Errorf("method name required")
	}
	n, err := countArg(args, 1)
	if err != nil {
		return err
	}
	records, err := c.archive.ByMethod(ctx, args[0], n)
	if err != nil {
		return err
	}
	c.printMessages(records)
	return nil
}

func (c *Console) printMessages(records []db.MessageRecord) {
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No messages archived.")
		return
	}
	tw := c.newTable("Seq", "Time", "Session", "Type", "ID", "Method", "Data")
	for _, r := range records {
		tw.Append([]string{
			strconv.FormatInt(r.Seq, 10),
			r.ReceivedAt.Format("15:04:05.000"),
			r.Session,
			r.Type,
			strconv.FormatUint(r.ID, 10),
			r.Method,
			previewJSON(r.Data),
		})
	}
	tw.Render()
}

func (c *Console) cmdFailures(ctx context.Context, args []string) error {
	if c.archive == nil {
		return fmt.Errorf("message archive is disabled")
	}
	n, err := countArg(args, 0)
	if err != nil {
		return err
	}
	records, err := c.archive.Failures(ctx, n)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No decode failures archived.")
		return nil
	}
	tw := c.newTable("Seq", "Time", "Session", "Bytes", "Frame", "Error")
	for _, r := range records {
		tw.Append([]string{
			strconv.FormatInt(r.Seq, 10),
			r.ReceivedAt.Format("15:04:05.000"),
			r.Session,
			strconv.Itoa(len(r.Frame)),
			previewHex(r.Frame),
			r.Error,
		})
	}
	tw.Render()
	return nil
}

func (c *Console) cmdSessions() error {
	if c.sessions == nil {
		return fmt.Errorf("capture is disabled")
	}
	infos := c.sessions.Snapshot()
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No live sessions.")
		return nil
	}
	tw := c.newTable("Session", "Remote", "Connected", "Decoded", "Failed", "Pending")
	for _, s := range infos {
		tw.Append([]string{
			s.ID,
			s.RemoteAddr,
			time.Since(s.ConnectedAt).Truncate(time.Second).String(),
			strconv.FormatUint(s.Decoded, 10),
			strconv.FormatUint(s.Failed, 10),
			strconv.Itoa(s.Pending),
		})
	}
	tw.Render()
	return nil
}

func (c *Console) cmdEvict(args []string) error {
	if c.sessions == nil {
		return fmt.Errorf("capture is disabled")
	}
	if len(args) < 1 {
		return fmt.Errorf("max age in seconds required")
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil || secs < 1 {
		return fmt.Errorf("invalid max age: %s", args[0])
	}
	n := c.sessions.EvictPending(time.Duration(secs) * time.Second)
	fmt.Fprintf(c.out, "Evicted %d pending requests.\n", n)
	return nil
}

// countArg parses args[i] as a positive count, defaulting when absent.
func countArg(args []string, i int) (int, error) {
	if len(args) <= i {
		return defaultRecent, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count: %s", args[i])
	}
	return n, nil
}

func previewJSON(data map[string]any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return "?"
	}
	return truncate(string(raw), maxPreviewJSON)
}

func previewHex(frame []byte) string {
	if len(frame) > maxPreviewHex {
		return hex.EncodeToString(frame[:maxPreviewHex]) + "..."
	}
	return hex.EncodeToString(frame)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
