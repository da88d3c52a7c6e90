package network

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/energizer-project/liqi/internal/protocol"
)

// CaptureFormat selects how frames are laid out in a capture file.
type CaptureFormat string

const (
	// FormatFramed is a sequence of length-prefixed frames, the same layout
	// the relay listener reads.
	FormatFramed CaptureFormat = "framed"
	// FormatHex is one hex-encoded frame per line. Blank lines and lines
	// starting with '#' are ignored.
	FormatHex CaptureFormat = "hex"
)

// ParseCaptureFormat validates a format name.
func ParseCaptureFormat(s string) (CaptureFormat, error) {
	switch f := CaptureFormat(strings.ToLower(s)); f {
	case FormatFramed, FormatHex:
		return f, nil
	}
	return "", fmt.Errorf("unknown capture format %q (want %q or %q)", s, FormatFramed, FormatHex)
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Frames  int `json:"frames"`
	Decoded int `json:"decoded"`
	Failed  int `json:"failed"`
}

// ReplayFunc receives every frame's outcome in order. Exactly one of msg and
// err is non-nil. Returning an error stops the replay.
type ReplayFunc func(index int, msg *protocol.Message, err error) error

// ReplayFile decodes every frame of a capture file through dec.
func ReplayFile(ctx context.Context, path string, format CaptureFormat, maxFrame int, dec *Decoder, fn ReplayFunc) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()

	return Replay(ctx, f, format, maxFrame, dec, fn)
}

// Replay decodes every frame read from r through dec. Decode failures are
// passed to fn and counted; read failures end the replay.
func Replay(ctx context.Context, r io.Reader, format CaptureFormat, maxFrame int, dec *Decoder, fn ReplayFunc) (ReplayResult, error) {
	var result ReplayResult

	next, err := frameSource(r, format, maxFrame)
	if err != nil {
		return result, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		frame, err := next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("capture frame %d: %w", result.Frames, err)
		}

		index := result.Frames
		result.Frames++

		msg, decErr := dec.Decode(ctx, frame)
		if decErr != nil {
			result.Failed++
		} else {
			result.Decoded++
		}

		if fn != nil {
			if err := fn(index, msg, decErr); err != nil {
				return result, err
			}
		}
	}
}

func frameSource(r io.Reader, format CaptureFormat, maxFrame int) (func() ([]byte, error), error) {
	switch format {
	case FormatFramed, "":
		br := bufio.NewReader(r)
		return func() ([]byte, error) { return ReadFrame(br, maxFrame) }, nil
	case FormatHex:
		sc := bufio.NewScanner(r)
		if maxFrame > 0 {
			sc.Buffer(make([]byte, 0, 64*1024), 2*maxFrame+2)
		}
		line := 0
		return func() ([]byte, error) {
			for sc.Scan() {
				line++
				text := strings.TrimSpace(sc.Text())
				if text == "" || strings.HasPrefix(text, "#") {
					continue
				}
				frame, err := hex.DecodeString(text)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				return frame, nil
			}
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}, nil
	}
	return nil, fmt.Errorf("unknown capture format %q", format)
}
