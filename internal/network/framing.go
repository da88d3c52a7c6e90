// Package network feeds liqi frames from relays and capture files into
// per-connection decoders.
//
// On the wire and on disk every frame is preceded by its length as a
// little-endian uint32. The liqi frame itself carries no length.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const lengthPrefixSize = 4

// ErrFrameTooLarge is returned when a length prefix exceeds the configured
// maximum.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame reads one length-prefixed frame. io.EOF is returned only when
// the stream ends cleanly between frames.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated length prefix: %w", err)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("truncated frame body (want %d bytes): %w", size, err)
	}
	return frame, nil
}

// WriteFrame writes frame with its length prefix.
func WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, lengthPrefixSize+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[lengthPrefixSize:], frame)
	_, err := w.Write(buf)
	return err
}
