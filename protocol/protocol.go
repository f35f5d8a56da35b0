// Package protocol implements frame delimiting for the hub protocol.
//
// Every frame is a self-delimited text record followed by a single record
// separator byte (0x1E). Frames are concatenated back to back, and one
// transport message may carry several frames or only part of one, so the
// receiver must split on the terminator before decoding.
//
// Frame layout on the wire:
//
//	┌──────────────────────┬────┬──────────────────────┬────┐
//	│ record (JSON text)   │ 1E │ record (JSON text)   │ 1E │ ...
//	└──────────────────────┴────┴──────────────────────┴────┘
//
// A JSON encoder never emits a raw 0x1E (control characters inside strings
// are escaped), so the terminator cannot appear inside a record.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// RecordSeparator terminates every frame.
const RecordSeparator byte = 0x1e

// MaxFrameSize bounds a single buffered frame. A peer that sends more than this
// without a terminator is treated as broken.
const MaxFrameSize = 64 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encode writes a single frame (record + terminator) to w in one Write call.
// The caller must serialize concurrent writers sharing w, otherwise frames from
// different calls interleave and corrupt the stream.
func Encode(w io.Writer, record []byte) error {
	if bytes.IndexByte(record, RecordSeparator) >= 0 {
		return fmt.Errorf("record contains the frame terminator")
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, len(record)+1), record))
	return err
}

// AppendFrame appends record and the terminator to dst.
func AppendFrame(dst, record []byte) []byte {
	dst = append(dst, record...)
	return append(dst, RecordSeparator)
}

// Split separates every complete frame in data. The returned frames do not
// include the terminator and alias data. rest is the trailing partial frame.
// Empty records between two terminators are skipped.
func Split(data []byte) (frames [][]byte, rest []byte) {
	for {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			return frames, data
		}
		if i > 0 {
			frames = append(frames, data[:i])
		}
		data = data[i+1:]
	}
}
