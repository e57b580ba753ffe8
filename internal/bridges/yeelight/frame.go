package yeelight

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single line read from a lamp socket.
const maxFrameSize = 64 * 1024

var crlf = []byte("\r\n")

// FrameKind classifies a decoded frame.
type FrameKind int

// Frame kinds, in the order they are tested by Kind.
const (
	FrameUnrecognized FrameKind = iota
	FrameResult
	FrameUpdate
	FrameError
)

// String returns a lower-case name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameResult:
		return "result"
	case FrameUpdate:
		return "update"
	case FrameError:
		return "error"
	default:
		return "unrecognized"
	}
}

// Frame is one JSON object received from a lamp.
type Frame struct {
	ID     *int64         `json:"id,omitempty"`
	Result []any          `json:"result,omitempty"`
	Error  *DeviceError   `json:"error,omitempty"`
	Method string         `json:"method,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// IsResult reports whether the frame carries a result list.
func (f Frame) IsResult() bool {
	return f.Result != nil
}

// IsResultOk reports whether the first result entry is "ok".
func (f Frame) IsResultOk() bool {
	if len(f.Result) == 0 {
		return false
	}
	s, ok := f.Result[0].(string)
	return ok && s == "ok"
}

// IsUpdate reports whether the frame is an unsolicited property push.
func (f Frame) IsUpdate() bool {
	return f.Method == "props" && f.Params != nil
}

// IsError reports whether the frame carries a lamp-reported error.
func (f Frame) IsError() bool {
	return f.Error != nil
}

// Kind returns exactly one classification for the frame.
func (f Frame) Kind() FrameKind {
	switch {
	case f.IsResult():
		return FrameResult
	case f.IsUpdate():
		return FrameUpdate
	case f.IsError():
		return FrameError
	default:
		return FrameUnrecognized
	}
}

// ParseFrames splits a chunk on CRLF and decodes every non-empty segment.
// It is the chunk-level API for callers holding a whole read buffer.
// Streams go through FrameReader instead.
//
// A segment that is not valid JSON fails the whole chunk with an error
// wrapping ErrMalformedFrame; frames decoded before it are discarded.
func ParseFrames(chunk []byte) ([]Frame, error) {
	var frames []Frame
	for _, segment := range bytes.Split(chunk, crlf) {
		segment = bytes.TrimSpace(segment)
		if len(segment) == 0 {
			continue
		}
		frame, err := decodeFrame(segment)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// decodeFrame decodes one segment. Numbers are kept as json.Number so lamp
// ids survive without float rounding.
func decodeFrame(segment []byte) (Frame, error) {
	var frame Frame
	dec := json.NewDecoder(bytes.NewReader(segment))
	dec.UseNumber()
	if err := dec.Decode(&frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %q: %w", ErrMalformedFrame, segment, err)
	}
	return frame, nil
}

// FrameReader yields frames from a stream, reassembling lines split across
// TCP reads.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader returns a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	scanner.Split(scanCRLF)
	return &FrameReader{scanner: scanner}
}

// Next returns the next frame. A malformed line returns an error wrapping
// ErrMalformedFrame and the reader stays usable. io.EOF is returned once the
// stream ends.
func (r *FrameReader) Next() (Frame, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return decodeFrame(line)
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// scanCRLF is a bufio.SplitFunc that splits on CRLF.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, crlf); i >= 0 {
		return i + len(crlf), data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
