package hubproto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 32 << 20

// maxPrefixLen is the longest length prefix the protocol allows.
const maxPrefixLen = 5

var ErrFrameTooLarge = errors.New("hubproto: frame exceeds maximum size")

// AppendFrame appends body prefixed with its varint length.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(body)))
	return append(dst, body...)
}

// EncodeFrame encodes msg and frames it.
func EncodeFrame(msg Message) ([]byte, error) {
	body, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, len(body)+maxPrefixLen), body), nil
}

// ParseFrame splits the first complete frame off buf. ok is false when buf
// does not yet hold a whole frame.
func ParseFrame(buf []byte) (body, rest []byte, ok bool, err error) {
	size, n := binary.Uvarint(buf)
	switch {
	case n == 0:
		if len(buf) >= maxPrefixLen {
			return nil, buf, false, fmt.Errorf("hubproto: invalid length prefix")
		}
		return nil, buf, false, nil
	case n < 0 || n > maxPrefixLen:
		return nil, buf, false, fmt.Errorf("hubproto: invalid length prefix")
	case size > MaxFrameSize:
		return nil, buf, false, ErrFrameTooLarge
	}
	end := n + int(size)
	if len(buf) < end {
		return nil, buf, false, nil
	}
	return buf[n:end], buf[end:], true, nil
}

// ReadFrame reads one length-prefixed body from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
