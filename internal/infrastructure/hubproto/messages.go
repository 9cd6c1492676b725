// Package hubproto implements the MessagePack hub protocol: message arrays,
// varint length framing and the JSON handshake that precedes them.
package hubproto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

type MessageType int

const (
	InvocationType       MessageType = 1
	StreamItemType       MessageType = 2
	CompletionType       MessageType = 3
	StreamInvocationType MessageType = 4
	CancelInvocationType MessageType = 5
	PingType             MessageType = 6
	CloseType            MessageType = 7
)

// Completion result kinds.
const (
	errorResult   = 1
	voidResult    = 2
	nonVoidResult = 3
)

var ErrUnsupportedMessage = errors.New("hubproto: unsupported message type")

type Message interface {
	Type() MessageType
}

// Invocation calls Target with a pre-encoded argument array. An empty
// InvocationID means no completion is expected.
type Invocation struct {
	Headers      map[string]string
	InvocationID string
	Target       string
	Arguments    []byte
	StreamIDs    []string
}

// Completion ends an invocation. Error set means failure; otherwise Result
// holds the encoded value when HasResult is true.
type Completion struct {
	Headers      map[string]string
	InvocationID string
	Error        string
	HasResult    bool
	Result       []byte
}

type CancelInvocation struct {
	Headers      map[string]string
	InvocationID string
}

type Ping struct{}

type Close struct {
	Error          string
	AllowReconnect bool
}

func (*Invocation) Type() MessageType       { return InvocationType }
func (*Completion) Type() MessageType       { return CompletionType }
func (*CancelInvocation) Type() MessageType { return CancelInvocationType }
func (*Ping) Type() MessageType             { return PingType }
func (*Close) Type() MessageType            { return CloseType }

// Encode returns the MessagePack body of msg, without the length prefix.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	var err error
	switch m := msg.(type) {
	case *Invocation:
		err = encodeInvocation(enc, &buf, m)
	case *Completion:
		err = encodeCompletion(enc, &buf, m)
	case *CancelInvocation:
		err = firstErr(
			enc.EncodeArrayLen(3),
			enc.EncodeInt(int64(CancelInvocationType)),
			encodeHeaders(enc, m.Headers),
			enc.EncodeString(m.InvocationID),
		)
	case *Ping:
		err = firstErr(enc.EncodeArrayLen(1), enc.EncodeInt(int64(PingType)))
	case *Close:
		err = firstErr(
			enc.EncodeArrayLen(3),
			enc.EncodeInt(int64(CloseType)),
			encodeOptionalString(enc, m.Error),
			enc.EncodeBool(m.AllowReconnect),
		)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
	if err != nil {
		return nil, fmt.Errorf("hubproto: encode %T: %w", msg, err)
	}
	return buf.Bytes(), nil
}

func encodeInvocation(enc *msgpack.Encoder, buf *bytes.Buffer, m *Invocation) error {
	if err := firstErr(
		enc.EncodeArrayLen(6),
		enc.EncodeInt(int64(InvocationType)),
		encodeHeaders(enc, m.Headers),
		encodeOptionalString(enc, m.InvocationID),
		enc.EncodeString(m.Target),
	); err != nil {
		return err
	}
	if err := writeRaw(enc, buf, m.Arguments); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(m.StreamIDs)); err != nil {
		return err
	}
	for _, id := range m.StreamIDs {
		if err := enc.EncodeString(id); err != nil {
			return err
		}
	}
	return nil
}

func encodeCompletion(enc *msgpack.Encoder, buf *bytes.Buffer, m *Completion) error {
	kind := voidResult
	switch {
	case m.Error != "":
		kind = errorResult
	case m.HasResult:
		kind = nonVoidResult
	}

	size := 5
	if kind == voidResult {
		size = 4
	}
	if err := firstErr(
		enc.EncodeArrayLen(size),
		enc.EncodeInt(int64(CompletionType)),
		encodeHeaders(enc, m.Headers),
		enc.EncodeString(m.InvocationID),
		enc.EncodeInt(int64(kind)),
	); err != nil {
		return err
	}
	switch kind {
	case errorResult:
		return enc.EncodeString(m.Error)
	case nonVoidResult:
		return writeRaw(enc, buf, m.Result)
	}
	return nil
}

// writeRaw appends an already encoded value. Empty input is written as nil.
func writeRaw(enc *msgpack.Encoder, buf *bytes.Buffer, raw []byte) error {
	if len(raw) == 0 {
		return enc.EncodeNil()
	}
	_, err := buf.Write(raw)
	return err
}

func encodeHeaders(enc *msgpack.Encoder, headers map[string]string) error {
	if err := enc.EncodeMapLen(len(headers)); err != nil {
		return err
	}
	for k, v := range headers {
		if err := firstErr(enc.EncodeString(k), enc.EncodeString(v)); err != nil {
			return err
		}
	}
	return nil
}

func encodeOptionalString(enc *msgpack.Encoder, s string) error {
	if s == "" {
		return enc.EncodeNil()
	}
	return enc.EncodeString(s)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Decode parses one message body. Stream messages and unknown types yield
// an error wrapping ErrUnsupportedMessage; callers may skip them.
func Decode(body []byte) (Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(body))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("hubproto: decode message header: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("hubproto: empty message array")
	}
	kind, err := dec.DecodeInt()
	if err != nil {
		return nil, fmt.Errorf("hubproto: decode message type: %w", err)
	}

	var msg Message
	switch MessageType(kind) {
	case InvocationType:
		msg, err = decodeInvocation(dec, n)
	case CompletionType:
		msg, err = decodeCompletion(dec, n)
	case CancelInvocationType:
		msg, err = decodeCancel(dec, n)
	case PingType:
		msg = &Ping{}
	case CloseType:
		msg, err = decodeClose(dec, n)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessage, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("hubproto: decode message type %d: %w", kind, err)
	}
	return msg, nil
}

func decodeInvocation(dec *msgpack.Decoder, n int) (*Invocation, error) {
	if n < 5 {
		return nil, fmt.Errorf("invocation has %d fields", n)
	}
	m := &Invocation{}
	var err error
	if m.Headers, err = decodeHeaders(dec); err != nil {
		return nil, err
	}
	if m.InvocationID, err = decodeOptionalString(dec); err != nil {
		return nil, err
	}
	if m.Target, err = dec.DecodeString(); err != nil {
		return nil, err
	}
	args, err := dec.DecodeRaw()
	if err != nil {
		return nil, err
	}
	m.Arguments = []byte(args)
	if n > 5 {
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			id, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			m.StreamIDs = append(m.StreamIDs, id)
		}
	}
	return m, nil
}

func decodeCompletion(dec *msgpack.Decoder, n int) (*Completion, error) {
	if n < 4 {
		return nil, fmt.Errorf("completion has %d fields", n)
	}
	m := &Completion{}
	var err error
	if m.Headers, err = decodeHeaders(dec); err != nil {
		return nil, err
	}
	if m.InvocationID, err = dec.DecodeString(); err != nil {
		return nil, err
	}
	kind, err := dec.DecodeInt()
	if err != nil {
		return nil, err
	}
	switch kind {
	case errorResult:
		if m.Error, err = dec.DecodeString(); err != nil {
			return nil, err
		}
		if m.Error == "" {
			m.Error = "unknown error"
		}
	case voidResult:
	case nonVoidResult:
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, err
		}
		m.HasResult = true
		m.Result = []byte(raw)
	default:
		return nil, fmt.Errorf("invalid completion result kind %d", kind)
	}
	return m, nil
}

func decodeCancel(dec *msgpack.Decoder, n int) (*CancelInvocation, error) {
	if n < 3 {
		return nil, fmt.Errorf("cancel invocation has %d fields", n)
	}
	headers, err := decodeHeaders(dec)
	if err != nil {
		return nil, err
	}
	id, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	return &CancelInvocation{Headers: headers, InvocationID: id}, nil
}

func decodeClose(dec *msgpack.Decoder, n int) (*Close, error) {
	m := &Close{}
	var err error
	if n > 1 {
		if m.Error, err = decodeOptionalString(dec); err != nil {
			return nil, err
		}
	}
	if n > 2 {
		if m.AllowReconnect, err = dec.DecodeBool(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeHeaders(dec *msgpack.Decoder) (map[string]string, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	headers := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		v, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		headers[k] = v
	}
	return headers, nil
}

func decodeOptionalString(dec *msgpack.Decoder) (string, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return "", err
	}
	if code == msgpcode.Nil {
		return "", dec.DecodeNil()
	}
	return dec.DecodeString()
}
