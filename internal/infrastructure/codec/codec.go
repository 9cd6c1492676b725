// Package codec converts between Go values and the MessagePack argument arrays
// carried by hub invocations. Arguments travel as one array; each element is
// kept raw until a caller asks for it with a concrete type.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNoValue       = errors.New("codec: no value to decode")
	ErrTrailingData  = errors.New("codec: trailing data after argument array")
	ErrArgumentIndex = errors.New("codec: argument index out of range")
)

// Value is one encoded MessagePack value.
type Value []byte

// Args are the positional values of one argument array.
type Args []Value

// Encode writes args as a single MessagePack array. No arguments encode as an
// empty array.
func Encode(args ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return nil, fmt.Errorf("codec: encode array header: %w", err)
	}
	for i, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return nil, fmt.Errorf("codec: encode argument %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// EncodeValue encodes a single value, e.g. an invocation result.
func EncodeValue(v any) (Value, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("codec: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode splits buf, which must hold exactly one MessagePack array, into its
// elements. A nil array decodes as zero arguments.
func Decode(buf []byte) (Args, error) {
	r := bytes.NewReader(buf)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("codec: decode array header: %w", err)
	}
	if n < 0 {
		return Args{}, nil
	}

	args := make(Args, n)
	for i := range args {
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("codec: decode argument %d: %w", i, err)
		}
		args[i] = Value(raw)
	}

	if _, err := dec.PeekCode(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return args, nil
}

// As decodes v into T. An empty value only decodes into struct{}.
func As[T any](v Value) (T, error) {
	var out T
	if len(v) == 0 {
		if _, ok := any(out).(struct{}); ok {
			return out, nil
		}
		return out, ErrNoValue
	}
	if err := msgpack.Unmarshal(v, &out); err != nil {
		return out, fmt.Errorf("codec: decode %T: %w", out, err)
	}
	return out, nil
}

// Arg decodes the i-th argument into T.
func Arg[T any](args Args, i int) (T, error) {
	if i < 0 || i >= len(args) {
		var zero T
		return zero, fmt.Errorf("%w: %d of %d", ErrArgumentIndex, i, len(args))
	}
	return As[T](args[i])
}

