package hubproto

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

const maxHandshakeSize = 64 << 10

var ErrHandshakeTooLarge = errors.New("hubproto: handshake record too large")

// Conn carries hub protocol records in one direction pair. The handshake
// record is read and written first; every later record is a framed message.
// ReadMessage skips stream messages. Writes are safe for concurrent use;
// reads are not.
type Conn interface {
	ReadHandshake() ([]byte, error)
	WriteHandshake(record []byte) error
	ReadMessage() (Message, error)
	WriteMessage(msg Message) error
	Close() error
}

type streamConn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn speaks the protocol over a byte stream such as a local
// socket.
func NewStreamConn(rwc io.ReadWriteCloser) Conn {
	return &streamConn{rwc: rwc, r: bufio.NewReader(rwc)}
}

func (c *streamConn) ReadHandshake() ([]byte, error) {
	var record []byte
	for {
		chunk, err := c.r.ReadSlice(RecordSeparator)
		record = append(record, chunk...)
		if len(record) > maxHandshakeSize {
			return nil, ErrHandshakeTooLarge
		}
		switch {
		case err == nil:
			return record, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

func (c *streamConn) WriteHandshake(record []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.rwc.Write(record)
	return err
}

func (c *streamConn) ReadMessage() (Message, error) {
	for {
		body, err := ReadFrame(c.r)
		if err != nil {
			return nil, err
		}
		msg, err := Decode(body)
		if errors.Is(err, ErrUnsupportedMessage) {
			continue
		}
		return msg, err
	}
}

func (c *streamConn) WriteMessage(msg Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err = c.rwc.Write(frame)
	return err
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rwc.Close() })
	return c.closeErr
}

type webSocketConn struct {
	ws      *websocket.Conn
	pending []byte

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn speaks the protocol over a websocket. The handshake goes
// out as a text message and frames as binary messages; one incoming websocket
// message may carry several records.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	return &webSocketConn{ws: ws}
}

func (c *webSocketConn) ReadHandshake() ([]byte, error) {
	for {
		if i := bytes.IndexByte(c.pending, RecordSeparator); i >= 0 {
			record := bytes.Clone(c.pending[:i+1])
			c.pending = c.pending[i+1:]
			return record, nil
		}
		if len(c.pending) > maxHandshakeSize {
			return nil, ErrHandshakeTooLarge
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

func (c *webSocketConn) WriteHandshake(record []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, record)
}

func (c *webSocketConn) ReadMessage() (Message, error) {
	for {
		body, rest, ok, err := ParseFrame(c.pending)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := c.fill(); err != nil {
				return nil, err
			}
			continue
		}
		c.pending = rest

		msg, err := Decode(body)
		if errors.Is(err, ErrUnsupportedMessage) {
			continue
		}
		return msg, err
	}
}

func (c *webSocketConn) fill() error {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return err
	}
	if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
		return fmt.Errorf("hubproto: unexpected websocket message type %d", kind)
	}
	c.pending = append(c.pending, data...)
	return nil
}

func (c *webSocketConn) WriteMessage(msg Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *webSocketConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	return c.closeErr
}
