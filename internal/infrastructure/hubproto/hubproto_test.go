package hubproto

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-hub-tunnel/internal/infrastructure/codec"
)

func TestInvocation_ArgumentsStayRaw(t *testing.T) {
	args, err := codec.Encode("hello", 3)
	require.NoError(t, err)

	body, err := Encode(&Invocation{
		Headers:      map[string]string{"trace": "abc"},
		InvocationID: "7",
		Target:       "Echo",
		Arguments:    args,
	})
	require.NoError(t, err)

	msg, err := Decode(body)
	require.NoError(t, err)
	inv, ok := msg.(*Invocation)
	require.True(t, ok)

	assert.Equal(t, "7", inv.InvocationID)
	assert.Equal(t, "Echo", inv.Target)
	assert.Equal(t, "abc", inv.Headers["trace"])
	assert.Equal(t, args, inv.Arguments)
	assert.Empty(t, inv.StreamIDs)
}

func TestInvocation_NonBlockingHasNilID(t *testing.T) {
	args, err := codec.Encode()
	require.NoError(t, err)

	body, err := Encode(&Invocation{Target: "Ping", Arguments: args})
	require.NoError(t, err)
	// [1, {}, nil, "Ping", [], []]
	assert.Equal(t, []byte{0x96, 0x01, 0x80, 0xc0, 0xa4, 'P', 'i', 'n', 'g', 0x90, 0x90}, body)

	msg, err := Decode(body)
	require.NoError(t, err)
	assert.Empty(t, msg.(*Invocation).InvocationID)
}

func TestCompletion_Kinds(t *testing.T) {
	result, err := codec.EncodeValue("pong")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   *Completion
	}{
		{"void", &Completion{InvocationID: "1"}},
		{"error", &Completion{InvocationID: "2", Error: "boom"}},
		{"result", &Completion{InvocationID: "3", HasResult: true, Result: result}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Encode(tt.in)
			require.NoError(t, err)
			msg, err := Decode(body)
			require.NoError(t, err)
			assert.Equal(t, tt.in, msg)
		})
	}
}

func TestDecode_SkipsStreamMessages(t *testing.T) {
	// [2, {}, "1", "item"]
	_, err := Decode([]byte{0x94, 0x02, 0x80, 0xa1, '1', 0xa4, 'i', 't', 'e', 'm'})
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
}

func TestParseFrame_Partial(t *testing.T) {
	body := bytes.Repeat([]byte{0x42}, 300)
	frame := AppendFrame(nil, body)
	require.Equal(t, 302, len(frame), "300 needs a two byte prefix")

	_, rest, ok, err := ParseFrame(frame[:1])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, rest, 1)

	_, _, ok, err = ParseFrame(frame[:100])
	require.NoError(t, err)
	assert.False(t, ok)

	two := append(bytes.Clone(frame), AppendFrame(nil, []byte{1})...)
	got, rest, ok, err := ParseFrame(two)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, got)
	assert.Equal(t, []byte{0x01, 0x01}, rest)
}

func TestReadFrame_TooLarge(t *testing.T) {
	prefix := []byte{0x80, 0x80, 0x80, 0x80, 0x01} // 1<<28
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(prefix)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHandshake(t *testing.T) {
	req, err := ParseHandshakeRequest(HandshakeRequestRecord())
	require.NoError(t, err)
	assert.Equal(t, HandshakeRequest{Protocol: "messagepack", Version: 1}, req)

	assert.NoError(t, ParseHandshakeResponse(HandshakeResponseRecord("")))

	err = ParseHandshakeResponse(HandshakeResponseRecord("protocol json is not supported"))
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, "protocol json is not supported", hsErr.Message)

	_, err = ParseHandshakeRequest([]byte("not json\x1e"))
	assert.Error(t, err)
}

func TestStreamConn_Exchange(t *testing.T) {
	client, server := net.Pipe()
	cc, sc := NewStreamConn(client), NewStreamConn(server)
	defer cc.Close()
	defer sc.Close()

	args, err := codec.Encode("hi")
	require.NoError(t, err)

	go func() {
		_ = cc.WriteHandshake(HandshakeRequestRecord())
		_ = cc.WriteMessage(&Ping{})
		_ = cc.WriteMessage(&Invocation{InvocationID: "1", Target: "Echo", Arguments: args})
	}()

	record, err := sc.ReadHandshake()
	require.NoError(t, err)
	req, err := ParseHandshakeRequest(record)
	require.NoError(t, err)
	assert.Equal(t, ProtocolName, req.Protocol)

	msg, err := sc.ReadMessage()
	require.NoError(t, err)
	assert.IsType(t, &Ping{}, msg)

	msg, err = sc.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Echo", msg.(*Invocation).Target)
}

func TestWebSocketConn_SeveralRecordsPerMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		// Handshake reply and two frames in a single websocket message.
		payload := HandshakeResponseRecord("")
		ping, _ := EncodeFrame(&Ping{})
		closeFrame, _ := EncodeFrame(&Close{Error: "bye", AllowReconnect: true})
		payload = append(payload, ping...)
		payload = append(payload, closeFrame...)
		_ = ws.WriteMessage(websocket.BinaryMessage, payload)
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := NewWebSocketConn(ws)
	defer conn.Close()

	record, err := conn.ReadHandshake()
	require.NoError(t, err)
	require.NoError(t, ParseHandshakeResponse(record))

	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.IsType(t, &Ping{}, msg)

	msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, &Close{Error: "bye", AllowReconnect: true}, msg)
}
