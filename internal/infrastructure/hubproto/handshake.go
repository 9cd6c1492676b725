package hubproto

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// RecordSeparator terminates every handshake record.
	RecordSeparator byte = 0x1e

	ProtocolName    = "messagepack"
	ProtocolVersion = 1
)

// HandshakeError is the failure reported by the peer during the handshake.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return "hubproto: handshake rejected: " + e.Message
}

type HandshakeRequest struct {
	Protocol string
	Version  int
}

// HandshakeRequestRecord builds the client's opening record, separator
// included.
func HandshakeRequestRecord() []byte {
	doc, _ := sjson.SetBytes([]byte("{}"), "protocol", ProtocolName)
	doc, _ = sjson.SetBytes(doc, "version", ProtocolVersion)
	return append(doc, RecordSeparator)
}

// HandshakeResponseRecord builds the server's reply. An empty errMsg accepts
// the handshake.
func HandshakeResponseRecord(errMsg string) []byte {
	doc := []byte("{}")
	if errMsg != "" {
		doc, _ = sjson.SetBytes(doc, "error", errMsg)
	}
	return append(doc, RecordSeparator)
}

func ParseHandshakeRequest(record []byte) (HandshakeRequest, error) {
	doc := bytes.TrimSuffix(record, []byte{RecordSeparator})
	if !gjson.ValidBytes(doc) {
		return HandshakeRequest{}, fmt.Errorf("hubproto: malformed handshake request")
	}
	protocol := gjson.GetBytes(doc, "protocol")
	version := gjson.GetBytes(doc, "version")
	if !protocol.Exists() || !version.Exists() {
		return HandshakeRequest{}, fmt.Errorf("hubproto: handshake request is missing protocol or version")
	}
	return HandshakeRequest{Protocol: protocol.String(), Version: int(version.Int())}, nil
}

// ParseHandshakeResponse returns a *HandshakeError when the server refused.
func ParseHandshakeResponse(record []byte) error {
	doc := bytes.TrimSuffix(record, []byte{RecordSeparator})
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("hubproto: malformed handshake response")
	}
	if msg := gjson.GetBytes(doc, "error"); msg.Exists() {
		return &HandshakeError{Message: msg.String()}
	}
	return nil
}
