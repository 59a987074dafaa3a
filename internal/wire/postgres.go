package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgio"
)

const (
	// Frontend message tags we care about. Everything else is relayed
	// without further inspection.
	PostgresQuery     = 'Q'
	PostgresTerminate = 'X'

	// Backend tags the session tracks for its state machine.
	PostgresReadyForQuery = 'Z'
	PostgresErrorResponse = 'E'

	// Startup-phase request codes.
	ProtocolVersionNumber = 196608 // 3.0
	SSLRequestCode        = 80877103
	GSSEncRequestCode     = 80877104
	CancelRequestCode     = 80877102
)

const postgresHeaderSize = 5 // type tag + int32 length

// PostgresCodec frames the v3 protocol: an unframed startup packet first
// (int32 length including itself, no tag), then tagged messages of
// tag + int32 length (including the length field, excluding the tag).
type PostgresCodec struct {
	maxFrame uint32

	// startupDone flips once a real StartupMessage has been seen.
	// SSLRequest and GSSEncRequest keep the stream in the startup phase.
	startupDone bool
}

// NewPostgresCodec returns a codec for the client-to-server direction, which
// begins with the unframed startup packet.
func NewPostgresCodec(maxFrame uint32) *PostgresCodec {
	return &PostgresCodec{maxFrame: maxFrame}
}

// NewPostgresServerCodec returns a codec for the server-to-client direction,
// where every message is tagged from the first byte.
func NewPostgresServerCodec(maxFrame uint32) *PostgresCodec {
	return &PostgresCodec{maxFrame: maxFrame, startupDone: true}
}

func (c *PostgresCodec) Decode(data []byte) (*Message, int, error) {
	if !c.startupDone {
		return c.decodeStartup(data)
	}
	if len(data) < postgresHeaderSize {
		return nil, 0, ErrIncompleteFrame
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length < 4 {
		return nil, 0, fmt.Errorf("%w: declared length %d below header size", ErrInvalidFrame, length)
	}
	if length > c.maxFrame {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.maxFrame)
	}
	total := int(length) + 1
	if len(data) < total {
		return nil, 0, ErrIncompleteFrame
	}
	msg := &Message{
		Type:    data[0],
		Raw:     data[:total:total],
		Payload: data[postgresHeaderSize:total:total],
	}
	if msg.Type == PostgresQuery {
		msg.IsQuery = true
		msg.Query = cString(msg.Payload)
	}
	return msg, total, nil
}

func (c *PostgresCodec) decodeStartup(data []byte) (*Message, int, error) {
	if len(data) < 4 {
		return nil, 0, ErrIncompleteFrame
	}
	length := binary.BigEndian.Uint32(data[:4])
	if length < 8 {
		return nil, 0, fmt.Errorf("%w: startup packet length %d", ErrInvalidFrame, length)
	}
	if length > c.maxFrame {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.maxFrame)
	}
	total := int(length)
	if len(data) < total {
		return nil, 0, ErrIncompleteFrame
	}
	msg := &Message{
		Startup:     true,
		StartupCode: binary.BigEndian.Uint32(data[4:8]),
		Raw:         data[:total:total],
		Payload:     data[4:total:total],
	}
	if msg.StartupCode == ProtocolVersionNumber {
		c.startupDone = true
	}
	return msg, total, nil
}

func (c *PostgresCodec) Encode(m *Message) []byte {
	if m.Startup {
		dst := pgio.AppendUint32(nil, uint32(4+len(m.Payload)))
		return append(dst, m.Payload...)
	}
	dst := append([]byte(nil), m.Type)
	dst = pgio.AppendUint32(dst, uint32(4+len(m.Payload)))
	return append(dst, m.Payload...)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
