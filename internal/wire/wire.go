// Package wire frames the two supported database wire protocols. Decoders are
// resumable: feed them whatever the socket produced, and they either return a
// complete message plus the number of bytes it occupied, or ErrIncompleteFrame
// without consuming anything.
package wire

import "errors"

type Variant string

const (
	VariantPostgres Variant = "postgres"
	VariantMySQL    Variant = "mysql"
)

var (
	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrInvalidFrame    = errors.New("invalid frame")
)

// Message is one decoded protocol frame. Raw always holds the complete wire
// bytes, so a message that is only relayed can be written out verbatim.
type Message struct {
	// Type is the postgres type tag, or the mysql command byte (first
	// payload byte). Zero for postgres startup-phase packets.
	Type byte

	// Seq is the mysql sequence id. Unused for postgres.
	Seq byte

	// Startup marks a postgres startup-phase packet (no type tag on the
	// wire). StartupCode is the 32-bit request code from its payload.
	Startup     bool
	StartupCode uint32

	Raw     []byte
	Payload []byte

	// IsQuery is a purely syntactic classification (postgres 'Q', mysql
	// COM_QUERY). The session decides whether it applies given its state.
	IsQuery bool
	Query   string
}

// Codec decodes a byte stream into Messages and encodes fabricated Messages
// back into wire bytes. Decode returns the consumed byte count; on
// ErrIncompleteFrame nothing is consumed and the caller should read more.
type Codec interface {
	Decode(data []byte) (*Message, int, error)
	Encode(m *Message) []byte
}
