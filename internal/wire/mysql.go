package wire

import "fmt"

// MySQL command bytes (first payload byte of a command packet).
const (
	ComQuit  = 0x01
	ComQuery = 0x03
	ComPing  = 0x0e
)

// First payload bytes of server packets the session state machine tracks.
const (
	MySQLOKHeader  = 0x00
	MySQLErrHeader = 0xff
	MySQLEOFHeader = 0xfe
)

const mysqlHeaderSize = 4 // 3-byte little-endian length + sequence id

// MySQLCodec frames packets in both directions; the header layout is
// identical for client and server.
type MySQLCodec struct {
	maxFrame uint32
}

func NewMySQLCodec(maxFrame uint32) *MySQLCodec {
	return &MySQLCodec{maxFrame: maxFrame}
}

func (c *MySQLCodec) Decode(data []byte) (*Message, int, error) {
	if len(data) < mysqlHeaderSize {
		return nil, 0, ErrIncompleteFrame
	}
	length := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	if length > c.maxFrame {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.maxFrame)
	}
	total := mysqlHeaderSize + int(length)
	if len(data) < total {
		return nil, 0, ErrIncompleteFrame
	}
	msg := &Message{
		Seq:     data[3],
		Raw:     data[:total:total],
		Payload: data[mysqlHeaderSize:total:total],
	}
	if len(msg.Payload) > 0 {
		msg.Type = msg.Payload[0]
	}
	if msg.Type == ComQuery && len(msg.Payload) > 1 {
		msg.IsQuery = true
		msg.Query = string(msg.Payload[1:])
	}
	return msg, total, nil
}

func (c *MySQLCodec) Encode(m *Message) []byte {
	return AppendMySQLPacket(nil, m.Seq, m.Payload)
}

// AppendMySQLPacket frames payload with the 3-byte length and sequence id and
// appends it to dst.
func AppendMySQLPacket(dst []byte, seq byte, payload []byte) []byte {
	length := len(payload)
	dst = append(dst, byte(length), byte(length>>8), byte(length>>16), seq)
	return append(dst, payload...)
}
