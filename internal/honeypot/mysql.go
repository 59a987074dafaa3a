package honeypot

import (
	"db-firewall-proxy/internal/decoy"
	"db-firewall-proxy/internal/sqlparser"
	"db-firewall-proxy/internal/wire"
)

// Classic text-protocol constants. The responder speaks the pre-
// CLIENT_DEPRECATE_EOF result-set framing, which every client library
// still accepts.
const (
	charsetUTF8General = 33

	fieldTypeLong      = 0x03
	fieldTypeDouble    = 0x05
	fieldTypeVarString = 0xfd

	serverStatusAutocommit = 0x0002

	errBackendUnavailable = 2003 // CR_CONN_HOST_ERROR
)

// MySQLResponder fabricates classic text result sets, OK and ERR packets.
// Packets are numbered from the supplied sequence id upward, continuing the
// command packet's numbering.
type MySQLResponder struct{}

func (MySQLResponder) Synthesize(query string, seq byte, ds *decoy.Dataset) ([]byte, error) {
	if sqlparser.Operation(query) == "SELECT" {
		if name, ok := sqlparser.TargetTable(query); ok {
			if table, ok := ds.Lookup(name); ok {
				return encodeMySQLRowSet(table, seq), nil
			}
		}
	}
	return wire.AppendMySQLPacket(nil, seq, okPayload()), nil
}

func (MySQLResponder) BackendFailure(seq byte, reason string) ([]byte, error) {
	code := uint16(errBackendUnavailable)
	payload := []byte{wire.MySQLErrHeader}
	payload = append(payload, byte(code), byte(code>>8))
	payload = append(payload, '#')
	payload = append(payload, "HY000"...)
	payload = append(payload, reason...)
	return wire.AppendMySQLPacket(nil, seq, payload), nil
}

func okPayload() []byte {
	return []byte{
		wire.MySQLOKHeader,
		0x00, // affected rows
		0x00, // last insert id
		serverStatusAutocommit & 0xff, serverStatusAutocommit >> 8,
		0x00, 0x00, // warnings
	}
}

func eofPayload() []byte {
	return []byte{
		wire.MySQLEOFHeader,
		0x00, 0x00, // warnings
		serverStatusAutocommit & 0xff, serverStatusAutocommit >> 8,
	}
}

func encodeMySQLRowSet(table *decoy.Table, seq byte) []byte {
	buf := wire.AppendMySQLPacket(nil, seq, appendLenencInt(nil, uint64(len(table.Columns))))
	seq++
	for _, col := range table.Columns {
		buf = wire.AppendMySQLPacket(buf, seq, columnDefinition(col))
		seq++
	}
	buf = wire.AppendMySQLPacket(buf, seq, eofPayload())
	seq++
	for _, row := range table.Rows {
		var payload []byte
		for _, v := range row {
			payload = appendLenencString(payload, v)
		}
		buf = wire.AppendMySQLPacket(buf, seq, payload)
		seq++
	}
	return wire.AppendMySQLPacket(buf, seq, eofPayload())
}

func columnDefinition(col decoy.Column) []byte {
	typ := byte(fieldTypeVarString)
	length := uint32(255)
	switch col.Type {
	case decoy.TypeInt:
		typ, length = fieldTypeLong, 11
	case decoy.TypeFloat:
		typ, length = fieldTypeDouble, 22
	}
	payload := appendLenencString(nil, "def") // catalog
	payload = appendLenencString(payload, "") // schema
	payload = appendLenencString(payload, "") // table
	payload = appendLenencString(payload, "") // org_table
	payload = appendLenencString(payload, col.Name)
	payload = appendLenencString(payload, col.Name) // org_name
	payload = append(payload, 0x0c)                 // fixed-length fields marker
	payload = append(payload, charsetUTF8General, 0x00)
	payload = append(payload, byte(length), byte(length>>8), byte(length>>16), byte(length>>24))
	payload = append(payload, typ)
	payload = append(payload, 0x00, 0x00) // flags
	payload = append(payload, 0x00)       // decimals
	return append(payload, 0x00, 0x00)    // filler
}

func appendLenencInt(dst []byte, v uint64) []byte {
	switch {
	case v < 251:
		return append(dst, byte(v))
	case v < 1<<16:
		return append(dst, 0xfc, byte(v), byte(v>>8))
	case v < 1<<24:
		return append(dst, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	default:
		return append(dst, 0xfe,
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

func appendLenencString(dst []byte, s string) []byte {
	dst = appendLenencInt(dst, uint64(len(s)))
	return append(dst, s...)
}
