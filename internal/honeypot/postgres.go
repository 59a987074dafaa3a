package honeypot

import (
	"fmt"
	"strings"

	"github.com/jackc/pgproto3/v2"

	"db-firewall-proxy/internal/decoy"
	"db-firewall-proxy/internal/sqlparser"
)

const (
	txStatusIdle = 'I'

	oidInt4   = 23
	oidFloat8 = 701
	oidText   = 25
)

// PostgresResponder fabricates v3-protocol result sets and completions.
type PostgresResponder struct{}

func (PostgresResponder) Synthesize(query string, _ byte, ds *decoy.Dataset) ([]byte, error) {
	op := sqlparser.Operation(query)
	if op == "SELECT" {
		if name, ok := sqlparser.TargetTable(query); ok {
			if table, ok := ds.Lookup(name); ok {
				return encodeRowSet(table)
			}
		}
	}
	buf, err := (&pgproto3.CommandComplete{CommandTag: []byte(completionTag(op, 0))}).Encode(nil)
	if err != nil {
		return nil, fmt.Errorf("encode command completion: %w", err)
	}
	return (&pgproto3.ReadyForQuery{TxStatus: txStatusIdle}).Encode(buf)
}

func (PostgresResponder) BackendFailure(_ byte, reason string) ([]byte, error) {
	return (&pgproto3.ErrorResponse{
		Severity:            "FATAL",
		SeverityUnlocalized: "FATAL",
		Code:                "08006", // connection_failure
		Message:             reason,
	}).Encode(nil)
}

func encodeRowSet(table *decoy.Table) ([]byte, error) {
	desc := &pgproto3.RowDescription{}
	for _, col := range table.Columns {
		oid, size := uint32(oidText), int16(-1)
		switch col.Type {
		case decoy.TypeInt:
			oid, size = oidInt4, 4
		case decoy.TypeFloat:
			oid, size = oidFloat8, 8
		}
		desc.Fields = append(desc.Fields, pgproto3.FieldDescription{
			Name:         []byte(col.Name),
			DataTypeOID:  oid,
			DataTypeSize: size,
			TypeModifier: -1,
		})
	}
	buf, err := desc.Encode(nil)
	if err != nil {
		return nil, fmt.Errorf("encode row description: %w", err)
	}
	for _, row := range table.Rows {
		dr := &pgproto3.DataRow{Values: make([][]byte, len(row))}
		for i, v := range row {
			dr.Values[i] = []byte(v)
		}
		if buf, err = dr.Encode(buf); err != nil {
			return nil, fmt.Errorf("encode data row: %w", err)
		}
	}
	buf, err = (&pgproto3.CommandComplete{CommandTag: []byte(completionTag("SELECT", len(table.Rows)))}).Encode(buf)
	if err != nil {
		return nil, fmt.Errorf("encode command completion: %w", err)
	}
	return (&pgproto3.ReadyForQuery{TxStatus: txStatusIdle}).Encode(buf)
}

func completionTag(op string, rows int) string {
	switch op {
	case "SELECT":
		return fmt.Sprintf("SELECT %d", rows)
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", rows)
	case "UPDATE", "DELETE":
		return fmt.Sprintf("%s %d", op, rows)
	case "":
		return "SELECT 0"
	default:
		return strings.ToUpper(op)
	}
}
