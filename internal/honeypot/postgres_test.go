package honeypot

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/require"

	"db-firewall-proxy/internal/decoy"
)

func receiveAll(t *testing.T, buf []byte) []pgproto3.BackendMessage {
	t.Helper()
	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(bytes.NewReader(buf)), io.Discard)
	var msgs []pgproto3.BackendMessage
	for {
		msg, err := frontend.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				require.NoError(t, err)
			}
			return msgs
		}
		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			clone := *m
			clone.Fields = append([]pgproto3.FieldDescription(nil), m.Fields...)
			msgs = append(msgs, &clone)
		case *pgproto3.DataRow:
			clone := *m
			clone.Values = make([][]byte, len(m.Values))
			for i, v := range m.Values {
				clone.Values[i] = append([]byte(nil), v...)
			}
			msgs = append(msgs, &clone)
		case *pgproto3.CommandComplete:
			clone := *m
			clone.CommandTag = append([]byte(nil), m.CommandTag...)
			msgs = append(msgs, &clone)
		case *pgproto3.ReadyForQuery:
			clone := *m
			msgs = append(msgs, &clone)
		case *pgproto3.ErrorResponse:
			clone := *m
			msgs = append(msgs, &clone)
		default:
			msgs = append(msgs, msg)
		}
	}
}

func TestPostgresSynthesize(t *testing.T) {
	ds := decoy.Default()

	t.Run("select-known-table", func(t *testing.T) {
		buf, err := PostgresResponder{}.Synthesize("SELECT * FROM users WHERE 1=1 OR 1=1", 0, ds)
		require.NoError(t, err)
		msgs := receiveAll(t, buf)
		require.Len(t, msgs, 8) // description, 5 rows, completion, ready

		desc, ok := msgs[0].(*pgproto3.RowDescription)
		require.True(t, ok)
		require.Len(t, desc.Fields, 5)
		require.Equal(t, "id", string(desc.Fields[0].Name))
		require.EqualValues(t, 23, desc.Fields[0].DataTypeOID)
		require.EqualValues(t, 701, desc.Fields[4].DataTypeOID)

		row, ok := msgs[1].(*pgproto3.DataRow)
		require.True(t, ok)
		require.Equal(t, "1", string(row.Values[0]))
		require.Equal(t, "user_001", string(row.Values[1]))

		complete, ok := msgs[6].(*pgproto3.CommandComplete)
		require.True(t, ok)
		require.Equal(t, "SELECT 5", string(complete.CommandTag))

		ready, ok := msgs[7].(*pgproto3.ReadyForQuery)
		require.True(t, ok)
		require.EqualValues(t, 'I', ready.TxStatus)
	})

	t.Run("select-unknown-table", func(t *testing.T) {
		buf, err := PostgresResponder{}.Synthesize("SELECT * FROM secrets", 0, ds)
		require.NoError(t, err)
		msgs := receiveAll(t, buf)
		require.Len(t, msgs, 2)
		complete, ok := msgs[0].(*pgproto3.CommandComplete)
		require.True(t, ok)
		require.Equal(t, "SELECT 0", string(complete.CommandTag))
		require.IsType(t, &pgproto3.ReadyForQuery{}, msgs[1])
	})

	t.Run("delete-reports-zero-rows", func(t *testing.T) {
		buf, err := PostgresResponder{}.Synthesize("DELETE FROM users", 0, ds)
		require.NoError(t, err)
		msgs := receiveAll(t, buf)
		require.Len(t, msgs, 2)
		complete, ok := msgs[0].(*pgproto3.CommandComplete)
		require.True(t, ok)
		require.Equal(t, "DELETE 0", string(complete.CommandTag))
	})

	t.Run("deterministic", func(t *testing.T) {
		first, err := PostgresResponder{}.Synthesize("SELECT * FROM users", 0, ds)
		require.NoError(t, err)
		second, err := PostgresResponder{}.Synthesize("SELECT * FROM users", 0, ds)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})
}

func TestPostgresBackendFailure(t *testing.T) {
	buf, err := PostgresResponder{}.BackendFailure(0, "backend unreachable")
	require.NoError(t, err)
	msgs := receiveAll(t, buf)
	require.Len(t, msgs, 1)
	errMsg, ok := msgs[0].(*pgproto3.ErrorResponse)
	require.True(t, ok)
	require.Equal(t, "FATAL", errMsg.Severity)
	require.Equal(t, "08006", errMsg.Code)
	require.Equal(t, "backend unreachable", errMsg.Message)
}
