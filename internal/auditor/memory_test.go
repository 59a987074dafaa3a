package auditor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"db-firewall-proxy/internal/metadata"
)

func record(session, query string) Record {
	return Record{
		Time:      time.Now(),
		SessionID: session,
		Query:     query,
		Verdict:   "ALLOW",
		Reason:    "authorized",
	}
}

func TestSessionLifecycle(t *testing.T) {
	var closed *SessionAudit
	a := NewMemoryAuditor(8, func(audit *SessionAudit) { closed = audit })

	a.OnSessionAccept("s1", "127.0.0.1:5432", "10.0.0.1:40000")
	a.OnIdentity("s1", metadata.Metadata{SessionID: "s1", Username: "app"})
	a.OnQuery(record("s1", "SELECT 1"))
	a.OnQuery(record("s1", "SELECT 2"))
	a.OnProtocolViolation("s1", errors.New("invalid frame"))
	a.OnSessionClosed("s1", errors.New("idle timeout"))

	require.NotNil(t, closed)
	require.Equal(t, "s1", closed.ID)
	require.Equal(t, "app", closed.Identity.Username)
	require.Len(t, closed.Records, 2)
	require.Equal(t, []string{"invalid frame"}, closed.Violations)
	require.True(t, closed.IsClosed)
	require.Equal(t, "idle timeout", closed.Error)

	// A second close for the same id is a no-op.
	closed = nil
	a.OnSessionClosed("s1", nil)
	require.Nil(t, closed)
}

func TestEventsForUnknownSession(t *testing.T) {
	a := NewMemoryAuditor(8, nil)
	a.OnIdentity("ghost", metadata.Metadata{Username: "x"})
	a.OnQuery(record("ghost", "SELECT 1"))
	a.OnProtocolViolation("ghost", errors.New("x"))
	a.OnSessionClosed("ghost", nil)

	// The ring still keeps the record even without a live session.
	require.Len(t, a.Recent(0), 1)
}

func TestRecent(t *testing.T) {
	a := NewMemoryAuditor(4, nil)
	a.OnSessionAccept("s1", "l", "r")

	require.Empty(t, a.Recent(10))

	for i := 1; i <= 6; i++ {
		a.OnQuery(record("s1", fmt.Sprintf("SELECT %d", i)))
	}

	// Capacity 4 keeps only the newest four, newest first.
	got := a.Recent(10)
	require.Len(t, got, 4)
	require.Equal(t, "SELECT 6", got[0].Query)
	require.Equal(t, "SELECT 5", got[1].Query)
	require.Equal(t, "SELECT 4", got[2].Query)
	require.Equal(t, "SELECT 3", got[3].Query)

	got = a.Recent(2)
	require.Len(t, got, 2)
	require.Equal(t, "SELECT 6", got[0].Query)
}
