package auditor

import (
	"time"

	"db-firewall-proxy/internal/metadata"
)

// Record is the append-only audit entry produced for every query message
// that reaches the decision engine.
type Record struct {
	Time        time.Time         `json:"time"`
	SessionID   string            `json:"session_id"`
	Identity    metadata.Metadata `json:"identity"`
	Operation   string            `json:"operation"`
	Query       string            `json:"query"`
	Verdict     string            `json:"verdict"`
	Reason      string            `json:"reason"`
	Substituted bool              `json:"substituted"`
}

// Auditor receives session lifecycle and query events. Implementations own
// persistence and display; the core only produces the records.
type Auditor interface {
	OnSessionAccept(sessionID, localAddress, remoteAddress string)
	OnIdentity(sessionID string, meta metadata.Metadata)
	OnQuery(rec Record)
	OnProtocolViolation(sessionID string, err error)
	OnSessionClosed(sessionID string, err error)
}
