package auditor

import (
	"sync"

	"db-firewall-proxy/internal/metadata"
)

const defaultCapacity = 1024

// SessionAudit aggregates everything observed for one session.
type SessionAudit struct {
	ID            string            `json:"id"`
	LocalAddress  string            `json:"local_address"`
	RemoteAddress string            `json:"remote_address"`
	Identity      metadata.Metadata `json:"identity"`
	Records       []Record          `json:"records"`
	Violations    []string          `json:"violations,omitempty"`
	IsClosed      bool              `json:"is_closed"`
	Error         string            `json:"error,omitempty"`
}

// MemoryAuditor keeps per-session audits while sessions live and a bounded
// ring of recent query records for the pull API. An optional callback fires
// with the full audit when a session closes.
type MemoryAuditor struct {
	mu     sync.RWMutex
	audits map[string]*SessionAudit

	recent []Record
	next   int
	filled bool

	onSessionClosed func(*SessionAudit)
}

func NewMemoryAuditor(capacity int, onSessionClosed func(*SessionAudit)) *MemoryAuditor {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryAuditor{
		audits:          make(map[string]*SessionAudit),
		recent:          make([]Record, capacity),
		onSessionClosed: onSessionClosed,
	}
}

func (a *MemoryAuditor) OnSessionAccept(sessionID, localAddress, remoteAddress string) {
	a.mu.Lock()
	a.audits[sessionID] = &SessionAudit{
		ID:            sessionID,
		LocalAddress:  localAddress,
		RemoteAddress: remoteAddress,
	}
	a.mu.Unlock()
}

func (a *MemoryAuditor) OnIdentity(sessionID string, meta metadata.Metadata) {
	a.mu.Lock()
	if audit, ok := a.audits[sessionID]; ok {
		audit.Identity = meta
	}
	a.mu.Unlock()
}

func (a *MemoryAuditor) OnQuery(rec Record) {
	a.mu.Lock()
	if audit, ok := a.audits[rec.SessionID]; ok {
		audit.Records = append(audit.Records, rec)
	}
	a.recent[a.next] = rec
	a.next++
	if a.next == len(a.recent) {
		a.next = 0
		a.filled = true
	}
	a.mu.Unlock()
}

func (a *MemoryAuditor) OnProtocolViolation(sessionID string, err error) {
	a.mu.Lock()
	if audit, ok := a.audits[sessionID]; ok {
		audit.Violations = append(audit.Violations, err.Error())
	}
	a.mu.Unlock()
}

func (a *MemoryAuditor) OnSessionClosed(sessionID string, err error) {
	a.mu.Lock()
	audit, ok := a.audits[sessionID]
	if ok {
		audit.IsClosed = true
		if err != nil {
			audit.Error = err.Error()
		}
		delete(a.audits, sessionID)
	}
	a.mu.Unlock()
	if ok && a.onSessionClosed != nil {
		a.onSessionClosed(audit)
	}
}

// Recent returns up to n of the newest query records, newest first.
func (a *MemoryAuditor) Recent(n int) []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	size := a.next
	if a.filled {
		size = len(a.recent)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := a.next - 1 - i
		if idx < 0 {
			idx += len(a.recent)
		}
		out = append(out, a.recent[idx])
	}
	return out
}
