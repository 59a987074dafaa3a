package metadata

// Metadata is the caller identity a session harvests opportunistically from
// the protocol handshake plus the client's network address. Username and
// Database stay empty when the handshake did not carry them.
type Metadata struct {
	SessionID       string `json:"session_id"`
	RemoteAddr      string `json:"remote_addr"`
	Username        string `json:"username"`
	Database        string `json:"database"`
	ApplicationName string `json:"application_name,omitempty"`
}
