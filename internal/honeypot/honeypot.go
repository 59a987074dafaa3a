// Package honeypot synthesizes protocol-correct substitute responses for
// blocked queries. A responder never touches the backend socket: everything
// it emits is fabricated from the decoy dataset.
//
// When the query's target table has no decoy entry the responder emits an
// empty success rather than an error: an erroring honeypot would tell an
// attacker what failed detection.
package honeypot

import "db-firewall-proxy/internal/decoy"

// Responder builds complete outbound byte sequences for one protocol
// variant. seq seeds sequence numbering for variants that track it (the
// MySQL responder numbers packets from seq upward; the Postgres responder
// ignores it). An encoding error means the fabricated response cannot be
// trusted; the session must terminate rather than send partial bytes.
type Responder interface {
	// Synthesize fabricates the full response to a blocked query.
	Synthesize(query string, seq byte, ds *decoy.Dataset) ([]byte, error)

	// BackendFailure fabricates the message sequence reporting that the
	// real backend cannot be reached.
	BackendFailure(seq byte, reason string) ([]byte, error)
}
