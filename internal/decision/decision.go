// Package decision maps (identity, query text, policy) to a verdict. Decide
// is pure: identical inputs always produce the identical verdict, and it is
// safe to call concurrently from independent sessions.
package decision

import (
	"fmt"
	"time"

	"db-firewall-proxy/internal/metadata"
	"db-firewall-proxy/internal/policy"
	"db-firewall-proxy/internal/sqlparser"
)

type Action int

const (
	Allow Action = iota
	Block
	Terminate
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "ALLOW"
	case Block:
		return "BLOCK"
	case Terminate:
		return "TERMINATE"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

type Verdict struct {
	Action Action
	Reason string
}

// Terminated builds the pump-level verdict for conditions outside this
// package's authority (identity extraction failure, unreachable backend).
func Terminated(reason string) Verdict {
	return Verdict{Action: Terminate, Reason: reason}
}

// Decide evaluates a query message against the policy snapshot. Steps run in
// a fixed order and the first match wins:
//
//  1. the identity must exist in the policy, with a matching address and a
//     permitted time window;
//  2. the operation inferred from the query's first keyword must be in the
//     identity's allowed set;
//  3. the query text must match none of the injection signatures.
func Decide(meta metadata.Metadata, query string, now time.Time, pol *policy.Policy) Verdict {
	identity := pol.Identity(meta.Username)
	if identity == nil || !identity.AllowsAddr(meta.RemoteAddr) || !identity.AllowsHour(now.Hour()) {
		return Verdict{Action: Block, Reason: "policy: identity not authorized"}
	}
	if op := sqlparser.Operation(query); !identity.AllowsOperation(op) {
		return Verdict{Action: Block, Reason: "policy: operation not permitted"}
	}
	for _, sig := range pol.Signatures {
		if sig.Matches(query) {
			return Verdict{Action: Block, Reason: fmt.Sprintf("signature: %s", sig.Label())}
		}
	}
	return Verdict{Action: Allow, Reason: "authorized"}
}
