// Package policy holds the externally supplied access policy: per-identity
// allowed operations, time windows and address allow-lists, plus the ordered
// injection signature set. The core never mutates a Policy after Compile.
package policy

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Interval is an inclusive hour-of-day range.
type Interval struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

func (i Interval) init() error {
	if i.From > i.To {
		return fmt.Errorf("from %d greater than to %d", i.From, i.To)
	}
	if i.From < 0 || i.To > 23 {
		return fmt.Errorf("hour interval [%d, %d] out of range", i.From, i.To)
	}
	return nil
}

func (i Interval) matches(hour int) bool {
	return i.From <= hour && hour <= i.To
}

// Identity is the policy for one application identity, keyed by the username
// presented during the handshake. Empty Subnets or Hours mean unrestricted.
type Identity struct {
	Operations []string   `yaml:"operations"`
	Subnets    []string   `yaml:"subnets"`
	Hours      []Interval `yaml:"hours"`

	operations map[string]struct{}
	subnets    []*net.IPNet
}

func (id *Identity) init() error {
	id.operations = make(map[string]struct{}, len(id.Operations))
	for _, op := range id.Operations {
		id.operations[strings.ToUpper(op)] = struct{}{}
	}
	id.subnets = make([]*net.IPNet, 0, len(id.Subnets))
	for _, subnet := range id.Subnets {
		if !strings.Contains(subnet, "/") {
			if strings.Contains(subnet, ":") {
				subnet += "/128"
			} else {
				subnet += "/32"
			}
		}
		_, cidr, err := net.ParseCIDR(subnet)
		if err != nil {
			return fmt.Errorf("parse subnet %q: %w", subnet, err)
		}
		id.subnets = append(id.subnets, cidr)
	}
	for _, interval := range id.Hours {
		if err := interval.init(); err != nil {
			return err
		}
	}
	return nil
}

// AllowsAddr reports whether the address (host or host:port) matches the
// identity's allow-list.
func (id *Identity) AllowsAddr(addr string) bool {
	if len(id.subnets) == 0 {
		return true
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, subnet := range id.subnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsHour reports whether the hour of day falls inside a permitted window.
func (id *Identity) AllowsHour(hour int) bool {
	if len(id.Hours) == 0 {
		return true
	}
	for _, interval := range id.Hours {
		if interval.matches(hour) {
			return true
		}
	}
	return false
}

// AllowsOperation reports whether the operation keyword is permitted.
func (id *Identity) AllowsOperation(op string) bool {
	_, ok := id.operations[strings.ToUpper(op)]
	return ok
}

// Signature is one injection-detection pattern. Patterns are regular
// expressions matched against the raw query text.
type Signature struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

func (s *Signature) init() error {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return fmt.Errorf("compile signature %q: %w", s.Name, err)
	}
	s.re = re
	return nil
}

// Matches reports whether the query text matches this signature.
func (s *Signature) Matches(query string) bool {
	return s.re != nil && s.re.MatchString(query)
}

// Label names the signature in verdict reasons.
func (s *Signature) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Pattern
}

type Policy struct {
	Identities map[string]*Identity `yaml:"identities"`
	Signatures []*Signature         `yaml:"signatures"`
}

// Compile validates and prepares the policy for evaluation. It must be
// called once before the policy is shared with sessions.
func (p *Policy) Compile() error {
	for name, identity := range p.Identities {
		if identity == nil {
			return fmt.Errorf("identity %q has no body", name)
		}
		if err := identity.init(); err != nil {
			return fmt.Errorf("identity %q: %w", name, err)
		}
	}
	for _, sig := range p.Signatures {
		if err := sig.init(); err != nil {
			return err
		}
	}
	return nil
}

// Identity returns the policy entry for a username, or nil.
func (p *Policy) Identity(username string) *Identity {
	if p == nil {
		return nil
	}
	return p.Identities[username]
}

// Load reads and compiles a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return &p, nil
}
