package capability

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// KindNetwork scopes outbound network access to a domain.
const KindNetwork = "network"

// knownKinds are the privileged operation kinds the host exposes.
var knownKinds = map[string]bool{
	KindNetwork: true,
}

// Capability is a parsed "<kind>:<scope>" declaration.
type Capability struct {
	Kind  string
	Scope string
}

// String returns the declaration form.
func (c Capability) String() string {
	return c.Kind + ":" + c.Scope
}

// Parse validates and normalises a declared capability string.
func Parse(s string) (Capability, error) {
	kind, scope, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Capability{}, fmt.Errorf("capability %q: expected <kind>:<scope>", s)
	}
	kind = strings.ToLower(kind)
	if !knownKinds[kind] {
		return Capability{}, fmt.Errorf("capability %q: unknown kind %q", s, kind)
	}
	if strings.ContainsAny(scope, "*?/ ") {
		return Capability{}, fmt.Errorf("capability %q: scope must be a plain domain", s)
	}
	norm, err := NormalizeHost(scope)
	if err != nil {
		return Capability{}, fmt.Errorf("capability %q: %w", s, err)
	}
	if net.ParseIP(norm) == nil && numericTLD(norm) {
		return Capability{}, fmt.Errorf("capability %q: scope is neither a domain nor an IP address", s)
	}
	return Capability{Kind: kind, Scope: norm}, nil
}

// ParseAll parses a declared set, failing on the first malformed entry.
func ParseAll(declared []string) ([]Capability, error) {
	caps := make([]Capability, 0, len(declared))
	for _, s := range declared {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// NormalizeHost lowercases, strips a port and trailing dot, and converts an
// internationalised name to its ASCII form.
func NormalizeHost(target string) (string, error) {
	host := strings.TrimSpace(target)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", target, err)
	}
	return strings.ToLower(ascii), nil
}

// MatchScope reports whether target is scope itself or a subdomain of it.
// Both arguments must already be normalised. IP addresses have no
// subdomains and only match exactly.
func MatchScope(scope, target string) bool {
	if scope == "" || target == "" {
		return false
	}
	if target == scope {
		return true
	}
	if net.ParseIP(scope) != nil || net.ParseIP(target) != nil || numericTLD(scope) {
		return false
	}
	return strings.HasSuffix(target, "."+scope)
}

// numericTLD reports whether the last label of host is all digits, which no
// domain name has.
func numericTLD(host string) bool {
	label := host[strings.LastIndexByte(host, '.')+1:]
	if label == "" {
		return false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
