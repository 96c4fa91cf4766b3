// Package capability decides whether a component may perform a privileged
// operation. Capabilities are declared as "<kind>:<scope>" strings, for
// example "network:api.example.com".
//
// Matching is deny-by-default. A requested target is permitted when it equals
// a declared scope of the same kind, or is a subdomain of it:
//
//   - "network:example.com" permits "example.com" and "v2.api.example.com"
//   - "network:example.com" denies "evil.com" and "notexample.com"
//   - an empty declared set denies everything
//
// There are no wildcards. Targets and scopes are normalised (case, trailing
// dot, port, IDN to ASCII) before comparison. The Validator is stateless and
// is consulted on every privileged call; approvals are never cached.
package capability
