package capability

import (
	"fmt"
	"net/http"

	nerrors "github.com/kbukum/nodegraph/errors"
)

// Validator evaluates requested targets against a declared set. It holds no
// state and is safe to share across concurrent calls.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Check reports whether declared permits network access to target.
func (v *Validator) Check(declared []string, target string) bool {
	return v.CheckKind(declared, KindNetwork, target)
}

// CheckKind reports whether declared permits a privileged operation of the
// given kind against target. Malformed declarations never grant anything.
func (v *Validator) CheckKind(declared []string, kind, target string) bool {
	if len(declared) == 0 {
		return false
	}
	norm, err := NormalizeHost(target)
	if err != nil {
		return false
	}
	for _, s := range declared {
		c, err := Parse(s)
		if err != nil || c.Kind != kind {
			continue
		}
		if MatchScope(c.Scope, norm) {
			return true
		}
	}
	return false
}

// Authorize is CheckKind returning a CapabilityDenied ExecutionError.
func (v *Validator) Authorize(declared []string, kind, target string) error {
	if v.CheckKind(declared, kind, target) {
		return nil
	}
	return nerrors.CapabilityDenied(kind, target)
}

// Check is a package-level convenience over a zero Validator.
func Check(declared []string, target string) bool {
	return (&Validator{}).Check(declared, target)
}

// RedirectPolicy returns an http.Client CheckRedirect function that
// re-authorises every redirect hop against declared, so a redirect can never
// leave the declared scope regardless of what the component itself checks.
func (v *Validator) RedirectPolicy(declared []string, maxHops int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return fmt.Errorf("capability: stopped after %d redirects", maxHops)
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return nerrors.CapabilityDenied(KindNetwork, req.URL.String())
		}
		return v.Authorize(declared, KindNetwork, req.URL.Host)
	}
}
