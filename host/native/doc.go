// Package native runs components implemented in Go inside the host
// process. Native components follow the same contract as sandboxed ones:
// the host validates their inputs and outputs, contains their panics,
// enforces the call timeout and mediates their privileged operations.
//
// Native components are trusted code; the runtime exists for built-ins
// and tests, not for third-party modules.
package native
