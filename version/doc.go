// Package version reports build information for the nodegraph binary:
// version, commit, build time and the linked sandbox runtime version.
//
//	go build -ldflags "-X github.com/kbukum/nodegraph/version.Version=1.0.0"
package version
