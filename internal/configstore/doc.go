// Package configstore loads and persists contain-agent defaults in an
// XDG-compliant location. Values resolve using project scope before global
// scope; command-line flags override both.
package configstore
