// Package session owns connection lifecycle and command ordering.
//
// Ownership boundary:
// - session registry: create, lookup, idle sweep, shutdown drain
// - per-session operation queue: one in-flight backend command at a time
// - retry controller: bounded linear backoff for transient faults
//
// session does not own protocol semantics or the HTTP surface.
package session
