// Package protocol owns the backend capability boundary.
//
// Ownership boundary:
// - uniform client operation set over the ftp and sftp backends
// - directory entry normalization across divergent backend types
// - connection probing and protocol auto-detection
// - transport error classification
//
// protocol does not own sessions or command ordering.
package protocol
