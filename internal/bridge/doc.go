// Package bridge owns transfer orchestration and the HTTP surface.
//
// Ownership boundary:
// - connect/list/download/upload/delete/disconnect flows over the
//   session registry and protocol clients
// - HTTP Range semantics and recursive listing traversal
// - request/response shapes and error-to-status mapping
package bridge
