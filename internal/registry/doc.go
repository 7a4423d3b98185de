// Package registry keeps the set of connected speaker clients.
//
// Mutations copy the client list and publish it atomically, so a dispatch
// round iterates a stable snapshot without holding any lock while it hands
// frames to clients. Each client owns a bounded outbound queue that drops its
// oldest frames when the client falls behind.
package registry
