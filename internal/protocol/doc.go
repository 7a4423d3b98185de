// Package protocol defines the binary frames sent to speaker clients.
// Every frame starts with the 4-byte session id of the playback session it
// belongs to, followed by raw PCM in the canonical output format.
package protocol
