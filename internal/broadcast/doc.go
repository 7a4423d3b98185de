// Package broadcast delivers tagged frames to all connected speakers.
//
// Frames are handed to each client's bounded queue and written by one
// goroutine per client, which preserves per-client order. A send that exceeds
// the configured timeout counts as slow and the frame is lost; a client that
// is slow too many times in a row, or whose transport fails, is removed from
// the registry.
package broadcast
