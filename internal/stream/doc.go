// Package stream manages playback sessions.
// A session is created for every stream handed to the sink; its random
// 4-byte id is prefixed to each converted chunk by a Tagger so clients can
// group frames and discard ones from a session they are no longer playing.
package stream
