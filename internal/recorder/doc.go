// Package recorder keeps a copy of every played session on disk.
//
// A Recorder registers with the client registry like a connected speaker and
// receives the same tagged frames. Each session id starts a new file named
// <unix-ms>-<session id>.wav holding 16-bit mono PCM at the target rate.
package recorder
